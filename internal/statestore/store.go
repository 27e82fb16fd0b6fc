// Package statestore persists which plugins and modules are enabled.
//
// The persisted form is a flat map from plugin key or complete module key
// to an enabled flag. It is always loaded and saved wholesale. Only keys
// whose state differs from the descriptor default are stored.
package statestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// Drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverMySQL  = "mysql"
)

var (
	// ErrUnknownDriver is returned by Open for an unsupported driver.
	ErrUnknownDriver = errors.New("unknown state store driver")

	// ErrMissingSetting is returned by Open when the driver's location
	// setting is empty.
	ErrMissingSetting = errors.New("state store setting is required")
)

// Store loads and saves the enablement map.
type Store interface {
	Load(ctx context.Context) (map[string]bool, error)
	Save(ctx context.Context, state map[string]bool) error
	Close() error
}

// Options selects and configures a Store.
type Options struct {
	Driver string

	// Path of the properties file (file driver).
	Path string

	// URL of the Redis server and the hash key (redis driver).
	RedisURL string
	RedisKey string

	// DSN of the MySQL database and the table name (mysql driver).
	DSN   string
	Table string
}

// Open creates the store selected by o.Driver.
func Open(ctx context.Context, o Options, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch o.Driver {
	case "", DriverMemory:
		return NewMemoryStore(nil), nil
	case DriverFile:
		if o.Path == "" {
			return nil, fmt.Errorf("file store path: %w", ErrMissingSetting)
		}
		return NewFileStore(o.Path), nil
	case DriverRedis:
		if o.RedisURL == "" {
			return nil, fmt.Errorf("redis url: %w", ErrMissingSetting)
		}
		s, err := OpenRedis(ctx, o.RedisURL, o.RedisKey)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverMySQL:
		if o.DSN == "" {
			return nil, fmt.Errorf("mysql dsn: %w", ErrMissingSetting)
		}
		s, err := OpenMySQL(ctx, o.DSN, o.Table, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, o.Driver)
	}
}

// MemoryStore keeps the state in memory.
type MemoryStore struct {
	mu    sync.Mutex
	state map[string]bool
}

// NewMemoryStore creates a store holding a copy of initial.
func NewMemoryStore(initial map[string]bool) *MemoryStore {
	s := &MemoryStore{state: make(map[string]bool)}
	maps.Copy(s.state, initial)
	return s
}

// Load returns a copy of the stored map.
func (s *MemoryStore) Load(context.Context) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.state), nil
}

// Save replaces the stored map.
func (s *MemoryStore) Save(_ context.Context, state map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = maps.Clone(state)
	if s.state == nil {
		s.state = make(map[string]bool)
	}
	return nil
}

// Close does nothing.
func (s *MemoryStore) Close() error {
	return nil
}
