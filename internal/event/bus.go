package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Publisher accepts events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Handler receives events from a Bus.
type Handler func(ctx context.Context, e Event)

// Stats reports bus activity.
type Stats struct {
	Subscriptions int
	Published     uint64
	Delivered     uint64
	Panics        uint64
}

type subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBusLogger sets the logger used for recovered panics.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// Bus delivers events synchronously to matching subscribers.
type Bus struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   []*subscription
	nextID uint64

	// Stats
	published atomic.Uint64
	delivered atomic.Uint64
	panics    atomic.Uint64
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for events whose type matches pattern. The
// returned function removes the subscription; calling it again does
// nothing.
func (b *Bus) Subscribe(pattern string, h Handler) (func(), error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	if !validPattern(pattern) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, pattern: pattern, handler: h}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub.id) })
	}, nil
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			// Copy so snapshots taken by Publish stay intact.
			next := make([]*subscription, 0, len(b.subs)-1)
			next = append(next, b.subs[:i]...)
			b.subs = append(next, b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers e to every matching handler in subscription order.
// Handler panics are recovered and returned joined; delivery continues.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.published.Add(1)

	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if !e.Type.Matches(s.pattern) {
			continue
		}
		if err := b.deliver(ctx, s, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) deliver(ctx context.Context, s *subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.panics.Add(1)
			perr := &PanicError{Pattern: s.pattern, Type: e.Type, Value: r, Stack: string(debug.Stack())}
			b.logger.Error("event handler panicked",
				"pattern", s.pattern,
				"type", e.Type,
				"panic", r,
			)
			err = perr
		}
	}()
	s.handler(ctx, e)
	b.delivered.Add(1)
	return nil
}

// Stats returns bus statistics.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{
		Subscriptions: n,
		Published:     b.published.Load(),
		Delivered:     b.delivered.Load(),
		Panics:        b.panics.Load(),
	}
}

// Multi publishes each event to every publisher in order. All
// publishers are tried; their errors are joined.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(context.Context, Event) error { return nil }
