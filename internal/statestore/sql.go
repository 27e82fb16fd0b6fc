package statestore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DefaultTable is the table holding the state when none is configured.
const DefaultTable = "plugin_state"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore keeps the state in a two column table. Saves replace the
// whole table inside a transaction.
type SQLStore struct {
	db    *sql.DB
	table string
	owned bool
}

// NewSQLStore creates a store over db. The table must exist; see
// EnsureSchema.
func NewSQLStore(db *sql.DB, table string) (*SQLStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SQLStore{db: db, table: table}, nil
}

// OpenMySQL connects to the database at dsn, pings it and creates the
// table when missing.
func OpenMySQL(ctx context.Context, dsn, table string, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing mysql DSN: %w", err)
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating mysql connector: %w", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging mysql: %w", err)
	}

	s, err := NewSQLStore(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("plugin state store connected", "driver", DriverMySQL, "addr", cfg.Addr, "table", s.table)
	return s, nil
}

// EnsureSchema creates the table when it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	plugin_key VARCHAR(255) NOT NULL PRIMARY KEY,
	enabled BOOLEAN NOT NULL
)`, s.table)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating %s table: %w", s.table, err)
	}
	return nil
}

// Load reads every row.
func (s *SQLStore) Load(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT plugin_key, enabled FROM %s", s.table))
	if err != nil {
		return nil, fmt.Errorf("loading plugin state: %w", err)
	}
	defer rows.Close()

	state := make(map[string]bool)
	for rows.Next() {
		var key string
		var enabled bool
		if err := rows.Scan(&key, &enabled); err != nil {
			return nil, fmt.Errorf("loading plugin state: %w", err)
		}
		state[key] = enabled
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading plugin state: %w", err)
	}
	return state, nil
}

// Save deletes every row and inserts state in one transaction.
func (s *SQLStore) Save(ctx context.Context, state map[string]bool) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("saving plugin state: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", s.table)); err != nil {
		return fmt.Errorf("clearing plugin state: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (plugin_key, enabled) VALUES (?, ?)", s.table)
	for key, enabled := range state {
		if _, err = tx.ExecContext(ctx, insert, key, enabled); err != nil {
			return fmt.Errorf("saving plugin state %q: %w", key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing plugin state: %w", err)
	}
	return nil
}

// Close closes the database if the store opened it.
func (s *SQLStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
