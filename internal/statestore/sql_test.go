package statestore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"testing"
)

// tableDriver is a database/sql driver that understands the handful of
// statements SQLStore issues, backed by one in-memory table per DSN.
type tableDriver struct {
	mu     sync.Mutex
	tables map[string]*fakeTable
}

type fakeTable struct {
	mu         sync.Mutex
	created    bool
	rows       map[string]bool
	failInsert string
	commits    int
}

var (
	registerOnce sync.Once
	fakeDriver   = &tableDriver{tables: make(map[string]*fakeTable)}
)

func openFakeDB(t *testing.T) (*sql.DB, *fakeTable) {
	t.Helper()
	registerOnce.Do(func() { sql.Register("statestore-fake", fakeDriver) })

	dsn := t.Name()
	db, err := sql.Open("statestore-fake", dsn)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, fakeDriver.table(dsn)
}

func (d *tableDriver) table(dsn string) *fakeTable {
	d.mu.Lock()
	defer d.mu.Unlock()
	tbl, ok := d.tables[dsn]
	if !ok {
		tbl = &fakeTable{rows: make(map[string]bool)}
		d.tables[dsn] = tbl
	}
	return tbl
}

func (d *tableDriver) Open(dsn string) (driver.Conn, error) {
	return &fakeConn{table: d.table(dsn)}, nil
}

type fakeConn struct {
	table *fakeTable
	tx    map[string]bool
}

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	c.table.mu.Lock()
	c.tx = maps.Clone(c.table.rows)
	c.table.mu.Unlock()
	return c, nil
}

func (c *fakeConn) Commit() error {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()
	c.table.rows = c.tx
	c.table.commits++
	c.tx = nil
	return nil
}

func (c *fakeConn) Rollback() error {
	c.tx = nil
	return nil
}

// rows returns the rows statements operate on: the transaction copy when
// one is open.
func (c *fakeConn) rows() map[string]bool {
	if c.tx != nil {
		return c.tx
	}
	return c.table.rows
}

func (c *fakeConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.table.mu.Lock()
	defer c.table.mu.Unlock()

	switch {
	case strings.HasPrefix(query, "CREATE TABLE IF NOT EXISTS plugin_state"):
		c.table.created = true
	case query == "DELETE FROM plugin_state":
		clear(c.rows())
	case strings.HasPrefix(query, "INSERT INTO plugin_state (plugin_key, enabled)"):
		key, _ := args[0].Value.(string)
		enabled, _ := args[1].Value.(bool)
		if key == c.table.failInsert {
			return nil, fmt.Errorf("insert of %q rejected", key)
		}
		c.rows()[key] = enabled
	default:
		return nil, fmt.Errorf("unexpected statement %q", query)
	}
	return driver.RowsAffected(1), nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	if query != "SELECT plugin_key, enabled FROM plugin_state" {
		return nil, fmt.Errorf("unexpected query %q", query)
	}
	c.table.mu.Lock()
	defer c.table.mu.Unlock()
	keys := slices.Sorted(maps.Keys(c.rows()))
	r := &fakeRows{}
	for _, k := range keys {
		r.data = append(r.data, []driver.Value{k, c.rows()[k]})
	}
	return r, nil
}

type fakeRows struct {
	data [][]driver.Value
	pos  int
}

func (r *fakeRows) Columns() []string { return []string{"plugin_key", "enabled"} }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}

func TestSQLStore(t *testing.T) {
	db, tbl := openFakeDB(t)
	s, err := NewSQLStore(db, "")
	if err != nil {
		t.Fatalf("NewSQLStore() error = %v", err)
	}
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if !tbl.created {
		t.Error("EnsureSchema() did not create the table")
	}

	roundTrip(t, s)
	if tbl.commits != 3 {
		t.Errorf("commits = %d, want one per Save", tbl.commits)
	}
}

func TestSQLStoreSaveRollsBack(t *testing.T) {
	ctx := context.Background()
	db, tbl := openFakeDB(t)
	s, _ := NewSQLStore(db, "")

	if err := s.Save(ctx, map[string]bool{"keep": false}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	tbl.failInsert = "com.acme.b"
	if err := s.Save(ctx, sample); err == nil {
		t.Fatal("Save() should fail when an insert fails")
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	assertState(t, got, map[string]bool{"keep": false})
}

func TestSQLStoreTableName(t *testing.T) {
	db, _ := openFakeDB(t)
	if _, err := NewSQLStore(db, "state; DROP TABLE users"); err == nil {
		t.Error("NewSQLStore() should reject unsafe table names")
	}
	if s, err := NewSQLStore(db, "custom_state"); err != nil || s.table != "custom_state" {
		t.Errorf("NewSQLStore(custom_state) = %v, %v", s, err)
	}
}

func TestOpenMySQLBadDSN(t *testing.T) {
	if _, err := OpenMySQL(context.Background(), "not a dsn", "", nil); err == nil {
		t.Error("OpenMySQL() with a malformed DSN should fail")
	}
}
