// Package db provides the relational store for estate data.
//
// Two dialects share one implementation on database/sql:
//   - sqlite: embedded SQLite (ncruces/go-sqlite3, WASM build, no cgo) with
//     WAL and a busy timeout so readers run during writes
//   - postgres: a server reached through pgx's database/sql driver
//
// Schema: one table per entity kind, columns named after the canonical
// fields. Timestamps are stored as RFC3339 text so both dialects sort them
// the same way.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"

	"github.com/DavNight89/adminEstate/internal/estate/docstore"
	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
)

// Dialect selects SQL syntax differences between drivers.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts the driver names used in configuration.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx", "pg":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

// DB wraps the database connection and implements store.Adapter.
type DB struct {
	conn    *sql.DB
	dialect Dialect
	logger  *zap.Logger
	now     func() time.Time
}

var (
	_ store.Adapter      = (*DB)(nil)
	_ store.BackupWriter = (*DB)(nil)
)

// Open connects to the database and creates the schema if needed.
//
// For sqlite, dsn is a file path; its parent directory is created. For
// postgres, dsn is a connection URL or key=value string.
//
// The caller MUST call Close() when done.
//
// Example:
//
//	d, err := db.Open(ctx, db.SQLite, "data/estate.db", logger)
//	if err != nil {
//	    return err
//	}
//	defer d.Close()
func Open(ctx context.Context, dialect Dialect, dsn string, logger *zap.Logger) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		conn *sql.DB
		err  error
	)
	switch dialect {
	case SQLite:
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		// pragmas in the DSN apply to every pooled connection
		connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)&_pragma=foreign_keys(1)", dsn)
		conn, err = sql.Open("sqlite3", connStr)
	case Postgres:
		conn, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: failed to ping database: %v", store.ErrStorageUnavailable, err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	d := &DB{
		conn:    conn,
		dialect: dialect,
		logger:  logger.Named("db"),
		now:     time.Now,
	}
	if err := d.InitSchema(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) Name() string { return "db" }

// Dialect reports which SQL dialect the connection speaks.
func (d *DB) Dialect() Dialect { return d.dialect }

// RawDB returns the underlying sql.DB connection.
func (d *DB) RawDB() *sql.DB { return d.conn }

// Close closes the connection. SQLite databases are checkpointed first so
// the WAL is folded into the main file.
func (d *DB) Close() error {
	if d.conn == nil {
		return nil
	}
	if d.dialect == SQLite {
		if _, err := d.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			d.logger.Warn("failed to checkpoint WAL", zap.Error(err))
		}
	}
	if err := d.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	d.conn = nil
	return nil
}

func quote(ident string) string { return `"` + ident + `"` }

func (d *DB) placeholder(n int) string {
	if d.dialect == Postgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func columnType(t schema.FieldType) string {
	switch t {
	case schema.TypeInt:
		return "BIGINT NOT NULL DEFAULT 0"
	case schema.TypeFloat:
		return "DOUBLE PRECISION NOT NULL DEFAULT 0"
	case schema.TypeBool:
		return "BOOLEAN NOT NULL DEFAULT FALSE"
	default:
		return "TEXT NOT NULL DEFAULT ''"
	}
}

// CreateTableSQL returns the DDL for one kind.
func CreateTableSQL(s *schema.Schema) string {
	cols := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == schema.FieldID {
			cols = append(cols, quote(f.Name)+" TEXT PRIMARY KEY")
			continue
		}
		cols = append(cols, quote(f.Name)+" "+columnType(f.Type))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n\t%s\n)", quote(s.Table), strings.Join(cols, ",\n\t"))
}

// InitSchema creates one table per kind plus the indexes used for ordered
// loads. It is idempotent.
func (d *DB) InitSchema(ctx context.Context) error {
	for _, s := range schema.All() {
		if _, err := d.conn.ExecContext(ctx, CreateTableSQL(s)); err != nil {
			return fmt.Errorf("failed to create table %s: %w", s.Table, err)
		}
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s, %s)",
			quote("idx_"+s.Table+"_created"), quote(s.Table), quote(schema.FieldCreatedAt), quote(schema.FieldID))
		if _, err := d.conn.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index on %s: %w", s.Table, err)
		}
	}
	return nil
}

func lookup(kind schema.Kind) (*schema.Schema, error) {
	s, ok := schema.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownKind, kind)
	}
	return s, nil
}

func columnList(s *schema.Schema) string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = quote(f.Name)
	}
	return strings.Join(cols, ", ")
}

// LoadAll reads one table ordered by creation time.
func (d *DB) LoadAll(ctx context.Context, kind schema.Kind) ([]schema.Record, error) {
	s, err := lookup(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s, %s",
		columnList(s), quote(s.Table), quote(schema.FieldCreatedAt), quote(schema.FieldID))
	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: failed to query %s: %v", store.ErrStorageUnavailable, s.Table, err)
	}
	defer rows.Close()

	raw, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.Table, err)
	}
	return store.NormalizeAll(kind, raw, d.now(), d.logger)
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) insertSQL(s *schema.Schema, upsert bool) string {
	marks := make([]string, len(s.Fields))
	for i := range s.Fields {
		marks[i] = d.placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(s.Table), columnList(s), strings.Join(marks, ", "))
	if !upsert {
		return query
	}

	sets := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == schema.FieldID || f.Name == schema.FieldCreatedAt {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", quote(f.Name), quote(f.Name)))
	}
	return query + fmt.Sprintf(" ON CONFLICT(%s) DO UPDATE SET %s", quote(schema.FieldID), strings.Join(sets, ", "))
}

// SaveAll replaces a table's contents in a single transaction.
func (d *DB) SaveAll(ctx context.Context, kind schema.Kind, records []schema.Record) error {
	s, err := lookup(kind)
	if err != nil {
		return err
	}

	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", store.ErrStorageUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+quote(s.Table)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", s.Table, err)
	}

	stmt, err := tx.PrepareContext(ctx, d.insertSQL(s, false))
	if err != nil {
		return fmt.Errorf("failed to prepare insert into %s: %w", s.Table, err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, s.Values(r)...); err != nil {
			return fmt.Errorf("failed to insert %s %s: %w", kind, r.ID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	d.logger.Debug("saved collection", zap.String("kind", kind.String()), zap.Int("records", len(records)))
	return nil
}

// Upsert inserts or updates one row by id and refreshes updated_at.
func (d *DB) Upsert(ctx context.Context, kind schema.Kind, record schema.Record) error {
	s, err := lookup(kind)
	if err != nil {
		return err
	}
	rec := record.Clone()
	rec.Touch(d.now())

	if _, err := d.conn.ExecContext(ctx, d.insertSQL(s, true), s.Values(rec)...); err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", kind, rec.ID(), err)
	}
	return nil
}

// Count returns the number of rows stored for kind.
func (d *DB) Count(ctx context.Context, kind schema.Kind) (int, error) {
	s, err := lookup(kind)
	if err != nil {
		return 0, err
	}
	var n int
	if err := d.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(s.Table)).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to count %s: %w", s.Table, err)
	}
	return n, nil
}

// WriteBackup exports records as a JSON snapshot in dir.
func (d *DB) WriteBackup(ctx context.Context, kind schema.Kind, records []schema.Record, dir string, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return docstore.WriteSnapshot(kind, records, dir, at)
}
