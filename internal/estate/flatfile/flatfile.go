// Package flatfile stores each collection as a CSV file with a header row of
// canonical field names.
package flatfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DavNight89/adminEstate/internal/estate/fsio"
	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
)

// Store is the CSV directory adapter.
type Store struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ store.Adapter      = (*Store)(nil)
	_ store.BackupWriter = (*Store)(nil)
	_ store.Remover      = (*Store)(nil)
)

// New returns an adapter over the CSV files in dir.
func New(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:    dir,
		logger: logger.Named("csv"),
		now:    time.Now,
	}
}

func (s *Store) Name() string { return "csv" }

// Dir returns the directory holding the CSV files.
func (s *Store) Dir() string { return s.dir }

func (s *Store) Close() error { return nil }

// Path returns the CSV file for kind.
func (s *Store) Path(kind schema.Kind) (string, error) {
	sch, ok := schema.Lookup(kind)
	if !ok {
		return "", fmt.Errorf("%w: %s", store.ErrUnknownKind, kind)
	}
	return filepath.Join(s.dir, sch.File), nil
}

// LoadAll reads kind's CSV file under a shared lock.
func (s *Store) LoadAll(ctx context.Context, kind schema.Kind) ([]schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.Path(kind)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", store.ErrStorageUnavailable, path)
	}

	lock, err := fsio.Acquire(path, false)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	return s.read(kind, path)
}

func (s *Store) read(kind schema.Kind, path string) ([]schema.Record, error) {
	// #nosec G304 - path derived from configured directory
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", store.ErrStorageUnavailable, path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := readRows(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return store.NormalizeAll(kind, rows, s.now(), s.logger)
}

// readRows maps every data row onto its header. Short rows leave the missing
// columns absent so they take schema defaults.
func readRows(r io.Reader) ([]map[string]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []map[string]any
	for {
		line, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(line) {
				row[name] = line[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// SaveAll rewrites kind's CSV file atomically.
func (s *Store) SaveAll(ctx context.Context, kind schema.Kind, records []schema.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.Path(kind)
	if err != nil {
		return err
	}

	lock, err := fsio.Acquire(path, true)
	if err != nil {
		return err
	}
	defer lock.Release()

	return s.write(kind, path, records)
}

// Upsert replaces the row with the same id or appends one.
func (s *Store) Upsert(ctx context.Context, kind schema.Kind, record schema.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.Path(kind)
	if err != nil {
		return err
	}

	lock, err := fsio.Acquire(path, true)
	if err != nil {
		return err
	}
	defer lock.Release()

	current, err := s.read(kind, path)
	if err != nil && !errors.Is(err, store.ErrStorageUnavailable) {
		return err
	}

	rec := record.Clone()
	rec.Touch(s.now())
	replaced := false
	for i, r := range current {
		if r.ID() == rec.ID() {
			current[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		current = append(current, rec)
	}
	return s.write(kind, path, current)
}

// Remove deletes kind's CSV file.
func (s *Store) Remove(ctx context.Context, kind schema.Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.Path(kind)
	if err != nil {
		return err
	}

	lock, err := fsio.Acquire(path, true)
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

func (s *Store) write(kind schema.Kind, path string, records []schema.Record) error {
	data, err := Encode(kind, records)
	if err != nil {
		return err
	}
	if err := fsio.WriteAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	s.logger.Debug("saved collection", zap.String("kind", kind.String()), zap.Int("records", len(records)))
	return nil
}

// Encode renders records as CSV with a canonical header row.
func Encode(kind schema.Kind, records []schema.Record) ([]byte, error) {
	sch, ok := schema.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownKind, kind)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(sch.FieldNames()); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	for _, r := range records {
		if err := w.Write(sch.Row(r)); err != nil {
			return nil, fmt.Errorf("failed to write row %s: %w", r.ID(), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteBackup snapshots records as a CSV file in dir.
func (s *Store) WriteBackup(ctx context.Context, kind schema.Kind, records []schema.Record, dir string, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := Encode(kind, records)
	if err != nil {
		return "", err
	}
	path, err := store.ReserveBackup(dir, kind, at, "csv")
	if err != nil {
		return "", err
	}
	if err := fsio.WriteAtomic(path, data); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return path, nil
}
