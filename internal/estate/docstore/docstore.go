// Package docstore stores every collection in one JSON document, keyed by
// collection name, the shape the browser front end persists as data.json.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/DavNight89/adminEstate/internal/estate/fsio"
	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
)

// Store is the JSON document adapter.
type Store struct {
	path   string
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ store.Adapter      = (*Store)(nil)
	_ store.BackupWriter = (*Store)(nil)
	_ store.Remover      = (*Store)(nil)
)

// New returns an adapter over the document at path. The file is created on
// first write.
func New(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		path:   path,
		logger: logger.Named("json"),
		now:    time.Now,
	}
}

func (s *Store) Name() string { return "json" }

// Path returns the document location.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error { return nil }

// document keeps every top-level key raw so keys this adapter does not
// manage survive a rewrite.
type document map[string]json.RawMessage

func (s *Store) readDocument() (document, error) {
	// #nosec G304 - configured document path
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", store.ErrStorageUnavailable, s.path)
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	doc := document{}
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *Store) rows(doc document, kind schema.Kind) ([]map[string]any, error) {
	raw, ok := doc[kind.String()]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s collection: %w", kind, err)
	}
	return rows, nil
}

// LoadAll reads one collection under a shared lock.
func (s *Store) LoadAll(ctx context.Context, kind schema.Kind) ([]schema.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", store.ErrStorageUnavailable, s.path)
	}

	lock, err := fsio.Acquire(s.path, false)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	doc, err := s.readDocument()
	if err != nil {
		return nil, err
	}
	rows, err := s.rows(doc, kind)
	if err != nil {
		return nil, err
	}
	return store.NormalizeAll(kind, rows, s.now(), s.logger)
}

// SaveAll replaces one collection, keeping every other key of the document.
func (s *Store) SaveAll(ctx context.Context, kind schema.Kind, records []schema.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.mutate(kind, false, func(_ []schema.Record) ([]schema.Record, error) {
		return records, nil
	})
}

// Upsert replaces the record with the same id or appends it.
func (s *Store) Upsert(ctx context.Context, kind schema.Kind, record schema.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := record.Clone()
	rec.Touch(s.now())
	return s.mutate(kind, true, func(current []schema.Record) ([]schema.Record, error) {
		for i, r := range current {
			if r.ID() == rec.ID() {
				current[i] = rec
				return current, nil
			}
		}
		return append(current, rec), nil
	})
}

// Remove deletes kind's key from the document, and the document itself once
// no key is left.
func (s *Store) Remove(ctx context.Context, kind schema.Kind) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock, err := fsio.Acquire(s.path, true)
	if err != nil {
		return err
	}
	defer lock.Release()

	doc, err := s.readDocument()
	if err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			return nil
		}
		return err
	}
	delete(doc, kind.String())
	if len(doc) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", s.path, err)
		}
		s.logger.Debug("removed document", zap.String("path", s.path))
		return nil
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := fsio.WriteAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	s.logger.Debug("removed collection", zap.String("kind", kind.String()))
	return nil
}

// mutate runs fn under an exclusive lock and atomically writes the document
// back. The current collection is decoded only when withCurrent is set.
func (s *Store) mutate(kind schema.Kind, withCurrent bool, fn func([]schema.Record) ([]schema.Record, error)) error {
	sch, ok := schema.Lookup(kind)
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrUnknownKind, kind)
	}

	lock, err := fsio.Acquire(s.path, true)
	if err != nil {
		return err
	}
	defer lock.Release()

	doc, err := s.readDocument()
	if err != nil {
		if !errors.Is(err, store.ErrStorageUnavailable) {
			return err
		}
		doc = document{}
	}

	var current []schema.Record
	if withCurrent {
		rows, err := s.rows(doc, kind)
		if err != nil {
			return err
		}
		if current, err = store.NormalizeAll(kind, rows, s.now(), s.logger); err != nil {
			return err
		}
	}
	next, err := fn(current)
	if err != nil {
		return err
	}

	encoded, err := encodeCollection(sch, next)
	if err != nil {
		return err
	}
	doc[kind.String()] = encoded

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if err := fsio.WriteAtomic(s.path, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}

	s.logger.Debug("saved collection", zap.String("kind", kind.String()), zap.Int("records", len(next)))
	return nil
}

func encodeCollection(sch *schema.Schema, records []schema.Record) (json.RawMessage, error) {
	objs := make([]map[string]any, len(records))
	for i, r := range records {
		objs[i] = sch.JSONObject(r)
	}
	data, err := json.Marshal(objs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s collection: %w", sch.Kind, err)
	}
	return data, nil
}

// WriteBackup snapshots records as a standalone document in dir.
func (s *Store) WriteBackup(ctx context.Context, kind schema.Kind, records []schema.Record, dir string, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return WriteSnapshot(kind, records, dir, at)
}

// WriteSnapshot writes {"<kind>": [...]} to dir using JSON field names. The
// relational adapter exports its backups through this as well.
func WriteSnapshot(kind schema.Kind, records []schema.Record, dir string, at time.Time) (string, error) {
	sch, ok := schema.Lookup(kind)
	if !ok {
		return "", fmt.Errorf("%w: %s", store.ErrUnknownKind, kind)
	}
	encoded, err := encodeCollection(sch, records)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(document{kind.String(): encoded}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal backup: %w", err)
	}

	path, err := store.ReserveBackup(dir, kind, at, "json")
	if err != nil {
		return "", err
	}
	if err := fsio.WriteAtomic(path, data); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write backup: %w", err)
	}
	return path, nil
}
