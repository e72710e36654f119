// Package store defines the contract every storage medium implements and
// the services built directly on it.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

// Adapter loads and persists whole collections of one medium.
//
// LoadAll returns ErrStorageUnavailable (wrapped) when the medium is missing.
// SaveAll replaces the collection atomically and creates the backing resource
// when absent; it keeps the timestamps of the records it is given. Upsert
// inserts or replaces one record by id and refreshes its updated_at.
type Adapter interface {
	Name() string
	LoadAll(ctx context.Context, kind schema.Kind) ([]schema.Record, error)
	SaveAll(ctx context.Context, kind schema.Kind, records []schema.Record) error
	Upsert(ctx context.Context, kind schema.Kind, record schema.Record) error
	Close() error
}

// BackupWriter is implemented by adapters that can snapshot a collection in
// their native format. The returned path is the file written.
type BackupWriter interface {
	WriteBackup(ctx context.Context, kind schema.Kind, records []schema.Record, dir string, at time.Time) (string, error)
}

// Remover is implemented by adapters that can drop the resource backing a
// collection, after which LoadAll reports it unavailable again.
type Remover interface {
	Remove(ctx context.Context, kind schema.Kind) error
}

// BackupStamp is the layout of the UTC timestamp in backup file names.
const BackupStamp = "20060102_150405"

const maxBackupsPerSecond = 1000

// BackupName returns the file name used for a snapshot of kind taken at t.
func BackupName(kind schema.Kind, at time.Time, ext string) string {
	return fmt.Sprintf("%s_backup_%s.%s", kind, at.UTC().Format(BackupStamp), ext)
}

// ReserveBackup creates an empty file in dir for a snapshot of kind taken at
// t and returns its path. When BackupName is already taken, as by a second
// snapshot within the same second, a counter is appended:
// properties_backup_20240309_140507_1.json.
func ReserveBackup(dir string, kind schema.Kind, at time.Time, ext string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}
	stamp := at.UTC().Format(BackupStamp)
	for n := 0; n < maxBackupsPerSecond; n++ {
		name := BackupName(kind, at, ext)
		if n > 0 {
			name = fmt.Sprintf("%s_backup_%s_%d.%s", kind, stamp, n, ext)
		}
		path := filepath.Join(dir, name)
		// #nosec G304 - path derived from configured backup directory
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create backup file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("failed to create backup file: %w", err)
		}
		return path, nil
	}
	return "", fmt.Errorf("too many backups of %s at %s", kind, stamp)
}

// LoadOrEmpty loads kind from a and falls back to an empty collection when
// the medium is unavailable. The fallback error is returned alongside the
// empty slice so callers can surface it as a warning.
func LoadOrEmpty(ctx context.Context, a Adapter, kind schema.Kind, logger *zap.Logger) ([]schema.Record, error) {
	records, err := a.LoadAll(ctx, kind)
	if err == nil {
		return records, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if logger != nil {
		level := zap.WarnLevel
		if errors.Is(err, ErrStorageUnavailable) {
			level = zap.InfoLevel
		}
		logger.Log(level, "load failed, treating collection as empty",
			zap.String("store", a.Name()),
			zap.String("kind", kind.String()),
			zap.Error(err))
	}
	return []schema.Record{}, err
}

// NormalizeAll normalises raw rows of kind, skipping rows without an id.
// Every issue is logged at debug level; rows that were skipped at warn.
func NormalizeAll(kind schema.Kind, rows []map[string]any, now time.Time, logger *zap.Logger) ([]schema.Record, error) {
	s, ok := schema.Lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}

	records := make([]schema.Record, 0, len(rows))
	for i, row := range rows {
		rec, issues := s.Normalize(row, now)
		if logger != nil {
			for _, is := range issues {
				logger.Debug("schema mismatch", zap.String("kind", kind.String()), zap.Int("row", i), zap.Error(is))
			}
		}
		if rec.ID() == "" {
			if logger != nil {
				logger.Warn("skipping record without id", zap.String("kind", kind.String()), zap.Int("row", i))
			}
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}
