package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DavNight89/adminEstate/internal/estate/docstore"
	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
)

// Cleaner removes duplicates from a store after snapshotting it.
type Cleaner struct {
	backupDir string
	logger    *zap.Logger
	now       func() time.Time
}

// NewCleaner returns a Cleaner writing backups to backupDir.
func NewCleaner(backupDir string, logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{
		backupDir: backupDir,
		logger:    logger.Named("dedup"),
		now:       time.Now,
	}
}

// WithClock overrides the time source used to name backups.
func (c *Cleaner) WithClock(now func() time.Time) *Cleaner {
	c.now = now
	return c
}

// CleanResult describes one CleanStore run.
type CleanResult struct {
	Kind          schema.Kind `json:"kind" yaml:"kind"`
	Store         string      `json:"store" yaml:"store"`
	Strategy      Strategy    `json:"strategy" yaml:"strategy"`
	OriginalCount int         `json:"original_count" yaml:"original_count"`
	CleanedCount  int         `json:"cleaned_count" yaml:"cleaned_count"`
	RemovedCount  int         `json:"removed_count" yaml:"removed_count"`
	BackupPath    string      `json:"backup_path,omitempty" yaml:"backup_path,omitempty"`
}

// CleanStore deduplicates kind in a. When anything is removed, the original
// collection is first written to the backup directory in the adapter's own
// format; the cleaned collection is only saved once the backup exists.
func (c *Cleaner) CleanStore(ctx context.Context, a store.Adapter, kind schema.Kind, keyFields []string, strategy Strategy) (*CleanResult, error) {
	records, err := a.LoadAll(ctx, kind)
	if err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			c.logger.Info("nothing to clean", zap.String("store", a.Name()), zap.String("kind", kind.String()), zap.Error(err))
			return &CleanResult{Kind: kind, Store: a.Name(), Strategy: strategy}, nil
		}
		return nil, fmt.Errorf("failed to load %s from %s: %w", kind, a.Name(), err)
	}

	cleaned, removed, err := Clean(kind, records, keyFields, strategy)
	if err != nil {
		return nil, err
	}
	res := &CleanResult{
		Kind:          kind,
		Store:         a.Name(),
		Strategy:      strategy,
		OriginalCount: len(records),
		CleanedCount:  len(cleaned),
		RemovedCount:  removed,
	}
	if removed == 0 {
		return res, nil
	}

	path, err := c.backup(ctx, a, kind, records)
	if err != nil {
		return nil, fmt.Errorf("failed to back up %s before cleaning: %w", kind, err)
	}
	res.BackupPath = path

	if err := a.SaveAll(ctx, kind, cleaned); err != nil {
		return nil, fmt.Errorf("failed to save cleaned %s (backup at %s): %w", kind, path, err)
	}

	c.logger.Info("removed duplicates",
		zap.String("store", a.Name()),
		zap.String("kind", kind.String()),
		zap.String("strategy", string(strategy)),
		zap.Int("removed", removed),
		zap.String("backup", path))
	return res, nil
}

func (c *Cleaner) backup(ctx context.Context, a store.Adapter, kind schema.Kind, records []schema.Record) (string, error) {
	at := c.now()
	if bw, ok := a.(store.BackupWriter); ok {
		return bw.WriteBackup(ctx, kind, records, c.backupDir, at)
	}
	return docstore.WriteSnapshot(kind, records, c.backupDir, at)
}
