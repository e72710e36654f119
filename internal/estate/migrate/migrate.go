// Package migrate copies every collection from one store to another, for
// example from the JSON document into the database.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/DavNight89/adminEstate/internal/estate/fsio"
	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
)

// Options contains configuration for the migration
type Options struct {
	Kinds      []schema.Kind // Kinds to copy; every kind when empty
	DryRun     bool          // Count without writing
	BackupPath string        // Source file to copy aside before writing
	Logger     *zap.Logger
	Now        func() time.Time
}

// KindResult reports one collection.
type KindResult struct {
	Kind     schema.Kind `json:"kind" yaml:"kind"`
	Read     int         `json:"read" yaml:"read"`
	Inserted int         `json:"inserted" yaml:"inserted"`
	Updated  int         `json:"updated" yaml:"updated"`
	Linked   int         `json:"linked,omitempty" yaml:"linked,omitempty"`
	Verified bool        `json:"verified" yaml:"verified"`
	Error    string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// Result contains statistics about the migration
type Result struct {
	From          string       `json:"from" yaml:"from"`
	To            string       `json:"to" yaml:"to"`
	DryRun        bool         `json:"dry_run" yaml:"dry_run"`
	Kinds         []KindResult `json:"kinds" yaml:"kinds"`
	BackupCreated string       `json:"backup_created,omitempty" yaml:"backup_created,omitempty"`
}

// Total returns the number of records read across all kinds.
func (r *Result) Total() int {
	return lo.SumBy(r.Kinds, func(k KindResult) int { return k.Read })
}

// Failed returns the kinds that could not be migrated.
func (r *Result) Failed() []KindResult {
	return lo.Filter(r.Kinds, func(k KindResult, _ int) bool { return k.Error != "" })
}

// Migrate upserts every record of the selected kinds from into to. Records
// already in to but absent from from are kept; records sharing an id are
// replaced by the source copy. Tenants without a property_id are linked to
// the source property with the same name.
//
// A missing source collection migrates as empty. A failure on one kind is
// recorded and the remaining kinds still run; the returned error joins all
// failures.
func Migrate(ctx context.Context, from, to store.Adapter, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("migrate")
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = schema.Kinds()
	}

	result := &Result{From: from.Name(), To: to.Name(), DryRun: opts.DryRun, Kinds: []KindResult{}}

	if opts.BackupPath != "" && !opts.DryRun {
		backup, err := backupFile(opts.BackupPath, now())
		if err != nil {
			return nil, err
		}
		result.BackupCreated = backup
		logger.Info("backed up source", zap.String("path", backup))
	}

	propertyIDs := map[string]string{}
	var errs []error
	for _, kind := range kinds {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		kr, err := migrateKind(ctx, from, to, kind, opts.DryRun, propertyIDs)
		if err != nil {
			kr.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			logger.Error("failed to migrate", zap.String("kind", kind.String()), zap.Error(err))
		} else {
			logger.Info("migrated",
				zap.String("kind", kind.String()),
				zap.Int("read", kr.Read),
				zap.Int("inserted", kr.Inserted),
				zap.Int("updated", kr.Updated),
				zap.Bool("dry_run", opts.DryRun))
		}
		result.Kinds = append(result.Kinds, kr)
	}
	return result, errors.Join(errs...)
}

func migrateKind(ctx context.Context, from, to store.Adapter, kind schema.Kind, dryRun bool, propertyIDs map[string]string) (KindResult, error) {
	kr := KindResult{Kind: kind}

	src, err := from.LoadAll(ctx, kind)
	if err != nil && !errors.Is(err, store.ErrStorageUnavailable) {
		return kr, fmt.Errorf("failed to read %s: %w", from.Name(), err)
	}
	kr.Read = len(src)

	switch kind {
	case schema.KindProperty:
		for _, p := range src {
			if name := strings.ToLower(strings.TrimSpace(p.String("name"))); name != "" {
				propertyIDs[name] = p.ID()
			}
		}
	case schema.KindTenant:
		kr.Linked = linkTenants(src, propertyIDs)
	}

	dst, err := to.LoadAll(ctx, kind)
	if err != nil && !errors.Is(err, store.ErrStorageUnavailable) {
		return kr, fmt.Errorf("failed to read %s: %w", to.Name(), err)
	}

	merged, inserted, updated := upsert(dst, src)
	kr.Inserted, kr.Updated = inserted, updated
	if dryRun || len(src) == 0 {
		kr.Verified = true
		return kr, nil
	}

	if err := to.SaveAll(ctx, kind, merged); err != nil {
		return kr, fmt.Errorf("failed to write %s: %w", to.Name(), err)
	}

	written, err := to.LoadAll(ctx, kind)
	if err != nil {
		return kr, fmt.Errorf("failed to verify %s: %w", to.Name(), err)
	}
	have := lo.SliceToMap(written, func(r schema.Record) (string, bool) { return r.ID(), true })
	missing := lo.Filter(src, func(r schema.Record, _ int) bool { return !have[r.ID()] })
	if len(missing) > 0 {
		return kr, fmt.Errorf("%d records missing after write (first %s)", len(missing), missing[0].ID())
	}
	kr.Verified = true
	return kr, nil
}

// upsert overlays src onto dst by id, keeping dst order and appending new ids
// in src order.
func upsert(dst, src []schema.Record) ([]schema.Record, int, int) {
	index := make(map[string]int, len(dst))
	out := make([]schema.Record, len(dst), len(dst)+len(src))
	for i, r := range dst {
		out[i] = r
		index[r.ID()] = i
	}
	inserted, updated := 0, 0
	for _, r := range src {
		if i, ok := index[r.ID()]; ok {
			out[i] = r
			updated++
			continue
		}
		index[r.ID()] = len(out)
		out = append(out, r)
		inserted++
	}
	return out, inserted, updated
}

func linkTenants(tenants []schema.Record, propertyIDs map[string]string) int {
	linked := 0
	for _, t := range tenants {
		if t.String("property_id") != "" {
			continue
		}
		id, ok := propertyIDs[strings.ToLower(strings.TrimSpace(t.String("property_name")))]
		if !ok {
			continue
		}
		t["property_id"] = id
		linked++
	}
	return linked
}

func backupFile(path string, at time.Time) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read input for backup: %w", err)
	}
	backup := path + ".backup." + at.Format("20060102-150405")
	if err := fsio.WriteAtomic(backup, data); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	return backup, nil
}
