// Package backend opens storage adapters by name from configuration.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/DavNight89/adminEstate/internal/config"
	"github.com/DavNight89/adminEstate/internal/estate/db"
	"github.com/DavNight89/adminEstate/internal/estate/docstore"
	"github.com/DavNight89/adminEstate/internal/estate/flatfile"
	"github.com/DavNight89/adminEstate/internal/estate/store"
)

// Adapter names accepted on the command line and in sync routes.
const (
	JSON   = "json"
	CSV    = "csv"
	DB     = "db"
	Memory = "mem"
)

// Settings locates every backend.
type Settings struct {
	JSONPath string
	CSVDir   string
	DBDriver string
	DBDSN    string
}

// FromConfig extracts the backend settings.
func FromConfig(cfg *config.Config) Settings {
	return Settings{
		JSONPath: cfg.Data.JSONPath,
		CSVDir:   cfg.Data.CSVDir,
		DBDriver: cfg.DB.Driver,
		DBDSN:    cfg.DB.DSN,
	}
}

// Names lists the adapter names.
func Names() []string { return []string{JSON, CSV, DB, Memory} }

// Canonical maps aliases such as "document", "postgres" or "sqlite" to an
// adapter name.
func Canonical(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json", "document", "doc":
		return JSON, nil
	case "csv", "flatfile", "flat":
		return CSV, nil
	case "db", "sql", "sqlite", "postgres", "postgresql", "database":
		return DB, nil
	case "mem", "memory":
		return Memory, nil
	}
	return "", fmt.Errorf("unknown store %q (want one of %s)", name, strings.Join(Names(), ", "))
}

// Ordered returns two adapter names in the order Names lists them, and
// whether they had to be swapped. Unknown names sort last.
func Ordered(x, y string) (first, second string, swapped bool) {
	if rank(y) < rank(x) {
		return y, x, true
	}
	return x, y, false
}

func rank(name string) int {
	for i, n := range Names() {
		if n == name {
			return i
		}
	}
	return len(Names())
}

// Open creates the adapter called name.
func Open(ctx context.Context, name string, s Settings, logger *zap.Logger) (store.Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	canonical, err := Canonical(name)
	if err != nil {
		return nil, err
	}
	switch canonical {
	case JSON:
		return docstore.New(s.JSONPath, logger), nil
	case CSV:
		return flatfile.New(s.CSVDir, logger), nil
	case DB:
		dialect, err := db.ParseDialect(s.DBDriver)
		if err != nil {
			return nil, err
		}
		d, err := db.Open(ctx, dialect, s.DBDSN, logger)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return store.NewMemory(Memory), nil
	}
}

// Registry opens each adapter at most once and closes them together.
type Registry struct {
	settings Settings
	logger   *zap.Logger

	mu     sync.Mutex
	opened map[string]store.Adapter
}

// NewRegistry returns an empty Registry.
func NewRegistry(s Settings, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{settings: s, logger: logger, opened: make(map[string]store.Adapter)}
}

// Get returns the adapter called name, opening it on first use.
func (r *Registry) Get(ctx context.Context, name string) (store.Adapter, error) {
	canonical, err := Canonical(name)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.opened[canonical]; ok {
		return a, nil
	}
	a, err := Open(ctx, canonical, r.settings, r.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", canonical, err)
	}
	r.opened[canonical] = a
	return a, nil
}

// Pair returns the adapters named by a sync route.
func (r *Registry) Pair(ctx context.Context, from, to string) (store.Adapter, store.Adapter, error) {
	a, err := r.Get(ctx, from)
	if err != nil {
		return nil, nil, err
	}
	b, err := r.Get(ctx, to)
	if err != nil {
		return nil, nil, err
	}
	if a == b {
		return nil, nil, fmt.Errorf("cannot sync %s with itself", a.Name())
	}
	return a, b, nil
}

// Opened lists the names of the adapters opened so far.
func (r *Registry) Opened() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.opened))
	for n := range r.opened {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close closes every opened adapter.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, a := range r.opened {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", name, err))
		}
		delete(r.opened, name)
	}
	return errors.Join(errs...)
}
