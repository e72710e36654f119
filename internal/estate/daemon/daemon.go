package daemon

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// Debounce is how long a file must stay quiet before it is synced.
	// Rapid saves from an editor or spreadsheet collapse into one run.
	Debounce time.Duration

	// Authoritative is passed to every reconcile request.
	Authoritative sync.Side

	// InitialSync runs a bidirectional merge of every kind on start.
	InitialSync bool

	Logger *zap.Logger

	// OnSync, when set, is called after every triggered reconcile.
	OnSync func(res *sync.Result, err error)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce:    2 * time.Second,
		InitialSync: true,
		Logger:      zap.NewNop(),
	}
}

type fingerprintKey struct {
	source Source
	kind   schema.Kind
}

// Daemon keeps the JSON document and the CSV directory in step. The
// reconciler's A side must be the JSON store and its B side the CSV store.
type Daemon struct {
	reconciler *sync.Reconciler
	jsonPath   string
	csvDir     string
	config     *Config
	logger     *zap.Logger

	// changeQueue and fingerprints are owned by the Run goroutine.
	changeQueue  map[string]time.Time
	fingerprints map[fingerprintKey]string
}

// New creates a Daemon over the files the reconciler's stores use.
func New(r *sync.Reconciler, jsonPath, csvDir string, config *Config) (*Daemon, error) {
	if r == nil {
		return nil, fmt.Errorf("reconciler cannot be nil")
	}
	if jsonPath == "" {
		return nil, fmt.Errorf("jsonPath cannot be empty")
	}
	if csvDir == "" {
		return nil, fmt.Errorf("csvDir cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Daemon{
		reconciler:   r,
		jsonPath:     jsonPath,
		csvDir:       csvDir,
		config:       config,
		logger:       logger.Named("daemon"),
		changeQueue:  make(map[string]time.Time),
		fingerprints: make(map[fingerprintKey]string),
	}, nil
}

// Run performs the initial sync, then watches both stores until ctx is
// cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(d.jsonPath), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(d.csvDir, 0755); err != nil {
		return fmt.Errorf("failed to create csv directory: %w", err)
	}

	if d.config.InitialSync {
		d.logger.Info("performing initial sync")
		if _, err := d.reconciler.ReconcileAll(ctx, sync.Request{
			Direction:     sync.Bidirectional,
			Authoritative: d.config.Authoritative,
		}); err != nil {
			return fmt.Errorf("initial sync failed: %w", err)
		}
	}
	for _, kind := range schema.Kinds() {
		d.refresh(kind)
	}

	fw, err := NewFileWatcher()
	if err != nil {
		return err
	}
	if err := fw.Start(d.jsonPath, d.csvDir); err != nil {
		_ = fw.Stop()
		return err
	}
	defer fw.Stop()
	d.logger.Info("watching", zap.String("json", d.jsonPath), zap.String("csv", d.csvDir), zap.Duration("debounce", d.config.Debounce))

	ticker := time.NewTicker(max(d.config.Debounce/4, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("stopping")
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}
			d.logger.Debug("file event", zap.Stringer("op", ev.Op), zap.String("path", ev.Path))
			d.changeQueue[ev.Path] = time.Now()

		case err, ok := <-fw.Errors():
			if !ok {
				return nil
			}
			d.logger.Warn("watcher error", zap.Error(err))

		case <-ticker.C:
			d.processPendingChanges(ctx)
		}
	}
}

// processPendingChanges runs once some file has been quiet for the debounce
// interval. Every kind is then compared by content on both sides, so writes
// to the two stores that land close together merge in one run.
func (d *Daemon) processPendingChanges(ctx context.Context) {
	now := time.Now()
	ready := false
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.Debounce {
			continue
		}
		delete(d.changeQueue, path)
		ready = true
	}
	if !ready {
		return
	}

	collections, jsonOK := d.jsonCollections()
	for _, kind := range schema.Kinds() {
		fromJSON := jsonOK && collections[kind] != d.fingerprints[fingerprintKey{SourceJSON, kind}]
		fromCSV := d.csvFingerprint(kind) != d.fingerprints[fingerprintKey{SourceCSV, kind}]

		var dir sync.Direction
		switch {
		case fromJSON && fromCSV:
			dir = sync.Bidirectional
		case fromJSON:
			dir = sync.AToB
		case fromCSV:
			dir = sync.BToA
		default:
			continue
		}

		d.logger.Info("change detected", zap.String("kind", kind.String()), zap.Stringer("direction", dir))
		res, err := d.reconciler.Reconcile(ctx, sync.Request{
			Kind:          kind,
			Direction:     dir,
			Authoritative: d.config.Authoritative,
		})
		if err != nil {
			d.logger.Error("sync failed", zap.String("kind", kind.String()), zap.Stringer("direction", dir), zap.Error(err))
		}
		d.refresh(kind)
		if d.config.OnSync != nil {
			d.config.OnSync(res, err)
		}
	}
}

// refresh records the current content of both files for kind, so the
// daemon's own writes are not seen as new changes.
func (d *Daemon) refresh(kind schema.Kind) {
	if collections, ok := d.jsonCollections(); ok {
		d.fingerprints[fingerprintKey{SourceJSON, kind}] = collections[kind]
	}
	d.fingerprints[fingerprintKey{SourceCSV, kind}] = d.csvFingerprint(kind)
}

// jsonCollections hashes each collection of the JSON document in compact
// form; absent collections are missing from the map. ok is false when the
// document exists but cannot be read or parsed, such as mid-edit.
func (d *Daemon) jsonCollections() (map[schema.Kind]string, bool) {
	out := make(map[schema.Kind]string)
	data, err := os.ReadFile(d.jsonPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, true
		}
		d.logger.Warn("failed to read json document", zap.Error(err))
		return nil, false
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		d.logger.Warn("json document not parseable, waiting for the next save", zap.Error(err))
		return nil, false
	}
	for _, kind := range schema.Kinds() {
		raw, ok := doc[kind.String()]
		if !ok {
			continue
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			continue
		}
		out[kind] = digest(buf.Bytes())
	}
	return out, true
}

func (d *Daemon) csvFingerprint(kind schema.Kind) string {
	data, err := os.ReadFile(filepath.Join(d.csvDir, schema.MustLookup(kind).File))
	if err != nil {
		return ""
	}
	return digest(data)
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
