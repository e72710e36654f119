package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	stdsync "sync"

	"github.com/fsnotify/fsnotify"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

// EventOp represents the type of file system operation.
type EventOp int

const (
	// OpCreate indicates a new file was created.
	OpCreate EventOp = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file was deleted or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op EventOp) String() string {
	switch op {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Source tells which store a file belongs to.
type Source int

const (
	// SourceJSON is the JSON document.
	SourceJSON Source = iota
	// SourceCSV is one of the per-kind CSV files.
	SourceCSV
)

func (s Source) String() string {
	switch s {
	case SourceJSON:
		return "json"
	case SourceCSV:
		return "csv"
	default:
		return "unknown"
	}
}

// FileEvent is a change to a file the daemon syncs.
type FileEvent struct {
	// Path is the absolute path of the file that changed.
	Path   string
	Source Source
	// Kind is set for CSV files; a JSON change may touch every kind.
	Kind schema.Kind
	Op   EventOp
}

// FileWatcher watches the JSON document and the CSV directory.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	events  chan FileEvent
	errors  chan error
	done    chan struct{}
	wg      stdsync.WaitGroup
	mu      stdsync.Mutex
	running bool

	jsonPath string
	csvDir   string
	csvFiles map[string]schema.Kind
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit events.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	csvFiles := make(map[string]schema.Kind)
	for _, s := range schema.All() {
		csvFiles[s.File] = s.Kind
	}

	return &FileWatcher{
		watcher:  watcher,
		events:   make(chan FileEvent, 100),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		csvFiles: csvFiles,
	}, nil
}

// Start begins watching. The JSON document is watched through its parent
// directory so atomic replacements are seen.
func (fw *FileWatcher) Start(jsonPath, csvDir string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}

	absJSON, err := filepath.Abs(jsonPath)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", jsonPath, err)
	}
	absCSV, err := filepath.Abs(csvDir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", csvDir, err)
	}
	fw.jsonPath, fw.csvDir = absJSON, absCSV

	jsonDir := filepath.Dir(absJSON)
	if err := fw.watcher.Add(jsonDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", jsonDir, err)
	}
	if absCSV != jsonDir {
		if err := fw.watcher.Add(absCSV); err != nil {
			_ = fw.watcher.Remove(jsonDir)
			return fmt.Errorf("failed to watch %s: %w", absCSV, err)
		}
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if !fw.running {
		fw.mu.Unlock()
		return fw.watcher.Close()
	}
	fw.running = false
	fw.mu.Unlock()

	close(fw.done)

	// closing the watcher unblocks the event loop
	if err := fw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fw.wg.Wait()

	close(fw.events)
	close(fw.errors)

	return nil
}

// Events returns the channel that emits FileEvent notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Events() <-chan FileEvent {
	return fw.events
}

// Errors returns the channel that emits error notifications.
// This channel is closed when the watcher is stopped.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if fileEvent, ok := fw.convertEvent(event); ok {
				select {
				case fw.events <- fileEvent:
				case <-fw.done:
					return
				}
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// convertEvent maps an fsnotify event to a FileEvent, dropping temp files,
// lock files and anything that is not a synced file.
func (fw *FileWatcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	var op EventOp
	switch {
	case event.Has(fsnotify.Create):
		op = OpCreate
	case event.Has(fsnotify.Write):
		op = OpModify
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		op = OpDelete
	default:
		return FileEvent{}, false
	}

	path, err := filepath.Abs(event.Name)
	if err != nil {
		return FileEvent{}, false
	}
	base := filepath.Base(path)
	if strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".lock") {
		return FileEvent{}, false
	}

	if path == fw.jsonPath {
		return FileEvent{Path: path, Source: SourceJSON, Op: op}, true
	}
	if filepath.Dir(path) == fw.csvDir {
		if kind, ok := fw.csvFiles[base]; ok {
			return FileEvent{Path: path, Source: SourceCSV, Kind: kind, Op: op}, true
		}
	}
	return FileEvent{}, false
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}
