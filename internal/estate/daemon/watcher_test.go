package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

func setupDirs(t *testing.T) (string, string) {
	t.Helper()
	tmpDir := t.TempDir()
	csvDir := filepath.Join(tmpDir, "csv")
	if err := os.MkdirAll(csvDir, 0755); err != nil {
		t.Fatalf("Failed to create csv dir: %v", err)
	}
	return filepath.Join(tmpDir, "data.json"), csvDir
}

func startWatcher(t *testing.T, jsonPath, csvDir string) *FileWatcher {
	t.Helper()
	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	t.Cleanup(func() { _ = fw.Stop() })
	if err := fw.Start(jsonPath, csvDir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	return fw
}

func waitEvent(t *testing.T, fw *FileWatcher) FileEvent {
	t.Helper()
	select {
	case event := <-fw.Events():
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for file event")
	}
	return FileEvent{}
}

// TestFileWatcher_StartStop verifies that the watcher can start and stop cleanly.
func TestFileWatcher_StartStop(t *testing.T) {
	jsonPath, csvDir := setupDirs(t)

	fw, err := NewFileWatcher()
	if err != nil {
		t.Fatalf("NewFileWatcher() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Newly created watcher should not be running")
	}

	if err := fw.Start(jsonPath, csvDir); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !fw.IsRunning() {
		t.Error("Watcher should be running after Start()")
	}
	if err := fw.Start(jsonPath, csvDir); err == nil {
		t.Error("Second Start() should fail when watcher is already running")
	}

	if err := fw.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if fw.IsRunning() {
		t.Error("Watcher should not be running after Stop()")
	}
}

// TestFileWatcher_CSVFileCreated verifies that a kind's CSV file is recognised.
func TestFileWatcher_CSVFileCreated(t *testing.T) {
	jsonPath, csvDir := setupDirs(t)
	fw := startWatcher(t, jsonPath, csvDir)

	path := filepath.Join(csvDir, "workorders.csv")
	if err := os.WriteFile(path, []byte("id,issue\n"), 0644); err != nil {
		t.Fatalf("Failed to write csv file: %v", err)
	}

	event := waitEvent(t, fw)
	if event.Source != SourceCSV {
		t.Errorf("Expected SourceCSV, got %v", event.Source)
	}
	if event.Kind != schema.KindWorkOrder {
		t.Errorf("Expected %s, got %s", schema.KindWorkOrder, event.Kind)
	}
	if event.Op != OpCreate {
		t.Errorf("Expected OpCreate, got %v", event.Op)
	}
}

// TestFileWatcher_JSONModified verifies that the JSON document is recognised.
func TestFileWatcher_JSONModified(t *testing.T) {
	jsonPath, csvDir := setupDirs(t)
	if err := os.WriteFile(jsonPath, []byte(`{}`), 0644); err != nil {
		t.Fatalf("Failed to write json file: %v", err)
	}
	fw := startWatcher(t, jsonPath, csvDir)

	// Give watcher time to stabilize
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(jsonPath, []byte(`{"properties":[]}`), 0644); err != nil {
		t.Fatalf("Failed to update json file: %v", err)
	}

	event := waitEvent(t, fw)
	if event.Source != SourceJSON {
		t.Errorf("Expected SourceJSON, got %v", event.Source)
	}
	if event.Op != OpModify {
		t.Errorf("Expected OpModify, got %v", event.Op)
	}
}

// TestFileWatcher_IgnoresOtherFiles verifies that temp, lock and unrelated
// files produce no events.
func TestFileWatcher_IgnoresOtherFiles(t *testing.T) {
	jsonPath, csvDir := setupDirs(t)
	fw := startWatcher(t, jsonPath, csvDir)

	for _, name := range []string{"notes.txt", "properties.csv.lock", "properties.csv.123.tmp", "unknown.csv"} {
		if err := os.WriteFile(filepath.Join(csvDir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	if err := os.WriteFile(filepath.Join(filepath.Dir(jsonPath), "other.json"), []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to write other.json: %v", err)
	}

	select {
	case event := <-fw.Events():
		t.Errorf("Unexpected event: %+v", event)
	case <-time.After(300 * time.Millisecond):
	}
}

// TestFileWatcher_SharedDirectory verifies the common layout where the JSON
// document lives beside the CSV files.
func TestFileWatcher_SharedDirectory(t *testing.T) {
	dir := t.TempDir()
	fw := startWatcher(t, filepath.Join(dir, "data.json"), dir)

	if err := os.WriteFile(filepath.Join(dir, "tenants.csv"), []byte("id\n"), 0644); err != nil {
		t.Fatalf("Failed to write csv file: %v", err)
	}
	event := waitEvent(t, fw)
	if event.Kind != schema.KindTenant {
		t.Errorf("Expected %s, got %s", schema.KindTenant, event.Kind)
	}
}
