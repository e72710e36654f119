package dedup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/DavNight89/adminEstate/internal/estate/store"
)

// Backup is a snapshot file written before a clean.
type Backup struct {
	Path string    `json:"path" yaml:"path"`
	Kind string    `json:"kind" yaml:"kind"`
	At   time.Time `json:"at" yaml:"at"`
	Size int64     `json:"size" yaml:"size"`

	seq int
}

var backupName = regexp.MustCompile(`^(.+)_backup_(\d{8}_\d{6})(?:_(\d+))?\.([A-Za-z0-9]+)$`)

// Backups lists the snapshots in dir, oldest first. Names carry UTC times; a
// missing directory has no backups.
func Backups(dir string) ([]Backup, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Backup{}, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	backups := []Backup{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := backupName.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		at, err := time.ParseInLocation(store.BackupStamp, m[2], time.UTC)
		if err != nil {
			continue
		}
		seq, _ := strconv.Atoi(m[3])
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Backup{
			Path: filepath.Join(dir, e.Name()),
			Kind: m[1],
			At:   at,
			Size: info.Size(),
			seq:  seq,
		})
	}
	sort.SliceStable(backups, func(i, j int) bool {
		if !backups[i].At.Equal(backups[j].At) {
			return backups[i].At.Before(backups[j].At)
		}
		return backups[i].seq < backups[j].seq
	})
	return backups, nil
}

// Prune deletes the snapshots in dir taken before cutoff and returns them.
func Prune(dir string, cutoff time.Time) ([]Backup, error) {
	backups, err := Backups(dir)
	if err != nil {
		return nil, err
	}
	removed := []Backup{}
	for _, b := range backups {
		if !b.At.Before(cutoff) {
			continue
		}
		if err := os.Remove(b.Path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", b.Path, err)
		}
		removed = append(removed, b)
	}
	return removed, nil
}

// ParseCutoff turns expressions such as "2 weeks ago", "last monday",
// "2024-01-31" or "72h" into an absolute time relative to now.
func ParseCutoff(expr string, now time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, fmt.Errorf("empty cutoff")
	}
	if d, err := time.ParseDuration(expr); err == nil {
		return now.Add(-d), nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, expr, now.Location()); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(expr, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse cutoff %q: %w", expr, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognised cutoff %q", expr)
	}
	return r.Time, nil
}
