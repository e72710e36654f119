package dedup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DavNight89/adminEstate/internal/estate/flatfile"
	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
)

var (
	jan = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	feb = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	mar = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
)

func prop(t *testing.T, id, name, address string, updated time.Time, extra map[string]any) schema.Record {
	t.Helper()
	raw := map[string]any{
		"id":         id,
		"name":       name,
		"address":    address,
		"created_at": jan,
		"updated_at": updated,
	}
	for k, v := range extra {
		raw[k] = v
	}
	rec, issues := schema.MustLookup(schema.KindProperty).Normalize(raw, jan)
	require.Empty(t, issues)
	return rec
}

func ids(records []schema.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID()
	}
	return out
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want Strategy
	}{
		{"", KeepLatest},
		{"latest", KeepLatest},
		{"KEEP_MOST_COMPLETE", KeepMostComplete},
		{"keep_with_data", KeepMostComplete},
		{"first", KeepFirst},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseStrategy("keep_random")
	assert.Error(t, err)
}

func TestAnalyze(t *testing.T) {
	records := []schema.Record{
		prop(t, "1", "Oak Manor", "1 Oak St", jan, nil),
		prop(t, "2", "oak manor ", "1 OAK ST", feb, nil),
		prop(t, "3", "Pine Court", "9 Pine Rd", jan, nil),
		prop(t, "4", "Oak Manor", "1 Oak St", mar, nil),
	}

	report, err := Analyze(schema.KindProperty, records, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "address"}, report.KeyFields)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.DistinctKeys)
	assert.Equal(t, 2, report.DuplicateRecords)
	assert.True(t, report.HasDuplicates())

	require.Len(t, report.Groups, 1)
	g := report.Groups[0]
	assert.Equal(t, "Oak Manor", g.Key["name"])
	assert.Equal(t, []int{0, 1, 3}, []int{g.Members[0].Index, g.Members[1].Index, g.Members[2].Index})
}

func TestAnalyze_CustomKeyAndUnknownKind(t *testing.T) {
	records := []schema.Record{
		prop(t, "1", "A", "1 Oak St", jan, nil),
		prop(t, "2", "B", "1 Oak St", jan, nil),
	}
	report, err := Analyze(schema.KindProperty, records, []string{"address"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.DuplicateRecords)

	report, err = Analyze(schema.KindProperty, records, []string{"id"})
	require.NoError(t, err)
	assert.False(t, report.HasDuplicates())
	assert.Empty(t, report.Groups)

	_, err = Analyze(schema.Kind("boats"), records, nil)
	assert.Error(t, err)
}

func TestClean_Strategies(t *testing.T) {
	records := []schema.Record{
		prop(t, "1", "Oak Manor", "1 Oak St", feb, nil),
		prop(t, "2", "Pine Court", "9 Pine Rd", jan, nil),
		prop(t, "3", "Oak Manor", "1 Oak St", mar, nil),
		prop(t, "4", "Oak Manor", "1 Oak St", jan, map[string]any{"units": 12, "property_type": "apartment"}),
	}

	tests := []struct {
		strategy Strategy
		want     []string
	}{
		{KeepLatest, []string{"2", "3"}},
		{KeepMostComplete, []string{"2", "4"}},
		{KeepFirst, []string{"1", "2"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			got, removed, err := Clean(schema.KindProperty, records, nil, tt.strategy)
			require.NoError(t, err)
			assert.Equal(t, 2, removed)
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestClean_TiesKeepEarlier(t *testing.T) {
	records := []schema.Record{
		prop(t, "1", "Oak Manor", "1 Oak St", feb, nil),
		prop(t, "2", "Oak Manor", "1 Oak St", feb, nil),
	}
	got, removed, err := Clean(schema.KindProperty, records, nil, KeepLatest)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"1"}, ids(got))
}

func TestClean_NoDuplicates(t *testing.T) {
	records := []schema.Record{
		prop(t, "1", "Oak Manor", "1 Oak St", feb, nil),
		prop(t, "2", "Pine Court", "9 Pine Rd", feb, nil),
	}
	got, removed, err := Clean(schema.KindProperty, records, nil, KeepLatest)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, []string{"1", "2"}, ids(got))

	_, _, err = Clean(schema.KindProperty, records, nil, Strategy("nope"))
	assert.Error(t, err)
}

func TestCleanStore_BacksUpAndSaves(t *testing.T) {
	ctx := context.Background()
	dataDir, backupDir := t.TempDir(), t.TempDir()
	fs := flatfile.New(dataDir, zaptest.NewLogger(t))

	var records []schema.Record
	for i := 1; i <= 7; i++ {
		records = append(records, prop(t, fmt.Sprint(i), fmt.Sprintf("Building %d", i), fmt.Sprintf("%d Main St", i), jan, nil))
	}
	for i := 8; i <= 10; i++ {
		records = append(records, prop(t, fmt.Sprint(i), "Harbor View", "42 Dock Rd", jan.AddDate(0, 0, i), nil))
	}
	require.NoError(t, fs.SaveAll(ctx, schema.KindProperty, records))

	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	c := NewCleaner(backupDir, zaptest.NewLogger(t)).WithClock(func() time.Time { return at })

	res, err := c.CleanStore(ctx, fs, schema.KindProperty, nil, KeepLatest)
	require.NoError(t, err)
	assert.Equal(t, 10, res.OriginalCount)
	assert.Equal(t, 8, res.CleanedCount)
	assert.Equal(t, 2, res.RemovedCount)
	assert.Equal(t, "csv", res.Store)

	require.NotEmpty(t, res.BackupPath)
	assert.Equal(t, filepath.Join(backupDir, "properties_backup_20240506_070809.csv"), res.BackupPath)
	assert.FileExists(t, res.BackupPath)

	got, err := fs.LoadAll(ctx, schema.KindProperty)
	require.NoError(t, err)
	assert.Len(t, got, 8)
	survivors := 0
	for _, r := range got {
		if r.String("name") == "Harbor View" {
			survivors++
			assert.Equal(t, "10", r.ID())
		}
	}
	assert.Equal(t, 1, survivors)

	backups, err := Backups(backupDir)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, "properties", backups[0].Kind)
	assert.True(t, backups[0].At.Equal(at))
}

func TestCleanStore_NothingRemoved(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory("mem")
	require.NoError(t, m.SaveAll(ctx, schema.KindProperty, []schema.Record{
		prop(t, "1", "Oak Manor", "1 Oak St", jan, nil),
	}))
	backupDir := t.TempDir()

	res, err := NewCleaner(backupDir, zaptest.NewLogger(t)).CleanStore(ctx, m, schema.KindProperty, nil, KeepLatest)
	require.NoError(t, err)
	assert.Zero(t, res.RemovedCount)
	assert.Empty(t, res.BackupPath)

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanStore_MemoryFallsBackToJSONSnapshot(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory("mem")
	require.NoError(t, m.SaveAll(ctx, schema.KindProperty, []schema.Record{
		prop(t, "1", "Oak Manor", "1 Oak St", jan, nil),
		prop(t, "2", "Oak Manor", "1 Oak St", feb, nil),
	}))

	res, err := NewCleaner(t.TempDir(), zaptest.NewLogger(t)).CleanStore(ctx, m, schema.KindProperty, nil, KeepLatest)
	require.NoError(t, err)
	assert.Equal(t, 1, res.RemovedCount)
	assert.Equal(t, ".json", filepath.Ext(res.BackupPath))
	assert.FileExists(t, res.BackupPath)

	got, err := m.LoadAll(ctx, schema.KindProperty)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(got))
}

func TestCleanStore_UnavailableStoreIsEmpty(t *testing.T) {
	m := store.NewMemory("mem")
	m.SetUnavailable(true)

	res, err := NewCleaner(t.TempDir(), nil).CleanStore(context.Background(), m, schema.KindTenant, nil, KeepFirst)
	require.NoError(t, err)
	assert.Zero(t, res.OriginalCount)
	assert.Zero(t, res.RemovedCount)
}

func TestCleanStore_FailedSaveKeepsBackup(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory("mem")
	require.NoError(t, m.SaveAll(ctx, schema.KindProperty, []schema.Record{
		prop(t, "1", "Oak Manor", "1 Oak St", jan, nil),
		prop(t, "2", "Oak Manor", "1 Oak St", feb, nil),
	}))
	backupDir := t.TempDir()
	m.FailWrites(assert.AnError)

	_, err := NewCleaner(backupDir, nil).CleanStore(ctx, m, schema.KindProperty, nil, KeepLatest)
	require.ErrorIs(t, err, assert.AnError)

	backups, err := Backups(backupDir)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestBackupsAndPrune(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"properties_backup_20240101_000000.json",
		"tenants_backup_20240301_120000.csv",
		"properties_backup_20240601_000000.csv",
		"notes.txt",
	}
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}

	backups, err := Backups(dir)
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, "properties", backups[0].Kind)
	assert.Equal(t, "tenants", backups[1].Kind)
	assert.Equal(t, int64(1), backups[0].Size)

	removed, err := Prune(dir, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, removed, 2)

	backups, err = Backups(dir)
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, "properties_backup_20240601_000000.csv", filepath.Base(backups[0].Path))
	assert.FileExists(t, filepath.Join(dir, "notes.txt"))
}

func TestBackups_SameSecond(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2024, 6, 1, 9, 30, 0, 0, time.FixedZone("EST", -5*60*60))

	var paths []string
	for i := 0; i < 3; i++ {
		p, err := store.ReserveBackup(dir, schema.KindProperty, at, "json")
		require.NoError(t, err)
		paths = append(paths, p)
	}
	assert.Equal(t, []string{
		"properties_backup_20240601_143000.json",
		"properties_backup_20240601_143000_1.json",
		"properties_backup_20240601_143000_2.json",
	}, []string{filepath.Base(paths[0]), filepath.Base(paths[1]), filepath.Base(paths[2])})

	backups, err := Backups(dir)
	require.NoError(t, err)
	require.Len(t, backups, 3)
	for i, b := range backups {
		assert.Equal(t, paths[i], b.Path)
		assert.True(t, b.At.Equal(at), b.At)
		assert.Equal(t, time.UTC, b.At.Location())
	}

	// the cutoff's zone does not matter
	removed, err := Prune(dir, at.Add(time.Second).In(time.FixedZone("JST", 9*60*60)))
	require.NoError(t, err)
	assert.Len(t, removed, 3)
}

func TestCleanStore_BackupsDoNotCollide(t *testing.T) {
	ctx := context.Background()
	backupDir := t.TempDir()
	fs := flatfile.New(t.TempDir(), zaptest.NewLogger(t))
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	c := NewCleaner(backupDir, zaptest.NewLogger(t)).WithClock(func() time.Time { return at })

	var paths []string
	for i := 0; i < 2; i++ {
		require.NoError(t, fs.SaveAll(ctx, schema.KindProperty, []schema.Record{
			prop(t, "1", "Harbor View", "42 Dock Rd", jan, nil),
			prop(t, "2", "Harbor View", "42 Dock Rd", feb, nil),
		}))
		res, err := c.CleanStore(ctx, fs, schema.KindProperty, nil, KeepLatest)
		require.NoError(t, err)
		paths = append(paths, res.BackupPath)
	}
	assert.NotEqual(t, paths[0], paths[1])
	for _, p := range paths {
		assert.FileExists(t, p)
	}
}

func TestBackups_MissingDir(t *testing.T) {
	backups, err := Backups(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, backups)
}

func TestParseCutoff(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	got, err := ParseCutoff("72h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-72*time.Hour), got)

	got, err = ParseCutoff("2024-01-31", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseCutoff("2 weeks ago", now)
	require.NoError(t, err)
	assert.True(t, got.Before(now))

	_, err = ParseCutoff("", now)
	assert.Error(t, err)
	_, err = ParseCutoff("banana", now)
	assert.Error(t, err)
}
