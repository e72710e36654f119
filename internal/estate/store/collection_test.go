package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

func newTestCollection(t *testing.T, kind schema.Kind) (*Collection, *Memory) {
	t.Helper()
	mem := NewMemory("mem")
	c, err := NewCollection(mem, kind)
	require.NoError(t, err)
	return c, mem
}

func TestCollection_CreateAssignsID(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCollection(t, schema.KindProperty)

	rec, err := c.Create(ctx, map[string]any{"name": "Oak", "units": "4"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID())
	assert.Equal(t, int64(4), rec.Int("units"))

	kept, err := c.Create(ctx, map[string]any{"id": "p-fixed", "name": "Elm"})
	require.NoError(t, err)
	assert.Equal(t, "p-fixed", kept.ID())

	all, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCollection_GetFoundAndNotFound(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCollection(t, schema.KindTenant)

	_, err := c.Create(ctx, map[string]any{"id": "t1", "name": "Ann"})
	require.NoError(t, err)

	res, err := c.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, res.Found())
	assert.Equal(t, "Ann", res.Record().String("name"))

	res, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Nil(t, res.Record())
}

func TestCollection_UpdateRefreshesTimestamp(t *testing.T) {
	ctx := context.Background()
	c, mem := newTestCollection(t, schema.KindProperty)

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	c.WithClock(func() time.Time { return t0 })
	mem.now = func() time.Time { return t0 }

	_, err := c.Create(ctx, map[string]any{"id": "p1", "name": "Oak", "monthlyRevenue": 1000})
	require.NoError(t, err)

	c.WithClock(func() time.Time { return t1 })
	mem.now = func() time.Time { return t1 }
	rec, err := c.Update(ctx, "p1", map[string]any{"monthlyRevenue": 1200, "created_at": "1999-01-01"})
	require.NoError(t, err)

	assert.Equal(t, 1200.0, rec.Float("monthly_revenue"))
	assert.Equal(t, "Oak", rec.String("name"))
	assert.True(t, rec.UpdatedAt().Equal(t1))
	assert.True(t, rec.CreatedAt().Equal(t0), "created_at is immutable")
}

func TestCollection_UnknownIDIsNotFound(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCollection(t, schema.KindProperty)

	_, err := c.Update(ctx, "nope", map[string]any{"name": "x"})
	assert.True(t, errors.Is(err, ErrNotFound))

	err = c.Delete(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCollection_Delete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCollection(t, schema.KindProperty)

	_, err := c.Create(ctx, map[string]any{"id": "a", "name": "A"})
	require.NoError(t, err)
	_, err = c.Create(ctx, map[string]any{"id": "b", "name": "B"})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, "a"))
	all, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID())
}

func TestLoadOrEmpty(t *testing.T) {
	ctx := context.Background()
	mem := NewMemory("mem")
	mem.SetUnavailable(true)

	records, err := LoadOrEmpty(ctx, mem, schema.KindProperty, zaptest.NewLogger(t))
	assert.True(t, errors.Is(err, ErrStorageUnavailable))
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestNormalizeAllSkipsMissingIDs(t *testing.T) {
	rows := []map[string]any{
		{"id": "1", "name": "A"},
		{"name": "no id"},
		{"id": "  ", "name": "blank id"},
	}
	records, err := NormalizeAll(schema.KindProperty, rows, time.Now(), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].ID())

	_, err = NormalizeAll(schema.Kind("leases"), rows, time.Now(), nil)
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestBackupName(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "properties_backup_20240309_140507.csv", BackupName(schema.KindProperty, at, "csv"))
}

func TestBackupName_UTC(t *testing.T) {
	at := time.Date(2024, 3, 9, 9, 5, 7, 0, time.FixedZone("EST", -5*60*60))
	assert.Equal(t, "tenants_backup_20240309_140507.json", BackupName(schema.KindTenant, at, "json"))
}

func TestReserveBackup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

	first, err := ReserveBackup(dir, schema.KindProperty, at, "csv")
	require.NoError(t, err)
	second, err := ReserveBackup(dir, schema.KindProperty, at, "csv")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "properties_backup_20240309_140507.csv"), first)
	assert.Equal(t, filepath.Join(dir, "properties_backup_20240309_140507_1.csv"), second)
	assert.FileExists(t, first)
	assert.FileExists(t, second)
}
