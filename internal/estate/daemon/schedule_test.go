package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
	"github.com/DavNight89/adminEstate/internal/estate/sync"
)

func TestScheduler_AddValidates(t *testing.T) {
	s := NewScheduler(zaptest.NewLogger(t))
	r := sync.New(store.NewMemory("a"), store.NewMemory("b"))

	assert.Error(t, s.AddSync("every tuesday", r, sync.Request{}))
	assert.Error(t, s.AddSync("@hourly", nil, sync.Request{}))
	assert.Error(t, s.AddPrune("@daily", t.TempDir(), 0))
	assert.Error(t, s.AddPrune("61 * * * *", t.TempDir(), time.Hour))

	require.NoError(t, s.AddSync("@every 1h", r, sync.Request{Direction: sync.Bidirectional}))
	require.NoError(t, s.AddPrune("0 3 * * *", t.TempDir(), 24*time.Hour))
	assert.Equal(t, 2, s.Len())
}

func TestScheduler_RunSync(t *testing.T) {
	a, b := store.NewMemory("a"), store.NewMemory("b")
	ctx := context.Background()
	require.NoError(t, a.SaveAll(ctx, schema.KindProperty, []schema.Record{property(t, "p1", "Elm Court")}))
	require.NoError(t, b.SaveAll(ctx, schema.KindProperty, []schema.Record{property(t, "p2", "Oak House")}))

	s := NewScheduler(zaptest.NewLogger(t))
	s.runSync(sync.New(a, b), sync.Request{Direction: sync.Bidirectional})

	for _, st := range []store.Adapter{a, b} {
		records, err := st.LoadAll(ctx, schema.KindProperty)
		require.NoError(t, err)
		assert.Len(t, records, 2, st.Name())
	}
}

func TestScheduler_RunPrune(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local)
	old := filepath.Join(dir, store.BackupName(schema.KindProperty, now.Add(-72*time.Hour), "json"))
	recent := filepath.Join(dir, store.BackupName(schema.KindProperty, now.Add(-time.Hour), "json"))
	for _, p := range []string{old, recent} {
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o644))
	}

	s := NewScheduler(zaptest.NewLogger(t))
	s.now = func() time.Time { return now }
	s.runPrune(dir, 48*time.Hour)

	assert.NoFileExists(t, old)
	assert.FileExists(t, recent)
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(zaptest.NewLogger(t))
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
