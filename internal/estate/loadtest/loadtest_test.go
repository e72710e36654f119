package loadtest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DavNight89/adminEstate/internal/estate/docstore"
	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/seed"
	"github.com/DavNight89/adminEstate/internal/estate/store"
)

func seeded(t *testing.T, a store.Adapter) {
	t.Helper()
	data, err := seed.Generate(seed.Options{Seed: 3, Now: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), Properties: 12})
	require.NoError(t, err)
	require.NoError(t, seed.Write(context.Background(), a, data))
}

func TestRun_Memory(t *testing.T) {
	a := store.NewMemory("mem")
	seeded(t, a)

	opts := DefaultOptions()
	opts.Clients = 8
	opts.OpsPerClient = 25
	opts.WriteShare = 0.3
	opts.Logger = zaptest.NewLogger(t)

	report, err := Run(context.Background(), a, opts)
	require.NoError(t, err)
	assert.True(t, report.OK(), report.Problems)
	assert.Equal(t, 12, report.Records)
	assert.Equal(t, 8*25, report.Reads.Count+report.Writes.Count)
	assert.Positive(t, report.Writes.Count)
	assert.LessOrEqual(t, report.Reads.Min, report.Reads.P50)
	assert.LessOrEqual(t, report.Reads.P99, report.Reads.Max)
}

func TestRun_DocumentStore(t *testing.T) {
	a := docstore.New(filepath.Join(t.TempDir(), "data.json"), zaptest.NewLogger(t))
	seeded(t, a)

	report, err := Run(context.Background(), a, Options{
		Kind:         schema.KindProperty,
		Clients:      5,
		OpsPerClient: 10,
		WriteShare:   0.5,
		Seed:         1,
	})
	require.NoError(t, err)
	assert.True(t, report.OK(), report.Problems)
	assert.Equal(t, "json", report.Store)
}

func TestRun_Validates(t *testing.T) {
	a := store.NewMemory("mem")

	_, err := Run(context.Background(), a, DefaultOptions())
	assert.ErrorContains(t, err, "seed it first")

	opts := DefaultOptions()
	opts.Clients = 0
	_, err = Run(context.Background(), a, opts)
	assert.Error(t, err)

	opts = DefaultOptions()
	opts.WriteShare = 1.5
	_, err = Run(context.Background(), a, opts)
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	after := []schema.Record{{"id": "a"}, {"id": "b"}, {"id": "b"}}
	problems := verify([]string{"a", "b", "c"}, after)
	assert.Contains(t, problems, "record c lost")
	assert.Contains(t, problems, "record b stored 2 times")
}

func TestComputeLatencyStats(t *testing.T) {
	var durations []time.Duration
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}
	stats := computeLatencyStats(durations)
	assert.Equal(t, 100, stats.Count)
	assert.Equal(t, time.Millisecond, stats.Min)
	assert.Equal(t, 100*time.Millisecond, stats.Max)
	assert.Equal(t, 51*time.Millisecond, stats.P50)
	assert.Equal(t, 96*time.Millisecond, stats.P95)
	assert.Equal(t, 50500*time.Microsecond, stats.Mean)

	assert.Equal(t, LatencyStats{}, computeLatencyStats(nil))
}
