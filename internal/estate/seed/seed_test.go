package seed

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavNight89/adminEstate/internal/estate/dedup"
	"github.com/DavNight89/adminEstate/internal/estate/docstore"
	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func opts() Options {
	return Options{
		Seed:               7,
		Now:                now,
		Properties:         6,
		TenantsPerProperty: 2,
		WorkOrders:         10,
		Transactions:       20,
		Duplicates:         2,
		PortalShare:        0.5,
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a, err := Generate(opts())
	require.NoError(t, err)
	b, err := Generate(opts())
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed produced different data (-a +b):\n%s", diff)
	}

	o := opts()
	o.Seed = 8
	c, err := Generate(o)
	require.NoError(t, err)
	assert.NotEqual(t, a[schema.KindProperty][0].ID(), c[schema.KindProperty][0].ID())
}

func TestGenerate_Counts(t *testing.T) {
	data, err := Generate(opts())
	require.NoError(t, err)
	assert.Len(t, data[schema.KindProperty], 8)
	assert.Len(t, data[schema.KindTenant], 12)
	assert.Len(t, data[schema.KindWorkOrder], 10)
	assert.Len(t, data[schema.KindTransaction], 20)
	assert.Equal(t, 50, data.Count())

	for _, p := range data[schema.KindProperty] {
		assert.LessOrEqual(t, p.Int("occupied"), p.Int("units"))
		assert.False(t, p.CreatedAt().After(now))
	}
	for _, tn := range data[schema.KindTenant] {
		assert.NotEmpty(t, tn.String("property_id"))
	}
	for _, w := range data[schema.KindWorkOrder] {
		assert.Contains(t, []string{"manager", "tenant_portal"}, w.String("source"))
	}
}

func TestGenerate_DuplicatesAreDetected(t *testing.T) {
	data, err := Generate(opts())
	require.NoError(t, err)

	report, err := dedup.Analyze(schema.KindProperty, data[schema.KindProperty], nil)
	require.NoError(t, err)
	assert.Equal(t, 2, report.DuplicateRecords)

	cleaned, removed, err := dedup.Clean(schema.KindProperty, data[schema.KindProperty], nil, dedup.KeepLatest)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Len(t, cleaned, 6)
}

func TestGenerate_Invalid(t *testing.T) {
	o := opts()
	o.Duplicates = 10
	_, err := Generate(o)
	assert.Error(t, err)

	o = opts()
	o.WorkOrders = -1
	_, err = Generate(o)
	assert.Error(t, err)
}

func TestGenerate_Empty(t *testing.T) {
	data, err := Generate(Options{Seed: 1, Now: now, WorkOrders: 3, Transactions: 3})
	require.NoError(t, err)
	assert.Zero(t, data.Count())
}

func TestWrite(t *testing.T) {
	ctx := context.Background()
	data, err := Generate(opts())
	require.NoError(t, err)

	s := docstore.New(filepath.Join(t.TempDir(), "data.json"), nil)
	require.NoError(t, Write(ctx, s, data))

	got, err := s.LoadAll(ctx, schema.KindTenant)
	require.NoError(t, err)
	if diff := cmp.Diff(data[schema.KindTenant], got); diff != "" {
		t.Errorf("tenants mismatch (-want +got):\n%s", diff)
	}
}
