package analytics

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

var jan = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func record(t *testing.T, kind schema.Kind, raw map[string]any) schema.Record {
	t.Helper()
	raw["created_at"] = jan
	rec, issues := schema.MustLookup(kind).Normalize(raw, jan)
	require.Empty(t, issues)
	return rec
}

func property(t *testing.T, id, typ string, units, occupied int, revenue, price float64) schema.Record {
	t.Helper()
	return record(t, schema.KindProperty, map[string]any{
		"id":              id,
		"name":            "Property " + id,
		"address":         id + " Main St",
		"type":            typ,
		"units":           units,
		"occupied":        occupied,
		"monthly_revenue": revenue,
		"purchase_price":  price,
	})
}

func assertFinite(t *testing.T, vs ...float64) {
	t.Helper()
	for _, v := range vs {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "value %v is not finite", v)
	}
}

func TestAnalyze_Empty(t *testing.T) {
	p := Analyze(nil)
	assert.Equal(t, PropertySummary{}, p.Summary)
	assert.Empty(t, p.ByType)
	assert.Empty(t, p.Rankings.TopByValue)
	assert.Empty(t, p.Rankings.TopByRevenue)
	for _, x := range Columns {
		for _, y := range Columns {
			assert.Nil(t, p.Correlations[x][y], "%s/%s", x, y)
		}
	}

	// the empty dashboard must serialise: no NaN reaches the encoder
	b, err := json.Marshal(Build(nil))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"total_properties":0`)
	assert.Contains(t, string(b), `"occupancy_rate":0`)
	assert.Contains(t, string(b), `"avg_cap_rate":0`)
}

func TestSummarize_ZeroUnitsAndPrice(t *testing.T) {
	p := Analyze([]schema.Record{
		property(t, "1", "residential", 0, 0, 1500, 0),
		property(t, "2", "residential", 0, 0, 0, 0),
	})
	s := p.Summary
	assert.Equal(t, 2, s.TotalProperties)
	assert.Zero(t, s.OccupancyRate)
	assert.Zero(t, s.AvgCapRate)
	assertFinite(t, s.OccupancyRate, s.AvgCapRate, s.AvgPropertyValue, s.AvgRevenuePerProperty)
	require.Len(t, p.ByType, 1)
	assert.Zero(t, p.ByType[0].AvgCapRate)
	assert.Zero(t, p.ByType[0].AvgOccupancyRate)
}

func TestSummarize(t *testing.T) {
	p := Analyze([]schema.Record{
		property(t, "1", "residential", 10, 8, 10000, 1000000),
		property(t, "2", "commercial", 4, 4, 5000, 500000),
		property(t, "3", "residential", 6, 3, 3000, 0),
	})
	s := p.Summary
	assert.Equal(t, 3, s.TotalProperties)
	assert.Equal(t, 1500000.0, s.TotalPortfolioValue)
	assert.Equal(t, 18000.0, s.TotalMonthlyRevenue)
	assert.Equal(t, int64(20), s.TotalUnits)
	assert.Equal(t, int64(15), s.OccupiedUnits)
	assert.Equal(t, int64(5), s.VacantUnits)
	assert.InDelta(t, 75.0, s.OccupancyRate, 1e-9)
	// cap rates 12, 12, 0
	assert.InDelta(t, 8.0, s.AvgCapRate, 1e-9)
	assert.InDelta(t, 500000.0, s.AvgPropertyValue, 1e-9)

	require.Len(t, p.ByType, 2)
	assert.Equal(t, "commercial", p.ByType[0].Type)
	assert.Equal(t, 1, p.ByType[0].PropertyCount)
	assert.Equal(t, "residential", p.ByType[1].Type)
	assert.Equal(t, 2, p.ByType[1].PropertyCount)
	assert.Equal(t, 13000.0, p.ByType[1].TotalRevenue)
	// cap rates 12 and 0, averaged per property like the summary
	assert.InDelta(t, 6.0, p.ByType[1].AvgCapRate, 1e-9)
	assert.InDelta(t, 12.0, p.ByType[0].AvgCapRate, 1e-9)
	// occupancy 80% and 50%
	assert.InDelta(t, 65.0, p.ByType[1].AvgOccupancyRate, 1e-9)
	assert.InDelta(t, 100.0, p.ByType[0].AvgOccupancyRate, 1e-9)
}

func TestByType_MatchesSummaryForOneType(t *testing.T) {
	p := Analyze([]schema.Record{
		property(t, "1", "residential", 10, 5, 10000, 1000000),
		property(t, "2", "residential", 0, 0, 3000, 0),
		property(t, "3", "residential", 4, 1, 2500, 250000),
	})
	require.Len(t, p.ByType, 1)
	assert.InDelta(t, p.Summary.AvgCapRate, p.ByType[0].AvgCapRate, 1e-9)
	assert.InDelta(t, (50.0+0+25)/3, p.ByType[0].AvgOccupancyRate, 1e-9)
}

func TestRank_StableTop5(t *testing.T) {
	var records []schema.Record
	for i, price := range []float64{100, 300, 300, 50, 200, 300, 10} {
		records = append(records, property(t, string(rune('a'+i)), "residential", 1, 1, price/10, price))
	}
	r := Analyze(records).Rankings

	require.Len(t, r.TopByValue, TopN)
	got := make([]string, 0, TopN)
	for _, row := range r.TopByValue {
		got = append(got, row.ID)
	}
	assert.Equal(t, []string{"b", "c", "f", "e", "a"}, got)
	require.Len(t, r.TopByRevenue, TopN)
	assert.Equal(t, "b", r.TopByRevenue[0].ID)
	assert.InDelta(t, 120.0, r.TopByCapRate[0].CapRate, 1e-9)
}

func TestRank_LargestProperties(t *testing.T) {
	var records []schema.Record
	for i, units := range []int{5, 50, 20, 50, 1, 30} {
		records = append(records, property(t, string(rune('a'+i)), "residential", units, units/2, 100, 1000))
	}
	largest := Analyze(records).Rankings.LargestProperties

	require.Len(t, largest, TopN)
	got := make([]string, 0, TopN)
	for _, row := range largest {
		got = append(got, row.ID)
	}
	assert.Equal(t, []string{"b", "d", "f", "c", "a"}, got)
	assert.Equal(t, int64(25), largest[0].Occupied)

	assert.Empty(t, Analyze(nil).Rankings.LargestProperties)
}

func TestCorrelate_SingleRowIsNull(t *testing.T) {
	c := Analyze([]schema.Record{property(t, "1", "residential", 10, 8, 1000, 100000)}).Correlations
	for _, x := range Columns {
		for _, y := range Columns {
			assert.Nil(t, c[x][y], "%s/%s", x, y)
		}
	}

	b, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"units":null`)
}

func TestCorrelate(t *testing.T) {
	c := Analyze([]schema.Record{
		property(t, "1", "residential", 10, 5, 1000, 100),
		property(t, "2", "residential", 20, 5, 2000, 300),
		property(t, "3", "residential", 30, 5, 3000, 200),
	}).Correlations

	require.NotNil(t, c["units"]["monthly_revenue"])
	assert.InDelta(t, 1.0, *c["units"]["monthly_revenue"], 1e-9)
	require.NotNil(t, c["units"]["units"])
	assert.InDelta(t, 1.0, *c["units"]["units"], 1e-9)
	assert.InDelta(t, 0.5, *c["units"]["purchase_price"], 1e-9)
	assert.Equal(t, *c["units"]["purchase_price"], *c["purchase_price"]["units"])

	// occupied is constant
	assert.Nil(t, c["occupied"]["units"])
	assert.Nil(t, c["occupied"]["occupied"])
}

func TestPearson(t *testing.T) {
	r := Pearson([]float64{1, 2, 3}, []float64{3, 2, 1})
	require.NotNil(t, r)
	assert.InDelta(t, -1.0, *r, 1e-12)

	assert.Nil(t, Pearson([]float64{1, 2}, []float64{1}))
	assert.Nil(t, Pearson(nil, nil))
}

func TestSummarizeTenants(t *testing.T) {
	s := SummarizeTenants([]schema.Record{
		record(t, schema.KindTenant, map[string]any{"id": "t1", "status": "active", "rent": 1200, "balance": 0}),
		record(t, schema.KindTenant, map[string]any{"id": "t2", "status": "Overdue", "rent": 900, "balance": 450}),
		record(t, schema.KindTenant, map[string]any{"id": "t3", "status": "inactive", "rent": 0, "balance": -20}),
	})
	assert.Equal(t, TenantSummary{
		TotalTenants:       3,
		Active:             1,
		Overdue:            1,
		TotalMonthlyRent:   2100,
		OutstandingBalance: 450,
	}, s)
}

func TestSummarizeTransactions(t *testing.T) {
	s := SummarizeTransactions([]schema.Record{
		record(t, schema.KindTransaction, map[string]any{"id": "x1", "type": "income", "amount": 1200, "category": "rent"}),
		record(t, schema.KindTransaction, map[string]any{"id": "x2", "type": "income", "amount": 800, "category": "rent"}),
		record(t, schema.KindTransaction, map[string]any{"id": "x3", "type": "expense", "amount": -300, "category": "repairs"}),
		record(t, schema.KindTransaction, map[string]any{"id": "x4", "type": "expense", "amount": 100}),
	})
	assert.Equal(t, 4, s.TotalTransactions)
	assert.Equal(t, 2000.0, s.Income)
	assert.Equal(t, 400.0, s.Expenses)
	assert.Equal(t, 1600.0, s.Net)
	assert.Equal(t, []CategoryTotal{
		{Category: "repairs", Type: "expense", Amount: 300, Count: 1},
		{Category: "uncategorized", Type: "expense", Amount: 100, Count: 1},
		{Category: "rent", Type: "income", Amount: 2000, Count: 2},
	}, s.ByCategory)
}

func TestSummarizeWorkOrders(t *testing.T) {
	s := SummarizeWorkOrders([]schema.Record{
		record(t, schema.KindWorkOrder, map[string]any{"id": "w1", "status": "Open", "priority": "Urgent", "source": "tenant_portal"}),
		record(t, schema.KindWorkOrder, map[string]any{"id": "w2", "status": "In Progress", "priority": "Low"}),
		record(t, schema.KindWorkOrder, map[string]any{"id": "w3", "status": "Completed", "priority": "Urgent"}),
	})
	assert.Equal(t, WorkOrderSummary{TotalWorkOrders: 3, Open: 2, Urgent: 1, FromPortal: 1}, s)
}
