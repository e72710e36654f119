// Package analytics computes read-only dashboard figures over loaded
// collections. Every function accepts empty input and returns zero values;
// no result ever holds NaN or Inf.
package analytics

import (
	"math"
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

// TopN is the length of every ranking.
const TopN = 5

// Columns are the numeric property fields that take part in the correlation
// matrix, in output order.
var Columns = []string{"units", "occupied", "monthly_revenue", "purchase_price"}

// PropertySummary is the portfolio overview.
type PropertySummary struct {
	TotalProperties       int     `json:"total_properties" yaml:"total_properties"`
	TotalPortfolioValue   float64 `json:"total_portfolio_value" yaml:"total_portfolio_value"`
	TotalMonthlyRevenue   float64 `json:"total_monthly_revenue" yaml:"total_monthly_revenue"`
	AvgPropertyValue      float64 `json:"avg_property_value" yaml:"avg_property_value"`
	AvgRevenuePerProperty float64 `json:"avg_revenue_per_property" yaml:"avg_revenue_per_property"`
	TotalUnits            int64   `json:"total_units" yaml:"total_units"`
	OccupiedUnits         int64   `json:"occupied_units" yaml:"occupied_units"`
	VacantUnits           int64   `json:"vacant_units" yaml:"vacant_units"`
	OccupancyRate         float64 `json:"occupancy_rate" yaml:"occupancy_rate"`
	AvgCapRate            float64 `json:"avg_cap_rate" yaml:"avg_cap_rate"`
}

// TypeSummary aggregates the properties of one type.
type TypeSummary struct {
	Type          string  `json:"type" yaml:"type"`
	PropertyCount int     `json:"property_count" yaml:"property_count"`
	TotalValue    float64 `json:"total_value" yaml:"total_value"`
	TotalRevenue  float64 `json:"total_revenue" yaml:"total_revenue"`
	AvgValue      float64 `json:"avg_value" yaml:"avg_value"`
	AvgRevenue    float64 `json:"avg_revenue" yaml:"avg_revenue"`
	AvgCapRate    float64 `json:"avg_cap_rate" yaml:"avg_cap_rate"`
	TotalUnits    int64   `json:"total_units" yaml:"total_units"`
	OccupiedUnits int64   `json:"occupied_units" yaml:"occupied_units"`

	// AvgOccupancyRate is the mean of the per-property rates; a property
	// without units counts as 0.
	AvgOccupancyRate float64 `json:"avg_occupancy_rate" yaml:"avg_occupancy_rate"`
}

// Ranked is one row of a top-N ranking.
type Ranked struct {
	ID             string  `json:"id" yaml:"id"`
	Name           string  `json:"name" yaml:"name"`
	Type           string  `json:"type" yaml:"type"`
	Units          int64   `json:"units" yaml:"units"`
	Occupied       int64   `json:"occupied" yaml:"occupied"`
	PurchasePrice  float64 `json:"purchase_price" yaml:"purchase_price"`
	MonthlyRevenue float64 `json:"monthly_revenue" yaml:"monthly_revenue"`
	CapRate        float64 `json:"cap_rate" yaml:"cap_rate"`
	OccupancyRate  float64 `json:"occupancy_rate" yaml:"occupancy_rate"`
}

// Rankings holds the top properties by several measures.
type Rankings struct {
	TopByValue   []Ranked `json:"top_by_value" yaml:"top_by_value"`
	TopByRevenue []Ranked `json:"top_by_revenue" yaml:"top_by_revenue"`
	TopByCapRate []Ranked `json:"top_by_cap_rate" yaml:"top_by_cap_rate"`

	LargestProperties []Ranked `json:"largest_properties" yaml:"largest_properties"`
}

// Correlation is a symmetric matrix over Columns. A nil cell is undefined:
// fewer than two rows, or a constant column.
type Correlation map[string]map[string]*float64

// Portfolio bundles every property figure.
type Portfolio struct {
	Summary            PropertySummary     `json:"summary" yaml:"summary"`
	ByType             []TypeSummary       `json:"by_type" yaml:"by_type"`
	Rankings           Rankings            `json:"rankings" yaml:"rankings"`
	Composition        Composition         `json:"composition" yaml:"composition"`
	Correlations       Correlation         `json:"correlations" yaml:"correlations"`
	StrongCorrelations []StrongCorrelation `json:"strong_correlations" yaml:"strong_correlations"`
}

// CapRate is the annualised return on purchase price, in percent.
func CapRate(monthlyRevenue, purchasePrice float64) float64 {
	return percent(monthlyRevenue*12, purchasePrice)
}

// OccupancyRate is occupied over units, in percent.
func OccupancyRate(occupied, units int64) float64 {
	return percent(float64(occupied), float64(units))
}

func percent(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return finite(num / den * 100)
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return finite(sum / float64(n))
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Analyze computes the full portfolio view of a properties collection.
//
// Example:
//
//	records, _ := adapter.LoadAll(ctx, schema.KindProperty)
//	p := analytics.Analyze(records)
//	fmt.Printf("%.1f%% occupied\n", p.Summary.OccupancyRate)
func Analyze(records []schema.Record) Portfolio {
	props := lo.Map(records, func(r schema.Record, _ int) schema.Property {
		return schema.PropertyFromRecord(r)
	})
	corr := Correlate(props)
	return Portfolio{
		Summary:            Summarize(props),
		ByType:             ByType(props),
		Rankings:           Rank(props),
		Composition:        Compose(props),
		Correlations:       corr,
		StrongCorrelations: Strong(corr, StrongThreshold),
	}
}

// Summarize computes the portfolio totals.
func Summarize(props []schema.Property) PropertySummary {
	n := len(props)
	value := lo.SumBy(props, func(p schema.Property) float64 { return p.PurchasePrice })
	revenue := lo.SumBy(props, func(p schema.Property) float64 { return p.MonthlyRevenue })
	units := lo.SumBy(props, func(p schema.Property) int64 { return p.Units })
	occupied := lo.SumBy(props, func(p schema.Property) int64 { return p.Occupied })
	capRates := lo.SumBy(props, func(p schema.Property) float64 { return CapRate(p.MonthlyRevenue, p.PurchasePrice) })

	return PropertySummary{
		TotalProperties:       n,
		TotalPortfolioValue:   value,
		TotalMonthlyRevenue:   revenue,
		AvgPropertyValue:      mean(value, n),
		AvgRevenuePerProperty: mean(revenue, n),
		TotalUnits:            units,
		OccupiedUnits:         occupied,
		VacantUnits:           units - occupied,
		OccupancyRate:         OccupancyRate(occupied, units),
		AvgCapRate:            mean(capRates, n),
	}
}

func typeOf(p schema.Property) string {
	t := strings.TrimSpace(p.Type)
	if t == "" {
		return "unspecified"
	}
	return t
}

// ByType groups the properties by type, sorted by type name. Properties
// without a type are grouped under "unspecified". Cap and occupancy rates
// are means of the per-property rates, like the portfolio summary.
func ByType(props []schema.Property) []TypeSummary {
	groups := lo.GroupBy(props, typeOf)

	out := make([]TypeSummary, 0, len(groups))
	for t, g := range groups {
		s := Summarize(g)
		occupancy := lo.SumBy(g, func(p schema.Property) float64 { return OccupancyRate(p.Occupied, p.Units) })
		out = append(out, TypeSummary{
			Type:             t,
			PropertyCount:    s.TotalProperties,
			TotalValue:       s.TotalPortfolioValue,
			TotalRevenue:     s.TotalMonthlyRevenue,
			AvgValue:         s.AvgPropertyValue,
			AvgRevenue:       s.AvgRevenuePerProperty,
			AvgCapRate:       s.AvgCapRate,
			TotalUnits:       s.TotalUnits,
			OccupiedUnits:    s.OccupiedUnits,
			AvgOccupancyRate: mean(occupancy, len(g)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

func ranked(p schema.Property) Ranked {
	return Ranked{
		ID:             p.ID,
		Name:           p.Name,
		Type:           p.Type,
		Units:          p.Units,
		Occupied:       p.Occupied,
		PurchasePrice:  p.PurchasePrice,
		MonthlyRevenue: p.MonthlyRevenue,
		CapRate:        CapRate(p.MonthlyRevenue, p.PurchasePrice),
		OccupancyRate:  OccupancyRate(p.Occupied, p.Units),
	}
}

// top returns the first TopN rows by by, descending; equal values keep their
// input order.
func top(rows []Ranked, by func(Ranked) float64) []Ranked {
	sorted := make([]Ranked, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return by(sorted[i]) > by(sorted[j]) })
	if len(sorted) > TopN {
		sorted = sorted[:TopN]
	}
	return sorted
}

// Rank builds the top-N rankings.
func Rank(props []schema.Property) Rankings {
	rows := lo.Map(props, func(p schema.Property, _ int) Ranked { return ranked(p) })
	return Rankings{
		TopByValue:   top(rows, func(r Ranked) float64 { return r.PurchasePrice }),
		TopByRevenue: top(rows, func(r Ranked) float64 { return r.MonthlyRevenue }),
		TopByCapRate: top(rows, func(r Ranked) float64 { return r.CapRate }),

		LargestProperties: top(rows, func(r Ranked) float64 { return float64(r.Units) }),
	}
}

func column(props []schema.Property, name string) []float64 {
	return lo.Map(props, func(p schema.Property, _ int) float64 {
		switch name {
		case "units":
			return float64(p.Units)
		case "occupied":
			return float64(p.Occupied)
		case "monthly_revenue":
			return p.MonthlyRevenue
		case "purchase_price":
			return p.PurchasePrice
		}
		return 0
	})
}

// Correlate computes the Pearson correlation of every pair of Columns.
func Correlate(props []schema.Property) Correlation {
	cols := make(map[string][]float64, len(Columns))
	for _, c := range Columns {
		cols[c] = column(props, c)
	}
	out := make(Correlation, len(Columns))
	for _, x := range Columns {
		out[x] = make(map[string]*float64, len(Columns))
		for _, y := range Columns {
			out[x][y] = Pearson(cols[x], cols[y])
		}
	}
	return out
}

// Pearson returns the correlation coefficient of xs and ys, or nil when it is
// undefined.
func Pearson(xs, ys []float64) *float64 {
	n := len(xs)
	if n < 2 || n != len(ys) {
		return nil
	}
	mx := lo.Sum(xs) / float64(n)
	my := lo.Sum(ys) / float64(n)

	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return nil
	}
	r := sxy / math.Sqrt(sxx*syy)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return nil
	}
	// rounding can push |r| just past 1
	r = math.Max(-1, math.Min(1, r))
	return &r
}
