package analytics

import (
	"math"
	"sort"

	"github.com/samber/lo"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

// StrongThreshold is the |r| above which a correlation is reported as strong.
const StrongThreshold = 0.7

// Size categories by unit count. A property with no units or more than 100
// falls in none of them.
const (
	SizeSmall  = "Small"
	SizeMedium = "Medium"
	SizeLarge  = "Large"
	SizeXLarge = "XLarge"
)

// SizeCategories lists the categories smallest first.
var SizeCategories = []string{SizeSmall, SizeMedium, SizeLarge, SizeXLarge}

// Quartiles are purchase price percentiles.
type Quartiles struct {
	P25 float64 `json:"25th_percentile" yaml:"25th_percentile"`
	P50 float64 `json:"50th_percentile" yaml:"50th_percentile"`
	P75 float64 `json:"75th_percentile" yaml:"75th_percentile"`
	P90 float64 `json:"90th_percentile" yaml:"90th_percentile"`
}

// Composition breaks the portfolio down by type and size.
type Composition struct {
	// ByValue is each type's share of the total purchase price, in percent.
	ByValue map[string]float64 `json:"by_value" yaml:"by_value"`
	// ByCount is each type's share of the property count, in percent.
	ByCount        map[string]float64 `json:"by_count" yaml:"by_count"`
	BySizeCategory map[string]int     `json:"by_size_category" yaml:"by_size_category"`
	ValueQuartiles Quartiles          `json:"value_quartiles" yaml:"value_quartiles"`
}

// StrongCorrelation is one pair of Columns whose |r| exceeds the threshold.
type StrongCorrelation struct {
	Variable1   string  `json:"variable1" yaml:"variable1"`
	Variable2   string  `json:"variable2" yaml:"variable2"`
	Correlation float64 `json:"correlation" yaml:"correlation"`
	Strength    string  `json:"strength" yaml:"strength"`
}

// SizeCategory buckets a unit count: up to 10 is Small, up to 20 Medium, up
// to 50 Large and up to 100 XLarge.
func SizeCategory(units int64) string {
	switch {
	case units <= 0:
		return ""
	case units <= 10:
		return SizeSmall
	case units <= 20:
		return SizeMedium
	case units <= 50:
		return SizeLarge
	case units <= 100:
		return SizeXLarge
	}
	return ""
}

// Compose computes the portfolio composition. Every size category is
// present, with 0 when empty.
func Compose(props []schema.Property) Composition {
	out := Composition{
		ByValue:        map[string]float64{},
		ByCount:        map[string]float64{},
		BySizeCategory: make(map[string]int, len(SizeCategories)),
	}
	for _, c := range SizeCategories {
		out.BySizeCategory[c] = 0
	}

	total := lo.SumBy(props, func(p schema.Property) float64 { return p.PurchasePrice })
	for t, g := range lo.GroupBy(props, typeOf) {
		value := lo.SumBy(g, func(p schema.Property) float64 { return p.PurchasePrice })
		out.ByValue[t] = percent(value, total)
		out.ByCount[t] = percent(float64(len(g)), float64(len(props)))
	}
	for _, p := range props {
		if c := SizeCategory(p.Units); c != "" {
			out.BySizeCategory[c]++
		}
	}

	prices := lo.Map(props, func(p schema.Property, _ int) float64 { return p.PurchasePrice })
	sort.Float64s(prices)
	out.ValueQuartiles = Quartiles{
		P25: Quantile(prices, 0.25),
		P50: Quantile(prices, 0.50),
		P75: Quantile(prices, 0.75),
		P90: Quantile(prices, 0.90),
	}
	return out
}

// Quantile interpolates linearly between the closest ranks of sorted, which
// must be in ascending order. It returns 0 for an empty slice.
func Quantile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	pos := q * float64(n-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if upper >= n {
		upper = n - 1
	}
	return finite(sorted[lower] + (sorted[upper]-sorted[lower])*(pos-float64(lower)))
}

// Strong lists the pairs of Columns, each once, whose correlation is defined
// and exceeds threshold in absolute value. Coefficients are rounded to three
// decimals.
func Strong(c Correlation, threshold float64) []StrongCorrelation {
	out := []StrongCorrelation{}
	for i, x := range Columns {
		for _, y := range Columns[i+1:] {
			r := c[x][y]
			if r == nil || math.Abs(*r) <= threshold {
				continue
			}
			strength := "strong positive"
			if *r < 0 {
				strength = "strong negative"
			}
			out = append(out, StrongCorrelation{
				Variable1:   x,
				Variable2:   y,
				Correlation: math.Round(*r*1000) / 1000,
				Strength:    strength,
			})
		}
	}
	return out
}
