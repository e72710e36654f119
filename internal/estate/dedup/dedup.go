// Package dedup finds and removes records that share a dedup key within a
// single collection.
package dedup

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

// Strategy picks the survivor of a duplicate group.
type Strategy string

const (
	// KeepLatest keeps the highest updated_at, then created_at.
	KeepLatest Strategy = "keep_latest"
	// KeepMostComplete keeps the record with the most non-empty fields.
	KeepMostComplete Strategy = "keep_most_complete"
	// KeepFirst keeps the first record in input order.
	KeepFirst Strategy = "keep_first"
)

// ParseStrategy accepts the strategy names and their short forms.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep_latest", "latest":
		return KeepLatest, nil
	case "keep_most_complete", "most_complete", "complete", "keep_with_data":
		return KeepMostComplete, nil
	case "keep_first", "first":
		return KeepFirst, nil
	}
	return "", fmt.Errorf("unknown dedup strategy %q", s)
}

// Member is one record of a duplicate group.
type Member struct {
	ID           string    `json:"id" yaml:"id"`
	Index        int       `json:"index" yaml:"index"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
	Completeness int       `json:"completeness" yaml:"completeness"`
}

// Group is a set of records sharing a key.
type Group struct {
	Key     map[string]string `json:"key" yaml:"key"`
	Members []Member          `json:"members" yaml:"members"`
}

// Report describes the duplicates in a collection.
type Report struct {
	Kind             schema.Kind `json:"kind" yaml:"kind"`
	KeyFields        []string    `json:"key_fields" yaml:"key_fields"`
	Total            int         `json:"total" yaml:"total"`
	DistinctKeys     int         `json:"distinct_keys" yaml:"distinct_keys"`
	DuplicateRecords int         `json:"duplicate_records" yaml:"duplicate_records"`
	Groups           []Group     `json:"groups" yaml:"groups"`
}

// HasDuplicates reports whether any key occurs more than once.
func (r Report) HasDuplicates() bool { return r.DuplicateRecords > 0 }

type entry struct {
	index int
	key   string
	rec   schema.Record
}

func keyFieldsFor(s *schema.Schema, keyFields []string) []string {
	if len(keyFields) == 0 {
		return s.DedupKeyFields()
	}
	return keyFields
}

func group(records []schema.Record, fields []string) ([]string, map[string][]entry) {
	entries := make([]entry, len(records))
	for i, r := range records {
		entries[i] = entry{index: i, key: schema.KeyOf(r, fields), rec: r}
	}
	order := lo.Uniq(lo.Map(entries, func(e entry, _ int) string { return e.key }))
	return order, lo.GroupBy(entries, func(e entry) string { return e.key })
}

// Analyze groups records of kind by keyFields (the kind's natural key when
// empty) and reports every key held by more than one record.
func Analyze(kind schema.Kind, records []schema.Record, keyFields []string) (Report, error) {
	s, ok := schema.Lookup(kind)
	if !ok {
		return Report{}, fmt.Errorf("unknown entity kind %q", kind)
	}
	fields := keyFieldsFor(s, keyFields)
	order, groups := group(records, fields)

	report := Report{
		Kind:         kind,
		KeyFields:    fields,
		Total:        len(records),
		DistinctKeys: len(order),
		Groups:       []Group{},
	}
	for _, k := range order {
		g := groups[k]
		if len(g) < 2 {
			continue
		}
		key := make(map[string]string, len(fields))
		for _, f := range fields {
			key[f] = g[0].rec.String(f)
		}
		members := lo.Map(g, func(e entry, _ int) Member {
			return Member{
				ID:           e.rec.ID(),
				Index:        e.index,
				CreatedAt:    e.rec.CreatedAt(),
				UpdatedAt:    e.rec.UpdatedAt(),
				Completeness: s.Completeness(e.rec),
			}
		})
		report.Groups = append(report.Groups, Group{Key: key, Members: members})
		report.DuplicateRecords += len(g) - 1
	}
	return report, nil
}

// Clean returns records with one survivor per key, in input order, and the
// number of records removed.
func Clean(kind schema.Kind, records []schema.Record, keyFields []string, strategy Strategy) ([]schema.Record, int, error) {
	s, ok := schema.Lookup(kind)
	if !ok {
		return nil, 0, fmt.Errorf("unknown entity kind %q", kind)
	}
	better, err := comparator(s, strategy)
	if err != nil {
		return nil, 0, err
	}

	order, groups := group(records, keyFieldsFor(s, keyFields))
	keep := make(map[int]bool, len(order))
	for _, k := range order {
		g := groups[k]
		best := g[0]
		for _, e := range g[1:] {
			if better(e, best) {
				best = e
			}
		}
		keep[best.index] = true
	}

	out := make([]schema.Record, 0, len(order))
	for i, r := range records {
		if keep[i] {
			out = append(out, r)
		}
	}
	return out, len(records) - len(out), nil
}

// comparator returns whether x should replace y; ties keep y, the earlier
// record.
func comparator(s *schema.Schema, strategy Strategy) (func(x, y entry) bool, error) {
	switch strategy {
	case KeepLatest:
		return func(x, y entry) bool {
			if c := x.rec.UpdatedAt().Compare(y.rec.UpdatedAt()); c != 0 {
				return c > 0
			}
			return x.rec.CreatedAt().After(y.rec.CreatedAt())
		}, nil
	case KeepMostComplete:
		return func(x, y entry) bool {
			return s.Completeness(x.rec) > s.Completeness(y.rec)
		}, nil
	case KeepFirst:
		return func(x, y entry) bool { return false }, nil
	}
	return nil, fmt.Errorf("unknown dedup strategy %q", strategy)
}

// Strategies lists every supported strategy.
func Strategies() []Strategy {
	return []Strategy{KeepLatest, KeepMostComplete, KeepFirst}
}
