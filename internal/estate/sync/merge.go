package sync

import (
	"slices"
	"time"

	"github.com/samber/lo"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
)

// Conflict records a cross-side tie settled by side preference alone.
type Conflict struct {
	Key         string `json:"key"`
	KeptID      string `json:"kept_id"`
	KeptSide    Side   `json:"kept_side"`
	DroppedID   string `json:"dropped_id"`
	DroppedSide Side   `json:"dropped_side"`
}

type candidate struct {
	rec      schema.Record
	side     Side
	seq      int
	updated  time.Time
	complete int
}

type decision int

const (
	byAuthority decision = iota + 1
	byRecency
	byCompleteness
	byPreference
)

type merger struct {
	schema    *schema.Schema
	auth      Side
	preferred Side
	target    Side
}

type mergeOutcome struct {
	records   []schema.Record
	dropped   int
	protected int
	conflicts []Conflict
}

func newMerger(s *schema.Schema, req Request) *merger {
	preferred := req.Authoritative
	if preferred == SideNone {
		preferred = req.Direction.source()
	}
	return &merger{
		schema:    s,
		auth:      req.Authoritative,
		preferred: preferred,
		target:    req.Direction.target(req.Authoritative),
	}
}

// beats reports whether x should replace y as a group's winner and which
// criterion decided it.
func (m *merger) beats(x, y candidate) (bool, decision) {
	if m.auth != SideNone && x.side != y.side {
		return x.side == m.auth, byAuthority
	}
	if !x.updated.Equal(y.updated) {
		return x.updated.After(y.updated), byRecency
	}
	if x.complete != y.complete {
		return x.complete > y.complete, byCompleteness
	}
	if x.side != y.side {
		return x.side == m.preferred, byPreference
	}
	return x.seq < y.seq, byPreference
}

func sameContent(s *schema.Schema, x, y schema.Record) bool {
	return slices.Equal(s.Row(x), s.Row(y))
}

// pick returns the winner of group and any conflicts found choosing it.
func (m *merger) pick(key string, group []candidate) (candidate, []Conflict) {
	best := group[0]
	var conflicts []Conflict
	for _, c := range group[1:] {
		wins, by := m.beats(c, best)
		winner, loser := best, c
		if wins {
			winner, loser = c, best
		}
		if by == byPreference && winner.side != loser.side && !sameContent(m.schema, winner.rec, loser.rec) {
			conflicts = append(conflicts, Conflict{
				Key:         key,
				KeptID:      winner.rec.ID(),
				KeptSide:    winner.side,
				DroppedID:   loser.rec.ID(),
				DroppedSide: loser.side,
			})
		}
		best = winner
	}
	return best, conflicts
}

// groupBy buckets candidates by key, keeping first-seen key order.
func groupBy(cands []candidate, key func(candidate) string) ([]string, map[string][]candidate) {
	groups := lo.GroupBy(cands, key)
	order := lo.Uniq(lo.Map(cands, func(c candidate, _ int) string { return key(c) }))
	return order, groups
}

func (m *merger) candidates(a, b []schema.Record) []candidate {
	out := make([]candidate, 0, len(a)+len(b))
	add := func(records []schema.Record, side Side) {
		for _, r := range records {
			out = append(out, candidate{
				rec:      r,
				side:     side,
				seq:      len(out),
				updated:  r.UpdatedAt(),
				complete: m.schema.Completeness(r),
			})
		}
	}
	add(a, SideA)
	add(b, SideB)
	return out
}

// merge produces the reconciled collection of a and b.
func (m *merger) merge(a, b []schema.Record) mergeOutcome {
	var out mergeOutcome

	protected, regular := lo.FilterReject(m.candidates(a, b), func(c candidate, _ int) bool {
		return m.schema.IsProtected(c.rec)
	})

	// regular records: one winner per dedup key, then one per id so a
	// renamed property cannot leave two rows with the same id
	keys, groups := groupBy(regular, func(c candidate) string { return m.schema.NaturalKey(c.rec) })
	winners := make([]candidate, 0, len(keys))
	for _, k := range keys {
		w, conflicts := m.pick(k, groups[k])
		out.dropped += len(groups[k]) - 1
		out.conflicts = append(out.conflicts, conflicts...)
		winners = append(winners, w)
	}
	ids, byID := groupBy(winners, func(c candidate) string { return c.rec.ID() })
	regularWinners := make([]candidate, 0, len(ids))
	for _, id := range ids {
		w, conflicts := m.pick("id:"+id, byID[id])
		out.dropped += len(byID[id]) - 1
		out.conflicts = append(out.conflicts, conflicts...)
		regularWinners = append(regularWinners, w)
	}

	// protected records: never deduplicated by key; the target copy of an
	// id wins over the source copy
	pids, pgroups := groupBy(protected, func(c candidate) string { return c.rec.ID() })
	protectedIDs := make(map[string]bool, len(pids))
	for _, id := range pids {
		group := pgroups[id]
		keep, found := lo.Find(group, func(c candidate) bool { return c.side == m.target })
		if !found {
			keep = group[0]
		}
		out.dropped += len(group) - 1
		out.protected++
		protectedIDs[id] = true
		out.records = append(out.records, keep.rec)
	}

	for _, w := range regularWinners {
		if protectedIDs[w.rec.ID()] {
			out.dropped++
			continue
		}
		out.records = append(out.records, w.rec)
	}

	sortRecords(out.records)
	return out
}

// sortRecords orders by created_at then id so repeated runs write
// byte-identical output.
func sortRecords(records []schema.Record) {
	slices.SortStableFunc(records, func(x, y schema.Record) int {
		if c := x.CreatedAt().Compare(y.CreatedAt()); c != 0 {
			return c
		}
		switch {
		case x.ID() < y.ID():
			return -1
		case x.ID() > y.ID():
			return 1
		}
		return 0
	})
}
