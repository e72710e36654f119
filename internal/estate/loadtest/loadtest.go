// Package loadtest measures how a store behaves under concurrent clients.
//
// Each client reads the collection, fetches single records and, for a share
// of its operations, updates one. Once every client is done the collection
// is read back and checked for lost or duplicated ids.
package loadtest

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
)

// Options controls one run.
type Options struct {
	Kind         schema.Kind
	Clients      int
	OpsPerClient int
	// WriteShare is the fraction of operations that update a record.
	WriteShare float64
	// RPS caps operations per second across all clients; 0 is unlimited.
	RPS    float64
	Seed   int64
	Logger *zap.Logger
}

// DefaultOptions returns a light run over properties.
func DefaultOptions() Options {
	return Options{
		Kind:         schema.KindProperty,
		Clients:      10,
		OpsPerClient: 20,
		WriteShare:   0.1,
		Seed:         42,
	}
}

// LatencyStats captures the latency distribution of one operation type.
type LatencyStats struct {
	Count int           `json:"count" yaml:"count"`
	Min   time.Duration `json:"min_ns" yaml:"min"`
	Max   time.Duration `json:"max_ns" yaml:"max"`
	Mean  time.Duration `json:"mean_ns" yaml:"mean"`
	P50   time.Duration `json:"p50_ns" yaml:"p50"`
	P95   time.Duration `json:"p95_ns" yaml:"p95"`
	P99   time.Duration `json:"p99_ns" yaml:"p99"`
}

// Report is the outcome of a run.
type Report struct {
	Store    string        `json:"store" yaml:"store"`
	Kind     schema.Kind   `json:"kind" yaml:"kind"`
	Clients  int           `json:"clients" yaml:"clients"`
	Records  int           `json:"records" yaml:"records"`
	Reads    LatencyStats  `json:"reads" yaml:"reads"`
	Writes   LatencyStats  `json:"writes" yaml:"writes"`
	Errors   int           `json:"errors" yaml:"errors"`
	Elapsed  time.Duration `json:"elapsed_ns" yaml:"elapsed"`
	Problems []string      `json:"problems,omitempty" yaml:"problems,omitempty"`
}

// OK reports whether the run finished without errors or integrity problems.
func (r *Report) OK() bool { return r.Errors == 0 && len(r.Problems) == 0 }

// Run drives opts.Clients concurrent clients against kind in a. The
// collection must already hold records; ids are sampled from it.
func Run(ctx context.Context, a store.Adapter, opts Options) (*Report, error) {
	if opts.Clients <= 0 || opts.OpsPerClient <= 0 {
		return nil, fmt.Errorf("clients and ops per client must be positive")
	}
	if opts.WriteShare < 0 || opts.WriteShare > 1 {
		return nil, fmt.Errorf("write share %.2f out of range [0,1]", opts.WriteShare)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	coll, err := store.NewCollection(a, opts.Kind)
	if err != nil {
		return nil, err
	}

	before, err := coll.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", opts.Kind, err)
	}
	if len(before) == 0 {
		return nil, fmt.Errorf("%s in %s is empty; seed it first", opts.Kind, a.Name())
	}
	ids := make([]string, len(before))
	for i, r := range before {
		ids[i] = r.ID()
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), opts.Clients)
	}

	var (
		mu     sync.Mutex
		reads  []time.Duration
		writes []time.Duration
		errs   int
	)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for c := 0; c < opts.Clients; c++ {
		rng := rand.New(rand.NewSource(opts.Seed + int64(c)))
		g.Go(func() error {
			var localReads, localWrites []time.Duration
			localErrs := 0
			for j := 0; j < opts.OpsPerClient; j++ {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				id := ids[rng.Intn(len(ids))]
				began := time.Now()
				var opErr error
				switch {
				case rng.Float64() < opts.WriteShare:
					_, opErr = coll.Update(gctx, id, map[string]any{})
					localWrites = append(localWrites, time.Since(began))
				case j%2 == 0:
					_, opErr = coll.List(gctx)
					localReads = append(localReads, time.Since(began))
				default:
					var res store.Result
					res, opErr = coll.Get(gctx, id)
					if opErr == nil && !res.Found() {
						opErr = fmt.Errorf("%s %s vanished", opts.Kind, id)
					}
					localReads = append(localReads, time.Since(began))
				}
				if opErr != nil {
					localErrs++
					logger.Warn("load test operation failed", zap.String("id", id), zap.Error(opErr))
				}
			}
			mu.Lock()
			reads = append(reads, localReads...)
			writes = append(writes, localWrites...)
			errs += localErrs
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{
		Store:   a.Name(),
		Kind:    opts.Kind,
		Clients: opts.Clients,
		Records: len(before),
		Reads:   computeLatencyStats(reads),
		Writes:  computeLatencyStats(writes),
		Errors:  errs,
		Elapsed: time.Since(start),
	}

	after, err := coll.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s back: %w", opts.Kind, err)
	}
	report.Problems = verify(ids, after)
	logger.Info("load test finished",
		zap.String("store", report.Store),
		zap.String("kind", opts.Kind.String()),
		zap.Int("reads", report.Reads.Count),
		zap.Int("writes", report.Writes.Count),
		zap.Int("errors", report.Errors),
		zap.Duration("elapsed", report.Elapsed))
	return report, nil
}

// verify checks that every id read before the run is still present exactly
// once.
func verify(ids []string, after []schema.Record) []string {
	seen := make(map[string]int, len(after))
	for _, r := range after {
		seen[r.ID()]++
	}
	var problems []string
	for _, id := range ids {
		switch n := seen[id]; {
		case n == 0:
			problems = append(problems, fmt.Sprintf("record %s lost", id))
		case n > 1:
			problems = append(problems, fmt.Sprintf("record %s stored %d times", id, n))
		}
	}
	if len(after) != len(ids) {
		problems = append(problems, fmt.Sprintf("collection holds %d records, expected %d", len(after), len(ids)))
	}
	return problems
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) LatencyStats {
	if len(durations) == 0 {
		return LatencyStats{}
	}
	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return LatencyStats{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
	}
}
