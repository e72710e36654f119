package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DavNight89/adminEstate/internal/estate/schema"
	"github.com/DavNight89/adminEstate/internal/estate/store"
)

// Request selects what a reconcile run merges and writes.
type Request struct {
	Kind          schema.Kind
	Direction     Direction
	Authoritative Side
}

// Result summarises one reconcile run.
type Result struct {
	Kind               schema.Kind   `json:"kind"`
	Direction          Direction     `json:"direction"`
	StoreA             string        `json:"store_a"`
	StoreB             string        `json:"store_b"`
	LoadedA            int           `json:"loaded_a"`
	LoadedB            int           `json:"loaded_b"`
	Merged             int           `json:"merged"`
	DuplicatesDropped  int           `json:"duplicates_dropped"`
	ProtectedPreserved int           `json:"protected_preserved"`
	Written            []string      `json:"written"`
	Warnings           []string      `json:"warnings,omitempty"`
	Conflicts          []Conflict    `json:"conflicts,omitempty"`
	Success            bool          `json:"success"`
	Message            string        `json:"message"`
	Duration           time.Duration `json:"duration_ns"`
}

// Observer is notified after every completed run, successful or not.
type Observer interface {
	Reconciled(res *Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(res *Result)

func (f ObserverFunc) Reconciled(res *Result) { f(res) }

// Reconciler merges collections between store A and store B.
type Reconciler struct {
	a, b      store.Adapter
	logger    *zap.Logger
	now       func() time.Time
	observers []Observer

	mu    stdsync.Mutex
	locks map[schema.Kind]*stdsync.Mutex
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the time source used for run timing.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithObserver registers an observer for completed runs.
func WithObserver(o Observer) Option {
	return func(r *Reconciler) { r.observers = append(r.observers, o) }
}

// New creates a Reconciler over stores a and b.
//
// Example:
//
//	r := sync.New(docstore.New("data.json", logger), flatfile.New("data", logger),
//	    sync.WithLogger(logger))
func New(a, b store.Adapter, opts ...Option) *Reconciler {
	r := &Reconciler{
		a:      a,
		b:      b,
		logger: zap.NewNop(),
		now:    time.Now,
		locks:  make(map[schema.Kind]*stdsync.Mutex),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("sync").With(zap.String("a", a.Name()), zap.String("b", b.Name()))
	return r
}

// StoreA returns the A side adapter.
func (r *Reconciler) StoreA() store.Adapter { return r.a }

// StoreB returns the B side adapter.
func (r *Reconciler) StoreB() store.Adapter { return r.b }

// lock serialises runs per kind; the adapter pair is fixed per Reconciler.
func (r *Reconciler) lock(kind schema.Kind) func() {
	r.mu.Lock()
	m, ok := r.locks[kind]
	if !ok {
		m = &stdsync.Mutex{}
		r.locks[kind] = m
	}
	r.mu.Unlock()

	m.Lock()
	return m.Unlock
}

type loaded struct {
	records []schema.Record
	err     error
}

func (r *Reconciler) load(ctx context.Context, kind schema.Kind) (loaded, loaded, error) {
	var la, lb loaded
	var g errgroup.Group
	g.Go(func() error {
		la.records, la.err = store.LoadOrEmpty(ctx, r.a, kind, r.logger)
		return nil
	})
	g.Go(func() error {
		lb.records, lb.err = store.LoadOrEmpty(ctx, r.b, kind, r.logger)
		return nil
	})
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return la, lb, err
	}
	return la, lb, nil
}

// Merge loads both sides and returns the reconciled collection without
// writing anything.
func (r *Reconciler) Merge(ctx context.Context, req Request) (*Result, []schema.Record, error) {
	s, ok := schema.Lookup(req.Kind)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", store.ErrUnknownKind, req.Kind)
	}

	unlock := r.lock(req.Kind)
	defer unlock()

	res, merged, _, err := r.merge(ctx, s, req)
	return res, merged, err
}

func (r *Reconciler) merge(ctx context.Context, s *schema.Schema, req Request) (*Result, []schema.Record, [2]loaded, error) {
	res := &Result{
		Kind:      req.Kind,
		Direction: req.Direction,
		StoreA:    r.a.Name(),
		StoreB:    r.b.Name(),
		Written:   []string{},
	}

	la, lb, err := r.load(ctx, req.Kind)
	if err != nil {
		return res, nil, [2]loaded{la, lb}, err
	}
	for _, l := range []struct {
		name string
		err  error
	}{{r.a.Name(), la.err}, {r.b.Name(), lb.err}} {
		if l.err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v (treated as empty)", l.name, l.err))
		}
	}
	res.LoadedA, res.LoadedB = len(la.records), len(lb.records)

	out := newMerger(s, req).merge(la.records, lb.records)
	res.Merged = len(out.records)
	res.DuplicatesDropped = out.dropped
	res.ProtectedPreserved = out.protected
	res.Conflicts = out.conflicts

	for _, c := range out.conflicts {
		r.logger.Warn("kept preferred copy",
			zap.Error(store.ErrConflictUnresolved),
			zap.String("kind", req.Kind.String()),
			zap.String("key", c.Key),
			zap.String("kept", c.KeptID),
			zap.Stringer("kept_side", c.KeptSide),
			zap.String("dropped", c.DroppedID))
	}
	return res, out.records, [2]loaded{la, lb}, nil
}

// Reconcile merges one kind and writes the result according to
// req.Direction. Bidirectional runs write both sides in turn; if the second
// write fails, the first side is restored to what was loaded.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (*Result, error) {
	s, ok := schema.Lookup(req.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownKind, req.Kind)
	}

	unlock := r.lock(req.Kind)
	defer unlock()

	start := r.now()
	res, merged, prev, err := r.merge(ctx, s, req)
	if err == nil {
		err = r.write(ctx, req, merged, prev, res)
	}
	res.Duration = r.now().Sub(start)

	if err != nil {
		res.Success = false
		res.Message = err.Error()
		r.logger.Error("reconcile failed", zap.String("kind", req.Kind.String()), zap.Error(err))
	} else {
		res.Success = true
		res.Message = fmt.Sprintf("%s: %d records merged (%d duplicates dropped, %d protected) written to %v",
			req.Kind, res.Merged, res.DuplicatesDropped, res.ProtectedPreserved, res.Written)
		r.logger.Info("reconciled",
			zap.String("kind", req.Kind.String()),
			zap.Stringer("direction", req.Direction),
			zap.Int("loaded_a", res.LoadedA),
			zap.Int("loaded_b", res.LoadedB),
			zap.Int("merged", res.Merged),
			zap.Int("dropped", res.DuplicatesDropped),
			zap.Int("protected", res.ProtectedPreserved))
	}

	for _, o := range r.observers {
		o.Reconciled(res)
	}
	return res, err
}

func (r *Reconciler) write(ctx context.Context, req Request, merged []schema.Record, prev [2]loaded, res *Result) error {
	switch req.Direction {
	case AToB:
		if err := r.b.SaveAll(ctx, req.Kind, merged); err != nil {
			return fmt.Errorf("failed to write %s to %s: %w", req.Kind, r.b.Name(), err)
		}
		res.Written = append(res.Written, r.b.Name())
	case BToA:
		if err := r.a.SaveAll(ctx, req.Kind, merged); err != nil {
			return fmt.Errorf("failed to write %s to %s: %w", req.Kind, r.a.Name(), err)
		}
		res.Written = append(res.Written, r.a.Name())
	case Bidirectional:
		// A side that was unavailable is written last, so a failure on the
		// other side never leaves it freshly created.
		first, second := written{r.a, prev[0]}, written{r.b, prev[1]}
		if prev[0].err != nil && prev[1].err == nil {
			first, second = second, first
		}
		if err := first.to.SaveAll(ctx, req.Kind, merged); err != nil {
			return fmt.Errorf("failed to write %s to %s: %w", req.Kind, first.to.Name(), err)
		}
		if err := second.to.SaveAll(ctx, req.Kind, merged); err != nil {
			werr := fmt.Errorf("failed to write %s to %s: %w", req.Kind, second.to.Name(), err)
			if rerr := r.restore(ctx, req.Kind, first); rerr != nil {
				return errors.Join(werr, fmt.Errorf("failed to restore %s: %w", first.to.Name(), rerr))
			}
			return werr
		}
		res.Written = append(res.Written, r.a.Name(), r.b.Name())
	default:
		return fmt.Errorf("unknown sync direction %v", req.Direction)
	}
	return nil
}

type written struct {
	to   store.Adapter
	prev loaded
}

// restore puts w.to back to what was loaded from it. A collection that did
// not exist is removed when the adapter supports it.
func (r *Reconciler) restore(ctx context.Context, kind schema.Kind, w written) error {
	switch {
	case w.prev.err == nil:
		return w.to.SaveAll(ctx, kind, w.prev.records)
	case errors.Is(w.prev.err, store.ErrStorageUnavailable):
		if rm, ok := w.to.(store.Remover); ok {
			return rm.Remove(ctx, kind)
		}
	}
	r.logger.Warn("cannot restore after failed write",
		zap.String("store", w.to.Name()),
		zap.String("kind", kind.String()),
		zap.NamedError("load_error", w.prev.err))
	return nil
}

// ReconcileAll runs req for every kind in order. A failing kind does not stop
// the others; all failures are joined into the returned error.
func (r *Reconciler) ReconcileAll(ctx context.Context, req Request) ([]*Result, error) {
	var (
		results []*Result
		errs    []error
	)
	for _, kind := range schema.Kinds() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		kreq := req
		kreq.Kind = kind
		res, err := r.Reconcile(ctx, kreq)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
		}
	}
	return results, errors.Join(errs...)
}
