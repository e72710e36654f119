package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/DavNight89/adminEstate/internal/estate/dedup"
	"github.com/DavNight89/adminEstate/internal/estate/sync"
)

// Scheduler runs periodic jobs next to the watcher: full syncs on a cron
// schedule and pruning of old backups.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

// cronLogger routes cron's own messages through zap.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}

// NewScheduler returns an idle scheduler. Jobs added before Start run on
// their schedules until Stop.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("schedule")
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger{logger.Sugar()}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger.Sugar()})),
		),
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddSync reconciles every kind through r on spec, a standard cron
// expression or a descriptor such as "@every 1h".
func (s *Scheduler) AddSync(spec string, r *sync.Reconciler, req sync.Request) error {
	if r == nil {
		return fmt.Errorf("reconciler cannot be nil")
	}
	_, err := s.cron.AddFunc(spec, func() { s.runSync(r, req) })
	if err != nil {
		return fmt.Errorf("invalid sync schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) runSync(r *sync.Reconciler, req sync.Request) {
	start := s.now()
	results, err := r.ReconcileAll(s.ctx, req)
	merged := 0
	for _, res := range results {
		merged += res.Merged
	}
	if err != nil {
		s.logger.Error("scheduled sync failed", zap.Int("kinds", len(results)), zap.Error(err))
		return
	}
	s.logger.Info("scheduled sync finished",
		zap.Int("kinds", len(results)),
		zap.Int("merged", merged),
		zap.Duration("took", s.now().Sub(start)))
}

// AddPrune deletes snapshots in dir older than retention on spec.
func (s *Scheduler) AddPrune(spec, dir string, retention time.Duration) error {
	if retention <= 0 {
		return fmt.Errorf("retention must be positive")
	}
	_, err := s.cron.AddFunc(spec, func() { s.runPrune(dir, retention) })
	if err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}
	return nil
}

func (s *Scheduler) runPrune(dir string, retention time.Duration) {
	removed, err := dedup.Prune(dir, s.now().Add(-retention))
	if err != nil {
		s.logger.Error("backup prune failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	if len(removed) > 0 {
		s.logger.Info("pruned backups", zap.String("dir", dir), zap.Int("removed", len(removed)))
	}
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

// Start begins running jobs in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop cancels running syncs and waits for jobs to return or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
