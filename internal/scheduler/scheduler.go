// Package scheduler drives the periodic execution of checks. Each enabled
// check gets its own timer with a small startup jitter so a restart does not
// fire every probe at once, and the run lock guarantees a check never
// overlaps itself.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/convomesh/sentinel/internal/domain"
	"github.com/convomesh/sentinel/internal/probe"
	"github.com/convomesh/sentinel/internal/repo"
	"github.com/convomesh/sentinel/internal/runlock"
)

const (
	minInterval = 5 * time.Second
	maxJitter   = 10 * time.Second
)

type Scheduler struct {
	log      *zap.Logger
	executor *probe.Executor
	results  repo.ResultStore
	lock     *runlock.Lock

	mu      sync.Mutex
	checks  map[string]domain.CheckDefinition
	timers  map[string]*time.Timer
	stopped bool
}

func New(log *zap.Logger, ex *probe.Executor, rs repo.ResultStore, lock *runlock.Lock) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if lock == nil {
		lock = runlock.New()
	}
	return &Scheduler{
		log:      log,
		executor: ex,
		results:  rs,
		lock:     lock,
		checks:   map[string]domain.CheckDefinition{},
		timers:   map[string]*time.Timer{},
	}
}

// Start registers the checks and arms a timer per enabled check. Disabled
// checks are kept so a manual trigger can still reach them, but never get
// a timer.
func (s *Scheduler) Start(checks []domain.CheckDefinition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	for _, def := range checks {
		def := def
		s.checks[def.Key()] = def
		if !def.Enabled {
			s.log.Info("check_disabled", zap.String("check", def.Key()))
			continue
		}
		interval := s.interval(def)
		jitter := time.Duration(rand.Int63n(int64(minDur(interval, maxJitter))))
		s.arm(def, jitter)
		s.log.Info("check_scheduled",
			zap.String("check", def.Key()),
			zap.String("type", string(def.Type)),
			zap.Duration("interval", interval),
			zap.Duration("first_run_in", jitter),
		)
	}
}

// Stop cancels every timer. Safe to call more than once; runs already in
// flight finish on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.log.Info("scheduler_stopped")
}

// Trigger runs one check immediately, outside its timer cadence. It shares
// the execute path with scheduled ticks, so a tick already holding the run
// lock surfaces as ErrAlreadyRunning instead of a second concurrent run.
func (s *Scheduler) Trigger(ctx context.Context, key string) (*domain.ResultRecord, error) {
	s.mu.Lock()
	def, ok := s.checks[key]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown check %q", key)
	}
	if !s.lock.TryAcquire(key) {
		return nil, domain.ErrAlreadyRunning
	}
	defer s.lock.Release(key)
	return s.execute(ctx, def), nil
}

func (s *Scheduler) interval(def domain.CheckDefinition) time.Duration {
	iv := time.Duration(def.IntervalSeconds) * time.Second
	if iv < minInterval {
		iv = minInterval
	}
	return iv
}

// arm schedules the next firing. Caller holds s.mu.
func (s *Scheduler) arm(def domain.CheckDefinition, in time.Duration) {
	key := def.Key()
	s.timers[key] = time.AfterFunc(in, func() { s.tick(def) })
}

func (s *Scheduler) tick(def domain.CheckDefinition) {
	key := def.Key()
	defer func() {
		s.mu.Lock()
		if !s.stopped {
			s.arm(def, s.interval(def))
		}
		s.mu.Unlock()
	}()

	if !s.lock.TryAcquire(key) {
		// previous run still going, this tick is forfeit
		s.log.Debug("tick_skipped_still_running", zap.String("check", key))
		return
	}
	defer s.lock.Release(key)

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("check_panicked",
				zap.String("check", key),
				zap.Any("panic", r))
		}
	}()

	s.execute(context.Background(), def)
}

func (s *Scheduler) execute(ctx context.Context, def domain.CheckDefinition) *domain.ResultRecord {
	start := time.Now()
	out := s.executor.Execute(ctx, def)
	if out.DurationMS == 0 {
		out.DurationMS = time.Since(start).Milliseconds()
	}

	rec := &domain.ResultRecord{
		CheckKey:   def.Key(),
		CheckedAt:  time.Now().UTC(),
		OK:         out.OK,
		StatusCode: out.StatusCode,
		DurationMS: out.DurationMS,
		ErrorText:  out.ErrorText,
		Details:    out.Details,
	}
	if err := s.results.Append(ctx, rec); err != nil {
		s.log.Warn("result_append_error",
			zap.String("check", rec.CheckKey),
			zap.Error(err))
	}

	lvl := s.log.Info
	if !out.OK {
		lvl = s.log.Warn
	}
	lvl("check_done",
		zap.String("check", rec.CheckKey),
		zap.Bool("ok", rec.OK),
		zap.Int("status", rec.StatusCode),
		zap.Int64("duration_ms", rec.DurationMS),
		zap.String("error", rec.ErrorText),
	)
	return rec
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
