// Package scheduler triggers periodic Changed-type resyncs on a cron
// schedule, for a dsyncd master that wants to keep two mailbox trees
// converged without an operator re-invoking the binary by hand.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/fho/dsyncd/internal/logx"
)

// SyncFunc performs one resync attempt. ctx is cancelled when Stop is
// called while a run is in flight.
type SyncFunc func(ctx context.Context) error

// Status reports the scheduler's last/next run.
type Status struct {
	Running   bool
	LastRun   time.Time
	NextRun   time.Time
	LastError string
}

// Scheduler runs a single SyncFunc on a cron schedule. Overlapping runs
// are skipped rather than queued - a slow resync delays the next tick
// rather than piling up concurrent sessions against the same peer.
type Scheduler struct {
	cron     *cron.Cron
	syncFunc SyncFunc
	logger   *slog.Logger

	mu      sync.RWMutex
	entryID cron.EntryID
	running bool
	lastRun time.Time
	lastErr error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler that invokes fn every interval, expressed as
// a Go duration rather than a cron expression - dsyncd's resync cadence
// has no calendar semantics worth exposing.
func New(logger *slog.Logger, interval time.Duration, fn SyncFunc) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		cron:     cron.New(),
		syncFunc: fn,
		logger:   logx.SloggerWithGroup(logger, "scheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}

	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), s.runOnce)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("scheduler: invalid interval %s: %w", interval, err)
	}
	s.entryID = id

	return s, nil
}

// Start begins executing the scheduled job in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts future ticks and waits for any in-flight run to finish.
func (s *Scheduler) Stop() {
	cronCtx := s.cron.Stop()
	s.cancel()
	<-cronCtx.Done()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// TriggerNow runs the job immediately, outside of its schedule. It is a
// no-op if a run is already in flight.
func (s *Scheduler) TriggerNow() {
	if !s.claim() {
		return
	}
	go s.doRun()
}

// claim reports whether it successfully marked a run as in-flight; it
// returns false if one was already running.
func (s *Scheduler) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.wg.Add(1)
	return true
}

// runOnce is the cron-invoked entry point: it claims the run itself so
// an overlapping tick is skipped rather than queued.
func (s *Scheduler) runOnce() {
	if !s.claim() {
		return
	}
	s.doRun()
}

func (s *Scheduler) doRun() {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	err := s.syncFunc(s.ctx)

	s.mu.Lock()
	s.lastRun = start
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled resync failed", "duration", time.Since(start), "error", err)
		return
	}
	s.logger.Info("scheduled resync completed", "duration", time.Since(start))
}

// Status reports the scheduler's current state, for internal/statusapi.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running: s.running,
		LastRun: s.lastRun,
		NextRun: s.cron.Entry(s.entryID).Next,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
