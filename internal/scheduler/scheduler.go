// Package scheduler runs the periodic jobs of the sync core: a sync pass
// every interval while online, and the expired-book cleanup on a cron
// schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mrlokans/shelfsync/internal/logging"
	"github.com/mrlokans/shelfsync/internal/syncer"
	"github.com/mrlokans/shelfsync/internal/tasks"
)

// SyncTrigger starts a sync pass asynchronously.
type SyncTrigger interface {
	Trigger(reason syncer.Reason)
}

// Connectivity reports whether the remote service is reachable.
type Connectivity interface {
	IsOnline() bool
}

// TaskSubmitter hands tasks to the background task queue.
type TaskSubmitter interface {
	Submit(ctx context.Context, task backlite.Task, priority tasks.Priority) (string, error)
}

type Config struct {
	// SyncInterval of zero disables periodic sync.
	SyncInterval time.Duration
	// CleanupSchedule of "" disables scheduled cleanup.
	CleanupSchedule   string
	CleanupMaxAgeDays int
}

// Scheduler manages the periodic sync and cache cleanup jobs.
type Scheduler struct {
	cfg       Config
	sync      SyncTrigger
	net       Connectivity
	submitter TaskSubmitter
	log       *zerolog.Logger

	cron         *cron.Cron
	syncEntry    cron.EntryID
	cleanupEntry cron.EntryID
	mu           sync.RWMutex
	isRunning    bool
	cancelFunc   context.CancelFunc
}

// New creates a scheduler. submitter may be nil, in which case the cleanup
// job is not scheduled.
func New(cfg Config, trigger SyncTrigger, net Connectivity, submitter TaskSubmitter) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		sync:      trigger,
		net:       net,
		submitter: submitter,
		log:       logging.Get("scheduler"),
		cron:      cron.New(cron.WithParser(parser)),
	}
}

// Start registers the jobs and starts the cron runner. It stops when ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}

	if s.cfg.SyncInterval > 0 {
		schedule := EverySchedule(s.cfg.SyncInterval)
		id, err := s.cron.AddFunc(schedule, s.runSync)
		if err != nil {
			return fmt.Errorf("failed to schedule sync job: %w", err)
		}
		s.syncEntry = id
		s.log.Info().Str("schedule", Describe(schedule)).Msg("periodic sync scheduled")
	}

	if s.cfg.CleanupSchedule != "" && s.submitter != nil {
		if err := ValidateSchedule(s.cfg.CleanupSchedule); err != nil {
			return fmt.Errorf("invalid cron schedule '%s': %w", s.cfg.CleanupSchedule, err)
		}
		id, err := s.cron.AddFunc(s.cfg.CleanupSchedule, func() { s.runCleanup(ctx) })
		if err != nil {
			return fmt.Errorf("failed to schedule cleanup job: %w", err)
		}
		s.cleanupEntry = id
		next, _ := NextRunTime(s.cfg.CleanupSchedule, time.Now())
		s.log.Info().
			Str("schedule", Describe(s.cfg.CleanupSchedule)).
			Time("next_run", next).
			Msg("cache cleanup scheduled")
	}

	var cancelCtx context.Context
	cancelCtx, s.cancelFunc = context.WithCancel(ctx)

	s.cron.Start()
	s.isRunning = true

	go func() {
		<-cancelCtx.Done()
		s.Stop()
	}()

	return nil
}

// Stop stops the cron runner and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.isRunning = false
	if s.cancelFunc != nil {
		s.cancelFunc()
		s.cancelFunc = nil
	}
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextSync returns when the next periodic sync fires, or nil.
func (s *Scheduler) NextSync() *time.Time {
	return s.next(s.syncEntry)
}

// NextCleanup returns when the next cleanup fires, or nil.
func (s *Scheduler) NextCleanup() *time.Time {
	return s.next(s.cleanupEntry)
}

func (s *Scheduler) next(id cron.EntryID) *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning || id == 0 {
		return nil
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return nil
	}
	t := entry.Next
	return &t
}

func (s *Scheduler) runSync() {
	if !s.net.IsOnline() {
		s.log.Debug().Msg("periodic sync skipped while offline")
		return
	}
	s.sync.Trigger(syncer.ReasonPeriodic)
}

func (s *Scheduler) runCleanup(ctx context.Context) {
	id, err := s.submitter.Submit(ctx, tasks.CleanupExpiredBooksTask{MaxAgeDays: s.cfg.CleanupMaxAgeDays}, tasks.PriorityBackground)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to submit cache cleanup")
		return
	}
	s.log.Info().Str("task_id", id).Msg("cache cleanup submitted")
}
