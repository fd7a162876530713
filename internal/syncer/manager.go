// Package syncer replays the action queue against the remote service.
//
// A Manager runs at most one pass at a time. Triggers that arrive while a
// pass is running coalesce into a single rerun, and SyncNow callers join
// whatever pass is in flight. Each action is dispatched on its own with a
// timeout; a failure is recorded on that action and the pass moves on.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/errs"
	"github.com/mrlokans/shelfsync/internal/events"
	"github.com/mrlokans/shelfsync/internal/logging"
	"github.com/mrlokans/shelfsync/internal/network"
)

const (
	defaultDispatchTimeout = 30 * time.Second
	drainKey               = "drain"
)

type Manager struct {
	queue      Queue
	dispatcher Dispatcher
	net        Connectivity
	progress   ProgressReporter
	cfg        Config
	log        *zerolog.Logger

	group singleflight.Group
	kick  chan Reason
	done  chan struct{}
	wg    sync.WaitGroup

	// baseCtx outlives individual SyncNow callers so a joined pass is not
	// cut short when the caller that started it goes away.
	baseCtx  context.Context
	running  atomic.Bool
	stopping atomic.Bool
	started  atomic.Bool

	mu     sync.Mutex
	status Status

	unsubscribeNet func()
	statusBus      *events.Bus[Status]
}

func NewManager(q Queue, d Dispatcher, net Connectivity, cfg Config) *Manager {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaultDispatchTimeout
	}
	if cfg.MaxBackoff > 0 && cfg.RetryBackoff > cfg.MaxBackoff {
		cfg.RetryBackoff = cfg.MaxBackoff
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	state := StateIdle
	if !net.IsOnline() {
		state = StateOffline
	}

	return &Manager{
		queue:      q,
		dispatcher: d,
		net:        net,
		cfg:        cfg,
		log:        logging.Get("syncer"),
		kick:       make(chan Reason, 1),
		done:       make(chan struct{}),
		baseCtx:    context.Background(),
		status:     Status{State: state},
		statusBus:  events.NewBus[Status](),
	}
}

// SetProgressReporter sets where pass progress is persisted.
func (m *Manager) SetProgressReporter(p ProgressReporter) {
	m.progress = p
}

// OnStatusChanged registers fn for every status change.
func (m *Manager) OnStatusChanged(fn func(Status)) (unsubscribe func()) {
	return m.statusBus.Subscribe(fn)
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Manager) updateStatus(fn func(*Status)) {
	m.mu.Lock()
	fn(&m.status)
	snapshot := m.status
	m.mu.Unlock()
	m.statusBus.Publish(snapshot)
}

// Start reconciles actions left in Syncing by a previous run, then starts
// the background worker. Coming online triggers a pass.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("sync manager already started")
	}
	m.baseCtx = context.WithoutCancel(ctx)

	if _, err := m.Reconcile(ctx); err != nil {
		return err
	}
	if err := m.refreshCounts(ctx); err != nil {
		m.log.Warn().Err(err).Msg("failed to read queue stats")
	}

	m.unsubscribeNet = m.net.OnChange(m.onNetworkChange)

	m.wg.Add(1)
	go m.worker()

	if m.net.IsOnline() {
		m.Trigger(ReasonStartup)
	}
	m.log.Info().Dur("dispatch_timeout", m.cfg.DispatchTimeout).Msg("sync manager started")
	return nil
}

// Stop stops accepting triggers, lets the in-flight action finish and
// waits for the worker to exit.
func (m *Manager) Stop() {
	if !m.stopping.CompareAndSwap(false, true) {
		return
	}
	if m.unsubscribeNet != nil {
		m.unsubscribeNet()
	}
	close(m.done)
	m.wg.Wait()
	m.log.Info().Msg("sync manager stopped")
}

// Reconcile marks actions stuck in Syncing as failed. It returns how many
// were moved; records that changed or vanished meanwhile are not counted.
func (m *Manager) Reconcile(ctx context.Context) (int, error) {
	stale, err := m.queue.ListSyncing(ctx)
	if err != nil {
		return 0, fmt.Errorf("list syncing actions: %w", err)
	}
	reconciled := 0
	for _, a := range stale {
		err := m.queue.MarkFailed(ctx, a.ID, errors.New("interrupted before completion"))
		switch {
		case err == nil:
			reconciled++
		case errs.HasCode(err, errs.CodeInvalidTransition), errs.HasCode(err, errs.CodeNotFound):
			m.log.Debug().Str("id", a.ID).Msg("action left syncing before reconciliation")
		default:
			return reconciled, fmt.Errorf("reconcile action %s: %w", a.ID, err)
		}
	}
	if reconciled > 0 {
		m.log.Warn().Int("count", reconciled).Msg("reconciled interrupted actions")
	}
	return reconciled, nil
}

func (m *Manager) onNetworkChange(s network.State) {
	switch {
	case s.Online && !s.Reconnecting:
		m.Trigger(ReasonOnline)
	case !s.Online:
		if !m.running.Load() {
			m.updateStatus(func(st *Status) { st.State = StateOffline })
		}
	}
}

// Trigger asks for a pass without waiting for it. Triggers coalesce: at
// most one rerun is queued behind a running pass.
func (m *Manager) Trigger(reason Reason) {
	if m.stopping.Load() {
		return
	}
	select {
	case m.kick <- reason:
		m.log.Debug().Str("reason", string(reason)).Msg("sync triggered")
	default:
		m.log.Debug().Str("reason", string(reason)).Msg("sync already queued")
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case reason := <-m.kick:
			if m.stopping.Load() {
				return
			}
			if _, err := m.run(reason); err != nil && !errs.HasCode(err, errs.CodeOffline) {
				m.log.Error().Err(err).Str("reason", string(reason)).Msg("sync pass failed")
			}
		}
	}
}

// SyncNow runs a pass and waits for it. A caller that arrives while a
// pass is running shares that pass's result and queues one rerun so its
// own changes are picked up.
func (m *Manager) SyncNow(ctx context.Context) (Result, error) {
	joined := m.running.Load()

	ch := m.group.DoChan(drainKey, func() (any, error) {
		return m.drain(m.baseCtx, ReasonManual)
	})

	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		if joined {
			m.Trigger(ReasonManual)
		}
		res, _ := r.Val.(Result)
		return res, r.Err
	}
}

// RunOnce runs a pass for reason and waits for it.
func (m *Manager) RunOnce(ctx context.Context, reason Reason) (Result, error) {
	ch := m.group.DoChan(drainKey, func() (any, error) {
		return m.drain(context.WithoutCancel(ctx), reason)
	})
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case r := <-ch:
		res, _ := r.Val.(Result)
		return res, r.Err
	}
}

// run executes a pass for a trigger taken off kick. A pass already in
// flight collected its actions before the trigger arrived, so joining it is
// not enough: after a joined pass ends, run goes again. The second call
// either runs the pass itself or joins one that started after the first
// returned.
func (m *Manager) run(reason Reason) (Result, error) {
	var (
		v   any
		err error
	)
	for attempt := 0; attempt < 2; attempt++ {
		ran := false
		v, err, _ = m.group.Do(drainKey, func() (any, error) {
			ran = true
			return m.drain(m.baseCtx, reason)
		})
		if ran || m.stopping.Load() {
			break
		}
		m.log.Debug().Str("reason", string(reason)).Msg("joined a pass in flight, running again")
	}
	res, _ := v.(Result)
	return res, err
}

func (m *Manager) drain(ctx context.Context, reason Reason) (Result, error) {
	res := Result{Reason: reason, Started: m.cfg.Now()}

	if !m.net.IsOnline() {
		m.updateStatus(func(s *Status) { s.State = StateOffline })
		m.log.Debug().Str("reason", string(reason)).Msg("skipping sync while offline")
		return res, errs.ErrOffline
	}

	m.running.Store(true)
	defer m.running.Store(false)
	m.updateStatus(func(s *Status) {
		s.State = StateSyncing
		s.Running = true
	})

	candidates, err := m.collect(ctx)
	if err != nil {
		m.finish(ctx, &res, err)
		return res, err
	}

	m.reportStart(ctx, reason, len(candidates))
	m.log.Info().Str("reason", string(reason)).Int("actions", len(candidates)).Msg("sync pass started")

	blocked := make(map[string]bool)
	for _, c := range candidates {
		a := c.action
		if m.stopping.Load() || ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		if c.backingOff {
			res.Deferred++
			if a.AnchorKey != "" {
				blocked[a.AnchorKey] = true
			}
			continue
		}
		if a.AnchorKey != "" && blocked[a.AnchorKey] {
			res.Deferred++
			m.log.Debug().Str("id", a.ID).Str("anchor", a.AnchorKey).Msg("deferred behind earlier failure")
			continue
		}

		if err := m.queue.MarkSyncing(ctx, a.ID); err != nil {
			if errs.HasCode(err, errs.CodeInvalidTransition) || errs.HasCode(err, errs.CodeNotFound) {
				m.log.Debug().Str("id", a.ID).Msg("action changed underneath the pass")
				continue
			}
			m.finish(ctx, &res, err)
			return res, err
		}
		res.Attempted++

		dispatchErr := m.dispatch(ctx, a)
		bookkeeping := context.WithoutCancel(ctx)

		switch {
		case dispatchErr == nil || errors.Is(dispatchErr, errs.ErrSuperseded):
			if dispatchErr != nil {
				res.Conflicts++
				m.log.Info().Str("id", a.ID).Str("type", string(a.Type)).Msg("remote holds a newer version, dropping action")
			}
			if err := m.queue.MarkCompleted(bookkeeping, a.ID); err != nil {
				m.finish(ctx, &res, err)
				return res, err
			}
			res.Completed++
		default:
			if err := m.queue.MarkFailed(bookkeeping, a.ID, dispatchErr); err != nil {
				m.finish(ctx, &res, err)
				return res, err
			}
			res.Failed++
			if a.RetryCount+1 >= a.MaxRetries {
				res.PermanentlyFailed++
			}
			if a.AnchorKey != "" {
				blocked[a.AnchorKey] = true
			}
		}

		m.reportProgress(ctx, &res, a)
	}

	m.finish(ctx, &res, nil)
	return res, nil
}

type candidate struct {
	action     entities.QueuedAction
	backingOff bool
}

// collect merges pending actions with retryable ones in queue order.
// Retryable actions whose backoff has not elapsed stay in the list, marked,
// so later actions on the same record can wait behind them.
func (m *Manager) collect(ctx context.Context) ([]candidate, error) {
	pending, err := m.queue.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending actions: %w", err)
	}
	retryable, err := m.queue.ListRetryable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list retryable actions: %w", err)
	}

	now := m.cfg.Now()
	candidates := make([]candidate, 0, len(pending)+len(retryable))
	for _, a := range pending {
		candidates = append(candidates, candidate{action: a})
	}
	for _, a := range retryable {
		candidates = append(candidates, candidate{action: a, backingOff: !m.eligible(a, now)})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].action, candidates[j].action
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.EnqueuedAt.Equal(b.EnqueuedAt) {
			return a.EnqueuedAt.Before(b.EnqueuedAt)
		}
		return a.Sequence < b.Sequence
	})
	return candidates, nil
}

func (m *Manager) eligible(a entities.QueuedAction, now time.Time) bool {
	if m.cfg.RetryBackoff <= 0 || a.LastAttemptAt == nil || a.RetryCount < 1 {
		return true
	}
	return !now.Before(a.LastAttemptAt.Add(m.backoff(a.RetryCount)))
}

// backoff returns base·2^(n-1), capped at MaxBackoff.
func (m *Manager) backoff(retryCount int) time.Duration {
	d := m.cfg.RetryBackoff
	for i := 1; i < retryCount; i++ {
		d *= 2
		if m.cfg.MaxBackoff > 0 && d >= m.cfg.MaxBackoff {
			return m.cfg.MaxBackoff
		}
	}
	if m.cfg.MaxBackoff > 0 && d > m.cfg.MaxBackoff {
		return m.cfg.MaxBackoff
	}
	return d
}

// dispatch runs one handler under the dispatch timeout. A handler that
// ignores its context is abandoned when the timeout fires.
func (m *Manager) dispatch(ctx context.Context, a entities.QueuedAction) error {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.DispatchTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- m.dispatcher.Dispatch(dctx, a)
	}()

	var err error
	select {
	case err = <-result:
	case <-dctx.Done():
		err = dctx.Err()
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, errs.ErrSuperseded) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", m.cfg.DispatchTimeout, err)
	}
	m.log.Warn().Str("id", a.ID).Str("type", string(a.Type)).Err(err).Msg("dispatch failed")
	if errs.HasCode(err, errs.CodeDispatchFailed) {
		return err
	}
	return errs.Wrap(errs.CodeDispatchFailed, fmt.Sprintf("%s %s", a.Type, a.ID), err)
}

func (m *Manager) finish(ctx context.Context, res *Result, passErr error) {
	res.Finished = m.cfg.Now()
	bookkeeping := context.WithoutCancel(ctx)

	stats, statsErr := m.queue.Stats(bookkeeping)
	if statsErr == nil {
		res.Remaining = stats.Total()
	}

	if m.progress != nil {
		msg := ""
		if passErr != nil {
			msg = passErr.Error()
		} else if res.Failed > 0 {
			msg = fmt.Sprintf("%d actions failed", res.Failed)
		}
		if err := m.progress.CompleteSync(bookkeeping, passErr == nil && res.Failed == 0 && !res.Interrupted, msg); err != nil {
			m.log.Warn().Err(err).Msg("failed to persist sync completion")
		}
	}

	finished := res.Finished
	result := *res
	m.updateStatus(func(s *Status) {
		s.Running = false
		s.LastResult = &result
		s.LastSyncAt = &finished
		if statsErr == nil {
			s.Pending = stats.Total()
			s.PermanentlyFailed = stats.PermanentlyFailed
		}
		switch {
		case passErr != nil:
			s.State = StateError
			s.LastError = passErr.Error()
		case !m.net.IsOnline():
			s.State = StateOffline
			s.LastError = ""
		default:
			s.State = StateIdle
			s.LastError = ""
		}
	})

	ev := m.log.Info()
	if passErr != nil {
		ev = m.log.Error().Err(passErr)
	}
	ev.Str("reason", string(res.Reason)).
		Int("attempted", res.Attempted).
		Int("completed", res.Completed).
		Int("failed", res.Failed).
		Int("conflicts", res.Conflicts).
		Int("deferred", res.Deferred).
		Int64("remaining", res.Remaining).
		Bool("interrupted", res.Interrupted).
		Dur("duration", res.Finished.Sub(res.Started)).
		Msg("sync pass finished")
}

func (m *Manager) reportStart(ctx context.Context, reason Reason, total int) {
	if m.progress == nil {
		return
	}
	if err := m.progress.StartSync(ctx, string(reason), total); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist sync start")
	}
}

func (m *Manager) reportProgress(ctx context.Context, res *Result, a entities.QueuedAction) {
	if m.progress == nil {
		return
	}
	processed := res.Completed + res.Failed
	err := m.progress.UpdateProgress(context.WithoutCancel(ctx), processed, res.Completed, res.Failed, res.Deferred, fmt.Sprintf("%s %s", a.Type, a.ID))
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to persist sync progress")
	}
}

func (m *Manager) refreshCounts(ctx context.Context) error {
	stats, err := m.queue.Stats(ctx)
	if err != nil {
		return err
	}
	m.updateStatus(func(s *Status) {
		s.Pending = stats.Total()
		s.PermanentlyFailed = stats.PermanentlyFailed
	})
	return nil
}
