package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/shelfsync/internal/database"
	"github.com/mrlokans/shelfsync/internal/entities"
	"github.com/mrlokans/shelfsync/internal/errs"
	"github.com/mrlokans/shelfsync/internal/events"
	"github.com/mrlokans/shelfsync/internal/network"
	"github.com/mrlokans/shelfsync/internal/queue"
)

type fakeNet struct {
	online atomic.Bool
	bus    *events.Bus[network.State]
}

func newFakeNet(online bool) *fakeNet {
	n := &fakeNet{bus: events.NewBus[network.State]()}
	n.online.Store(online)
	return n
}

func (n *fakeNet) IsOnline() bool { return n.online.Load() }

func (n *fakeNet) OnChange(fn func(network.State)) func() { return n.bus.Subscribe(fn) }

func (n *fakeNet) set(online bool) {
	n.online.Store(online)
	n.bus.Publish(network.State{Online: online})
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeProgress struct {
	mu        sync.Mutex
	starts    []string
	completed []bool
}

func (p *fakeProgress) StartSync(_ context.Context, trigger string, _ int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts = append(p.starts, trigger)
	return nil
}

func (p *fakeProgress) UpdateProgress(context.Context, int, int, int, int, string) error {
	return nil
}

func (p *fakeProgress) CompleteSync(_ context.Context, ok bool, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, ok)
	return nil
}

func (p *fakeProgress) startCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.starts)
}

// recorder collects the actions handed to it in dispatch order.
type recorder struct {
	mu   sync.Mutex
	seen []entities.QueuedAction
}

func (r *recorder) record(a entities.QueuedAction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, a)
}

func (r *recorder) types() []entities.ActionType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.ActionType
	for _, a := range r.seen {
		out = append(out, a.Type)
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

type fixture struct {
	queue    *queue.Queue
	router   *Router
	net      *fakeNet
	clock    *clock
	progress *fakeProgress
	rec      *recorder
}

func setup(t *testing.T, online bool) *fixture {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	f := &fixture{
		queue:    queue.New(db, queue.Config{MaxRetries: 3, Now: c.Now}),
		router:   NewRouter(),
		net:      newFakeNet(online),
		clock:    c,
		progress: &fakeProgress{},
		rec:      &recorder{},
	}
	ok := func(_ context.Context, a entities.QueuedAction) error {
		f.rec.record(a)
		return nil
	}
	for _, typ := range entities.ActionTypes {
		f.router.Handle(typ, ok)
	}
	return f
}

func (f *fixture) manager(cfg Config) *Manager {
	cfg.Now = f.clock.Now
	m := NewManager(f.queue, f.router, f.net, cfg)
	m.SetProgressReporter(f.progress)
	return m
}

func (f *fixture) enqueue(t *testing.T, typ entities.ActionType, payload map[string]any) *entities.QueuedAction {
	t.Helper()
	a, err := f.queue.Enqueue(context.Background(), typ, payload, queue.Options{})
	require.NoError(t, err)
	return a
}

func TestRouter_UnknownTypeFails(t *testing.T) {
	r := NewRouter()
	err := r.Dispatch(context.Background(), entities.QueuedAction{ID: "a1", Type: entities.ActionDeleteNote})
	assert.True(t, errors.Is(err, errs.ErrDispatchFailed))

	r.Handle(entities.ActionDeleteNote, func(context.Context, entities.QueuedAction) error {
		return errors.New("boom")
	})
	err = r.Dispatch(context.Background(), entities.QueuedAction{ID: "a1", Type: entities.ActionDeleteNote})
	assert.ErrorContains(t, err, "delete_note a1: boom")
}

func TestManager_DrainsWhenNetworkComesBack(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	f.enqueue(t, entities.ActionUpdateProgress, map[string]any{"book_id": "b1", "page": 42})

	stats, err := f.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)

	m := f.manager(Config{})
	require.NoError(t, m.Start(ctx))
	t.Cleanup(m.Stop)
	assert.Equal(t, StateOffline, m.Status().State)

	f.net.set(true)

	assert.Eventually(t, func() bool {
		stats, err := f.queue.Stats(ctx)
		return err == nil && stats.Total() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []entities.ActionType{entities.ActionUpdateProgress}, f.rec.types())

	assert.Eventually(t, func() bool {
		s := m.Status()
		return s.State == StateIdle && s.LastResult != nil && s.LastResult.Reason == ReasonOnline
	}, time.Second, 10*time.Millisecond)
}

func TestManager_SkipsWhileOffline(t *testing.T) {
	f := setup(t, false)
	f.enqueue(t, entities.ActionUpdateProgress, map[string]any{"book_id": "b1", "page": 1})
	m := f.manager(Config{})

	_, err := m.SyncNow(context.Background())
	assert.True(t, errors.Is(err, errs.ErrOffline))
	assert.Equal(t, StateOffline, m.Status().State)
	assert.Zero(t, f.rec.count())
}

func TestManager_ReplaysInQueueOrder(t *testing.T) {
	f := setup(t, true)
	f.enqueue(t, entities.ActionCreateNote, map[string]any{"note_id": "n1", "book_id": "b1", "content": "first"})
	f.clock.Advance(time.Second)
	f.enqueue(t, entities.ActionUpdateNote, map[string]any{"note_id": "n1", "content": "second"})
	f.clock.Advance(time.Second)
	urgent, err := f.queue.Enqueue(context.Background(), entities.ActionUpdateBookmark,
		map[string]any{"book_id": "b2", "position": "p1"}, queue.Options{Priority: 9})
	require.NoError(t, err)

	res, err := f.manager(Config{}).SyncNow(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, res.Completed)
	assert.Equal(t, int64(0), res.Remaining)
	assert.Equal(t, []entities.ActionType{
		urgent.Type,
		entities.ActionCreateNote,
		entities.ActionUpdateNote,
	}, f.rec.types())
}

func TestManager_FailureIsIsolatedAndBlocksSameRecord(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	f.router.Handle(entities.ActionCreateNote, func(context.Context, entities.QueuedAction) error {
		return errors.New("remote rejected")
	})

	create := f.enqueue(t, entities.ActionCreateNote, map[string]any{"note_id": "n1", "book_id": "b1", "content": "x"})
	update := f.enqueue(t, entities.ActionUpdateNote, map[string]any{"note_id": "n1", "content": "y"})
	f.enqueue(t, entities.ActionUpdateProgress, map[string]any{"book_id": "b1", "page": 3})

	res, err := f.manager(Config{}).SyncNow(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, int64(2), res.Remaining)

	failed, err := f.queue.Get(ctx, create.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ActionStatusFailed, failed.Status)
	assert.Equal(t, 1, failed.RetryCount)
	assert.Contains(t, failed.LastError, "remote rejected")

	waiting, err := f.queue.Get(ctx, update.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ActionStatusPending, waiting.Status)

	assert.Equal(t, []bool{false}, f.progress.completed)
}

func TestManager_RetriesUntilExhausted(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	f.router.Handle(entities.ActionUpdateProgress, func(context.Context, entities.QueuedAction) error {
		return errors.New("503 from remote")
	})

	var notified atomic.Int32
	f.queue.OnPermanentFailure(func(queue.PermanentFailure) { notified.Add(1) })

	a := f.enqueue(t, entities.ActionUpdateProgress, map[string]any{"book_id": "b1", "page": 1})
	m := f.manager(Config{})

	for i := 0; i < 3; i++ {
		res, err := m.SyncNow(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Failed)
	}

	retryable, err := f.queue.ListRetryable(ctx)
	require.NoError(t, err)
	assert.Empty(t, retryable)

	stored, err := f.queue.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ActionStatusFailed, stored.Status)
	assert.Equal(t, 3, stored.RetryCount)
	assert.Equal(t, int32(1), notified.Load())

	res, err := m.SyncNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Equal(t, int64(1), m.Status().PermanentlyFailed)
}

func TestManager_BackoffDefersRetry(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	var calls atomic.Int32
	f.router.Handle(entities.ActionUpdateProgress, func(context.Context, entities.QueuedAction) error {
		if calls.Add(1) == 1 {
			return errors.New("flaky")
		}
		return nil
	})

	f.enqueue(t, entities.ActionUpdateProgress, map[string]any{"book_id": "b1", "page": 1})
	f.enqueue(t, entities.ActionUpdateProgress, map[string]any{"book_id": "b1", "page": 2})
	m := f.manager(Config{RetryBackoff: time.Minute, MaxBackoff: 10 * time.Minute})

	res, err := m.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Deferred, "second progress update waits behind the first")

	res, err = m.SyncNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Attempted)
	assert.Equal(t, 2, res.Deferred)

	f.clock.Advance(time.Minute)
	res, err = m.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Completed)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestManager_Backoff(t *testing.T) {
	m := NewManager(nil, nil, newFakeNet(true), Config{RetryBackoff: time.Second, MaxBackoff: 5 * time.Second})
	assert.Equal(t, time.Second, m.backoff(1))
	assert.Equal(t, 2*time.Second, m.backoff(2))
	assert.Equal(t, 4*time.Second, m.backoff(3))
	assert.Equal(t, 5*time.Second, m.backoff(4))
	assert.Equal(t, 5*time.Second, m.backoff(60))
}

func TestManager_DispatchTimeoutCountsAsFailure(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f.router.Handle(entities.ActionDeleteNote, func(context.Context, entities.QueuedAction) error {
		<-release
		return nil
	})

	a := f.enqueue(t, entities.ActionDeleteNote, map[string]any{"note_id": "n1"})
	res, err := f.manager(Config{DispatchTimeout: 20 * time.Millisecond}).SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	stored, err := f.queue.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ActionStatusFailed, stored.Status)
	assert.Contains(t, stored.LastError, "timed out")
}

func TestManager_SupersededCompletesAsConflict(t *testing.T) {
	f := setup(t, true)
	f.router.Handle(entities.ActionUpdateNote, func(context.Context, entities.QueuedAction) error {
		return errs.Wrap(errs.CodeSuperseded, "note n1", errors.New("409"))
	})
	f.enqueue(t, entities.ActionUpdateNote, map[string]any{"note_id": "n1", "content": "stale"})

	res, err := f.manager(Config{}).SyncNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Completed)
	assert.Equal(t, 1, res.Conflicts)
	assert.Zero(t, res.Failed)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestManager_StartReconcilesInterruptedActions(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	a := f.enqueue(t, entities.ActionUpdateProgress, map[string]any{"book_id": "b1", "page": 1})
	require.NoError(t, f.queue.MarkSyncing(ctx, a.ID))

	m := f.manager(Config{})
	require.NoError(t, m.Start(ctx))
	t.Cleanup(m.Stop)

	stored, err := f.queue.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ActionStatusFailed, stored.Status)
	assert.Equal(t, 1, stored.RetryCount)
	assert.Equal(t, int64(1), m.Status().Pending)

	assert.Error(t, m.Start(ctx), "second start is rejected")
}

func TestManager_TriggersCoalesce(t *testing.T) {
	f := setup(t, true)
	started := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	f.router.Handle(entities.ActionUpdateProgress, func(context.Context, entities.QueuedAction) error {
		once.Do(func() {
			close(started)
			<-gate
		})
		return nil
	})
	f.enqueue(t, entities.ActionUpdateProgress, map[string]any{"book_id": "b1", "page": 1})

	m := f.manager(Config{})
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Stop)

	<-started
	assert.True(t, m.Status().Running)
	m.Trigger(ReasonManual)
	m.Trigger(ReasonPeriodic)
	m.Trigger(ReasonResume)
	close(gate)

	assert.Eventually(t, func() bool { return f.progress.startCount() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, f.progress.startCount())
	assert.Equal(t, string(ReasonStartup), f.progress.starts[0])
}

func TestManager_StopWaitsForInFlightAction(t *testing.T) {
	f := setup(t, true)
	ctx := context.Background()
	started := make(chan struct{})
	gate := make(chan struct{})
	f.router.Handle(entities.ActionCreateHighlight, func(context.Context, entities.QueuedAction) error {
		close(started)
		<-gate
		return nil
	})
	first := f.enqueue(t, entities.ActionCreateHighlight, map[string]any{"highlight_id": "h1", "book_id": "b1", "text": "quote"})
	second := f.enqueue(t, entities.ActionUpdateProgress, map[string]any{"book_id": "b1", "page": 9})

	m := f.manager(Config{})
	require.NoError(t, m.Start(ctx))
	<-started

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an action was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)
	<-stopped

	_, err := f.queue.Get(ctx, first.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound), "in-flight action completed")

	pending, err := f.queue.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.ActionStatusPending, pending.Status)
	require.NotNil(t, m.Status().LastResult)
	assert.True(t, m.Status().LastResult.Interrupted)
}

func TestManager_OnStatusChanged(t *testing.T) {
	f := setup(t, true)
	f.enqueue(t, entities.ActionUpdateProgress, map[string]any{"book_id": "b1", "page": 1})
	m := f.manager(Config{})

	var mu sync.Mutex
	var states []State
	unsubscribe := m.OnStatusChanged(func(s Status) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s.State)
	})

	_, err := m.SyncNow(context.Background())
	require.NoError(t, err)
	unsubscribe()
	_, err = m.SyncNow(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateSyncing, StateIdle}, states)
}

func TestManager_TriggerDuringManualPassRunsAgain(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	started := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	f.router.Handle(entities.ActionUpdateProgress, func(_ context.Context, a entities.QueuedAction) error {
		f.rec.record(a)
		once.Do(func() {
			close(started)
			<-gate
		})
		return nil
	})
	f.enqueue(t, entities.ActionUpdateProgress, map[string]any{"book_id": "b1", "page": 3})

	m := f.manager(Config{})
	require.NoError(t, m.Start(ctx))
	t.Cleanup(m.Stop)
	f.net.online.Store(true)

	manual := make(chan Result, 1)
	go func() {
		res, _ := m.SyncNow(ctx)
		manual <- res
	}()
	<-started

	late := f.enqueue(t, entities.ActionUpdateProgress, map[string]any{"book_id": "b2", "page": 7})
	m.Trigger(ReasonManual)
	close(gate)

	res := <-manual
	assert.Equal(t, 1, res.Completed, "the running pass only saw the first action")

	assert.Eventually(t, func() bool {
		stats, err := f.queue.Stats(ctx)
		return err == nil && stats.Total() == 0
	}, 2*time.Second, 10*time.Millisecond)
	_, err := f.queue.Get(ctx, late.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Eventually(t, func() bool { return f.progress.startCount() == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, f.rec.count())
}

func TestManager_ReconcileExhaustsRetryBudget(t *testing.T) {
	f := setup(t, false)
	ctx := context.Background()
	a, err := f.queue.Enqueue(ctx, entities.ActionUpdateProgress,
		map[string]any{"book_id": "b1", "page": 1}, queue.Options{MaxRetries: 1})
	require.NoError(t, err)
	require.NoError(t, f.queue.MarkSyncing(ctx, a.ID))

	var notified atomic.Int32
	f.queue.OnPermanentFailure(func(p queue.PermanentFailure) {
		assert.Equal(t, a.ID, p.Action.ID)
		notified.Add(1)
	})

	m := f.manager(Config{})
	n, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), notified.Load())

	stored, err := f.queue.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, stored.PermanentlyFailed())

	n, err = m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, int32(1), notified.Load())
}
