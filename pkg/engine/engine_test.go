package engine_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/concord/pkg/adapters/memory"
	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/engine"
	"github.com/aretw0/concord/pkg/ports"
	"github.com/aretw0/concord/pkg/presence"
	"github.com/aretw0/concord/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine   *engine.Engine
	sessions *session.Manager
	tracker  *presence.Tracker
	events   *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []domain.Event
}

func (l *eventLog) Publish(e domain.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) last() domain.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

func (l *eventLog) count(t domain.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()
	events := &eventLog{}
	sessions := session.NewManager(memory.NewStore(time.Minute), session.WithLockTimeout(10*time.Second))
	tracker := presence.NewTracker(sessions, presence.WithPublisher(events))
	opts = append([]engine.Option{engine.WithPublisher(events)}, opts...)
	return &fixture{
		engine:   engine.New(sessions, tracker, opts...),
		sessions: sessions,
		tracker:  tracker,
		events:   events,
	}
}

func (f *fixture) create(t *testing.T, id string, initial domain.SharedState) {
	t.Helper()
	_, err := f.sessions.Create(context.Background(), id, initial)
	require.NoError(t, err)
}

func energyState() domain.SharedState {
	s := domain.NewSharedState()
	s.AnalysisParameters["energyRange"] = map[string]any{"min": 1.0, "max": 10.0}
	return s
}

func param(user string, ts int64, data domain.Fields) domain.StateUpdate {
	return domain.StateUpdate{Type: domain.ParameterChange, UserID: user, Timestamp: ts, Data: data}
}

func TestSynchronize_FieldMerge(t *testing.T) {
	f := newFixture(t)
	f.create(t, "s1", energyState())

	res, err := f.engine.Synchronize(context.Background(), "s1", []domain.StateUpdate{
		param("u1", 1, domain.Fields{"energyRange": map[string]any{"min": 5.0}}),
		param("u1", 2, domain.Fields{"energyRange": map[string]any{"max": 50.0}}),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(3), res.SynchronizedState.Version, "one bump per applied update")
	assert.Equal(t, map[string]any{"min": 5.0, "max": 50.0}, res.SynchronizedState.AnalysisParameters["energyRange"])
	assert.GreaterOrEqual(t, res.PropagationTimeMs, 0.0)
}

func TestSynchronize_ShallowOverwriteAndSubtrees(t *testing.T) {
	f := newFixture(t)
	initial := domain.NewSharedState()
	initial.QueryState["dataset"] = "run-1"
	initial.QueryState["limit"] = 100.0
	f.create(t, "s1", initial)

	res, err := f.engine.Synchronize(context.Background(), "s1", []domain.StateUpdate{
		{Type: domain.QueryUpdate, UserID: "u1", Timestamp: 10, Data: domain.Fields{"dataset": "run-2"}},
		{Type: domain.VisualizationUpdate, UserID: "u1", Timestamp: 11, Data: domain.Fields{"camera": "top"}},
	})
	require.NoError(t, err)

	state := res.SynchronizedState
	assert.Equal(t, domain.Fields{"dataset": "run-2", "limit": 100.0}, state.QueryState)
	assert.Equal(t, domain.Fields{"camera": "top"}, state.VisualizationState)
	assert.Empty(t, state.AnalysisParameters)
}

func TestSynchronize_OrdersByTimestamp(t *testing.T) {
	f := newFixture(t)
	f.create(t, "s1", domain.NewSharedState())

	// Delivered out of order; the later timestamp must win.
	res, err := f.engine.Synchronize(context.Background(), "s1", []domain.StateUpdate{
		param("u1", 200, domain.Fields{"threshold": 2.0}),
		param("u1", 100, domain.Fields{"threshold": 1.0}),
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.SynchronizedState.AnalysisParameters["threshold"])
}

func TestSynchronize_TiesKeepArrivalOrder(t *testing.T) {
	f := newFixture(t)
	f.create(t, "s1", domain.NewSharedState())

	res, err := f.engine.Synchronize(context.Background(), "s1", []domain.StateUpdate{
		param("u1", 100, domain.Fields{"threshold": "first"}),
		param("u1", 100, domain.Fields{"threshold": "second"}),
	})
	require.NoError(t, err)
	assert.Equal(t, "second", res.SynchronizedState.AnalysisParameters["threshold"])
}

func TestSynchronize_SessionNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Synchronize(context.Background(), "missing", []domain.StateUpdate{
		param("u1", 1, domain.Fields{"x": 1.0}),
	})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestSynchronize_InvalidBatchCommitsNothing(t *testing.T) {
	f := newFixture(t)
	f.create(t, "s1", energyState())
	ctx := context.Background()

	_, err := f.engine.Synchronize(ctx, "s1", []domain.StateUpdate{
		param("u1", 1, domain.Fields{"energyRange": 0.0}),
		{Type: "teleport", UserID: "u1", Timestamp: 2},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidUpdate)

	_, err = f.engine.Synchronize(ctx, "s1", []domain.StateUpdate{
		param("u1", 1, domain.Fields{"energyRange": 0.0}),
		{Type: domain.CursorMove, UserID: "u1", Timestamp: 2, Data: domain.Fields{"x": "left"}},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidUpdate)

	sess, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, energyState().AnalysisParameters, sess.SharedState.AnalysisParameters)
	assert.Equal(t, domain.InitialVersion, sess.SharedState.Version)
}

func TestSynchronize_PresenceRoutedToTracker(t *testing.T) {
	f := newFixture(t)
	f.create(t, "s1", domain.NewSharedState())
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, "s1", domain.Participant{UserID: "u1"})
	require.NoError(t, err)

	res, err := f.engine.Synchronize(ctx, "s1", []domain.StateUpdate{
		param("u1", 1, domain.Fields{"bins": 64.0}),
		{Type: domain.CursorMove, UserID: "u1", Timestamp: 2, Data: domain.Fields{"x": 3.0, "y": 4.0}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.SynchronizedState.Version, "presence does not count toward the version")

	sess, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, &domain.Cursor{X: 3, Y: 4}, sess.Participants["u1"].Cursor)
}

func TestSynchronize_PresenceOnlyBatch(t *testing.T) {
	f := newFixture(t)
	f.create(t, "s1", domain.NewSharedState())
	ctx := context.Background()

	_, err := f.tracker.Join(ctx, "s1", domain.Participant{UserID: "u1"})
	require.NoError(t, err)

	res, err := f.engine.Synchronize(ctx, "s1", []domain.StateUpdate{
		{Type: domain.SelectionChange, UserID: "u1", Timestamp: 1, Data: domain.Fields{"ids": []any{"t1"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.InitialVersion, res.SynchronizedState.Version)
	assert.Zero(t, f.events.count(domain.EventStateSynced))
}

func TestSynchronize_PublishesDiff(t *testing.T) {
	f := newFixture(t)
	f.create(t, "s1", energyState())

	_, err := f.engine.Synchronize(context.Background(), "s1", []domain.StateUpdate{
		param("u1", 1, domain.Fields{"bins": 64.0}),
	})
	require.NoError(t, err)

	ev := f.events.last()
	assert.Equal(t, domain.EventStateSynced, ev.Type)
	assert.Equal(t, int64(2), ev.Version)
	require.NotNil(t, ev.Diff)
	assert.Equal(t, int64(1), ev.Diff.FromVersion)
	assert.Equal(t, domain.Fields{"bins": 64.0}, ev.Diff.AnalysisParameters)
	assert.Nil(t, ev.Diff.QueryState)
}

func TestSynchronize_Hooks(t *testing.T) {
	var got *domain.SyncEvent
	f := newFixture(t, engine.WithLifecycleHooks(domain.LifecycleHooks{
		OnSync: func(ctx context.Context, e *domain.SyncEvent) { got = e },
	}))
	f.create(t, "s1", domain.NewSharedState())

	_, err := f.engine.Synchronize(context.Background(), "s1", []domain.StateUpdate{
		param("u1", 1, domain.Fields{"a": 1.0}),
		param("u1", 2, domain.Fields{"b": 2.0}),
		param("u1", 3, domain.Fields{"c": 3.0}),
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Applied)
	assert.Equal(t, int64(1), got.FromVersion)
	assert.Equal(t, int64(4), got.ToVersion)
	assert.Empty(t, got.Conflict)
}

func TestSynchronize_VersionMonotonicUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	f.create(t, "s1", domain.NewSharedState())
	ctx := context.Background()

	const writers = 40
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		versions = make(map[int64]bool)
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Synchronize(ctx, "s1", []domain.StateUpdate{
				param(fmt.Sprintf("u%d", i), int64(i), domain.Fields{fmt.Sprintf("field%d", i): float64(i)}),
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			versions[res.SynchronizedState.Version] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sess, err := f.sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(1+writers), sess.SharedState.Version)
	assert.Len(t, sess.SharedState.AnalysisParameters, writers, "no lost updates")
	assert.Len(t, versions, writers, "every commit observed a distinct version")
}

var _ ports.Publisher = (*eventLog)(nil)
