package livestate_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JdoubleU92/numgame/core"
	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/events"
	"github.com/JdoubleU92/numgame/game"
	"github.com/JdoubleU92/numgame/internal/testutil"
	"github.com/JdoubleU92/numgame/livestate"
)

const waitFor, every = 2 * time.Second, 5 * time.Millisecond

type fakeSource struct {
	mu    sync.Mutex
	snaps map[string]game.Snapshot
	loads atomic.Int64
}

func (f *fakeSource) set(s game.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[s.InstanceID] = s
}

func (f *fakeSource) InstanceSnapshot(_ context.Context, id string) (*game.Snapshot, error) {
	f.loads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.snaps[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &s, nil
}

func newSource(snaps ...game.Snapshot) *fakeSource {
	f := &fakeSource{snaps: map[string]game.Snapshot{}}
	for _, s := range snaps {
		f.set(s)
	}
	return f
}

func TestTrackLoadsSnapshotAndPolls(t *testing.T) {
	src := newSource(game.Snapshot{InstanceID: "a", Phase: game.Idle})
	ls := livestate.New(src, nil, livestate.Callbacks{}, livestate.Options{PollInterval: 10 * time.Millisecond, TickInterval: time.Hour})
	defer ls.Close()

	require.NoError(t, ls.Track(context.Background(), "a"))
	require.Eventually(t, func() bool { _, ok := ls.Snapshot("a"); return ok }, waitFor, every)

	src.set(game.Snapshot{InstanceID: "a", Phase: game.Committing, Committed: 1})
	require.Eventually(t, func() bool {
		snap, _ := ls.Snapshot("a")
		return snap.Committed == 1
	}, waitFor, every, "poll picks up changes without events")
}

func TestEventsDriveCallbacksOnce(t *testing.T) {
	src := newSource(game.Snapshot{InstanceID: "a"})
	emitter := events.NewEmitter()

	var started, other atomic.Int64
	cb := livestate.Callbacks{
		OnGameStarted:     func(events.Event) { started.Add(1) },
		OnPlayerCommitted: func(events.Event) { other.Add(1) },
	}
	ls := livestate.New(src, emitter, cb, livestate.Options{PollInterval: time.Hour, TickInterval: time.Hour})
	defer ls.Close()

	ctx := context.Background()
	require.NoError(t, ls.Track(ctx, "a"))
	require.NoError(t, ls.Track(ctx, "a"))
	assert.Equal(t, 1, emitter.Subscribers(events.EventGameStarted), "re-tracking replaces subscriptions")
	assert.Equal(t, []string{"a"}, ls.Tracked())

	emitter.Emit(events.Event{Type: events.EventGameStarted, Data: map[string]any{events.DataInstanceID: "a"}})
	emitter.Emit(events.Event{Type: events.EventPlayerCommitted, Data: map[string]any{events.DataInstanceID: "b"}})

	require.Eventually(t, func() bool { return started.Load() == 1 }, waitFor, every)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(1), started.Load())
	assert.Zero(t, other.Load(), "events of other instances are ignored")
}

func TestEventTriggersRefresh(t *testing.T) {
	src := newSource(game.Snapshot{InstanceID: "a"})
	emitter := events.NewEmitter()
	ls := livestate.New(src, emitter, livestate.Callbacks{}, livestate.Options{PollInterval: time.Hour, TickInterval: time.Hour})
	defer ls.Close()

	require.NoError(t, ls.Track(context.Background(), "a"))
	require.Eventually(t, func() bool { _, ok := ls.Snapshot("a"); return ok }, waitFor, every)

	src.set(game.Snapshot{InstanceID: "a", Revealed: 2})
	emitter.Emit(events.Event{Type: events.EventPlayerRevealed, Data: map[string]any{events.DataInstanceID: "a"}})
	require.Eventually(t, func() bool {
		snap, _ := ls.Snapshot("a")
		return snap.Revealed == 2
	}, waitFor, every)
}

func TestUntrackStopsEverything(t *testing.T) {
	src := newSource(game.Snapshot{InstanceID: "a", Active: true, CommitEnd: 100, RevealEnd: 200})
	emitter := events.NewEmitter()

	var ticks atomic.Int64
	cb := livestate.Callbacks{OnTick: func(string, livestate.Countdown) { ticks.Add(1) }}
	ls := livestate.New(src, emitter, cb, livestate.Options{
		PollInterval: 5 * time.Millisecond,
		TickInterval: 5 * time.Millisecond,
		Now:          func() time.Time { return time.Unix(50, 0) },
	})

	require.NoError(t, ls.Track(context.Background(), "a"))
	require.Eventually(t, func() bool { return ticks.Load() > 0 }, waitFor, every)

	assert.True(t, ls.Untrack("a"))
	assert.False(t, ls.Untrack("a"))
	for _, typ := range []events.EventType{events.EventGameStarted, events.EventGameEnded} {
		assert.Zero(t, emitter.Subscribers(typ))
	}

	loads, tickCount := src.loads.Load(), ticks.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, loads, src.loads.Load(), "no polling after untrack")
	assert.Equal(t, tickCount, ticks.Load(), "no ticks after untrack")
	_, ok := ls.Snapshot("a")
	assert.False(t, ok)
}

func TestCancelledContextDropsTracker(t *testing.T) {
	src := newSource(
		game.Snapshot{InstanceID: "a", Active: true},
		game.Snapshot{InstanceID: "b", Active: true},
		game.Snapshot{InstanceID: "c", Active: true},
	)
	emitter := events.NewEmitter()
	ls := livestate.New(src, emitter, livestate.Callbacks{}, livestate.Options{PollInterval: 5 * time.Millisecond})
	defer ls.Close()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ls.Track(ctx, "a"))
	require.NoError(t, ls.Track(context.Background(), "b"))
	require.Equal(t, []string{"a", "b"}, ls.Tracked())

	cancel()
	require.Eventually(t, func() bool { return len(ls.Tracked()) == 1 }, waitFor, every)
	assert.Equal(t, []string{"b"}, ls.Tracked())
	assert.False(t, ls.Untrack("a"))
	assert.Equal(t, 1, emitter.Subscribers(events.EventGameStarted), "only b still listens")

	// Retracking replaces the old tracker; cancelling the old one must not
	// remove its replacement.
	old, cancelOld := context.WithCancel(context.Background())
	require.NoError(t, ls.Track(old, "c"))
	require.NoError(t, ls.Track(context.Background(), "c"))
	cancelOld()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"b", "c"}, ls.Tracked())
}

func TestTickReportsCountdown(t *testing.T) {
	src := newSource(game.Snapshot{InstanceID: "a", Active: true, CommitEnd: 100, RevealEnd: 200})
	got := make(chan livestate.Countdown, 16)
	cb := livestate.Callbacks{OnTick: func(_ string, c livestate.Countdown) {
		select {
		case got <- c:
		default:
		}
	}}
	ls := livestate.New(src, nil, cb, livestate.Options{
		PollInterval: time.Hour,
		TickInterval: 5 * time.Millisecond,
		Now:          func() time.Time { return time.Unix(150, 0) },
	})
	defer ls.Close()

	require.NoError(t, ls.Track(context.Background(), "a"))
	select {
	case c := <-got:
		assert.Equal(t, livestate.RegionReveal, c.Region)
		assert.Equal(t, int64(50), c.Remaining)
	case <-time.After(waitFor):
		t.Fatal("no tick")
	}
}

func TestPanickingCallbackDoesNotKillTasks(t *testing.T) {
	src := newSource(game.Snapshot{InstanceID: "a"})
	var snaps atomic.Int64
	cb := livestate.Callbacks{OnSnapshot: func(game.Snapshot) {
		snaps.Add(1)
		panic("boom")
	}}
	ls := livestate.New(src, nil, cb, livestate.Options{PollInterval: 5 * time.Millisecond, TickInterval: time.Hour})
	defer ls.Close()

	require.NoError(t, ls.Track(context.Background(), "a"))
	require.Eventually(t, func() bool { return snaps.Load() >= 3 }, waitFor, every)
}

func TestTrackRejectsEmptyID(t *testing.T) {
	ls := livestate.New(newSource(), nil, livestate.Callbacks{}, livestate.Options{})
	assert.ErrorIs(t, ls.Track(context.Background(), ""), errs.ErrInvalidInput)
}

func TestStateSourceReadsCommittedState(t *testing.T) {
	c := testutil.NewChain(t, 0)
	host := testutil.NewWallet(t)
	c.Exec(host, func(n uint64) (*core.Transaction, error) { return host.CreateClone(testutil.Factory, n, 0) })
	rec, err := c.State.GetClone(host.Address())
	require.NoError(t, err)

	src := livestate.NewStateSource(c.DB)
	_, err = src.InstanceSnapshot(context.Background(), rec.InstanceID)
	assert.ErrorIs(t, err, errs.ErrNotFound, "uncommitted writes are invisible")

	require.NoError(t, c.State.Commit())
	snap, err := src.InstanceSnapshot(context.Background(), rec.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, host.Address(), snap.Owner)
	assert.Equal(t, game.Idle, snap.Phase)
	assert.False(t, snap.Initialized)
}
