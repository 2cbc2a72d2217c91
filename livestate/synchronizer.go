// Package livestate keeps a local, continuously refreshed view of game
// instances for presentation layers.
//
// A Synchronizer tracks instances by ID. For each tracked instance it runs
// three tasks in one errgroup: an event listener fed by emitter
// subscriptions, a snapshot poller that covers missed events, and a countdown
// ticker. Untrack tears all three down together and waits for them to exit.
// The synchronizer only reads instance state; it never submits transactions.
package livestate

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/JdoubleU92/numgame/core/errs"
	"github.com/JdoubleU92/numgame/events"
	"github.com/JdoubleU92/numgame/game"
)

// Default refresh cadence.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultTickInterval = time.Second
)

// eventBuffer bounds the queue between the emitter and an instance's
// listener. Overflowing events are dropped; the next poll catches up.
const eventBuffer = 64

// lifecycle lists the events a tracked instance listens to.
var lifecycle = []events.EventType{
	events.EventCloneCreated,
	events.EventGameStarted,
	events.EventPlayerCommitted,
	events.EventPlayerRevealed,
	events.EventGameResults,
	events.EventGameEnded,
}

// Callbacks receive updates for tracked instances. Nil callbacks are skipped.
// They run on the instance's task goroutines and must not call Track, Untrack
// or Close.
type Callbacks struct {
	OnInstanceCreated func(events.Event)
	OnGameStarted     func(events.Event)
	OnPlayerCommitted func(events.Event)
	OnPlayerRevealed  func(events.Event)
	OnGameResolved    func(events.Event)
	OnGameEnded       func(events.Event)

	OnSnapshot func(game.Snapshot)
	OnTick     func(instanceID string, c Countdown)
}

// Options tune a Synchronizer. Zero values take the defaults.
type Options struct {
	PollInterval time.Duration
	TickInterval time.Duration
	Now          func() time.Time
}

// Synchronizer reconciles cached snapshots of tracked instances.
type Synchronizer struct {
	source  SnapshotSource
	emitter *events.Emitter // nil: poll only
	cb      Callbacks
	opts    Options

	opMu    sync.Mutex // serialises Track, Untrack and Close
	mu      sync.RWMutex
	tracked map[string]*tracker
	loads   singleflight.Group
}

type tracker struct {
	id     string
	cancel context.CancelFunc
	group  *errgroup.Group
	subs   []string
	queue  chan events.Event

	mu   sync.RWMutex
	snap *game.Snapshot
}

// New creates a Synchronizer reading snapshots from source and events from
// emitter. emitter may be nil when only polling is available, for example
// behind an RPC client.
func New(source SnapshotSource, emitter *events.Emitter, cb Callbacks, opts Options) *Synchronizer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Synchronizer{
		source:  source,
		emitter: emitter,
		cb:      cb,
		opts:    opts,
		tracked: make(map[string]*tracker),
	}
}

// Track starts following instanceID. Tracking an instance that is already
// tracked first tears down its existing listener and timers, so events are
// never delivered twice. The tasks stop when ctx is cancelled or on Untrack,
// and a cancelled ctx also removes the instance from Tracked.
func (s *Synchronizer) Track(ctx context.Context, instanceID string) error {
	if instanceID == "" {
		return fmt.Errorf("%w: instance ID required", errs.ErrInvalidInput)
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.untrack(instanceID)

	tctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(tctx)
	t := &tracker{
		id:     instanceID,
		cancel: cancel,
		group:  g,
		queue:  make(chan events.Event, eventBuffer),
	}
	if s.emitter != nil {
		t.subs = s.emitter.SubscribeMany(lifecycle, func(ev events.Event) {
			if ev.InstanceID() != instanceID {
				return
			}
			select {
			case t.queue <- ev:
			default:
				log.Printf("[livestate] %s: event queue full, dropped %s", instanceID, ev.Type)
			}
		})
	}

	s.mu.Lock()
	s.tracked[instanceID] = t
	s.mu.Unlock()

	g.Go(func() error { return s.listen(gctx, t) })
	g.Go(func() error { return s.poll(gctx, t) })
	g.Go(func() error { return s.tick(gctx, t) })
	go func() {
		<-tctx.Done()
		s.forget(t)
	}()
	return nil
}

// forget drops t once its context ends without Untrack. A newer tracker
// registered under the same ID is left alone.
func (s *Synchronizer) forget(t *tracker) {
	s.mu.Lock()
	current := s.tracked[t.id] == t
	if current {
		delete(s.tracked, t.id)
	}
	s.mu.Unlock()
	if current && s.emitter != nil {
		s.emitter.Unsubscribe(t.subs...)
	}
}

// Untrack stops following instanceID and waits for its tasks to exit. It
// reports whether the instance was tracked.
func (s *Synchronizer) Untrack(instanceID string) bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.untrack(instanceID)
}

func (s *Synchronizer) untrack(instanceID string) bool {
	s.mu.Lock()
	t, ok := s.tracked[instanceID]
	delete(s.tracked, instanceID)
	s.mu.Unlock()
	if !ok {
		return false
	}
	if s.emitter != nil {
		s.emitter.Unsubscribe(t.subs...)
	}
	t.cancel()
	_ = t.group.Wait()
	return true
}

// Close untracks every instance.
func (s *Synchronizer) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	for _, id := range s.Tracked() {
		s.untrack(id)
	}
}

// Tracked returns the tracked instance IDs in sorted order.
func (s *Synchronizer) Tracked() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tracked))
	for id := range s.tracked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns the cached snapshot of a tracked instance. It is false
// until the first successful load.
func (s *Synchronizer) Snapshot(instanceID string) (game.Snapshot, bool) {
	s.mu.RLock()
	t, ok := s.tracked[instanceID]
	s.mu.RUnlock()
	if !ok {
		return game.Snapshot{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.snap == nil {
		return game.Snapshot{}, false
	}
	return *t.snap, true
}

// ---- tasks ----

func (s *Synchronizer) listen(ctx context.Context, t *tracker) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-t.queue:
			s.dispatch(ev)
			s.refresh(ctx, t)
		}
	}
}

func (s *Synchronizer) poll(ctx context.Context, t *tracker) error {
	s.refresh(ctx, t)
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.refresh(ctx, t)
		}
	}
}

func (s *Synchronizer) tick(ctx context.Context, t *tracker) error {
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.mu.RLock()
			snap := t.snap
			t.mu.RUnlock()
			if snap == nil || s.cb.OnTick == nil {
				continue
			}
			if c, ok := CountdownOf(*snap, s.opts.Now().Unix()); ok {
				call(t.id, "tick", func() { s.cb.OnTick(t.id, c) })
			}
		}
	}
}

// refresh reloads the snapshot. Concurrent refreshes of one instance share a
// single load.
func (s *Synchronizer) refresh(ctx context.Context, t *tracker) {
	v, err, _ := s.loads.Do(t.id, func() (any, error) {
		return s.source.InstanceSnapshot(ctx, t.id)
	})
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("[livestate] %s: refresh: %v", t.id, err)
		}
		return
	}
	snap := *v.(*game.Snapshot)
	t.mu.Lock()
	t.snap = &snap
	t.mu.Unlock()
	if s.cb.OnSnapshot != nil {
		call(t.id, "snapshot", func() { s.cb.OnSnapshot(snap) })
	}
}

func (s *Synchronizer) dispatch(ev events.Event) {
	var fn func(events.Event)
	switch ev.Type {
	case events.EventCloneCreated:
		fn = s.cb.OnInstanceCreated
	case events.EventGameStarted:
		fn = s.cb.OnGameStarted
	case events.EventPlayerCommitted:
		fn = s.cb.OnPlayerCommitted
	case events.EventPlayerRevealed:
		fn = s.cb.OnPlayerRevealed
	case events.EventGameResults:
		fn = s.cb.OnGameResolved
	case events.EventGameEnded:
		fn = s.cb.OnGameEnded
	}
	if fn != nil {
		call(ev.InstanceID(), string(ev.Type), func() { fn(ev) })
	}
}

// call runs a callback, logging instead of crashing the task on panic.
func call(instanceID, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[livestate] %s: %s callback panicked: %v", instanceID, what, r)
		}
	}()
	fn()
}
