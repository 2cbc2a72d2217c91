package events

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit   EventType = "block_commit"
	EventTxExecuted    EventType = "tx_executed"
	EventTokenTransfer EventType = "token_transfer"

	EventCloneCreated     EventType = "clone_created"
	EventCloneReleased    EventType = "clone_released"
	EventFactoryTrusted   EventType = "factory_trusted"
	EventFactoryUntrusted EventType = "factory_untrusted"

	EventGameStarted     EventType = "game_started"
	EventPlayerCommitted EventType = "player_committed"
	EventPlayerRevealed  EventType = "player_revealed"
	EventGameResults     EventType = "game_results"
	EventGameEnded       EventType = "game_ended"

	EventFundsReceived EventType = "funds_received"
	EventWithdrawal    EventType = "withdrawal"
)

// GameEvents are the event types that describe a single instance and carry
// its ID under DataInstanceID.
var GameEvents = []EventType{
	EventCloneCreated,
	EventCloneReleased,
	EventGameStarted,
	EventPlayerCommitted,
	EventPlayerRevealed,
	EventGameResults,
	EventGameEnded,
	EventFundsReceived,
	EventWithdrawal,
}

// DataInstanceID is the Data key holding the instance an event belongs to.
const DataInstanceID = "instance_id"

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// InstanceID returns the instance the event belongs to, or "".
func (ev Event) InstanceID() string {
	id, _ := ev.Data[DataInstanceID].(string)
	return id
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

type subscription struct {
	id string
	h  Handler
}

// Emitter is a simple pub/sub broker. Handlers run synchronously on the
// emitting goroutine, in subscription order.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]subscription
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]subscription)}
}

// Subscribe registers h to be called whenever typ is emitted and returns a
// subscription ID for Unsubscribe.
func (e *Emitter) Subscribe(typ EventType, h Handler) string {
	id := uuid.NewString()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], subscription{id: id, h: h})
	return id
}

// SubscribeMany registers h for every type in types and returns the IDs.
func (e *Emitter) SubscribeMany(types []EventType, h Handler) []string {
	ids := make([]string, 0, len(types))
	for _, typ := range types {
		ids = append(ids, e.Subscribe(typ, h))
	}
	return ids
}

// Unsubscribe removes the subscriptions with the given IDs. Unknown IDs are
// ignored, so it is safe to call more than once.
func (e *Emitter) Unsubscribe(ids ...string) {
	if len(ids) == 0 {
		return
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for typ, subs := range e.handlers {
		kept := subs[:0:0]
		for _, s := range subs {
			if !drop[s.id] {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(e.handlers, typ)
		} else {
			e.handlers[typ] = kept
		}
	}
}

// Subscribers returns the number of handlers registered for typ.
func (e *Emitter) Subscribers(typ EventType) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[typ])
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// Each handler is guarded by panic recovery so a misbehaving subscriber
// cannot crash the node or halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	subs := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[events] handler panicked for %s: %v", ev.Type, r)
				}
			}()
			s.h(ev)
		}()
	}
}
