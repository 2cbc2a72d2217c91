package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	e := NewEmitter()
	var got []string

	id1 := e.Subscribe(EventGameStarted, func(ev Event) { got = append(got, "first:"+ev.InstanceID()) })
	id2 := e.Subscribe(EventGameStarted, func(ev Event) { got = append(got, "second:"+ev.InstanceID()) })
	require.NotEqual(t, id1, id2)

	e.Emit(Event{Type: EventGameStarted, Data: map[string]any{DataInstanceID: "inst"}})
	assert.Equal(t, []string{"first:inst", "second:inst"}, got)

	e.Unsubscribe(id1)
	e.Unsubscribe(id1)
	got = nil
	e.Emit(Event{Type: EventGameStarted, Data: map[string]any{DataInstanceID: "inst"}})
	assert.Equal(t, []string{"second:inst"}, got)

	e.Unsubscribe(id2)
	assert.Zero(t, e.Subscribers(EventGameStarted))
}

func TestSubscribeMany(t *testing.T) {
	e := NewEmitter()
	count := 0
	ids := e.SubscribeMany(GameEvents, func(Event) { count++ })
	require.Len(t, ids, len(GameEvents))

	for _, typ := range GameEvents {
		e.Emit(Event{Type: typ})
	}
	e.Emit(Event{Type: EventBlockCommit})
	assert.Equal(t, len(GameEvents), count)

	e.Unsubscribe(ids...)
	e.Emit(Event{Type: EventGameEnded})
	assert.Equal(t, len(GameEvents), count)
}

func TestPanickingHandlerIsContained(t *testing.T) {
	e := NewEmitter()
	reached := false
	e.Subscribe(EventWithdrawal, func(Event) { panic("boom") })
	e.Subscribe(EventWithdrawal, func(Event) { reached = true })

	assert.NotPanics(t, func() { e.Emit(Event{Type: EventWithdrawal}) })
	assert.True(t, reached)
}

func TestInstanceIDMissing(t *testing.T) {
	assert.Empty(t, Event{}.InstanceID())
	assert.Empty(t, Event{Data: map[string]any{DataInstanceID: 7}}.InstanceID())
}
