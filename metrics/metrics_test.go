package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JdoubleU92/numgame/events"
)

func TestCollectorsFollowEvents(t *testing.T) {
	emitter := events.NewEmitter()
	detach := Attach(emitter)

	refunded := promtest.ToFloat64(gamesEnded.WithLabelValues("refunded"))
	prizes := promtest.ToFloat64(prizesPaid)
	refunds := promtest.ToFloat64(withdrawn.WithLabelValues("refund"))
	live := promtest.ToFloat64(clonesLive)
	failed := promtest.ToFloat64(txsExecuted.WithLabelValues("commit", "failed"))

	emitter.Emit(events.Event{Type: events.EventBlockCommit, BlockHeight: 42, Data: map[string]any{"txs": 3}})
	emitter.Emit(events.Event{Type: events.EventTxExecuted, Data: map[string]any{"type": "commit", "status": "failed"}})
	emitter.Emit(events.Event{Type: events.EventCloneCreated})
	emitter.Emit(events.Event{Type: events.EventGameResults, Data: map[string]any{"prize": uint64(190)}})
	emitter.Emit(events.Event{Type: events.EventGameEnded, Data: map[string]any{"refunded": true}})
	emitter.Emit(events.Event{Type: events.EventWithdrawal, Data: map[string]any{"kind": "refund", "amount": uint64(100)}})

	assert.Equal(t, 42.0, promtest.ToFloat64(chainHeight))
	assert.Equal(t, failed+1, promtest.ToFloat64(txsExecuted.WithLabelValues("commit", "failed")))
	assert.Equal(t, live+1, promtest.ToFloat64(clonesLive))
	assert.Equal(t, prizes+190, promtest.ToFloat64(prizesPaid))
	assert.Equal(t, refunded+1, promtest.ToFloat64(gamesEnded.WithLabelValues("refunded")))
	assert.Equal(t, refunds+100, promtest.ToFloat64(withdrawn.WithLabelValues("refund")))

	detach()
	emitter.Emit(events.Event{Type: events.EventCloneCreated})
	assert.Equal(t, live+1, promtest.ToFloat64(clonesLive), "detached collectors stop counting")
}

func TestHandlerExposesCollectors(t *testing.T) {
	gamesStarted.Inc()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "numgame_games_started_total")
}

func TestNumber(t *testing.T) {
	assert.Equal(t, 3.0, number(3))
	assert.Equal(t, 3.0, number(int64(3)))
	assert.Equal(t, 3.0, number(uint64(3)))
	assert.Equal(t, 0.0, number("3"))
}
