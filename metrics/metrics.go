// Package metrics exports chain and game activity as Prometheus collectors.
// Collectors are fed from the event emitter, so they only ever count
// committed state changes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JdoubleU92/numgame/events"
)

const namespace = "numgame"

var (
	chainHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "chain_height",
		Help:      "Height of the last committed block.",
	})

	blockTxs = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "block_transactions",
		Help:      "Transactions included per block.",
		Buckets:   []float64{0, 1, 5, 10, 50, 100, 500},
	})

	txsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transactions_total",
		Help:      "Executed transactions by type and receipt status.",
	}, []string{"type", "status"})

	clonesLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "clones_live",
		Help:      "Instances created and not yet released since the node started.",
	})

	gamesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "games_started_total",
		Help:      "Games opened.",
	})

	gameActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "game_actions_total",
		Help:      "Accepted player actions by kind.",
	}, []string{"action"})

	gamesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "games_ended_total",
		Help:      "Resolved games by outcome.",
	}, []string{"outcome"})

	prizesPaid = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prizes_credited_total",
		Help:      "Sum of prizes credited to winners.",
	})

	withdrawn = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "withdrawn_total",
		Help:      "Value withdrawn from the ledger by balance kind.",
	}, []string{"kind"})
)

// Attach subscribes the collectors to emitter and returns a function that
// detaches them.
func Attach(emitter *events.Emitter) (detach func()) {
	ids := []string{
		emitter.Subscribe(events.EventBlockCommit, onBlockCommit),
		emitter.Subscribe(events.EventTxExecuted, onTxExecuted),
		emitter.Subscribe(events.EventCloneCreated, func(events.Event) { clonesLive.Inc() }),
		emitter.Subscribe(events.EventCloneReleased, func(events.Event) { clonesLive.Dec() }),
		emitter.Subscribe(events.EventGameStarted, func(events.Event) { gamesStarted.Inc() }),
		emitter.Subscribe(events.EventPlayerCommitted, func(events.Event) { gameActions.WithLabelValues("commit").Inc() }),
		emitter.Subscribe(events.EventPlayerRevealed, func(events.Event) { gameActions.WithLabelValues("reveal").Inc() }),
		emitter.Subscribe(events.EventGameResults, onGameResults),
		emitter.Subscribe(events.EventGameEnded, onGameEnded),
		emitter.Subscribe(events.EventWithdrawal, onWithdrawal),
	}
	return func() { emitter.Unsubscribe(ids...) }
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

func onBlockCommit(ev events.Event) {
	chainHeight.Set(float64(ev.BlockHeight))
	blockTxs.Observe(number(ev.Data["txs"]))
}

func onTxExecuted(ev events.Event) {
	typ, _ := ev.Data["type"].(string)
	status, _ := ev.Data["status"].(string)
	txsExecuted.WithLabelValues(typ, status).Inc()
}

func onGameResults(ev events.Event) {
	prizesPaid.Add(number(ev.Data["prize"]))
}

func onGameEnded(ev events.Event) {
	outcome := "won"
	if refunded, _ := ev.Data["refunded"].(bool); refunded {
		outcome = "refunded"
	}
	gamesEnded.WithLabelValues(outcome).Inc()
}

func onWithdrawal(ev events.Event) {
	kind, _ := ev.Data["kind"].(string)
	withdrawn.WithLabelValues(kind).Add(number(ev.Data["amount"]))
}

// number converts the numeric types handlers put in event data.
func number(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}
