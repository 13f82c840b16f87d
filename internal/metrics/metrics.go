package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	turnsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchchat_turns_total",
		Help: "Completed turns by outcome (delivered, failed code, canceled, invalid)",
	}, []string{"outcome"})

	turnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchchat_turn_duration_seconds",
		Help:    "End to end turn latency including streaming",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
	})

	contextDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchchat_context_decisions_total",
		Help: "Context reuse decisions by reason",
	}, []string{"reason"})

	relevanceScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchchat_relevance_score",
		Help:    "Follow-up relevance score distribution",
		Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.55, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	backendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "searchchat_backend_latency_seconds",
		Help:    "Latency of calls to external backends",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"backend", "op", "status"})

	suggestionsReturned = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "searchchat_suggestions_returned",
		Help:    "Number of suggestions returned per turn",
		Buckets: []float64{0, 1, 2, 3, 4},
	})

	suggestionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "searchchat_suggestion_failures_total",
		Help: "Suggestion generation failures absorbed by the orchestrator",
	})

	streamChunks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "searchchat_stream_chunks_total",
		Help: "Answer chunks written to clients by transport",
	}, []string{"transport"})
)

func ensureRegistered() {
	once.Do(func() {
		prometheus.MustRegister(turnsTotal, turnDuration, contextDecisions, relevanceScore,
			backendLatency, suggestionsReturned, suggestionFailures, streamChunks)
	})
}

// ObserveTurn records the outcome and latency of a turn.
func ObserveTurn(outcome string, start time.Time) {
	ensureRegistered()
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.Observe(time.Since(start).Seconds())
}

// IncDecision counts a context reuse decision.
func IncDecision(reason string) {
	ensureRegistered()
	contextDecisions.WithLabelValues(reason).Inc()
}

// ObserveRelevance records a computed relevance score.
func ObserveRelevance(score float64) {
	ensureRegistered()
	relevanceScore.Observe(score)
}

// ObserveBackend records latency of one backend call.
func ObserveBackend(backend, op string, start time.Time, err error) {
	ensureRegistered()
	status := "ok"
	if err != nil {
		status = "error"
	}
	backendLatency.WithLabelValues(backend, op, status).Observe(time.Since(start).Seconds())
}

// ObserveSuggestions records how many suggestions a turn produced.
func ObserveSuggestions(n int) {
	ensureRegistered()
	suggestionsReturned.Observe(float64(n))
}

func IncSuggestionFailure() {
	ensureRegistered()
	suggestionFailures.Inc()
}

func AddStreamChunks(transport string, n int) {
	ensureRegistered()
	streamChunks.WithLabelValues(transport).Add(float64(n))
}
