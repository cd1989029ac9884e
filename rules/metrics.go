package rules

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	modeEvaluate = "evaluate"
	modeSimulate = "simulate"
)

// Metrics holds Prometheus collectors for the routing engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Evaluation counters
	evaluations *prometheus.CounterVec // By mode (evaluate/simulate) and outcome (matched/no_match/error)
	matches     *prometheus.CounterVec // By mode and department

	// Performance metrics
	evaluationDuration *prometheus.HistogramVec // By mode
	snapshotRules      prometheus.Gauge

	// Cache effectiveness
	cacheLookups *prometheus.CounterVec // By result (hit/miss)

	// Administrative writes
	writes *prometheus.CounterVec // By operation and outcome
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routing",
			Subsystem: "rules",
			Name:      "evaluations_total",
			Help:      "Total number of rule evaluations",
		}, []string{"mode", "outcome"}),

		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routing",
			Subsystem: "rules",
			Name:      "matches_total",
			Help:      "Total number of evaluations that selected a department",
		}, []string{"mode", "department"}),

		evaluationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "routing",
			Subsystem: "rules",
			Name:      "evaluation_duration_seconds",
			Help:      "Rule evaluation duration in seconds, including snapshot load",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"mode"}),

		snapshotRules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "routing",
			Subsystem: "rules",
			Name:      "snapshot_rules",
			Help:      "Number of rules in the most recently loaded snapshot",
		}),

		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routing",
			Subsystem: "rules",
			Name:      "cache_lookups_total",
			Help:      "Snapshot cache lookups by result",
		}, []string{"result"}),

		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "routing",
			Subsystem: "rules",
			Name:      "writes_total",
			Help:      "Administrative rule writes by operation and outcome",
		}, []string{"operation", "outcome"}),
	}

	collectors := []prometheus.Collector{
		m.evaluations, m.matches, m.evaluationDuration,
		m.snapshotRules, m.cacheLookups, m.writes,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeEvaluation(mode string, result MatchResult, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.evaluationDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	switch {
	case err != nil:
		m.evaluations.WithLabelValues(mode, "error").Inc()
	case result.Matched:
		m.evaluations.WithLabelValues(mode, "matched").Inc()
		m.matches.WithLabelValues(mode, result.DepartmentID()).Inc()
	default:
		m.evaluations.WithLabelValues(mode, "no_match").Inc()
	}
}

func (m *Metrics) observeSnapshot(size int, cacheHit bool, cacheEnabled bool) {
	if m == nil {
		return
	}
	m.snapshotRules.Set(float64(size))
	if !cacheEnabled {
		return
	}
	if cacheHit {
		m.cacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) observeWrite(operation string, err error) {
	if m == nil {
		return
	}
	m.writes.WithLabelValues(operation, outcomeLabel(err)).Inc()
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
