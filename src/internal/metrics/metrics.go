package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EngineMetrics struct {
	OracleInvocations *prometheus.CounterVec
	OracleDuration    *prometheus.HistogramVec
	Findings          prometheus.Counter
	Candidates        *prometheus.CounterVec
	IndexBuilds       *prometheus.CounterVec
	TargetTxs         *prometheus.CounterVec
}

func NewEngineMetrics() *EngineMetrics {
	return &EngineMetrics{
		OracleInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossleak_oracle_invocations_total",
			Help: "Total number of oracle invocations by mode and outcome",
		}, []string{"mode", "outcome"}),
		OracleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crossleak_oracle_duration_seconds",
			Help:    "Wall time of oracle invocations in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),
		Findings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crossleak_findings_total",
			Help: "Total number of confirmed cross-contract control leaks",
		}),
		Candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossleak_candidates_total",
			Help: "Total number of candidate transactions sent to verification by kind",
		}, []string{"kind"}),
		IndexBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossleak_index_builds_total",
			Help: "Total number of dependency index lookups by result",
		}, []string{"result"}),
		TargetTxs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crossleak_target_txs_total",
			Help: "Total number of target transactions by outcome",
		}, []string{"outcome"}),
	}
}

// Register adds every collector to reg; a nil reg means the default registry.
func (m *EngineMetrics) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{m.OracleInvocations, m.OracleDuration, m.Findings, m.Candidates, m.IndexBuilds, m.TargetTxs} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveOracle matches oracle.Process.Observe.
func (m *EngineMetrics) ObserveOracle(mode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.OracleInvocations.WithLabelValues(mode, outcome).Inc()
	m.OracleDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *EngineMetrics) Finding() {
	if m == nil {
		return
	}
	m.Findings.Inc()
}

func (m *EngineMetrics) Candidate(kind string) {
	if m == nil {
		return
	}
	m.Candidates.WithLabelValues(kind).Inc()
}

// IndexBuild matches the depindex outcome callback.
func (m *EngineMetrics) IndexBuild(result string) {
	if m == nil {
		return
	}
	m.IndexBuilds.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) TargetTx(outcome string) {
	if m == nil {
		return
	}
	m.TargetTxs.WithLabelValues(outcome).Inc()
}
