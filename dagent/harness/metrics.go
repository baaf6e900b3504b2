package harness

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects orchestrator metrics. A nil *Metrics records nothing.
type Metrics struct {
	// SignalsEnqueued counts signals accepted by the runtime.
	SignalsEnqueued prometheus.Counter

	// SignalsProcessed counts signals whose cycle reached idle.
	SignalsProcessed prometheus.Counter

	// ReasoningDuration measures reasoning calls in seconds.
	// Labels: status (success|error)
	ReasoningDuration *prometheus.HistogramVec

	// ToolCalls counts dispatched tool calls.
	// Labels: tool, status (success|error|fault)
	ToolCalls *prometheus.CounterVec

	// StepFaults counts failed steps by phase.
	StepFaults *prometheus.CounterVec

	// SnapshotCache counts structure cache lookups.
	// Labels: result (hit|miss)
	SnapshotCache *prometheus.CounterVec

	// ActiveConversations is the number of running conversation actors.
	ActiveConversations prometheus.Gauge

	// StalledConversations is the number of conversations waiting for a resume.
	StalledConversations prometheus.Gauge
}

// NewMetrics registers the metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SignalsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dagent", Name: "signals_enqueued_total",
			Help: "Signals accepted into a conversation mailbox.",
		}),
		SignalsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dagent", Name: "signals_processed_total",
			Help: "Signals whose reasoning cycle completed.",
		}),
		ReasoningDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dagent", Name: "reasoning_duration_seconds",
			Help:    "Latency of reasoning calls.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dagent", Name: "tool_calls_total",
			Help: "Tool calls dispatched by tool and outcome.",
		}, []string{"tool", "status"}),
		StepFaults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dagent", Name: "step_faults_total",
			Help: "Orchestrator steps that returned a fault.",
		}, []string{"phase"}),
		SnapshotCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dagent", Name: "snapshot_cache_total",
			Help: "Document structure cache lookups.",
		}, []string{"result"}),
		ActiveConversations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "dagent", Name: "active_conversations",
			Help: "Conversation actors currently running.",
		}),
		StalledConversations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "dagent", Name: "stalled_conversations",
			Help: "Conversations stalled after exhausting retries.",
		}),
	}
}

func (m *Metrics) signalEnqueued() {
	if m != nil {
		m.SignalsEnqueued.Inc()
	}
}

func (m *Metrics) signalProcessed() {
	if m != nil {
		m.SignalsProcessed.Inc()
	}
}

func (m *Metrics) reasoning(start time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ReasoningDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) toolCall(tool, status string) {
	if m != nil {
		m.ToolCalls.WithLabelValues(tool, status).Inc()
	}
}

func (m *Metrics) stepFault(phase string) {
	if m != nil {
		m.StepFaults.WithLabelValues(phase).Inc()
	}
}

func (m *Metrics) snapshotCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.SnapshotCache.WithLabelValues("hit").Inc()
	} else {
		m.SnapshotCache.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) actors(delta float64) {
	if m != nil {
		m.ActiveConversations.Add(delta)
	}
}

func (m *Metrics) stalled(delta float64) {
	if m != nil {
		m.StalledConversations.Add(delta)
	}
}
