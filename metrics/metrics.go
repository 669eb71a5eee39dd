// Package metrics records group chat activity. The Recorder interface is what
// the session and the tool executor call; PrometheusRecorder exports the
// counters and histograms to a Prometheus registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives group chat events.
type Recorder interface {
	// RoundCompleted is called after every turn.
	RoundCompleted(speaker string, d time.Duration)
	// SpeakerSelected is called for every resolution with the rule that
	// produced it (first_turn, tool_call, override, return, fallback, auto).
	SpeakerSelected(step string)
	// Handoff is called when a context rule or a transfer action fires.
	Handoff(kind string)
	// ToolCall is called for every executed action.
	ToolCall(name string, failed bool, d time.Duration)
	// Terminated is called once per session with the termination reason.
	Terminated(reason string)
}

// NoOpRecorder discards everything.
type NoOpRecorder struct{}

// RoundCompleted implements Recorder.
func (NoOpRecorder) RoundCompleted(string, time.Duration) {}

// SpeakerSelected implements Recorder.
func (NoOpRecorder) SpeakerSelected(string) {}

// Handoff implements Recorder.
func (NoOpRecorder) Handoff(string) {}

// ToolCall implements Recorder.
func (NoOpRecorder) ToolCall(string, bool, time.Duration) {}

// Terminated implements Recorder.
func (NoOpRecorder) Terminated(string) {}

// OrNoOp returns r or a NoOpRecorder when r is nil.
func OrNoOp(r Recorder) Recorder {
	if r == nil {
		return NoOpRecorder{}
	}
	return r
}

// PrometheusRecorder exports group chat metrics.
type PrometheusRecorder struct {
	roundsTotal      *prometheus.CounterVec
	roundDuration    *prometheus.HistogramVec
	selectionsTotal  *prometheus.CounterVec
	handoffsTotal    *prometheus.CounterVec
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	terminations     *prometheus.CounterVec
}

// NewPrometheusRecorder registers the metrics under namespace with reg. A nil
// reg registers with the default registerer.
func NewPrometheusRecorder(namespace string, reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		roundsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "group_rounds_total",
				Help:      "Total number of group chat turns",
			},
			[]string{"speaker"},
		),
		roundDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "group_round_duration_seconds",
				Help:      "Group chat turn duration in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"speaker"},
		),
		selectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "group_speaker_selections_total",
				Help:      "Next speaker resolutions by rule",
			},
			[]string{"step"},
		),
		handoffsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "group_handoffs_total",
				Help:      "Handoffs by kind",
			},
			[]string{"kind"},
		),
		toolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "group_tool_calls_total",
				Help:      "Executed actions",
			},
			[]string{"tool", "status"},
		),
		toolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "group_tool_call_duration_seconds",
				Help:      "Action execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		terminations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "group_terminations_total",
				Help:      "Finished sessions by reason",
			},
			[]string{"reason"},
		),
	}
}

// RoundCompleted implements Recorder.
func (r *PrometheusRecorder) RoundCompleted(speaker string, d time.Duration) {
	r.roundsTotal.WithLabelValues(speaker).Inc()
	r.roundDuration.WithLabelValues(speaker).Observe(d.Seconds())
}

// SpeakerSelected implements Recorder.
func (r *PrometheusRecorder) SpeakerSelected(step string) {
	r.selectionsTotal.WithLabelValues(step).Inc()
}

// Handoff implements Recorder.
func (r *PrometheusRecorder) Handoff(kind string) {
	r.handoffsTotal.WithLabelValues(kind).Inc()
}

// ToolCall implements Recorder.
func (r *PrometheusRecorder) ToolCall(name string, failed bool, d time.Duration) {
	status := "success"
	if failed {
		status = "error"
	}
	r.toolCallsTotal.WithLabelValues(name, status).Inc()
	r.toolCallDuration.WithLabelValues(name).Observe(d.Seconds())
}

// Terminated implements Recorder.
func (r *PrometheusRecorder) Terminated(reason string) {
	r.terminations.WithLabelValues(reason).Inc()
}
