// internal/common/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QuestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_questions_total",
			Help: "Total number of questions answered, by resolved intent",
		},
		[]string{"intent"},
	)

	ClassifierFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_classifier_fallback_total",
			Help: "Times the external classifier was unusable and rules took over",
		},
	)

	PlansRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_plans_rejected_total",
			Help: "Generated plans discarded by the validator",
		},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "agent_tool_call_duration_seconds",
			Help: "Duration of data tool calls in seconds",
		},
		[]string{"tool"},
	)

	ToolCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_tool_call_errors_total",
			Help: "Failed data tool calls",
		},
		[]string{"tool"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "agent_turn_duration_seconds",
			Help: "End to end duration of one question turn",
		},
	)
)

// ObserveToolCall records one tool invocation outcome.
func ObserveToolCall(tool string, elapsed time.Duration, err error) {
	ToolCallDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
	if err != nil {
		ToolCallErrors.WithLabelValues(tool).Inc()
	}
}
