package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes counters/histograms for the conversational booking flow.
type Metrics struct {
	toolExecutions  *prometheus.CounterVec
	turns           *prometheus.CounterVec
	waitlistNotices *prometheus.CounterVec
	decisionRounds  prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		toolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic_agent",
			Name:      "tool_executions_total",
			Help:      "Actions executed on behalf of the decision-maker",
		}, []string{"action", "outcome"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic_agent",
			Name:      "turns_total",
			Help:      "Conversational turns by terminal outcome",
		}, []string{"outcome"}),
		waitlistNotices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic_agent",
			Name:      "waitlist_notifications_total",
			Help:      "Waitlist entries notified after an interval was freed",
		}, []string{"delivered"}),
		decisionRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic_agent",
			Name:      "decision_rounds",
			Help:      "Decision-maker calls per conversational turn",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.toolExecutions, m.turns, m.waitlistNotices, m.decisionRounds)
	return m
}

func (m *Metrics) ObserveToolExecution(action, outcome string) {
	if m == nil {
		return
	}
	m.toolExecutions.WithLabelValues(action, outcome).Inc()
}

func (m *Metrics) ObserveTurn(outcome string, rounds int) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	if rounds > 0 {
		m.decisionRounds.Observe(float64(rounds))
	}
}

func (m *Metrics) ObserveWaitlistNotification(delivered bool) {
	if m == nil {
		return
	}
	m.waitlistNotices.WithLabelValues(strconv.FormatBool(delivered)).Inc()
}
