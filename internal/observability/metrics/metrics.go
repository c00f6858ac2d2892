package metrics

import "github.com/prometheus/client_golang/prometheus"

// IntakeMetrics exposes counters/histograms for the conversational intake flow.
type IntakeMetrics struct {
	messagesTotal     *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	extractionsTotal  *prometheus.CounterVec
	escalationsTotal  *prometheus.CounterVec
	appointmentsTotal *prometheus.CounterVec
	webhookLatency    *prometheus.HistogramVec
}

func NewIntakeMetrics(reg prometheus.Registerer) *IntakeMetrics {
	m := &IntakeMetrics{
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labintake",
			Subsystem: "conversation",
			Name:      "inbound_messages_total",
			Help:      "Total inbound patient messages",
		}, []string{"kind", "status"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labintake",
			Subsystem: "conversation",
			Name:      "state_transitions_total",
			Help:      "Conversation state transitions",
		}, []string{"from", "to"}),
		extractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labintake",
			Subsystem: "extract",
			Name:      "document_extractions_total",
			Help:      "Medical-order extraction attempts",
		}, []string{"outcome"}),
		escalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labintake",
			Subsystem: "conversation",
			Name:      "escalations_total",
			Help:      "Handoffs to a human operator",
		}, []string{"reason"}),
		appointmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "labintake",
			Subsystem: "schedule",
			Name:      "appointments_total",
			Help:      "Completed appointment intakes",
		}, []string{"attention_type"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "labintake",
			Subsystem: "http",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of inbound webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.messagesTotal,
		m.transitionsTotal,
		m.extractionsTotal,
		m.escalationsTotal,
		m.appointmentsTotal,
		m.webhookLatency,
	)
	return m
}

func (m *IntakeMetrics) ObserveMessage(kind, status string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(kind, status).Inc()
}

func (m *IntakeMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	if to == "" {
		to = "none"
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *IntakeMetrics) ObserveExtraction(outcome string) {
	if m == nil {
		return
	}
	m.extractionsTotal.WithLabelValues(outcome).Inc()
}

func (m *IntakeMetrics) ObserveEscalation(reason string) {
	if m == nil {
		return
	}
	m.escalationsTotal.WithLabelValues(reason).Inc()
}

func (m *IntakeMetrics) ObserveAppointment(attentionType string) {
	if m == nil {
		return
	}
	m.appointmentsTotal.WithLabelValues(attentionType).Inc()
}

func (m *IntakeMetrics) ObserveWebhookLatency(route string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(route).Observe(seconds)
}
