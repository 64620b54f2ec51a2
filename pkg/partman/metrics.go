package partman

import "github.com/prometheus/client_golang/prometheus"

// Metrics wraps the Prometheus collectors the Manager updates, modeled on
// the teacher's own plugin/kprom: a small struct of pre-registered
// collectors with one bump method per event of interest, rather than a
// generic metrics-facade interface.
type Metrics struct {
	reconciliations   *prometheus.CounterVec
	bucketChurn       prometheus.Gauge
	triggerPublishes  *prometheus.CounterVec
	triggerDeliveries *prometheus.CounterVec
	samplesPublished  *prometheus.CounterVec
	samplesDelivered  *prometheus.CounterVec
}

// NewMetrics creates and registers the Manager's collectors against reg. A
// nil reg uses prometheus.DefaultRegisterer, matching kprom's default
// behavior when no registry is supplied.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partman",
			Name:      "reconciliations_total",
			Help:      "Topology reconciliations performed by this node as coordinator, by outcome.",
		}, []string{"outcome"}),
		bucketChurn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "partman",
			Name:      "bucket_churn_keys",
			Help:      "Number of trigger keys that changed owner in the most recent reconciliation.",
		}),
		triggerPublishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partman",
			Name:      "trigger_publishes_total",
			Help:      "Trigger mutations published to the trigger bus, by operation.",
		}, []string{"op"}),
		triggerDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partman",
			Name:      "trigger_deliveries_total",
			Help:      "Trigger mutations applied locally as the owner, by operation.",
		}, []string{"op"}),
		samplesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partman",
			Name:      "samples_published_total",
			Help:      "Runtime samples published to the data bus, by kind.",
		}, []string{"kind"}),
		samplesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "partman",
			Name:      "samples_delivered_total",
			Help:      "Runtime samples delivered to the local engine from other nodes, by kind.",
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{
		m.reconciliations, m.bucketChurn, m.triggerPublishes,
		m.triggerDeliveries, m.samplesPublished, m.samplesDelivered,
	} {
		_ = reg.Register(c) // a duplicate registration (e.g. in tests) is not fatal
	}
	return m
}

func (m *Metrics) observeReconciliation(outcome string, churn int) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.bucketChurn.Set(float64(churn))
	}
}

func (m *Metrics) observeTriggerPublish(op Operation) {
	if m == nil {
		return
	}
	m.triggerPublishes.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) observeTriggerDelivery(op Operation) {
	if m == nil {
		return
	}
	m.triggerDeliveries.WithLabelValues(op.String()).Inc()
}

func (m *Metrics) observeSamplePublish(kind SampleKind) {
	if m == nil {
		return
	}
	m.samplesPublished.WithLabelValues(kind.string()).Inc()
}

func (m *Metrics) observeSampleDelivery(kind SampleKind) {
	if m == nil {
		return
	}
	m.samplesDelivered.WithLabelValues(kind.string()).Inc()
}

func (k SampleKind) string() string {
	if k == SampleEvent {
		return "event"
	}
	return "data"
}
