package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "widgetbus"

// Outcome labels for service call metrics.
const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

// Metrics holds the Prometheus collectors of a Runtime. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	mu sync.Mutex

	topicEntries     prometheus.Gauge
	listeners        prometheus.Gauge
	messagesReceived *prometheus.CounterVec
	valuesEmitted    prometheus.Counter
	publishes        *prometheus.CounterVec
	serviceCalls     *prometheus.HistogramVec
	serviceTimeouts  *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the runtime collectors. Call Register to expose them.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:       registerer,
		topicEntries:     newGauge("topics", "entries", "Topics with at least one listener or publisher"),
		listeners:        newGauge("topics", "listeners", "Attribute listeners attached to shared topics"),
		messagesReceived: newCounterVec("topics", "messages_received_total", "Messages delivered by the transport to shared topics", []string{"topic"}),
		valuesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "store",
			Name:      "values_emitted_total",
			Help:      "Values emitted into the instance store",
		}),
		publishes: newCounterVec("topics", "publishes_total", "Publish attempts by topic and outcome", []string{"topic", "outcome"}),
		serviceCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "services",
			Name:      "call_duration_seconds",
			Help:      "Service call latency by service and outcome",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"service", "outcome"}),
		serviceTimeouts: newCounterVec("services", "timeouts_total", "Service calls that hit their deadline", []string{"service"}),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.topicEntries,
		m.listeners,
		m.messagesReceived,
		m.valuesEmitted,
		m.publishes,
		m.serviceCalls,
		m.serviceTimeouts,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

func (m *Metrics) topicAdded() {
	if m != nil {
		m.topicEntries.Inc()
	}
}

func (m *Metrics) topicRemoved() {
	if m != nil {
		m.topicEntries.Dec()
	}
}

func (m *Metrics) listenerAdded() {
	if m != nil {
		m.listeners.Inc()
	}
}

func (m *Metrics) listenerRemoved() {
	if m != nil {
		m.listeners.Dec()
	}
}

func (m *Metrics) messageReceived(topic string) {
	if m != nil {
		m.messagesReceived.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) valueEmitted() {
	if m != nil {
		m.valuesEmitted.Inc()
	}
}

func (m *Metrics) published(topic string, err error) {
	if m == nil {
		return
	}
	outcome := outcomeOK
	if err != nil {
		outcome = outcomeError
	}
	m.publishes.WithLabelValues(topic, outcome).Inc()
}

func (m *Metrics) serviceCall(service, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.serviceCalls.WithLabelValues(service, outcome).Observe(d.Seconds())
	if outcome == outcomeTimeout {
		m.serviceTimeouts.WithLabelValues(service).Inc()
	}
}
