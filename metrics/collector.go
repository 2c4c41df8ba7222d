// Package metrics exports consumer lifecycle and delivery outcomes to
// Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/glimte/queue-manager-go/internal/rabbitmq"
)

const namespace = "queue_manager"

// Collector implements rabbitmq.MetricsCollector on top of Prometheus.
type Collector struct {
	state          *prometheus.GaugeVec
	deliveries     *prometheus.CounterVec
	reconnects     prometheus.Counter
	reconnectDelay prometheus.Gauge
}

var _ rabbitmq.MetricsCollector = (*Collector)(nil)

// NewCollector creates the collector and registers its metrics on reg.
// constLabels are attached to every metric, typically the queue name.
func NewCollector(reg prometheus.Registerer, constLabels prometheus.Labels) (*Collector, error) {
	c := &Collector{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "consumer_state",
			Help:        "Current lifecycle state of the consumer, 1 for the active state.",
			ConstLabels: constLabels,
		}, []string{"state"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "deliveries_total",
			Help:        "Deliveries settled by the consumer, by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "reconnects_total",
			Help:        "Reconnects scheduled after the connection was lost.",
			ConstLabels: constLabels,
		}),
		reconnectDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "reconnect_delay_seconds",
			Help:        "Delay of the most recently scheduled reconnect.",
			ConstLabels: constLabels,
		}),
	}

	for _, m := range []prometheus.Collector{c.state, c.deliveries, c.reconnects, c.reconnectDelay} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}

	for _, s := range rabbitmq.States() {
		c.state.WithLabelValues(s.String()).Set(0)
	}
	c.state.WithLabelValues(rabbitmq.StateDisconnected.String()).Set(1)

	return c, nil
}

// StateChanged implements rabbitmq.MetricsCollector
func (c *Collector) StateChanged(from, to rabbitmq.State) {
	c.state.WithLabelValues(from.String()).Set(0)
	c.state.WithLabelValues(to.String()).Set(1)
}

// DeliverySettled implements rabbitmq.MetricsCollector
func (c *Collector) DeliverySettled(outcome rabbitmq.Outcome) {
	c.deliveries.WithLabelValues(string(outcome)).Inc()
}

// ReconnectScheduled implements rabbitmq.MetricsCollector
func (c *Collector) ReconnectScheduled(delay time.Duration) {
	c.reconnects.Inc()
	c.reconnectDelay.Set(delay.Seconds())
}
