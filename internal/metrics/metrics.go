// Package metrics exports push operation outcomes to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tinywideclouds/go-skykit/pkg/dispatch"
	"github.com/tinywideclouds/go-skykit/pkg/push"
)

const namespace = "skykit"

// Collector implements push.Observer.
type Collector struct {
	recipients *prometheus.CounterVec
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

var _ push.Observer = (*Collector)(nil)

// NewCollector creates the push metrics and registers them with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		recipients: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "recipients_total",
			Help:      "Push recipients by target kind and outcome.",
		}, []string{"target", "outcome"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "operations_total",
			Help:      "Finished push operations by target kind and final state.",
		}, []string{"target", "state", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "operation_duration_seconds",
			Help:      "Time from Start to completion of push operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"target"}),
	}
	reg.MustRegister(c.recipients, c.operations, c.duration)
	return c
}

func (c *Collector) RecipientFinished(kind dispatch.TargetKind, err error) {
	c.recipients.WithLabelValues(kind.String(), outcome(err)).Inc()
}

func (c *Collector) OperationFinished(kind dispatch.TargetKind, state push.State, err error, elapsed time.Duration) {
	c.operations.WithLabelValues(kind.String(), state.String(), outcome(err)).Inc()
	if elapsed > 0 {
		c.duration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
	}
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
