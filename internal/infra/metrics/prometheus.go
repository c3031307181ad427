package metrics

import (
	"time"

	"notifgate/internal/domain/notification"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ notification.Metrics = (*Prometheus)(nil)

// Prometheus records send outcomes and rate check latency.
type Prometheus struct {
	sends     *prometheus.CounterVec
	rateCheck prometheus.Histogram
}

// NewPrometheus registers the collectors on reg.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)

	return &Prometheus{
		sends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "notifgate_sends_total",
			Help: "Total number of send attempts by outcome.",
		}, []string{"outcome"}),
		rateCheck: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "notifgate_rate_check_duration_seconds",
			Help:    "Latency of the windowed rate check.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveSend counts one send attempt.
func (p *Prometheus) ObserveSend(outcome string) {
	p.sends.WithLabelValues(outcome).Inc()
}

// ObserveRateCheck records how long one rate check took.
func (p *Prometheus) ObserveRateCheck(d time.Duration) {
	p.rateCheck.Observe(d.Seconds())
}
