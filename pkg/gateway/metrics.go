package gateway

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts gateway requests by method and outcome ("ok" or the
// protocol error code).
type Metrics struct {
	requests *prometheus.CounterVec
}

// NewMetrics creates the gateway's collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "viewgroups_gateway_requests_total",
				Help: "Total gateway requests by method and outcome",
			},
			[]string{"method", "outcome"},
		),
	}
	reg.MustRegister(m.requests)
	return m
}

func (m *Metrics) observe(method, outcome string) {
	if method == "" {
		method = "unknown"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}
