package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the gateway's Prometheus instruments, generalized from
// the teacher's internal/gateway/metrics_prometheus.go connection/data
// point/error/latency counters to this gateway's CIP domain. Unlike the
// teacher, which registers against the global prometheus.MustRegister
// and serves /metrics itself, this package never starts an HTTP
// listener: the caller registers Metrics against whatever
// prometheus.Registerer its own process already exposes.
type Metrics struct {
	ConnectionsOpened prometheus.Counter
	CIPRequestsTotal  *prometheus.CounterVec
	CIPErrorsTotal    *prometheus.CounterVec
	RequestDuration   prometheus.Histogram
	PoolInUse         *prometheus.GaugeVec
}

// NewMetrics constructs the instrument set, unregistered.
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cipgateway",
			Name:      "connections_opened_total",
			Help:      "Total number of ENIP connections successfully opened.",
		}),
		CIPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cipgateway",
			Name:      "cip_requests_total",
			Help:      "Total CIP requests dispatched, by service code.",
		}, []string{"service"}),
		CIPErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cipgateway",
			Name:      "cip_errors_total",
			Help:      "Total CIP replies carrying a non-zero general status, by status.",
		}, []string{"general_status"}),
		RequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cipgateway",
			Name:      "request_duration_seconds",
			Help:      "Round-trip duration of dispatched CIP requests.",
			Buckets:   prometheus.DefBuckets,
		}),
		PoolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cipgateway",
			Name:      "pool_connections_in_use",
			Help:      "Connections currently leased out of the pool, by endpoint.",
		}, []string{"endpoint"}),
	}
}

// MustRegister registers every instrument against reg, panicking on a
// duplicate-registration error the way the teacher's initMetrics does.
func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		m.ConnectionsOpened,
		m.CIPRequestsTotal,
		m.CIPErrorsTotal,
		m.RequestDuration,
		m.PoolInUse,
	)
}

// RecordRequest updates CIPRequestsTotal, RequestDuration, and (on a
// CIP-level error) CIPErrorsTotal for one dispatched request.
func (m *Metrics) RecordRequest(service string, generalStatus uint8, seconds float64) {
	m.CIPRequestsTotal.WithLabelValues(service).Inc()
	m.RequestDuration.Observe(seconds)
	if generalStatus != 0 {
		m.CIPErrorsTotal.WithLabelValues(formatStatus(generalStatus)).Inc()
	}
}

func formatStatus(s uint8) string {
	const hexDigits = "0123456789abcdef"
	return "0x" + string([]byte{hexDigits[s>>4], hexDigits[s&0x0F]})
}
