package httpx

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/ws"
)

var (
	histogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}
)

type metrics struct {
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, hub *ws.Hub) *metrics {
	m := &metrics{
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tally",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"}),
		rateLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"group"}),
	}
	if reg == nil {
		return m
	}

	for _, collector := range []prometheus.Collector{m.requestTotal, m.requestLatency, m.rateLimitHits} {
		if err := reg.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				continue
			}
			switch existing := are.ExistingCollector.(type) {
			case *prometheus.CounterVec:
				if collector == prometheus.Collector(m.requestTotal) {
					m.requestTotal = existing
				} else {
					m.rateLimitHits = existing
				}
			case *prometheus.HistogramVec:
				m.requestLatency = existing
			}
		}
	}

	if hub != nil {
		_ = reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "tally",
			Subsystem: "stream",
			Name:      "connections",
			Help:      "Open realtime stream connections",
		}, func() float64 { return float64(hub.Count()) }))
		_ = reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "tally",
			Subsystem: "stream",
			Name:      "dropped_connections_total",
			Help:      "Stream connections removed after a delivery failure",
		}, func() float64 { return float64(hub.Dropped()) }))
	}
	return m
}

func (m *metrics) observeRequest(method, route string, status int, duration time.Duration) {
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	m.requestTotal.With(labels).Inc()
	m.requestLatency.With(labels).Observe(duration.Seconds())
}
