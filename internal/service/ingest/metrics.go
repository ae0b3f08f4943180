package ingest

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts pipeline outcomes.
type Metrics struct {
	ingested       prometheus.Counter
	rejected       prometheus.Counter
	storeFailures  prometheus.Counter
	mirrorFailures prometheus.Counter
	deliveries     prometheus.Counter
}

// NewMetrics registers the pipeline counters with reg, reusing collectors that are
// already registered. A nil reg leaves the counters unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ingested:       counter("events_total", "Events committed to the event store"),
		rejected:       counter("rejected_events_total", "Events rejected by validation"),
		storeFailures:  counter("store_failures_total", "Batches that failed to commit"),
		mirrorFailures: counter("index_mirror_failures_total", "Committed batches the aggregation index failed to mirror"),
		deliveries:     counter("stream_deliveries_total", "Event frames queued for stream connections"),
	}
	if reg == nil {
		return m
	}
	m.ingested = register(reg, m.ingested)
	m.rejected = register(reg, m.rejected)
	m.storeFailures = register(reg, m.storeFailures)
	m.mirrorFailures = register(reg, m.mirrorFailures)
	m.deliveries = register(reg, m.deliveries)
	return m
}

// MirrorFailures exposes the mirror failure counter.
func (m *Metrics) MirrorFailures() prometheus.Counter {
	return m.mirrorFailures
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tally",
		Subsystem: "ingest",
		Name:      name,
		Help:      help,
	})
}

func register(reg prometheus.Registerer, c prometheus.Counter) prometheus.Counter {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
	}
	return c
}
