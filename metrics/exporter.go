package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "openhrv"

// counterDesc pairs a Prometheus description with the snapshot field it reads.
type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) int64
}

// Exporter exposes a Collector as Prometheus metrics.
// Counters are read from a fresh Snapshot on every scrape; gauges are
// registered separately through AddGauge.
type Exporter struct {
	collector *Collector
	counters  []counterDesc
	dropped   *prometheus.Desc
	gauges    []prometheus.Collector
}

var _ prometheus.Collector = (*Exporter)(nil)

// NewExporter creates an exporter for the given collector.
// Dimension labels (transport, storage_backend) become constant labels.
func NewExporter(c *Collector) *Exporter {
	s := c.Snapshot()
	labels := prometheus.Labels{
		"transport":       s.Transport,
		"storage_backend": s.StorageBackend,
	}

	counter := func(name, help string, value func(Snapshot) int64) counterDesc {
		return counterDesc{
			desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels),
			value: value,
		}
	}

	return &Exporter{
		collector: c,
		counters: []counterDesc{
			counter("packets_received_total", "Heart rate notifications received from the sensor link.",
				func(s Snapshot) int64 { return s.PacketsReceived }),
			counter("packets_without_rr_total", "Notifications that carried no RR intervals.",
				func(s Snapshot) int64 { return s.PacketsWithoutRR }),
			counter("decode_errors_total", "Notifications that failed to decode.",
				func(s Snapshot) int64 { return s.DecodeErrors }),
			counter("ibis_accepted_total", "Inter-beat intervals accepted unchanged.",
				func(s Snapshot) int64 { return s.IBIsAccepted }),
			counter("ibis_corrected_total", "Inter-beat intervals replaced by the trailing median.",
				func(s Snapshot) int64 { return s.IBIsCorrected }),
			counter("reversals_total", "IBI phase reversals (local HRV samples).",
				func(s Snapshot) int64 { return s.Reversals }),
			counter("hrv_clamped_total", "Local HRV samples clamped by the smoother.",
				func(s Snapshot) int64 { return s.HRVClamped }),
			counter("connect_attempts_total", "Transport connect attempts.",
				func(s Snapshot) int64 { return s.ConnectAttempts }),
			counter("connect_failures_total", "Failed transport connect attempts.",
				func(s Snapshot) int64 { return s.ConnectFailures }),
			counter("connect_rejected_total", "Connect requests rejected while a session was active.",
				func(s Snapshot) int64 { return s.ConnectRejected }),
			counter("sessions_started_total", "Sessions that reached the listening state.",
				func(s Snapshot) int64 { return s.SessionsStarted }),
			counter("link_drops_total", "Unexpected link drops reported by the transport.",
				func(s Snapshot) int64 { return s.LinkDrops }),
			counter("cleanup_errors_total", "Failed teardown steps.",
				func(s Snapshot) int64 { return s.CleanupErrors }),
			counter("adapter_errors_total", "Failed publishes to adapters.",
				func(s Snapshot) int64 { return s.AdapterErrors }),
			counter("record_errors_total", "Failed recorder writes.",
				func(s Snapshot) int64 { return s.RecordErrors }),
			counter("lode_write_success_total", "Successful dataset write calls.",
				func(s Snapshot) int64 { return s.LodeWriteSuccess }),
			counter("lode_write_failure_total", "Failed dataset write calls.",
				func(s Snapshot) int64 { return s.LodeWriteFailure }),
		},
		dropped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_dropped_total"),
			"Events dropped by the persistence policy, by event type.",
			[]string{"event_type"}, labels,
		),
	}
}

// AddGauge registers a gauge whose value is read from fn on every scrape.
func (e *Exporter) AddGauge(name, help string, fn func() float64) {
	e.gauges = append(e.gauges, prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		fn,
	))
}

// Register registers the exporter and its gauges with reg.
func (e *Exporter) Register(reg prometheus.Registerer) error {
	if err := reg.Register(e); err != nil {
		return err
	}
	for _, g := range e.gauges {
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	ch <- e.dropped
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.collector.Snapshot()
	for _, c := range e.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(s)))
	}
	for eventType, n := range s.DroppedByType {
		ch <- prometheus.MustNewConstMetric(e.dropped, prometheus.CounterValue, float64(n), eventType)
	}
}
