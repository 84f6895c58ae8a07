// Package metrics exposes Prometheus metrics for the P1 collector.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/resident-x/go-p1/internal/domain"
)

// Frame results counted by p1_frames_total.
const (
	ResultOK          = "ok"
	ResultDeviceError = "device_error"
)

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the /metrics handler for reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// AppMetrics holds the collector metrics.
type AppMetrics struct {
	FramesTotal      *prometheus.CounterVec // labels: result
	BytesReceived    prometheus.Counter
	SerialReconnects prometheus.Counter
	Measurement      *prometheus.GaugeVec // labels: quantity, unit
	LastTelegramTime prometheus.Gauge
	SerialConnected  prometheus.Gauge
}

// NewAppMetrics registers the collector metrics on reg.
func NewAppMetrics(reg prometheus.Registerer) *AppMetrics {
	m := &AppMetrics{
		FramesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "p1_frames_total",
			Help: "Frames processed by result.",
		}, []string{"result"}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p1_bytes_received_total",
			Help: "Total bytes read from the meter link.",
		}),
		SerialReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "p1_serial_reconnects_total",
			Help: "Times the meter link was reopened.",
		}),
		Measurement: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "p1_measurement",
			Help: "Latest value of each present measurement.",
		}, []string{"quantity", "unit"}),
		LastTelegramTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p1_last_telegram_timestamp_seconds",
			Help: "Meter time of the last accepted telegram.",
		}),
		SerialConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "p1_serial_connected",
			Help: "1 while the meter link is open.",
		}),
	}
	reg.MustRegister(m.FramesTotal, m.BytesReceived, m.SerialReconnects, m.Measurement, m.LastTelegramTime, m.SerialConnected)
	return m
}

// ObserveTelegram records an accepted or device-error telegram. Absent
// measurements are removed so stale values do not linger.
func (m *AppMetrics) ObserveTelegram(t *domain.Telegram) {
	if m == nil || t == nil {
		return
	}
	if !t.OK() {
		m.FramesTotal.WithLabelValues(ResultDeviceError).Inc()
		return
	}

	m.FramesTotal.WithLabelValues(ResultOK).Inc()
	m.LastTelegramTime.Set(float64(t.Timestamp.Unix()))
	for _, meas := range t.Measurements {
		v, ok := meas.Float()
		if !ok {
			m.Measurement.DeleteLabelValues(string(meas.Quantity), string(meas.Unit))
			continue
		}
		m.Measurement.WithLabelValues(string(meas.Quantity), string(meas.Unit)).Set(v)
	}
}

// ObserveFailure counts a frame that never became a telegram.
func (m *AppMetrics) ObserveFailure(kind domain.FailureKind) {
	if m == nil {
		return
	}
	m.FramesTotal.WithLabelValues(kind.String()).Inc()
}

// ObserveBytes counts bytes read from the link.
func (m *AppMetrics) ObserveBytes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesReceived.Add(float64(n))
}

// ObserveLink tracks link state; reconnect marks a reopen after the first open.
func (m *AppMetrics) ObserveLink(up, reconnect bool) {
	if m == nil {
		return
	}
	if up {
		m.SerialConnected.Set(1)
		if reconnect {
			m.SerialReconnects.Inc()
		}
		return
	}
	m.SerialConnected.Set(0)
}
