// Package metrics holds the Prometheus collectors of the scan pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Decode tick results.
const (
	TickNotReady = "not_ready"
	TickNoCode   = "no_code"
	TickDetected = "detected"
	TickFault    = "fault"
)

type Metrics struct {
	Outcomes       *prometheus.CounterVec
	DecodeTicks    *prometheus.CounterVec
	TokenRefreshes *prometheus.CounterVec
	SubmitDuration prometheus.Histogram
	ScannerActive  prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrattend",
			Name:      "outcomes_total",
			Help:      "Attendance attempts by outcome kind.",
		}, []string{"kind"}),
		DecodeTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrattend",
			Name:      "decode_ticks_total",
			Help:      "Frame decode attempts by result.",
		}, []string{"result"}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qrattend",
			Name:      "token_refresh_total",
			Help:      "Access token refresh attempts by result.",
		}, []string{"result"}),
		SubmitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "qrattend",
			Name:      "submit_duration_seconds",
			Help:      "Time from payload hand-off to outcome.",
			Buckets:   prometheus.DefBuckets,
		}),
		ScannerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "qrattend",
			Name:      "scanner_active",
			Help:      "1 while the camera is held by a scan session.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Outcomes, m.DecodeTicks, m.TokenRefreshes, m.SubmitDuration, m.ScannerActive)
	}
	return m
}

// ObserveOutcome counts one finished attempt. Nil receivers are ignored.
func (m *Metrics) ObserveOutcome(kind string, took time.Duration) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(kind).Inc()
	m.SubmitDuration.Observe(took.Seconds())
}

func (m *Metrics) ObserveTick(result string) {
	if m == nil {
		return
	}
	m.DecodeTicks.WithLabelValues(result).Inc()
}

// ObserveRefresh satisfies auth.RefreshObserver.
func (m *Metrics) ObserveRefresh(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.TokenRefreshes.WithLabelValues("ok").Inc()
	} else {
		m.TokenRefreshes.WithLabelValues("failed").Inc()
	}
}

func (m *Metrics) SetScannerActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.ScannerActive.Set(1)
	} else {
		m.ScannerActive.Set(0)
	}
}
