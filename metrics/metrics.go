package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "omnimind"

// Metrics groups the Prometheus instruments of the live engine. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	FramesSent      prometheus.Counter
	BytesSent       prometheus.Counter
	AudioReceived   prometheus.Counter
	FramesDropped   prometheus.Counter
	PlaybackPending prometheus.Gauge
	ConnectLatency  prometheus.Histogram
	ReleaseFailures *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of live audio sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		FramesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_sent_total",
			Help:      "Microphone frames delivered to the transport.",
		}),
		BytesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_bytes_sent_total",
			Help:      "PCM bytes delivered to the transport.",
		}),
		AudioReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_frames_received_total",
			Help:      "Assistant audio frames scheduled for playback.",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_frames_dropped_total",
			Help:      "Malformed assistant audio frames dropped.",
		}),
		PlaybackPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "playback_pending_buffers",
			Help:      "Buffers scheduled but not yet played.",
		}),
		ConnectLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_latency_ms",
			Help:      "Time from start to the transport accepting the session.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 5000, 10000},
		}),
		ReleaseFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "release_failures_total",
			Help:      "Resources that failed to close cleanly.",
		}, []string{"resource"}),
	}
}

func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetActive(live bool) {
	if m == nil {
		return
	}
	if live {
		m.ActiveSessions.Inc()
	} else {
		m.ActiveSessions.Dec()
	}
}

func (m *Metrics) FrameSent(bytes int) {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
	m.BytesSent.Add(float64(bytes))
}

func (m *Metrics) AudioScheduled(pending int) {
	if m == nil {
		return
	}
	m.AudioReceived.Inc()
	m.PlaybackPending.Set(float64(pending))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PlaybackPending.Set(float64(n))
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.FramesDropped.Inc()
}

func (m *Metrics) ObserveConnect(d time.Duration) {
	if m == nil {
		return
	}
	m.ConnectLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ReleaseFailed(resource string) {
	if m == nil {
		return
	}
	m.ReleaseFailures.WithLabelValues(resource).Inc()
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
