// Package metrics provides Prometheus-based metrics for the conversation
// engine and its remote calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the service exports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	eventsTotal      *prometheus.CounterVec
	sessionsTotal    *prometheus.CounterVec
	uploadsTotal     *prometheus.CounterVec
	dispatchesTotal  *prometheus.CounterVec
	remoteDuration   *prometheus.HistogramVec
	rateLimitedTotal prometheus.Counter
	activeSessions   prometheus.GaugeFunc
}

// New registers the collectors on reg. sessions reports the live session count.
func New(reg prometheus.Registerer, sessions func() int) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patchbot_events_total",
				Help: "Inbound events by kind",
			},
			[]string{"kind"},
		),
		sessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patchbot_sessions_ended_total",
				Help: "Sessions ended, by terminal state",
			},
			[]string{"state"},
		),
		uploadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patchbot_uploads_total",
				Help: "Artifact uploads by artifact and status",
			},
			[]string{"artifact", "status"},
		),
		dispatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "patchbot_dispatches_total",
				Help: "Workflow dispatches by api level and status",
			},
			[]string{"api_level", "status"},
		),
		remoteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "patchbot_remote_call_duration_seconds",
				Help:    "Duration of remote calls including retries",
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"service"},
		),
		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "patchbot_rate_limited_total",
			Help: "Dispatches refused by the daily limit",
		}),
	}
	if sessions != nil {
		m.activeSessions = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "patchbot_active_sessions",
			Help: "Sessions currently in progress",
		}, func() float64 { return float64(sessions()) })
	}
	return m
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// IncEvent counts an inbound event.
func (m *Metrics) IncEvent(kind string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(kind).Inc()
}

// IncSessionEnded counts a session that reached a terminal state.
func (m *Metrics) IncSessionEnded(state string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(state).Inc()
}

// ObserveUpload records one finished upload.
func (m *Metrics) ObserveUpload(artifact string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.uploadsTotal.WithLabelValues(artifact, status(ok)).Inc()
	m.remoteDuration.WithLabelValues("pixeldrain").Observe(d.Seconds())
}

// ObserveDispatch records one finished dispatch.
func (m *Metrics) ObserveDispatch(apiLevel string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(apiLevel, status(ok)).Inc()
	m.remoteDuration.WithLabelValues("github").Observe(d.Seconds())
}

// IncRateLimited counts a refused dispatch.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimitedTotal.Inc()
}
