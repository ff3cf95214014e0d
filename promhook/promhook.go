// Package promhook exports session pool measurements to Prometheus by
// implementing drmsession.MetricsHook.
package promhook

import (
	"fmt"
	"strconv"
	"time"

	drmsession "github.com/ggoodman/drm-session-go"
	"github.com/ggoodman/drm-session-go/drm"
	"github.com/prometheus/client_golang/prometheus"
)

// Hook is a drmsession.MetricsHook backed by Prometheus collectors.
type Hook struct {
	cacheHits       *prometheus.CounterVec
	negativeHits    *prometheus.CounterVec
	sessionsCreated *prometheus.CounterVec
	sessionFailures *prometheus.CounterVec
	evictions       *prometheus.CounterVec
	licenses        *prometheus.CounterVec
	licenseDuration *prometheus.HistogramVec
	noSlot          prometheus.Counter
	poolSize        prometheus.Gauge
}

// New creates the collectors under namespace and registers them with reg.
func New(reg prometheus.Registerer, namespace string) (*Hook, error) {
	h := &Hook{
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drm_session",
			Name:      "cache_hits_total",
			Help:      "Create requests served by a slot already holding the key",
		}, []string{"media_type"}),
		negativeHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drm_session",
			Name:      "negative_cache_hits_total",
			Help:      "Create requests rejected because the key previously failed",
		}, []string{"media_type"}),
		sessionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drm_session",
			Name:      "sessions_created_total",
			Help:      "Platform sessions created",
		}, []string{"system_id", "media_type"}),
		sessionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drm_session",
			Name:      "session_failures_total",
			Help:      "Sessions that ended up failed, by reason",
		}, []string{"reason"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drm_session",
			Name:      "evictions_total",
			Help:      "Bound sessions destroyed to make room, by slot",
		}, []string{"slot"}),
		licenses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drm_session",
			Name:      "license_requests_total",
			Help:      "License round trips, by kind and result",
		}, []string{"kind", "result"}),
		licenseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "drm_session",
			Name:      "license_duration_seconds",
			Help:      "License round trip duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"kind"}),
		noSlot: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drm_session",
			Name:      "no_slot_available_total",
			Help:      "Create requests rejected because every slot is primary",
		}),
		poolSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "drm_session",
			Name:      "pool_size",
			Help:      "Number of slots in the pool",
		}),
	}
	for _, c := range []prometheus.Collector{
		h.cacheHits, h.negativeHits, h.sessionsCreated, h.sessionFailures,
		h.evictions, h.licenses, h.licenseDuration, h.noSlot, h.poolSize,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register drm session metrics: %w", err)
		}
	}
	return h, nil
}

func (h *Hook) OnCacheHit(mediaType drm.MediaType) {
	h.cacheHits.WithLabelValues(mediaType.String()).Inc()
}

func (h *Hook) OnNegativeCacheHit(mediaType drm.MediaType) {
	h.negativeHits.WithLabelValues(mediaType.String()).Inc()
}

func (h *Hook) OnSessionCreated(systemID drm.SystemID, mediaType drm.MediaType) {
	h.sessionsCreated.WithLabelValues(systemID.String(), mediaType.String()).Inc()
}

func (h *Hook) OnSessionFailed(reason drm.FailureReason) {
	h.sessionFailures.WithLabelValues(reason.String()).Inc()
}

func (h *Hook) OnEviction(slot int) {
	h.evictions.WithLabelValues(strconv.Itoa(slot)).Inc()
}

func (h *Hook) OnLicense(renewal bool, err error, dur time.Duration) {
	kind := "acquire"
	if renewal {
		kind = "renew"
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	h.licenses.WithLabelValues(kind, result).Inc()
	h.licenseDuration.WithLabelValues(kind).Observe(dur.Seconds())
}

func (h *Hook) OnNoSlotAvailable() { h.noSlot.Inc() }

func (h *Hook) OnPoolSize(size int) { h.poolSize.Set(float64(size)) }

var _ drmsession.MetricsHook = (*Hook)(nil)
