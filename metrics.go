package drmsession

import (
	"time"

	"github.com/ggoodman/drm-session-go/drm"
)

// MetricsHook receives pool measurements. Implementations must be safe for
// concurrent use and must not block. See package promhook for a Prometheus
// implementation.
type MetricsHook interface {
	// OnCacheHit is called when a create request reuses a slot.
	OnCacheHit(mediaType drm.MediaType)
	// OnNegativeCacheHit is called when a create request is rejected because
	// its key previously failed.
	OnNegativeCacheHit(mediaType drm.MediaType)
	// OnSessionCreated is called for every platform session created.
	OnSessionCreated(systemID drm.SystemID, mediaType drm.MediaType)
	// OnSessionFailed is called when a slot's session ends up Failed.
	OnSessionFailed(reason drm.FailureReason)
	// OnEviction is called when a bound session is destroyed to make room.
	OnEviction(slot int)
	// OnLicense is called after each license round trip.
	OnLicense(renewal bool, err error, dur time.Duration)
	// OnNoSlotAvailable is called when every slot is primary.
	OnNoSlotAvailable()
	// OnPoolSize is called with the slot count at construction and resize.
	OnPoolSize(size int)
}

type noopMetrics struct{}

func (noopMetrics) OnCacheHit(drm.MediaType) {}
func (noopMetrics) OnNegativeCacheHit(drm.MediaType) {}
func (noopMetrics) OnSessionCreated(drm.SystemID, drm.MediaType) {}
func (noopMetrics) OnSessionFailed(drm.FailureReason) {}
func (noopMetrics) OnEviction(int) {}
func (noopMetrics) OnLicense(bool, error, time.Duration) {}
func (noopMetrics) OnNoSlotAvailable() {}
func (noopMetrics) OnPoolSize(int) {}

var _ MetricsHook = noopMetrics{}
