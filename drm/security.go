package drm

import (
	"time"
)

// SecurityClient is the content security (watermark) collaborator.
type SecurityClient interface {
	// SessionID returns the current security session id and whether it is
	// valid.
	SessionID() (int64, bool)
	// UpdateSessionState activates or deactivates the watermark for id.
	UpdateSessionState(id int64, active bool) error
	// SetPlaybackSpeed forwards the current speed and position for id.
	SetPlaybackSpeed(id int64, speed float64, position time.Duration) error
	// SetVideoWindowSize forwards the rendering window for id.
	SetVideoWindowSize(id int64, width, height int) error
}

// WatermarkSessionEvent is delivered by the security collaborator when its
// watermark session changes.
type WatermarkSessionEvent struct {
	SessionID int64
	Status    int
	Message   string
}

// WatermarkListener receives relayed watermark session events.
type WatermarkListener func(WatermarkSessionEvent)

// WatermarkEventSource is implemented by security clients that can push
// watermark session events.
type WatermarkEventSource interface {
	OnWatermarkSession(fn WatermarkListener)
}
