package drmsession

import (
	"context"
	"log/slog"
	"time"

	"github.com/ggoodman/drm-session-go/drm"
	"github.com/ggoodman/drm-session-go/playback"
)

func (m *Manager) securitySession() (int64, bool) {
	if m.security == nil {
		return 0, false
	}
	return m.security.SessionID()
}

// SetPlaybackSpeedState records the current speed and position. The first
// call with firstFrameSeen set activates the watermark, provided a security
// session is valid and video is not muted.
func (m *Manager) SetPlaybackSpeedState(speed float64, position time.Duration, firstFrameSeen bool) {
	id, valid := m.securitySession()
	m.forward(id, m.tracker.SetSpeedState(speed, position, firstFrameSeen, valid))
}

// SetVideoMuted records the mute state. Unmuting after the first frame
// re-sends the last known speed once.
func (m *Manager) SetVideoMuted(muted bool) {
	id, valid := m.securitySession()
	m.forward(id, m.tracker.SetMuted(muted, valid))
}

// HideWatermarkOnDetach deactivates the watermark and resets the first-frame
// latch.
func (m *Manager) HideWatermarkOnDetach() {
	id, valid := m.securitySession()
	m.forward(id, m.tracker.Detach(valid))
}

// PlaybackState returns the tracked playback fields.
func (m *Manager) PlaybackState() playback.State { return m.tracker.Snapshot() }

// SetVideoWindowSize forwards the rendering window while a security session
// is valid.
func (m *Manager) SetVideoWindowSize(width, height int) {
	id, valid := m.securitySession()
	if !valid {
		return
	}
	if err := m.security.SetVideoWindowSize(id, width, height); err != nil {
		m.log.WarnContext(m.logCtx(context.Background()), "drmsession.watermark.fail",
			slog.String("op", "window_size"),
			slog.String("err", err.Error()),
		)
	}
}

// SetWatermarkListener sets the function that receives watermark session
// events relayed from the security client. Nil removes it.
func (m *Manager) SetWatermarkListener(fn drm.WatermarkListener) {
	m.listenerMu.Lock()
	m.listener = fn
	m.listenerMu.Unlock()
}

func (m *Manager) relayWatermark(ev drm.WatermarkSessionEvent) {
	m.listenerMu.RLock()
	fn := m.listener
	m.listenerMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (m *Manager) forward(id int64, u playback.Update) {
	if u.None() || m.security == nil {
		return
	}
	ctx := m.logCtx(context.Background())
	if u.Deactivate {
		m.callSecurity(ctx, "deactivate", m.security.UpdateSessionState(id, false))
	}
	if u.Activate {
		m.callSecurity(ctx, "activate", m.security.UpdateSessionState(id, true))
	}
	if u.ForwardSpeed {
		m.callSecurity(ctx, "speed", m.security.SetPlaybackSpeed(id, u.Speed, u.Position))
	}
	m.log.DebugContext(ctx, "drmsession.watermark.forward",
		slog.Bool("activate", u.Activate),
		slog.Bool("deactivate", u.Deactivate),
		slog.Float64("speed", u.Speed),
	)
}

func (m *Manager) callSecurity(ctx context.Context, op string, err error) {
	if err != nil {
		m.log.WarnContext(ctx, "drmsession.watermark.fail", slog.String("op", op), slog.String("err", err.Error()))
	}
}
