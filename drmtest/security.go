package drmtest

import (
	"sync"
	"time"

	"github.com/ggoodman/drm-session-go/drm"
)

// SpeedCall is one recorded SetPlaybackSpeed call.
type SpeedCall struct {
	ID       int64
	Speed    float64
	Position time.Duration
}

// StateCall is one recorded UpdateSessionState call.
type StateCall struct {
	ID     int64
	Active bool
}

// SecurityClient records every call made to the watermark collaborator.
type SecurityClient struct {
	mu       sync.Mutex
	id       int64
	valid    bool
	speeds   []SpeedCall
	states   []StateCall
	windows  [][2]int
	listener drm.WatermarkListener
}

// NewSecurityClient returns a client with a valid session id.
func NewSecurityClient(id int64) *SecurityClient {
	return &SecurityClient{id: id, valid: true}
}

// SetSession changes the reported session id and validity.
func (c *SecurityClient) SetSession(id int64, valid bool) {
	c.mu.Lock()
	c.id, c.valid = id, valid
	c.mu.Unlock()
}

func (c *SecurityClient) SessionID() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id, c.valid
}

func (c *SecurityClient) UpdateSessionState(id int64, active bool) error {
	c.mu.Lock()
	c.states = append(c.states, StateCall{ID: id, Active: active})
	c.mu.Unlock()
	return nil
}

func (c *SecurityClient) SetPlaybackSpeed(id int64, speed float64, position time.Duration) error {
	c.mu.Lock()
	c.speeds = append(c.speeds, SpeedCall{ID: id, Speed: speed, Position: position})
	c.mu.Unlock()
	return nil
}

func (c *SecurityClient) SetVideoWindowSize(id int64, width, height int) error {
	c.mu.Lock()
	c.windows = append(c.windows, [2]int{width, height})
	c.mu.Unlock()
	return nil
}

func (c *SecurityClient) OnWatermarkSession(fn drm.WatermarkListener) {
	c.mu.Lock()
	c.listener = fn
	c.mu.Unlock()
}

// Emit delivers ev to the registered watermark listener, if any.
func (c *SecurityClient) Emit(ev drm.WatermarkSessionEvent) {
	c.mu.Lock()
	fn := c.listener
	c.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// SpeedCalls returns the recorded SetPlaybackSpeed calls.
func (c *SecurityClient) SpeedCalls() []SpeedCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SpeedCall(nil), c.speeds...)
}

// StateCalls returns the recorded UpdateSessionState calls.
func (c *SecurityClient) StateCalls() []StateCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]StateCall(nil), c.states...)
}

// WindowCalls returns the recorded SetVideoWindowSize calls.
func (c *SecurityClient) WindowCalls() [][2]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][2]int(nil), c.windows...)
}

var (
	_ drm.SecurityClient       = (*SecurityClient)(nil)
	_ drm.WatermarkEventSource = (*SecurityClient)(nil)
)
