// Package playback tracks the playback state that gates watermark updates:
// current speed and position, whether video is muted, and whether the first
// frame has been rendered.
//
// The Tracker does not talk to the security collaborator itself. Each
// mutator returns an Update describing what should be forwarded, given
// whether a security session is currently valid. Forwarding happens only when
// all of these hold:
//
//	session valid && !muted && first frame seen
//
// The first-frame flag latches true and is only reset by Detach. The tracker
// also remembers whether the collaborator was last told the watermark is
// active, so every closed-to-open change of the gate sends Activate once,
// whichever condition opened it.
package playback

import (
	"sync"
	"time"
)

// State is a snapshot of the tracked fields.
type State struct {
	Speed          float64
	Position       time.Duration
	Muted          bool
	FirstFrameSeen bool
}

// Update describes what the caller should forward to the security
// collaborator. At most one of Activate and Deactivate is set.
type Update struct {
	Activate     bool
	Deactivate   bool
	ForwardSpeed bool
	Speed        float64
	Position     time.Duration
}

// None reports whether nothing needs forwarding.
func (u Update) None() bool {
	return !u.Activate && !u.Deactivate && !u.ForwardSpeed
}

// Tracker holds playback state behind its own mutex, independent of any pool
// lock. The zero value tracks normal speed, unmuted, before first frame.
type Tracker struct {
	mu        sync.Mutex
	state     State
	init      bool
	activated bool
}

// NewTracker returns a tracker at speed 1.
func NewTracker() *Tracker {
	return &Tracker{state: State{Speed: 1}, init: true}
}

func (t *Tracker) lazyInitLocked() {
	if !t.init {
		t.state.Speed = 1
		t.init = true
	}
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lazyInitLocked()
	return t.state
}

// SetSpeedState records speed and position and latches firstFrameSeen. If
// the gate is open and the watermark is not active yet, it is activated.
func (t *Tracker) SetSpeedState(speed float64, position time.Duration, firstFrameSeen, sessionValid bool) Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lazyInitLocked()

	t.state.Speed = speed
	t.state.Position = position
	if firstFrameSeen {
		t.state.FirstFrameSeen = true
	}

	if !t.gateLocked(sessionValid) {
		return Update{}
	}
	activate := !t.activated
	t.activated = true
	return Update{
		Activate:     activate,
		ForwardSpeed: true,
		Speed:        t.state.Speed,
		Position:     t.state.Position,
	}
}

// SetMuted records the mute state. Only a change is forwarded: muting
// deactivates the watermark; unmuting after the first frame reactivates it
// and re-sends the last known speed exactly once.
func (t *Tracker) SetMuted(muted, sessionValid bool) Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lazyInitLocked()

	changed := t.state.Muted != muted
	t.state.Muted = muted
	if !changed || !sessionValid {
		return Update{}
	}
	if muted {
		t.activated = false
		return Update{Deactivate: true}
	}
	if !t.state.FirstFrameSeen {
		return Update{}
	}
	t.activated = true
	return Update{
		Activate:     true,
		ForwardSpeed: true,
		Speed:        t.state.Speed,
		Position:     t.state.Position,
	}
}

// Detach hides the watermark when the player detaches and resets the
// first-frame latch.
func (t *Tracker) Detach(sessionValid bool) Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lazyInitLocked()

	t.state.FirstFrameSeen = false
	t.activated = false
	if !sessionValid {
		return Update{}
	}
	return Update{Deactivate: true}
}

// Active reports whether the gate is currently open for a valid session.
func (t *Tracker) Active(sessionValid bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lazyInitLocked()
	return t.gateLocked(sessionValid)
}

func (t *Tracker) gateLocked(sessionValid bool) bool {
	return sessionValid && !t.state.Muted && t.state.FirstFrameSeen
}
