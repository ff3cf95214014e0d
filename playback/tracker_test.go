package playback

import (
	"sync"
	"testing"
	"time"
)

func TestSpeedForwardingGate(t *testing.T) {
	cases := []struct {
		name       string
		valid      bool
		muted      bool
		firstFrame bool
		forward    bool
	}{
		{"all conditions hold", true, false, true, true},
		{"no session", false, false, true, false},
		{"muted", true, true, true, false},
		{"before first frame", true, false, false, false},
		{"nothing holds", false, true, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTracker()
			tr.SetMuted(tc.muted, false)
			u := tr.SetSpeedState(2, time.Second, tc.firstFrame, tc.valid)
			if u.ForwardSpeed != tc.forward {
				t.Fatalf("forward=%v, want %v", u.ForwardSpeed, tc.forward)
			}
			if tc.forward && (u.Speed != 2 || u.Position != time.Second) {
				t.Fatalf("unexpected forwarded values: %+v", u)
			}
		})
	}
}

func TestFirstFrameLatches(t *testing.T) {
	tr := NewTracker()
	u := tr.SetSpeedState(1, 0, true, true)
	if !u.Activate {
		t.Fatalf("first latch should activate")
	}
	u = tr.SetSpeedState(1, time.Second, false, true)
	if u.Activate {
		t.Fatalf("activation is sent once while the gate stays open")
	}
	if !u.ForwardSpeed {
		t.Fatalf("latched first frame keeps the gate open")
	}
	if !tr.Snapshot().FirstFrameSeen {
		t.Fatalf("first frame flag must stay latched")
	}
}

func TestUnmuteForwardsLastSpeedOnce(t *testing.T) {
	tr := NewTracker()
	tr.SetSpeedState(4, 10*time.Second, true, true)

	u := tr.SetMuted(true, true)
	if !u.Deactivate || u.ForwardSpeed {
		t.Fatalf("mute should only deactivate, got %+v", u)
	}
	if u := tr.SetSpeedState(8, 12*time.Second, true, true); !u.None() {
		t.Fatalf("nothing forwards while muted, got %+v", u)
	}

	u = tr.SetMuted(false, true)
	if !u.Activate || !u.ForwardSpeed {
		t.Fatalf("unmute after first frame should activate and forward, got %+v", u)
	}
	if u.Speed != 8 || u.Position != 12*time.Second {
		t.Fatalf("unmute must carry the last known speed, got %+v", u)
	}
}

func TestActivatesWhenSessionBecomesValidAfterFirstFrame(t *testing.T) {
	tr := NewTracker()
	if u := tr.SetSpeedState(1, 0, true, false); !u.None() {
		t.Fatalf("no session, nothing to forward: %+v", u)
	}
	u := tr.SetSpeedState(1, time.Second, true, true)
	if !u.Activate || !u.ForwardSpeed {
		t.Fatalf("gate opening should activate and forward, got %+v", u)
	}
	if u := tr.SetSpeedState(1, 2*time.Second, true, true); u.Activate {
		t.Fatalf("already active, got %+v", u)
	}
}

func TestActivatesAfterUnmuteWithoutSession(t *testing.T) {
	tr := NewTracker()
	tr.SetSpeedState(1, 0, true, true)
	tr.SetMuted(true, true)
	tr.SetMuted(false, false)
	if u := tr.SetSpeedState(1, time.Second, true, true); !u.Activate {
		t.Fatalf("gate reopened with the watermark inactive, want activate, got %+v", u)
	}
}

func TestRepeatedMuteStateForwardsNothing(t *testing.T) {
	tr := NewTracker()
	tr.SetSpeedState(1, 0, true, true)
	if u := tr.SetMuted(false, true); !u.None() {
		t.Fatalf("already unmuted, got %+v", u)
	}
	tr.SetMuted(true, true)
	if u := tr.SetMuted(true, true); !u.None() {
		t.Fatalf("already muted, got %+v", u)
	}
	if u := tr.SetMuted(false, true); !u.Activate {
		t.Fatalf("real unmute should activate, got %+v", u)
	}
	if u := tr.SetMuted(false, true); !u.None() {
		t.Fatalf("second unmute should forward nothing, got %+v", u)
	}
}

func TestUnmuteBeforeFirstFrame(t *testing.T) {
	tr := NewTracker()
	tr.SetMuted(true, true)
	if u := tr.SetMuted(false, true); !u.None() {
		t.Fatalf("unmute before first frame forwards nothing, got %+v", u)
	}
}

func TestMuteWithoutSession(t *testing.T) {
	tr := NewTracker()
	if u := tr.SetMuted(true, false); !u.None() {
		t.Fatalf("no session, nothing to forward: %+v", u)
	}
	if !tr.Snapshot().Muted {
		t.Fatalf("mute state must still be recorded")
	}
}

func TestDetachResetsFirstFrame(t *testing.T) {
	tr := NewTracker()
	tr.SetSpeedState(1, 0, true, true)
	u := tr.Detach(true)
	if !u.Deactivate {
		t.Fatalf("detach should deactivate")
	}
	if tr.Snapshot().FirstFrameSeen {
		t.Fatalf("detach must reset the first frame latch")
	}
	if tr.Active(true) {
		t.Fatalf("gate must be closed after detach")
	}
	if u := tr.SetSpeedState(1, 0, true, true); !u.Activate {
		t.Fatalf("next first frame should activate again")
	}
}

func TestZeroValueTracker(t *testing.T) {
	var tr Tracker
	if got := tr.Snapshot().Speed; got != 1 {
		t.Fatalf("zero tracker should report speed 1, got %v", got)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.SetSpeedState(float64(i), time.Duration(j), true, true)
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.SetMuted(j%2 == 0, true)
			}
		}()
	}
	wg.Wait()
	if !tr.Snapshot().FirstFrameSeen {
		t.Fatalf("first frame should have latched")
	}
}
