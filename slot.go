package drmsession

import (
	"sync"

	"github.com/ggoodman/drm-session-go/drm"
)

// slot owns at most one platform session.
type slot struct {
	index int

	// cur is the binding that most recently claimed the slot. Guarded by the
	// manager's pool lock.
	cur *binding

	mu sync.Mutex
	// Guarded by mu.
	session drm.Session
	owner   *binding
	reason  drm.FailureReason
	retired bool
}

func newSlots(n int) []*slot {
	out := make([]*slot, n)
	for i := range out {
		out[i] = &slot{index: i}
	}
	return out
}

// binding is one claim of a slot for a key set. The claiming call settles
// it; callers asking for the same key wait on done.
type binding struct {
	gen       uint64
	keyIDs    []drm.KeyID
	systemID  drm.SystemID
	mediaType drm.MediaType
	done      chan struct{}

	// Written once before done is closed.
	handle *Handle
	err    error
}

func newBinding(gen uint64, keyIDs []drm.KeyID, systemID drm.SystemID, mediaType drm.MediaType) *binding {
	return &binding{
		gen:       gen,
		keyIDs:    drm.CloneKeyIDs(keyIDs),
		systemID:  systemID,
		mediaType: mediaType,
		done:      make(chan struct{}),
	}
}

func (b *binding) settle(h *Handle, err error) {
	b.handle, b.err = h, err
	close(b.done)
}

func (b *binding) settled() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// poolReleased is handed out only by Manager.unlockPool. Holding one is the
// only way to take a slot lock.
type poolReleased struct{ _ struct{} }

// slotGuard holds a slot lock.
type slotGuard struct {
	s *slot
}

func (s *slot) lock(poolReleased) slotGuard {
	s.mu.Lock()
	return slotGuard{s: s}
}

func (g slotGuard) unlock() { g.s.mu.Unlock() }

// closeSession destroys the slot's session. With only set, the session is
// closed only if that binding created it.
func (g slotGuard) closeSession(only *binding) (drm.Session, error) {
	s := g.s
	if s.session == nil || (only != nil && s.owner != only) {
		return nil, nil
	}
	sess := s.session
	s.session, s.owner, s.reason = nil, nil, drm.FailureNone
	return sess, sess.Close()
}
