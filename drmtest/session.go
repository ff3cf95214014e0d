// Package drmtest provides in-memory implementations of the drm collaborator
// interfaces for tests and local experiments.
package drmtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/drm-session-go/drm"
	"github.com/google/uuid"
)

// ErrInjected is the default failure returned by fakes configured to fail.
var ErrInjected = errors.New("drmtest: injected failure")

// Session is a fake platform session. State changes wake WaitForState
// callers.
type Session struct {
	SystemID  drm.SystemID
	MediaType drm.MediaType

	// GenerateErr makes Generate fail and move the session to Failed.
	GenerateErr error
	// EmptyID makes Generate succeed without assigning an id.
	EmptyID bool
	// ReadyOnGenerate moves the session straight to Ready, as platforms that
	// acquire their own license do.
	ReadyOnGenerate bool
	// StayBinding leaves the session in Binding after UpdateLicense.
	StayBinding bool

	mu          sync.Mutex
	id          string
	state       drm.SessionState
	changed     chan struct{}
	initData    []byte
	customData  []byte
	securityID  int64
	licenses    [][]byte
	closed      atomic.Bool
	closeCalls  atomic.Int32
	generateCnt atomic.Int32
}

// NewSession returns an Uninitialized session.
func NewSession(systemID drm.SystemID, mediaType drm.MediaType) *Session {
	return &Session{SystemID: systemID, MediaType: mediaType, changed: make(chan struct{})}
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) State() drm.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState forces the session into st and wakes waiters.
func (s *Session) SetState(st drm.SessionState) {
	s.mu.Lock()
	s.setStateLocked(st)
	s.mu.Unlock()
}

func (s *Session) setStateLocked(st drm.SessionState) {
	s.state = st
	if s.changed == nil {
		s.changed = make(chan struct{})
	}
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) Generate(ctx context.Context, initData, customData []byte) error {
	s.generateCnt.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initData = append([]byte(nil), initData...)
	s.customData = append([]byte(nil), customData...)
	if s.GenerateErr != nil {
		s.setStateLocked(drm.StateFailed)
		return s.GenerateErr
	}
	if !s.EmptyID {
		s.id = uuid.NewString()
	}
	if s.ReadyOnGenerate {
		s.setStateLocked(drm.StateReady)
	} else {
		s.setStateLocked(drm.StateBinding)
	}
	return nil
}

func (s *Session) WaitForState(ctx context.Context, target drm.SessionState) drm.SessionState {
	for {
		s.mu.Lock()
		st := s.state
		if s.changed == nil {
			s.changed = make(chan struct{})
		}
		ch := s.changed
		s.mu.Unlock()
		if st == target || st == drm.StateFailed {
			return st
		}
		select {
		case <-ctx.Done():
			return st
		case <-ch:
		}
	}
}

func (s *Session) SetSecuritySessionID(id int64) {
	s.mu.Lock()
	s.securityID = id
	s.mu.Unlock()
}

// SecuritySessionID returns the id attached by the pool.
func (s *Session) SecuritySessionID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.securityID
}

func (s *Session) Close() error {
	s.closeCalls.Add(1)
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

// CloseCalls reports how many times Close was called.
func (s *Session) CloseCalls() int { return int(s.closeCalls.Load()) }

// GenerateCalls reports how many times Generate was called.
func (s *Session) GenerateCalls() int { return int(s.generateCnt.Load()) }

// InitData returns the init data passed to Generate.
func (s *Session) InitData() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.initData...)
}

// Challenge returns a deterministic challenge derived from the init data.
func (s *Session) Challenge(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != drm.StateBinding && s.state != drm.StateReady {
		return nil, errors.New("drmtest: session not generated")
	}
	return append([]byte("challenge:"), s.initData...), nil
}

// UpdateLicense records license and moves the session to Ready.
func (s *Session) UpdateLicense(ctx context.Context, license []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.licenses = append(s.licenses, append([]byte(nil), license...))
	if !s.StayBinding {
		s.setStateLocked(drm.StateReady)
	}
	return nil
}

// Licenses returns every license handed to UpdateLicense.
func (s *Session) Licenses() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.licenses...)
}

var (
	_ drm.Session          = (*Session)(nil)
	_ drm.LicenseExchanger = (*Session)(nil)
)

// SessionFactory records every session it creates.
type SessionFactory struct {
	// Err makes NewSession fail.
	Err error
	// Configure, if set, adjusts each new session before it is returned.
	Configure func(*Session)

	mu       sync.Mutex
	sessions []*Session
}

// NewSessionFactory returns an empty factory.
func NewSessionFactory() *SessionFactory { return &SessionFactory{} }

func (f *SessionFactory) NewSession(ctx context.Context, systemID drm.SystemID, mediaType drm.MediaType) (drm.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	s := NewSession(systemID, mediaType)
	if f.Configure != nil {
		f.Configure(s)
	}
	f.sessions = append(f.sessions, s)
	return s, nil
}

// Sessions returns every session created so far, in creation order.
func (f *SessionFactory) Sessions() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*Session(nil), f.sessions...)
}

// Created reports how many sessions were created.
func (f *SessionFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// Live returns the sessions that have not been closed.
func (f *SessionFactory) Live() []*Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*Session
	for _, s := range f.sessions {
		if !s.Closed() {
			out = append(out, s)
		}
	}
	return out
}

var _ drm.SessionFactory = (*SessionFactory)(nil)
