package drm

import (
	"context"
)

// SessionState is the lifecycle state reported by a platform session.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateBinding
	StateReady
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBinding:
		return "binding"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is an opaque handle to a platform decryption session. A Session is
// owned by exactly one pool slot and is closed only by the pool.
type Session interface {
	// ID is the platform's identifier for the session. Empty until Generate
	// has succeeded.
	ID() string

	// State reports the session's current state.
	State() SessionState

	// Generate hands the session its init data plus any DRM-system specific
	// custom data. On return the session is Binding, Ready or Failed.
	Generate(ctx context.Context, initData, customData []byte) error

	// WaitForState blocks until the session reaches target, reaches Failed,
	// or ctx ends. It returns the state observed last.
	WaitForState(ctx context.Context, target SessionState) SessionState

	// SetSecuritySessionID attaches the content security session id once the
	// license is in place.
	SetSecuritySessionID(id int64)

	// Close destroys the platform session.
	Close() error
}

// SessionFactory creates platform sessions for a protection system.
type SessionFactory interface {
	NewSession(ctx context.Context, systemID SystemID, mediaType MediaType) (Session, error)
}

// SessionFactoryFunc adapts a function to a SessionFactory.
type SessionFactoryFunc func(ctx context.Context, systemID SystemID, mediaType MediaType) (Session, error)

func (f SessionFactoryFunc) NewSession(ctx context.Context, systemID SystemID, mediaType MediaType) (Session, error) {
	return f(ctx, systemID, mediaType)
}

// LicenseExchanger is implemented by sessions that expose their license
// challenge to the host. Host-side acquirers such as licensehttp require it.
type LicenseExchanger interface {
	// Challenge returns the license request message produced by the CDM.
	Challenge(ctx context.Context) ([]byte, error)
	// UpdateLicense hands the license server response back to the CDM.
	UpdateLicense(ctx context.Context, license []byte) error
}
