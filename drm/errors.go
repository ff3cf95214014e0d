package drm

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedDRM is returned when no registered provider handles the
	// requested system id.
	ErrUnsupportedDRM = errors.New("unsupported drm system")
	// ErrFailedToGetKeyID is returned when init data cannot be parsed or
	// yields no key ids.
	ErrFailedToGetKeyID = errors.New("failed to get key id")
	// ErrNoSlotAvailable is returned when every slot is held by a primary
	// session.
	ErrNoSlotAvailable = errors.New("no drm session slot available")
	// ErrInitFailed is returned when the platform session cannot be created.
	ErrInitFailed = errors.New("drm session init failed")
	// ErrBindFailed is returned when the session rejects its init data.
	ErrBindFailed = errors.New("drm session bind failed")
	// ErrEmptySessionID is returned when the platform reports success but
	// hands back no session identifier.
	ErrEmptySessionID = errors.New("drm session reported empty session id")
	// ErrLicenseAcquisitionFailed is returned when the license round trip
	// fails or the session never becomes usable.
	ErrLicenseAcquisitionFailed = errors.New("license acquisition failed")
	// ErrManagerInactive is returned for requests made while the manager is
	// deactivated.
	ErrManagerInactive = errors.New("drm session manager inactive")
)

var (
	// ErrKeyPreviouslyFailed is the cached negative result for a key id that
	// already failed. It matches ErrLicenseAcquisitionFailed under errors.Is.
	ErrKeyPreviouslyFailed = fmt.Errorf("%w: key previously failed", ErrLicenseAcquisitionFailed)
	// ErrSessionWaitTimeout is returned when a caller waiting on another
	// caller's in-flight bind for the same key gives up.
	ErrSessionWaitTimeout = errors.New("timed out waiting for in-flight drm session")
)

// FailureReason classifies why a slot's session ended up Failed.
type FailureReason int

const (
	FailureNone FailureReason = iota
	FailureInit
	FailureBind
	FailureEmptySessionID
	FailureLicense
)

func (r FailureReason) String() string {
	switch r {
	case FailureNone:
		return "none"
	case FailureInit:
		return "init_failed"
	case FailureBind:
		return "bind_failed"
	case FailureEmptySessionID:
		return "empty_session_id"
	case FailureLicense:
		return "license_acquisition_failed"
	default:
		return "unknown"
	}
}

// Err returns the sentinel error matching r, or nil for FailureNone.
func (r FailureReason) Err() error {
	switch r {
	case FailureInit:
		return ErrInitFailed
	case FailureBind:
		return ErrBindFailed
	case FailureEmptySessionID:
		return ErrEmptySessionID
	case FailureLicense:
		return ErrLicenseAcquisitionFailed
	default:
		return nil
	}
}

// ReasonOf maps an error produced by the pool back onto its FailureReason.
func ReasonOf(err error) FailureReason {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrInitFailed):
		return FailureInit
	case errors.Is(err, ErrEmptySessionID):
		return FailureEmptySessionID
	case errors.Is(err, ErrBindFailed):
		return FailureBind
	case errors.Is(err, ErrLicenseAcquisitionFailed):
		return FailureLicense
	default:
		return FailureNone
	}
}
