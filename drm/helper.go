package drm

import (
	"time"
)

// Helper exposes DRM-system specific behavior for one create-session call.
// Helpers are borrowed by the pool and never retained beyond the call that
// supplied them.
type Helper interface {
	// SystemID is the protection system this helper serves.
	SystemID() SystemID

	// Parse consumes the protection-system specific init bytes. It fails on
	// malformed input.
	Parse(initBytes []byte) error

	// KeyIDs lists the key ids found by Parse. Every supported variant yields
	// at least one.
	KeyIDs() []KeyID

	// InitData returns the data handed to Session.Generate.
	InitData() ([]byte, error)

	// CustomData returns optional system specific data for Session.Generate.
	CustomData() []byte

	// LicenseRequest shapes the outgoing license request for a CDM challenge.
	LicenseRequest(challenge []byte) (*LicenseRequest, error)

	// KeyProcessTimeout bounds how long callers wait for a key to settle.
	// Zero means use the pool default.
	KeyProcessTimeout() time.Duration

	// PlatformAcquiresLicense reports whether the platform fetches the
	// license itself, in which case the host acquirer is skipped.
	PlatformAcquiresLicense() bool
}

// LicenseRequest is the transport-neutral shape of a license request.
type LicenseRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte
}

// SystemInfo describes what a HelperProvider is asked to serve.
type SystemInfo struct {
	SystemID    SystemID
	MediaFormat MediaFormat
	MediaType   MediaType
	Metadata    string
}

// HelperProvider builds helpers for the protection systems it supports.
type HelperProvider interface {
	// Name identifies the provider in logs.
	Name() string
	// Weight orders providers; higher weights are consulted first.
	Weight() int
	// Supports reports whether the provider handles info.
	Supports(info SystemInfo) bool
	// NewHelper builds a fresh helper for info.
	NewHelper(info SystemInfo) (Helper, error)
}
