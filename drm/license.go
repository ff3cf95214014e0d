package drm

import (
	"context"
)

// LicenseAcquisition carries everything a host needs to fetch a license for
// one slot.
type LicenseAcquisition struct {
	Helper    Helper
	Slot      int
	Session   Session
	MediaType MediaType
	Metadata  string
	// Renewal is set when the session already holds a license.
	Renewal bool
}

// LicenseAcquirer performs the license round trip. A nil error means the
// session is now Ready.
type LicenseAcquirer interface {
	AcquireLicense(ctx context.Context, req *LicenseAcquisition) error
}

// LicenseAcquirerFunc adapts a function to a LicenseAcquirer.
type LicenseAcquirerFunc func(ctx context.Context, req *LicenseAcquisition) error

func (f LicenseAcquirerFunc) AcquireLicense(ctx context.Context, req *LicenseAcquisition) error {
	return f(ctx, req)
}
