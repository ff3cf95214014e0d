package drmtest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/drm-session-go/drm"
)

// LicenseAcquirer is a fake host license callback. On success it exchanges a
// license with sessions that implement drm.LicenseExchanger.
type LicenseAcquirer struct {
	// Err makes every acquisition fail.
	Err error
	// FailKeys makes acquisitions fail for helpers carrying any of these key
	// ids, in hex.
	FailKeys map[string]bool
	// Gate, if set, blocks every acquisition until it is closed or ctx ends.
	Gate chan struct{}

	calls    atomic.Int32
	renewals atomic.Int32

	mu       sync.Mutex
	requests []drm.LicenseAcquisition
}

// NewLicenseAcquirer returns an acquirer that always succeeds.
func NewLicenseAcquirer() *LicenseAcquirer {
	return &LicenseAcquirer{FailKeys: make(map[string]bool)}
}

func (l *LicenseAcquirer) AcquireLicense(ctx context.Context, req *drm.LicenseAcquisition) error {
	l.calls.Add(1)
	if req.Renewal {
		l.renewals.Add(1)
	}
	l.mu.Lock()
	l.requests = append(l.requests, *req)
	l.mu.Unlock()

	if l.Gate != nil {
		select {
		case <-l.Gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if l.Err != nil {
		return l.Err
	}
	for _, k := range req.Helper.KeyIDs() {
		if l.FailKeys[k.String()] {
			return ErrInjected
		}
	}
	ex, ok := req.Session.(drm.LicenseExchanger)
	if !ok {
		return nil
	}
	challenge, err := ex.Challenge(ctx)
	if err != nil {
		return err
	}
	return ex.UpdateLicense(ctx, append([]byte("license:"), challenge...))
}

// Calls reports how many acquisitions were attempted, renewals included.
func (l *LicenseAcquirer) Calls() int { return int(l.calls.Load()) }

// Renewals reports how many acquisitions were renewals.
func (l *LicenseAcquirer) Renewals() int { return int(l.renewals.Load()) }

// Requests returns a copy of every acquisition request.
func (l *LicenseAcquirer) Requests() []drm.LicenseAcquisition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]drm.LicenseAcquisition(nil), l.requests...)
}

var _ drm.LicenseAcquirer = (*LicenseAcquirer)(nil)
