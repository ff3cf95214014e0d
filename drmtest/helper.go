package drmtest

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/drm-session-go/drm"
)

// InitBytes encodes key ids in the format understood by Helper.Parse: a
// comma separated list of hex strings.
func InitBytes(keyIDs ...drm.KeyID) []byte {
	return []byte(drm.FormatKeyIDs(keyIDs))
}

// Key builds a key id from a short label, for readable tests.
func Key(label string) drm.KeyID { return drm.KeyID(label) }

// Helper is a fake drm.Helper whose init data is a comma separated list of
// hex key ids.
type Helper struct {
	System          drm.SystemID
	Timeout         time.Duration
	PlatformLicense bool
	LicenseURL      string

	keyIDs []drm.KeyID
	raw    []byte
	parsed atomic.Int32
}

func (h *Helper) SystemID() drm.SystemID { return h.System }

func (h *Helper) Parse(initBytes []byte) error {
	h.parsed.Add(1)
	h.raw = append([]byte(nil), initBytes...)
	h.keyIDs = nil
	text := strings.TrimSpace(string(initBytes))
	if text == "" {
		return nil
	}
	for _, part := range strings.Split(text, ",") {
		b, err := hex.DecodeString(strings.TrimSpace(part))
		if err != nil {
			return fmt.Errorf("drmtest: parse key id %q: %w", part, err)
		}
		if len(b) > 0 {
			h.keyIDs = append(h.keyIDs, drm.KeyID(b))
		}
	}
	return nil
}

func (h *Helper) KeyIDs() []drm.KeyID { return drm.CloneKeyIDs(h.keyIDs) }

func (h *Helper) InitData() ([]byte, error) {
	return append([]byte("pssh:"), h.raw...), nil
}

func (h *Helper) CustomData() []byte { return nil }

func (h *Helper) LicenseRequest(challenge []byte) (*drm.LicenseRequest, error) {
	return &drm.LicenseRequest{
		URL:     h.LicenseURL,
		Method:  "POST",
		Headers: map[string]string{"Content-Type": "application/octet-stream"},
		Body:    append([]byte(nil), challenge...),
	}, nil
}

func (h *Helper) KeyProcessTimeout() time.Duration { return h.Timeout }

func (h *Helper) PlatformAcquiresLicense() bool { return h.PlatformLicense }

// ParseCalls reports how many times Parse ran.
func (h *Helper) ParseCalls() int { return int(h.parsed.Load()) }

var _ drm.Helper = (*Helper)(nil)

// Provider is a fake drm.HelperProvider serving a fixed set of systems.
type Provider struct {
	ProviderName string
	Systems      []drm.SystemID
	ProviderRank int
	// Configure, if set, adjusts each helper before it is returned.
	Configure func(*Helper)

	mu      sync.Mutex
	helpers []*Helper
}

// NewProvider returns a provider for systems with weight 0.
func NewProvider(name string, systems ...drm.SystemID) *Provider {
	return &Provider{ProviderName: name, Systems: systems}
}

func (p *Provider) Name() string { return p.ProviderName }

func (p *Provider) Weight() int { return p.ProviderRank }

func (p *Provider) Supports(info drm.SystemInfo) bool {
	for _, s := range p.Systems {
		if s == info.SystemID {
			return true
		}
	}
	return false
}

func (p *Provider) NewHelper(info drm.SystemInfo) (drm.Helper, error) {
	h := &Helper{System: info.SystemID}
	if p.Configure != nil {
		p.Configure(h)
	}
	p.mu.Lock()
	p.helpers = append(p.helpers, h)
	p.mu.Unlock()
	return h, nil
}

// Helpers returns every helper built so far.
func (p *Provider) Helpers() []*Helper {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Helper(nil), p.helpers...)
}

var _ drm.HelperProvider = (*Provider)(nil)
