package drmsession

import (
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

const (
	defaultMaxSessions       = 4
	defaultKeyProcessTimeout = 5 * time.Second
)

// Config holds the pool settings that are commonly set per deployment.
// Defaults can be loaded via envdecode.
type Config struct {
	// MaxSessions is the number of slots. ENV: DRM_MAX_SESSIONS
	MaxSessions int `env:"DRM_MAX_SESSIONS,default=4"`
	// KeyProcessTimeout bounds waits on a key when the helper reports no
	// timeout of its own. ENV: DRM_KEY_PROCESS_TIMEOUT
	KeyProcessTimeout time.Duration `env:"DRM_KEY_PROCESS_TIMEOUT,default=5s"`
	// LicenseCaching keeps sessions across ClearDrmSession(false) calls.
	// ENV: DRM_LICENSE_CACHING
	LicenseCaching bool `env:"DRM_LICENSE_CACHING,default=true"`
	// PreWarm stops every bind before license acquisition.
	// ENV: DRM_PREWARM
	PreWarm bool `env:"DRM_PREWARM,default=false"`
}

// DefaultConfig returns the settings used when neither options nor the
// environment say otherwise.
func DefaultConfig() Config {
	return Config{
		MaxSessions:       defaultMaxSessions,
		KeyProcessTimeout: defaultKeyProcessTimeout,
		LicenseCaching:    true,
	}
}

// ConfigFromEnv decodes Config from the environment.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode drm session config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.MaxSessions <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPoolSize, c.MaxSessions)
	}
	if c.KeyProcessTimeout < 0 {
		return fmt.Errorf("drmsession: negative key process timeout %s", c.KeyProcessTimeout)
	}
	return nil
}
