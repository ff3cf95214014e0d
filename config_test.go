package drmsession

import (
	"errors"
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg != DefaultConfig() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("DRM_MAX_SESSIONS", "8")
	t.Setenv("DRM_KEY_PROCESS_TIMEOUT", "250ms")
	t.Setenv("DRM_LICENSE_CACHING", "false")
	t.Setenv("DRM_PREWARM", "true")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	want := Config{MaxSessions: 8, KeyProcessTimeout: 250 * time.Millisecond, LicenseCaching: false, PreWarm: true}
	if cfg != want {
		t.Fatalf("expected %+v, got %+v", want, cfg)
	}
}

func TestConfigFromEnvRejectsInvalid(t *testing.T) {
	t.Run("PoolSize", func(t *testing.T) {
		t.Setenv("DRM_MAX_SESSIONS", "0")
		if _, err := ConfigFromEnv(); !errors.Is(err, ErrInvalidPoolSize) {
			t.Fatalf("expected ErrInvalidPoolSize, got %v", err)
		}
	})
	t.Run("Duration", func(t *testing.T) {
		t.Setenv("DRM_KEY_PROCESS_TIMEOUT", "soon")
		if _, err := ConfigFromEnv(); err == nil {
			t.Fatal("expected decode error")
		}
	})
}

func TestWithConfigThenOptions(t *testing.T) {
	nc := &newConfig{cfg: DefaultConfig()}
	for _, opt := range []Option{
		WithConfig(Config{MaxSessions: 3, KeyProcessTimeout: time.Second}),
		WithLicenseCaching(true),
		WithDefaultKeyProcessTimeout(2 * time.Second),
	} {
		opt(nc)
	}
	if nc.cfg.MaxSessions != 3 || !nc.cfg.LicenseCaching || nc.cfg.KeyProcessTimeout != 2*time.Second {
		t.Fatalf("unexpected config %+v", nc.cfg)
	}
}
