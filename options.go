package drmsession

import (
	"log/slog"
	"time"

	"github.com/ggoodman/drm-session-go/drm"
	"github.com/ggoodman/drm-session-go/events"
)

// Option configures a Manager.
type Option func(*newConfig)

type newConfig struct {
	cfg       Config
	logger    *slog.Logger
	licenser  drm.LicenseAcquirer
	security  drm.SecurityClient
	metrics   MetricsHook
	publisher events.Publisher
	topic     string
	now       func() time.Time
}

// WithConfig replaces every setting carried by Config at once. Options that
// follow it still apply.
func WithConfig(cfg Config) Option {
	return func(c *newConfig) { c.cfg = cfg }
}

// WithMaxSessions sets the number of slots.
func WithMaxSessions(n int) Option {
	return func(c *newConfig) { c.cfg.MaxSessions = n }
}

// WithLogger sets the logger used by the manager. If not provided,
// slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithLicenseAcquirer registers the host license callback. Without one,
// sessions whose helper does not let the platform acquire the license fail
// with drm.ErrLicenseAcquisitionFailed.
func WithLicenseAcquirer(l drm.LicenseAcquirer) Option {
	return func(c *newConfig) { c.licenser = l }
}

// WithSecurityClient sets the watermark collaborator. If it also implements
// drm.WatermarkEventSource its events are relayed to the listener set with
// SetWatermarkListener.
func WithSecurityClient(s drm.SecurityClient) Option {
	return func(c *newConfig) { c.security = s }
}

// WithMetrics installs a metrics hook.
func WithMetrics(h MetricsHook) Option {
	return func(c *newConfig) { c.metrics = h }
}

// WithEventPublisher publishes lifecycle events to topic. An empty topic
// means events.DefaultTopic.
func WithEventPublisher(p events.Publisher, topic string) Option {
	return func(c *newConfig) {
		c.publisher = p
		c.topic = topic
	}
}

// WithClock overrides the time source used for key record timestamps and
// durations.
func WithClock(now func() time.Time) Option {
	return func(c *newConfig) { c.now = now }
}

// WithLicenseCaching controls whether ClearDrmSession(false) keeps sessions.
func WithLicenseCaching(enabled bool) Option {
	return func(c *newConfig) { c.cfg.LicenseCaching = enabled }
}

// WithDefaultKeyProcessTimeout sets the wait bound used when a helper reports
// a zero KeyProcessTimeout.
func WithDefaultKeyProcessTimeout(d time.Duration) Option {
	return func(c *newConfig) { c.cfg.KeyProcessTimeout = d }
}

// WithPreWarm makes every bind stop before license acquisition.
func WithPreWarm(enabled bool) Option {
	return func(c *newConfig) { c.cfg.PreWarm = enabled }
}
