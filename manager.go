package drmsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/drm-session-go/drm"
	"github.com/ggoodman/drm-session-go/events"
	"github.com/ggoodman/drm-session-go/internal/logctx"
	"github.com/ggoodman/drm-session-go/keycache"
	"github.com/ggoodman/drm-session-go/playback"
	"github.com/google/uuid"
)

var (
	// ErrInvalidPoolSize is returned for a pool size below one.
	ErrInvalidPoolSize = errors.New("drmsession: pool size must be positive")
	// ErrStaleHandle is returned when a Handle's slot has since been rebound,
	// cleared or discarded.
	ErrStaleHandle = errors.New("drmsession: handle no longer owns its slot")
	// ErrPoolReset is returned by a bind that finished against a slot retired
	// by ResizePool or Close.
	ErrPoolReset = errors.New("drmsession: slot discarded by pool reset")
	// ErrMissingDependency is returned by New without a registry or factory.
	ErrMissingDependency = errors.New("drmsession: registry and session factory are required")

	errNoLicenseAcquirer = errors.New("no license acquirer configured")
	errCreateAbandoned   = errors.New("drmsession: create abandoned by caller")
)

// CreateRequest describes one track's need for a session.
type CreateRequest struct {
	SystemID    drm.SystemID
	MediaFormat drm.MediaFormat
	InitBytes   []byte
	MediaType   drm.MediaType
	// Metadata is passed through to the helper provider and the license
	// acquirer.
	Metadata string
	// Primary exempts the slot from eviction while it backs playback.
	Primary bool
	// PreWarm stops after bind and marks the key failed, leaving a bound
	// session without a license.
	PreWarm bool
}

// Handle is the result of a successful CreateSession. Calls that share a key
// id receive the same *Handle. The Session is owned by the Manager and must
// not be closed by the caller.
type Handle struct {
	Slot       int
	Session    drm.Session
	SystemID   drm.SystemID
	MediaType  drm.MediaType
	KeyIDs     []drm.KeyID
	Generation uint64
	// PreWarmed is set when the bind stopped before license acquisition.
	PreWarmed bool

	b *binding
}

// SlotInfo is a diagnostic snapshot of one slot.
type SlotInfo struct {
	Index      int
	KeyIDs     []drm.KeyID
	CreatedAt  time.Time
	Failed     bool
	Primary    bool
	Generation uint64
	State      drm.SessionState
}

// Manager is the session pool. It is safe for concurrent use.
type Manager struct {
	id        string
	registry  *drm.Registry
	factory   drm.SessionFactory
	cache     *keycache.Cache
	log       *slog.Logger
	licenser  drm.LicenseAcquirer
	security  drm.SecurityClient
	metrics   MetricsHook
	publisher events.Publisher
	topic     string
	now       func() time.Time
	cfg       Config

	active            atomic.Bool
	closed            atomic.Bool
	lastLicenseFailed atomic.Bool
	size              atomic.Int64

	poolMu sync.Mutex
	slots  []*slot

	tracker *playback.Tracker

	listenerMu sync.RWMutex
	listener   drm.WatermarkListener
}

// New creates an active Manager over registry and factory.
func New(registry *drm.Registry, factory drm.SessionFactory, opts ...Option) (*Manager, error) {
	if registry == nil || factory == nil {
		return nil, ErrMissingDependency
	}
	nc := &newConfig{cfg: DefaultConfig(), logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(nc)
		}
	}
	if nc.logger == nil {
		nc.logger = slog.Default()
	}
	if nc.now == nil {
		nc.now = time.Now
	}
	if nc.cfg.KeyProcessTimeout == 0 {
		nc.cfg.KeyProcessTimeout = defaultKeyProcessTimeout
	}
	if err := nc.cfg.validate(); err != nil {
		return nil, err
	}
	if nc.metrics == nil {
		nc.metrics = noopMetrics{}
	}
	if nc.topic == "" {
		nc.topic = events.DefaultTopic
	}

	n := nc.cfg.MaxSessions
	m := &Manager{
		id:        uuid.NewString(),
		registry:  registry,
		factory:   factory,
		cache:     keycache.New(n, keycache.WithClock(nc.now)),
		log:       slog.New(logctx.Handler{Handler: nc.logger.Handler()}),
		licenser:  nc.licenser,
		security:  nc.security,
		metrics:   nc.metrics,
		publisher: nc.publisher,
		topic:     nc.topic,
		now:       nc.now,
		cfg:       nc.cfg,
		slots:     newSlots(n),
		tracker:   playback.NewTracker(),
	}
	m.active.Store(true)
	m.size.Store(int64(n))
	if src, ok := nc.security.(drm.WatermarkEventSource); ok {
		src.OnWatermarkSession(m.relayWatermark)
	}
	m.metrics.OnPoolSize(n)
	return m, nil
}

// ID identifies the manager in logs and events.
func (m *Manager) ID() string { return m.id }

// SetActive pauses or resumes the pool. While inactive, CreateSession fails
// with drm.ErrManagerInactive before touching any state. Calls already in
// flight are not cancelled.
func (m *Manager) SetActive(active bool) {
	if m.closed.Load() {
		return
	}
	if m.active.Swap(active) != active {
		m.log.InfoContext(m.logCtx(context.Background()), "drmsession.active", slog.Bool("active", active))
	}
}

// Active reports whether the pool accepts new requests.
func (m *Manager) Active() bool { return m.active.Load() }

// CreateSession returns a session for req, reusing the slot that already
// holds any of its key ids.
func (m *Manager) CreateSession(ctx context.Context, req CreateRequest) (*Handle, error) {
	ctx = m.logCtx(ctx)
	if !m.active.Load() {
		return nil, drm.ErrManagerInactive
	}

	helper, err := m.registry.NewHelper(drm.SystemInfo{
		SystemID:    req.SystemID,
		MediaFormat: req.MediaFormat,
		MediaType:   req.MediaType,
		Metadata:    req.Metadata,
	})
	if err != nil {
		m.log.InfoContext(ctx, "drmsession.create.fail", slog.String("err", err.Error()))
		return nil, err
	}
	if err := helper.Parse(req.InitBytes); err != nil {
		err = fmt.Errorf("%w: %w", drm.ErrFailedToGetKeyID, err)
		m.log.InfoContext(ctx, "drmsession.create.fail", slog.String("err", err.Error()))
		return nil, err
	}
	keyIDs := helper.KeyIDs()
	if len(keyIDs) == 0 {
		m.log.InfoContext(ctx, "drmsession.create.fail", slog.String("err", drm.ErrFailedToGetKeyID.Error()))
		return nil, drm.ErrFailedToGetKeyID
	}
	return m.create(ctx, helper, req, keyIDs)
}

func (m *Manager) create(ctx context.Context, helper drm.Helper, req CreateRequest, keyIDs []drm.KeyID) (*Handle, error) {
	start := m.now()
	res, err := m.reserve(keyIDs, req)
	if err != nil {
		switch {
		case errors.Is(err, drm.ErrKeyPreviouslyFailed):
			m.metrics.OnNegativeCacheHit(req.MediaType)
		case errors.Is(err, drm.ErrNoSlotAvailable):
			m.metrics.OnNoSlotAvailable()
		}
		m.log.InfoContext(ctx, "drmsession.create.fail",
			slog.String("key_ids", drm.FormatKeyIDs(keyIDs)),
			slog.String("err", err.Error()),
		)
		return nil, err
	}

	ctx = logctx.WithSlotData(ctx, &logctx.SlotData{
		Index:     res.slot.index,
		SystemID:  req.SystemID.String(),
		MediaType: req.MediaType.String(),
		KeyIDs:    drm.FormatKeyIDs(keyIDs),
	})
	if res.reused {
		return m.await(ctx, res.b, helper, req)
	}

	g := res.slot.lock(res.released)
	h, err := m.bind(ctx, g, res.b, helper, req)
	res.b.settle(h, err)
	g.unlock()
	if errors.Is(err, errCreateAbandoned) {
		m.poolMu.Lock()
		if res.slot.cur == res.b {
			res.slot.cur = nil
		}
		m.poolMu.Unlock()
	}

	dur := m.now().Sub(start)
	if err != nil {
		m.log.InfoContext(ctx, "drmsession.create.fail",
			slog.String("reason", drm.ReasonOf(err).String()),
			slog.String("err", err.Error()),
			slog.Int64("dur_ms", dur.Milliseconds()),
		)
		return nil, err
	}
	m.log.InfoContext(ctx, "drmsession.create.ok",
		slog.String("session_id", h.Session.ID()),
		slog.Bool("prewarmed", h.PreWarmed),
		slog.Int64("dur_ms", dur.Milliseconds()),
	)
	return h, nil
}

// reservation is the outcome of the choose-or-evict decision. It is only
// produced after the pool lock has been released.
type reservation struct {
	slot     *slot
	b        *binding
	reused   bool
	released poolReleased
}

func (m *Manager) unlockPool() poolReleased {
	m.poolMu.Unlock()
	return poolReleased{}
}

func (m *Manager) reserve(keyIDs []drm.KeyID, req CreateRequest) (reservation, error) {
	m.poolMu.Lock()
	if !m.active.Load() {
		m.poolMu.Unlock()
		return reservation{}, drm.ErrManagerInactive
	}
	idx, entry, reused, err := m.cache.Claim(keyIDs, req.Primary)
	if err != nil {
		m.poolMu.Unlock()
		return reservation{}, err
	}
	s := m.slots[idx]
	if reused {
		if entry.Failed {
			m.poolMu.Unlock()
			return reservation{}, drm.ErrKeyPreviouslyFailed
		}
		if b := s.cur; b != nil && b.gen == entry.Generation {
			return reservation{slot: s, b: b, reused: true, released: m.unlockPool()}, nil
		}
		// Record without a live binding; claim it afresh.
		gen, err := m.cache.Touch(idx, keyIDs, req.Primary || entry.Primary)
		if err != nil {
			m.poolMu.Unlock()
			return reservation{}, err
		}
		entry.Generation = gen
	}
	b := newBinding(entry.Generation, keyIDs, req.SystemID, req.MediaType)
	s.cur = b
	return reservation{slot: s, b: b, released: m.unlockPool()}, nil
}

// await is the reuse path: wait, bounded by the key process timeout, for the
// binding that owns the key to settle. A binding whose caller gave up is
// retried on behalf of this one.
func (m *Manager) await(ctx context.Context, b *binding, helper drm.Helper, req CreateRequest) (*Handle, error) {
	if !b.settled() {
		timeout := m.keyTimeout(helper)
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-b.done:
		case <-timer.C:
			m.log.WarnContext(ctx, "drmsession.create.wait.timeout", slog.Int64("timeout_ms", timeout.Milliseconds()))
			return nil, drm.ErrSessionWaitTimeout
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if errors.Is(b.err, errCreateAbandoned) {
		return m.create(ctx, helper, req, b.keyIDs)
	}
	if b.err != nil {
		return nil, b.err
	}
	h := b.handle
	if h.Session.State() == drm.StateFailed {
		m.cache.MarkFailed(h.Slot, b.gen)
		m.metrics.OnNegativeCacheHit(req.MediaType)
		m.log.InfoContext(ctx, "drmsession.create.fail", slog.String("err", drm.ErrKeyPreviouslyFailed.Error()))
		return nil, drm.ErrKeyPreviouslyFailed
	}
	m.metrics.OnCacheHit(req.MediaType)
	m.log.DebugContext(ctx, "drmsession.create.reuse", slog.String("session_id", h.Session.ID()))
	return h, nil
}

func (m *Manager) keyTimeout(helper drm.Helper) time.Duration {
	if d := helper.KeyProcessTimeout(); d > 0 {
		return d
	}
	return m.cfg.KeyProcessTimeout
}

// IsKeyProcessed reports the cached outcome for keyIDs without contacting
// any DRM system.
func (m *Manager) IsKeyProcessed(keyIDs []drm.KeyID) keycache.Status {
	return m.cache.Status(keyIDs)
}

// SetPrimary sets or clears the eviction exemption on slot.
func (m *Manager) SetPrimary(slot int, primary bool) error {
	return m.cache.MarkPrimary(slot, primary)
}

// detached is a slot taken out of circulation under the pool lock, together
// with the binding that last claimed it.
type detached struct {
	s     *slot
	owner *binding
}

func detachLocked(slots []*slot) []detached {
	out := make([]detached, 0, len(slots))
	for _, s := range slots {
		out = append(out, detached{s: s, owner: s.cur})
		s.cur = nil
	}
	return out
}

// closeSlots destroys the sessions of targets. Without retire only sessions
// created by the captured owner are closed, so a bind that claimed the slot
// after detachment keeps its session.
func (m *Manager) closeSlots(ctx context.Context, rel poolReleased, targets []detached, retire bool) (int, error) {
	var errs []error
	closed := 0
	for _, t := range targets {
		if !retire && t.owner == nil {
			continue
		}
		g := t.s.lock(rel)
		var only *binding
		if retire {
			t.s.retired = true
		} else {
			only = t.owner
		}
		sess, err := g.closeSession(only)
		g.unlock()
		if sess == nil {
			continue
		}
		closed++
		if err != nil {
			m.log.WarnContext(ctx, "drmsession.session.close.fail",
				slog.Int("slot", t.s.index),
				slog.String("err", err.Error()),
			)
			errs = append(errs, fmt.Errorf("close slot %d: %w", t.s.index, err))
		}
	}
	return closed, errors.Join(errs...)
}

// ClearFailedKeys forgets every negative result, destroys the sessions that
// backed them and drops the primary flag from every slot.
func (m *Manager) ClearFailedKeys(ctx context.Context) error {
	ctx = m.logCtx(ctx)
	m.poolMu.Lock()
	cleared := m.cache.ClearFailed()
	targets := make([]*slot, 0, len(cleared))
	for _, i := range cleared {
		if i < len(m.slots) {
			targets = append(targets, m.slots[i])
		}
	}
	d := detachLocked(targets)
	rel := m.unlockPool()

	n, err := m.closeSlots(ctx, rel, d, false)
	m.log.InfoContext(ctx, "drmsession.clear",
		slog.String("scope", "failed"),
		slog.Int("keys", len(cleared)),
		slog.Int("sessions", n),
	)
	return err
}

// ClearSessionData empties the key cache and destroys every session. No
// CreateSession call should be in flight.
func (m *Manager) ClearSessionData(ctx context.Context) error {
	ctx = m.logCtx(ctx)
	m.poolMu.Lock()
	d := detachLocked(m.slots)
	m.cache.Clear()
	size := len(m.slots)
	rel := m.unlockPool()

	n, err := m.closeSlots(ctx, rel, d, false)
	m.publish(ctx, events.Event{Type: events.TypePoolCleared, Slot: -1, PoolSize: size})
	m.log.InfoContext(ctx, "drmsession.clear", slog.String("scope", "all"), slog.Int("sessions", n))
	return err
}

// ClearDrmSession clears every session when force is set, when license
// caching is disabled, or when the most recent license acquisition failed.
// It reports whether a clear happened.
func (m *Manager) ClearDrmSession(ctx context.Context, force bool) (bool, error) {
	if !force && m.cfg.LicenseCaching && !m.lastLicenseFailed.Load() {
		return false, nil
	}
	if err := m.ClearSessionData(ctx); err != nil {
		return true, err
	}
	m.lastLicenseFailed.Store(false)
	return true, nil
}

// ResizePool discards the pool, destroying every session, and allocates size
// empty slots. No CreateSession call should be in flight; one that is
// finishes against a retired slot and fails with ErrPoolReset.
func (m *Manager) ResizePool(ctx context.Context, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPoolSize, size)
	}
	ctx = m.logCtx(ctx)
	m.poolMu.Lock()
	old := len(m.slots)
	d := detachLocked(m.slots)
	m.slots = newSlots(size)
	m.cache.Reset(size)
	m.size.Store(int64(size))
	rel := m.unlockPool()

	n, err := m.closeSlots(ctx, rel, d, true)
	m.metrics.OnPoolSize(size)
	m.publish(ctx, events.Event{Type: events.TypePoolResized, Slot: -1, PoolSize: size})
	m.log.InfoContext(ctx, "drmsession.resize",
		slog.Int("from", old),
		slog.Int("to", size),
		slog.Int("sessions", n),
	)
	return err
}

// Slots returns a snapshot of every slot.
func (m *Manager) Slots() []SlotInfo {
	m.poolMu.Lock()
	defer m.poolMu.Unlock()
	entries := m.cache.Entries()
	out := make([]SlotInfo, len(entries))
	for i, e := range entries {
		info := SlotInfo{
			Index:      i,
			KeyIDs:     e.KeyIDs,
			CreatedAt:  e.CreatedAt,
			Failed:     e.Failed,
			Primary:    e.Primary,
			Generation: e.Generation,
			State:      drm.StateUninitialized,
		}
		if i < len(m.slots) {
			if b := m.slots[i].cur; b != nil {
				info.State = b.state()
			}
		}
		out[i] = info
	}
	return out
}

func (b *binding) state() drm.SessionState {
	if !b.settled() {
		return drm.StateBinding
	}
	if b.err != nil || b.handle == nil {
		return drm.StateFailed
	}
	return b.handle.Session.State()
}

// Close deactivates the manager and destroys every session. Later calls are
// no-ops.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.active.Store(false)
	ctx := m.logCtx(context.Background())
	m.poolMu.Lock()
	d := detachLocked(m.slots)
	m.cache.Clear()
	rel := m.unlockPool()

	n, err := m.closeSlots(ctx, rel, d, true)
	m.log.InfoContext(ctx, "drmsession.close", slog.Int("sessions", n))
	return err
}

func (m *Manager) logCtx(ctx context.Context) context.Context {
	return logctx.WithManagerData(ctx, &logctx.ManagerData{
		ManagerID: m.id,
		PoolSize:  int(m.size.Load()),
	})
}

// publish is best-effort; failures are logged and dropped.
func (m *Manager) publish(ctx context.Context, ev events.Event) {
	if m.publisher == nil {
		return
	}
	ev.ManagerID = m.id
	ev.At = m.now().UTC()
	if _, err := m.publisher.Publish(context.WithoutCancel(ctx), m.topic, ev); err != nil {
		m.log.WarnContext(ctx, "drmsession.event.publish.fail",
			slog.String("type", string(ev.Type)),
			slog.String("err", err.Error()),
		)
	}
}

func slotEvent(t events.Type, slot int, b *binding) events.Event {
	keys := make([]string, len(b.keyIDs))
	for i, k := range b.keyIDs {
		keys[i] = k.String()
	}
	return events.Event{
		Type:      t,
		Slot:      slot,
		SystemID:  b.systemID.String(),
		MediaType: b.mediaType.String(),
		KeyIDs:    keys,
	}
}
