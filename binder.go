package drmsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ggoodman/drm-session-go/drm"
	"github.com/ggoodman/drm-session-go/events"
	"github.com/ggoodman/drm-session-go/internal/logctx"
)

// bind drives the slot through create, generate and license while the slot
// lock is held. Any session left in the slot by a previous binding is
// destroyed first.
func (m *Manager) bind(ctx context.Context, g slotGuard, b *binding, helper drm.Helper, req CreateRequest) (*Handle, error) {
	s := g.s
	if s.retired {
		return nil, ErrPoolReset
	}

	if old, err := g.closeSession(nil); old != nil {
		m.metrics.OnEviction(s.index)
		if err != nil {
			m.log.WarnContext(ctx, "drmsession.session.close.fail", slog.String("err", err.Error()))
		}
		m.log.InfoContext(ctx, "drmsession.evict", slog.String("session_id", old.ID()))
		m.publish(ctx, slotEvent(events.TypeSlotEvicted, s.index, b))
	}

	sess, err := m.factory.NewSession(ctx, b.systemID, b.mediaType)
	if err == nil && sess == nil {
		err = errors.New("factory returned no session")
	}
	if err != nil {
		return nil, m.failOrAbandon(ctx, g, b, drm.FailureInit, err)
	}
	s.session, s.owner, s.reason = sess, b, drm.FailureNone
	m.metrics.OnSessionCreated(b.systemID, b.mediaType)

	initData, err := helper.InitData()
	if err != nil {
		return nil, m.fail(ctx, g, b, drm.FailureBind, err)
	}
	if err := sess.Generate(ctx, initData, helper.CustomData()); err != nil {
		return nil, m.failOrAbandon(ctx, g, b, drm.FailureBind, err)
	}
	if st := sess.State(); st == drm.StateFailed {
		return nil, m.fail(ctx, g, b, drm.FailureBind, fmt.Errorf("session state %s after generate", st))
	}
	if sess.ID() == "" {
		return nil, m.fail(ctx, g, b, drm.FailureEmptySessionID, nil)
	}

	h := &Handle{
		Slot:       s.index,
		Session:    sess,
		SystemID:   b.systemID,
		MediaType:  b.mediaType,
		KeyIDs:     drm.CloneKeyIDs(b.keyIDs),
		Generation: b.gen,
		b:          b,
	}
	m.publish(ctx, slotEvent(events.TypeSessionBound, s.index, b))

	if req.PreWarm || m.cfg.PreWarm {
		m.cache.MarkFailed(s.index, b.gen)
		h.PreWarmed = true
		m.log.InfoContext(ctx, "drmsession.prewarm", slog.String("session_id", sess.ID()))
		return h, nil
	}

	if err := m.license(ctx, h, helper, req.Metadata, false); err != nil {
		return nil, m.failOrAbandon(ctx, g, b, drm.FailureLicense, err)
	}
	m.attachSecurity(sess)
	m.publish(ctx, slotEvent(events.TypeSessionReady, s.index, b))
	return h, nil
}

// fail records reason on the slot and marks the binding's key failed. The
// session, if any, stays in the slot until it is evicted or cleared.
func (m *Manager) fail(ctx context.Context, g slotGuard, b *binding, reason drm.FailureReason, cause error) error {
	g.s.reason = reason
	m.cache.MarkFailed(g.s.index, b.gen)
	m.metrics.OnSessionFailed(reason)

	err := reason.Err()
	if cause != nil {
		err = fmt.Errorf("%w: %w", err, cause)
	}
	if reason == drm.FailureLicense {
		m.log.WarnContext(ctx, "drmsession.license.fail", slog.String("err", err.Error()))
	}
	ev := slotEvent(events.TypeSessionFailed, g.s.index, b)
	ev.Reason = reason.String()
	m.publish(ctx, ev)
	return err
}

// callerGaveUp reports whether err is the caller's own cancellation or
// deadline rather than a failure of the DRM system.
func callerGaveUp(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

// failOrAbandon records a failure, unless the caller gave up. Then the slot
// is freed without touching the negative cache, so the next request for the
// key binds afresh.
func (m *Manager) failOrAbandon(ctx context.Context, g slotGuard, b *binding, reason drm.FailureReason, cause error) error {
	if !callerGaveUp(ctx, cause) {
		return m.fail(ctx, g, b, reason, cause)
	}
	if sess, err := g.closeSession(b); sess != nil && err != nil {
		m.log.WarnContext(ctx, "drmsession.session.close.fail", slog.String("err", err.Error()))
	}
	m.cache.Forget(g.s.index, b.gen)
	m.log.InfoContext(ctx, "drmsession.create.abandon",
		slog.String("stage", reason.String()),
		slog.String("err", cause.Error()),
	)
	return fmt.Errorf("%w: %w", errCreateAbandoned, cause)
}

func (m *Manager) license(ctx context.Context, h *Handle, helper drm.Helper, metadata string, renewal bool) error {
	timeout := m.keyTimeout(helper)
	start := m.now()

	var err error
	switch {
	case helper.PlatformAcquiresLicense() && !renewal:
		err = waitReady(ctx, h.Session, timeout)
	case m.licenser == nil:
		err = errNoLicenseAcquirer
	default:
		err = m.licenser.AcquireLicense(ctx, &drm.LicenseAcquisition{
			Helper:    helper,
			Slot:      h.Slot,
			Session:   h.Session,
			MediaType: h.MediaType,
			Metadata:  metadata,
			Renewal:   renewal,
		})
		if err == nil {
			err = waitReady(ctx, h.Session, timeout)
		}
	}

	m.metrics.OnLicense(renewal, err, m.now().Sub(start))
	m.lastLicenseFailed.Store(err != nil)
	return err
}

func waitReady(ctx context.Context, sess drm.Session, timeout time.Duration) error {
	if sess.State() == drm.StateReady {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if st := sess.WaitForState(wctx, drm.StateReady); st != drm.StateReady {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("session %s not ready: %w", sess.ID(), err)
		}
		return fmt.Errorf("session %s not ready: %s", sess.ID(), st)
	}
	return nil
}

func (m *Manager) attachSecurity(sess drm.Session) {
	if m.security == nil {
		return
	}
	if id, ok := m.security.SessionID(); ok {
		sess.SetSecuritySessionID(id)
	}
}

// RenewLicense runs the license acquirer again for the session behind h,
// with Renewal set. On failure the key is marked failed but the slot is not
// evicted; it ages out through normal eviction.
func (m *Manager) RenewLicense(ctx context.Context, h *Handle, helper drm.Helper, metadata string) error {
	if h == nil || h.b == nil {
		return ErrStaleHandle
	}
	if helper == nil {
		return errors.New("drmsession: renew requires a helper")
	}
	ctx = m.logCtx(ctx)

	m.poolMu.Lock()
	if h.Slot < 0 || h.Slot >= len(m.slots) || m.slots[h.Slot].cur != h.b {
		m.poolMu.Unlock()
		return ErrStaleHandle
	}
	s := m.slots[h.Slot]
	rel := m.unlockPool()

	g := s.lock(rel)
	defer g.unlock()
	if s.retired || s.session != h.Session {
		return ErrStaleHandle
	}

	ctx = logctx.WithSlotData(ctx, &logctx.SlotData{
		Index:     s.index,
		SystemID:  h.SystemID.String(),
		MediaType: h.MediaType.String(),
		KeyIDs:    drm.FormatKeyIDs(h.KeyIDs),
	})
	if err := m.license(ctx, h, helper, metadata, true); err != nil {
		if callerGaveUp(ctx, err) {
			return err
		}
		return m.fail(ctx, g, h.b, drm.FailureLicense, err)
	}
	m.attachSecurity(h.Session)
	m.log.InfoContext(ctx, "drmsession.renew.ok", slog.String("session_id", h.Session.ID()))
	return nil
}
