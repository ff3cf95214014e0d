// Package drmsession multiplexes a small, fixed pool of platform decryption
// sessions across the tracks of one or more content streams.
//
// A Manager owns N slots. Each slot holds at most one drm.Session and one
// key record in a keycache.Cache. CreateSession resolves a drm.Helper for the
// requested protection system, extracts the key ids, and then either:
//
//   - reuses the slot already holding any of those key ids, waiting a bounded
//     time for an in-flight bind on it to settle, or
//   - evicts the oldest non-primary slot, destroys its session, binds a new
//     session and acquires a license for it.
//
// Concurrent calls for the same key id converge on one session and one
// *Handle. Keys whose session failed are cached negatively; repeated calls
// fail fast with drm.ErrKeyPreviouslyFailed until ClearFailedKeys runs.
//
// # Locking
//
// Three lock scopes exist. The cache has its own mutex. The Manager holds a
// pool lock around the choose-or-evict decision, and each slot has a lock
// held while its session is created, bound and licensed. The slot lock can
// only be taken with a token returned by releasing the pool lock, so the
// order is always pool, released, slot.
//
// ResizePool and ClearSessionData expect no CreateSession call to be in
// flight. Calls that are in flight anyway finish against the slot they
// claimed; a resized-away slot rejects them and closes its session.
//
// # Watermarking
//
// SetPlaybackSpeedState, SetVideoMuted and HideWatermarkOnDetach feed a
// playback.Tracker. Updates reach the drm.SecurityClient only while a
// security session is valid, video is not muted and the first frame has been
// rendered.
//
// # Example
//
//	reg := drm.NewRegistry(widevineProvider)
//	mgr, err := drmsession.New(reg, platformFactory,
//		drmsession.WithMaxSessions(4),
//		drmsession.WithLicenseAcquirer(licensehttp.New(licensehttp.Config{URL: licenseURL})),
//	)
//	if err != nil {
//		return err
//	}
//	defer mgr.Close()
//	h, err := mgr.CreateSession(ctx, drmsession.CreateRequest{
//		SystemID:  drm.WidevineSystemID,
//		InitBytes: pssh,
//		MediaType: drm.MediaTypeVideo,
//		Primary:   true,
//	})
package drmsession
