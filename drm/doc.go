// Package drm defines the vocabulary shared by the session pool and the
// collaborators it is wired to: the platform decryption Session and its
// factory, the per-DRM-system Helper family and the Registry that selects
// one, the host's LicenseAcquirer, and the content security (watermark)
// client.
//
// Layers & Roles
//
//	Pipeline        -> decides when a track needs a session, feeds samples
//	drmsession      -> owns the slot pool, dedupes by key id, evicts, binds
//	Helper          -> DRM-system specific parsing and license request shaping
//	Session         -> opaque platform handle (CDM), owned by exactly one slot
//	LicenseAcquirer -> host-side license round trip
//	SecurityClient  -> watermark overlay driven by activation, speed and mute
//
// # Helpers
//
// Helpers are borrowed for the duration of a call. A HelperProvider decides
// whether it handles a given SystemID and builds a fresh Helper per request.
// Providers are registered on an explicit Registry handed to the manager;
// candidates are consulted in descending weight order and the first match
// wins, so new DRM systems can be plugged in without touching the manager.
//
// # Errors
//
// Every failure the pool can surface maps onto one of the sentinel errors in
// this package. Callers should compare with errors.Is; the pool wraps them
// with slot and key context.
package drm
