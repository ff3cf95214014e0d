// Package keycache implements the fixed-size key table behind the session
// pool. Each slot of the pool has one Entry recording which key ids occupy
// it, when it was bound, whether its key failed and whether it backs current
// playback. All operations run under a single cache-wide mutex.
//
// Slot selection follows two rules:
//
//	reuse : the first slot whose key ids intersect the request
//	evict : among non-primary slots, empty first, then failed, then the
//	        oldest CreatedAt, lowest index on ties
//
// A failed key is never primary: MarkFailed drops the flag and Claim does not
// raise it on a failed entry, so a failed slot is always the next eviction
// target after the empty ones.
package keycache

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ggoodman/drm-session-go/drm"
)

// ErrSlotOutOfRange is returned for slot indices outside [0, Len()).
var ErrSlotOutOfRange = errors.New("keycache: slot out of range")

// Status is the cached outcome for a key id set.
type Status int

const (
	// StatusUnknown means no slot holds any of the key ids.
	StatusUnknown Status = iota
	// StatusProcessed means a slot holds the key and it has not failed.
	StatusProcessed
	// StatusFailed means a slot holds the key and it is marked failed.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusProcessed:
		return "processed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is the key record of one slot.
type Entry struct {
	KeyIDs    []drm.KeyID
	CreatedAt time.Time
	Failed    bool
	Primary   bool
	// Generation increases every time the slot is bound to a new key set.
	Generation uint64
}

// Empty reports whether the entry holds no key ids.
func (e Entry) Empty() bool { return len(e.KeyIDs) == 0 }

func (e Entry) clone() Entry {
	e.KeyIDs = drm.CloneKeyIDs(e.KeyIDs)
	return e
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// Cache is the key table. The zero value is not usable; call New.
type Cache struct {
	mu      sync.Mutex
	entries []Entry
	now     func() time.Time
	gen     uint64
}

// New returns a cache with size empty slots.
func New(size int, opts ...Option) *Cache {
	if size < 0 {
		size = 0
	}
	c := &Cache{
		entries: make([]Entry, size),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Len returns the number of slots.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Find returns the first slot whose key ids intersect keyIDs.
func (c *Cache) Find(keyIDs []drm.KeyID) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.findLocked(keyIDs)
}

func (c *Cache) findLocked(keyIDs []drm.KeyID) (int, bool) {
	if len(keyIDs) == 0 {
		return -1, false
	}
	for i := range c.entries {
		if drm.KeyIDsIntersect(c.entries[i].KeyIDs, keyIDs) {
			return i, true
		}
	}
	return -1, false
}

// SelectEvictionCandidate returns the next slot to bind: an empty slot, else
// a failed one, else the oldest non-primary slot. It fails with
// drm.ErrNoSlotAvailable when every slot is primary.
func (c *Cache) SelectEvictionCandidate() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectLocked()
}

func (c *Cache) selectLocked() (int, error) {
	best := -1
	for i := range c.entries {
		e := &c.entries[i]
		if e.Primary {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := &c.entries[best]
		if r, rb := evictRank(e), evictRank(b); r != rb {
			if r < rb {
				best = i
			}
			continue
		}
		if e.CreatedAt.Before(b.CreatedAt) {
			best = i
		}
	}
	if best < 0 {
		return -1, drm.ErrNoSlotAvailable
	}
	return best, nil
}

func evictRank(e *Entry) int {
	switch {
	case e.Empty():
		return 0
	case e.Failed:
		return 1
	default:
		return 2
	}
}

// Touch binds slot to keyIDs, stamps it with the current time and clears its
// failed flag. It returns the entry's new generation.
func (c *Cache) Touch(slot int, keyIDs []drm.KeyID, primary bool) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(slot); err != nil {
		return 0, err
	}
	c.gen++
	c.entries[slot] = Entry{
		KeyIDs:     drm.CloneKeyIDs(keyIDs),
		CreatedAt:  c.now(),
		Primary:    primary,
		Generation: c.gen,
	}
	return c.gen, nil
}

// Claim finds the slot holding keyIDs or, failing that, selects and touches
// an eviction candidate, in one critical section. reused reports which path
// was taken. On reuse the entry is left untouched apart from the primary
// flag, which is only ever raised and never on a failed entry.
func (c *Cache) Claim(keyIDs []drm.KeyID, primary bool) (slot int, entry Entry, reused bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.findLocked(keyIDs); ok {
		if primary && !c.entries[i].Failed {
			c.entries[i].Primary = true
		}
		return i, c.entries[i].clone(), true, nil
	}
	i, err := c.selectLocked()
	if err != nil {
		return -1, Entry{}, false, err
	}
	c.gen++
	c.entries[i] = Entry{
		KeyIDs:     drm.CloneKeyIDs(keyIDs),
		CreatedAt:  c.now(),
		Primary:    primary,
		Generation: c.gen,
	}
	return i, c.entries[i].clone(), false, nil
}

// MarkFailed flags slot's key as failed and drops its primary flag, provided
// the slot is still at generation gen. A zero gen matches any generation. It
// reports whether the entry was changed.
func (c *Cache) MarkFailed(slot int, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checkLocked(slot) != nil {
		return false
	}
	e := &c.entries[slot]
	if e.Empty() || (gen != 0 && e.Generation != gen) {
		return false
	}
	e.Failed = true
	e.Primary = false
	return true
}

// Forget empties slot without marking its key failed, provided the slot is
// still at generation gen. It reports whether the entry was changed.
func (c *Cache) Forget(slot int, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.checkLocked(slot) != nil {
		return false
	}
	e := &c.entries[slot]
	if e.Empty() || e.Generation != gen {
		return false
	}
	*e = Entry{Generation: e.Generation}
	return true
}

// MarkPrimary sets or clears slot's primary flag.
func (c *Cache) MarkPrimary(slot int, primary bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(slot); err != nil {
		return err
	}
	c.entries[slot].Primary = primary
	return nil
}

// Status reports the cached outcome for keyIDs.
func (c *Cache) Status(keyIDs []drm.KeyID) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.findLocked(keyIDs)
	if !ok {
		return StatusUnknown
	}
	if c.entries[i].Failed {
		return StatusFailed
	}
	return StatusProcessed
}

// Entry returns a copy of slot's entry.
func (c *Cache) Entry(slot int) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkLocked(slot); err != nil {
		return Entry{}, err
	}
	return c.entries[slot].clone(), nil
}

// Entries returns a copy of every entry, indexed by slot.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	for i := range c.entries {
		out[i] = c.entries[i].clone()
	}
	return out
}

// ClearFailed forgets every failed entry and drops the primary flag from all
// slots. It returns the indices of the entries that were forgotten.
func (c *Cache) ClearFailed() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var cleared []int
	for i := range c.entries {
		e := &c.entries[i]
		if e.Failed {
			*e = Entry{Generation: e.Generation}
			cleared = append(cleared, i)
		}
		e.Primary = false
	}
	return cleared
}

// Clear empties every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		c.entries[i] = Entry{Generation: c.entries[i].Generation}
	}
}

// Reset discards the table and allocates size empty slots.
func (c *Cache) Reset(size int) {
	if size < 0 {
		size = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make([]Entry, size)
}

func (c *Cache) checkLocked(slot int) error {
	if slot < 0 || slot >= len(c.entries) {
		return fmt.Errorf("%w: %d of %d", ErrSlotOutOfRange, slot, len(c.entries))
	}
	return nil
}
