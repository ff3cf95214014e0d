package keycache

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/drm-session-go/drm"
)

// stepClock returns a clock that advances one second per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func keys(labels ...string) []drm.KeyID {
	out := make([]drm.KeyID, len(labels))
	for i, l := range labels {
		out[i] = drm.KeyID(l)
	}
	return out
}

func TestFindMatchesOnIntersection(t *testing.T) {
	c := New(3, WithClock(stepClock()))
	if _, err := c.Touch(1, keys("a", "b"), false); err != nil {
		t.Fatalf("touch: %v", err)
	}

	slot, ok := c.Find(keys("z", "b"))
	if !ok || slot != 1 {
		t.Fatalf("expected slot 1 via shared key id, got %d ok=%v", slot, ok)
	}
	if _, ok := c.Find(keys("c")); ok {
		t.Fatalf("expected no match for disjoint set")
	}
	if _, ok := c.Find(nil); ok {
		t.Fatalf("empty request must never match")
	}
}

func TestSelectEmptySlotsFirstLowestIndex(t *testing.T) {
	c := New(3, WithClock(stepClock()))
	slot, err := c.SelectEvictionCandidate()
	if err != nil || slot != 0 {
		t.Fatalf("expected slot 0, got %d err=%v", slot, err)
	}
	if _, err := c.Touch(0, keys("a"), false); err != nil {
		t.Fatalf("touch: %v", err)
	}
	slot, err = c.SelectEvictionCandidate()
	if err != nil || slot != 1 {
		t.Fatalf("expected slot 1, got %d err=%v", slot, err)
	}
}

func TestSelectOldestNonPrimary(t *testing.T) {
	c := New(4, WithClock(stepClock()))
	// Bind in order 2, 0, 3, 1 so CreatedAt ascends in that order.
	for _, s := range []int{2, 0, 3, 1} {
		if _, err := c.Touch(s, keys(string(rune('a'+s))), false); err != nil {
			t.Fatalf("touch %d: %v", s, err)
		}
	}
	if slot, _ := c.SelectEvictionCandidate(); slot != 2 {
		t.Fatalf("expected oldest slot 2, got %d", slot)
	}
	if err := c.MarkPrimary(2, true); err != nil {
		t.Fatalf("mark primary: %v", err)
	}
	if slot, _ := c.SelectEvictionCandidate(); slot != 0 {
		t.Fatalf("expected next oldest slot 0, got %d", slot)
	}
}

func TestSelectTieBreaksOnLowestIndex(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(3, WithClock(func() time.Time { return fixed }))
	for s := 0; s < 3; s++ {
		if _, err := c.Touch(s, keys(string(rune('a'+s))), false); err != nil {
			t.Fatalf("touch: %v", err)
		}
	}
	if slot, _ := c.SelectEvictionCandidate(); slot != 0 {
		t.Fatalf("expected slot 0 on tie, got %d", slot)
	}
}

func TestSelectNeverReturnsPrimary(t *testing.T) {
	c := New(2, WithClock(stepClock()))
	if _, err := c.Touch(0, keys("a"), true); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if _, err := c.Touch(1, keys("b"), true); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if _, err := c.SelectEvictionCandidate(); !errors.Is(err, drm.ErrNoSlotAvailable) {
		t.Fatalf("expected ErrNoSlotAvailable, got %v", err)
	}
	_, _, _, err := c.Claim(keys("c"), false)
	if !errors.Is(err, drm.ErrNoSlotAvailable) {
		t.Fatalf("expected claim to fail with ErrNoSlotAvailable, got %v", err)
	}
	if err := c.MarkPrimary(1, false); err != nil {
		t.Fatalf("mark primary: %v", err)
	}
	if slot, err := c.SelectEvictionCandidate(); err != nil || slot != 1 {
		t.Fatalf("expected slot 1 after unpinning, got %d err=%v", slot, err)
	}
}

func TestSelectPrefersFailedSlot(t *testing.T) {
	c := New(3, WithClock(stepClock()))
	c.Touch(0, keys("a"), false)
	g1, _ := c.Touch(1, keys("b"), false)
	c.Touch(2, keys("c"), false)
	c.MarkFailed(1, g1)

	if slot, _ := c.SelectEvictionCandidate(); slot != 1 {
		t.Fatalf("expected failed slot 1 before the oldest healthy slot, got %d", slot)
	}
	slot, _, reused, err := c.Claim(keys("d"), false)
	if err != nil || reused || slot != 1 {
		t.Fatalf("claim: slot=%d reused=%v err=%v", slot, reused, err)
	}
	if got := c.Status(keys("a")); got != StatusProcessed {
		t.Fatalf("healthy key a must survive, got %s", got)
	}
}

func TestSelectPrefersEmptyOverFailed(t *testing.T) {
	c := New(2, WithClock(stepClock()))
	g0, _ := c.Touch(0, keys("a"), false)
	c.MarkFailed(0, g0)
	if slot, _ := c.SelectEvictionCandidate(); slot != 1 {
		t.Fatalf("expected empty slot 1, got %d", slot)
	}
}

func TestFailedPrimaryBecomesEvictable(t *testing.T) {
	c := New(2, WithClock(stepClock()))
	g0, _ := c.Touch(0, keys("a"), true)
	g1, _ := c.Touch(1, keys("b"), true)
	c.MarkFailed(0, g0)
	c.MarkFailed(1, g1)

	for i, e := range c.Entries() {
		if e.Primary {
			t.Fatalf("slot %d: failed entry must not stay primary", i)
		}
	}
	if slot, err := c.SelectEvictionCandidate(); err != nil || slot != 0 {
		t.Fatalf("expected slot 0, got %d err=%v", slot, err)
	}

	slot, e, reused, err := c.Claim(keys("a"), true)
	if err != nil || !reused || slot != 0 {
		t.Fatalf("reuse claim: slot=%d reused=%v err=%v", slot, reused, err)
	}
	if e.Primary {
		t.Fatal("reuse of a failed key must not raise primary")
	}
}

func TestForget(t *testing.T) {
	c := New(1, WithClock(stepClock()))
	oldGen, _ := c.Touch(0, keys("a"), false)
	newGen, _ := c.Touch(0, keys("b"), false)
	if c.Forget(0, oldGen) {
		t.Fatal("stale generation must not forget the new occupant")
	}
	if !c.Forget(0, newGen) {
		t.Fatal("current generation should forget")
	}
	if got := c.Status(keys("b")); got != StatusUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
	if c.Forget(0, newGen) {
		t.Fatal("empty entry has nothing to forget")
	}
}

func TestClaimReuseAndEvict(t *testing.T) {
	c := New(2, WithClock(stepClock()))

	slot, e, reused, err := c.Claim(keys("a"), false)
	if err != nil || reused || slot != 0 {
		t.Fatalf("first claim: slot=%d reused=%v err=%v", slot, reused, err)
	}
	gen := e.Generation

	slot, e, reused, err = c.Claim(keys("a", "x"), true)
	if err != nil || !reused || slot != 0 {
		t.Fatalf("reuse claim: slot=%d reused=%v err=%v", slot, reused, err)
	}
	if e.Generation != gen {
		t.Fatalf("reuse must not bump generation")
	}
	if !e.Primary {
		t.Fatalf("reuse with primary should raise the flag")
	}

	if slot, _, _, _ = c.Claim(keys("b"), false); slot != 1 {
		t.Fatalf("expected slot 1, got %d", slot)
	}
	// slot 0 is primary, slot 1 is the only candidate.
	slot, e, reused, err = c.Claim(keys("c"), false)
	if err != nil || reused || slot != 1 {
		t.Fatalf("evict claim: slot=%d reused=%v err=%v", slot, reused, err)
	}
	if !drm.KeyIDsIntersect(e.KeyIDs, keys("c")) {
		t.Fatalf("slot 1 should now hold key c")
	}
	if _, ok := c.Find(keys("b")); ok {
		t.Fatalf("evicted key b should be forgotten")
	}
}

func TestMarkFailedRespectsGeneration(t *testing.T) {
	c := New(1, WithClock(stepClock()))
	oldGen, _ := c.Touch(0, keys("a"), false)
	newGen, _ := c.Touch(0, keys("b"), false)

	if c.MarkFailed(0, oldGen) {
		t.Fatalf("stale generation must not mark the new occupant failed")
	}
	if got := c.Status(keys("b")); got != StatusProcessed {
		t.Fatalf("expected processed, got %s", got)
	}
	if !c.MarkFailed(0, newGen) {
		t.Fatalf("current generation should mark failed")
	}
	if got := c.Status(keys("b")); got != StatusFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	if got := c.Status(keys("a")); got != StatusUnknown {
		t.Fatalf("expected unknown for replaced key, got %s", got)
	}
}

func TestMarkFailedIgnoresEmptyAndOutOfRange(t *testing.T) {
	c := New(1)
	if c.MarkFailed(0, 0) {
		t.Fatalf("empty entry cannot fail")
	}
	if c.MarkFailed(5, 0) {
		t.Fatalf("out of range slot cannot fail")
	}
	if err := c.MarkPrimary(-1, true); !errors.Is(err, ErrSlotOutOfRange) {
		t.Fatalf("expected ErrSlotOutOfRange, got %v", err)
	}
}

func TestClearFailed(t *testing.T) {
	c := New(3, WithClock(stepClock()))
	g0, _ := c.Touch(0, keys("a"), true)
	c.Touch(1, keys("b"), true)
	c.MarkFailed(0, g0)

	cleared := c.ClearFailed()
	if len(cleared) != 1 || cleared[0] != 0 {
		t.Fatalf("expected slot 0 cleared, got %v", cleared)
	}
	if c.Status(keys("a")) != StatusUnknown {
		t.Fatalf("failed key should be forgotten")
	}
	if c.Status(keys("b")) != StatusProcessed {
		t.Fatalf("healthy key should survive")
	}
	for i, e := range c.Entries() {
		if e.Primary {
			t.Fatalf("slot %d still primary after ClearFailed", i)
		}
	}
}

func TestClearAndReset(t *testing.T) {
	c := New(2, WithClock(stepClock()))
	c.Touch(0, keys("a"), true)
	c.Touch(1, keys("b"), false)
	c.Clear()
	for i, e := range c.Entries() {
		if !e.Empty() || e.Primary || e.Failed {
			t.Fatalf("slot %d not cleared: %+v", i, e)
		}
	}

	c.Touch(1, keys("b"), false)
	c.Reset(5)
	if c.Len() != 5 {
		t.Fatalf("expected 5 slots, got %d", c.Len())
	}
	if _, ok := c.Find(keys("b")); ok {
		t.Fatalf("reset must forget every key")
	}
	if _, err := c.Entry(4); err != nil {
		t.Fatalf("entry 4: %v", err)
	}
	if _, err := c.Entry(5); !errors.Is(err, ErrSlotOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
}

func TestEntriesAreCopies(t *testing.T) {
	c := New(1)
	c.Touch(0, keys("a"), false)
	e := c.Entries()
	e[0].KeyIDs[0][0] = 'z'
	if _, ok := c.Find(keys("a")); !ok {
		t.Fatalf("mutating a snapshot must not change the cache")
	}
}

func TestConcurrentClaimsNeverShareAFreeSlot(t *testing.T) {
	const n = 16
	c := New(n)
	var wg sync.WaitGroup
	slots := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, _, err := c.Claim(keys(string(rune('A'+i))), true)
			if err != nil {
				t.Errorf("claim %d: %v", i, err)
				return
			}
			slots[i] = s
		}(i)
	}
	wg.Wait()
	seen := make(map[int]bool)
	for _, s := range slots {
		if seen[s] {
			t.Fatalf("slot %d handed out twice", s)
		}
		seen[s] = true
	}
}
