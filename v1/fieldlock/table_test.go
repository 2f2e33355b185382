package fieldlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	tb := NewTable(time.Minute, nil)
	if res := tb.Acquire("f1", "email", "alice"); !res.Granted {
		t.Fatalf("acquire: expected grant, got owner %q", res.Owner)
	}
	if res := tb.Acquire("f1", "email", "bob"); res.Granted || res.Owner != "alice" {
		t.Fatalf("expected conflict owned by alice, got %+v", res)
	}
	if out := tb.Release("f1", "email", "alice"); out != Released {
		t.Fatalf("release: got %v", out)
	}
	if res := tb.Acquire("f1", "email", "bob"); !res.Granted {
		t.Fatalf("expected grant after release, got %+v", res)
	}
}

func TestReacquireSameOwner(t *testing.T) {
	tb := NewTable(time.Minute, nil)
	if res := tb.Acquire("f1", "email", "alice"); !res.Granted {
		t.Fatalf("first acquire: %+v", res)
	}
	if res := tb.Acquire("f1", "email", "alice"); !res.Granted {
		t.Fatalf("re-acquire by owner should be granted, got %+v", res)
	}
	if owner, ok := tb.Owner("f1", "email"); !ok || owner != "alice" {
		t.Fatalf("owner after re-acquire: %q ok %v", owner, ok)
	}
}

func TestReleaseOutcomes(t *testing.T) {
	tb := NewTable(time.Minute, nil)
	if out := tb.Release("f1", "email", "alice"); out != NotLocked {
		t.Fatalf("release unlocked field: got %v", out)
	}
	tb.Acquire("f1", "email", "alice")
	if out := tb.Release("f1", "email", "bob"); out != NotOwner {
		t.Fatalf("release by non-owner: got %v", out)
	}
	if owner, ok := tb.Owner("f1", "email"); !ok || owner != "alice" {
		t.Fatalf("lock should survive non-owner release, owner %q ok %v", owner, ok)
	}
}

func TestMutualExclusionUnderContention(t *testing.T) {
	tb := NewTable(time.Minute, nil)
	var granted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if tb.Acquire("f1", "email", string(rune('a'+n%26))+"user").Granted {
				granted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	// Workers share user ids, so re-acquires by the winning user may also be
	// granted. There must be exactly one held lock regardless.
	if granted.Load() == 0 {
		t.Fatal("no acquire succeeded")
	}
	if n := tb.Count(); n != 1 {
		t.Fatalf("expected exactly one held lock, got %d", n)
	}
}

type expiry struct {
	form, field, owner string
	gen                uint64
}

func TestExpiryFires(t *testing.T) {
	expired := make(chan expiry, 1)
	tb := NewTable(10*time.Millisecond, func(formID, fieldName, ownerID string, gen uint64) {
		expired <- expiry{formID, fieldName, ownerID, gen}
	})
	tb.Acquire("f1", "email", "alice")
	var got expiry
	select {
	case got = <-expired:
		if got.form != "f1" || got.field != "email" || got.owner != "alice" {
			t.Fatalf("expiry args: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expiry never fired")
	}
	if !tb.Expire(got.form, got.field, got.owner, got.gen) {
		t.Fatal("expire should release the held lock")
	}
	if _, ok := tb.Owner("f1", "email"); ok {
		t.Fatal("field still locked after expire")
	}
}

func TestReacquireRestartsTimer(t *testing.T) {
	var fired atomic.Int32
	tb := NewTable(30*time.Millisecond, func(formID, fieldName, ownerID string, gen uint64) {
		fired.Add(1)
	})
	tb.Acquire("f1", "email", "alice")
	time.Sleep(20 * time.Millisecond)
	tb.Acquire("f1", "email", "alice")
	time.Sleep(20 * time.Millisecond)
	// 40ms elapsed but the timer restarted at 20ms, so nothing fired yet.
	if n := fired.Load(); n != 0 {
		t.Fatalf("timer fired %d times before restarted TTL elapsed", n)
	}
	time.Sleep(30 * time.Millisecond)
	if n := fired.Load(); n != 1 {
		t.Fatalf("expected exactly one expiry, got %d", n)
	}
}

func TestStaleExpireIsNoOp(t *testing.T) {
	tb := NewTable(time.Minute, nil)
	tb.Acquire("f1", "email", "alice") // gen 1
	tb.Release("f1", "email", "alice")
	tb.Acquire("f1", "email", "bob") // gen 2
	if tb.Expire("f1", "email", "alice", 1) {
		t.Fatal("stale expire released a lock it no longer owned")
	}
	if owner, ok := tb.Owner("f1", "email"); !ok || owner != "bob" {
		t.Fatalf("bob's lock lost to stale expire, owner %q ok %v", owner, ok)
	}
}

func TestFiredTimerCannotReleaseReacquiredLock(t *testing.T) {
	fired := make(chan expiry, 2)
	tb := NewTable(10*time.Millisecond, func(formID, fieldName, ownerID string, gen uint64) {
		fired <- expiry{formID, fieldName, ownerID, gen}
	})
	tb.Acquire("f1", "email", "alice")
	var stale expiry
	select {
	case stale = <-fired:
	case <-time.After(time.Second):
		t.Fatal("expiry never fired")
	}
	// The timer has fired but its release has not run yet, as happens when
	// the callback is parked behind the form's event serialization. The same
	// owner re-acquires first; the stale firing must then be a no-op even
	// though it names the right owner.
	tb.Acquire("f1", "email", "alice")
	if tb.Expire(stale.form, stale.field, stale.owner, stale.gen) {
		t.Fatal("stale expiry released a freshly re-acquired lock")
	}
	if owner, ok := tb.Owner("f1", "email"); !ok || owner != "alice" {
		t.Fatalf("re-acquired lock lost, owner %q ok %v", owner, ok)
	}
}

func TestFiredTimerCannotReleaseAfterReleaseAndReacquire(t *testing.T) {
	fired := make(chan expiry, 2)
	tb := NewTable(10*time.Millisecond, func(formID, fieldName, ownerID string, gen uint64) {
		fired <- expiry{formID, fieldName, ownerID, gen}
	})
	tb.Acquire("f1", "email", "alice")
	var stale expiry
	select {
	case stale = <-fired:
	case <-time.After(time.Second):
		t.Fatal("expiry never fired")
	}
	// Release then re-acquire by the same owner recreates the entry; the
	// generation number still distinguishes the old grant.
	tb.Release("f1", "email", "alice")
	tb.Acquire("f1", "email", "alice")
	if tb.Expire(stale.form, stale.field, stale.owner, stale.gen) {
		t.Fatal("stale expiry released a recreated lock")
	}
	if owner, ok := tb.Owner("f1", "email"); !ok || owner != "alice" {
		t.Fatalf("recreated lock lost, owner %q ok %v", owner, ok)
	}
}

func TestReleaseAllOwnedBy(t *testing.T) {
	tb := NewTable(time.Minute, nil)
	tb.Acquire("f1", "email", "alice")
	tb.Acquire("f1", "name", "alice")
	tb.Acquire("f1", "phone", "bob")
	tb.Acquire("f2", "email", "alice")

	released := tb.ReleaseAllOwnedBy("f1", "alice")
	if len(released) != 2 || released[0] != "email" || released[1] != "name" {
		t.Fatalf("released: %v", released)
	}
	if owner, ok := tb.Owner("f1", "phone"); !ok || owner != "bob" {
		t.Fatalf("bob's lock should survive, owner %q ok %v", owner, ok)
	}
	if owner, ok := tb.Owner("f2", "email"); !ok || owner != "alice" {
		t.Fatalf("other form's lock should survive, owner %q ok %v", owner, ok)
	}
	if released := tb.ReleaseAllOwnedBy("f1", "alice"); len(released) != 0 {
		t.Fatalf("second release-all should be empty, got %v", released)
	}
}

func TestOwnersSnapshot(t *testing.T) {
	tb := NewTable(time.Minute, nil)
	tb.Acquire("f1", "email", "alice")
	tb.Acquire("f1", "name", "bob")
	owners := tb.Owners("f1")
	if len(owners) != 2 || owners["email"] != "alice" || owners["name"] != "bob" {
		t.Fatalf("owners: %v", owners)
	}
	owners["email"] = "mallory"
	if owner, _ := tb.Owner("f1", "email"); owner != "alice" {
		t.Fatal("snapshot mutation leaked into the table")
	}
}
