package fieldlock

import (
	"sort"
	"sync"
	"time"
)

// DefaultTTL is how long a field lock is held without re-acquiring.
const DefaultTTL = 30 * time.Second

// AcquireResult reports the outcome of an Acquire call. When Granted is
// false, Owner names the user currently holding the field.
type AcquireResult struct {
	Granted bool
	Owner   string
}

// ReleaseOutcome distinguishes the possible results of a Release call.
// NotOwner and NotLocked are expected outcomes, not faults.
type ReleaseOutcome int

const (
	Released ReleaseOutcome = iota
	NotOwner
	NotLocked
)

// ExpireFunc is invoked from the expiry timer goroutine. Callers must funnel
// it through the same serialization point as regular events and then call
// Expire with the same gen, which rechecks the grant before releasing.
type ExpireFunc func(formID, fieldName, ownerID string, gen uint64)

type entry struct {
	owner string
	gen   uint64
	timer *time.Timer
}

// Table holds per (form, field) exclusive-edit ownership with automatic
// expiry. A field has either no entry (unlocked) or exactly one entry naming
// the current owner, with at most one pending expiry timer. Every grant gets
// a table-wide generation number so a timer that already fired can be told
// apart from the grant it is trying to expire.
type Table struct {
	mu       sync.Mutex
	ttl      time.Duration
	onExpiry ExpireFunc
	gen      uint64
	locks    map[string]map[string]*entry
}

// NewTable returns a Table with the given lock TTL. onExpiry may be nil, in
// which case locks never expire on their own (useful in tests). A
// non-positive ttl falls back to DefaultTTL.
func NewTable(ttl time.Duration, onExpiry ExpireFunc) *Table {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Table{
		ttl:      ttl,
		onExpiry: onExpiry,
		locks:    make(map[string]map[string]*entry),
	}
}

// Acquire attempts to lock the field for userID. Re-acquiring a field the
// user already owns restarts the expiry timer; the previous timer is always
// cancelled first so only one pending expiry exists per field.
func (t *Table) Acquire(formID, fieldName, userID string) AcquireResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	fields := t.locks[formID]
	if fields == nil {
		fields = make(map[string]*entry)
		t.locks[formID] = fields
	}
	e := fields[fieldName]
	if e != nil && e.owner != userID {
		return AcquireResult{Granted: false, Owner: e.owner}
	}
	if e == nil {
		e = &entry{}
		fields[fieldName] = e
	} else if e.timer != nil {
		// Stop cannot cancel a callback that has already fired; the new
		// generation number makes such a stale firing a no-op in Expire.
		e.timer.Stop()
	}
	e.owner = userID
	t.gen++
	e.gen = t.gen
	if t.onExpiry != nil {
		gen := e.gen
		e.timer = time.AfterFunc(t.ttl, func() {
			t.onExpiry(formID, fieldName, userID, gen)
		})
	}
	return AcquireResult{Granted: true, Owner: userID}
}

// Release unlocks the field if userID is the current owner, cancelling the
// pending timer. Otherwise it is a no-op with a distinguishable outcome.
func (t *Table) Release(formID, fieldName, userID string) ReleaseOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.locks[formID][fieldName]
	if e == nil {
		return NotLocked
	}
	if e.owner != userID {
		return NotOwner
	}
	t.drop(formID, fieldName, e)
	return Released
}

// Expire releases the field only if gen still identifies the current grant.
// The owner recheck alone is not enough: a timer that fired just before a
// same-owner re-acquire carries the same ownerID, and only the generation
// number exposes it as stale. It reports whether the field was released.
func (t *Table) Expire(formID, fieldName, ownerID string, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.locks[formID][fieldName]
	if e == nil || e.owner != ownerID || e.gen != gen {
		return false
	}
	t.drop(formID, fieldName, e)
	return true
}

// ReleaseAllOwnedBy releases every field in the form currently owned by
// userID, cancelling each timer, and returns the released field names.
func (t *Table) ReleaseAllOwnedBy(formID, userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var released []string
	for fieldName, e := range t.locks[formID] {
		if e.owner == userID {
			released = append(released, fieldName)
		}
	}
	sort.Strings(released)
	for _, fieldName := range released {
		t.drop(formID, fieldName, t.locks[formID][fieldName])
	}
	return released
}

// Owner reports the current owner of the field, if locked.
func (t *Table) Owner(formID, fieldName string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.locks[formID][fieldName]
	if e == nil {
		return "", false
	}
	return e.owner, true
}

// Owners returns a snapshot of fieldName to owner for the form, used to
// hydrate newly joined participants.
func (t *Table) Owners(formID string) map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	owners := make(map[string]string, len(t.locks[formID]))
	for fieldName, e := range t.locks[formID] {
		owners[fieldName] = e.owner
	}
	return owners
}

// Count returns the total number of held locks across all forms.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, fields := range t.locks {
		n += len(fields)
	}
	return n
}

// drop removes the entry and cancels its timer. Caller holds t.mu.
func (t *Table) drop(formID, fieldName string, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(t.locks[formID], fieldName)
	if len(t.locks[formID]) == 0 {
		delete(t.locks, formID)
	}
}
