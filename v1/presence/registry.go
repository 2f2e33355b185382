package presence

import (
	"sync"
)

// Participant is one live connection attached to a form.
type Participant struct {
	ConnID   string
	UserID   string
	Username string
}

// Registry tracks which connections are attached to which form. A connection
// appears in at most one form's set; empty sets are removed entirely so the
// active-form count only reflects forms with at least one participant.
// Membership is pure bookkeeping: callers validate that the form exists
// before the first join.
type Registry struct {
	mu      sync.RWMutex
	members map[string]map[string]Participant
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{members: make(map[string]map[string]Participant)}
}

// Join adds the participant to the form's set and returns the new active
// user count. Joining a form the connection already belongs to is a no-op
// for membership; added reports whether the participant was newly attached.
func (r *Registry) Join(formID string, p Participant) (count int, added bool) {
	r.mu.Lock()
	set := r.members[formID]
	if set == nil {
		set = make(map[string]Participant)
		r.members[formID] = set
	}
	_, exists := set[p.ConnID]
	set[p.ConnID] = p
	count = len(set)
	r.mu.Unlock()
	return count, !exists
}

// Leave removes the connection from the form's set and returns the
// remaining active user count. The form entry is deleted when it empties.
func (r *Registry) Leave(formID, connID string) int {
	r.mu.Lock()
	set := r.members[formID]
	delete(set, connID)
	count := len(set)
	if count == 0 {
		delete(r.members, formID)
	}
	r.mu.Unlock()
	return count
}

// Count returns the current active user count for the form.
func (r *Registry) Count(formID string) int {
	r.mu.RLock()
	n := len(r.members[formID])
	r.mu.RUnlock()
	return n
}

// Participants returns a snapshot of the form's current participants.
func (r *Registry) Participants(formID string) []Participant {
	r.mu.RLock()
	set := r.members[formID]
	out := make([]Participant, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	r.mu.RUnlock()
	return out
}

// Forms returns the number of forms with at least one participant.
func (r *Registry) Forms() int {
	r.mu.RLock()
	n := len(r.members)
	r.mu.RUnlock()
	return n
}
