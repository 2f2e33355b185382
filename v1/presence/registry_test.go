package presence

import (
	"testing"
)

func TestJoinLeaveCounts(t *testing.T) {
	r := NewRegistry()

	count, added := r.Join("f1", Participant{ConnID: "c1", UserID: "u1", Username: "alice"})
	if count != 1 || !added {
		t.Fatalf("first join: count %d added %v", count, added)
	}
	count, added = r.Join("f1", Participant{ConnID: "c2", UserID: "u2", Username: "bob"})
	if count != 2 || !added {
		t.Fatalf("second join: count %d added %v", count, added)
	}
	// Rejoin by the same connection is idempotent.
	count, added = r.Join("f1", Participant{ConnID: "c1", UserID: "u1", Username: "alice"})
	if count != 2 || added {
		t.Fatalf("rejoin: count %d added %v", count, added)
	}

	if n := r.Leave("f1", "c1"); n != 1 {
		t.Fatalf("leave: remaining %d", n)
	}
	if n := r.Leave("f1", "c1"); n != 1 {
		t.Fatalf("double leave should be a no-op, remaining %d", n)
	}
	if n := r.Leave("f1", "c2"); n != 0 {
		t.Fatalf("last leave: remaining %d", n)
	}
	if n := r.Forms(); n != 0 {
		t.Fatalf("empty form set not removed, forms %d", n)
	}
}

func TestLeaveUnknownForm(t *testing.T) {
	r := NewRegistry()
	if n := r.Leave("nope", "c1"); n != 0 {
		t.Fatalf("leave unknown form: %d", n)
	}
	if n := r.Forms(); n != 0 {
		t.Fatalf("forms: %d", n)
	}
}

func TestParticipantsSnapshot(t *testing.T) {
	r := NewRegistry()
	r.Join("f1", Participant{ConnID: "c1", UserID: "u1", Username: "alice"})
	r.Join("f2", Participant{ConnID: "c2", UserID: "u2", Username: "bob"})

	ps := r.Participants("f1")
	if len(ps) != 1 || ps[0].ConnID != "c1" || ps[0].Username != "alice" {
		t.Fatalf("participants: %+v", ps)
	}
	if n := r.Count("f2"); n != 1 {
		t.Fatalf("count f2: %d", n)
	}
	if n := r.Forms(); n != 2 {
		t.Fatalf("forms: %d", n)
	}
}
