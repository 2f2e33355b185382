package events

import (
	"strings"
	"testing"
)

func TestWrapDecodeRoundTrip(t *testing.T) {
	env, err := Wrap(TypeFieldLocked, FieldLocked{FieldName: "email", LockedBy: "u1", Username: "alice"})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	raw := `{"type":"` + env.Type + `","data":` + string(env.Data) + `}`
	got, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != TypeFieldLocked || string(got.Data) != string(env.Data) {
		t.Fatalf("round trip: %+v", got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestWireFieldNames(t *testing.T) {
	env, err := Wrap(TypeJoinForm, JoinForm{FormID: "f1", UserID: "u1", Username: "alice"})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	for _, want := range []string{`"formId"`, `"userId"`, `"username"`} {
		if !strings.Contains(string(env.Data), want) {
			t.Fatalf("payload missing %s: %s", want, env.Data)
		}
	}
	// Conflict payloads omit the username entirely.
	env, _ = Wrap(TypeFieldLocked, FieldLocked{FieldName: "email", LockedBy: "u1"})
	if strings.Contains(string(env.Data), "username") {
		t.Fatalf("conflict payload leaked username: %s", env.Data)
	}
}
