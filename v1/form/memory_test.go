package form

import (
	"context"
	"testing"
	"time"
)

func testForm(id, code, createdBy string, createdAt time.Time) Form {
	return Form{
		ID:        id,
		Title:     "survey " + id,
		Fields:    []Field{{Name: "email", Type: FieldEmail}},
		ShareCode: code,
		CreatedBy: createdBy,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestInMemoryStoreRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	f := testForm("f1", "ABCD1234", "u1", time.Now())
	if err := s.Put(ctx, f); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok, err := s.Get(ctx, "f1")
	if err != nil || !ok || got.Title != f.Title {
		t.Fatalf("get: %+v ok %v err %v", got, ok, err)
	}
	got, ok, err = s.GetByShareCode(ctx, "ABCD1234")
	if err != nil || !ok || got.ID != "f1" {
		t.Fatalf("get by code: %+v ok %v err %v", got, ok, err)
	}
	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatal("get returned a form that was never stored")
	}
	if _, ok, _ := s.GetByShareCode(ctx, "NOPE0000"); ok {
		t.Fatal("code lookup returned a form that was never stored")
	}
}

func TestInMemoryStoreShareCodeReindex(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	f := testForm("f1", "OLDCODE1", "u1", time.Now())
	_ = s.Put(ctx, f)
	f.ShareCode = "NEWCODE1"
	_ = s.Put(ctx, f)

	if _, ok, _ := s.GetByShareCode(ctx, "OLDCODE1"); ok {
		t.Fatal("stale share code still resolves")
	}
	if got, ok, _ := s.GetByShareCode(ctx, "NEWCODE1"); !ok || got.ID != "f1" {
		t.Fatalf("new share code: %+v ok %v", got, ok)
	}
}

func TestInMemoryStoreListByCreator(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	base := time.Now()
	_ = s.Put(ctx, testForm("f2", "C2", "u1", base.Add(time.Minute)))
	_ = s.Put(ctx, testForm("f1", "C1", "u1", base))
	_ = s.Put(ctx, testForm("f3", "C3", "u2", base))

	forms, err := s.List(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(forms) != 2 || forms[0].ID != "f1" || forms[1].ID != "f2" {
		t.Fatalf("list order: %+v", forms)
	}
}
