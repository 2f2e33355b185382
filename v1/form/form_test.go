package form

import (
	"strings"
	"testing"
)

func TestFieldValidate(t *testing.T) {
	if err := (Field{Name: "email", Type: FieldEmail}).Validate(); err != nil {
		t.Fatalf("valid field: %v", err)
	}
	if err := (Field{Name: "", Type: FieldText}).Validate(); err != ErrNameRequired {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	if err := (Field{Name: "x", Type: "checkbox"}).Validate(); err == nil {
		t.Fatal("expected invalid type error")
	}
}

func TestFormValidate(t *testing.T) {
	f := Form{
		Title: "survey",
		Fields: []Field{
			{Name: "email", Type: FieldEmail},
			{Name: "name", Type: FieldText},
		},
	}
	if err := f.Validate(); err != nil {
		t.Fatalf("valid form: %v", err)
	}
	if err := (Form{Fields: f.Fields}).Validate(); err == nil {
		t.Fatal("expected title required error")
	}
	if err := (Form{Title: "t"}).Validate(); err == nil {
		t.Fatal("expected fields required error")
	}
	dup := Form{Title: "t", Fields: []Field{
		{Name: "email", Type: FieldEmail},
		{Name: "email", Type: FieldText},
	}}
	if err := dup.Validate(); err == nil {
		t.Fatal("expected duplicate name error")
	}
}

func TestFieldLookup(t *testing.T) {
	f := Form{Fields: []Field{{Name: "email", Type: FieldEmail}}}
	if fd, ok := f.Field("email"); !ok || fd.Type != FieldEmail {
		t.Fatalf("lookup: %+v ok %v", fd, ok)
	}
	if _, ok := f.Field("missing"); ok {
		t.Fatal("lookup found a field that does not exist")
	}
}

func TestNewShareCode(t *testing.T) {
	code := NewShareCode()
	if len(code) != 8 {
		t.Fatalf("share code length: %q", code)
	}
	if code != strings.ToUpper(code) {
		t.Fatalf("share code not uppercase: %q", code)
	}
	if NewShareCode() == code && NewShareCode() == code {
		t.Fatal("share codes do not vary")
	}
}
