package form

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType enumerates the supported field kinds.
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldEmail    FieldType = "email"
	FieldDropdown FieldType = "dropdown"
	FieldDate     FieldType = "date"
	FieldTextarea FieldType = "textarea"
)

// ErrNameRequired is returned when a field definition has no name.
var ErrNameRequired = errors.New("form: field name is required")

// Field describes one entry of a form. Name is the join key used by all
// collaboration events and must be unique within the form.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Options  []string  `json:"options,omitempty"`
}

// Validate checks the field definition for authoring mistakes.
func (f Field) Validate() error {
	switch f.Type {
	case FieldText, FieldNumber, FieldEmail, FieldDropdown, FieldDate, FieldTextarea:
	default:
		return fmt.Errorf("form: invalid field type: %s", f.Type)
	}
	if strings.TrimSpace(f.Name) == "" {
		return ErrNameRequired
	}
	return nil
}

// Form is a named, ordered set of field definitions collaboratively filled in.
type Form struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Fields      []Field   `json:"fields"`
	ShareCode   string    `json:"shareCode"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Field returns the definition with the given name.
func (f Form) Field(name string) (Field, bool) {
	for _, fd := range f.Fields {
		if fd.Name == name {
			return fd, true
		}
	}
	return Field{}, false
}

// Validate checks the form and all of its fields.
func (f Form) Validate() error {
	if strings.TrimSpace(f.Title) == "" {
		return errors.New("form: title is required")
	}
	if len(f.Fields) == 0 {
		return errors.New("form: at least one field is required")
	}
	seen := make(map[string]struct{}, len(f.Fields))
	for _, fd := range f.Fields {
		if err := fd.Validate(); err != nil {
			return err
		}
		if _, dup := seen[fd.Name]; dup {
			return fmt.Errorf("form: duplicate field name: %s", fd.Name)
		}
		seen[fd.Name] = struct{}{}
	}
	return nil
}

// NewID returns a fresh form identifier.
func NewID() string {
	return uuid.NewString()
}

// NewShareCode returns an 8 character uppercase code used for public joins.
func NewShareCode() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(raw[:8])
}

// Store abstracts form definition persistence.
type Store interface {
	// Get retrieves a form by id. The boolean return indicates whether
	// the form was found.
	Get(ctx context.Context, id string) (Form, bool, error)
	// GetByShareCode retrieves a form by its public share code.
	GetByShareCode(ctx context.Context, code string) (Form, bool, error)
	// Put stores the form, overwriting any previous version.
	Put(ctx context.Context, f Form) error
	// List returns the forms created by the given user.
	List(ctx context.Context, createdBy string) ([]Form, error)
}
