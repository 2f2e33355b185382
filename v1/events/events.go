package events

import "encoding/json"

// Inbound event types sent by clients.
const (
	TypeJoinForm    = "join_form"
	TypeFieldUpdate = "field_update"
	TypeFieldLock   = "field_lock"
	TypeFieldUnlock = "field_unlock"
)

// Outbound event types emitted by the engine.
const (
	TypeError         = "error"
	TypeFormState     = "form_state"
	TypeUserJoined    = "user_joined"
	TypeUserLeft      = "user_left"
	TypeFieldUpdated  = "field_updated"
	TypeFieldLocked   = "field_locked"
	TypeFieldUnlocked = "field_unlocked"
)

// Envelope frames every message on the wire as a type plus payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Wrap builds an Envelope with the payload encoded as JSON.
func Wrap(eventType string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: eventType, Data: data}, nil
}

// Decode parses a raw wire message into an Envelope.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// JoinForm binds a connection to a form and announces the user.
type JoinForm struct {
	FormID   string `json:"formId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// FieldUpdate carries a new value for a single field.
type FieldUpdate struct {
	FormID    string `json:"formId"`
	FieldName string `json:"fieldName"`
	Value     any    `json:"value"`
	UserID    string `json:"userId"`
}

// FieldLock requests exclusive editing rights over a field.
type FieldLock struct {
	FormID    string `json:"formId"`
	FieldName string `json:"fieldName"`
	UserID    string `json:"userId"`
}

// FieldUnlock releases a previously acquired field lock.
type FieldUnlock struct {
	FormID    string `json:"formId"`
	FieldName string `json:"fieldName"`
	UserID    string `json:"userId"`
}

// Error is sent to the offending connection only.
type Error struct {
	Message string `json:"message"`
}

// FormState hydrates a newly joined participant.
type FormState struct {
	Response    map[string]any    `json:"response"`
	Locks       map[string]string `json:"locks"`
	ActiveUsers int               `json:"activeUsers"`
}

// UserJoined notifies existing participants about a new one.
type UserJoined struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	ActiveUsers int    `json:"activeUsers"`
}

// UserLeft notifies remaining participants about a departure.
type UserLeft struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	ActiveUsers int    `json:"activeUsers"`
}

// FieldUpdated propagates a field write to the other participants.
type FieldUpdated struct {
	FieldName string `json:"fieldName"`
	Value     any    `json:"value"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
}

// FieldLocked reports either a granted lock (broadcast) or a conflict
// (sender only, Username empty).
type FieldLocked struct {
	FieldName string `json:"fieldName"`
	LockedBy  string `json:"lockedBy"`
	Username  string `json:"username,omitempty"`
}

// FieldUnlocked reports that a field returned to the unlocked state.
type FieldUnlocked struct {
	FieldName string `json:"fieldName"`
}
