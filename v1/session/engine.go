package session

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/formloom/formloom/v1/events"
	"github.com/formloom/formloom/v1/fieldlock"
	"github.com/formloom/formloom/v1/form"
	"github.com/formloom/formloom/v1/metrics"
	"github.com/formloom/formloom/v1/presence"
	"github.com/formloom/formloom/v1/response"
)

var tracer = otel.Tracer("github.com/formloom/formloom/v1/session")

// Error messages reported to the offending sender only.
const (
	msgFormNotFound      = "Form not found"
	msgInvalidFormAccess = "Invalid form access"
)

// FormResolver resolves form ids against the form store. Joins resolve the
// form before entering the serialized region, so the resolver may block on
// I/O without stalling other events for the form.
type FormResolver interface {
	Get(ctx context.Context, id string) (form.Form, bool, error)
}

// Broadcaster is the delivery capability the engine depends on. The engine
// never talks to a transport directly. Implementations must not block on
// network I/O: delivery is expected to be enqueue-and-return.
type Broadcaster interface {
	// SendTo delivers the event to a single connection.
	SendTo(ctx context.Context, connID string, env events.Envelope) error
	// BroadcastToForm delivers the event to every connection attached to
	// the form, skipping excludeConnID when non-empty.
	BroadcastToForm(ctx context.Context, formID string, env events.Envelope, excludeConnID string) error
}

// Engine is the collaboration session handler: it consumes inbound events,
// mutates the presence registry, field lock table and response store, and
// decides what to broadcast to whom.
//
// All mutations for a given form are serialized through a per-form mutex, so
// lock acquisition is check-and-set atomic with respect to every other event
// targeting the same form, while different forms proceed in parallel. Expiry
// timers funnel through the same mutex.
type Engine struct {
	forms     FormResolver
	presence  *presence.Registry
	locks     *fieldlock.Table
	responses *response.Store
	bcast     Broadcaster

	mu     sync.Mutex
	formMu map[string]*sync.Mutex

	traceEnabled bool
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	lockTTL      time.Duration
	traceEnabled bool
}

// WithLockTTL overrides the field lock expiry, mainly for tests.
func WithLockTTL(d time.Duration) Option {
	return func(o *engineOptions) {
		o.lockTTL = d
	}
}

// WithTracing enables OpenTelemetry spans around event handling.
func WithTracing() Option {
	return func(o *engineOptions) {
		o.traceEnabled = true
	}
}

// New returns an Engine using forms to resolve joins, reg for membership,
// resp for field values and b for delivery. The field lock table is created
// internally so its expiry timers are wired back through the engine's
// serialization point.
func New(forms FormResolver, reg *presence.Registry, resp *response.Store, b Broadcaster, opts ...Option) *Engine {
	o := engineOptions{lockTTL: fieldlock.DefaultTTL}
	for _, opt := range opts {
		opt(&o)
	}
	e := &Engine{
		forms:        forms,
		presence:     reg,
		responses:    resp,
		bcast:        b,
		formMu:       make(map[string]*sync.Mutex),
		traceEnabled: o.traceEnabled,
	}
	e.locks = fieldlock.NewTable(o.lockTTL, e.expireField)
	return e
}

// Locks exposes the field lock table for observability.
func (e *Engine) Locks() *fieldlock.Table { return e.locks }

// formLock returns the serialization mutex for the form. Entries live for
// the process lifetime, like response records.
func (e *Engine) formLock(formID string) *sync.Mutex {
	e.mu.Lock()
	fm := e.formMu[formID]
	if fm == nil {
		fm = &sync.Mutex{}
		e.formMu[formID] = fm
	}
	e.mu.Unlock()
	return fm
}

// HandleJoin binds the connection to the form, snapshots current state for
// the sender and announces the new participant to everyone else. Rejoining
// the bound form is idempotent for membership.
func (e *Engine) HandleJoin(ctx context.Context, c *Conn, ev events.JoinForm) error {
	if e.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Engine.HandleJoin",
			trace.WithAttributes(attribute.String("formloom.form_id", ev.FormID)))
		defer span.End()
	}
	if c.formID != "" && c.formID != ev.FormID {
		return e.sendError(ctx, c, msgInvalidFormAccess)
	}
	// Resolve the form before taking the form mutex so a slow store lookup
	// never stalls the serialized mutation path.
	if _, ok, err := e.forms.Get(ctx, ev.FormID); err != nil {
		return err
	} else if !ok {
		return e.sendError(ctx, c, msgFormNotFound)
	}

	fm := e.formLock(ev.FormID)
	fm.Lock()
	count, added := e.presence.Join(ev.FormID, presence.Participant{
		ConnID:   c.id,
		UserID:   ev.UserID,
		Username: ev.Username,
	})
	c.formID = ev.FormID
	c.userID = ev.UserID
	c.username = ev.Username

	state, err := events.Wrap(events.TypeFormState, events.FormState{
		Response:    e.responses.Snapshot(ev.FormID),
		Locks:       e.locks.Owners(ev.FormID),
		ActiveUsers: count,
	})
	if err != nil {
		fm.Unlock()
		return err
	}
	_ = e.bcast.SendTo(ctx, c.id, state)
	if added {
		joined, err := events.Wrap(events.TypeUserJoined, events.UserJoined{
			UserID:      ev.UserID,
			Username:    ev.Username,
			ActiveUsers: count,
		})
		if err != nil {
			fm.Unlock()
			return err
		}
		_ = e.bcast.BroadcastToForm(ctx, ev.FormID, joined, c.id)
	}
	fm.Unlock()

	metrics.JoinCounter.Inc()
	metrics.FormGauge.Set(float64(e.presence.Forms()))
	return nil
}

// HandleFieldUpdate writes the value last-write-wins and propagates it to
// the other participants. The sender already has the value locally, so it
// receives no echo. A field locked by another owner rejects the write.
func (e *Engine) HandleFieldUpdate(ctx context.Context, c *Conn, ev events.FieldUpdate) error {
	if e.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Engine.HandleFieldUpdate",
			trace.WithAttributes(
				attribute.String("formloom.form_id", ev.FormID),
				attribute.String("formloom.field", ev.FieldName)))
		defer span.End()
	}
	if c.formID == "" || c.formID != ev.FormID {
		return e.sendError(ctx, c, msgInvalidFormAccess)
	}

	fm := e.formLock(ev.FormID)
	fm.Lock()
	if owner, locked := e.locks.Owner(ev.FormID, ev.FieldName); locked && owner != ev.UserID {
		fm.Unlock()
		conflict, err := events.Wrap(events.TypeFieldLocked, events.FieldLocked{
			FieldName: ev.FieldName,
			LockedBy:  owner,
		})
		if err != nil {
			return err
		}
		return e.bcast.SendTo(ctx, c.id, conflict)
	}
	e.responses.Write(ev.FormID, ev.FieldName, ev.Value)
	updated, err := events.Wrap(events.TypeFieldUpdated, events.FieldUpdated{
		FieldName: ev.FieldName,
		Value:     ev.Value,
		UserID:    ev.UserID,
		Username:  c.username,
	})
	if err != nil {
		fm.Unlock()
		return err
	}
	_ = e.bcast.BroadcastToForm(ctx, ev.FormID, updated, c.id)
	fm.Unlock()

	metrics.UpdateCounter.Inc()
	return nil
}

// HandleFieldLock attempts to acquire the field for the sender. A granted
// lock is broadcast to everyone, including the sender, which needs the
// confirmation since acquisition may have raced another owner. A conflict
// goes to the sender only.
func (e *Engine) HandleFieldLock(ctx context.Context, c *Conn, ev events.FieldLock) error {
	if e.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Engine.HandleFieldLock",
			trace.WithAttributes(
				attribute.String("formloom.form_id", ev.FormID),
				attribute.String("formloom.field", ev.FieldName)))
		defer span.End()
	}
	if c.formID == "" || c.formID != ev.FormID {
		return e.sendError(ctx, c, msgInvalidFormAccess)
	}

	fm := e.formLock(ev.FormID)
	fm.Lock()
	res := e.locks.Acquire(ev.FormID, ev.FieldName, ev.UserID)
	if !res.Granted {
		fm.Unlock()
		metrics.LockConflictCounter.Inc()
		conflict, err := events.Wrap(events.TypeFieldLocked, events.FieldLocked{
			FieldName: ev.FieldName,
			LockedBy:  res.Owner,
		})
		if err != nil {
			return err
		}
		return e.bcast.SendTo(ctx, c.id, conflict)
	}
	granted, err := events.Wrap(events.TypeFieldLocked, events.FieldLocked{
		FieldName: ev.FieldName,
		LockedBy:  ev.UserID,
		Username:  c.username,
	})
	if err != nil {
		fm.Unlock()
		return err
	}
	_ = e.bcast.BroadcastToForm(ctx, ev.FormID, granted, "")
	fm.Unlock()

	metrics.LockCounter.Inc()
	metrics.HeldLockGauge.Set(float64(e.locks.Count()))
	return nil
}

// HandleFieldUnlock releases the field if the sender owns it. The unlock is
// broadcast only when a release actually happened; stale unlocks are
// silently ignored.
func (e *Engine) HandleFieldUnlock(ctx context.Context, c *Conn, ev events.FieldUnlock) error {
	if e.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Engine.HandleFieldUnlock",
			trace.WithAttributes(
				attribute.String("formloom.form_id", ev.FormID),
				attribute.String("formloom.field", ev.FieldName)))
		defer span.End()
	}
	if c.formID == "" || c.formID != ev.FormID {
		return e.sendError(ctx, c, msgInvalidFormAccess)
	}

	fm := e.formLock(ev.FormID)
	fm.Lock()
	if e.locks.Release(ev.FormID, ev.FieldName, ev.UserID) == fieldlock.Released {
		unlocked, err := events.Wrap(events.TypeFieldUnlocked, events.FieldUnlocked{FieldName: ev.FieldName})
		if err != nil {
			fm.Unlock()
			return err
		}
		_ = e.bcast.BroadcastToForm(ctx, ev.FormID, unlocked, "")
	}
	fm.Unlock()

	metrics.HeldLockGauge.Set(float64(e.locks.Count()))
	return nil
}

// HandleDisconnect removes the connection from its form, releases every lock
// it owned and notifies the remaining participants. Cleanup never depends on
// being able to reach the departing connection.
func (e *Engine) HandleDisconnect(ctx context.Context, c *Conn) {
	if c.formID == "" {
		return
	}
	if e.traceEnabled {
		var span trace.Span
		ctx, span = tracer.Start(ctx, "Engine.HandleDisconnect",
			trace.WithAttributes(attribute.String("formloom.form_id", c.formID)))
		defer span.End()
	}

	fm := e.formLock(c.formID)
	fm.Lock()
	count := e.presence.Leave(c.formID, c.id)
	released := e.locks.ReleaseAllOwnedBy(c.formID, c.userID)
	for _, fieldName := range released {
		unlocked, err := events.Wrap(events.TypeFieldUnlocked, events.FieldUnlocked{FieldName: fieldName})
		if err == nil {
			_ = e.bcast.BroadcastToForm(ctx, c.formID, unlocked, c.id)
		}
	}
	left, err := events.Wrap(events.TypeUserLeft, events.UserLeft{
		UserID:      c.userID,
		Username:    c.username,
		ActiveUsers: count,
	})
	if err == nil {
		_ = e.bcast.BroadcastToForm(ctx, c.formID, left, c.id)
	}
	fm.Unlock()

	metrics.FormGauge.Set(float64(e.presence.Forms()))
	metrics.HeldLockGauge.Set(float64(e.locks.Count()))
}

// WriteResponse serializes a direct (non-websocket) response write through
// the same per-form mutex as event handling. Used by the REST glue.
func (e *Engine) WriteResponse(ctx context.Context, formID, fieldName string, value any) time.Time {
	fm := e.formLock(formID)
	fm.Lock()
	ts := e.responses.Write(formID, fieldName, value)
	fm.Unlock()
	return ts
}

// expireField is invoked by a lock expiry timer. It funnels through the
// per-form mutex and broadcasts only if the recheck confirms the timer's
// grant still holds the field.
func (e *Engine) expireField(formID, fieldName, ownerID string, gen uint64) {
	fm := e.formLock(formID)
	fm.Lock()
	if e.locks.Expire(formID, fieldName, ownerID, gen) {
		unlocked, err := events.Wrap(events.TypeFieldUnlocked, events.FieldUnlocked{FieldName: fieldName})
		if err == nil {
			_ = e.bcast.BroadcastToForm(context.Background(), formID, unlocked, "")
		}
		metrics.ExpireCounter.Inc()
		metrics.HeldLockGauge.Set(float64(e.locks.Count()))
	}
	fm.Unlock()
}

func (e *Engine) sendError(ctx context.Context, c *Conn, msg string) error {
	env, err := events.Wrap(events.TypeError, events.Error{Message: msg})
	if err != nil {
		return err
	}
	return e.bcast.SendTo(ctx, c.id, env)
}
