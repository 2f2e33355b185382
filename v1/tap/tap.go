package tap

import "context"

// Tap mirrors outbound collaboration events to external observers such as
// audit consumers or dashboards. Publication is fire-and-forget: the engine
// and hub never wait on a tap, and a failing tap never affects form state.
type Tap interface {
	// Publish forwards one encoded event for the given form.
	Publish(ctx context.Context, formID string, data []byte) error
}

// Watcher is implemented by taps that also support subscription.
type Watcher interface {
	// Watch subscribes to a form's event stream.
	Watch(ctx context.Context, formID string) (chan []byte, error)
	// Unwatch removes the channel from the form's watchers.
	Unwatch(ctx context.Context, formID string, ch chan []byte) error
}
