package notify

import "context"

// Adapter delivers notifications over one channel.
//
// Adapters are fail-open: a Notify error is logged by the manager and
// dropped, never surfaced to the workflow.
type Adapter interface {
	// Name identifies the adapter in logs and metrics.
	Name() string
	// Init prepares the adapter. An error removes it from the rotation.
	Init(ctx context.Context) error
	// Notify delivers one notification.
	Notify(ctx context.Context, n Notification) error
	// Close releases adapter resources.
	Close(ctx context.Context) error
}
