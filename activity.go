package sessionsync

import (
	"context"
	"time"
)

// ActivityEventType enumerates the decision points this package reports.
type ActivityEventType string

const (
	ActivityEventSessionResolved     ActivityEventType = "session.resolved"
	ActivityEventSessionCleared      ActivityEventType = "session.cleared"
	ActivityEventSessionRefreshed    ActivityEventType = "session.refreshed"
	ActivityEventNotificationDropped ActivityEventType = "session.notification.dropped"
	ActivityEventProfileProvisioned  ActivityEventType = "profile.provisioned"
	ActivityEventProfileInactive     ActivityEventType = "profile.inactive"
	ActivityEventProvisioningStarted ActivityEventType = "admin.provisioning.started"
	ActivityEventProvisioningPartial ActivityEventType = "admin.provisioning.partial"
	ActivityEventProvisioningDone    ActivityEventType = "admin.provisioning.completed"
	ActivityEventProvisioningFailed  ActivityEventType = "admin.provisioning.failed"
	ActivityEventSignInSuccess       ActivityEventType = "auth.signin.success"
	ActivityEventSignInFailure       ActivityEventType = "auth.signin.failure"
	ActivityEventSignUp              ActivityEventType = "auth.signup"
	ActivityEventSignOut             ActivityEventType = "auth.signout"
	ActivityEventProfileUpdated      ActivityEventType = "profile.updated"
)

// ActivityEvent captures audit-friendly information about a sync action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Subject    string
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
