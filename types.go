package sessionsync

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// SessionEvent identifies the kind of notification pushed by the
// identity provider.
type SessionEvent string

const (
	// SessionStarted is emitted after credentials are accepted.
	SessionStarted SessionEvent = "session.started"
	// SessionRefreshed is emitted when the provider rotates tokens.
	SessionRefreshed SessionEvent = "session.refreshed"
	// SessionEnded is emitted when the provider terminates the session.
	SessionEnded SessionEvent = "session.ended"
	// SessionChanged is the catch-all for events that carry a session
	// but are neither a sign-in nor a sign-out.
	SessionChanged SessionEvent = "session.changed"
)

// NotificationFunc receives provider notifications. A nil session means
// the provider no longer holds an authenticated principal.
type NotificationFunc func(event SessionEvent, session *Session)

// Unsubscribe detaches a previously registered NotificationFunc.
type Unsubscribe func()

// Identity is the provider-side record returned from credential creation.
type Identity struct {
	ID       string
	Email    string
	Metadata map[string]any
}

// IdentityProvider is the contract this package requires from the
// external identity service. Implementations own credential storage and
// token issuance; this package only consumes sessions and notifications.
type IdentityProvider interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Identity, error)
	SignOut(ctx context.Context) error
	CurrentSession(ctx context.Context) (*Session, error)
	Subscribe(fn NotificationFunc) Unsubscribe
}

// SessionRestorer is an optional provider capability: reinstating a
// previously captured session without a fresh credential exchange. Used
// to hand the caller's session back after an administrative
// account-creation flow displaced it.
type SessionRestorer interface {
	RestoreSession(ctx context.Context, session *Session) error
}

// AccountDirectory is the remote store holding durable application
// profiles keyed by the provider's subject identifier.
type AccountDirectory interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
	CreateProfile(ctx context.Context, profile *Profile) (*Profile, error)
	UpdateProfile(ctx context.Context, id string, update ProfileUpdate) (*Profile, error)
}

// DefaultLogger returns the built-in stdout logger. Provider packages
// use it when no logger is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SYNC "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SYNC "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SYNC "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SYNC "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
