package sessionsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EventReconciler consumes the provider's notification stream and
// decides, per event, whether and how to mutate SessionState. Events are
// processed strictly in arrival order through a drain loop: a handler
// that triggers further notifications mid-flight (the forced sign-out on
// an inactive account does) enqueues them instead of recursing, so
// ordering holds and re-entrant delivery cannot deadlock.
type EventReconciler struct {
	mu           sync.Mutex
	queue        []queuedEvent
	draining     bool
	state        *SessionState
	provisioner  *ProfileProvisioner
	initializing atomic.Bool
	provisioning atomic.Bool
	logger       Logger
	activitySink ActivitySink
}

type queuedEvent struct {
	event   SessionEvent
	session *Session
}

// ReconcilerOption customizes reconciler construction.
type ReconcilerOption func(*EventReconciler)

// WithReconcilerLogger overrides the logger.
func WithReconcilerLogger(l Logger) ReconcilerOption {
	return func(r *EventReconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithReconcilerActivitySink sets the sink receiving reconciliation events.
func WithReconcilerActivitySink(sink ActivitySink) ReconcilerOption {
	return func(r *EventReconciler) {
		r.activitySink = normalizeActivitySink(sink)
	}
}

func NewEventReconciler(state *SessionState, provisioner *ProfileProvisioner, opts ...ReconcilerOption) *EventReconciler {
	r := &EventReconciler{
		state:        state,
		provisioner:  provisioner,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Handle processes one provider notification.
//
// Rules, in order: suppressed events are dropped without touching state;
// a nil session clears state (the sign-out terminal transition); a
// started event resolves the profile and replaces the full pair; any
// other session-carrying event swaps only the stored session, keeping
// the previously resolved user.
func (r *EventReconciler) Handle(ctx context.Context, event SessionEvent, session *Session) {
	r.mu.Lock()
	r.queue = append(r.queue, queuedEvent{event: event, session: session})
	if r.draining {
		// A handler further up this goroutine's stack owns the drain
		// loop and will process this event next, in order.
		r.mu.Unlock()
		return
	}
	r.draining = true

	for len(r.queue) > 0 {
		next := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		r.apply(ctx, next.event, next.session)

		r.mu.Lock()
	}

	r.draining = false
	r.mu.Unlock()
}

func (r *EventReconciler) apply(ctx context.Context, event SessionEvent, session *Session) {
	if r.Suppressed() {
		if r.initializing.Load() && r.provisioning.Load() {
			// The two suppression windows are never supposed to overlap.
			r.logger.Warn("initialization and provisioning suppression overlap", "event", event)
		}

		r.record(ctx, ActivityEvent{
			EventType: ActivityEventNotificationDropped,
			Subject:   subjectOf(session),
			Metadata:  map[string]any{"event": string(event)},
		})
		return
	}

	if session == nil {
		// lastErr is left alone: when this clear is the tail of a failed
		// resolution (forced sign-out), the failure must stay observable.
		r.state.Clear()
		r.state.setLoading(false)
		r.record(ctx, ActivityEvent{EventType: ActivityEventSessionCleared})
		return
	}

	if event == SessionStarted {
		r.resolveAndReplace(ctx, session)
		return
	}

	r.state.ReplaceSession(session)
	r.record(ctx, ActivityEvent{
		EventType: ActivityEventSessionRefreshed,
		Subject:   session.Subject,
		Metadata:  map[string]any{"event": string(event)},
	})
}

func (r *EventReconciler) resolveAndReplace(ctx context.Context, session *Session) {
	defer r.state.setLoading(false)

	profile, err := r.provisioner.Resolve(ctx, session)
	if err != nil {
		// There is no caller to return to; clear state and keep the
		// failure observable through the side channel.
		r.state.Clear()
		r.state.setLastError(err)
		r.logger.Error("profile resolution failed", "subject", session.Subject, "error", err)
		r.record(ctx, ActivityEvent{
			EventType: ActivityEventSessionCleared,
			Subject:   session.Subject,
			Metadata:  map[string]any{"error": err.Error()},
		})
		return
	}

	r.state.Replace(session, NewApplicationUser(profile))
	r.state.setLastError(nil)
	r.record(ctx, ActivityEvent{
		EventType: ActivityEventSessionResolved,
		Subject:   session.Subject,
	})
}

// Suppressed reports whether notifications are currently ignored.
func (r *EventReconciler) Suppressed() bool {
	return r.initializing.Load() || r.provisioning.Load()
}

// beginInitialization opens the one-time startup suppression window.
// The returned func closes it and must run on every exit path.
func (r *EventReconciler) beginInitialization() func() {
	r.initializing.Store(true)
	return func() { r.initializing.Store(false) }
}

// beginProvisioning opens the admin-provisioning suppression window.
// Only one window may be open at a time; ok is false when an operation
// is already in flight.
func (r *EventReconciler) beginProvisioning() (end func(), ok bool) {
	if !r.provisioning.CompareAndSwap(false, true) {
		return nil, false
	}
	return func() { r.provisioning.Store(false) }, true
}

func (r *EventReconciler) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := normalizeActivitySink(r.activitySink).Record(ctx, event); err != nil {
		r.logger.Warn("activity sink record error: %v", err)
	}
}

func subjectOf(session *Session) string {
	if session == nil {
		return ""
	}
	return session.Subject
}
