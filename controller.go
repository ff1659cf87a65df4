package sessionsync

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionController is the operation surface the rest of the application
// calls. It orchestrates identity-provider and directory round trips and
// coordinates with the EventReconciler through suppression windows.
type SessionController struct {
	provider     IdentityProvider
	directory    AccountDirectory
	state        *SessionState
	provisioner  *ProfileProvisioner
	reconciler   *EventReconciler
	logger       Logger
	activitySink ActivitySink
	unsubscribe  Unsubscribe
}

// ControllerOption customizes controller construction.
type ControllerOption func(*SessionController)

// WithControllerLogger overrides the logger for the controller and the
// components it builds.
func WithControllerLogger(l Logger) ControllerOption {
	return func(c *SessionController) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithControllerActivitySink sets the sink receiving auth and
// provisioning activity.
func WithControllerActivitySink(sink ActivitySink) ControllerOption {
	return func(c *SessionController) {
		c.activitySink = normalizeActivitySink(sink)
	}
}

// WithControllerProvisioner injects a pre-built provisioner, useful when
// the application customizes bootstrap policy.
func WithControllerProvisioner(p *ProfileProvisioner) ControllerOption {
	return func(c *SessionController) {
		if p != nil {
			c.provisioner = p
		}
	}
}

// NewSessionController wires the controller, its state holder, profile
// provisioner, and event reconciler against the two external
// collaborators.
func NewSessionController(provider IdentityProvider, directory AccountDirectory, opts ...ControllerOption) *SessionController {
	c := &SessionController{
		provider:     provider,
		directory:    directory,
		state:        NewSessionState(),
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	if c.provisioner == nil {
		c.provisioner = NewProfileProvisioner(directory, provider,
			WithProvisionerLogger(c.logger),
			WithProvisionerActivitySink(c.activitySink),
		)
	}

	c.reconciler = NewEventReconciler(c.state, c.provisioner,
		WithReconcilerLogger(c.logger),
		WithReconcilerActivitySink(c.activitySink),
	)

	return c
}

// State exposes read access to the current session, user, loading flag,
// and last reconciliation error.
func (c *SessionController) State() *SessionState {
	return c.state
}

// CurrentUser returns the resolved application user, nil when signed out.
func (c *SessionController) CurrentUser() *ApplicationUser {
	return c.state.CurrentUser()
}

// Start performs the one-time bootstrap: it subscribes the reconciler to
// the provider's notification stream and, if the provider still holds a
// session from a prior run, resolves it into SessionState. Bootstrap
// performs its own session bookkeeping, so notifications are suppressed
// for the duration.
func (c *SessionController) Start(ctx context.Context) error {
	endInit := c.reconciler.beginInitialization()
	defer endInit()

	c.state.setLoading(true)
	defer c.state.setLoading(false)

	c.unsubscribe = c.provider.Subscribe(func(event SessionEvent, session *Session) {
		c.reconciler.Handle(context.Background(), event, session)
	})

	session, err := c.provider.CurrentSession(ctx)
	if err != nil {
		c.logger.Error("session restore failed", "error", err)
		c.state.setLastError(err)
		return err
	}

	if session == nil {
		return nil
	}

	profile, err := c.provisioner.Resolve(ctx, session)
	if err != nil {
		c.state.Clear()
		c.state.setLastError(err)
		return err
	}

	c.state.Replace(session, NewApplicationUser(profile))
	c.state.setLastError(nil)
	return nil
}

// Close detaches from the provider's notification stream.
func (c *SessionController) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// SignIn delegates to the identity provider. It does not resolve the
// profile itself: the provider's started notification drives the
// reconciler, which populates SessionState and clears the loading flag.
// Callers observing eventual consistency should watch State().Loading().
func (c *SessionController) SignIn(ctx context.Context, email, password string) error {
	c.state.setLoading(true)

	if _, err := c.provider.SignIn(ctx, email, password); err != nil {
		c.state.setLoading(false)
		c.logger.Error("sign in failed", "email", email, "error", err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventSignInFailure,
			Metadata:  map[string]any{"email": email, "error": err.Error()},
		})
		return asRichError(err, ErrInvalidCredentials)
	}

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventSignInSuccess,
		Metadata:  map[string]any{"email": email},
	})

	return nil
}

// SignUp creates provider credentials carrying the seed as identity
// metadata, then eagerly creates the profile row. It never mutates
// SessionState: sign-up does not imply sign-in.
func (c *SessionController) SignUp(ctx context.Context, email, password string, seed ProfileSeed) (*ApplicationUser, error) {
	c.state.setLoading(true)
	defer c.state.setLoading(false)

	identity, err := c.provider.SignUp(ctx, email, password, seed.Metadata())
	if err != nil {
		c.logger.Error("sign up failed", "email", email, "error", err)
		return nil, asRichError(err, ErrIdentityCreationFailed)
	}

	profile, err := c.createProfileFor(ctx, identity, email, seed)
	if err != nil {
		// The identity exists; the next sign-in auto-provisions the
		// missing profile from the metadata stored with it.
		return nil, wrapWithSource(ErrProvisioningFailed, err, map[string]any{
			"subject":          identity.ID,
			"identity_created": true,
		})
	}

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventSignUp,
		Subject:   identity.ID,
		Metadata:  map[string]any{"email": email, "role": string(profile.Role)},
	})

	return NewApplicationUser(profile), nil
}

// SignOut delegates to the provider and then unconditionally clears
// local state: the caller gets an immediate local effect even when the
// provider's ended notification is delayed or lost.
func (c *SessionController) SignOut(ctx context.Context) error {
	err := c.provider.SignOut(ctx)
	if err != nil {
		c.logger.Warn("provider sign-out failed", "error", err)
	}

	c.state.Clear()
	c.state.setLastError(nil)
	c.state.setLoading(false)

	c.record(ctx, ActivityEvent{EventType: ActivityEventSignOut})

	return err
}

// UpdateProfile applies the update's present fields through the
// directory and refreshes the in-memory projection. Authorization of who
// may change what is the directory's concern; this only requires an
// authenticated user.
func (c *SessionController) UpdateProfile(ctx context.Context, update ProfileUpdate) (*ApplicationUser, error) {
	current := c.state.CurrentUser()
	if current == nil {
		return nil, ErrNotAuthenticated
	}

	if update.IsEmpty() {
		return current, nil
	}

	updated, err := c.directory.UpdateProfile(ctx, current.ID, update)
	if err != nil {
		c.logger.Error("profile update failed", "subject", current.ID, "error", err)
		return nil, asRichError(err, nil)
	}

	user := NewApplicationUser(updated)
	c.state.ReplaceUser(user)

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		Subject:   current.ID,
	})

	return user, nil
}

// AdminCreateResult reports the outcome of CreateAccountAsAdmin.
// ProfileCreated is false on the partial-success path: the identity
// exists and is usable, and the profile will be auto-provisioned on the
// new account's first sign-in.
type AdminCreateResult struct {
	User           *ApplicationUser
	ProfileCreated bool
}

// CreateAccountAsAdmin provisions a second account without disturbing
// the caller's session. The provider's account-creation call may switch
// the active session to the new account, so the flow snapshots state up
// front, suppresses the reconciler, signs the new account out again, and
// restores the snapshot before returning. Only one invocation may be in
// flight; a concurrent attempt fails with ErrProvisioningBusy.
func (c *SessionController) CreateAccountAsAdmin(ctx context.Context, email, password string, seed ProfileSeed) (*AdminCreateResult, error) {
	snapshot := c.state.Snapshot()

	endProvisioning, ok := c.reconciler.beginProvisioning()
	if !ok {
		return nil, wrapWithSource(ErrProvisioningBusy, nil, map[string]any{"email": email})
	}
	defer endProvisioning()

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventProvisioningStarted,
		Metadata:  map[string]any{"email": email},
	})

	identity, err := c.provider.SignUp(ctx, email, password, seed.Metadata())
	if err != nil {
		c.logger.Error("admin account creation failed", "email", email, "error", err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventProvisioningFailed,
			Metadata:  map[string]any{"email": email, "error": err.Error()},
		})
		return nil, wrapWithSource(ErrIdentityCreationFailed, err, map[string]any{"email": email})
	}

	// The provider is now signed in as the new account; undo that and
	// put the caller's session back before anything else can observe it.
	if err := c.provider.SignOut(ctx); err != nil {
		c.logger.Warn("sign-out after admin creation failed", "error", err)
	}
	c.state.Restore(snapshot)

	if restorer, ok := c.provider.(SessionRestorer); ok && snapshot.Session != nil {
		if err := restorer.RestoreSession(ctx, snapshot.Session); err != nil {
			c.logger.Warn("provider session restore failed", "error", err)
		}
	}

	profile, err := c.createProfileFor(ctx, identity, email, seed)
	if err != nil {
		c.logger.Warn("profile creation failed after identity creation", "subject", identity.ID, "error", err)
		c.record(ctx, ActivityEvent{
			EventType: ActivityEventProvisioningPartial,
			Subject:   identity.ID,
			Metadata:  map[string]any{"email": email, "error": err.Error()},
		})

		// Degraded success: an orphaned-but-usable identity beats a
		// failed operation. The seed carries enough for a minimal user.
		return &AdminCreateResult{User: minimalUser(identity, email, seed)}, nil
	}

	c.record(ctx, ActivityEvent{
		EventType: ActivityEventProvisioningDone,
		Subject:   identity.ID,
		Metadata:  map[string]any{"email": email, "role": string(profile.Role)},
	})

	return &AdminCreateResult{
		User:           NewApplicationUser(profile),
		ProfileCreated: true,
	}, nil
}

func (c *SessionController) createProfileFor(ctx context.Context, identity *Identity, email string, seed ProfileSeed) (*Profile, error) {
	id, err := uuid.Parse(identity.ID)
	if err != nil {
		return nil, wrapWithSource(ErrInvalidSubject, err, map[string]any{"subject": identity.ID})
	}

	name := seed.Name
	if name == "" {
		name = LocalPart(email)
	}

	role := seed.Role
	if !role.IsValid() {
		role = DefaultRole
	}

	created, err := c.directory.CreateProfile(ctx, &Profile{
		ID:     id,
		Email:  firstNonEmpty(identity.Email, email),
		Name:   name,
		Role:   role,
		Phone:  NormalizePhone(seed.Phone),
		Active: true,
	})
	if err != nil {
		// The reconciler may have auto-provisioned the row off the
		// provider's own notification before we got here.
		if existing, ferr := c.directory.GetProfile(ctx, identity.ID); ferr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}

	return created, nil
}

func (c *SessionController) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := normalizeActivitySink(c.activitySink).Record(ctx, event); err != nil {
		c.logger.Warn("activity sink record error: %v", err)
	}
}

func minimalUser(identity *Identity, email string, seed ProfileSeed) *ApplicationUser {
	role := seed.Role
	if !role.IsValid() {
		role = DefaultRole
	}

	name := seed.Name
	if name == "" {
		name = LocalPart(email)
	}

	return &ApplicationUser{
		ID:     identity.ID,
		Email:  firstNonEmpty(identity.Email, email),
		Name:   name,
		Role:   role,
		Phone:  NormalizePhone(seed.Phone),
		Active: true,
	}
}

// asRichError passes structured errors through untouched and folds plain
// ones into the given sentinel, or a generic internal error when no
// sentinel applies.
func asRichError(err error, sentinel *errors.Error) error {
	if err == nil {
		return nil
	}

	var rich *errors.Error
	if errors.As(err, &rich) && rich != nil {
		return err
	}

	if sentinel != nil {
		return wrapWithSource(sentinel, err, nil)
	}

	return errors.Wrap(err, errors.CategoryInternal, "session operation failed")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
