package sessionsync_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-errors"
	sessionsync "github.com/goliatone/go-session-sync"
	"github.com/goliatone/go-session-sync/providertest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newControllerFixture(t *testing.T, opts ...providertest.Option) (*sessionsync.SessionController, *providertest.Provider, *memoryDirectory, *captureSink) {
	t.Helper()

	provider := providertest.New(opts...)
	directory := newMemoryDirectory()
	sink := &captureSink{}

	controller := sessionsync.NewSessionController(provider, directory,
		sessionsync.WithControllerActivitySink(sink),
	)

	require.NoError(t, controller.Start(context.Background()))
	t.Cleanup(controller.Close)

	return controller, provider, directory, sink
}

func TestControllerStartWithoutSession(t *testing.T) {
	controller, _, _, _ := newControllerFixture(t)

	assert.False(t, controller.State().IsAuthenticated())
	assert.Nil(t, controller.CurrentUser())
	assert.False(t, controller.State().Loading())
}

func TestControllerStartRestoresPersistedSession(t *testing.T) {
	provider := providertest.New()
	directory := newMemoryDirectory()

	id := uuid.New()
	expires := time.Now().Add(time.Hour)
	provider.SetSession(&sessionsync.Session{
		Subject:     id.String(),
		Email:       "restored@example.com",
		AccessToken: "persisted",
		ExpiresAt:   &expires,
	})
	directory.Put(&sessionsync.Profile{
		ID:     id,
		Email:  "restored@example.com",
		Name:   "Restored",
		Role:   sessionsync.RoleSalesAgent,
		Active: true,
	})

	controller := sessionsync.NewSessionController(provider, directory)
	require.NoError(t, controller.Start(context.Background()))
	defer controller.Close()

	require.True(t, controller.State().IsAuthenticated())
	assert.Equal(t, id.String(), controller.CurrentUser().ID)
	assert.False(t, controller.State().Loading())
}

func TestControllerSignInResolvesAndProvisions(t *testing.T) {
	controller, provider, directory, sink := newControllerFixture(t)

	provider.SeedAccount("agent@example.com", "hunter22", map[string]any{
		"name": "Field Agent",
		"role": "sales-agent",
	})

	require.NoError(t, controller.SignIn(context.Background(), "agent@example.com", "hunter22"))

	// The provider's notification is dispatched synchronously, so the
	// session is resolved by the time SignIn returns.
	require.True(t, controller.State().IsAuthenticated())
	user := controller.CurrentUser()
	require.NotNil(t, user)
	assert.Equal(t, "Field Agent", user.Name)
	assert.Equal(t, sessionsync.RoleSalesAgent, user.Role)
	assert.False(t, controller.State().Loading())
	assert.Equal(t, 1, directory.CreateCalls())
	assert.True(t, sink.Has(sessionsync.ActivityEventProfileProvisioned))
	assert.True(t, sink.Has(sessionsync.ActivityEventSessionResolved))
}

func TestControllerSignInInvalidCredentials(t *testing.T) {
	controller, provider, _, sink := newControllerFixture(t)

	provider.SeedAccount("agent@example.com", "hunter22", nil)

	err := controller.SignIn(context.Background(), "agent@example.com", "wrong")
	require.Error(t, err)
	assert.True(t, sessionsync.HasTextCode(err, sessionsync.TextCodeInvalidCredentials))
	assert.False(t, controller.State().IsAuthenticated())
	assert.False(t, controller.State().Loading(), "failed sign-in must not leave loading set")
	assert.True(t, sink.Has(sessionsync.ActivityEventSignInFailure))
}

func TestControllerSignInInactiveAccount(t *testing.T) {
	controller, provider, directory, _ := newControllerFixture(t)

	subject := provider.SeedAccount("former@example.com", "hunter22", nil)
	id := uuid.MustParse(subject)
	directory.Put(&sessionsync.Profile{
		ID:     id,
		Email:  "former@example.com",
		Role:   sessionsync.RoleSalesAgent,
		Active: false,
	})

	require.NoError(t, controller.SignIn(context.Background(), "former@example.com", "hunter22"))

	// The provider accepted the credentials, but reconciliation rejected
	// the deactivated profile and forced a sign-out.
	assert.False(t, controller.State().IsAuthenticated())
	require.Error(t, controller.State().LastError())
	assert.True(t, sessionsync.IsAccountInactive(controller.State().LastError()))

	session, err := provider.CurrentSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, session, "provider session must be terminated")
}

func TestControllerDuplicateStartNotifications(t *testing.T) {
	controller, provider, directory, _ := newControllerFixture(t)

	provider.SeedAccount("dup@example.com", "hunter22", nil)
	require.NoError(t, controller.SignIn(context.Background(), "dup@example.com", "hunter22"))

	provider.EmitDuplicateStart()
	provider.EmitDuplicateStart()

	assert.True(t, controller.State().IsAuthenticated())
	assert.Equal(t, 1, directory.CreateCalls(), "redelivered notifications must not duplicate the profile")
}

func TestControllerSignOutClearsStateImmediately(t *testing.T) {
	controller, provider, _, sink := newControllerFixture(t)

	provider.SeedAccount("agent@example.com", "hunter22", nil)
	require.NoError(t, controller.SignIn(context.Background(), "agent@example.com", "hunter22"))
	require.True(t, controller.State().IsAuthenticated())

	require.NoError(t, controller.SignOut(context.Background()))

	assert.False(t, controller.State().IsAuthenticated())
	assert.Nil(t, controller.CurrentUser())
	assert.NoError(t, controller.State().LastError())
	assert.True(t, sink.Has(sessionsync.ActivityEventSignOut))
}

func TestControllerSignOutProviderFailureStillClears(t *testing.T) {
	provider := &MockIdentityProvider{}
	directory := newMemoryDirectory()

	provider.On("CurrentSession", mock.Anything).Return(nil, nil)
	provider.On("SignOut", mock.Anything).Return(errors.New("network down", errors.CategoryOperation))

	controller := sessionsync.NewSessionController(provider, directory)
	require.NoError(t, controller.Start(context.Background()))
	defer controller.Close()

	id := uuid.New()
	controller.State().Replace(
		&sessionsync.Session{Subject: id.String()},
		&sessionsync.ApplicationUser{ID: id.String()},
	)

	err := controller.SignOut(context.Background())
	require.Error(t, err)
	assert.False(t, controller.State().IsAuthenticated(), "local sign-out is unconditional")
}

func TestControllerSignUpCreatesIdentityAndProfile(t *testing.T) {
	controller, _, directory, sink := newControllerFixture(t, providertest.WithSignUpSessionSwitch(false))

	user, err := controller.SignUp(context.Background(), "new@example.com", "hunter22", sessionsync.ProfileSeed{
		Name:  "New Person",
		Role:  sessionsync.RoleLeadCaptor,
		Phone: "+14155552671",
	})
	require.NoError(t, err)
	require.NotNil(t, user)

	assert.Equal(t, "New Person", user.Name)
	assert.Equal(t, sessionsync.RoleLeadCaptor, user.Role)
	assert.Equal(t, "+14155552671", user.Phone)
	assert.Equal(t, 1, directory.CreateCalls())

	assert.False(t, controller.State().IsAuthenticated(), "sign-up does not imply sign-in")
	assert.True(t, sink.Has(sessionsync.ActivityEventSignUp))
}

func TestControllerUpdateProfileRequiresUser(t *testing.T) {
	controller, _, _, _ := newControllerFixture(t)

	name := "Renamed"
	_, err := controller.UpdateProfile(context.Background(), sessionsync.ProfileUpdate{Name: &name})
	require.Error(t, err)
	assert.True(t, sessionsync.HasTextCode(err, sessionsync.TextCodeNotAuthenticated))
}

func TestControllerUpdateProfileRefreshesState(t *testing.T) {
	controller, provider, _, _ := newControllerFixture(t)

	provider.SeedAccount("agent@example.com", "hunter22", map[string]any{"name": "Before"})
	require.NoError(t, controller.SignIn(context.Background(), "agent@example.com", "hunter22"))

	name := "After"
	user, err := controller.UpdateProfile(context.Background(), sessionsync.ProfileUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "After", user.Name)
	assert.Equal(t, "After", controller.CurrentUser().Name)
	assert.NotNil(t, controller.State().CurrentSession(), "session survives profile updates")
}

func TestControllerUpdateProfileEmptyUpdateIsNoop(t *testing.T) {
	controller, provider, directory, _ := newControllerFixture(t)

	provider.SeedAccount("agent@example.com", "hunter22", nil)
	require.NoError(t, controller.SignIn(context.Background(), "agent@example.com", "hunter22"))

	before := controller.CurrentUser()
	calls := directory.CreateCalls()

	user, err := controller.UpdateProfile(context.Background(), sessionsync.ProfileUpdate{})
	require.NoError(t, err)
	assert.Same(t, before, user)
	assert.Equal(t, calls, directory.CreateCalls())
}

func TestControllerAdminCreatePreservesCallerSession(t *testing.T) {
	controller, provider, directory, sink := newControllerFixture(t)

	provider.SeedAccount("admin@example.com", "hunter22", map[string]any{"role": "administrator"})
	require.NoError(t, controller.SignIn(context.Background(), "admin@example.com", "hunter22"))

	adminID := controller.CurrentUser().ID

	result, err := controller.CreateAccountAsAdmin(context.Background(), "hire@example.com", "welcome1", sessionsync.ProfileSeed{
		Name: "New Hire",
		Role: sessionsync.RoleLeadCaptor,
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	require.True(t, result.ProfileCreated)
	assert.Equal(t, "New Hire", result.User.Name)
	assert.Equal(t, sessionsync.RoleLeadCaptor, result.User.Role)

	// The caller remains signed in as themselves; the provider's session
	// switch during account creation never leaked into local state.
	require.True(t, controller.State().IsAuthenticated())
	assert.Equal(t, adminID, controller.CurrentUser().ID)

	assert.True(t, sink.Has(sessionsync.ActivityEventNotificationDropped), "the new account's started event is suppressed")
	assert.True(t, sink.Has(sessionsync.ActivityEventProvisioningDone))
	assert.Equal(t, 2, directory.CreateCalls())
}

func TestControllerAdminCreatePartialSuccess(t *testing.T) {
	controller, provider, directory, sink := newControllerFixture(t)

	provider.SeedAccount("admin@example.com", "hunter22", nil)
	require.NoError(t, controller.SignIn(context.Background(), "admin@example.com", "hunter22"))
	adminID := controller.CurrentUser().ID

	directory.FailCreate(errors.New("directory down", errors.CategoryOperation))

	result, err := controller.CreateAccountAsAdmin(context.Background(), "hire@example.com", "welcome1", sessionsync.ProfileSeed{
		Name: "Partial Hire",
		Role: sessionsync.RoleSalesAgent,
	})
	require.NoError(t, err, "an orphaned identity is reported as degraded success")
	require.NotNil(t, result)
	assert.False(t, result.ProfileCreated)
	assert.Equal(t, "Partial Hire", result.User.Name)
	assert.Equal(t, "hire@example.com", result.User.Email)

	assert.Equal(t, adminID, controller.CurrentUser().ID)
	assert.True(t, sink.Has(sessionsync.ActivityEventProvisioningPartial))

	// The identity is usable: once the directory recovers, the next
	// sign-in auto-provisions the missing profile from its metadata.
	directory.FailCreate(nil)
	require.NoError(t, controller.SignOut(context.Background()))
	require.NoError(t, controller.SignIn(context.Background(), "hire@example.com", "welcome1"))
	require.True(t, controller.State().IsAuthenticated())
	assert.Equal(t, "Partial Hire", controller.CurrentUser().Name)
}

func TestControllerAdminCreateIdentityFailure(t *testing.T) {
	controller, provider, _, sink := newControllerFixture(t)

	provider.SeedAccount("admin@example.com", "hunter22", nil)
	require.NoError(t, controller.SignIn(context.Background(), "admin@example.com", "hunter22"))
	adminID := controller.CurrentUser().ID

	provider.FailNextSignUp(errors.New("weak password", errors.CategoryBadInput))

	result, err := controller.CreateAccountAsAdmin(context.Background(), "hire@example.com", "x", sessionsync.ProfileSeed{})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, sessionsync.HasTextCode(err, sessionsync.TextCodeIdentityCreationFail))
	assert.True(t, sink.Has(sessionsync.ActivityEventProvisioningFailed))

	assert.Equal(t, adminID, controller.CurrentUser().ID, "caller session is untouched on failure")
}

func TestControllerAdminCreateRejectsConcurrent(t *testing.T) {
	provider := &MockIdentityProvider{}
	directory := newMemoryDirectory()

	provider.On("CurrentSession", mock.Anything).Return(nil, nil)
	provider.On("SignOut", mock.Anything).Return(nil)

	entered := make(chan struct{})
	release := make(chan struct{})

	newID := uuid.New()
	provider.On("SignUp", mock.Anything, "slow@example.com", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(entered)
			<-release
		}).
		Return(&sessionsync.Identity{ID: newID.String(), Email: "slow@example.com"}, nil)

	controller := sessionsync.NewSessionController(provider, directory)
	require.NoError(t, controller.Start(context.Background()))
	defer controller.Close()

	done := make(chan error, 1)
	go func() {
		_, err := controller.CreateAccountAsAdmin(context.Background(), "slow@example.com", "welcome1", sessionsync.ProfileSeed{})
		done <- err
	}()

	<-entered

	_, err := controller.CreateAccountAsAdmin(context.Background(), "second@example.com", "welcome1", sessionsync.ProfileSeed{})
	require.Error(t, err)
	assert.True(t, sessionsync.IsProvisioningBusy(err))

	close(release)
	require.NoError(t, <-done)
}
