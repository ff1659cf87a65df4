package sessionsync

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ProfileProvisioner resolves an authenticated subject to its application
// profile, auto-creating one with inferred defaults when absent. The
// provider may redeliver equivalent notifications, so creation is
// de-duplicated per subject: concurrent resolutions share one in-flight
// lookup and at most one created row.
type ProfileProvisioner struct {
	directory      AccountDirectory
	provider       IdentityProvider
	group          singleflight.Group
	bootstrapAdmin string
	defaultRole    ProfileRole
	logger         Logger
	activitySink   ActivitySink
}

// ProvisionerOption customizes provisioner construction.
type ProvisionerOption func(*ProfileProvisioner)

// WithBootstrapAdmin designates the one email whose auto-provisioned
// profile gets the administrator role. This is bootstrap convenience,
// not an access-control mechanism: leave empty to require out-of-band
// administrator seeding.
func WithBootstrapAdmin(email string) ProvisionerOption {
	return func(p *ProfileProvisioner) {
		p.bootstrapAdmin = strings.TrimSpace(email)
	}
}

// WithDefaultRole overrides the role assigned when the identity carries
// no usable role hint.
func WithDefaultRole(role ProfileRole) ProvisionerOption {
	return func(p *ProfileProvisioner) {
		if role.IsValid() {
			p.defaultRole = role
		}
	}
}

// WithProvisionerLogger overrides the logger.
func WithProvisionerLogger(l Logger) ProvisionerOption {
	return func(p *ProfileProvisioner) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithProvisionerActivitySink sets the sink receiving provisioning events.
func WithProvisionerActivitySink(sink ActivitySink) ProvisionerOption {
	return func(p *ProfileProvisioner) {
		p.activitySink = normalizeActivitySink(sink)
	}
}

// NewProfileProvisioner wires the provisioner against the profile store
// and the identity provider. The provider is needed for the forced
// sign-out that accompanies every inactive-account rejection.
func NewProfileProvisioner(directory AccountDirectory, provider IdentityProvider, opts ...ProvisionerOption) *ProfileProvisioner {
	p := &ProfileProvisioner{
		directory:    directory,
		provider:     provider,
		defaultRole:  DefaultRole,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// Resolve returns the profile for the session's subject, creating it if
// missing. Fails with ErrAccountInactive for deactivated profiles (after
// forcing a provider sign-out) or ErrProvisioningFailed when the
// directory cannot produce a row.
func (p *ProfileProvisioner) Resolve(ctx context.Context, session *Session) (*Profile, error) {
	if session == nil || session.Subject == "" {
		return nil, wrapWithSource(ErrInvalidSubject, nil, map[string]any{
			"reason": "session carries no subject",
		})
	}

	v, err, _ := p.group.Do(session.Subject, func() (any, error) {
		return p.resolve(ctx, session)
	})
	if err != nil {
		return nil, err
	}

	return v.(*Profile), nil
}

func (p *ProfileProvisioner) resolve(ctx context.Context, session *Session) (*Profile, error) {
	profile, err := p.directory.GetProfile(ctx, session.Subject)
	if err != nil && !IsProfileNotFound(err) {
		return nil, wrapWithSource(ErrProvisioningFailed, err, map[string]any{
			"subject": session.Subject,
			"stage":   "fetch",
		})
	}

	if profile != nil {
		return p.ensureActive(ctx, profile)
	}

	p.logger.Info("profile not found, auto-provisioning", "subject", session.Subject, "email", session.Email)

	return p.createFromSession(ctx, session)
}

func (p *ProfileProvisioner) ensureActive(ctx context.Context, profile *Profile) (*Profile, error) {
	if profile.Active {
		return profile, nil
	}

	// Never leave a deactivated account's session alive.
	p.forceSignOut(ctx, profile.ID.String())

	p.record(ctx, ActivityEvent{
		EventType: ActivityEventProfileInactive,
		Subject:   profile.ID.String(),
		Metadata:  map[string]any{"email": profile.Email},
	})

	return nil, wrapWithSource(ErrAccountInactive, nil, map[string]any{
		"subject": profile.ID.String(),
	})
}

func (p *ProfileProvisioner) createFromSession(ctx context.Context, session *Session) (*Profile, error) {
	id, err := uuid.Parse(session.Subject)
	if err != nil {
		return nil, wrapWithSource(ErrInvalidSubject, err, map[string]any{
			"subject": session.Subject,
		})
	}

	seed := session.SeedFromMetadata()

	name := seed.Name
	if name == "" {
		name = LocalPart(session.Email)
	}

	role := seed.Role
	if !role.IsValid() {
		role = p.defaultRole
		if p.bootstrapAdmin != "" && strings.EqualFold(session.Email, p.bootstrapAdmin) {
			role = RoleAdministrator
		}
	}

	created, err := p.directory.CreateProfile(ctx, &Profile{
		ID:     id,
		Email:  session.Email,
		Name:   name,
		Role:   role,
		Phone:  NormalizePhone(seed.Phone),
		Active: true,
	})
	if err != nil {
		// A concurrent writer in another process may have won the race;
		// the duplicate row is the resolution we wanted.
		if existing, ferr := p.directory.GetProfile(ctx, session.Subject); ferr == nil && existing != nil {
			return p.ensureActive(ctx, existing)
		}

		return nil, wrapWithSource(ErrProvisioningFailed, err, map[string]any{
			"subject": session.Subject,
			"stage":   "create",
		})
	}

	p.record(ctx, ActivityEvent{
		EventType: ActivityEventProfileProvisioned,
		Subject:   session.Subject,
		Metadata: map[string]any{
			"email": session.Email,
			"role":  string(role),
		},
	})

	return created, nil
}

func (p *ProfileProvisioner) forceSignOut(ctx context.Context, subject string) {
	if p.provider == nil {
		return
	}
	if err := p.provider.SignOut(ctx); err != nil {
		p.logger.Warn("forced sign-out failed", "subject", subject, "error", err)
	}
}

func (p *ProfileProvisioner) record(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := normalizeActivitySink(p.activitySink).Record(ctx, event); err != nil {
		p.logger.Warn("activity sink record error: %v", err)
	}
}
