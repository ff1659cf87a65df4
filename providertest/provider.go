// Package providertest offers an in-memory IdentityProvider for tests
// and local development. It mimics the remote service closely enough to
// exercise the sync flows: bcrypt-checked credentials, signed access
// tokens, ordered synchronous notifications, and hooks to inject the
// failure and duplicate-delivery cases a real provider produces.
package providertest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	sessionsync "github.com/goliatone/go-session-sync"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const defaultTokenTTL = time.Hour

// Provider is the in-memory IdentityProvider.
type Provider struct {
	mu          sync.Mutex
	secret      []byte
	tokenTTL    time.Duration
	bcryptCost  int
	autoSession bool

	accounts map[string]*account
	session  *sessionsync.Session

	nextID   int
	handlers map[int]sessionsync.NotificationFunc

	nextSignInErr error
	nextSignUpErr error
}

type account struct {
	id           uuid.UUID
	email        string
	passwordHash []byte
	metadata     map[string]any
}

var _ sessionsync.IdentityProvider = (*Provider)(nil)

// Option customizes the test provider.
type Option func(*Provider)

// WithSigningSecret sets the HS256 secret used for issued tokens.
func WithSigningSecret(secret []byte) Option {
	return func(p *Provider) {
		if len(secret) > 0 {
			p.secret = secret
		}
	}
}

// WithTokenTTL sets issued token lifetime.
func WithTokenTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.tokenTTL = ttl
		}
	}
}

// WithSignUpSessionSwitch controls whether SignUp switches the active
// session to the newly created account, the way autoconfirm deployments
// behave. On by default.
func WithSignUpSessionSwitch(enabled bool) Option {
	return func(p *Provider) {
		p.autoSession = enabled
	}
}

// New builds the provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		secret:      []byte("providertest-signing-secret"),
		tokenTTL:    defaultTokenTTL,
		bcryptCost:  bcrypt.MinCost,
		autoSession: true,
		accounts:    map[string]*account{},
		handlers:    map[int]sessionsync.NotificationFunc{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// SignIn implements sessionsync.IdentityProvider.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*sessionsync.Session, error) {
	p.mu.Lock()

	if err := p.nextSignInErr; err != nil {
		p.nextSignInErr = nil
		p.mu.Unlock()
		return nil, err
	}

	acct, ok := p.accounts[normalizeEmail(email)]
	if !ok {
		p.mu.Unlock()
		return nil, sessionsync.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(acct.passwordHash, []byte(password)); err != nil {
		p.mu.Unlock()
		return nil, sessionsync.ErrInvalidCredentials
	}

	session := p.issueSession(acct)
	p.session = session
	handlers := p.snapshotHandlers()
	p.mu.Unlock()

	dispatch(handlers, sessionsync.SessionStarted, session)

	return session.Clone(), nil
}

// SignUp implements sessionsync.IdentityProvider.
func (p *Provider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*sessionsync.Identity, error) {
	p.mu.Lock()

	if err := p.nextSignUpErr; err != nil {
		p.nextSignUpErr = nil
		p.mu.Unlock()
		return nil, err
	}

	key := normalizeEmail(email)
	if _, exists := p.accounts[key]; exists {
		p.mu.Unlock()
		clone := sessionsync.ErrIdentityCreationFailed.Clone()
		return nil, clone.WithMetadata(map[string]any{
			"email":  email,
			"reason": "email already registered",
		})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}

	acct := &account{
		id:           uuid.New(),
		email:        key,
		passwordHash: hash,
		metadata:     cloneMetadata(metadata),
	}
	p.accounts[key] = acct

	var session *sessionsync.Session
	var handlers []sessionsync.NotificationFunc
	if p.autoSession {
		session = p.issueSession(acct)
		p.session = session
		handlers = p.snapshotHandlers()
	}
	p.mu.Unlock()

	if session != nil {
		dispatch(handlers, sessionsync.SessionStarted, session)
	}

	return &sessionsync.Identity{
		ID:       acct.id.String(),
		Email:    acct.email,
		Metadata: cloneMetadata(acct.metadata),
	}, nil
}

// SignOut implements sessionsync.IdentityProvider.
func (p *Provider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.session = nil
	handlers := p.snapshotHandlers()
	p.mu.Unlock()

	dispatch(handlers, sessionsync.SessionEnded, nil)

	return nil
}

// CurrentSession implements sessionsync.IdentityProvider.
func (p *Provider) CurrentSession(ctx context.Context) (*sessionsync.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session.Clone(), nil
}

// Subscribe implements sessionsync.IdentityProvider. Handlers run
// synchronously in registration order.
func (p *Provider) Subscribe(fn sessionsync.NotificationFunc) sessionsync.Unsubscribe {
	if fn == nil {
		return func() {}
	}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.handlers[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.handlers, id)
		p.mu.Unlock()
	}
}

// SeedAccount registers an account with a fixed identifier, bypassing
// SignUp. Returns the subject identifier.
func (p *Provider) SeedAccount(email, password string, metadata map[string]any) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.bcryptCost)
	if err != nil {
		panic(err)
	}

	acct := &account{
		id:           uuid.New(),
		email:        normalizeEmail(email),
		passwordHash: hash,
		metadata:     cloneMetadata(metadata),
	}

	p.mu.Lock()
	p.accounts[acct.email] = acct
	p.mu.Unlock()

	return acct.id.String()
}

// SetSession installs a session without notifying, simulating a token
// persisted from a prior run.
func (p *Provider) SetSession(session *sessionsync.Session) {
	p.mu.Lock()
	p.session = session.Clone()
	p.mu.Unlock()
}

// RestoreSession implements sessionsync.SessionRestorer.
func (p *Provider) RestoreSession(_ context.Context, session *sessionsync.Session) error {
	p.SetSession(session)
	return nil
}

// FailNextSignIn makes the next SignIn call fail with err.
func (p *Provider) FailNextSignIn(err error) {
	p.mu.Lock()
	p.nextSignInErr = err
	p.mu.Unlock()
}

// FailNextSignUp makes the next SignUp call fail with err.
func (p *Provider) FailNextSignUp(err error) {
	p.mu.Lock()
	p.nextSignUpErr = err
	p.mu.Unlock()
}

// Emit pushes an arbitrary notification to subscribers, covering the
// duplicate and out-of-order deliveries real transports produce.
func (p *Provider) Emit(event sessionsync.SessionEvent, session *sessionsync.Session) {
	p.mu.Lock()
	handlers := p.snapshotHandlers()
	p.mu.Unlock()

	dispatch(handlers, event, session)
}

// EmitDuplicateStart redelivers a started notification for the current
// session.
func (p *Provider) EmitDuplicateStart() {
	p.mu.Lock()
	session := p.session
	handlers := p.snapshotHandlers()
	p.mu.Unlock()

	dispatch(handlers, sessionsync.SessionStarted, session)
}

func (p *Provider) issueSession(acct *account) *sessionsync.Session {
	now := time.Now()
	expires := now.Add(p.tokenTTL)

	claims := &sessionsync.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.id.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Email:        acct.email,
		UserMetadata: cloneMetadata(acct.metadata),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		panic(err)
	}

	return &sessionsync.Session{
		Subject:      acct.id.String(),
		Email:        acct.email,
		AccessToken:  signed,
		RefreshToken: uuid.NewString(),
		TokenType:    "bearer",
		ExpiresAt:    &expires,
		Metadata:     cloneMetadata(acct.metadata),
	}
}

// snapshotHandlers must run under the mutex; dispatch must not.
func (p *Provider) snapshotHandlers() []sessionsync.NotificationFunc {
	handlers := make([]sessionsync.NotificationFunc, 0, len(p.handlers))
	for id := 0; id < p.nextID; id++ {
		if fn, ok := p.handlers[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	return handlers
}

func dispatch(handlers []sessionsync.NotificationFunc, event sessionsync.SessionEvent, session *sessionsync.Session) {
	for _, fn := range handlers {
		fn(event, session.Clone())
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	clone := make(map[string]any, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}
