package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	sessionsync "github.com/goliatone/go-session-sync"
	"golang.org/x/oauth2"
)

// Provider implements sessionsync.IdentityProvider against a GoTrue
// service. It holds the active session in memory and fans provider
// notifications out to subscribers synchronously, preserving order.
type Provider struct {
	config    Config
	client    *http.Client
	validator *TokenValidator
	logger    sessionsync.Logger

	mu       sync.RWMutex
	session  *sessionsync.Session
	nextID   int
	handlers map[int]sessionsync.NotificationFunc
}

var _ sessionsync.IdentityProvider = (*Provider)(nil)

// New builds the provider. When cfg.JWKSURL is set the signing keys are
// fetched eagerly so a bad endpoint fails at startup, not at first
// sign-in.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.baseURL() == "" {
		return nil, errors.New("gotrue: base URL is required", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	}

	p := &Provider{
		config:   cfg,
		client:   cfg.httpClient(),
		logger:   cfg.logger(),
		handlers: map[int]sessionsync.NotificationFunc{},
	}

	if cfg.JWKSURL != "" {
		validator, err := NewTokenValidator(ctx, cfg)
		if err != nil {
			return nil, err
		}
		p.validator = validator
	}

	return p, nil
}

// SignIn exchanges credentials through the password grant. On success
// the session becomes current and a started notification is pushed.
func (p *Provider) SignIn(ctx context.Context, email, password string) (*sessionsync.Session, error) {
	octx, cancel := context.WithTimeout(ctx, p.config.timeout())
	defer cancel()
	octx = context.WithValue(octx, oauth2.HTTPClient, p.client)

	token, err := p.config.passwordGrant().PasswordCredentialsToken(octx, email, password)
	if err != nil {
		return nil, p.mapTokenError(err)
	}

	session, err := p.sessionFromToken(token)
	if err != nil {
		return nil, err
	}

	p.setSession(session)
	p.notify(sessionsync.SessionStarted, session)

	return session.Clone(), nil
}

// SignUp registers credentials carrying the given metadata. GoTrue in
// autoconfirm mode returns tokens with the new identity, in which case
// the active session switches to the new account, exactly like the
// hosted dashboards do.
func (p *Provider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*sessionsync.Identity, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	var resp signupResponse
	if err := p.post(ctx, "/signup", body, "", &resp); err != nil {
		return nil, err
	}

	identity := resp.identity()
	if identity == nil {
		return nil, errors.New("gotrue: signup response carries no identity", errors.CategoryOperation).
			WithCode(errors.CodeInternal)
	}

	if resp.AccessToken != "" {
		session, err := p.decodeSession(resp.AccessToken, resp.RefreshToken)
		if err != nil {
			p.logger.Warn("gotrue: signup session decode failed: %v", err)
		} else {
			p.setSession(session)
			p.notify(sessionsync.SessionStarted, session)
		}
	}

	return identity, nil
}

// SignOut revokes the refresh token server side and always drops the
// local session, pushing an ended notification with a nil session.
func (p *Provider) SignOut(ctx context.Context) error {
	session := p.CurrentSessionLocal()

	var err error
	if session != nil && session.AccessToken != "" {
		err = p.post(ctx, "/logout", nil, session.AccessToken, nil)
		if err != nil {
			p.logger.Warn("gotrue: server-side sign-out failed: %v", err)
		}
	}

	p.setSession(nil)
	p.notify(sessionsync.SessionEnded, nil)

	return err
}

// CurrentSession returns the active session, transparently refreshing it
// when expired and a refresh token is available.
func (p *Provider) CurrentSession(ctx context.Context) (*sessionsync.Session, error) {
	session := p.CurrentSessionLocal()
	if session == nil {
		return nil, nil
	}

	if !session.Expired(timeNow()) {
		return session, nil
	}

	if session.RefreshToken == "" {
		p.setSession(nil)
		p.notify(sessionsync.SessionEnded, nil)
		return nil, nil
	}

	return p.Refresh(ctx)
}

// Refresh rotates the token pair through the refresh grant and pushes a
// refreshed notification.
func (p *Provider) Refresh(ctx context.Context) (*sessionsync.Session, error) {
	session := p.CurrentSessionLocal()
	if session == nil || session.RefreshToken == "" {
		return nil, sessionsync.ErrNotAuthenticated
	}

	octx, cancel := context.WithTimeout(ctx, p.config.timeout())
	defer cancel()
	octx = context.WithValue(octx, oauth2.HTTPClient, p.client)

	source := p.config.refreshGrant().TokenSource(octx, &oauth2.Token{
		RefreshToken: session.RefreshToken,
	})

	token, err := source.Token()
	if err != nil {
		return nil, p.mapTokenError(err)
	}

	refreshed, err := p.sessionFromToken(token)
	if err != nil {
		return nil, err
	}

	p.setSession(refreshed)
	p.notify(sessionsync.SessionRefreshed, refreshed)

	return refreshed.Clone(), nil
}

// User fetches the provider-side identity record for the active session.
func (p *Provider) User(ctx context.Context) (*sessionsync.Identity, error) {
	session := p.CurrentSessionLocal()
	if session == nil || session.AccessToken == "" {
		return nil, sessionsync.ErrNotAuthenticated
	}

	var resp signupResponse
	if err := p.request(ctx, http.MethodGet, "/user", nil, session.AccessToken, &resp); err != nil {
		return nil, err
	}

	identity := resp.identity()
	if identity == nil {
		return nil, errors.New("gotrue: user response carries no identity", errors.CategoryOperation).
			WithCode(errors.CodeInternal)
	}

	return identity, nil
}

// StartAutoRefresh launches a loop that rotates the token pair shortly
// before expiry, pushing refreshed notifications to subscribers. The
// returned stop func terminates the loop.
func (p *Provider) StartAutoRefresh(ctx context.Context, interval time.Duration) (stop func()) {
	if interval <= 0 {
		interval = time.Minute
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				p.refreshIfExpiring(ctx, interval)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// refreshIfExpiring rotates the pair when the token will not outlive two
// more ticks; sessions without expiry or refresh material are left alone.
func (p *Provider) refreshIfExpiring(ctx context.Context, interval time.Duration) {
	session := p.CurrentSessionLocal()
	if session == nil || session.RefreshToken == "" || session.ExpiresAt == nil {
		return
	}

	if timeNow().Add(2 * interval).Before(*session.ExpiresAt) {
		return
	}

	if _, err := p.Refresh(ctx); err != nil {
		p.logger.Warn("gotrue: background refresh failed: %v", err)
	}
}

// RestoreSession implements sessionsync.SessionRestorer: it reinstates a
// captured token pair as the active session without a credential
// exchange and without notifying subscribers.
func (p *Provider) RestoreSession(_ context.Context, session *sessionsync.Session) error {
	p.setSession(session.Clone())
	return nil
}

// Subscribe registers a notification handler. Handlers run synchronously
// in registration order on the goroutine that triggered the transition.
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

// CurrentSessionLocal returns a copy of the in-memory session without
// any network round trip.
func (p *Provider) CurrentSessionLocal() *sessionsync.Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session.Clone()
}

func (p *Provider) setSession(session *sessionsync.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = session
}

func (p *Provider) notify(event sessionsync.SessionEvent, session *sessionsync.Session) {
	p.mu.RLock()
	handlers := make([]sessionsync.NotificationFunc, 0, len(p.handlers))
	for id := 0; id < p.nextID; id++ {
		if fn, ok := p.handlers[id]; ok {
			handlers = append(handlers, fn)
		}
	}
	p.mu.RUnlock()

	for _, fn := range handlers {
		fn(event, session.Clone())
	}
}

func (p *Provider) sessionFromToken(token *oauth2.Token) (*sessionsync.Session, error) {
	refresh := token.RefreshToken
	return p.decodeSession(token.AccessToken, refresh)
}

func (p *Provider) decodeSession(accessToken, refreshToken string) (*sessionsync.Session, error) {
	if p.validator != nil {
		return p.validator.SessionFromToken(accessToken, refreshToken)
	}
	return sessionsync.UnverifiedSessionFromToken(accessToken, refreshToken)
}

func (p *Provider) post(ctx context.Context, path string, body any, bearer string, out any) error {
	return p.request(ctx, http.MethodPost, path, body, bearer, out)
}

func (p *Provider) request(ctx context.Context, method, path string, body any, bearer string, out any) error {
	octx, cancel := context.WithTimeout(ctx, p.config.timeout())
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "gotrue: encode request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(octx, method, p.config.baseURL()+path, reader)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "gotrue: build request")
	}

	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return p.mapTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return p.mapStatusError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.CategoryOperation, "gotrue: decode response")
	}

	return nil
}

func (p *Provider) mapTokenError(err error) error {
	var retrieve *oauth2.RetrieveError
	if stderrors.As(err, &retrieve) {
		if retrieve.Response != nil &&
			(retrieve.Response.StatusCode == http.StatusBadRequest ||
				retrieve.Response.StatusCode == http.StatusUnauthorized ||
				retrieve.Response.StatusCode == http.StatusForbidden) {
			return wrapProviderError(sessionsync.ErrInvalidCredentials, err)
		}
		return wrapProviderError(sessionsync.ErrProviderUnavailable, err)
	}

	return p.mapTransportError(err)
}

func (p *Provider) mapTransportError(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return wrapProviderError(sessionsync.ErrProviderTimeout, err)
	}

	var urlErr *url.Error
	if stderrors.As(err, &urlErr) && urlErr.Timeout() {
		return wrapProviderError(sessionsync.ErrProviderTimeout, err)
	}

	return wrapProviderError(sessionsync.ErrProviderUnavailable, err)
}

func (p *Provider) mapStatusError(resp *http.Response) error {
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	cause := fmt.Errorf("gotrue: %s: %s", resp.Status, string(payload))

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return wrapProviderError(sessionsync.ErrInvalidCredentials, cause)
	case http.StatusTooManyRequests:
		return wrapProviderError(sessionsync.ErrProviderUnavailable, cause)
	default:
		return wrapProviderError(sessionsync.ErrProviderUnavailable, cause)
	}
}

func wrapProviderError(base *errors.Error, cause error) error {
	clone := base.Clone()
	if clone == nil {
		return cause
	}
	clone.Source = cause
	return clone.WithMetadata(map[string]any{
		"provider": "gotrue",
	})
}

type signupResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	UserMetadata map[string]any `json:"user_metadata"`
	User         *struct {
		ID           string         `json:"id"`
		Email        string         `json:"email"`
		UserMetadata map[string]any `json:"user_metadata"`
	} `json:"user"`
}

// identity normalizes the two response shapes GoTrue uses: a bare user
// object when confirmation is pending, a token envelope with a nested
// user when autoconfirm is on.
func (r signupResponse) identity() *sessionsync.Identity {
	if r.User != nil && r.User.ID != "" {
		return &sessionsync.Identity{
			ID:       r.User.ID,
			Email:    r.User.Email,
			Metadata: r.User.UserMetadata,
		}
	}

	if r.ID != "" {
		return &sessionsync.Identity{
			ID:       r.ID,
			Email:    r.Email,
			Metadata: r.UserMetadata,
		}
	}

	return nil
}

// timeNow is swapped in tests exercising expiry-driven refresh.
var timeNow = time.Now
