package gotrue

import (
	"net/http"
	"strings"
	"time"

	sessionsync "github.com/goliatone/go-session-sync"
	"golang.org/x/oauth2"
)

// Config configures the GoTrue-backed identity provider.
type Config struct {
	// BaseURL is the root of the GoTrue API, e.g. https://id.example.com/auth/v1.
	BaseURL string

	// APIKey is sent as the apikey header on every request.
	APIKey string

	// JWKSURL is the endpoint serving the token signing keys. When empty,
	// access tokens are decoded without signature verification: only do
	// that when the transport itself is trusted.
	JWKSURL string

	// RequestTimeout bounds every provider round trip. Defaults to 10s.
	RequestTimeout time.Duration

	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client

	// Logger overrides the default logger.
	Logger sessionsync.Logger
}

func (c Config) baseURL() string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
}

func (c Config) timeout() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return 10 * time.Second
}

func (c Config) logger() sessionsync.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return sessionsync.DefaultLogger()
}

// GoTrue reads the grant type from the query string, so each grant gets
// its own oauth2 endpoint.
func (c Config) passwordGrant() *oauth2.Config {
	return &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.baseURL() + "/token?grant_type=password",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (c Config) refreshGrant() *oauth2.Config {
	return &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.baseURL() + "/token?grant_type=refresh_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// apiKeyTransport injects the apikey header on every outgoing request.
type apiKeyTransport struct {
	apiKey string
	base   http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}

	if t.apiKey != "" {
		clone := req.Clone(req.Context())
		clone.Header.Set("apikey", t.apiKey)
		return base.RoundTrip(clone)
	}

	return base.RoundTrip(req)
}

func (c Config) httpClient() *http.Client {
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{}
	}

	return &http.Client{
		Transport: &apiKeyTransport{
			apiKey: c.APIKey,
			base:   client.Transport,
		},
		Timeout: client.Timeout,
	}
}
