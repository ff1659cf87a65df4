package gotrue

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	sessionsync "github.com/goliatone/go-session-sync"
)

// TokenValidator verifies GoTrue-issued access tokens against the
// service's JWKS endpoint. Keys are cached and refreshed in the
// background, with refresh-on-unknown-kid for rotation.
type TokenValidator struct {
	jwks   *keyfunc.JWKS
	parser *jwt.Parser
}

// NewTokenValidator fetches the signing keys and builds the validator.
func NewTokenValidator(ctx context.Context, cfg Config) (*TokenValidator, error) {
	jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
		Ctx:               ctx,
		Client:            cfg.httpClient(),
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			cfg.logger().Warn("gotrue: jwks refresh failed: %v", err)
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryOperation, "gotrue: fetch signing keys").
			WithCode(errors.CodeInternal)
	}

	return &TokenValidator{
		jwks:   jwks,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"RS256", "ES256", "HS256"})),
	}, nil
}

// SessionFromToken validates the access token's signature and claims and
// builds a session from them.
func (v *TokenValidator) SessionFromToken(accessToken, refreshToken string) (*sessionsync.Session, error) {
	claims, err := v.Claims(accessToken)
	if err != nil {
		return nil, err
	}

	return sessionsync.SessionFromClaims(claims, accessToken, refreshToken), nil
}

// Claims validates the token and returns its claim set.
func (v *TokenValidator) Claims(accessToken string) (*sessionsync.SessionClaims, error) {
	claims := &sessionsync.SessionClaims{}

	token, err := v.parser.ParseWithClaims(accessToken, claims, v.jwks.Keyfunc)
	if err != nil {
		return nil, normalizeTokenError(err)
	}

	if !token.Valid {
		return nil, normalizeTokenError(jwt.ErrTokenUnverifiable)
	}

	return claims, nil
}

// Close stops the background key refresh.
func (v *TokenValidator) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

func normalizeTokenError(err error) error {
	if stderrors.Is(err, jwt.ErrTokenExpired) {
		clone := sessionsync.ErrNotAuthenticated.Clone()
		clone.Source = err
		return clone.WithMetadata(map[string]any{
			"provider": "gotrue",
			"cause":    "token expired",
		})
	}

	clone := sessionsync.ErrTokenMalformed.Clone()
	clone.Source = err
	return clone.WithMetadata(map[string]any{
		"provider": "gotrue",
		"cause":    err.Error(),
	})
}
