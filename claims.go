package sessionsync

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims is the access-token claim set this package understands.
// The registered subject claim is the provider's stable identifier; the
// user metadata block carries the profile hints captured at sign-up.
type SessionClaims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// SessionFromClaims builds a Session from validated access-token claims
// plus the raw token material.
func SessionFromClaims(claims *SessionClaims, accessToken, refreshToken string) *Session {
	if claims == nil {
		return nil
	}

	session := &Session{
		Subject:      claims.RegisteredClaims.Subject,
		Email:        claims.Email,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		Metadata:     claims.UserMetadata,
	}

	if claims.ExpiresAt != nil {
		t := claims.ExpiresAt.Time
		session.ExpiresAt = &t
	}

	return session
}

// UnverifiedSessionFromToken decodes an access token without signature
// verification. Used only to rehydrate local state from a token the
// provider already vouched for; never as an authentication decision.
func UnverifiedSessionFromToken(accessToken, refreshToken string) (*Session, error) {
	claims := &SessionClaims{}
	parser := jwt.NewParser()

	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return nil, wrapWithSource(ErrTokenMalformed, err, nil)
	}

	return SessionFromClaims(claims, accessToken, refreshToken), nil
}

// TokenRemaining returns how long the token stays valid, zero when
// already expired or when no expiry claim is present.
func TokenRemaining(claims *SessionClaims, now time.Time) time.Duration {
	if claims == nil || claims.ExpiresAt == nil {
		return 0
	}
	remaining := claims.ExpiresAt.Time.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
