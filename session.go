package sessionsync

import (
	"time"
)

// Session is the token bundle issued by the identity provider. It is
// replaced wholesale on every notification or explicit sign-out and
// never partially mutated.
type Session struct {
	Subject      string         `json:"subject,omitempty"`
	Email        string         `json:"email,omitempty"`
	AccessToken  string         `json:"access_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Expired reports whether the access token's expiry has passed. Sessions
// without expiry metadata are treated as live; the provider remains the
// authority.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt == nil {
		return false
	}
	return now.After(*s.ExpiresAt)
}

// Clone returns a deep enough copy for snapshot/restore: metadata is
// copied so a restored snapshot cannot be mutated through the original.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}

	clone := *s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		clone.ExpiresAt = &t
	}
	if s.Metadata != nil {
		clone.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}

	return &clone
}

// MetaString reads a string-valued metadata hint (name, role, phone)
// stored provider-side at sign-up time.
func (s *Session) MetaString(key string) string {
	if s == nil || s.Metadata == nil {
		return ""
	}
	if raw, ok := s.Metadata[key]; ok {
		if str, ok := raw.(string); ok {
			return str
		}
	}
	return ""
}

// SeedFromMetadata reconstructs the profile seed embedded in the
// session's identity metadata.
func (s *Session) SeedFromMetadata() ProfileSeed {
	seed := ProfileSeed{
		Name:  s.MetaString("name"),
		Phone: s.MetaString("phone"),
	}
	if role, ok := ParseRole(s.MetaString("role")); ok {
		seed.Role = role
	}
	return seed
}
