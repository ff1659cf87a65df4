package sessionsync

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// Profile is the durable application record for a subject. It is owned
// by the AccountDirectory; this package creates rows only through the
// provisioning and sign-up paths.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            uuid.UUID   `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string      `bun:"email,notnull,unique" json:"email,omitempty"`
	Name          string      `bun:"name,notnull" json:"name,omitempty"`
	Role          ProfileRole `bun:"role,notnull" json:"role,omitempty"`
	Phone         string      `bun:"phone_number" json:"phone_number,omitempty"`
	Active        bool        `bun:"is_active" json:"is_active"`
	CreatedAt     *time.Time  `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time  `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// ProfileSeed carries the caller-supplied attributes for a profile that
// does not exist yet: sign-up forms and the admin create-account flow.
type ProfileSeed struct {
	Name  string      `json:"name"`
	Role  ProfileRole `json:"role"`
	Phone string      `json:"phone,omitempty"`
}

// Metadata renders the seed as provider-side identity metadata so the
// identity record carries enough information to reconstruct a minimal
// profile if directory creation fails or is deferred.
func (s ProfileSeed) Metadata() map[string]any {
	meta := map[string]any{
		"name": s.Name,
		"role": string(s.Role),
	}
	if s.Phone != "" {
		meta["phone"] = s.Phone
	}
	return meta
}

// ProfileUpdate applies only its non-nil fields.
type ProfileUpdate struct {
	Name  *string      `json:"name,omitempty"`
	Phone *string      `json:"phone,omitempty"`
	Role  *ProfileRole `json:"role,omitempty"`
}

// IsEmpty reports whether the update carries no changes.
func (u ProfileUpdate) IsEmpty() bool {
	return u.Name == nil && u.Phone == nil && u.Role == nil
}

// Apply copies the present fields onto the profile.
func (u ProfileUpdate) Apply(p *Profile) {
	if p == nil {
		return
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Phone != nil {
		p.Phone = NormalizePhone(*u.Phone)
	}
	if u.Role != nil {
		p.Role = *u.Role
	}
}

// ApplicationUser is the in-memory, read-facing projection of a Profile.
// Derivation is field mapping and date normalization only.
type ApplicationUser struct {
	ID        string      `json:"id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Role      ProfileRole `json:"role"`
	Phone     string      `json:"phone,omitempty"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at,omitempty"`
	UpdatedAt time.Time   `json:"updated_at,omitempty"`
}

// NewApplicationUser projects a Profile into its read model.
func NewApplicationUser(p *Profile) *ApplicationUser {
	if p == nil {
		return nil
	}

	user := &ApplicationUser{
		ID:     p.ID.String(),
		Email:  p.Email,
		Name:   p.Name,
		Role:   p.Role,
		Phone:  p.Phone,
		Active: p.Active,
	}

	if p.CreatedAt != nil {
		user.CreatedAt = p.CreatedAt.UTC()
	}
	if p.UpdatedAt != nil {
		user.UpdatedAt = p.UpdatedAt.UTC()
	}

	return user
}

// NormalizePhone formats international numbers as E.164. Input that
// cannot be parsed is stored as given; the directory is the authority
// on further validation.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	parsed, err := phonenumbers.Parse(raw, "")
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		return raw
	}

	return phonenumbers.Format(parsed, phonenumbers.E164)
}

// LocalPart extracts the mailbox name from an email address, the
// fallback display name for auto-provisioned profiles.
func LocalPart(email string) string {
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return email
}
