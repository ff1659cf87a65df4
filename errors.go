package sessionsync

import (
	"context"
	stderrors "errors"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials     = "invalid_credentials"
	TextCodeAccountInactive        = "account_inactive"
	TextCodeProfileNotFound        = "profile_not_found"
	TextCodeProvisioningFailed     = "provisioning_failed"
	TextCodeIdentityCreationFail   = "identity_creation_failed"
	TextCodeNotAuthenticated       = "not_authenticated"
	TextCodeProvisioningBusy       = "provisioning_busy"
	TextCodeProviderTimeout        = "provider_timeout"
	TextCodeProviderUnavailable    = "provider_unavailable"
	TextCodeInvalidSubject         = "invalid_subject"
	TextCodeTokenMalformed         = "token_malformed"
)

// ErrInvalidCredentials is returned when the provider rejects a sign-in.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(errors.CodeUnauthorized)

// ErrAccountInactive is returned for deactivated profiles. Callers can rely
// on the affected session having been terminated before this surfaces.
var ErrAccountInactive = errors.New("account is inactive", errors.CategoryAuth).
	WithTextCode(TextCodeAccountInactive).
	WithCode(errors.CodeForbidden)

// ErrProfileNotFound is returned by AccountDirectory implementations when
// no profile exists for the requested subject.
var ErrProfileNotFound = errors.New("profile not found", errors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(errors.CodeNotFound)

// ErrProvisioningFailed is returned when profile auto-creation fails.
var ErrProvisioningFailed = errors.New("profile provisioning failed", errors.CategoryInternal).
	WithTextCode(TextCodeProvisioningFailed).
	WithCode(errors.CodeInternal)

// ErrIdentityCreationFailed is returned when the provider-side step of
// the admin create-account flow fails.
var ErrIdentityCreationFailed = errors.New("identity creation failed", errors.CategoryOperation).
	WithTextCode(TextCodeIdentityCreationFail).
	WithCode(errors.CodeInternal)

// ErrNotAuthenticated is returned by operations that require a current user.
var ErrNotAuthenticated = errors.New("no authenticated user", errors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(errors.CodeUnauthorized)

// ErrProvisioningBusy is returned when an admin create-account operation
// is already in flight.
var ErrProvisioningBusy = errors.New("account provisioning already in progress", errors.CategoryConflict).
	WithTextCode(TextCodeProvisioningBusy).
	WithCode(errors.CodeConflict)

// ErrProviderTimeout is returned when a provider call does not settle in
// bounded time. Safe to retry.
var ErrProviderTimeout = errors.New("identity provider timed out", errors.CategoryOperation).
	WithTextCode(TextCodeProviderTimeout).
	WithCode(errors.CodeInternal)

// ErrProviderUnavailable covers transient network failures reaching the
// provider. Safe to retry.
var ErrProviderUnavailable = errors.New("identity provider unavailable", errors.CategoryOperation).
	WithTextCode(TextCodeProviderUnavailable).
	WithCode(errors.CodeInternal)

// ErrInvalidSubject is returned when a session's subject identifier
// cannot be used as a profile key.
var ErrInvalidSubject = errors.New("invalid subject identifier", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidSubject).
	WithCode(errors.CodeBadRequest)

// ErrTokenMalformed is returned when an access token cannot be decoded.
var ErrTokenMalformed = errors.New("malformed access token", errors.CategoryBadInput).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(errors.CodeBadRequest)

// ErrProfileStoreNotInitialized signals a wiring mistake caught at
// startup validation.
var ErrProfileStoreNotInitialized = errors.New("profile repository should be initialized", errors.CategoryInternal).
	WithCode(errors.CodeInternal)

// HasTextCode reports whether err carries the given taxonomy text code.
func HasTextCode(err error, code string) bool {
	var rich *errors.Error
	if !errors.As(err, &rich) || rich == nil {
		return false
	}
	return rich.TextCode == code
}

// IsAccountInactive reports whether err is the inactive-account rejection.
func IsAccountInactive(err error) bool {
	return HasTextCode(err, TextCodeAccountInactive)
}

// IsProfileNotFound reports whether err means the directory has no record.
func IsProfileNotFound(err error) bool {
	return errors.IsNotFound(err) || HasTextCode(err, TextCodeProfileNotFound)
}

// IsProvisioningBusy reports whether err is the concurrent-admin-create
// rejection.
func IsProvisioningBusy(err error) bool {
	return HasTextCode(err, TextCodeProvisioningBusy)
}

// IsRetryable reports whether err is transient: timeouts and network
// failures are retryable, credential and policy rejections are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return HasTextCode(err, TextCodeProviderTimeout) ||
		HasTextCode(err, TextCodeProviderUnavailable)
}

// wrapWithSource clones a taxonomy sentinel, attaches the underlying
// cause, and merges metadata. Keeps the sentinel's category/codes so
// callers can still match with HasTextCode.
func wrapWithSource(base *errors.Error, err error, meta map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if err != nil {
		clone.Source = err
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}
