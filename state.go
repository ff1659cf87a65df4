package sessionsync

import (
	"sync"
)

// StateSnapshot captures a (session, user) pair so a multi-step
// operation can restore the exact pre-call state.
type StateSnapshot struct {
	Session *Session
	User    *ApplicationUser
}

// SessionState is the process-wide holder of the current session and its
// resolved application user. All mutation funnels through the reconciler
// or the controller; readers never observe a torn pair.
type SessionState struct {
	mu      sync.RWMutex
	session *Session
	user    *ApplicationUser
	loading bool
	lastErr error
}

func NewSessionState() *SessionState {
	return &SessionState{}
}

// Current returns the session/user pair as last replaced.
func (s *SessionState) Current() (*Session, *ApplicationUser) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, s.user
}

// CurrentUser returns the resolved application user, nil when signed out.
func (s *SessionState) CurrentUser() *ApplicationUser {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// CurrentSession returns the provider session, nil when signed out.
func (s *SessionState) CurrentSession() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// IsAuthenticated reports whether a resolved user is present.
func (s *SessionState) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session != nil && s.user != nil
}

// Replace is the single mutation point: both halves swap atomically.
func (s *SessionState) Replace(session *Session, user *ApplicationUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.user = user
}

// ReplaceSession swaps only the session, keeping the resolved user.
// Token refreshes take this path so no redundant profile fetch happens.
func (s *SessionState) ReplaceSession(session *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

// ReplaceUser swaps only the resolved user, keeping the session. Profile
// updates take this path: the credential bundle is not affected.
func (s *SessionState) ReplaceUser(user *ApplicationUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
}

// Clear empties both halves.
func (s *SessionState) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	s.user = nil
}

// Loading is true from controller-operation start until the operation,
// including any profile resolution it triggers, completes or fails.
func (s *SessionState) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *SessionState) setLoading(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = v
}

// LastError exposes reconciler failures, which have no caller to return
// to: the event arrives on a push channel.
func (s *SessionState) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *SessionState) setLastError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

// Snapshot captures the current pair. The session is cloned so later
// mutation of the live session cannot leak into the snapshot.
func (s *SessionState) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StateSnapshot{
		Session: s.session.Clone(),
		User:    s.user,
	}
}

// Restore resets the state to a previously captured snapshot.
func (s *SessionState) Restore(snap StateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = snap.Session
	s.user = snap.User
}
