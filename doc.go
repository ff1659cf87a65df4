// Package sessionsync reconciles an external identity provider's
// asynchronous session notifications with a locally authoritative
// application profile store.
//
// The package keeps a single in-process SessionState holding the current
// provider Session and its resolved ApplicationUser. Notifications pushed
// by the provider funnel through an EventReconciler that processes them
// strictly in arrival order, auto-provisioning missing profiles and
// rejecting deactivated accounts. A SessionController exposes the
// operations the rest of the application calls: sign in, sign up, sign
// out, profile updates, and a privileged create-account flow that leaves
// the calling administrator's session untouched.
package sessionsync
