// Package session owns the console's authentication state.
//
// A Controller is the only writer of session State. Every mutating operation follows the same
// protocol: a pending transition (Loading, Err cleared), the Identity Service call, then exactly one
// fulfilled or rejected transition applied under the controller mutex. Resets (logout, ClearAuth,
// failed refresh) and new identities (login, register) advance an epoch; results that settle under
// an older epoch are discarded so an in-flight GetMe cannot resurrect a cleared session.
//
// Controllers are constructed explicitly and passed to guards and views; there is no package-level
// instance.
package session
