// Package guard gates console views on a validated session and an optional minimum role.
//
// A Guard is mounted once per protected view (Protect mounts one per request) and runs a small
// state machine:
//
//	idle -> checking_tokens -> waiting_for_user -> validating -> allowed | denied
//
// The first Run call drives the machine; concurrent or repeated calls wait for it to settle and
// return the same Decision, so a mount validates at most once.
package guard
