// Package permission is the CRM role and capability model.
//
// It is a pure decision layer: two static tables (role rank and role capability set) built once at
// process start and cross-validated in init. Every predicate is total; an unknown role is never
// granted anything.
package permission
