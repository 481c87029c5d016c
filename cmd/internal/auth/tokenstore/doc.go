// Package tokenstore persists the access/refresh token pair across ranked backends.
//
// Reads walk the backends in order and return the first complete pair; writes go to every backend.
// A backend failure never fails the caller: it is logged and counted, and the remaining backends
// still serve. The primary backend is a key-value store (a JSON file, or Postgres for shared
// terminals); the fallback is a persisted cookie jar with per-token expirations.
//
// Token content is never verified here. ValidateFormat is a structural check used for local cleanup.
package tokenstore
