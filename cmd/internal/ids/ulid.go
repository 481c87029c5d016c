// Package ids provides the ULID primitives used for request and subscriber ids.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs sort by creation time, which keeps request ids ordered in logs.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewRequestID returns an id for one outbound Identity Service call.
// It never fails: an entropy error degrades to the time-only ULID.
func NewRequestID(now time.Time) string {
	if id, err := NewULID(now); err == nil {
		return id
	}
	return ulid.Make().String()
}
