package session

import (
	"crm/cmd/internal/auth/identity"
	"crm/cmd/internal/auth/tokenstore"
)

type (
	User    = identity.User
	Company = identity.Company
)

// Status is the tri-state authentication flag.
type Status int

const (
	StatusUnauthenticated Status = iota
	// StatusPendingValidation means a stored token pair was loaded but no user has been resolved yet.
	StatusPendingValidation
	StatusAuthenticated
)

func (s Status) String() string {
	switch s {
	case StatusPendingValidation:
		return "pending_validation"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// MarshalText renders the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// State is an immutable snapshot of the session.
type State struct {
	User    *User
	Company *Company
	Tokens  tokenstore.Pair
	Status  Status
	Loading bool
	Err     *Error
}

// IsAuthenticated mirrors the boolean view flag: true while authenticated or pending validation.
func (s State) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated || s.Status == StatusPendingValidation
}

// HasTokens reports whether any token is held in memory.
func (s State) HasTokens() bool {
	return s.Tokens.AccessToken != "" || s.Tokens.RefreshToken != ""
}

// clone copies the pointer fields so snapshots never alias controller state.
func (s State) clone() State {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	if s.Company != nil {
		c := *s.Company
		s.Company = &c
	}
	if s.Err != nil {
		e := *s.Err
		s.Err = &e
	}
	return s
}
