package session

import (
	"errors"
	"net/http"
	"strings"

	"crm/cmd/internal/auth/identity"
)

// Kind classifies a failed operation.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidCredentials
	KindAccountNotFound
	KindEmailNotVerified
	KindRateLimited
	KindTimeout
	KindNetwork
	KindSessionExpired
	KindValidationFailed
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindInvalidCredentials: "invalid_credentials",
	KindAccountNotFound:    "account_not_found",
	KindEmailNotVerified:   "email_not_verified",
	KindRateLimited:        "rate_limited",
	KindTimeout:            "timeout",
	KindNetwork:            "network_unreachable",
	KindSessionExpired:     "session_expired",
	KindValidationFailed:   "validation_failed",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountNotFound    = errors.New("account not found")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrRateLimited        = errors.New("rate limited")
	ErrTimeout            = errors.New("request timeout")
	ErrNetwork            = errors.New("network unreachable")
	ErrSessionExpired     = errors.New("session expired")
	ErrValidationFailed   = errors.New("validation failed")
	ErrUnknown            = errors.New("unknown failure")

	// ErrBusy is returned by callers that honour the soft lock while another operation is in flight.
	ErrBusy = errors.New("session: operation in progress")
)

var kindSentinels = map[Kind]error{
	KindUnknown:            ErrUnknown,
	KindInvalidCredentials: ErrInvalidCredentials,
	KindAccountNotFound:    ErrAccountNotFound,
	KindEmailNotVerified:   ErrEmailNotVerified,
	KindRateLimited:        ErrRateLimited,
	KindTimeout:            ErrTimeout,
	KindNetwork:            ErrNetwork,
	KindSessionExpired:     ErrSessionExpired,
	KindValidationFailed:   ErrValidationFailed,
}

// User-visible messages.
const (
	MsgInvalidCredentials = "Invalid email or password."
	MsgAccountNotFound    = "No account found with that email address."
	MsgEmailNotVerified   = "Please verify your email address before signing in."
	MsgRateLimited        = "Too many attempts. Please wait a moment and try again."
	MsgTimeout            = "The request timed out. Please try again."
	MsgNetwork            = "Unable to reach the server. Check your connection and try again."
	MsgSessionExpired     = "Your session has expired. Please sign in again."
	MsgUnknown            = "Something went wrong. Please try again."
	MsgBusy               = "Another request is still in progress. Please wait and try again."
)

// Error is the normalized failure stored in State.Err and returned by operations.
type Error struct {
	Op      string `json:"op"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`

	// Fields holds per-field messages for KindValidationFailed.
	Fields map[string]string `json:"fields,omitempty"`
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Message
}

// Unwrap exposes the sentinel for the kind.
func (e *Error) Unwrap() error { return kindSentinels[e.Kind] }

// KindOf returns the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// classify maps an identity failure onto the taxonomy. revalidating marks refresh and me calls,
// where an auth rejection means the held session is no longer valid.
func classify(op string, err error, revalidating bool) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}

	switch {
	case errors.Is(err, identity.ErrTimeout):
		return &Error{Op: op, Kind: KindTimeout, Message: MsgTimeout}
	case errors.Is(err, identity.ErrNetwork):
		return &Error{Op: op, Kind: KindNetwork, Message: MsgNetwork}
	}

	ae, ok := identity.AsAPIError(err)
	if !ok {
		return &Error{Op: op, Kind: KindUnknown, Message: MsgUnknown}
	}

	if strings.EqualFold(ae.Reason, "email_not_verified") {
		return &Error{Op: op, Kind: KindEmailNotVerified, Message: MsgEmailNotVerified}
	}

	switch ae.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		if revalidating {
			return &Error{Op: op, Kind: KindSessionExpired, Message: MsgSessionExpired}
		}
		return &Error{Op: op, Kind: KindInvalidCredentials, Message: MsgInvalidCredentials}
	case http.StatusNotFound:
		if revalidating {
			return &Error{Op: op, Kind: KindSessionExpired, Message: MsgSessionExpired}
		}
		return &Error{Op: op, Kind: KindAccountNotFound, Message: MsgAccountNotFound}
	case http.StatusTooManyRequests:
		return &Error{Op: op, Kind: KindRateLimited, Message: MsgRateLimited}
	}

	msg := strings.TrimSpace(ae.Message)
	if msg == "" {
		msg = MsgUnknown
	}
	return &Error{Op: op, Kind: KindUnknown, Message: msg}
}
