package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is the Kind of a TransportError whose call exceeded the client timeout.
	ErrTimeout = errors.New("identity: request timeout")

	// ErrNetwork is the Kind of a TransportError whose call never got an HTTP response.
	ErrNetwork = errors.New("identity: network unreachable")

	// ErrMalformedResponse is returned when a 2xx response cannot be decoded.
	ErrMalformedResponse = errors.New("identity: malformed response")
)

// APIError is a failure reported by the Identity Service itself: a non-2xx status, or a 2xx
// envelope with error=true.
type APIError struct {
	Op      string
	Status  int
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: status %d: %s (%s)", e.Op, e.Status, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Message)
}

// TransportError is a failure to obtain any response. Kind is ErrTimeout or ErrNetwork.
type TransportError struct {
	Op   string
	Kind error
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *TransportError) Unwrap() []error { return []error{e.Kind, e.Err} }

// AsAPIError reports whether err carries an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
