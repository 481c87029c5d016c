// Package v1 defines the CRM session stream protocol v1.
//
// It is shared between the console server and its clients (browser views and tools/scripts/ws-smoke.go)
// and depends on nothing but the standard library.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the websocket handshake.
const Subprotocol = "crm.session.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts the handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake and carries the subscriber id (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeSessionGet asks for the current snapshot (client -> server).
	TypeSessionGet = "session_get"
	// TypeSessionSnapshot carries a session snapshot (server -> client), pushed on every change.
	TypeSessionSnapshot = "session_snapshot"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello, TypeHelloAck, TypeSessionGet, TypeSessionSnapshot, TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// HelloPayload is sent by the client to start the stream.
type HelloPayload struct {
	Client string `json:"client,omitempty"`
}

type HelloAckPayload struct {
	SubscriberID string `json:"subscriber_id"`
}

// User is the wire view of the signed-in user.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name,omitempty"`
	Role      string     `json:"role"`
	CompanyID string     `json:"company_id,omitempty"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

// Company is the wire view of the user's company.
type Company struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Industry         string     `json:"industry,omitempty"`
	Size             string     `json:"size,omitempty"`
	SubscriptionTier string     `json:"subscription_tier,omitempty"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
}

// SessionError is the wire view of the last failure.
type SessionError struct {
	Op      string            `json:"op"`
	Kind    string            `json:"kind"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// SessionSnapshotPayload is the read-only session view. Tokens are never sent, only their presence.
type SessionSnapshotPayload struct {
	User            *User         `json:"user"`
	Company         *Company      `json:"company"`
	Status          string        `json:"status"`
	IsAuthenticated bool          `json:"is_authenticated"`
	IsLoading       bool          `json:"is_loading"`
	Error           *SessionError `json:"error"`
	TokensPresent   bool          `json:"tokens_present"`
	Capabilities    []string      `json:"capabilities"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
