// Package identity is the client for the remote Identity Service (login, signup, refresh, profile,
// password reset, company directory).
//
// Every response is wrapped as {error, message, result}. Failures surface as *APIError (the service
// answered) or *TransportError (it did not: timeout or network). Classification into the session
// failure taxonomy happens in the session package, not here.
package identity
