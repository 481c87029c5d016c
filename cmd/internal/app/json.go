package app

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"crm/cmd/internal/auth/session"
)

const maxBodyBytes = 64 << 10

type apiError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// writeSessionError renders a normalized session failure.
func writeSessionError(w http.ResponseWriter, err error) {
	var se *session.Error
	if !errors.As(err, &se) {
		writeError(w, http.StatusBadGateway, session.KindUnknown.String(), session.MsgUnknown)
		return
	}
	writeJSON(w, statusForKind(se.Kind), errorResponse{Error: apiError{
		Code:    se.Kind.String(),
		Message: se.Message,
		Fields:  se.Fields,
	}})
}

func writeBusy(w http.ResponseWriter) {
	writeError(w, http.StatusConflict, "busy", session.MsgBusy)
}

func statusForKind(k session.Kind) int {
	switch k {
	case session.KindValidationFailed:
		return http.StatusBadRequest
	case session.KindInvalidCredentials, session.KindSessionExpired:
		return http.StatusUnauthorized
	case session.KindEmailNotVerified:
		return http.StatusForbidden
	case session.KindAccountNotFound:
		return http.StatusNotFound
	case session.KindRateLimited:
		return http.StatusTooManyRequests
	case session.KindTimeout:
		return http.StatusGatewayTimeout
	case session.KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

// isJSONRequest reports whether the caller sent or expects JSON rather than a browser form.
func isJSONRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(ct)), "application/json") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
