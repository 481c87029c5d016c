package tokenstore

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ValidateFormat is a structural check of a JWT-shaped token: three dot-separated segments,
// a decodable JSON header and claims segment, and no "exp" claim at or before now.
//
// The signature is NOT verified. Only use the result for local cleanup, never for authorization.
func ValidateFormat(token string, now time.Time) bool {
	token = strings.TrimSpace(token)
	if token == "" || strings.Count(token, ".") != 2 {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return false
	}
	if exp != nil && !exp.After(now) {
		return false
	}
	return true
}

// LooksLikeJWT reports whether token has the three-segment JWT shape.
// Opaque tokens (no dots) are left alone by local cleanup.
func LooksLikeJWT(token string) bool {
	return strings.Count(strings.TrimSpace(token), ".") == 2
}
