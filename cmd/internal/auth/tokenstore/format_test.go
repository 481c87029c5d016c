package tokenstore

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return tok
}

func TestValidateFormat(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

	cases := []struct {
		name  string
		token string
		want  bool
	}{
		{name: "future exp", token: mintToken(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(time.Hour).Unix()}), want: true},
		{name: "no exp", token: mintToken(t, jwt.MapClaims{"sub": "u1"}), want: true},
		{name: "past exp", token: mintToken(t, jwt.MapClaims{"sub": "u1", "exp": now.Add(-time.Minute).Unix()}), want: false},
		{name: "exp equals now", token: mintToken(t, jwt.MapClaims{"exp": now.Unix()}), want: false},
		{name: "two segments", token: header + ".e30", want: false},
		{name: "non json claims", token: header + "." + base64.RawURLEncoding.EncodeToString([]byte("not-json")) + ".sig", want: false},
		{name: "empty", token: "", want: false},
		{name: "opaque", token: "b3BhcXVl", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateFormat(tc.token, now); got != tc.want {
				t.Fatalf("ValidateFormat(%s)=%v want=%v", tc.name, got, tc.want)
			}
		})
	}
}

func TestValidateFormat_IgnoresSignature(t *testing.T) {
	now := time.Now()
	tok := mintToken(t, jwt.MapClaims{"exp": now.Add(time.Hour).Unix()})

	forged := tok[:len(tok)-4] + "AAAA"
	require.True(t, ValidateFormat(forged, now))
}

func TestLooksLikeJWT(t *testing.T) {
	require.True(t, LooksLikeJWT("a.b.c"))
	require.False(t, LooksLikeJWT("opaque-refresh-token"))
}
