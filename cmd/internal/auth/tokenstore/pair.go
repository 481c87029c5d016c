package tokenstore

import "time"

// Fixed keys shared by every backend (cookie names included).
const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

// Cookie lifetimes for the fallback backend.
const (
	AccessCookieTTL  = 24 * time.Hour
	RefreshCookieTTL = 7 * 24 * time.Hour
)

// Pair is the access/refresh credential pair issued by the Identity Service.
type Pair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Complete reports whether both tokens are present.
func (p Pair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// Empty reports whether neither token is present.
func (p Pair) Empty() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}
