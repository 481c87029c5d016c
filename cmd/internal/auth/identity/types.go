package identity

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"crm/cmd/internal/auth/permission"
	"crm/cmd/internal/auth/tokenstore"
)

// User is the authenticated user profile.
type User struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	Name      string          `json:"name"`
	Role      permission.Role `json:"role"`
	CompanyID string          `json:"companyId,omitempty"`
	LastLogin *time.Time      `json:"lastLogin,omitempty"`
}

// UnmarshalJSON accepts both "id" and "_id", and "company" as an alias of "companyId".
func (u *User) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID        string          `json:"id"`
		MongoID   string          `json:"_id"`
		Email     string          `json:"email"`
		Name      string          `json:"name"`
		Role      string          `json:"role"`
		CompanyID string          `json:"companyId"`
		Company   json.RawMessage `json:"company"`
		LastLogin *time.Time      `json:"lastLogin"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*u = User{
		ID:        firstNonEmpty(raw.ID, raw.MongoID),
		Email:     strings.TrimSpace(raw.Email),
		Name:      raw.Name,
		Role:      permission.Role(strings.ToLower(strings.TrimSpace(raw.Role))),
		CompanyID: firstNonEmpty(raw.CompanyID, companyRef(raw.Company)),
		LastLogin: raw.LastLogin,
	}
	return nil
}

// companyRef extracts a company id from either a bare id string or a populated company object.
func companyRef(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID      string `json:"id"`
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return firstNonEmpty(obj.ID, obj.MongoID)
	}
	return ""
}

// Company is the tenant the user belongs to.
type Company struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Industry         string    `json:"industry,omitempty"`
	Size             string    `json:"size,omitempty"`
	SubscriptionTier string    `json:"subscriptionTier,omitempty"`
	IsActive         bool      `json:"isActive"`
	CreatedAt        time.Time `json:"createdAt"`
}

// UnmarshalJSON accepts both "id" and "_id".
func (c *Company) UnmarshalJSON(b []byte) error {
	type plain Company
	var raw struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Company(raw.plain)
	c.ID = firstNonEmpty(c.ID, raw.MongoID)
	return nil
}

// AuthResult is the decoded result of login, signup and me.
// Company and Tokens are optional depending on the route.
type AuthResult struct {
	User    *User
	Company *Company
	Tokens  tokenstore.Pair
}

// authPayload covers both the nested ({user, tokens}) and flattened result shapes.
type authPayload struct {
	User         *User            `json:"user"`
	Company      json.RawMessage  `json:"company"`
	Tokens       *tokenstore.Pair `json:"tokens"`
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
}

func decodeAuthResult(b []byte) (AuthResult, error) {
	var p authPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return AuthResult{}, err
	}

	out := AuthResult{User: p.User}
	if c := bytes.TrimSpace(p.Company); len(c) > 0 && c[0] == '{' {
		var company Company
		if err := json.Unmarshal(c, &company); err != nil {
			return AuthResult{}, err
		}
		out.Company = &company
	}
	if p.Tokens != nil && p.Tokens.Complete() {
		out.Tokens = *p.Tokens
	} else {
		out.Tokens = tokenstore.Pair{AccessToken: p.AccessToken, RefreshToken: p.RefreshToken}
	}

	// Flattened user: the user fields sit next to company/tokens.
	if out.User == nil {
		var flat User
		if err := json.Unmarshal(b, &flat); err == nil && (flat.ID != "" || flat.Email != "") {
			out.User = &flat
		}
	}
	return out, nil
}

// LoginRequest is the body of POST auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup types.
const (
	SignupCreateCompany = "create_company"
	SignupJoinCompany   = "join_company"
)

// SignupRequest is the body of POST auth/signup.
type SignupRequest struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	SignupType string `json:"signupType"`

	CompanyName string `json:"companyName,omitempty"`
	Industry    string `json:"industry,omitempty"`
	CompanySize string `json:"companySize,omitempty"`
	Website     string `json:"website,omitempty"`
	Timezone    string `json:"timezone,omitempty"`
	Currency    string `json:"currency,omitempty"`

	CompanyID string `json:"companyId,omitempty"`
	InviteKey string `json:"inviteKey,omitempty"`
}

// CompanyQuery filters GET auth/companies.
type CompanyQuery struct {
	Search string
	Limit  int
}

// CompanyPage is one page of the company directory.
type CompanyPage struct {
	Companies []Company `json:"companies"`
	Total     int       `json:"total"`
	Page      int       `json:"page"`
	Limit     int       `json:"limit"`
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
