package stream

import (
	"crm/cmd/internal/auth/permission"
	"crm/cmd/internal/auth/session"

	v1 "crm/shared/contracts/session/v1"
)

// Payload renders a session snapshot for the wire. Capabilities are those of the resolved role.
func Payload(st session.State) v1.SessionSnapshotPayload {
	p := v1.SessionSnapshotPayload{
		Status:          st.Status.String(),
		IsAuthenticated: st.IsAuthenticated(),
		IsLoading:       st.Loading,
		TokensPresent:   st.HasTokens(),
		Capabilities:    []string{},
	}

	if u := st.User; u != nil {
		p.User = &v1.User{
			ID:        u.ID,
			Email:     u.Email,
			Name:      u.Name,
			Role:      u.Role.String(),
			CompanyID: u.CompanyID,
			LastLogin: u.LastLogin,
		}
		for _, c := range permission.CapabilitiesOf(u.Role) {
			p.Capabilities = append(p.Capabilities, string(c))
		}
	}

	if c := st.Company; c != nil {
		p.Company = &v1.Company{
			ID:               c.ID,
			Name:             c.Name,
			Industry:         c.Industry,
			Size:             c.Size,
			SubscriptionTier: c.SubscriptionTier,
			IsActive:         c.IsActive,
		}
		if !c.CreatedAt.IsZero() {
			ts := c.CreatedAt
			p.Company.CreatedAt = &ts
		}
	}

	if e := st.Err; e != nil {
		p.Error = &v1.SessionError{
			Op:      e.Op,
			Kind:    e.Kind.String(),
			Message: e.Message,
			Fields:  e.Fields,
		}
	}
	return p
}
