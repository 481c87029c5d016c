package session

import "crm/cmd/internal/auth/permission"

// Role returns the resolved role of the current user.
func (c *Controller) Role() (permission.Role, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.User == nil {
		return "", false
	}
	return c.state.User.Role, true
}

// HasCapability reports whether the current user holds capability. False without a user.
func (c *Controller) HasCapability(capability permission.Capability) bool {
	role, ok := c.Role()
	return ok && permission.HasCapability(role, capability)
}

func (c *Controller) HasAllCapabilities(capabilities ...permission.Capability) bool {
	role, ok := c.Role()
	return ok && permission.HasAllCapabilities(role, capabilities)
}

func (c *Controller) HasAnyCapability(capabilities ...permission.Capability) bool {
	role, ok := c.Role()
	return ok && permission.HasAnyCapability(role, capabilities)
}

func (c *Controller) MeetsMinimumRole(minimum permission.Role) bool {
	role, ok := c.Role()
	return ok && permission.MeetsMinimumRole(role, minimum)
}
