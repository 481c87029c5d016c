package session

import (
	"context"
	"strings"
	"time"

	"crm/cmd/internal/auth/identity"
	"crm/cmd/internal/auth/tokenstore"
	"crm/cmd/internal/metrics"
)

func staleError(op string) *Error {
	return &Error{Op: op, Kind: KindSessionExpired, Message: MsgSessionExpired}
}

// rejectIdentity drops the user but keeps tokens: the soft failure shape.
func rejectIdentity(s *State) {
	s.User = nil
	s.Company = nil
	s.Status = StatusUnauthenticated
}

// Login authenticates with email and password.
func (c *Controller) Login(ctx context.Context, email, password string) error {
	const op = "login"
	a := c.begin(op)

	form := LoginForm{Email: strings.TrimSpace(email), Password: password}
	if verr := c.forms.check(op, form); verr != nil {
		c.settle(a, verr, rejectIdentity)
		return verr
	}

	res, err := c.id.Login(ctx, identity.LoginRequest{Email: form.Email, Password: form.Password})
	if err == nil && (!res.Tokens.Complete() || res.User == nil) {
		err = identity.ErrMalformedResponse
	}
	if err != nil {
		serr := classify(op, err, false)
		c.settle(a, serr, rejectIdentity)
		return serr
	}

	// Login responses carry no company by contract.
	if !c.settle(a, nil, c.establish(ctx, res.User, nil, res.Tokens)) {
		return staleError(op)
	}
	return nil
}

// Register signs up and authenticates in one step.
func (c *Controller) Register(ctx context.Context, r Registration) error {
	const op = "register"
	a := c.begin(op)

	req, verr := c.validateRegistration(op, r)
	if verr != nil {
		c.settle(a, verr, rejectIdentity)
		return verr
	}

	res, err := c.id.Signup(ctx, req)
	if err == nil && (!res.Tokens.Complete() || res.User == nil) {
		err = identity.ErrMalformedResponse
	}
	if err != nil {
		serr := classify(op, err, false)
		c.settle(a, serr, rejectIdentity)
		return serr
	}

	if !c.settle(a, nil, c.establish(ctx, res.User, res.Company, res.Tokens)) {
		return staleError(op)
	}
	return nil
}

// establish installs a new identity under a fresh epoch and queues the token write. It runs
// under c.mu.
func (c *Controller) establish(ctx context.Context, user *User, company *Company, tokens tokenstore.Pair) func(*State) {
	return func(s *State) {
		c.saveLocked(ctx, tokens)
		setIdentity(s, user, company, tokens)
		c.epoch++
	}
}

// Logout signs out remotely and always clears local state, even when the remote call fails.
func (c *Controller) Logout(ctx context.Context) error {
	const op = "logout"
	a := c.begin(op)

	if access := c.heldTokens(ctx).AccessToken; access != "" {
		if err := c.id.Logout(ctx, access); err != nil {
			c.log.Warn("session.logout.remote_fail", "err", err)
		}
	}

	c.mu.Lock()
	c.inflight--
	c.clearLocked(ctx)
	c.resetLocked()
	c.publishLocked()
	c.unlockAndPersist()

	metrics.RecordSessionOp(op, "ok", c.now().Sub(a.start).Seconds())
	c.log.Info("session.logout.ok")
	return nil
}

// RefreshToken exchanges the refresh token for a new pair. Any failure resets the session.
func (c *Controller) RefreshToken(ctx context.Context) error {
	const op = "refresh"
	a := c.begin(op)

	hardReset := func(s *State) {
		c.clearLocked(ctx)
		*s = State{}
		c.epoch++
	}

	refresh := c.heldTokens(ctx).RefreshToken
	if refresh == "" {
		serr := staleError(op)
		c.settle(a, serr, hardReset)
		return serr
	}

	pair, err := c.id.Refresh(ctx, refresh)
	if err == nil && !pair.Complete() {
		err = identity.ErrMalformedResponse
	}
	if err != nil {
		serr := classify(op, err, true)
		c.settle(a, serr, hardReset)
		return serr
	}

	if !c.settle(a, nil, func(s *State) {
		c.saveLocked(ctx, pair)
		s.Tokens = pair
	}) {
		return staleError(op)
	}
	return nil
}

// GetMe re-validates the held tokens and resolves the user. Concurrent calls share one request.
// Failure keeps the tokens.
func (c *Controller) GetMe(ctx context.Context) error {
	_, err, _ := c.me.Do("me", func() (any, error) {
		if err := c.getMe(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (c *Controller) getMe(ctx context.Context) error {
	const op = "get_me"
	a := c.begin(op)

	held := c.heldTokens(ctx)
	if held.AccessToken == "" {
		serr := staleError(op)
		c.settle(a, serr, rejectIdentity)
		return serr
	}

	res, err := c.id.Me(ctx, held.AccessToken)
	if err == nil && res.User == nil {
		err = identity.ErrMalformedResponse
	}
	if err != nil {
		serr := classify(op, err, true)
		c.settle(a, serr, rejectIdentity)
		return serr
	}

	if !c.settle(a, nil, func(s *State) {
		tokens := s.Tokens
		switch {
		case res.Tokens.Complete():
			c.saveLocked(ctx, res.Tokens)
			tokens = res.Tokens
		case !tokens.Complete():
			tokens = held
		}

		company := res.Company
		if company == nil && s.User != nil && s.User.ID == res.User.ID {
			company = s.Company
		}
		setIdentity(s, res.User, company, tokens)
	}) {
		return staleError(op)
	}
	return nil
}

// ForgotPassword requests a reset email. It never touches user or tokens.
func (c *Controller) ForgotPassword(ctx context.Context, email string) (string, error) {
	const op = "forgot_password"
	a := c.begin(op)

	email = strings.TrimSpace(email)
	if err := c.forms.v.Var(email, "required,email"); err != nil {
		serr := validationError(op, map[string]string{"email": "email must be a valid email address"})
		c.settle(a, serr, nil)
		return "", serr
	}

	msg, err := c.id.ForgotPassword(ctx, email)
	if err != nil {
		serr := classify(op, err, false)
		c.settle(a, serr, nil)
		return "", serr
	}
	c.settle(a, nil, nil)
	return msg, nil
}

// ResetPassword completes a reset with the emailed token. It never touches user or tokens.
func (c *Controller) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	const op = "reset_password"
	a := c.begin(op)

	fields := map[string]string{}
	if strings.TrimSpace(token) == "" {
		fields["token"] = "token is required"
	}
	if err := c.forms.v.Var(newPassword, "required,min=8,max=128"); err != nil {
		fields["password"] = "password must be between 8 and 128 characters long"
	}
	if len(fields) > 0 {
		serr := validationError(op, fields)
		c.settle(a, serr, nil)
		return "", serr
	}

	msg, err := c.id.ResetPassword(ctx, strings.TrimSpace(token), newPassword)
	if err != nil {
		serr := classify(op, err, false)
		c.settle(a, serr, nil)
		return "", serr
	}
	c.settle(a, nil, nil)
	return msg, nil
}

// ListCompanies searches the company directory for the join-company flow. It does not touch State.
func (c *Controller) ListCompanies(ctx context.Context, q identity.CompanyQuery) (identity.CompanyPage, error) {
	const op = "list_companies"
	start := c.now()

	c.mu.Lock()
	access := c.state.Tokens.AccessToken
	c.mu.Unlock()

	page, err := c.id.ListCompanies(ctx, access, q)
	if err != nil {
		serr := classify(op, err, false)
		metrics.RecordSessionOp(op, serr.Kind.String(), c.now().Sub(start).Seconds())
		return identity.CompanyPage{}, serr
	}
	metrics.RecordSessionOp(op, "ok", c.now().Sub(start).Seconds())
	return page, nil
}

// InitializeAuth seeds the session from the token store without any network call. A complete
// stored pair yields StatusPendingValidation; callers follow up with GetMe. A pair whose access and
// refresh tokens are both JWTs that fail the format check is dropped.
func (c *Controller) InitializeAuth(ctx context.Context) State {
	pair, ok := c.tokens.Load(ctx)

	c.mu.Lock()
	if c.state.User != nil {
		st := c.snapshotLocked()
		c.mu.Unlock()
		return st
	}

	switch {
	case !ok:
		c.state.Tokens = tokenstore.Pair{}
		c.state.Status = StatusUnauthenticated
	case expiredLocally(pair, c.now):
		c.log.Info("session.init.expired_pair")
		c.clearLocked(ctx)
		c.state = State{}
	default:
		c.state.Tokens = pair
		c.state.Status = StatusPendingValidation
		c.log.Debug("session.init.pending")
	}
	c.publishLocked()
	st := c.snapshotLocked()
	c.unlockAndPersist()
	return st
}

func expiredLocally(p tokenstore.Pair, now func() time.Time) bool {
	if !tokenstore.LooksLikeJWT(p.AccessToken) || !tokenstore.LooksLikeJWT(p.RefreshToken) {
		return false
	}
	t := now()
	return !tokenstore.ValidateFormat(p.AccessToken, t) && !tokenstore.ValidateFormat(p.RefreshToken, t)
}

// ClearError dismisses the current error.
func (c *Controller) ClearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Err == nil {
		return
	}
	c.state.Err = nil
	c.publishLocked()
}

// ClearAuth resets the session locally, including the token store, without calling the Identity
// Service.
func (c *Controller) ClearAuth(ctx context.Context) {
	c.mu.Lock()
	c.clearLocked(ctx)
	c.resetLocked()
	c.publishLocked()
	c.unlockAndPersist()
	c.log.Info("session.clear_auth")
}
