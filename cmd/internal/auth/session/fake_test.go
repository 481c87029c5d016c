package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"crm/cmd/internal/auth/identity"
	"crm/cmd/internal/auth/tokenstore"
)

// fakeIdentity is an in-process identity.Client. Unset hooks succeed with empty results.
type fakeIdentity struct {
	login   func(identity.LoginRequest) (identity.AuthResult, error)
	signup  func(identity.SignupRequest) (identity.AuthResult, error)
	logout  func(string) error
	refresh func(string) (tokenstore.Pair, error)
	me      func(context.Context, string) (identity.AuthResult, error)

	loginCalls   atomic.Int32
	signupCalls  atomic.Int32
	logoutCalls  atomic.Int32
	refreshCalls atomic.Int32
	meCalls      atomic.Int32

	mu         sync.Mutex
	lastSignup identity.SignupRequest
}

func (f *fakeIdentity) Login(_ context.Context, req identity.LoginRequest) (identity.AuthResult, error) {
	f.loginCalls.Add(1)
	if f.login == nil {
		return identity.AuthResult{}, nil
	}
	return f.login(req)
}

func (f *fakeIdentity) Signup(_ context.Context, req identity.SignupRequest) (identity.AuthResult, error) {
	f.signupCalls.Add(1)
	f.mu.Lock()
	f.lastSignup = req
	f.mu.Unlock()
	if f.signup == nil {
		return identity.AuthResult{}, nil
	}
	return f.signup(req)
}

func (f *fakeIdentity) Logout(_ context.Context, access string) error {
	f.logoutCalls.Add(1)
	if f.logout == nil {
		return nil
	}
	return f.logout(access)
}

func (f *fakeIdentity) Refresh(_ context.Context, refresh string) (tokenstore.Pair, error) {
	f.refreshCalls.Add(1)
	if f.refresh == nil {
		return tokenstore.Pair{}, nil
	}
	return f.refresh(refresh)
}

func (f *fakeIdentity) Me(ctx context.Context, access string) (identity.AuthResult, error) {
	f.meCalls.Add(1)
	if f.me == nil {
		return identity.AuthResult{}, nil
	}
	return f.me(ctx, access)
}

func (f *fakeIdentity) ForgotPassword(context.Context, string) (string, error) {
	return "Password reset email sent", nil
}

func (f *fakeIdentity) ResetPassword(context.Context, string, string) (string, error) {
	return "Password has been reset", nil
}

func (f *fakeIdentity) ListCompanies(_ context.Context, _ string, q identity.CompanyQuery) (identity.CompanyPage, error) {
	return identity.CompanyPage{
		Companies: []identity.Company{{ID: "c1", Name: "Acme " + q.Search}},
		Total:     1,
		Page:      1,
		Limit:     q.Limit,
	}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	id      *fakeIdentity
	primary *tokenstore.MemoryBackend
	cookies *tokenstore.MemoryBackend
	store   *tokenstore.Store
	ctrl    *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		id:      &fakeIdentity{},
		primary: tokenstore.NewMemoryBackend("primary"),
		cookies: tokenstore.NewMemoryBackend("cookie"),
	}
	f.store = tokenstore.New(discardLogger(), f.primary, f.cookies)
	f.ctrl = NewController(f.id, f.store, WithLogger(discardLogger()))

	ch, cancel := f.ctrl.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for s := range ch {
			checkInvariant(t, s)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f
}

func checkInvariant(t *testing.T, s State) {
	t.Helper()
	if (s.Status == StatusAuthenticated) != (s.User != nil) {
		t.Errorf("status %s with user=%v", s.Status, s.User != nil)
	}
	if s.Status == StatusPendingValidation && (s.User != nil || !s.HasTokens()) {
		t.Errorf("pending with user=%v tokens=%v", s.User != nil, s.HasTokens())
	}
	if s.Company != nil && s.User == nil {
		t.Errorf("company without user")
	}
}

var (
	pairA = tokenstore.Pair{AccessToken: "access-a", RefreshToken: "refresh-a"}
	pairB = tokenstore.Pair{AccessToken: "access-b", RefreshToken: "refresh-b"}
)

func managerResult(tokens tokenstore.Pair) identity.AuthResult {
	return identity.AuthResult{
		User:   &identity.User{ID: "u1", Email: "a@b.com", Name: "Ada", Role: "manager", CompanyID: "c1"},
		Tokens: tokens,
	}
}
