package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crm/cmd/internal/auth/identity"
	"crm/cmd/internal/auth/permission"
	"crm/cmd/internal/auth/tokenstore"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeAuth_NoStoredTokens(t *testing.T) {
	f := newFixture(t)

	s := f.ctrl.InitializeAuth(context.Background())
	assert.Equal(t, StatusUnauthenticated, s.Status)
	assert.False(t, s.IsAuthenticated())
	assert.Nil(t, s.User)
	assert.Zero(t, f.id.meCalls.Load())
}

func TestInitializeAuth_PendingValidation(t *testing.T) {
	f := newFixture(t)
	f.store.Save(context.Background(), pairA)

	s := f.ctrl.InitializeAuth(context.Background())
	assert.Equal(t, StatusPendingValidation, s.Status)
	assert.True(t, s.IsAuthenticated())
	assert.Nil(t, s.User)
	assert.Equal(t, pairA, s.Tokens)
	assert.Zero(t, f.id.meCalls.Load(), "initialization must not hit the network")
}

func TestInitializeAuth_FallsBackToCookies(t *testing.T) {
	f := newFixture(t)
	f.store.Save(context.Background(), pairA)
	f.primary.SetUnavailable(errors.New("storage disabled"))

	s := f.ctrl.InitializeAuth(context.Background())
	assert.Equal(t, StatusPendingValidation, s.Status)
	assert.Equal(t, pairA, s.Tokens)
}

func TestInitializeAuth_DropsExpiredJWTPair(t *testing.T) {
	f := newFixture(t)
	past := time.Now().Add(-time.Hour).Unix()
	mint := func(sub string) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub, "exp": past}).
			SignedString([]byte("k"))
		require.NoError(t, err)
		return tok
	}
	f.store.Save(context.Background(), tokenstore.Pair{AccessToken: mint("a"), RefreshToken: mint("r")})

	s := f.ctrl.InitializeAuth(context.Background())
	assert.Equal(t, StatusUnauthenticated, s.Status)
	assert.False(t, s.HasTokens())

	_, ok := f.store.Load(context.Background())
	assert.False(t, ok)
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	f.id.login = func(req identity.LoginRequest) (identity.AuthResult, error) {
		assert.Equal(t, "a@b.com", req.Email)
		res := managerResult(pairA)
		res.Company = &identity.Company{ID: "c1", Name: "Acme"}
		return res, nil
	}

	require.NoError(t, f.ctrl.Login(context.Background(), " a@b.com ", "secret"))

	s := f.ctrl.Snapshot()
	assert.Equal(t, StatusAuthenticated, s.Status)
	require.NotNil(t, s.User)
	assert.Equal(t, permission.RoleManager, s.User.Role)
	assert.Nil(t, s.Company, "login never sets company")
	assert.Equal(t, pairA, s.Tokens)
	assert.False(t, s.Loading)
	assert.Nil(t, s.Err)

	stored, ok := f.store.Load(context.Background())
	require.True(t, ok)
	assert.Equal(t, pairA, stored)
}

func TestLogin_EmailNotVerified(t *testing.T) {
	f := newFixture(t)
	f.id.login = func(identity.LoginRequest) (identity.AuthResult, error) {
		return identity.AuthResult{}, &identity.APIError{
			Op: "identity.Login", Status: 401, Message: "Please verify", Reason: "email_not_verified",
		}
	}

	err := f.ctrl.Login(context.Background(), "a@b.com", "bad")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmailNotVerified)

	s := f.ctrl.Snapshot()
	require.NotNil(t, s.Err)
	assert.Equal(t, KindEmailNotVerified, s.Err.Kind)
	assert.Equal(t, MsgEmailNotVerified, s.Err.Message)
	assert.False(t, s.IsAuthenticated())

	_, ok := f.store.Load(context.Background())
	assert.False(t, ok, "token store must stay untouched")
}

func TestLogin_FailureTaxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind Kind
		msg  string
	}{
		{"401", &identity.APIError{Status: 401, Message: "bad"}, KindInvalidCredentials, MsgInvalidCredentials},
		{"403", &identity.APIError{Status: 403, Message: "bad"}, KindInvalidCredentials, MsgInvalidCredentials},
		{"404", &identity.APIError{Status: 404, Message: "nope"}, KindAccountNotFound, MsgAccountNotFound},
		{"429", &identity.APIError{Status: 429, Message: "slow"}, KindRateLimited, MsgRateLimited},
		{"500 passthrough", &identity.APIError{Status: 500, Message: "database on fire"}, KindUnknown, "database on fire"},
		{"500 empty", &identity.APIError{Status: 500}, KindUnknown, MsgUnknown},
		{"timeout", &identity.TransportError{Kind: identity.ErrTimeout, Err: context.DeadlineExceeded}, KindTimeout, MsgTimeout},
		{"network", &identity.TransportError{Kind: identity.ErrNetwork, Err: errors.New("refused")}, KindNetwork, MsgNetwork},
		{"malformed", identity.ErrMalformedResponse, KindUnknown, MsgUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			f.id.login = func(identity.LoginRequest) (identity.AuthResult, error) {
				return identity.AuthResult{}, tc.err
			}

			err := f.ctrl.Login(context.Background(), "a@b.com", "pw")
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))

			s := f.ctrl.Snapshot()
			require.NotNil(t, s.Err)
			assert.Equal(t, tc.msg, s.Err.Message)
			assert.Equal(t, "login", s.Err.Op)
		})
	}
}

func TestLogin_MissingTokensIsFailure(t *testing.T) {
	f := newFixture(t)
	f.id.login = func(identity.LoginRequest) (identity.AuthResult, error) {
		return managerResult(tokenstore.Pair{AccessToken: "only-access"}), nil
	}

	err := f.ctrl.Login(context.Background(), "a@b.com", "pw")
	require.Error(t, err)
	assert.Equal(t, StatusUnauthenticated, f.ctrl.Snapshot().Status)
}

func TestLogin_ValidationBeforeNetwork(t *testing.T) {
	f := newFixture(t)

	err := f.ctrl.Login(context.Background(), "not-an-email", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Zero(t, f.id.loginCalls.Load())

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Fields, "email")
	assert.Contains(t, se.Fields, "password")
}

func TestRegister_Validation(t *testing.T) {
	base := Registration{Name: "Ada Lovelace", Email: "ada@example.com", Password: "longenough"}

	cases := []struct {
		name  string
		edit  func(*Registration)
		field string
	}{
		{"no variant", func(r *Registration) {}, "signupType"},
		{"both variants", func(r *Registration) {
			r.CreateCompany = &CreateCompany{Name: "Acme"}
			r.JoinCompany = &JoinCompany{CompanyID: "c1"}
		}, "signupType"},
		{"create without name", func(r *Registration) { r.CreateCompany = &CreateCompany{} }, "companyName"},
		{"create bad website", func(r *Registration) {
			r.CreateCompany = &CreateCompany{Name: "Acme", Website: "not a url"}
		}, "website"},
		{"create bad currency", func(r *Registration) {
			r.CreateCompany = &CreateCompany{Name: "Acme", Currency: "dollars"}
		}, "currency"},
		{"join without target", func(r *Registration) { r.JoinCompany = &JoinCompany{} }, "companyId"},
		{"short password", func(r *Registration) {
			r.Password = "short"
			r.JoinCompany = &JoinCompany{CompanyID: "c1"}
		}, "password"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			r := base
			tc.edit(&r)

			err := f.ctrl.Register(context.Background(), r)
			require.Error(t, err)

			var se *Error
			require.True(t, errors.As(err, &se))
			assert.Equal(t, KindValidationFailed, se.Kind)
			assert.Contains(t, se.Fields, tc.field)
			assert.Zero(t, f.id.signupCalls.Load())
			assert.Equal(t, se, f.ctrl.Snapshot().Err)
		})
	}
}

func TestRegister_InviteKeyWins(t *testing.T) {
	f := newFixture(t)
	f.id.signup = func(identity.SignupRequest) (identity.AuthResult, error) {
		return managerResult(pairA), nil
	}

	err := f.ctrl.Register(context.Background(), Registration{
		Name:        "Ada Lovelace",
		Email:       "ada@example.com",
		Password:    "longenough",
		JoinCompany: &JoinCompany{CompanyID: "c1", InviteKey: "INV-42"},
	})
	require.NoError(t, err)

	f.id.mu.Lock()
	got := f.id.lastSignup
	f.id.mu.Unlock()
	assert.Equal(t, identity.SignupJoinCompany, got.SignupType)
	assert.Equal(t, "INV-42", got.InviteKey)
	assert.Empty(t, got.CompanyID)
}

func TestRegister_CreateCompanySetsCompany(t *testing.T) {
	f := newFixture(t)
	f.id.signup = func(req identity.SignupRequest) (identity.AuthResult, error) {
		assert.Equal(t, identity.SignupCreateCompany, req.SignupType)
		assert.Equal(t, "Acme", req.CompanyName)
		assert.Equal(t, "USD", req.Currency)
		res := managerResult(pairA)
		res.User.Role = permission.RoleAdmin
		res.Company = &identity.Company{ID: "c1", Name: "Acme"}
		return res, nil
	}

	err := f.ctrl.Register(context.Background(), Registration{
		Name:          "Ada Lovelace",
		Email:         "ada@example.com",
		Password:      "longenough",
		CreateCompany: &CreateCompany{Name: "Acme", Currency: "usd", Timezone: "UTC"},
	})
	require.NoError(t, err)

	s := f.ctrl.Snapshot()
	assert.Equal(t, StatusAuthenticated, s.Status)
	require.NotNil(t, s.Company)
	assert.Equal(t, "Acme", s.Company.Name)
}

func loggedIn(t *testing.T, f *fixture) {
	t.Helper()
	f.id.login = func(identity.LoginRequest) (identity.AuthResult, error) {
		return managerResult(pairA), nil
	}
	require.NoError(t, f.ctrl.Login(context.Background(), "a@b.com", "pw"))
}

func TestLogout_ToleratesRemoteFailureAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	loggedIn(t, f)
	f.id.logout = func(string) error {
		return &identity.TransportError{Kind: identity.ErrNetwork, Err: errors.New("offline")}
	}

	require.NoError(t, f.ctrl.Logout(context.Background()))
	first := f.ctrl.Snapshot()

	require.NoError(t, f.ctrl.Logout(context.Background()))
	second := f.ctrl.Snapshot()

	assert.Equal(t, State{}, first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), f.id.logoutCalls.Load(), "second logout has no token to revoke")

	_, ok := f.store.Load(context.Background())
	assert.False(t, ok)
}

func TestRefreshToken_SuccessReplacesTokensOnly(t *testing.T) {
	f := newFixture(t)
	loggedIn(t, f)
	f.id.refresh = func(rt string) (tokenstore.Pair, error) {
		assert.Equal(t, pairA.RefreshToken, rt)
		return pairB, nil
	}

	require.NoError(t, f.ctrl.RefreshToken(context.Background()))

	s := f.ctrl.Snapshot()
	assert.Equal(t, pairB, s.Tokens)
	require.NotNil(t, s.User)
	assert.Equal(t, "u1", s.User.ID)

	stored, _ := f.store.Load(context.Background())
	assert.Equal(t, pairB, stored)
}

func TestRefreshToken_FailureResetsSession(t *testing.T) {
	f := newFixture(t)
	loggedIn(t, f)
	f.id.refresh = func(string) (tokenstore.Pair, error) {
		return tokenstore.Pair{}, &identity.APIError{Status: 401, Message: "expired"}
	}

	err := f.ctrl.RefreshToken(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)

	s := f.ctrl.Snapshot()
	assert.Nil(t, s.User)
	assert.Nil(t, s.Company)
	assert.False(t, s.HasTokens())
	assert.Equal(t, StatusUnauthenticated, s.Status)

	_, ok := f.store.Load(context.Background())
	assert.False(t, ok)
}

// A GetMe in flight when a refresh fails must not bring the session back.
func TestRefreshFailureWinsOverLateGetMe(t *testing.T) {
	f := newFixture(t)
	loggedIn(t, f)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.id.me = func(context.Context, string) (identity.AuthResult, error) {
		close(entered)
		<-release
		return managerResult(pairA), nil
	}
	f.id.refresh = func(string) (tokenstore.Pair, error) {
		return tokenstore.Pair{}, &identity.APIError{Status: 401}
	}

	meErr := make(chan error, 1)
	go func() { meErr <- f.ctrl.GetMe(context.Background()) }()
	<-entered

	require.Error(t, f.ctrl.RefreshToken(context.Background()))
	assert.True(t, f.ctrl.Busy(), "get_me is still in flight")

	close(release)
	err := <-meErr
	assert.ErrorIs(t, err, ErrSessionExpired)

	s := f.ctrl.Snapshot()
	assert.Nil(t, s.User)
	assert.False(t, s.HasTokens())
	assert.Equal(t, StatusUnauthenticated, s.Status)
	assert.False(t, s.Loading)
	require.NotNil(t, s.Err)
	assert.Equal(t, "refresh", s.Err.Op)

	_, ok := f.store.Load(context.Background())
	assert.False(t, ok)
}

func TestGetMe_ResolvesPendingSession(t *testing.T) {
	f := newFixture(t)
	f.store.Save(context.Background(), pairA)
	f.ctrl.InitializeAuth(context.Background())
	f.id.me = func(_ context.Context, access string) (identity.AuthResult, error) {
		assert.Equal(t, pairA.AccessToken, access)
		res := managerResult(tokenstore.Pair{})
		res.Company = &identity.Company{ID: "c1", Name: "Acme"}
		return res, nil
	}

	require.NoError(t, f.ctrl.GetMe(context.Background()))

	s := f.ctrl.Snapshot()
	assert.Equal(t, StatusAuthenticated, s.Status)
	assert.Equal(t, pairA, s.Tokens)
	require.NotNil(t, s.Company)
	assert.True(t, f.ctrl.MeetsMinimumRole(permission.RoleManager))
	assert.False(t, f.ctrl.MeetsMinimumRole(permission.RoleAdmin))
}

func TestGetMe_FailureKeepsTokens(t *testing.T) {
	f := newFixture(t)
	f.store.Save(context.Background(), pairA)
	f.ctrl.InitializeAuth(context.Background())
	f.id.me = func(context.Context, string) (identity.AuthResult, error) {
		return identity.AuthResult{}, &identity.APIError{Status: 401}
	}

	err := f.ctrl.GetMe(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)

	s := f.ctrl.Snapshot()
	assert.Equal(t, StatusUnauthenticated, s.Status)
	assert.Equal(t, pairA, s.Tokens)
	require.NotNil(t, s.Err)

	stored, ok := f.store.Load(context.Background())
	require.True(t, ok)
	assert.Equal(t, pairA, stored)
}

func TestGetMe_CollapsesConcurrentCalls(t *testing.T) {
	f := newFixture(t)
	f.store.Save(context.Background(), pairA)
	f.ctrl.InitializeAuth(context.Background())

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.id.me = func(context.Context, string) (identity.AuthResult, error) {
		once.Do(func() { close(entered) })
		<-release
		return managerResult(tokenstore.Pair{}), nil
	}

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.ctrl.GetMe(context.Background())
		}()
	}

	<-entered
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.id.meCalls.Load())
}

func TestGetMe_WithoutTokens(t *testing.T) {
	f := newFixture(t)

	err := f.ctrl.GetMe(context.Background())
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Zero(t, f.id.meCalls.Load())
}

func TestPasswordFlowsLeaveSessionAlone(t *testing.T) {
	f := newFixture(t)
	loggedIn(t, f)
	before := f.ctrl.Snapshot()

	msg, err := f.ctrl.ForgotPassword(context.Background(), "a@b.com")
	require.NoError(t, err)
	assert.NotEmpty(t, msg)

	msg, err = f.ctrl.ResetPassword(context.Background(), "reset-token", "new-password")
	require.NoError(t, err)
	assert.NotEmpty(t, msg)

	after := f.ctrl.Snapshot()
	assert.Equal(t, before.User, after.User)
	assert.Equal(t, before.Tokens, after.Tokens)

	_, err = f.ctrl.ResetPassword(context.Background(), "", "short")
	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Fields, "token")
	assert.Contains(t, se.Fields, "password")
	assert.Equal(t, before.User, f.ctrl.Snapshot().User)
}

func TestClearErrorAndClearAuth(t *testing.T) {
	f := newFixture(t)
	_ = f.ctrl.Login(context.Background(), "bad", "")
	require.NotNil(t, f.ctrl.Snapshot().Err)

	f.ctrl.ClearError()
	assert.Nil(t, f.ctrl.Snapshot().Err)

	loggedIn(t, f)
	f.ctrl.ClearAuth(context.Background())
	assert.Equal(t, State{}, f.ctrl.Snapshot())
	assert.Zero(t, f.id.logoutCalls.Load())

	_, ok := f.store.Load(context.Background())
	assert.False(t, ok)
}

func TestBusyWhileInFlight(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	f.id.login = func(identity.LoginRequest) (identity.AuthResult, error) {
		close(entered)
		<-release
		return managerResult(pairA), nil
	}

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Login(context.Background(), "a@b.com", "pw") }()

	<-entered
	assert.True(t, f.ctrl.Busy())
	assert.True(t, f.ctrl.Snapshot().Loading)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, f.ctrl.Busy())
}

func TestSubscribeDeliversLatest(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.ctrl.Subscribe()
	defer cancel()

	first := <-ch
	assert.Equal(t, StatusUnauthenticated, first.Status)

	loggedIn(t, f)

	deadline := time.After(time.Second)
	for {
		select {
		case s := <-ch:
			if s.Status == StatusAuthenticated && !s.Loading {
				cancel()
				cancel()
				return
			}
		case <-deadline:
			t.Fatal("no authenticated snapshot delivered")
		}
	}
}

func TestPermissionPredicatesFollowRole(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.ctrl.HasCapability(permission.ViewDashboard))

	loggedIn(t, f)
	assert.True(t, f.ctrl.HasCapability(permission.ViewReports))
	assert.True(t, f.ctrl.HasAnyCapability(permission.ManageUsers, permission.ViewTeam))
	assert.False(t, f.ctrl.HasAllCapabilities(permission.ManageUsers, permission.ViewTeam))
}

func TestListCompanies(t *testing.T) {
	f := newFixture(t)
	page, err := f.ctrl.ListCompanies(context.Background(), identity.CompanyQuery{Search: "x", Limit: 5})
	require.NoError(t, err)
	require.Len(t, page.Companies, 1)
	assert.Equal(t, 5, page.Limit)
	assert.False(t, f.ctrl.Busy())
}

func TestIncompleteIdentityResultsAreFailures(t *testing.T) {
	t.Run("login without user", func(t *testing.T) {
		f := newFixture(t)
		f.id.login = func(identity.LoginRequest) (identity.AuthResult, error) {
			return identity.AuthResult{Tokens: pairA}, nil
		}

		err := f.ctrl.Login(context.Background(), "a@b.com", "pw")
		assert.ErrorIs(t, err, ErrUnknown)
		assert.Equal(t, StatusUnauthenticated, f.ctrl.Snapshot().Status)
		_, ok := f.store.Load(context.Background())
		assert.False(t, ok)
	})

	t.Run("refresh with partial pair", func(t *testing.T) {
		f := newFixture(t)
		loggedIn(t, f)
		f.id.refresh = func(string) (tokenstore.Pair, error) {
			return tokenstore.Pair{AccessToken: "access-only"}, nil
		}

		err := f.ctrl.RefreshToken(context.Background())
		assert.ErrorIs(t, err, ErrUnknown)

		s := f.ctrl.Snapshot()
		assert.Equal(t, StatusUnauthenticated, s.Status)
		assert.False(t, s.HasTokens())
		_, ok := f.store.Load(context.Background())
		assert.False(t, ok)
	})

	t.Run("me without user", func(t *testing.T) {
		f := newFixture(t)
		f.store.Save(context.Background(), pairA)
		f.ctrl.InitializeAuth(context.Background())
		f.id.me = func(context.Context, string) (identity.AuthResult, error) {
			return identity.AuthResult{Tokens: pairB}, nil
		}

		err := f.ctrl.GetMe(context.Background())
		assert.ErrorIs(t, err, ErrUnknown)

		s := f.ctrl.Snapshot()
		assert.Equal(t, StatusUnauthenticated, s.Status)
		assert.Nil(t, s.User)
		assert.Equal(t, pairA, s.Tokens)
	})
}

// gatedBackend blocks writes until gate is closed.
type gatedBackend struct {
	*tokenstore.MemoryBackend
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.gate
	return g.MemoryBackend.Set(ctx, key, value, ttl)
}

func TestSlowTokenWriteDoesNotBlockReaders(t *testing.T) {
	backend := &gatedBackend{
		MemoryBackend: tokenstore.NewMemoryBackend("slow"),
		entered:       make(chan struct{}, 1),
		gate:          make(chan struct{}),
	}
	store := tokenstore.New(discardLogger(), backend)
	id := &fakeIdentity{login: func(identity.LoginRequest) (identity.AuthResult, error) {
		return managerResult(pairA), nil
	}}
	ctrl := NewController(id, store, WithLogger(discardLogger()))

	loginDone := make(chan error, 1)
	go func() { loginDone <- ctrl.Login(context.Background(), "a@b.com", "pw") }()

	select {
	case <-backend.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("login never reached the token store")
	}

	snap := make(chan State, 1)
	go func() { snap <- ctrl.Snapshot() }()
	select {
	case s := <-snap:
		assert.Equal(t, StatusAuthenticated, s.Status)
		assert.Equal(t, pairA, s.Tokens)
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked behind the token write")
	}

	close(backend.gate)
	require.NoError(t, <-loginDone)
	stored, ok := store.Load(context.Background())
	require.True(t, ok)
	assert.Equal(t, pairA, stored)
}
