package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crm/cmd/internal/auth/permission"
	"crm/cmd/internal/auth/session"
	"crm/cmd/internal/auth/tokenstore"
	"crm/cmd/internal/metrics"
)

// Session is the part of session.Controller a guard needs.
type Session interface {
	Snapshot() session.State
	Busy() bool
	Changed() <-chan struct{}
	GetMe(ctx context.Context) error
}

// TokenSource reads the persisted pair. *tokenstore.Store satisfies it.
type TokenSource interface {
	Load(ctx context.Context) (tokenstore.Pair, bool)
}

// State is a guard's position in its state machine.
type State int

const (
	StateIdle State = iota
	StateCheckingTokens
	StateWaitingForUser
	StateValidating
	StateAllowed
	StateDenied
)

func (s State) String() string {
	switch s {
	case StateCheckingTokens:
		return "checking_tokens"
	case StateWaitingForUser:
		return "waiting_for_user"
	case StateValidating:
		return "validating"
	case StateAllowed:
		return "allowed"
	case StateDenied:
		return "denied"
	default:
		return "idle"
	}
}

// Reason explains a denial.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNoSession        Reason = "no_session"
	ReasonSessionExpired   Reason = "session_expired"
	ReasonInsufficientRole Reason = "insufficient_role"
	ReasonCanceled         Reason = "canceled"
)

// User-visible notices.
const (
	NoticeSessionExpired   = "Your session has expired. Please sign in again."
	NoticeInsufficientRole = "You don't have permission to access this page."
)

const DefaultGrace = 100 * time.Millisecond

// Decision is the settled outcome of a guard.
type Decision struct {
	Allowed  bool
	Reason   Reason
	Redirect string
	Notice   string
}

// Options configures one mount.
type Options struct {
	// MinRole is the least privileged role allowed in; empty admits any authenticated user.
	MinRole permission.Role

	// Capabilities must all be held by the user's role.
	Capabilities []permission.Capability

	// Grace is waited before validating tokens that have no user yet.
	Grace time.Duration

	LoginPath   string
	LandingPath string

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Grace <= 0 {
		o.Grace = DefaultGrace
	}
	if o.LoginPath == "" {
		o.LoginPath = "/login"
	}
	if o.LandingPath == "" {
		o.LandingPath = "/dashboard"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Guard is one mount of a protected view.
type Guard struct {
	sess   Session
	tokens TokenSource
	opts   Options

	mu       sync.Mutex
	state    State
	decision Decision
	settled  chan struct{}
}

// New mounts a guard.
func New(sess Session, tokens TokenSource, opts Options) *Guard {
	return &Guard{
		sess:    sess,
		tokens:  tokens,
		opts:    opts.withDefaults(),
		settled: make(chan struct{}),
	}
}

// State returns the current state.
func (g *Guard) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Run resolves the guard. Only the first caller drives the state machine.
func (g *Guard) Run(ctx context.Context) Decision {
	if g.transition(StateIdle, StateCheckingTokens) {
		return g.drive(ctx)
	}

	select {
	case <-g.settled:
	case <-ctx.Done():
		return Decision{Reason: ReasonCanceled, Redirect: g.opts.LoginPath}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.decision
}

// transition moves from one state to the next and reports whether it was in from.
func (g *Guard) transition(from, to State) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != from {
		return false
	}
	g.state = to
	return true
}

func (g *Guard) drive(ctx context.Context) Decision {
	snap := g.sess.Snapshot()
	_, stored := g.tokens.Load(ctx)
	if !snap.HasTokens() && !stored {
		return g.deny(ReasonNoSession, g.opts.LoginPath, "")
	}
	if snap.User != nil {
		return g.checkRole(snap.User)
	}

	g.transition(StateCheckingTokens, StateWaitingForUser)

	// Another operation may be resolving the user already.
	for g.sess.Busy() {
		changed := g.sess.Changed()
		if !g.sess.Busy() {
			break
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return g.deny(ReasonCanceled, g.opts.LoginPath, "")
		}
	}

	snap = g.sess.Snapshot()
	if snap.User != nil {
		return g.checkRole(snap.User)
	}
	if !snap.HasTokens() {
		if _, ok := g.tokens.Load(ctx); !ok {
			return g.deny(ReasonNoSession, g.opts.LoginPath, "")
		}
	}

	t := time.NewTimer(g.opts.Grace)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return g.deny(ReasonCanceled, g.opts.LoginPath, "")
	}

	g.transition(StateWaitingForUser, StateValidating)
	if err := g.sess.GetMe(ctx); err != nil {
		g.opts.Logger.Info("guard.validate.fail", "kind", session.KindOf(err).String())
		return g.deny(ReasonSessionExpired, g.opts.LoginPath, NoticeSessionExpired)
	}

	snap = g.sess.Snapshot()
	if snap.User == nil {
		return g.deny(ReasonSessionExpired, g.opts.LoginPath, NoticeSessionExpired)
	}
	return g.checkRole(snap.User)
}

func (g *Guard) checkRole(u *session.User) Decision {
	if g.opts.MinRole != "" && !permission.MeetsMinimumRole(u.Role, g.opts.MinRole) {
		return g.deny(ReasonInsufficientRole, g.opts.LandingPath, NoticeInsufficientRole)
	}
	if len(g.opts.Capabilities) > 0 && !permission.HasAllCapabilities(u.Role, g.opts.Capabilities) {
		return g.deny(ReasonInsufficientRole, g.opts.LandingPath, NoticeInsufficientRole)
	}
	return g.settle(StateAllowed, Decision{Allowed: true})
}

func (g *Guard) deny(reason Reason, redirect, notice string) Decision {
	return g.settle(StateDenied, Decision{Reason: reason, Redirect: redirect, Notice: notice})
}

func (g *Guard) settle(to State, d Decision) Decision {
	g.mu.Lock()
	g.state = to
	g.decision = d
	close(g.settled)
	g.mu.Unlock()

	outcome := "allowed"
	if !d.Allowed {
		outcome = "denied"
		g.opts.Logger.Info("guard.denied", "reason", string(d.Reason), "redirect", d.Redirect)
	} else {
		g.opts.Logger.Debug("guard.allowed")
	}
	metrics.RecordGuardDecision(outcome, string(d.Reason))
	return d
}
