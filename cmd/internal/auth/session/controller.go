package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crm/cmd/internal/auth/identity"
	"crm/cmd/internal/auth/tokenstore"
	"crm/cmd/internal/metrics"

	"golang.org/x/sync/singleflight"
)

// Controller owns one session.
type Controller struct {
	id     identity.Client
	tokens *tokenstore.Store
	log    *slog.Logger
	now    func() time.Time
	forms  *formValidator

	me singleflight.Group

	mu       sync.Mutex
	pending  func()
	state    State
	inflight int
	epoch    uint64
	changed  chan struct{}
	subs     map[uint64]chan State
	nextSub  uint64

	// persistMu orders token store writes; it is taken while c.mu is held, never the reverse.
	persistMu sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock sets the time source used for token format checks and metrics.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController builds a Controller in the initial unauthenticated state.
func NewController(id identity.Client, tokens *tokenstore.Store, opts ...Option) *Controller {
	c := &Controller{
		id:      id,
		tokens:  tokens,
		log:     slog.Default(),
		now:     time.Now,
		forms:   newFormValidator(),
		changed: make(chan struct{}),
		subs:    make(map[uint64]chan State),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	if c.tokens == nil {
		c.tokens = tokenstore.New(c.log)
	}
	return c
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Busy reports whether any operation is in flight. Callers treat it as a soft lock.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

// Changed returns a channel closed at the next state transition.
func (c *Controller) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

// Subscribe delivers a snapshot on every transition, starting with the current one. Slow
// subscribers only see the latest snapshot. The returned cancel func is idempotent.
func (c *Controller) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (c *Controller) snapshotLocked() State {
	s := c.state.clone()
	s.Loading = c.inflight > 0
	return s
}

// publishLocked wakes waiters and pushes the new snapshot to subscribers.
func (c *Controller) publishLocked() {
	close(c.changed)
	c.changed = make(chan struct{})

	snap := c.snapshotLocked()
	for _, ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// attempt tracks one operation from pending to settlement.
type attempt struct {
	op    string
	epoch uint64
	start time.Time
}

// begin applies the pending transition.
func (c *Controller) begin(op string) attempt {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inflight++
	c.state.Err = nil
	c.publishLocked()
	return attempt{op: op, epoch: c.epoch, start: c.now()}
}

// settle applies the fulfilled (serr == nil) or rejected transition. apply runs only while the
// attempt's epoch is current; a stale attempt only releases its in-flight slot. It reports
// whether apply ran.
func (c *Controller) settle(a attempt, serr *Error, apply func(*State)) bool {
	c.mu.Lock()
	c.inflight--
	current := a.epoch == c.epoch
	if current {
		if apply != nil {
			apply(&c.state)
		}
		c.state.Err = serr
	}
	c.publishLocked()
	c.unlockAndPersist()

	result := "ok"
	switch {
	case !current:
		result = "stale"
	case serr != nil:
		result = serr.Kind.String()
	}
	metrics.RecordSessionOp(a.op, result, c.now().Sub(a.start).Seconds())

	switch {
	case !current:
		c.log.Info("session."+a.op+".stale", "epoch", a.epoch)
	case serr != nil:
		c.log.Warn("session."+a.op+".fail", "kind", serr.Kind.String(), "msg", serr.Message)
	default:
		c.log.Debug("session." + a.op + ".ok")
	}
	return current
}

// resetLocked returns the session to its initial shape and starts a new epoch.
func (c *Controller) resetLocked() {
	c.state = State{}
	c.epoch++
}

// setIdentity installs a user, company and token pair.
func setIdentity(s *State, user *User, company *Company, tokens tokenstore.Pair) {
	s.User = user
	s.Company = company
	s.Tokens = tokens
	s.Status = StatusAuthenticated
}

// saveLocked records a token store write to run once c.mu is released.
func (c *Controller) saveLocked(ctx context.Context, p tokenstore.Pair) {
	c.pending = func() { c.tokens.Save(ctx, p) }
}

// clearLocked records a token store clear to run once c.mu is released.
func (c *Controller) clearLocked(ctx context.Context) {
	c.pending = func() { c.tokens.Clear(ctx) }
}

// unlockAndPersist releases c.mu and performs the recorded store write, if any. persistMu is
// taken before c.mu is released so writes reach the store in transition order.
func (c *Controller) unlockAndPersist() {
	op := c.pending
	c.pending = nil
	if op == nil {
		c.mu.Unlock()
		return
	}
	c.persistMu.Lock()
	c.mu.Unlock()
	defer c.persistMu.Unlock()
	op()
}

// heldTokens returns the in-memory pair, falling back to the token store.
func (c *Controller) heldTokens(ctx context.Context) tokenstore.Pair {
	c.mu.Lock()
	p := c.state.Tokens
	c.mu.Unlock()
	if p.Complete() {
		return p
	}
	if stored, ok := c.tokens.Load(ctx); ok {
		return stored
	}
	return p
}
