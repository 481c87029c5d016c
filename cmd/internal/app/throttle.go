package app

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"crm/cmd/internal/auth/session"
)

// lockoutTier locks an account key for Duration after its Threshold-th recorded failure.
type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// defaultLockoutTiers are ordered most severe first.
var defaultLockoutTiers = []lockoutTier{
	{Threshold: 20, Duration: 2 * time.Hour},
	{Threshold: 10, Duration: 30 * time.Minute},
	{Threshold: 5, Duration: 5 * time.Minute},
}

// loginThrottle stops the console from replaying rejected credentials: a sliding window per
// client address and a progressive lockout per email. State is process-local.
type loginThrottle struct {
	mu  sync.Mutex
	now func() time.Time

	window    time.Duration
	windowMax int
	tiers     []lockoutTier
	retention time.Duration

	failures map[string][]time.Time
}

func newLoginThrottle(cfg Config) *loginThrottle {
	t := &loginThrottle{
		now:       time.Now,
		window:    cfg.LoginThrottleWindow,
		windowMax: cfg.LoginThrottleMax,
		retention: 24 * time.Hour,
		failures:  make(map[string][]time.Time),
	}
	if cfg.LoginLockout {
		t.tiers = defaultLockoutTiers
	}
	return t
}

func addrKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

func emailKey(email string) string {
	return "email:" + strings.ToLower(strings.TrimSpace(email))
}

// check reports whether a login for (addr, email) must be refused and for how long.
func (t *loginThrottle) check(addr, email string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()

	if t.windowMax > 0 && t.window > 0 {
		if blocked, retry := evaluateWindowThrottle(now, t.failures[addr], t.windowMax, t.window); blocked {
			return true, retry
		}
	}
	if len(t.tiers) > 0 && email != emailKey("") {
		if blocked, retry := evaluateProgressiveLockout(now, t.failures[email], t.tiers); blocked {
			return true, retry
		}
	}
	return false, 0
}

// fail records a rejected credential for both keys.
func (t *loginThrottle) fail(keys ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	cut := now.Add(-t.retention)

	for _, k := range keys {
		kept := []time.Time{now}
		for _, ts := range t.failures[k] {
			if ts.After(cut) {
				kept = append(kept, ts)
			}
		}
		t.failures[k] = kept
	}
}

func (t *loginThrottle) reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failures, key)
}

// evaluateWindowThrottle blocks once max failures fall inside the trailing window. The block
// lifts when the oldest of them leaves the window.
func evaluateWindowThrottle(now time.Time, failures []time.Time, max int, window time.Duration) (bool, time.Duration) {
	if max <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)

	var n int
	var oldest time.Time
	for _, ts := range failures {
		if ts.Before(cut) {
			continue
		}
		n++
		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}
	if n < max {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

// evaluateProgressiveLockout applies the most severe tier reached, counted from the latest failure.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	var latest time.Time
	for _, ts := range failures {
		if ts.After(latest) {
			latest = ts
		}
	}

	for _, tier := range tiers {
		if tier.Threshold <= 0 || len(failures) < tier.Threshold {
			continue
		}
		until := latest.Add(tier.Duration)
		if until.After(now) {
			return true, until.Sub(now)
		}
		return false, 0
	}
	return false, 0
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()+0.5), 10))
	}
	writeError(w, http.StatusTooManyRequests, session.KindRateLimited.String(), session.MsgRateLimited)
}

// countsAsRejection reports whether a login failure was the caller's credentials rather than
// the network or the Identity Service.
func countsAsRejection(err error) bool {
	switch session.KindOf(err) {
	case session.KindInvalidCredentials, session.KindAccountNotFound:
		return true
	default:
		return false
	}
}
