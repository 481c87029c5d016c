package tokenstore

import (
	"context"
	"log/slog"

	"crm/cmd/internal/metrics"
)

// Store persists the token pair to an ordered list of backends.
type Store struct {
	log      *slog.Logger
	backends []Backend
}

// New builds a Store. Backends are ranked in the given order (primary first); nil entries are skipped.
func New(log *slog.Logger, backends ...Backend) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{log: log}
	for _, b := range backends {
		if b != nil {
			s.backends = append(s.backends, b)
		}
	}
	return s
}

// Backends returns backend names in read order.
func (s *Store) Backends() []string {
	out := make([]string, 0, len(s.backends))
	for _, b := range s.backends {
		out = append(out, b.Name())
	}
	return out
}

// Save writes the pair to every backend. Failures are logged and counted per backend; a failure in
// one backend never prevents writing the others.
func (s *Store) Save(ctx context.Context, p Pair) {
	if !p.Complete() {
		s.log.Warn("tokenstore.save.skip", "reason", "incomplete_pair")
		return
	}
	for _, b := range s.backends {
		if err := b.Set(ctx, KeyAccessToken, p.AccessToken, AccessCookieTTL); err != nil {
			s.fail(b, "save", KeyAccessToken, err)
			continue
		}
		if err := b.Set(ctx, KeyRefreshToken, p.RefreshToken, RefreshCookieTTL); err != nil {
			s.fail(b, "save", KeyRefreshToken, err)
		}
	}
}

// Load returns the first complete pair found walking backends in rank order.
// A partial pair in a preferred backend loses to a complete pair in a later one.
func (s *Store) Load(ctx context.Context) (Pair, bool) {
	for _, b := range s.backends {
		access, okA, err := b.Get(ctx, KeyAccessToken)
		if err != nil {
			s.fail(b, "load", KeyAccessToken, err)
			continue
		}
		refresh, okR, err := b.Get(ctx, KeyRefreshToken)
		if err != nil {
			s.fail(b, "load", KeyRefreshToken, err)
			continue
		}
		if okA && okR {
			return Pair{AccessToken: access, RefreshToken: refresh}, true
		}
		if okA || okR {
			s.log.Debug("tokenstore.load.partial", "backend", b.Name(), "access", okA, "refresh", okR)
		}
	}
	return Pair{}, false
}

// Clear removes both tokens from every backend. Safe to call on an empty store.
func (s *Store) Clear(ctx context.Context) {
	for _, b := range s.backends {
		for _, key := range []string{KeyAccessToken, KeyRefreshToken} {
			if err := b.Delete(ctx, key); err != nil {
				s.fail(b, "clear", key, err)
			}
		}
	}
}

func (s *Store) fail(b Backend, op, key string, err error) {
	metrics.RecordBackendFailure(b.Name(), op)
	s.log.Warn("tokenstore."+op+".fail", "backend", b.Name(), "key", key, "err", err)
}
