package tokenstore

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUnavailable is returned by a backend that cannot be used in the current environment.
var ErrUnavailable = errors.New("token backend unavailable")

// Backend is one physical store for token values.
//
// Get returns ok=false (and a nil error) for a missing or expired key.
// ttl is a hint: key-value backends keep values until deleted, the cookie backend expires them.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryBackend keeps values in process memory. It can be switched off to simulate
// storage that is disabled or unreachable.
type MemoryBackend struct {
	name string

	mu     sync.Mutex
	values map[string]string
	fail   error
}

// NewMemoryBackend constructs an empty MemoryBackend.
func NewMemoryBackend(name string) *MemoryBackend {
	if name == "" {
		name = "memory"
	}
	return &MemoryBackend{name: name, values: make(map[string]string)}
}

func (m *MemoryBackend) Name() string { return m.name }

// SetUnavailable makes every later call fail with err (nil restores the backend).
func (m *MemoryBackend) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MemoryBackend) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", false, m.fail
	}
	v, ok := m.values[key]
	return v, ok && v != "", nil
}

func (m *MemoryBackend) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.values[key] = value
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	delete(m.values, key)
	return nil
}
