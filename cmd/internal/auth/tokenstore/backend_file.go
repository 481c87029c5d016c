package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileBackend is the primary key-value backend: one JSON object per profile on local disk.
// Values do not expire; ttl is ignored.
type FileBackend struct {
	path string
	mu   sync.Mutex
}

// NewFileBackend returns a backend persisting to path. The parent directory is created lazily.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	kv, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := kv[key]
	return v, ok && v != "", nil
}

func (f *FileBackend) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	kv, err := f.read()
	if err != nil {
		return err
	}
	kv[key] = value
	return f.write(kv)
}

func (f *FileBackend) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	kv, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := kv[key]; !ok {
		return nil
	}
	delete(kv, key)
	return f.write(kv)
}

func (f *FileBackend) read() (map[string]string, error) {
	if f.path == "" {
		return nil, ErrUnavailable
	}
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	kv := map[string]string{}
	if len(b) == 0 {
		return kv, nil
	}
	if err := json.Unmarshal(b, &kv); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return kv, nil
}

func (f *FileBackend) write(kv map[string]string) error {
	if f.path == "" {
		return ErrUnavailable
	}
	return writeFileAtomic(f.path, kv)
}

// writeFileAtomic writes v as JSON next to path and renames it into place (0600).
func writeFileAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tokens-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
