// Package testutils provides an in-memory remote store for exercising the
// pipeline without a live backend.
package testutils

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/RyanZurrin/CNN-Diffusion-MRIBrain-Segmentation-HCP/remote"
)

// MemStore implements remote.Store over a map. Keys follow the same
// slash-separated convention as the real backends; a prefix query matches a
// key exactly or any key under it.
type MemStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	versions map[string]int

	// Failure injection, keyed by exact key or prefix.
	ExistsErrs map[string]error
	PullErrs   map[string]error
	PushErrs   map[string]error

	// Unconditional makes PutConditional behave like an FTP backend.
	Unconditional bool
	// RejectPuts makes the next N conditional writes lose the race.
	RejectPuts int

	Pulled []string // remote keys pulled, in call order
	Pushed []string // remote keys pushed, in call order
}

func NewMemStore() *MemStore {
	return &MemStore{
		objects:  make(map[string][]byte),
		versions: make(map[string]int),
	}
}

// Seed places an object directly into the store.
func (m *MemStore) Seed(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.versions[key]++
}

// Keys returns every stored key in sorted order.
func (m *MemStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether an exact key is stored.
func (m *MemStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *MemStore) Exists(ctx context.Context, key string) (remote.Existence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := lookupErr(m.ExistsErrs, key); err != nil {
		return remote.Absent, err
	}
	for k := range m.objects {
		if k == key || strings.HasPrefix(k, key+"/") {
			return remote.Present, nil
		}
	}
	return remote.Absent, nil
}

func (m *MemStore) Pull(ctx context.Context, remoteKey, localDir, include string, dryRun bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := lookupErr(m.PullErrs, remoteKey); err != nil {
		return err
	}
	m.Pulled = append(m.Pulled, remoteKey)
	if dryRun {
		return nil
	}

	prefix := strings.TrimSuffix(remoteKey, "/") + "/"
	for k, data := range m.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rel := strings.TrimPrefix(k, prefix)
		if include != "" && !strings.Contains(path.Base(rel), include) {
			continue
		}
		local := filepath.Join(localDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(local, data, 0644); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemStore) Push(ctx context.Context, localDir, remoteKey, include string, move, dryRun bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := lookupErr(m.PushErrs, remoteKey); err != nil {
		return err
	}
	m.Pushed = append(m.Pushed, remoteKey)
	if dryRun {
		return nil
	}

	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if include != "" && !strings.Contains(info.Name(), include) {
			return nil
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		key := path.Join(remoteKey, filepath.ToSlash(rel))
		m.objects[key] = data
		m.versions[key]++
		if move {
			return os.Remove(p)
		}
		return nil
	})
}

func (m *MemStore) Get(ctx context.Context, key string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", remote.ErrNotFound, key)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, m.version(key), nil
}

func (m *MemStore) Put(ctx context.Context, key string, data []byte, dryRun bool) error {
	if dryRun {
		return nil
	}
	m.Seed(key, data)
	return nil
}

func (m *MemStore) PutConditional(ctx context.Context, key string, data []byte, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Unconditional {
		return remote.ErrConditionalUnsupported
	}
	if m.RejectPuts > 0 {
		m.RejectPuts--
		return remote.ErrPreconditionFailed
	}
	if version != m.version(key) {
		return remote.ErrPreconditionFailed
	}
	m.objects[key] = data
	m.versions[key]++
	return nil
}

func (m *MemStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemStore) URI(key string) string {
	return "mem://" + key
}

func (m *MemStore) Close() error {
	return nil
}

// version renders the current version tag for key, "" when the key is absent.
func (m *MemStore) version(key string) string {
	v, ok := m.versions[key]
	if !ok {
		return ""
	}
	return fmt.Sprintf("v%d", v)
}

func lookupErr(errs map[string]error, key string) error {
	for prefix, err := range errs {
		if key == prefix || strings.HasPrefix(key, prefix) {
			return err
		}
	}
	return nil
}
