package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"sitehost/backend/internal/models"
)

// ErrConflict indicates another writer saved the registry since it was loaded.
var ErrConflict = errors.New("registry version conflict")

// Backend persists the registry document.
type Backend interface {
	Load(ctx context.Context) (*Registry, error)
	Save(ctx context.Context, reg *Registry) error
}

// FileBackend keeps the registry as a JSON array of users on local disk.
type FileBackend struct {
	path string
	mu   sync.RWMutex
}

// NewFileBackend stores the registry under dataDir/users/users.json.
func NewFileBackend(dataDir string) *FileBackend {
	return &FileBackend{path: filepath.Join(dataDir, "users", "users.json")}
}

// Path returns the registry file location.
func (b *FileBackend) Path() string {
	return b.path
}

// Load reads the registry. A missing file is an empty registry.
func (b *FileBackend) Load(ctx context.Context) (*Registry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, err := os.Stat(b.path); err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(nil, ""), nil
		}
		return nil, err
	}
	var users []models.User
	if err := readJSON(b.path, &users); err != nil {
		return nil, err
	}
	return NewRegistry(users, ""), nil
}

// Save writes the registry atomically.
func (b *FileBackend) Save(ctx context.Context, reg *Registry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return writeJSONAtomic(b.path, reg.Users)
}

// MemoryBackend holds the registry in process memory.
type MemoryBackend struct {
	mu       sync.Mutex
	reg      *Registry
	failSave error
	conflict func(*Registry)
	saves    int
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{reg: NewRegistry(nil, "")}
}

// Load returns a copy of the stored registry.
func (b *MemoryBackend) Load(ctx context.Context) (*Registry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reg.Clone(), nil
}

// Save replaces the stored registry with a copy of reg.
func (b *MemoryBackend) Save(ctx context.Context, reg *Registry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failSave != nil {
		return b.failSave
	}
	if fn := b.conflict; fn != nil {
		b.conflict = nil
		fn(b.reg)
		return ErrConflict
	}
	b.saves++
	b.reg = reg.Clone()
	return nil
}

// SetFailSave toggles save failures.
func (b *MemoryBackend) SetFailSave(err error) {
	b.mu.Lock()
	b.failSave = err
	b.mu.Unlock()
}

// InjectConflict makes the next save apply fn to the stored registry, the way a concurrent
// writer would, and fail with ErrConflict.
func (b *MemoryBackend) InjectConflict(fn func(*Registry)) {
	b.mu.Lock()
	b.conflict = fn
	b.mu.Unlock()
}

// Saves reports how many saves succeeded.
func (b *MemoryBackend) Saves() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves
}
