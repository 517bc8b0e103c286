package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sitehost/backend/internal/models"
	"sitehost/backend/internal/namegen"
)

const conflictRetries = 3

// Store serialises registry mutations over a pluggable backend and keeps auxiliary
// state (login attempts) as JSON files under the data dir.
type Store struct {
	dataDir string
	backend Backend
	policy  SlugPolicy

	loginWindow time.Duration

	regMu sync.Mutex
	mu    sync.RWMutex
}

// Option customises a Store.
type Option func(*Store)

// WithBackend replaces the default file backend.
func WithBackend(b Backend) Option {
	return func(s *Store) {
		if b != nil {
			s.backend = b
		}
	}
}

// WithSlugPolicy sets the slug uniqueness policy.
func WithSlugPolicy(p SlugPolicy) Option {
	return func(s *Store) {
		if p != "" {
			s.policy = p
		}
	}
}

// New creates a store rooted at dataDir. Without WithBackend the registry lives in a JSON file.
func New(dataDir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	s := &Store{dataDir: dataDir, policy: SlugGlobal}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend == nil {
		s.backend = NewFileBackend(dataDir)
	}
	return s, nil
}

// DataDir returns the root directory for on-disk state.
func (s *Store) DataDir() string {
	return s.dataDir
}

// Policy returns the slug policy.
func (s *Store) Policy() SlugPolicy {
	return s.policy
}

// Snapshot loads the current registry. Callers get their own copy.
func (s *Store) Snapshot(ctx context.Context) (*Registry, error) {
	reg, err := s.backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	reg.setPolicy(s.policy)
	reg.reindex()
	return reg, nil
}

// Modify runs fn against a freshly loaded registry inside the store's critical section and
// persists the result when fn reports a change. Nothing is kept in memory between calls, so a
// failed save leaves no partial state behind.
func (s *Store) Modify(ctx context.Context, fn func(*Registry) (bool, error)) error {
	s.regMu.Lock()
	defer s.regMu.Unlock()

	var err error
	for attempt := 0; attempt < conflictRetries; attempt++ {
		err = s.modifyOnce(ctx, fn)
		if !errors.Is(err, ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Store) modifyOnce(ctx context.Context, fn func(*Registry) (bool, error)) error {
	reg, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	changed, err := fn(reg)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := s.backend.Save(ctx, reg); err != nil {
		if errors.Is(err, ErrConflict) {
			return err
		}
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

// IsAvailable is the advisory availability check for a name in scope. userID only
// matters for slugs.
func (s *Store) IsAvailable(ctx context.Context, name string, scope namegen.Scope, userID string) (bool, error) {
	reg, err := s.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	switch scope {
	case namegen.ScopeSlug:
		return reg.IsSlugAvailable(userID, name), nil
	case namegen.ScopeUsername:
		_, taken := reg.UserByLogin(name)
		return !taken, nil
	default:
		return reg.IsSubdomainAvailable(name), nil
	}
}

// RecordVisit increments the visit counter of a site.
func (s *Store) RecordVisit(ctx context.Context, siteID string) (int64, error) {
	var visits int64
	err := s.Modify(ctx, func(reg *Registry) (bool, error) {
		v, err := reg.IncrementVisits(siteID)
		if err != nil {
			return false, err
		}
		visits = v
		return true, nil
	})
	return visits, err
}

// GetUserByID returns a user by id.
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	reg, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	u, ok := reg.UserByID(id)
	if !ok {
		return nil, models.ErrNotFound
	}
	return &u, nil
}

// GetUsers returns every user.
func (s *Store) GetUsers(ctx context.Context) ([]models.User, error) {
	reg, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return reg.Users, nil
}

func (s *Store) loginAttemptsFile() string {
	return filepath.Join(s.dataDir, "auth", "login_attempts.json")
}

func readJSON(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func writeJSONAtomic(path string, in interface{}) error {
	tmp := fmt.Sprintf("%s.tmp-%d", path, time.Now().UnixNano())
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
