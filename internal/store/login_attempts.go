package store

import (
	"os"
	"time"

	"sitehost/backend/internal/models"
)

// LockPolicy returns how long a key stays locked after the given number of failures.
// A zero duration means no lock.
type LockPolicy func(failures int) time.Duration

// WithLoginWindow forgets failures older than window once their lock has lapsed.
// A zero window keeps counting until a successful login resets the key.
func WithLoginWindow(window time.Duration) Option {
	return func(s *Store) {
		s.loginWindow = window
	}
}

// GetLoginAttempt returns the failure record for key, if any.
func (s *Store) GetLoginAttempt(key string) (models.LoginAttempt, bool, error) {
	if key == "" {
		return models.LoginAttempt{}, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	attempts, err := s.loadLoginAttempts()
	if err != nil {
		return models.LoginAttempt{}, false, err
	}
	attempt, ok := attempts[key]
	return attempt, ok, nil
}

// RecordLoginFailure counts a failed login for key and applies policy. Stale records for
// other keys are dropped in the same write.
func (s *Store) RecordLoginFailure(key string, now time.Time, policy LockPolicy) (models.LoginAttempt, error) {
	var out models.LoginAttempt
	err := s.modifyLoginAttempts(func(attempts map[string]models.LoginAttempt) bool {
		for k, a := range attempts {
			if k != key && s.stale(a, now) {
				delete(attempts, k)
			}
		}
		attempt := attempts[key]
		if s.stale(attempt, now) {
			attempt = models.LoginAttempt{}
		}
		attempt.Failures++
		attempt.LastFailure = now
		if policy != nil {
			if d := policy(attempt.Failures); d > 0 {
				attempt.LockedUntil = now.Add(d)
			}
		}
		attempts[key] = attempt
		out = attempt
		return true
	})
	return out, err
}

// ResetLoginAttempts forgets the given keys, typically after a successful login.
func (s *Store) ResetLoginAttempts(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.modifyLoginAttempts(func(attempts map[string]models.LoginAttempt) bool {
		changed := false
		for _, key := range keys {
			if _, ok := attempts[key]; ok {
				delete(attempts, key)
				changed = true
			}
		}
		return changed
	})
}

func (s *Store) stale(a models.LoginAttempt, now time.Time) bool {
	if s.loginWindow <= 0 || a.Failures == 0 || a.Locked(now) {
		return false
	}
	return now.Sub(a.LastFailure) > s.loginWindow
}

func (s *Store) modifyLoginAttempts(fn func(map[string]models.LoginAttempt) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempts, err := s.loadLoginAttempts()
	if err != nil {
		return err
	}
	if !fn(attempts) {
		return nil
	}
	if len(attempts) == 0 {
		if err := os.Remove(s.loginAttemptsFile()); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return writeJSONAtomic(s.loginAttemptsFile(), attempts)
}

func (s *Store) loadLoginAttempts() (map[string]models.LoginAttempt, error) {
	attempts := make(map[string]models.LoginAttempt)
	if err := readJSON(s.loginAttemptsFile(), &attempts); err != nil {
		if os.IsNotExist(err) {
			return attempts, nil
		}
		return nil, err
	}
	if attempts == nil {
		attempts = make(map[string]models.LoginAttempt)
	}
	return attempts, nil
}
