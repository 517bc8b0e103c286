package ssl

import (
	"sync"
	"time"

	"github.com/go-acme/lego/v4/challenge"
)

const challengeTTL = 20 * time.Minute

type pendingChallenge struct {
	domain  string
	keyAuth string
	expires time.Time
}

// ChallengeStore answers ACME http-01 challenges from memory.
// TODO: keep pending challenges in the registry backend so every process behind the
// same domains can answer them when running against postgres.
type ChallengeStore struct {
	mu      sync.Mutex
	pending map[string]pendingChallenge
	now     func() time.Time
}

var _ challenge.Provider = (*ChallengeStore)(nil)

// NewChallengeStore returns an empty store.
func NewChallengeStore() *ChallengeStore {
	return &ChallengeStore{pending: make(map[string]pendingChallenge), now: time.Now}
}

// Present implements challenge.Provider.
func (c *ChallengeStore) Present(domain, token, keyAuth string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for t, p := range c.pending {
		if !p.expires.After(now) {
			delete(c.pending, t)
		}
	}
	c.pending[token] = pendingChallenge{domain: domain, keyAuth: keyAuth, expires: now.Add(challengeTTL)}
	return nil
}

// CleanUp implements challenge.Provider.
func (c *ChallengeStore) CleanUp(domain, token, keyAuth string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, token)
	return nil
}

// Lookup returns the key authorization for token.
func (c *ChallengeStore) Lookup(token string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[token]
	if !ok || !p.expires.After(c.now()) {
		return "", false
	}
	return p.keyAuth, true
}
