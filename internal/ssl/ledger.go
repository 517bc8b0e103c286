package ssl

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// issuanceLimits mirrors the CA's rolling-window order limits.
type issuanceLimits struct {
	Total     int
	PerDomain int
	Window    time.Duration
}

var defaultLimits = issuanceLimits{Total: 50, PerDomain: 5, Window: 7 * 24 * time.Hour}

type issuance struct {
	Domain string    `json:"domain"`
	At     time.Time `json:"at"`
}

// issuanceLedger records certificate orders so the reconciler never exceeds the CA limits.
type issuanceLedger struct {
	path string
	mu   sync.Mutex
}

func newIssuanceLedger(dataDir string) *issuanceLedger {
	return &issuanceLedger{path: filepath.Join(dataDir, "acme", "issuance.json")}
}

// reserve books one order for domain. When a limit is hit it returns false and the
// time the oldest blocking entry leaves the window.
func (l *issuanceLedger) reserve(domain string, limits issuanceLimits, now time.Time) (bool, time.Time, error) {
	if limits.Window <= 0 {
		return true, time.Time{}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.load()
	if err != nil {
		return false, time.Time{}, err
	}
	cutoff := now.Add(-limits.Window)
	kept := entries[:0]
	var forDomain []issuance
	for _, e := range entries {
		if !e.At.After(cutoff) {
			continue
		}
		kept = append(kept, e)
		if e.Domain == domain {
			forDomain = append(forDomain, e)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].At.Before(kept[j].At) })

	var next time.Time
	if limits.Total > 0 && len(kept) >= limits.Total {
		next = kept[len(kept)-limits.Total].At.Add(limits.Window)
	}
	if limits.PerDomain > 0 && len(forDomain) >= limits.PerDomain {
		sort.Slice(forDomain, func(i, j int) bool { return forDomain[i].At.Before(forDomain[j].At) })
		if at := forDomain[len(forDomain)-limits.PerDomain].At.Add(limits.Window); at.After(next) {
			next = at
		}
	}
	if !next.IsZero() {
		return false, next, l.save(kept)
	}
	kept = append(kept, issuance{Domain: domain, At: now.UTC()})
	return true, time.Time{}, l.save(kept)
}

func (l *issuanceLedger) load() ([]issuance, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []issuance
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *issuanceLedger) save(entries []issuance) error {
	if entries == nil {
		entries = []issuance{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(l.path, data, 0o600)
}
