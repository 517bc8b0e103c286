// Package namegen builds memorable subdomain and slug candidates and enforces their format rules.
package namegen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"sitehost/backend/internal/models"
)

const (
	// DefaultMaxAttempts bounds the suffix retry loop.
	DefaultMaxAttempts = 1000
	maxPrefixLen       = 20
	maxLabelLen        = 63
	maxNumber          = 9999
)

// Source yields uniform integers in [0, n).
type Source interface {
	Intn(n int) int
}

type cryptoSource struct{}

func (cryptoSource) Intn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic(fmt.Sprintf("namegen: crypto/rand failed: %v", err))
	}
	return int(v.Int64())
}

// Generator produces name candidates. It is safe for concurrent use when its Source is.
type Generator struct {
	src         Source
	maxAttempts int
}

// Option customises a Generator.
type Option func(*Generator)

// WithSource injects the randomness source.
func WithSource(src Source) Option {
	return func(g *Generator) {
		if src != nil {
			g.src = src
		}
	}
}

// WithMaxAttempts overrides the retry bound.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// New returns a generator backed by crypto/rand.
func New(opts ...Option) *Generator {
	g := &Generator{src: cryptoSource{}, maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// MaxAttempts returns the retry bound.
func (g *Generator) MaxAttempts() int {
	return g.maxAttempts
}

// Base returns a random stem for seed: prefix-adjectivenounN. The extension is not included.
func (g *Generator) Base(seed string) string {
	adj := adjectives[g.src.Intn(len(adjectives))]
	noun := nouns[g.src.Intn(len(nouns))]
	n := g.src.Intn(maxNumber) + 1
	word := adj + noun + strconv.Itoa(n)
	if prefix := Prefix(seed); prefix != "" {
		return prefix + "-" + word
	}
	return word
}

// Candidate returns a full random name for scope. Subdomains carry the extension fragment.
func (g *Generator) Candidate(seed string, scope Scope, extension string) string {
	if scope != ScopeSubdomain {
		extension = ""
	}
	return WithSuffix(g.Base(seed), 0, extension)
}

// Pick draws one random base and walks the numeric suffixes until available accepts a name.
// It returns the chosen name and the number of candidates tried.
func (g *Generator) Pick(seed string, scope Scope, extension string, available func(string) bool) (string, int, error) {
	if scope != ScopeSubdomain {
		extension = ""
	}
	return g.PickFrom(g.Base(seed), scope, extension, available)
}

// PickFrom is Pick with a caller-supplied base.
func (g *Generator) PickFrom(base string, scope Scope, extension string, available func(string) bool) (string, int, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		name := WithSuffix(base, attempt, extension)
		if err := Validate(name, scope); err != nil {
			if attempt == 0 {
				return "", 1, err
			}
			continue
		}
		if available(name) {
			return name, attempt + 1, nil
		}
	}
	return "", g.maxAttempts, fmt.Errorf("%w after %d attempts", models.ErrGenerationExhausted, g.maxAttempts)
}

// WithSuffix appends -attempt to base (for attempt > 0) ahead of the extension fragment.
// A suffixed name is kept within the label limit by shortening base.
func WithSuffix(base string, attempt int, extension string) string {
	ext := ExtensionFragment(extension)
	if attempt == 0 {
		return base + ext
	}
	suffix := "-" + strconv.Itoa(attempt)
	if room := maxLabelLen - len(suffix) - len(ext); len(base) > room && room > 0 {
		base = strings.TrimRight(base[:room], "-")
	}
	return base + suffix + ext
}

// ExtensionFragment renders an extension such as ".app" as the label fragment "-app".
func ExtensionFragment(extension string) string {
	ext := strings.Trim(strings.ToLower(extension), ". ")
	if ext == "" {
		return ""
	}
	return "-" + strings.ReplaceAll(ext, ".", "-")
}

// Prefix keeps the lowercase letters and digits of seed, capped in length.
func Prefix(seed string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(seed) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == maxPrefixLen {
				break
			}
		}
	}
	return b.String()
}
