package auth

import (
	"context"
	"errors"
	"time"

	"sitehost/backend/internal/models"

	"github.com/go-chi/jwtauth/v5"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// DefaultTokenTTL applies when no lifetime is configured.
const DefaultTokenTTL = 24 * time.Hour

// ErrNoSubject is returned for tokens that verify but name no user.
var ErrNoSubject = errors.New("token has no subject")

// Claims is what a session token says about its holder.
type Claims struct {
	UserID    string
	Username  string
	Subdomain string
	Role      models.UserRole
	ExpiresAt time.Time
}

// IsAdmin reports whether the holder may use the admin routes.
func (c Claims) IsAdmin() bool {
	return c.Role == models.RoleAdmin
}

// Service issues and verifies HS256 session tokens.
type Service struct {
	tokenAuth *jwtauth.JWTAuth
	ttl       time.Duration
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTTL sets the token lifetime. Non-positive values keep the default.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// New creates a Service signing with secret.
func New(secret []byte, opts ...Option) *Service {
	s := &Service{
		tokenAuth: jwtauth.New("HS256", secret, nil),
		ttl:       DefaultTokenTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HashPassword returns a bcrypt hash of the password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a bcrypt hash with a clear password.
func CheckPassword(hash string, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// IssueToken signs a session token for user.
func (s *Service) IssueToken(user models.User) (string, error) {
	now := s.now()
	registered := jwt.RegisteredClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	_, signed, err := s.tokenAuth.Encode(map[string]interface{}{
		"sub":       registered.Subject,
		"iat":       registered.IssuedAt.Unix(),
		"exp":       registered.ExpiresAt.Unix(),
		"role":      string(user.Role),
		"username":  user.Username,
		"subdomain": user.Subdomain,
	})
	return signed, err
}

// Parse verifies a raw token and returns its claims.
func (s *Service) Parse(raw string) (Claims, error) {
	token, err := jwtauth.VerifyToken(s.tokenAuth, raw)
	if err != nil {
		return Claims{}, err
	}
	return claimsFrom(token.Subject(), token.Expiration(), token.PrivateClaims())
}

// FromContext reads the claims jwtauth.Verifier placed on ctx.
func FromContext(ctx context.Context) (Claims, error) {
	token, raw, err := jwtauth.FromContext(ctx)
	if err != nil {
		return Claims{}, err
	}
	if token == nil {
		return Claims{}, jwtauth.ErrNoTokenFound
	}
	return claimsFrom(token.Subject(), token.Expiration(), raw)
}

func claimsFrom(sub string, exp time.Time, private map[string]interface{}) (Claims, error) {
	if sub == "" {
		return Claims{}, ErrNoSubject
	}
	c := Claims{UserID: sub, ExpiresAt: exp}
	if v, ok := private["role"].(string); ok {
		c.Role = models.UserRole(v)
	}
	c.Username, _ = private["username"].(string)
	c.Subdomain, _ = private["subdomain"].(string)
	return c, nil
}

// TokenAuth exposes the underlying jwtauth instance for middleware use.
func (s *Service) TokenAuth() *jwtauth.JWTAuth {
	return s.tokenAuth
}
