package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"sitehost/backend/internal/models"

	"github.com/go-chi/jwtauth/v5"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "s3cret-pass" {
		t.Fatalf("hash must not equal the password")
	}
	if err := CheckPassword(hash, "s3cret-pass"); err != nil {
		t.Fatalf("expected match: %v", err)
	}
	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected mismatch")
	}
}

func TestIssueAndParse(t *testing.T) {
	svc := New([]byte("test-secret"), WithTTL(time.Hour))
	token, err := svc.IssueToken(models.User{ID: "u1", Username: "alice", Subdomain: "brave-otter7-app", Role: models.RoleAdmin})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "u1" || claims.Username != "alice" || claims.Subdomain != "brave-otter7-app" || !claims.IsAdmin() {
		t.Fatalf("claims = %+v", claims)
	}
	if until := time.Until(claims.ExpiresAt); until > time.Hour || until < 58*time.Minute {
		t.Fatalf("expiry %v not about an hour away", until)
	}
	if _, err := New([]byte("other-secret")).Parse(token); err == nil {
		t.Fatalf("expected signature failure with another secret")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := New([]byte("test-secret"))
	svc.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	token, err := svc.IssueToken(models.User{ID: "u1", Role: models.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.Parse(token); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestFromContextThroughVerifier(t *testing.T) {
	svc := New([]byte("test-secret"))
	token, err := svc.IssueToken(models.User{ID: "u2", Username: "bob", Role: models.RoleUser})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	var got Claims
	h := jwtauth.Verifier(svc.TokenAuth())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, err = FromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if err != nil {
		t.Fatalf("from context: %v", err)
	}
	if got.UserID != "u2" || got.IsAdmin() {
		t.Fatalf("claims = %+v", got)
	}
	if _, err := FromContext(context.Background()); err == nil {
		t.Fatalf("expected error without a token")
	}
}
