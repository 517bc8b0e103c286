package ssl

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"sitehost/backend/internal/models"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
)

// CertStore keeps issued certificates under DATA_DIR/certs/<domain>/ and serves them
// to the TLS listener.
type CertStore struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*tls.Certificate
}

type certMeta struct {
	CertURL       string `json:"cert_url"`
	CertStableURL string `json:"cert_stable_url"`
}

// NewCertStore returns a store rooted at dataDir/certs.
func NewCertStore(dataDir string) *CertStore {
	return &CertStore{dir: filepath.Join(dataDir, "certs"), cache: make(map[string]*tls.Certificate)}
}

func (c *CertStore) domainDir(domain string) (string, error) {
	domain = models.NormalizeHost(domain)
	if domain == "" || strings.ContainsAny(domain, `/\`) || strings.Contains(domain, "..") {
		return "", fmt.Errorf("certificate domain %q: %w", domain, models.ErrInvalidFormat)
	}
	return filepath.Join(c.dir, domain), nil
}

// Save writes the resource to disk and returns the parsed leaf certificate.
func (c *CertStore) Save(domain string, res *certificate.Resource) (*x509.Certificate, error) {
	if res == nil || len(res.Certificate) == 0 || len(res.PrivateKey) == 0 {
		return nil, errors.New("empty certificate resource")
	}
	chain, err := certcrypto.ParsePEMBundle(res.Certificate)
	if err != nil || len(chain) == 0 {
		return nil, fmt.Errorf("parse certificate chain: %w", err)
	}
	pair, err := tls.X509KeyPair(res.Certificate, res.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("certificate key pair: %w", err)
	}
	dir, err := c.domainDir(domain)
	if err != nil {
		return nil, err
	}
	issuer := res.IssuerCertificate
	if len(issuer) == 0 {
		issuer = res.Certificate
	}
	meta, err := json.Marshal(certMeta{CertURL: res.CertURL, CertStableURL: res.CertStableURL})
	if err != nil {
		return nil, err
	}
	files := []struct {
		name string
		data []byte
		perm os.FileMode
	}{
		{"cert.pem", res.Certificate, 0o644},
		{"key.pem", res.PrivateKey, 0o600},
		{"issuer.pem", issuer, 0o644},
		{"meta.json", meta, 0o644},
	}
	for _, f := range files {
		if err := writeFileAtomic(filepath.Join(dir, f.name), f.data, f.perm); err != nil {
			return nil, err
		}
	}
	pair.Leaf = chain[0]
	c.mu.Lock()
	c.cache[models.NormalizeHost(domain)] = &pair
	c.mu.Unlock()
	return chain[0], nil
}

// Resource reloads a stored certificate for renewal.
func (c *CertStore) Resource(domain string) (*certificate.Resource, error) {
	dir, err := c.domainDir(domain)
	if err != nil {
		return nil, err
	}
	cert, err := os.ReadFile(filepath.Join(dir, "cert.pem"))
	if err != nil {
		return nil, err
	}
	key, err := os.ReadFile(filepath.Join(dir, "key.pem"))
	if err != nil {
		return nil, err
	}
	res := &certificate.Resource{Domain: models.NormalizeHost(domain), Certificate: cert, PrivateKey: key}
	if issuer, err := os.ReadFile(filepath.Join(dir, "issuer.pem")); err == nil {
		res.IssuerCertificate = issuer
	}
	if data, err := os.ReadFile(filepath.Join(dir, "meta.json")); err == nil {
		var meta certMeta
		if json.Unmarshal(data, &meta) == nil {
			res.CertURL = meta.CertURL
			res.CertStableURL = meta.CertStableURL
		}
	}
	return res, nil
}

// Has reports whether a certificate is stored for domain.
func (c *CertStore) Has(domain string) bool {
	dir, err := c.domainDir(domain)
	if err != nil {
		return false
	}
	_, err = os.Stat(filepath.Join(dir, "cert.pem"))
	return err == nil
}

// Remove deletes the stored certificate for domain.
func (c *CertStore) Remove(domain string) error {
	dir, err := c.domainDir(domain)
	if err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cache, models.NormalizeHost(domain))
	c.mu.Unlock()
	return os.RemoveAll(dir)
}

// GetCertificate implements tls.Config.GetCertificate.
func (c *CertStore) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	domain := models.NormalizeHost(hello.ServerName)
	if domain == "" {
		return nil, errors.New("tls: missing server name")
	}
	c.mu.RLock()
	cert, ok := c.cache[domain]
	c.mu.RUnlock()
	if ok {
		return cert, nil
	}
	dir, err := c.domainDir(domain)
	if err != nil {
		return nil, err
	}
	pair, err := tls.LoadX509KeyPair(filepath.Join(dir, "cert.pem"), filepath.Join(dir, "key.pem"))
	if err != nil {
		return nil, fmt.Errorf("tls: no certificate for %s", domain)
	}
	if len(pair.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(pair.Certificate[0]); err == nil {
			pair.Leaf = leaf
		}
	}
	c.mu.Lock()
	c.cache[domain] = &pair
	c.mu.Unlock()
	return &pair, nil
}
