package ssl

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-acme/lego/v4/registration"
)

// accountStore keeps the ACME account key and registration under DATA_DIR/acme.
type accountStore struct {
	path string
	mu   sync.Mutex
}

type accountFile struct {
	Email        string                 `json:"email"`
	Directory    string                 `json:"directory"`
	KeyPEM       string                 `json:"key_pem"`
	Registration *registration.Resource `json:"registration,omitempty"`
}

func newAccountStore(dataDir string) *accountStore {
	return &accountStore{path: filepath.Join(dataDir, "acme", "account.json")}
}

// Load returns the stored account for directory. An account registered against a
// different directory is treated as missing.
func (s *accountStore) Load(directory string) (*acmeUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var file accountFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if file.Directory != "" && file.Directory != directory {
		return nil, os.ErrNotExist
	}
	block, _ := pem.Decode([]byte(file.KeyPEM))
	if block == nil {
		return nil, errors.New("acme account: invalid key PEM")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return &acmeUser{email: file.Email, key: key, registration: file.Registration}, nil
}

func (s *accountStore) Save(directory string, user *acmeUser) error {
	if user == nil || user.key == nil {
		return errors.New("acme account: missing key")
	}
	der, err := x509.MarshalECPrivateKey(user.key)
	if err != nil {
		return err
	}
	file := accountFile{
		Email:        user.email,
		Directory:    directory,
		KeyPEM:       string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})),
		Registration: user.registration,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(s.path, data, 0o600)
}

// acmeUser implements lego.User.
type acmeUser struct {
	email        string
	key          *ecdsa.PrivateKey
	registration *registration.Resource
}

func (u *acmeUser) GetEmail() string { return u.email }

func (u *acmeUser) GetRegistration() *registration.Resource { return u.registration }

func (u *acmeUser) GetPrivateKey() crypto.PrivateKey { return u.key }

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
