package ssl

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"log"
	"os"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

// Issuer obtains or renews a certificate for domains.
type Issuer interface {
	Obtain(ctx context.Context, domains []string, existing *certificate.Resource) (*certificate.Resource, error)
}

// acmeIssuer talks to an ACME directory with lego, answering http-01 through provider.
type acmeIssuer struct {
	directory string
	email     string
	account   *accountStore
	provider  challenge.Provider
}

func (a *acmeIssuer) client() (*lego.Client, error) {
	user, err := a.account.Load(a.directory)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if user == nil {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, err
		}
		user = &acmeUser{email: a.email, key: key}
	}
	conf := lego.NewConfig(user)
	conf.CADirURL = a.directory
	conf.Certificate.KeyType = certcrypto.EC256

	client, err := lego.NewClient(conf)
	if err != nil {
		return nil, err
	}
	if err := client.Challenge.SetHTTP01Provider(a.provider); err != nil {
		return nil, err
	}
	if user.registration == nil {
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, err
		}
		user.registration = reg
		if err := a.account.Save(a.directory, user); err != nil {
			log.Printf("tls: unable to persist acme account: %v", err)
		}
	}
	return client, nil
}

// Obtain renews existing when possible and falls back to a fresh order.
func (a *acmeIssuer) Obtain(ctx context.Context, domains []string, existing *certificate.Resource) (*certificate.Resource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	client, err := a.client()
	if err != nil {
		return nil, err
	}
	if existing != nil && len(existing.Certificate) > 0 {
		renewed, err := client.Certificate.Renew(*existing, true, false, "")
		if err == nil {
			return renewed, nil
		}
		log.Printf("tls: renew failed for %s, requesting fresh order: %v", existing.Domain, err)
	}
	return client.Certificate.Obtain(certificate.ObtainRequest{Domains: domains, Bundle: true})
}
