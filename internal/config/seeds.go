package config

import (
	"fmt"
	"os"
	"time"

	"github.com/luikyv/go-oidc/pkg/goidc"
	"gopkg.in/yaml.v3"

	"github.com/rephlo/idp/internal/account"
	"github.com/rephlo/idp/internal/clients"
	"github.com/rephlo/idp/internal/license"
	"github.com/rephlo/idp/internal/resource"
)

type clientSeed struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Secret        string   `yaml:"secret"`
	RedirectURIs  []string `yaml:"redirect_uris"`
	GrantTypes    []string `yaml:"grant_types"`
	ResponseTypes []string `yaml:"response_types"`
	Scope         string   `yaml:"scope"`
	SkipConsent   bool     `yaml:"skip_consent"`
}

type clientsFile struct {
	Clients []clientSeed `yaml:"clients"`
}

// LoadClients reads the client provisioning file. Plain secrets in the
// file are hashed on the way in; only the hash is ever stored.
func LoadClients(path string) ([]*clients.Registration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading clients file: %w", err)
	}

	var file clientsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing clients file: %w", err)
	}
	if len(file.Clients) == 0 {
		return nil, fmt.Errorf("clients file %s provisions no clients", path)
	}

	registrations := make([]*clients.Registration, 0, len(file.Clients))
	for _, seed := range file.Clients {
		registration := &clients.Registration{
			ID:            seed.ID,
			Name:          seed.Name,
			RedirectURIs:  seed.RedirectURIs,
			GrantTypes:    toGrantTypes(seed.GrantTypes),
			ResponseTypes: toResponseTypes(seed.ResponseTypes),
			Scope:         seed.Scope,
			SkipConsent:   seed.SkipConsent,
		}

		if seed.Secret != "" {
			hash, err := clients.HashSecret(seed.Secret)
			if err != nil {
				return nil, fmt.Errorf("client %s: %w", seed.ID, err)
			}
			registration.SecretHash = hash
		}

		if err := registration.Validate(); err != nil {
			return nil, err
		}
		registrations = append(registrations, registration)
	}

	return registrations, nil
}

type resourceSeed struct {
	Indicator  string `yaml:"indicator"`
	Scope      string `yaml:"scope"`
	Format     string `yaml:"format"`
	SigningAlg string `yaml:"signing_alg"`
	Audience   string `yaml:"audience"`
}

type resourcesFile struct {
	Resources []resourceSeed `yaml:"resources"`
}

// LoadResources reads the resource server descriptor file. A missing path
// is fine: deployments without resource indicators simply configure none.
func LoadResources(path string) ([]resource.Descriptor, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading resources file: %w", err)
	}

	var file resourcesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing resources file: %w", err)
	}

	descriptors := make([]resource.Descriptor, 0, len(file.Resources))
	for _, seed := range file.Resources {
		format, err := resource.ParseFormat(seed.Format)
		if err != nil {
			return nil, fmt.Errorf("resource %s: %w", seed.Indicator, err)
		}
		descriptors = append(descriptors, resource.Descriptor{
			Indicator:  seed.Indicator,
			Scope:      seed.Scope,
			Format:     format,
			SigningAlg: goidc.SignatureAlgorithm(seed.SigningAlg),
			Audience:   seed.Audience,
		})
	}

	return descriptors, nil
}

type accountSeed struct {
	ID            string `yaml:"id"`
	Email         string `yaml:"email"`
	EmailVerified bool   `yaml:"email_verified"`
	Name          string `yaml:"name"`
	Role          string `yaml:"role"`
	Password      string `yaml:"password"`
}

type entitlementSeed struct {
	ID             string     `yaml:"id"`
	AccountID      string     `yaml:"account_id"`
	Key            string     `yaml:"key"`
	Tier           string     `yaml:"tier"`
	Version        string     `yaml:"version"`
	Status         string     `yaml:"status"`
	Activations    int        `yaml:"activations"`
	MaxActivations int        `yaml:"max_activations"`
	PurchasedAt    time.Time  `yaml:"purchased_at"`
	ActivatedAt    *time.Time `yaml:"activated_at"`
}

type fixturesFile struct {
	Accounts     []accountSeed     `yaml:"accounts"`
	Entitlements []entitlementSeed `yaml:"entitlements"`
}

// Fixtures holds dev accounts and entitlements parsed from the fixture
// file.
type Fixtures struct {
	Accounts     []*account.Account
	Entitlements []*license.Entitlement
}

// LoadFixtures reads the development fixture file. Passwords are hashed
// on the way in.
func LoadFixtures(path string) (*Fixtures, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures file: %w", err)
	}

	var file fixturesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing fixtures file: %w", err)
	}

	fixtures := &Fixtures{}
	for _, seed := range file.Accounts {
		role := account.Role(seed.Role)
		if role == "" {
			role = account.RoleUser
		}

		acct := &account.Account{
			ID:            seed.ID,
			Email:         seed.Email,
			EmailVerified: seed.EmailVerified,
			Name:          seed.Name,
			Role:          role,
			CreatedAt:     time.Now().UTC(),
		}
		if seed.Password != "" {
			hash, err := clients.HashSecret(seed.Password)
			if err != nil {
				return nil, fmt.Errorf("account %s: %w", seed.ID, err)
			}
			acct.PasswordHash = hash
		}
		fixtures.Accounts = append(fixtures.Accounts, acct)
	}

	for _, seed := range file.Entitlements {
		fixtures.Entitlements = append(fixtures.Entitlements, &license.Entitlement{
			ID:             seed.ID,
			AccountID:      seed.AccountID,
			Key:            seed.Key,
			Tier:           seed.Tier,
			Version:        seed.Version,
			Status:         license.Status(seed.Status),
			Activations:    seed.Activations,
			MaxActivations: seed.MaxActivations,
			PurchasedAt:    seed.PurchasedAt,
			ActivatedAt:    seed.ActivatedAt,
		})
	}

	return fixtures, nil
}

func toGrantTypes(values []string) []goidc.GrantType {
	out := make([]goidc.GrantType, len(values))
	for i, v := range values {
		out[i] = goidc.GrantType(v)
	}
	return out
}

func toResponseTypes(values []string) []goidc.ResponseType {
	out := make([]goidc.ResponseType, len(values))
	for i, v := range values {
		out[i] = goidc.ResponseType(v)
	}
	return out
}
