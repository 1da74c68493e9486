// Package clients holds the OAuth client registrations the provider
// serves.
//
// Registrations are provisioned out-of-band and resolved per request
// through a Directory, so edits to a client never require a provider
// restart.
package clients

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/luikyv/go-oidc/pkg/goidc"
	"golang.org/x/crypto/bcrypt"
)

// ApplicationType classifies how a client runs, which in turn decides what
// redirect URI shapes are reasonable for it. It is descriptive metadata,
// not a security control.
type ApplicationType string

const (
	ApplicationTypeWeb    ApplicationType = "web"
	ApplicationTypeNative ApplicationType = "native"
)

// Registration is one relying party as provisioned by admin tooling.
type Registration struct {
	ID   string
	Name string
	// SecretHash is the bcrypt hash of the client secret. Empty marks a
	// public client.
	SecretHash    string
	RedirectURIs  []string
	GrantTypes    []goidc.GrantType
	ResponseTypes []goidc.ResponseType
	// Scope is the space-separated default scope set.
	Scope string
	// SkipConsent bypasses the consent screen for first-party clients.
	SkipConsent bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Public reports whether the client holds no credential.
func (r *Registration) Public() bool {
	return r.SecretHash == ""
}

// SupportsRefresh reports whether the client may use the refresh token
// grant.
func (r *Registration) SupportsRefresh() bool {
	return slices.Contains(r.GrantTypes, goidc.GrantRefreshToken)
}

// AuthnMethod returns the token-endpoint authentication method the client
// must use. A client without a secret cannot present one, so it gets the
// credential-less method.
func (r *Registration) AuthnMethod() goidc.ClientAuthnType {
	if r.Public() {
		return goidc.ClientAuthnNone
	}
	return goidc.ClientAuthnSecretBasic
}

// ApplicationType classifies the client from its redirect URIs: any
// non-HTTP(S) URI, or an HTTP URI on a non-standard localhost port, marks
// a native app.
func (r *Registration) ApplicationType() ApplicationType {
	if r.Native() {
		return ApplicationTypeNative
	}
	return ApplicationTypeWeb
}

// Native reports whether any redirect URI has a shape only a native app
// uses.
func (r *Registration) Native() bool {
	for _, redirectURI := range r.RedirectURIs {
		u, err := url.Parse(redirectURI)
		if err != nil {
			continue
		}
		switch u.Scheme {
		case "https":
		case "http":
			if isLoopback(u.Hostname()) && u.Port() != "" && u.Port() != "80" {
				return true
			}
		default:
			return true
		}
	}
	return false
}

func isLoopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Validate checks the registration is complete enough to serve.
func (r *Registration) Validate() error {
	if r.ID == "" {
		return errors.New("client registration with empty id")
	}
	if len(r.GrantTypes) == 0 {
		return fmt.Errorf("client %s: no grant types", r.ID)
	}
	if slices.Contains(r.GrantTypes, goidc.GrantAuthorizationCode) && len(r.RedirectURIs) == 0 {
		return fmt.Errorf("client %s: authorization code grant requires a redirect uri", r.ID)
	}
	for _, redirectURI := range r.RedirectURIs {
		u, err := url.Parse(redirectURI)
		if err != nil || u.Scheme == "" {
			return fmt.Errorf("client %s: invalid redirect uri %q", r.ID, redirectURI)
		}
	}
	if r.Public() && slices.Contains(r.GrantTypes, goidc.GrantClientCredentials) {
		return fmt.Errorf("client %s: client credentials grant requires a secret", r.ID)
	}
	return nil
}

// GoidcClient maps the registration onto the protocol client consumed by
// the OIDC layer.
func (r *Registration) GoidcClient() *goidc.Client {
	client := &goidc.Client{
		ID: r.ID,
		ClientMeta: goidc.ClientMeta{
			ScopeIDs:      r.Scope,
			GrantTypes:    slices.Clone(r.GrantTypes),
			ResponseTypes: slices.Clone(r.ResponseTypes),
			RedirectURIs:  slices.Clone(r.RedirectURIs),
		},
	}
	client.TokenAuthnMethod = r.AuthnMethod()
	client.HashedSecret = r.SecretHash
	return client
}

// HashSecret hashes a plain client secret for storage.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing client secret: %w", err)
	}
	return string(hash), nil
}

// ErrNotFound reports that no registration exists for a client id.
var ErrNotFound = errors.New("client not found")

// Directory resolves client registrations.
//
// Lookups happen per request on purpose: a process-lifetime client cache
// goes stale the moment admin tooling edits a client, and the stale copy
// keeps authorizing with yesterday's redirect URIs and secrets.
type Directory interface {
	Registration(ctx context.Context, id string) (*Registration, error)
	All(ctx context.Context) ([]*Registration, error)
}
