// Package resource maps resource indicators to the shape of the access
// tokens issued for them.
package resource

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/luikyv/go-oidc/pkg/goidc"
)

// Format selects the access token representation for a resource server.
type Format string

const (
	FormatJWT    Format = "jwt"
	FormatOpaque Format = "opaque"
)

// ParseFormat converts a config string into a Format.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case FormatJWT, FormatOpaque:
		return Format(value), nil
	default:
		return "", fmt.Errorf("unknown token format %q", value)
	}
}

// Wildcard marks the catch-all descriptor row. It matches any allowed
// indicator that has no descriptor of its own; it never widens the set of
// allowed indicators.
const Wildcard = "*"

// Descriptor tells the issuance path how to shape tokens for one resource
// server.
type Descriptor struct {
	// Indicator is the resource indicator clients send, or Wildcard.
	Indicator string
	// Scope is the space-separated list of scopes this resource server
	// accepts.
	Scope string
	// Format picks JWT or opaque access tokens.
	Format Format
	// SigningAlg signs JWT access tokens. Required when Format is jwt.
	SigningAlg goidc.SignatureAlgorithm
	// Audience is the aud claim stamped into JWT access tokens. Empty
	// means the indicator itself is used.
	Audience string
}

// scopeSet returns the descriptor's accepted scopes.
func (d Descriptor) scopeSet() []string {
	return strings.Fields(d.Scope)
}

// AudienceValue returns the aud claim value for tokens issued to this
// resource, falling back to the indicator.
func (d Descriptor) AudienceValue() string {
	if d.Audience != "" {
		return d.Audience
	}
	return d.Indicator
}

// ErrUnknownResource reports a resource indicator outside the configured
// allow-list. Requests carrying one must be rejected before any token is
// issued.
var ErrUnknownResource = errors.New("unknown resource indicator")

// DefaultDescriptor shapes tokens for requests that name no resource at
// all: opaque format, no audience.
func DefaultDescriptor() Descriptor {
	return Descriptor{Format: FormatOpaque}
}

// Registry is the configured set of resource server descriptors. It is
// immutable after construction and safe for concurrent use.
type Registry struct {
	byIndicator map[string]Descriptor
	wildcard    *Descriptor
}

// NewRegistry validates the descriptor rows and builds the lookup table.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	registry := &Registry{byIndicator: make(map[string]Descriptor, len(descriptors))}

	for _, desc := range descriptors {
		if desc.Indicator == "" {
			return nil, errors.New("resource descriptor with empty indicator")
		}
		if desc.Format != FormatJWT && desc.Format != FormatOpaque {
			return nil, fmt.Errorf("resource %s: unknown token format %q", desc.Indicator, desc.Format)
		}
		if desc.Format == FormatJWT && desc.SigningAlg == "" {
			return nil, fmt.Errorf("resource %s: jwt format requires a signing algorithm", desc.Indicator)
		}

		if desc.Indicator == Wildcard {
			if registry.wildcard != nil {
				return nil, errors.New("multiple wildcard resource descriptors")
			}
			wildcard := desc
			registry.wildcard = &wildcard
			continue
		}

		if _, ok := registry.byIndicator[desc.Indicator]; ok {
			return nil, fmt.Errorf("duplicate resource descriptor for %s", desc.Indicator)
		}
		registry.byIndicator[desc.Indicator] = desc
	}

	return registry, nil
}

// Indicators returns the allowed resource indicators, sorted. The wildcard
// row is not an indicator and is excluded.
func (r *Registry) Indicators() []string {
	indicators := make([]string, 0, len(r.byIndicator))
	for indicator := range r.byIndicator {
		indicators = append(indicators, indicator)
	}
	slices.Sort(indicators)
	return indicators
}

// Resolve returns the descriptor for a validated resource indicator.
//
// A missing indicator is not an error: plenty of token requests name no
// resource, and they get the opaque default. An indicator outside the
// allow-list is ErrUnknownResource; issuance must never fall back to a
// permissive format for it.
func (r *Registry) Resolve(indicator string) (Descriptor, error) {
	if indicator == "" {
		return DefaultDescriptor(), nil
	}
	if desc, ok := r.byIndicator[indicator]; ok {
		return desc, nil
	}
	if r.wildcard != nil {
		desc := *r.wildcard
		desc.Indicator = indicator
		return desc, nil
	}
	return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownResource, indicator)
}

// Validate checks a batch of requested indicators at the authorization
// request stage, before any token work happens.
func (r *Registry) Validate(indicators []string) error {
	for _, indicator := range indicators {
		if indicator == "" {
			continue
		}
		if _, err := r.Resolve(indicator); err != nil {
			return err
		}
	}
	return nil
}

// GrantedScopes intersects the requested scopes with what the resource
// server accepts, producing the per-resource scope set recorded on a
// grant.
func (r *Registry) GrantedScopes(indicator string, requested []string) []string {
	desc, err := r.Resolve(indicator)
	if err != nil {
		return nil
	}

	accepted := desc.scopeSet()
	granted := make([]string, 0, len(requested))
	for _, scope := range requested {
		if slices.Contains(accepted, scope) {
			granted = append(granted, scope)
		}
	}
	return granted
}
