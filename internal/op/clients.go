package op

import (
	"context"
	"errors"

	"github.com/luikyv/go-oidc/pkg/goidc"

	"github.com/rephlo/idp/internal/clients"
)

// clientManager exposes the client directory to the protocol library.
// Every Get hits the directory, so a change to a registration is live on
// the next request that authenticates the client.
type clientManager struct {
	directory clients.Directory
}

func newClientManager(directory clients.Directory) *clientManager {
	return &clientManager{directory: directory}
}

func (m *clientManager) Get(ctx context.Context, id string) (*goidc.Client, error) {
	registration, err := m.directory.Registration(ctx, id)
	if err != nil {
		// The provider treats any error here as an unknown client.
		return nil, err
	}
	return registration.GoidcClient(), nil
}

// Save and Delete satisfy the manager interface. Registrations change
// through provisioning, never through the protocol surface.
func (m *clientManager) Save(context.Context, *goidc.Client) error {
	return errors.New("client registrations are provisioned from configuration")
}

func (m *clientManager) Delete(context.Context, string) error {
	return errors.New("client registrations are provisioned from configuration")
}
