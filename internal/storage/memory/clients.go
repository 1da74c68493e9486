package memory

import (
	"context"
	"sync"

	"github.com/rephlo/idp/internal/clients"
)

type ClientDirectory struct {
	mu            sync.RWMutex
	registrations map[string]*clients.Registration
}

func NewClientDirectory() *ClientDirectory {
	return &ClientDirectory{
		registrations: make(map[string]*clients.Registration),
	}
}

// Save provisions or replaces one registration.
func (d *ClientDirectory) Save(_ context.Context, registration *clients.Registration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registrations[registration.ID] = registration
	return nil
}

func (d *ClientDirectory) Registration(_ context.Context, id string) (*clients.Registration, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	registration, ok := d.registrations[id]
	if !ok {
		return nil, clients.ErrNotFound
	}
	return registration, nil
}

func (d *ClientDirectory) All(_ context.Context) ([]*clients.Registration, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	all := make([]*clients.Registration, 0, len(d.registrations))
	for _, registration := range d.registrations {
		all = append(all, registration)
	}
	return all, nil
}
