package storage

import (
	"context"

	"github.com/bark-labs/bark-push-sdk/internal/model"
)

// Storage is the key/value persistence the SDK keeps device state in.
// Get returns ErrNotFound when the key has never been set.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// RegistrationStore abstracts registration persistence for the registration service.
type RegistrationStore interface {
	UpsertRegistration(ctx context.Context, reg *model.Registration) error
	GetRegistration(ctx context.Context, deviceID string) (*model.Registration, error)
	DeleteRegistration(ctx context.Context, deviceID string) error
	ListRegistrations(ctx context.Context) ([]*model.Registration, error)
	Close() error
}
