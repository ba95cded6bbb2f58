package push

import (
	"context"
	"errors"

	"github.com/bark-labs/bark-push-sdk/internal/model"
)

// Platform obtains a push token from the operating system push service.
type Platform interface {
	RequestPushDetails(ctx context.Context) (string, error)
}

// RegistrationClient talks to the remote registration service.
type RegistrationClient interface {
	CreateRegistration(ctx context.Context, dev model.LocalDevice) (*model.IdentityToken, error)
	UpdateRegistration(ctx context.Context, dev model.LocalDevice) (*model.IdentityToken, error)
	DeleteRegistration(ctx context.Context, dev model.LocalDevice) error
}

var errNoPushToken = errors.New("no push token configured")

// StaticPlatform returns a fixed token, e.g. one passed on the command line.
type StaticPlatform string

func (p StaticPlatform) RequestPushDetails(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p == "" {
		return "", errNoPushToken
	}
	return string(p), nil
}
