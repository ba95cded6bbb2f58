package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bark-labs/bark-push-sdk/internal/crypto"
	"github.com/bark-labs/bark-push-sdk/internal/model"
	"github.com/bark-labs/bark-push-sdk/internal/storage"
	"github.com/google/uuid"
)

const deviceSecretLength = 32

// loadDevice reads the persisted LocalDevice, or creates and persists a new
// one with a generated id and secret.
func loadDevice(ctx context.Context, store storage.Storage, platform, formFactor string) (model.LocalDevice, error) {
	data, err := store.Get(ctx, deviceKey)
	switch {
	case err == nil:
		return decodeDevice(data)
	case !errors.Is(err, storage.ErrNotFound):
		return model.LocalDevice{}, fmt.Errorf("read local device: %w", err)
	}

	secret, err := crypto.GenerateString(deviceSecretLength)
	if err != nil {
		return model.LocalDevice{}, fmt.Errorf("generate device secret: %w", err)
	}
	dev := model.LocalDevice{
		Version:    model.LocalDeviceVersion,
		ID:         uuid.NewString(),
		Secret:     secret,
		Platform:   platform,
		FormFactor: formFactor,
	}
	if err := saveDevice(ctx, store, dev); err != nil {
		return model.LocalDevice{}, err
	}
	return dev, nil
}

func decodeDevice(data []byte) (model.LocalDevice, error) {
	var dev model.LocalDevice
	if err := json.Unmarshal(data, &dev); err != nil {
		return model.LocalDevice{}, fmt.Errorf("decode local device: %w", err)
	}
	if dev.Version != model.LocalDeviceVersion {
		return model.LocalDevice{}, fmt.Errorf("local device version %d: %w", dev.Version, ErrUnsupportedRecordVersion)
	}
	return dev, nil
}

func saveDevice(ctx context.Context, store storage.Storage, dev model.LocalDevice) error {
	dev.Version = model.LocalDeviceVersion
	data, err := json.Marshal(dev)
	if err != nil {
		return fmt.Errorf("encode local device: %w", err)
	}
	if err := store.Set(ctx, deviceKey, data); err != nil {
		return fmt.Errorf("write local device: %w", err)
	}
	return nil
}
