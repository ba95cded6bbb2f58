package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bark-labs/bark-push-sdk/internal/model"
	"github.com/bark-labs/bark-push-sdk/internal/storage"
)

const (
	deviceKey     = "push.device"
	activationKey = "push.activation"

	activationRecordVersion = 1
)

type activationRecord struct {
	Version      int           `json:"version"`
	State        stateRecord   `json:"state"`
	AuthClientID string        `json:"authClientId,omitempty"`
	Pending      []eventRecord `json:"pending,omitempty"`
}

type stateRecord struct {
	Kind               string `json:"kind"`
	FromCalledActivate bool   `json:"fromCalledActivate,omitempty"`
	ClientID           string `json:"clientId,omitempty"`
	Previous           string `json:"previous,omitempty"`
}

type eventRecord struct {
	Type      string               `json:"type"`
	PushToken string               `json:"pushToken,omitempty"`
	ClientID  string               `json:"clientId,omitempty"`
	Token     *model.IdentityToken `json:"token,omitempty"`
	Error     *model.ErrorInfo     `json:"error,omitempty"`
}

// snapshotErr keeps the parts of an error that survive a restart.
func snapshotErr(err error) *model.ErrorInfo {
	if err == nil {
		return nil
	}
	var info *model.ErrorInfo
	if errors.As(err, &info) {
		return info
	}
	return &model.ErrorInfo{Message: err.Error()}
}

func restoreErr(info *model.ErrorInfo) error {
	if info == nil {
		return nil
	}
	return info
}

func encodeEvent(e Event) (eventRecord, error) {
	rec := eventRecord{Type: e.Name()}
	switch ev := e.(type) {
	case CalledActivate, CalledDeactivate, Deregistered:
	case GotPushDeviceDetails:
		rec.PushToken = ev.PushToken
	case GettingPushDeviceDetailsFailed:
		rec.Error = snapshotErr(ev.Err)
	case GotDeviceRegistration:
		rec.Token = ev.Token
	case GettingDeviceRegistrationFailed:
		rec.Error = snapshotErr(ev.Err)
	case RegistrationSynced:
		rec.Token = ev.Token
	case SyncRegistrationFailed:
		rec.Error = snapshotErr(ev.Err)
	case DeregistrationFailed:
		rec.Error = snapshotErr(ev.Err)
	case AuthenticatedClientIDChanged:
		rec.ClientID = ev.ClientID
	default:
		return rec, fmt.Errorf("event %s cannot be persisted", e.Name())
	}
	return rec, nil
}

func decodeEvent(rec eventRecord) (Event, error) {
	switch rec.Type {
	case "CalledActivate":
		return CalledActivate{}, nil
	case "CalledDeactivate":
		return CalledDeactivate{}, nil
	case "GotPushDeviceDetails":
		return GotPushDeviceDetails{PushToken: rec.PushToken}, nil
	case "GettingPushDeviceDetailsFailed":
		return GettingPushDeviceDetailsFailed{Err: restoreErr(rec.Error)}, nil
	case "GotDeviceRegistration":
		return GotDeviceRegistration{Token: rec.Token}, nil
	case "GettingDeviceRegistrationFailed":
		return GettingDeviceRegistrationFailed{Err: restoreErr(rec.Error)}, nil
	case "RegistrationSynced":
		return RegistrationSynced{Token: rec.Token}, nil
	case "SyncRegistrationFailed":
		return SyncRegistrationFailed{Err: restoreErr(rec.Error)}, nil
	case "Deregistered":
		return Deregistered{}, nil
	case "DeregistrationFailed":
		return DeregistrationFailed{Err: restoreErr(rec.Error)}, nil
	case "AuthenticatedClientIDChanged":
		return AuthenticatedClientIDChanged{ClientID: rec.ClientID}, nil
	}
	return nil, fmt.Errorf("unknown persisted event %q", rec.Type)
}

func encodeActivation(s State, pending []Event, authClientID string) ([]byte, error) {
	rec := activationRecord{
		Version:      activationRecordVersion,
		AuthClientID: authClientID,
		State: stateRecord{
			Kind:               s.Kind.String(),
			FromCalledActivate: s.FromCalledActivate,
			ClientID:           s.ClientID,
		},
	}
	if s.Kind == WaitingForDeregistration {
		rec.State.Previous = s.Previous.String()
	}
	for _, e := range pending {
		er, err := encodeEvent(e)
		if err != nil {
			return nil, err
		}
		rec.Pending = append(rec.Pending, er)
	}
	return json.Marshal(rec)
}

func decodeActivation(data []byte) (State, []Event, string, error) {
	var rec activationRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return State{}, nil, "", fmt.Errorf("decode activation record: %w", err)
	}
	if rec.Version != activationRecordVersion {
		return State{}, nil, "", fmt.Errorf("activation record version %d: %w", rec.Version, ErrUnsupportedRecordVersion)
	}
	kind, err := ParseStateKind(rec.State.Kind)
	if err != nil {
		return State{}, nil, "", err
	}
	s := State{Kind: kind, FromCalledActivate: rec.State.FromCalledActivate, ClientID: rec.State.ClientID}
	if rec.State.Previous != "" {
		if s.Previous, err = ParseStateKind(rec.State.Previous); err != nil {
			return State{}, nil, "", err
		}
	}
	pending := make([]Event, 0, len(rec.Pending))
	for _, er := range rec.Pending {
		e, err := decodeEvent(er)
		if err != nil {
			return State{}, nil, "", err
		}
		pending = append(pending, e)
	}
	return s, pending, rec.AuthClientID, nil
}

// loadActivation restores the persisted state. A missing record is a fresh NotActivated machine.
func loadActivation(ctx context.Context, store storage.Storage) (State, []Event, string, error) {
	data, err := store.Get(ctx, activationKey)
	if errors.Is(err, storage.ErrNotFound) {
		return stateOf(NotActivated), nil, "", nil
	}
	if err != nil {
		return State{}, nil, "", fmt.Errorf("read activation record: %w", err)
	}
	return decodeActivation(data)
}

func saveActivation(ctx context.Context, store storage.Storage, s State, pending []Event, authClientID string) error {
	data, err := encodeActivation(s, pending, authClientID)
	if err != nil {
		return err
	}
	if err := store.Set(ctx, activationKey, data); err != nil {
		return fmt.Errorf("write activation record: %w", err)
	}
	return nil
}

// ErrNoDevice is returned by Inspect when no LocalDevice has been created yet.
var ErrNoDevice = errors.New("no local device")

// Inspect reads the persisted device and activation state without starting a
// machine or writing to store.
func Inspect(ctx context.Context, store storage.Storage) (State, model.LocalDevice, error) {
	data, err := store.Get(ctx, deviceKey)
	if errors.Is(err, storage.ErrNotFound) {
		return State{}, model.LocalDevice{}, ErrNoDevice
	}
	if err != nil {
		return State{}, model.LocalDevice{}, fmt.Errorf("read local device: %w", err)
	}
	dev, err := decodeDevice(data)
	if err != nil {
		return State{}, model.LocalDevice{}, err
	}
	state, _, _, err := loadActivation(ctx, store)
	if err != nil {
		return State{}, model.LocalDevice{}, err
	}
	return state, dev, nil
}
