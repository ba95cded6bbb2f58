package push

import (
	"errors"
	"fmt"

	"github.com/bark-labs/bark-push-sdk/internal/model"
)

var (
	ErrPushDeviceDetailsUnavailable = errors.New("push device details unavailable")
	ErrRegistrationRequestFailed    = errors.New("device registration request failed")
	ErrDeregistrationRequestFailed  = errors.New("device deregistration request failed")
	ErrSyncRequestFailed            = errors.New("device registration sync request failed")
	ErrActivationAborted            = errors.New("activation aborted by deactivate")
	ErrUnsupportedRecordVersion     = errors.New("unsupported persisted record version")
	ErrMissingIdentityToken         = errors.New("registration response carried no identity token")
	ErrStateNotPersisted            = errors.New("activation state not persisted, request not sent")
)

// RequestError is delivered to the Delegate when a registration request fails.
// errors.Is matches both Kind and the underlying cause.
type RequestError struct {
	Kind       error
	ServerCode int
	StatusCode int
	Message    string
	Err        error
}

func newRequestError(kind, cause error) *RequestError {
	e := &RequestError{Kind: kind, Err: cause}
	var info *model.ErrorInfo
	if errors.As(cause, &info) {
		e.ServerCode = info.Code
		e.StatusCode = info.StatusCode
		e.Message = info.Message
	} else if cause != nil {
		e.Message = cause.Error()
	}
	return e
}

func (e *RequestError) Error() string {
	if e.ServerCode != 0 {
		return fmt.Sprintf("%v: server code %d: %s", e.Kind, e.ServerCode, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return e.Kind.Error()
}

func (e *RequestError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func pushDetailsError(cause error) error {
	if cause == nil {
		return ErrPushDeviceDetailsUnavailable
	}
	return fmt.Errorf("%w: %w", ErrPushDeviceDetailsUnavailable, cause)
}
