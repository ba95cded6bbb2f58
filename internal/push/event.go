package push

import "github.com/bark-labs/bark-push-sdk/internal/model"

// Event is an input to the activation state machine. The set is closed.
type Event interface {
	Name() string
	event()
}

type (
	// CalledActivate is raised by Machine.Activate.
	CalledActivate struct{}
	// CalledDeactivate is raised by Machine.Deactivate.
	CalledDeactivate struct{}
	// GotPushDeviceDetails carries a push token from the platform.
	GotPushDeviceDetails struct{ PushToken string }
	// GettingPushDeviceDetailsFailed reports the platform could not produce a token.
	GettingPushDeviceDetailsFailed struct{ Err error }
	// GotDeviceRegistration completes a create (or recovery update) request.
	GotDeviceRegistration struct{ Token *model.IdentityToken }
	GettingDeviceRegistrationFailed struct{ Err error }
	// RegistrationSynced completes an update that rebinds the registration.
	// Token may be nil when the service keeps the previous token.
	RegistrationSynced struct{ Token *model.IdentityToken }
	SyncRegistrationFailed struct{ Err error }
	Deregistered          struct{}
	DeregistrationFailed  struct{ Err error }
	// AuthenticatedClientIDChanged is raised by the auth layer on every authorize.
	AuthenticatedClientIDChanged struct{ ClientID string }
)

func (CalledActivate) Name() string                  { return "CalledActivate" }
func (CalledDeactivate) Name() string                { return "CalledDeactivate" }
func (GotPushDeviceDetails) Name() string            { return "GotPushDeviceDetails" }
func (GettingPushDeviceDetailsFailed) Name() string  { return "GettingPushDeviceDetailsFailed" }
func (GotDeviceRegistration) Name() string           { return "GotDeviceRegistration" }
func (GettingDeviceRegistrationFailed) Name() string { return "GettingDeviceRegistrationFailed" }
func (RegistrationSynced) Name() string              { return "RegistrationSynced" }
func (SyncRegistrationFailed) Name() string          { return "SyncRegistrationFailed" }
func (Deregistered) Name() string                    { return "Deregistered" }
func (DeregistrationFailed) Name() string            { return "DeregistrationFailed" }
func (AuthenticatedClientIDChanged) Name() string    { return "AuthenticatedClientIDChanged" }

func (CalledActivate) event()                  {}
func (CalledDeactivate) event()                {}
func (GotPushDeviceDetails) event()            {}
func (GettingPushDeviceDetailsFailed) event()  {}
func (GotDeviceRegistration) event()           {}
func (GettingDeviceRegistrationFailed) event() {}
func (RegistrationSynced) event()              {}
func (SyncRegistrationFailed) event()          {}
func (Deregistered) event()                    {}
func (DeregistrationFailed) event()            {}
func (AuthenticatedClientIDChanged) event()    {}

// barrier is an internal marker used to wait until the machine is idle.
type barrier struct{ reply chan<- bool }

func (barrier) Name() string { return "barrier" }
func (barrier) event()       {}
