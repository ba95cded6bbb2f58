package push

import "github.com/bark-labs/bark-push-sdk/internal/model"

// Facts is the slice of machine context a transition may consult.
type Facts struct {
	PushToken    string
	Identity     *model.IdentityToken
	AuthClientID string
	// InFlight is true while a request issued for the current waiting state
	// has not completed. It is false after a restart.
	InFlight bool
}

type effectKind uint8

const (
	effRequestPushDetails effectKind = iota + 1
	effStorePushToken
	effStoreClientID
	effCreateRegistration
	// effReregister updates an existing registration on the activation path.
	effReregister
	// effSyncRegistration updates an existing registration from a registered state.
	effSyncRegistration
	effDeleteRegistration
	effSaveIdentity
	effClearRegistration
	effNotifyActivated
	effNotifyDeactivated
	effNotifyUpdateFailed
)

type effect struct {
	kind      effectKind
	pushToken string
	clientID  string
	token     *model.IdentityToken
	err       error
}

func (k effectKind) request() bool {
	switch k {
	case effRequestPushDetails, effCreateRegistration, effReregister, effSyncRegistration, effDeleteRegistration:
		return true
	}
	return false
}

type disposition uint8

const (
	handled disposition = iota
	deferred
	ignored
	suppressed
)

func (d disposition) String() string {
	switch d {
	case deferred:
		return "deferred"
	case ignored:
		return "ignored"
	case suppressed:
		return "suppressed"
	default:
		return "handled"
	}
}

type step struct {
	next    State
	effects []effect
	outcome disposition
}

func stay(s State, d disposition) step {
	return step{next: s, outcome: d}
}

func move(next State, effects ...effect) step {
	return step{next: next, effects: effects}
}

// register picks create or update so an existing server-side registration
// is never duplicated.
func register(f Facts) effect {
	if f.Identity != nil {
		return effect{kind: effReregister, clientID: f.AuthClientID}
	}
	return effect{kind: effCreateRegistration, clientID: f.AuthClientID}
}

func notifyActivated(err error) effect   { return effect{kind: effNotifyActivated, err: err} }
func notifyDeactivated(err error) effect { return effect{kind: effNotifyDeactivated, err: err} }

// transition is the whole activation table. It has no side effects: the
// machine executes the returned effects in order.
func transition(s State, e Event, f Facts) step {
	switch s.Kind {
	case NotActivated:
		return fromNotActivated(s, e, f)
	case WaitingForPushDeviceDetails:
		return fromWaitingForPushDeviceDetails(s, e, f)
	case WaitingForDeviceRegistration:
		return fromWaitingForDeviceRegistration(s, e, f)
	case WaitingForNewPushDeviceDetails, AfterRegistrationSyncFailed:
		return fromRegistered(s, e, f)
	case WaitingForRegistrationSync:
		return fromWaitingForRegistrationSync(s, e, f)
	case WaitingForDeregistration:
		return fromWaitingForDeregistration(s, e, f)
	}
	return stay(s, ignored)
}

func fromNotActivated(s State, e Event, f Facts) step {
	switch ev := e.(type) {
	case CalledActivate:
		if f.PushToken != "" {
			return move(stateOf(WaitingForDeviceRegistration), register(f))
		}
		return move(stateOf(WaitingForPushDeviceDetails), effect{kind: effRequestPushDetails})
	case CalledDeactivate:
		return move(s, notifyDeactivated(nil))
	case GotPushDeviceDetails:
		if ev.PushToken == f.PushToken {
			return stay(s, suppressed)
		}
		return move(s, effect{kind: effStorePushToken, pushToken: ev.PushToken})
	case AuthenticatedClientIDChanged:
		// a leftover identity token keeps its clientId until re-registration
		if f.Identity != nil {
			return stay(s, handled)
		}
		return move(s, effect{kind: effStoreClientID, clientID: ev.ClientID})
	}
	return stay(s, ignored)
}

func fromWaitingForPushDeviceDetails(s State, e Event, f Facts) step {
	switch ev := e.(type) {
	case CalledActivate:
		if f.InFlight {
			return stay(s, handled)
		}
		return move(s, effect{kind: effRequestPushDetails})
	case GotPushDeviceDetails:
		f.PushToken = ev.PushToken
		return move(stateOf(WaitingForDeviceRegistration),
			effect{kind: effStorePushToken, pushToken: ev.PushToken},
			register(f))
	case GettingPushDeviceDetailsFailed:
		return move(stateOf(NotActivated), notifyActivated(pushDetailsError(ev.Err)))
	case CalledDeactivate:
		return move(stateOf(NotActivated), notifyActivated(ErrActivationAborted), notifyDeactivated(nil))
	case AuthenticatedClientIDChanged:
		// the registration request reads the authenticated clientId when it is sent
		return stay(s, handled)
	}
	return stay(s, ignored)
}

func fromWaitingForDeviceRegistration(s State, e Event, f Facts) step {
	switch ev := e.(type) {
	case CalledActivate:
		if f.InFlight {
			return stay(s, handled)
		}
		return move(s, register(f))
	case GotPushDeviceDetails:
		if ev.PushToken == f.PushToken {
			return stay(s, suppressed)
		}
		return stay(s, deferred)
	case GotDeviceRegistration:
		return move(stateOf(WaitingForNewPushDeviceDetails),
			effect{kind: effSaveIdentity, token: ev.Token},
			notifyActivated(nil))
	case GettingDeviceRegistrationFailed:
		return move(stateOf(NotActivated),
			notifyActivated(newRequestError(ErrRegistrationRequestFailed, ev.Err)))
	case CalledDeactivate, AuthenticatedClientIDChanged:
		return stay(s, deferred)
	}
	return stay(s, ignored)
}

func fromRegistered(s State, e Event, f Facts) step {
	switch ev := e.(type) {
	case CalledActivate:
		if s.Kind == AfterRegistrationSyncFailed {
			return move(State{Kind: WaitingForRegistrationSync, FromCalledActivate: true, ClientID: f.AuthClientID},
				effect{kind: effSyncRegistration, clientID: f.AuthClientID})
		}
		return move(s, notifyActivated(nil))
	case GotPushDeviceDetails:
		if ev.PushToken == f.PushToken && f.Identity.Matches(f.AuthClientID) {
			return stay(s, suppressed)
		}
		// a new token is an update of the existing registration; if it fails
		// the device stays registered under its last good identity
		effects := make([]effect, 0, 2)
		if ev.PushToken != f.PushToken {
			effects = append(effects, effect{kind: effStorePushToken, pushToken: ev.PushToken})
		}
		effects = append(effects, effect{kind: effSyncRegistration, clientID: f.AuthClientID})
		return move(State{Kind: WaitingForRegistrationSync, ClientID: f.AuthClientID}, effects...)
	case AuthenticatedClientIDChanged:
		if f.Identity.Matches(ev.ClientID) {
			return stay(s, suppressed)
		}
		return move(State{Kind: WaitingForRegistrationSync, ClientID: ev.ClientID},
			effect{kind: effSyncRegistration, clientID: ev.ClientID})
	case CalledDeactivate:
		return move(State{Kind: WaitingForDeregistration, Previous: s.Kind}, effect{kind: effDeleteRegistration})
	}
	return stay(s, ignored)
}

func fromWaitingForRegistrationSync(s State, e Event, f Facts) step {
	switch ev := e.(type) {
	case RegistrationSynced:
		effects := []effect{{kind: effSaveIdentity, token: ev.Token, clientID: s.ClientID}}
		if s.FromCalledActivate {
			effects = append(effects, notifyActivated(nil))
		}
		return move(stateOf(WaitingForNewPushDeviceDetails), effects...)
	case SyncRegistrationFailed:
		err := newRequestError(ErrSyncRequestFailed, ev.Err)
		if s.FromCalledActivate {
			return move(stateOf(AfterRegistrationSyncFailed), notifyActivated(err))
		}
		return move(stateOf(AfterRegistrationSyncFailed), effect{kind: effNotifyUpdateFailed, err: err})
	case CalledActivate:
		next := s
		next.FromCalledActivate = true
		if f.InFlight {
			return step{next: next}
		}
		return move(next, effect{kind: effSyncRegistration, clientID: s.ClientID})
	case GotPushDeviceDetails:
		if ev.PushToken == f.PushToken {
			return stay(s, suppressed)
		}
		return stay(s, deferred)
	case AuthenticatedClientIDChanged:
		if ev.ClientID == s.ClientID {
			return stay(s, suppressed)
		}
		return stay(s, deferred)
	case CalledDeactivate:
		return stay(s, deferred)
	}
	return stay(s, ignored)
}

func fromWaitingForDeregistration(s State, e Event, f Facts) step {
	switch ev := e.(type) {
	case Deregistered:
		return move(stateOf(NotActivated), effect{kind: effClearRegistration}, notifyDeactivated(nil))
	case DeregistrationFailed:
		return move(stateOf(s.Previous),
			notifyDeactivated(newRequestError(ErrDeregistrationRequestFailed, ev.Err)))
	case CalledDeactivate:
		if f.InFlight {
			return stay(s, handled)
		}
		return move(s, effect{kind: effDeleteRegistration})
	case CalledActivate, AuthenticatedClientIDChanged, GotPushDeviceDetails:
		return stay(s, deferred)
	}
	return stay(s, ignored)
}
