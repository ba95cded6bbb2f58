package push

import "fmt"

// StateKind is the closed set of activation states.
type StateKind uint8

const (
	NotActivated StateKind = iota
	WaitingForPushDeviceDetails
	WaitingForDeviceRegistration
	// WaitingForNewPushDeviceDetails is the registered, idle state.
	WaitingForNewPushDeviceDetails
	WaitingForRegistrationSync
	AfterRegistrationSyncFailed
	WaitingForDeregistration
)

var stateNames = [...]string{
	NotActivated:                   "NotActivated",
	WaitingForPushDeviceDetails:    "WaitingForPushDeviceDetails",
	WaitingForDeviceRegistration:   "WaitingForDeviceRegistration",
	WaitingForNewPushDeviceDetails: "WaitingForNewPushDeviceDetails",
	WaitingForRegistrationSync:     "WaitingForRegistrationSync",
	AfterRegistrationSyncFailed:    "AfterRegistrationSyncFailed",
	WaitingForDeregistration:       "WaitingForDeregistration",
}

func (k StateKind) String() string {
	if int(k) < len(stateNames) {
		return stateNames[k]
	}
	return fmt.Sprintf("StateKind(%d)", uint8(k))
}

// ParseStateKind is the inverse of StateKind.String.
func ParseStateKind(s string) (StateKind, error) {
	for i, name := range stateNames {
		if name == s {
			return StateKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown activation state %q", s)
}

// Registered reports whether the device holds a settled registration in this state.
func (k StateKind) Registered() bool {
	return k == WaitingForNewPushDeviceDetails || k == AfterRegistrationSyncFailed
}

// State is the current activation state plus the little data some variants carry.
type State struct {
	Kind StateKind

	// FromCalledActivate and ClientID belong to WaitingForRegistrationSync:
	// whether Activate started the sync, and the clientId being bound.
	FromCalledActivate bool
	ClientID           string

	// Previous belongs to WaitingForDeregistration: the registered state to
	// return to if deregistration fails.
	Previous StateKind
}

func (s State) String() string {
	switch s.Kind {
	case WaitingForRegistrationSync:
		return fmt.Sprintf("%s(clientId=%q, fromCalledActivate=%t)", s.Kind, s.ClientID, s.FromCalledActivate)
	case WaitingForDeregistration:
		return fmt.Sprintf("%s(previous=%s)", s.Kind, s.Previous)
	default:
		return s.Kind.String()
	}
}

func stateOf(kind StateKind) State {
	return State{Kind: kind}
}
