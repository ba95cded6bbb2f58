package push

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/bark-labs/bark-push-sdk/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKinds = []StateKind{
	NotActivated,
	WaitingForPushDeviceDetails,
	WaitingForDeviceRegistration,
	WaitingForNewPushDeviceDetails,
	WaitingForRegistrationSync,
	AfterRegistrationSyncFailed,
	WaitingForDeregistration,
}

func allEvents() []Event {
	failure := errors.New("boom")
	token := &model.IdentityToken{Token: "t", ClientID: "foo"}
	return []Event{
		CalledActivate{},
		CalledDeactivate{},
		GotPushDeviceDetails{PushToken: "tok"},
		GotPushDeviceDetails{PushToken: "other"},
		GettingPushDeviceDetailsFailed{Err: failure},
		GotDeviceRegistration{Token: token},
		GettingDeviceRegistrationFailed{Err: failure},
		RegistrationSynced{Token: token},
		RegistrationSynced{},
		SyncRegistrationFailed{Err: failure},
		Deregistered{},
		DeregistrationFailed{Err: failure},
		AuthenticatedClientIDChanged{ClientID: ""},
		AuthenticatedClientIDChanged{ClientID: "foo"},
	}
}

func kinds(effects []effect) []effectKind {
	out := make([]effectKind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.kind)
	}
	return out
}

func TestTransition_Exhaustive(t *testing.T) {
	factsSet := []Facts{
		{},
		{PushToken: "tok"},
		{PushToken: "tok", Identity: &model.IdentityToken{Token: "t"}},
		{PushToken: "tok", Identity: &model.IdentityToken{Token: "t", ClientID: "foo"}, AuthClientID: "foo", InFlight: true},
	}
	for _, kind := range allKinds {
		for _, e := range allEvents() {
			for _, f := range factsSet {
				s := State{Kind: kind, Previous: WaitingForNewPushDeviceDetails, ClientID: "foo"}
				got := transition(s, e, f)
				require.Less(t, int(got.next.Kind), len(stateNames), "%s + %s", kind, e.Name())
				if got.outcome != handled {
					assert.Equal(t, s, got.next, "%s + %s", kind, e.Name())
					assert.Empty(t, got.effects, "%s + %s", kind, e.Name())
				}
				if got.next.Kind == WaitingForDeregistration {
					assert.True(t, got.next.Previous.Registered(), "%s + %s", kind, e.Name())
				}
			}
		}
	}
}

func TestTransition_RandomWalkStaysDefined(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	events := allEvents()
	s := stateOf(NotActivated)
	f := Facts{}
	for i := 0; i < 10000; i++ {
		e := events[r.IntN(len(events))]
		got := transition(s, e, f)
		require.Less(t, int(got.next.Kind), len(stateNames))
		for _, eff := range got.effects {
			switch eff.kind {
			case effStorePushToken:
				f.PushToken = eff.pushToken
			case effSaveIdentity:
				if eff.token != nil {
					f.Identity = eff.token
				}
			case effClearRegistration:
				f.Identity, f.PushToken = nil, ""
			}
		}
		if got.next.Kind != s.Kind {
			f.InFlight = false
		}
		for _, eff := range got.effects {
			if eff.kind.request() {
				f.InFlight = true
			}
		}
		s = got.next
	}
}

func TestTransition_Table(t *testing.T) {
	registered := &model.IdentityToken{Token: "t"}
	tests := []struct {
		name    string
		state   State
		event   Event
		facts   Facts
		next    State
		effects []effectKind
		outcome disposition
	}{
		{
			name:    "activate without push token asks the platform",
			state:   stateOf(NotActivated),
			event:   CalledActivate{},
			next:    stateOf(WaitingForPushDeviceDetails),
			effects: []effectKind{effRequestPushDetails},
		},
		{
			name:    "activate with push token creates",
			state:   stateOf(NotActivated),
			event:   CalledActivate{},
			facts:   Facts{PushToken: "tok"},
			next:    stateOf(WaitingForDeviceRegistration),
			effects: []effectKind{effCreateRegistration},
		},
		{
			name:    "activate with leftover registration updates instead of creating",
			state:   stateOf(NotActivated),
			event:   CalledActivate{},
			facts:   Facts{PushToken: "tok", Identity: registered},
			next:    stateOf(WaitingForDeviceRegistration),
			effects: []effectKind{effReregister},
		},
		{
			name:    "deactivate when not activated reports success",
			state:   stateOf(NotActivated),
			event:   CalledDeactivate{},
			next:    stateOf(NotActivated),
			effects: []effectKind{effNotifyDeactivated},
		},
		{
			name:    "push token while waiting creates",
			state:   stateOf(WaitingForPushDeviceDetails),
			event:   GotPushDeviceDetails{PushToken: "tok"},
			next:    stateOf(WaitingForDeviceRegistration),
			effects: []effectKind{effStorePushToken, effCreateRegistration},
		},
		{
			name:    "second activate while in flight is absorbed",
			state:   stateOf(WaitingForPushDeviceDetails),
			event:   CalledActivate{},
			facts:   Facts{InFlight: true},
			next:    stateOf(WaitingForPushDeviceDetails),
			effects: []effectKind{},
		},
		{
			name:    "deactivate aborts a pending activation",
			state:   stateOf(WaitingForPushDeviceDetails),
			event:   CalledDeactivate{},
			next:    stateOf(NotActivated),
			effects: []effectKind{effNotifyActivated, effNotifyDeactivated},
		},
		{
			name:    "same push token during registration is suppressed",
			state:   stateOf(WaitingForDeviceRegistration),
			event:   GotPushDeviceDetails{PushToken: "tok"},
			facts:   Facts{PushToken: "tok", InFlight: true},
			next:    stateOf(WaitingForDeviceRegistration),
			outcome: suppressed,
		},
		{
			name:    "new push token during registration is deferred",
			state:   stateOf(WaitingForDeviceRegistration),
			event:   GotPushDeviceDetails{PushToken: "new"},
			facts:   Facts{PushToken: "tok", InFlight: true},
			next:    stateOf(WaitingForDeviceRegistration),
			outcome: deferred,
		},
		{
			name:    "registration failure returns to not activated",
			state:   stateOf(WaitingForDeviceRegistration),
			event:   GettingDeviceRegistrationFailed{Err: errors.New("boom")},
			next:    stateOf(NotActivated),
			effects: []effectKind{effNotifyActivated},
		},
		{
			name:    "unchanged clientId is suppressed when registered",
			state:   stateOf(WaitingForNewPushDeviceDetails),
			event:   AuthenticatedClientIDChanged{ClientID: ""},
			facts:   Facts{PushToken: "tok", Identity: registered},
			next:    stateOf(WaitingForNewPushDeviceDetails),
			outcome: suppressed,
		},
		{
			name:    "new clientId syncs the registration",
			state:   stateOf(WaitingForNewPushDeviceDetails),
			event:   AuthenticatedClientIDChanged{ClientID: "foo"},
			facts:   Facts{PushToken: "tok", Identity: registered},
			next:    State{Kind: WaitingForRegistrationSync, ClientID: "foo"},
			effects: []effectKind{effSyncRegistration},
		},
		{
			name:    "new push token syncs the registration",
			state:   stateOf(WaitingForNewPushDeviceDetails),
			event:   GotPushDeviceDetails{PushToken: "new"},
			facts:   Facts{PushToken: "tok", Identity: registered},
			next:    State{Kind: WaitingForRegistrationSync},
			effects: []effectKind{effStorePushToken, effSyncRegistration},
		},
		{
			name:    "activate retries a failed sync",
			state:   stateOf(AfterRegistrationSyncFailed),
			event:   CalledActivate{},
			facts:   Facts{PushToken: "tok", Identity: registered, AuthClientID: "foo"},
			next:    State{Kind: WaitingForRegistrationSync, ClientID: "foo", FromCalledActivate: true},
			effects: []effectKind{effSyncRegistration},
		},
		{
			name:    "deactivate from registered deletes",
			state:   stateOf(AfterRegistrationSyncFailed),
			event:   CalledDeactivate{},
			facts:   Facts{Identity: registered},
			next:    State{Kind: WaitingForDeregistration, Previous: AfterRegistrationSyncFailed},
			effects: []effectKind{effDeleteRegistration},
		},
		{
			name:    "background sync failure reports update failure",
			state:   State{Kind: WaitingForRegistrationSync, ClientID: "foo"},
			event:   SyncRegistrationFailed{Err: errors.New("boom")},
			next:    stateOf(AfterRegistrationSyncFailed),
			effects: []effectKind{effNotifyUpdateFailed},
		},
		{
			name:    "activate during sync waits for its result",
			state:   State{Kind: WaitingForRegistrationSync, ClientID: "foo"},
			event:   CalledActivate{},
			facts:   Facts{InFlight: true},
			next:    State{Kind: WaitingForRegistrationSync, ClientID: "foo", FromCalledActivate: true},
			effects: []effectKind{},
		},
		{
			name:    "deregistration failure restores the previous state",
			state:   State{Kind: WaitingForDeregistration, Previous: AfterRegistrationSyncFailed},
			event:   DeregistrationFailed{Err: errors.New("boom")},
			next:    stateOf(AfterRegistrationSyncFailed),
			effects: []effectKind{effNotifyDeactivated},
		},
		{
			name:    "activate during deregistration is deferred",
			state:   State{Kind: WaitingForDeregistration, Previous: WaitingForNewPushDeviceDetails},
			event:   CalledActivate{},
			next:    State{Kind: WaitingForDeregistration, Previous: WaitingForNewPushDeviceDetails},
			outcome: deferred,
		},
		{
			name:    "stale completion is ignored",
			state:   stateOf(NotActivated),
			event:   Deregistered{},
			next:    stateOf(NotActivated),
			outcome: ignored,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := transition(tt.state, tt.event, tt.facts)
			assert.Equal(t, tt.next, got.next)
			assert.Equal(t, tt.outcome, got.outcome)
			if tt.effects != nil {
				assert.Equal(t, tt.effects, kinds(got.effects))
			}
		})
	}
}

func TestTransition_FailuresCarryKinds(t *testing.T) {
	serverErr := &model.ErrorInfo{Code: 40012, StatusCode: 400, Message: "clientId mismatch"}

	got := transition(stateOf(WaitingForDeviceRegistration), GettingDeviceRegistrationFailed{Err: serverErr}, Facts{})
	require.Len(t, got.effects, 1)
	err := got.effects[0].err
	assert.ErrorIs(t, err, ErrRegistrationRequestFailed)
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, 40012, reqErr.ServerCode)
	assert.Equal(t, 400, reqErr.StatusCode)
	var info *model.ErrorInfo
	assert.ErrorAs(t, err, &info)

	got = transition(stateOf(WaitingForPushDeviceDetails), GettingPushDeviceDetailsFailed{Err: errors.New("denied")}, Facts{})
	require.Len(t, got.effects, 1)
	assert.ErrorIs(t, got.effects[0].err, ErrPushDeviceDetailsUnavailable)

	got = transition(stateOf(WaitingForPushDeviceDetails), CalledDeactivate{}, Facts{})
	require.Len(t, got.effects, 2)
	assert.ErrorIs(t, got.effects[0].err, ErrActivationAborted)
	assert.NoError(t, got.effects[1].err)

	got = transition(State{Kind: WaitingForDeregistration, Previous: WaitingForNewPushDeviceDetails},
		DeregistrationFailed{Err: errors.New("offline")}, Facts{})
	assert.ErrorIs(t, got.effects[0].err, ErrDeregistrationRequestFailed)

	got = transition(State{Kind: WaitingForRegistrationSync, FromCalledActivate: true},
		SyncRegistrationFailed{Err: errors.New("offline")}, Facts{})
	require.Len(t, got.effects, 1)
	assert.Equal(t, effNotifyActivated, got.effects[0].kind)
	assert.ErrorIs(t, got.effects[0].err, ErrSyncRequestFailed)
}
