// Package push implements device activation for push notifications: a single
// goroutine state machine that registers, updates and deregisters the local
// device with the registration service and keeps the result on disk.
package push

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bark-labs/bark-push-sdk/internal/logging"
	"github.com/bark-labs/bark-push-sdk/internal/model"
	"github.com/bark-labs/bark-push-sdk/internal/storage"
)

// Option configures a Machine.
type Option func(*Machine)

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPlatform sets where push tokens are requested from. Without one the
// machine waits for GotPushToken.
func WithPlatform(p Platform) Option {
	return func(m *Machine) { m.platform = p }
}

func WithDelegate(d Delegate) Option {
	return func(m *Machine) {
		if d != nil {
			m.delegate = d
		}
	}
}

// WithDeviceInfo sets platform and form factor for a newly created LocalDevice.
func WithDeviceInfo(platform, formFactor string) Option {
	return func(m *Machine) {
		m.devicePlatform = platform
		m.deviceFormFactor = formFactor
	}
}

type snapshot struct {
	state  State
	device model.LocalDevice
}

// Machine is the activation state machine. All transitions run on one
// goroutine; the exported methods only enqueue events and never block.
type Machine struct {
	store    storage.Storage
	client   RegistrationClient
	platform Platform
	delegate Delegate
	logger   *slog.Logger

	devicePlatform   string
	deviceFormFactor string

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	inbox  []Event
	wake   chan struct{}
	closed bool
	done   chan struct{}

	calls       sync.WaitGroup
	outstanding atomic.Int64

	// owned by the run goroutine
	state        State
	pending      []Event
	device       model.LocalDevice
	authClientID string
	inFlight     bool

	current atomic.Pointer[snapshot]
}

// New restores the persisted device and activation state from store and
// starts the machine.
func New(ctx context.Context, store storage.Storage, client RegistrationClient, opts ...Option) (*Machine, error) {
	m := &Machine{
		store:            store,
		client:           client,
		delegate:         DelegateFuncs{},
		logger:           logging.Discard(),
		devicePlatform:   "linux",
		deviceFormFactor: "desktop",
		wake:             make(chan struct{}, 1),
		done:             make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	dev, err := loadDevice(ctx, store, m.devicePlatform, m.deviceFormFactor)
	if err != nil {
		return nil, err
	}
	state, pending, authClientID, err := loadActivation(ctx, store)
	if err != nil {
		return nil, err
	}
	m.device = dev
	m.state = state
	m.pending = pending
	m.authClientID = authClientID
	m.publish()

	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.logger.Debug("activation machine restored", "state", state.String(), "pending", len(pending), "deviceId", dev.ID)
	go m.run()
	return m, nil
}

func (m *Machine) Activate()   { m.HandleEvent(CalledActivate{}) }
func (m *Machine) Deactivate() { m.HandleEvent(CalledDeactivate{}) }

// GotPushToken reports a push token from the platform. It may be called at any time.
func (m *Machine) GotPushToken(token string) {
	m.HandleEvent(GotPushDeviceDetails{PushToken: token})
}

func (m *Machine) PushTokenFailed(err error) {
	m.HandleEvent(GettingPushDeviceDetailsFailed{Err: err})
}

// AuthenticatedClientIDChanged is the auth layer hook. Repeated values are suppressed.
func (m *Machine) AuthenticatedClientIDChanged(clientID string) {
	m.HandleEvent(AuthenticatedClientIDChanged{ClientID: clientID})
}

// HandleEvent enqueues e. Events after Close are dropped.
func (m *Machine) HandleEvent(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.inbox = append(m.inbox, e)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// State returns the last persisted activation state.
func (m *Machine) State() State {
	return m.current.Load().state
}

// Device returns a copy of the last persisted LocalDevice.
func (m *Machine) Device() model.LocalDevice {
	return m.current.Load().device.Clone()
}

// Close stops the event loop, cancels outstanding requests and waits for them
// to return. Their results are dropped.
func (m *Machine) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.wake)
	m.mu.Unlock()
	<-m.done
	m.cancel()
	m.calls.Wait()
	return nil
}

func (m *Machine) next() (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.inbox) == 0 {
		return nil, false
	}
	e := m.inbox[0]
	m.inbox[0] = nil
	m.inbox = m.inbox[1:]
	return e, true
}

func (m *Machine) idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inbox) == 0 && m.outstanding.Load() == 0
}

func (m *Machine) run() {
	defer close(m.done)
	for range m.wake {
		for {
			e, ok := m.next()
			if !ok {
				break
			}
			if b, isBarrier := e.(barrier); isBarrier {
				b.reply <- m.idle()
				continue
			}
			m.process(e)
		}
	}
}

func (m *Machine) facts() Facts {
	return Facts{
		PushToken:    m.device.PushToken,
		Identity:     m.device.IdentityToken,
		AuthClientID: m.authClientID,
		InFlight:     m.inFlight,
	}
}

// process handles one external event. When the state changes, deferred
// events are replayed in arrival order until one is still deferred.
func (m *Machine) process(e Event) {
	if ev, ok := e.(AuthenticatedClientIDChanged); ok {
		m.authClientID = ev.ClientID
	}
	if !m.apply(e) {
		return
	}
	for len(m.pending) > 0 {
		head := m.pending[0]
		s := transition(m.state, head, m.facts())
		if s.outcome == deferred {
			return
		}
		m.pending = m.pending[1:]
		m.logger.Debug("replaying deferred event", "event", head.Name(), "state", m.state.String(), "outcome", s.outcome.String())
		if s.outcome == handled {
			m.commit(head, s)
		} else {
			m.persist(false)
		}
	}
}

// apply runs the transition for e and reports whether the state kind changed.
func (m *Machine) apply(e Event) bool {
	s := transition(m.state, e, m.facts())
	switch s.outcome {
	case deferred:
		m.pending = append(m.pending, e)
		m.logger.Debug("event deferred", "event", e.Name(), "state", m.state.String(), "pending", len(m.pending))
		m.persist(false)
		return false
	case ignored, suppressed:
		m.logger.Debug("event "+s.outcome.String(), "event", e.Name(), "state", m.state.String())
		if _, ok := e.(AuthenticatedClientIDChanged); ok {
			m.persist(false)
		}
		return false
	}
	return m.commit(e, s)
}

// commit applies a handled step: local mutations, persistence, then requests
// and delegate notifications.
func (m *Machine) commit(e Event, s step) bool {
	prev := m.state
	if s.next.Kind != prev.Kind {
		m.inFlight = false
	}
	deviceChanged := false
	for _, eff := range s.effects {
		deviceChanged = m.mutate(eff) || deviceChanged
	}
	m.state = s.next
	persistErr := m.persist(deviceChanged)
	if s.next != prev {
		m.logger.Debug("activation transition", "event", e.Name(), "from", prev.String(), "to", s.next.String())
	}

	skipped := false
	for _, eff := range s.effects {
		// requests only go out once the state that awaits them is durable
		if persistErr != nil && eff.kind.request() {
			skipped = true
			continue
		}
		m.execute(eff)
	}
	if skipped {
		m.notifyNotPersisted(persistErr)
	}
	return s.next.Kind != prev.Kind
}

// notifyNotPersisted reports a skipped request to whoever waits on the
// current state. Nothing is in flight, so the next Activate or Deactivate
// sends it again.
func (m *Machine) notifyNotPersisted(err error) {
	err = fmt.Errorf("%w: %w", ErrStateNotPersisted, err)
	switch {
	case m.state.Kind == WaitingForDeregistration:
		m.execute(notifyDeactivated(err))
	case m.state.Kind == WaitingForRegistrationSync && !m.state.FromCalledActivate:
		m.execute(effect{kind: effNotifyUpdateFailed, err: err})
	default:
		m.execute(notifyActivated(err))
	}
}

// mutate applies the local part of an effect and reports whether the device changed.
func (m *Machine) mutate(eff effect) bool {
	switch eff.kind {
	case effStorePushToken:
		m.device.PushToken = eff.pushToken
	case effStoreClientID:
		m.device.ClientID = eff.clientID
	case effSaveIdentity:
		token := eff.token
		if token == nil && m.device.IdentityToken != nil {
			kept := *m.device.IdentityToken
			kept.ClientID = eff.clientID
			token = &kept
		}
		if token == nil {
			return false
		}
		m.device.IdentityToken = token
		m.device.ClientID = token.ClientID
	case effClearRegistration:
		m.device.IdentityToken = nil
		m.device.PushToken = ""
	default:
		return false
	}
	return true
}

func (m *Machine) persist(deviceChanged bool) error {
	ctx := m.ctx
	var firstErr error
	if deviceChanged {
		if err := saveDevice(ctx, m.store, m.device); err != nil {
			m.logger.Error("persist local device failed", "error", err)
			firstErr = err
		}
	}
	if err := saveActivation(ctx, m.store, m.state, m.pending, m.authClientID); err != nil {
		m.logger.Error("persist activation state failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	m.publish()
	return firstErr
}

func (m *Machine) publish() {
	m.current.Store(&snapshot{state: m.state, device: m.device.Clone()})
}

func (m *Machine) execute(eff effect) {
	switch eff.kind {
	case effRequestPushDetails:
		if m.platform == nil {
			m.logger.Debug("no platform configured, waiting for a push token")
			return
		}
		m.dispatch(func(ctx context.Context) Event {
			token, err := m.platform.RequestPushDetails(ctx)
			if err != nil {
				return GettingPushDeviceDetailsFailed{Err: err}
			}
			return GotPushDeviceDetails{PushToken: token}
		})
	case effCreateRegistration:
		dev := m.requestDevice(eff.clientID)
		m.dispatch(func(ctx context.Context) Event {
			token, err := m.client.CreateRegistration(ctx, dev)
			return registrationResult(token, err)
		})
	case effReregister:
		dev := m.requestDevice(eff.clientID)
		m.dispatch(func(ctx context.Context) Event {
			token, err := m.client.UpdateRegistration(ctx, dev)
			return registrationResult(token, err)
		})
	case effSyncRegistration:
		dev := m.requestDevice(eff.clientID)
		m.dispatch(func(ctx context.Context) Event {
			token, err := m.client.UpdateRegistration(ctx, dev)
			if err != nil {
				return SyncRegistrationFailed{Err: err}
			}
			return RegistrationSynced{Token: token}
		})
	case effDeleteRegistration:
		dev := m.device.Clone()
		m.dispatch(func(ctx context.Context) Event {
			if err := m.client.DeleteRegistration(ctx, dev); err != nil {
				return DeregistrationFailed{Err: err}
			}
			return Deregistered{}
		})
	case effNotifyActivated:
		m.logResult("activation finished", eff.err)
		m.delegate.OnActivationFinished(eff.err)
	case effNotifyDeactivated:
		m.logResult("deactivation finished", eff.err)
		m.delegate.OnDeactivationFinished(eff.err)
	case effNotifyUpdateFailed:
		m.logResult("registration update failed", eff.err)
		m.delegate.OnRegistrationUpdateFailed(eff.err)
	}
}

func registrationResult(token *model.IdentityToken, err error) Event {
	if err != nil {
		return GettingDeviceRegistrationFailed{Err: err}
	}
	if token == nil {
		return GettingDeviceRegistrationFailed{Err: ErrMissingIdentityToken}
	}
	return GotDeviceRegistration{Token: token}
}

// requestDevice is the device as it should be registered under clientID.
func (m *Machine) requestDevice(clientID string) model.LocalDevice {
	dev := m.device.Clone()
	dev.ClientID = clientID
	return dev
}

func (m *Machine) logResult(msg string, err error) {
	if err != nil {
		m.logger.Warn(msg, "error", err, "deviceId", m.device.ID)
		return
	}
	m.logger.Info(msg, "deviceId", m.device.ID, "state", m.state.String())
}

// dispatch runs call in its own goroutine and feeds its result back as an event.
func (m *Machine) dispatch(call func(ctx context.Context) Event) {
	m.inFlight = true
	m.outstanding.Add(1)
	m.calls.Add(1)
	go func() {
		defer m.calls.Done()
		e := call(m.ctx)
		m.HandleEvent(e)
		m.outstanding.Add(-1)
	}()
}

// settle blocks until no events are queued and no requests are outstanding.
func (m *Machine) settle(ctx context.Context) error {
	for {
		reply := make(chan bool, 1)
		m.HandleEvent(barrier{reply: reply})
		select {
		case ok := <-reply:
			if ok {
				return nil
			}
			time.Sleep(time.Millisecond)
		case <-ctx.Done():
			return fmt.Errorf("machine did not settle: %w", ctx.Err())
		}
	}
}
