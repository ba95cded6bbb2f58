package push

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bark-labs/bark-push-sdk/internal/model"
	"github.com/bark-labs/bark-push-sdk/internal/storage"
	"github.com/bark-labs/bark-push-sdk/internal/storage/memory"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu        sync.Mutex
	creates   []model.LocalDevice
	updates   []model.LocalDevice
	deletes   []model.LocalDevice
	createErr error
	updateErr error
	deleteErr error
	hold      chan struct{}
}

func tokenFor(dev model.LocalDevice) *model.IdentityToken {
	now := time.Now().UTC()
	return &model.IdentityToken{
		Token:    "identity-" + dev.ID,
		Issued:   now,
		Expires:  now.Add(time.Hour),
		ClientID: dev.ClientID,
	}
}

func (c *fakeClient) begin(call string, dev model.LocalDevice) (chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch call {
	case "create":
		c.creates = append(c.creates, dev)
		return c.hold, c.createErr
	case "update":
		c.updates = append(c.updates, dev)
		return c.hold, c.updateErr
	default:
		c.deletes = append(c.deletes, dev)
		return c.hold, c.deleteErr
	}
}

func wait(ctx context.Context, hold chan struct{}) error {
	if hold == nil {
		return nil
	}
	select {
	case <-hold:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeClient) CreateRegistration(ctx context.Context, dev model.LocalDevice) (*model.IdentityToken, error) {
	hold, err := c.begin("create", dev)
	if werr := wait(ctx, hold); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	return tokenFor(dev), nil
}

func (c *fakeClient) UpdateRegistration(ctx context.Context, dev model.LocalDevice) (*model.IdentityToken, error) {
	hold, err := c.begin("update", dev)
	if werr := wait(ctx, hold); werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	return tokenFor(dev), nil
}

func (c *fakeClient) DeleteRegistration(ctx context.Context, dev model.LocalDevice) error {
	hold, err := c.begin("delete", dev)
	if werr := wait(ctx, hold); werr != nil {
		return werr
	}
	return err
}

func (c *fakeClient) set(fn func(c *fakeClient)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func (c *fakeClient) counts() (creates, updates, deletes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.creates), len(c.updates), len(c.deletes)
}

func (c *fakeClient) lastUpdate() model.LocalDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates[len(c.updates)-1]
}

type recorder struct {
	mu           sync.Mutex
	activated    []error
	deactivated  []error
	updateFailed []error
}

func (r *recorder) OnActivationFinished(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activated = append(r.activated, err)
}

func (r *recorder) OnDeactivationFinished(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deactivated = append(r.deactivated, err)
}

func (r *recorder) OnRegistrationUpdateFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateFailed = append(r.updateFailed, err)
}

func (r *recorder) results() (activated, deactivated, updateFailed []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.activated...),
		append([]error(nil), r.deactivated...),
		append([]error(nil), r.updateFailed...)
}

type harness struct {
	t        *testing.T
	store    storage.Storage
	client   *fakeClient
	delegate *recorder
	m        *Machine
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWithStore(t, memory.New(), opts...)
}

func newHarnessWithStore(t *testing.T, store storage.Storage, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, store: store, client: &fakeClient{}, delegate: &recorder{}}
	h.start(opts...)
	return h
}

var errDiskFull = errors.New("disk full")

// flakyStore fails every Set while failing is true.
type flakyStore struct {
	*memory.Store
	failing atomic.Bool
}

func (s *flakyStore) Set(ctx context.Context, key string, value []byte) error {
	if s.failing.Load() {
		return errDiskFull
	}
	return s.Store.Set(ctx, key, value)
}

// start (re)creates the machine over the harness store.
func (h *harness) start(opts ...Option) {
	h.t.Helper()
	opts = append([]Option{WithDelegate(h.delegate)}, opts...)
	m, err := New(context.Background(), h.store, h.client, opts...)
	require.NoError(h.t, err)
	h.m = m
	h.t.Cleanup(func() { m.Close() })
}

func (h *harness) settle() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.m.settle(ctx))
}

// activate drives a fresh machine to the registered state with the given push token.
func (h *harness) activate(pushToken string) {
	h.t.Helper()
	h.m.GotPushToken(pushToken)
	h.m.Activate()
	h.settle()
	require.Equal(h.t, WaitingForNewPushDeviceDetails, h.m.State().Kind)
}

// drain waits until every event queued so far has been processed, even when
// requests are still outstanding.
func (h *harness) drain() {
	h.t.Helper()
	reply := make(chan bool, 1)
	h.m.HandleEvent(barrier{reply: reply})
	select {
	case <-reply:
	case <-time.After(5 * time.Second):
		h.t.Fatal("machine did not drain")
	}
}
