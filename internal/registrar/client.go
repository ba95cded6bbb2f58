// Package registrar is the HTTP client for the device registration API.
package registrar

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/bark-labs/bark-push-sdk/internal/logging"
	"github.com/bark-labs/bark-push-sdk/internal/model"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
)

const (
	HeaderIdentityToken = "X-Device-Identity-Token"
	HeaderDeviceSecret  = "X-Device-Secret"

	registrationsPath = "/push/deviceRegistrations"
)

// Client is a thin wrapper over the registration service HTTP API.
type Client struct {
	baseURL *url.URL
	http    *retryablehttp.Client

	mu    sync.RWMutex
	token string
}

// Option tunes the underlying retrying HTTP client.
type Option func(*retryablehttp.Client)

func WithRetry(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(c *retryablehttp.Client) {
		c.RetryMax = retryMax
		c.RetryWaitMin = waitMin
		c.RetryWaitMax = waitMax
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *retryablehttp.Client) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithHTTPClient replaces the transport client, e.g. with an httptest server client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *retryablehttp.Client) { c.HTTPClient = hc }
}

// New creates a registration API client. token is sent as a bearer client token when set.
func New(rawURL, token string, timeout time.Duration, opts ...Option) (*Client, error) {
	if rawURL == "" {
		return nil, errors.New("base url is required")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, errors.Errorf("base url %q must be an absolute http(s) url", rawURL)
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")

	hc := retryablehttp.NewClient()
	hc.HTTPClient = &http.Client{Timeout: timeout}
	hc.Logger = logging.Discard()
	hc.CheckRetry = retryPolicy
	// keep the final response so the service error body reaches the caller
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	for _, opt := range opts {
		opt(hc)
	}
	if hc.HTTPClient.Timeout == 0 {
		hc.HTTPClient.Timeout = timeout
	}
	return &Client{baseURL: parsed, token: token, http: hc}, nil
}

// retryPolicy retries connection errors and 5xx responses only.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	if resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented {
		return true, nil
	}
	return false, nil
}

// Ping checks registration service health.
func (c *Client) Ping(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/ping", nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// CreateRegistration registers dev and returns the identity token the service issued.
func (c *Client) CreateRegistration(ctx context.Context, dev model.LocalDevice) (*model.IdentityToken, error) {
	req, err := c.newRequest(ctx, http.MethodPost, registrationsPath, dev.Details())
	if err != nil {
		return nil, err
	}
	var out model.RegistrationResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.IdentityToken, nil
}

// UpdateRegistration rewrites the registration for dev, authenticated by its identity token.
// A nil token in the result means the service kept the previous one.
func (c *Client) UpdateRegistration(ctx context.Context, dev model.LocalDevice) (*model.IdentityToken, error) {
	req, err := c.newRequest(ctx, http.MethodPut, registrationsPath+"/"+url.PathEscape(dev.ID), dev.Details())
	if err != nil {
		return nil, err
	}
	deviceAuth(req, dev)
	var out model.RegistrationResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out.IdentityToken, nil
}

// DeleteRegistration removes the registration for dev.
func (c *Client) DeleteRegistration(ctx context.Context, dev model.LocalDevice) error {
	req, err := c.newRequest(ctx, http.MethodDelete, registrationsPath+"/"+url.PathEscape(dev.ID), nil)
	if err != nil {
		return err
	}
	deviceAuth(req, dev)
	return c.do(req, nil)
}

// IssueClientToken asks the service for a client token bound to clientID.
func (c *Client) IssueClientToken(ctx context.Context, username, password, clientID string) (string, error) {
	body := map[string]string{"username": username, "password": password, "clientId": clientID}
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/token", body)
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

// SetToken replaces the bearer client token sent with later requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) clientToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// BaseURL returns the configured service URL without trailing slash.
func (c *Client) BaseURL() string {
	return strings.TrimRight(c.baseURL.String(), "/")
}

func deviceAuth(req *retryablehttp.Request, dev model.LocalDevice) {
	if dev.IdentityToken != nil && dev.IdentityToken.Token != "" {
		req.Header.Set(HeaderIdentityToken, base64.StdEncoding.EncodeToString([]byte(dev.IdentityToken.Token)))
		return
	}
	if dev.Secret != "" {
		req.Header.Set(HeaderDeviceSecret, dev.Secret)
	}
}

func (c *Client) newRequest(ctx context.Context, method, p string, body any) (*retryablehttp.Request, error) {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return nil, errors.Wrap(err, "encode request body")
		}
	}
	var reader io.Reader
	if raw != nil {
		reader = bytes.NewReader(raw)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.resolve(p), reader)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, p)
	}
	req.Header.Set("Accept", "application/json")
	if raw != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.clientToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do sends req and decodes a 2xx body into out. Other statuses become *model.ErrorInfo.
func (c *Client) do(req *retryablehttp.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", req.Method, req.URL.Path)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var payload model.ErrorResponse
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != nil {
		if payload.Error.StatusCode == 0 {
			payload.Error.StatusCode = resp.StatusCode
		}
		return payload.Error
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = resp.Status
	}
	return model.NewError(resp.StatusCode, resp.StatusCode*100, fmt.Sprintf("unexpected response: %s", msg))
}

func (c *Client) resolve(p string) string {
	u := *c.baseURL
	u.Path = path.Join(c.baseURL.Path, p)
	return u.String()
}
