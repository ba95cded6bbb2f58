// Package auth tracks the client token the SDK authenticates with and tells
// listeners which clientId it carries.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bark-labs/bark-push-sdk/internal/logging"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidClientToken = errors.New("invalid client token")

// Claims is the part of a client token the SDK reads.
type Claims struct {
	ClientID string `json:"clientId,omitempty"`
	jwt.RegisteredClaims
}

// Listener is called with the clientId after every successful Authorize.
type Listener func(clientID string)

// Authorizer holds the current client token.
type Authorizer struct {
	secret []byte
	logger *slog.Logger

	mu        sync.RWMutex
	token     string
	clientID  string
	listeners []Listener
}

// NewAuthorizer returns an Authorizer. With a secret, token signatures are
// verified (HS256); without one, claims are read unverified and the service
// is trusted to reject forged tokens.
func NewAuthorizer(secret string, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = logging.Discard()
	}
	a := &Authorizer{logger: logger}
	if secret != "" {
		a.secret = []byte(secret)
	}
	return a
}

// OnClientID registers l. Listeners run synchronously in Authorize.
func (a *Authorizer) OnClientID(l Listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, l)
}

// Authorize adopts token and reports its clientId to every listener, even when
// it has not changed. An empty token reverts to anonymous.
func (a *Authorizer) Authorize(token string) (string, error) {
	clientID := ""
	if token != "" {
		claims, err := a.parse(token)
		if err != nil {
			return "", err
		}
		clientID = claims.ClientID
	}

	a.mu.Lock()
	a.token = token
	a.clientID = clientID
	listeners := append([]Listener(nil), a.listeners...)
	a.mu.Unlock()

	a.logger.Debug("client authorized", "clientId", clientID)
	for _, l := range listeners {
		l(clientID)
	}
	return clientID, nil
}

func (a *Authorizer) parse(token string) (*Claims, error) {
	claims := &Claims{}
	if a.secret == nil {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidClientToken, err)
		}
		return claims, nil
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidClientToken, err)
	}
	return claims, nil
}

// ClientID is the clientId of the current token; empty means anonymous.
func (a *Authorizer) ClientID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.clientID
}

func (a *Authorizer) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}
