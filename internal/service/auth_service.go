package service

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/bark-labs/bark-push-sdk/internal/config"
	"github.com/bark-labs/bark-push-sdk/internal/model"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// CapabilityPush is granted to every identity token the sandbox issues.
const CapabilityPush = "push-subscribe"

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
)

// AuthService handles admin authentication, client tokens and device identity tokens.
type AuthService struct {
	username    string
	password    string
	secret      []byte
	tokenTTL    time.Duration
	identityTTL time.Duration
	now         func() time.Time
}

// ClientClaims is the payload of a client token.
type ClientClaims struct {
	ClientID string `json:"clientId,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// IdentityClaims is the payload of a device identity token.
type IdentityClaims struct {
	DeviceID   string `json:"deviceId"`
	ClientID   string `json:"clientId,omitempty"`
	Capability string `json:"capability,omitempty"`
	jwt.RegisteredClaims
}

// NewAuthService builds AuthService from config.
func NewAuthService(cfg *config.Config) *AuthService {
	srv := cfg.Server
	username := strings.TrimSpace(srv.Username)
	if username == "" {
		username = "admin"
	}
	password := strings.TrimSpace(srv.Password)
	if password == "" {
		password = "admin123"
	}
	secret := strings.TrimSpace(srv.JWTSecret)
	if secret == "" {
		secret = "bark-push-default-secret"
	}
	tokenTTL := srv.TokenTTL
	if tokenTTL <= 0 {
		tokenTTL = 12 * time.Hour
	}
	identityTTL := srv.IdentityTTL
	if identityTTL <= 0 {
		identityTTL = 30 * 24 * time.Hour
	}
	return &AuthService{
		username:    username,
		password:    password,
		secret:      []byte(secret),
		tokenTTL:    tokenTTL,
		identityTTL: identityTTL,
		now:         time.Now,
	}
}

// Username returns configured admin username.
func (a *AuthService) Username() string {
	return a.username
}

// Authenticate validates admin credentials and returns a client token bound to clientID.
// An empty clientID yields an anonymous client token.
func (a *AuthService) Authenticate(username, password, clientID string) (string, error) {
	if !a.matchUsername(username) || !a.matchPassword(password) {
		return "", ErrInvalidCredentials
	}
	now := a.now()
	claims := ClientClaims{
		ClientID: clientID,
		Username: a.username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses a client token and returns its claims if valid.
func (a *AuthService) Validate(token string) (*ClientClaims, error) {
	claims := &ClientClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, a.key, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	// identity tokens share the key but carry no username
	if !parsed.Valid || claims.Username == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueIdentityToken returns a token proving the registration of deviceID under clientID.
func (a *AuthService) IssueIdentityToken(deviceID, clientID string) (*model.IdentityToken, error) {
	now := a.now().UTC().Truncate(time.Second)
	expires := now.Add(a.identityTTL)
	claims := IdentityClaims{
		DeviceID:   deviceID,
		ClientID:   clientID,
		Capability: CapabilityPush,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, err
	}
	return &model.IdentityToken{
		Token:      signed,
		Issued:     now,
		Expires:    expires,
		Capability: CapabilityPush,
		ClientID:   clientID,
	}, nil
}

// ValidateIdentityToken checks token was issued for deviceID.
func (a *AuthService) ValidateIdentityToken(token, deviceID string) (*IdentityClaims, error) {
	claims := &IdentityClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, a.key, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.DeviceID != deviceID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (a *AuthService) key(*jwt.Token) (any, error) {
	return a.secret, nil
}

func (a *AuthService) matchUsername(input string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(input)), []byte(a.username)) == 1
}

func (a *AuthService) matchPassword(input string) bool {
	if strings.HasPrefix(a.password, "$2a$") || strings.HasPrefix(a.password, "$2b$") || strings.HasPrefix(a.password, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(a.password), []byte(input)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(input), []byte(a.password)) == 1
}
