package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bark-labs/bark-push-sdk/internal/model"
	"github.com/bark-labs/bark-push-sdk/internal/storage"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrRegistrationNotFound = errors.New("device registration not found")
	ErrClientIDMismatch     = errors.New("clientId does not match the authenticated client")
	ErrDeviceAuth           = errors.New("device credentials rejected")
	ErrInvalidRegistration  = errors.New("invalid device registration")
)

// DeviceCredentials proves control of a registered device: its identity token or its secret.
type DeviceCredentials struct {
	IdentityToken string
	Secret        string
}

// RegistrationService manages device registrations for the sandbox server.
type RegistrationService struct {
	store    storage.RegistrationStore
	auth     *AuthService
	validate *validator.Validate
}

// NewRegistrationService constructs RegistrationService.
func NewRegistrationService(store storage.RegistrationStore, auth *AuthService) *RegistrationService {
	return &RegistrationService{store: store, auth: auth, validate: validator.New()}
}

// Register creates the registration for details.ID, or refreshes it when the
// same device registers again with its secret.
func (s *RegistrationService) Register(ctx context.Context, callerClientID string, details model.DeviceDetails) (*model.RegistrationResponse, error) {
	if err := s.check(callerClientID, details); err != nil {
		return nil, err
	}
	if strings.TrimSpace(details.DeviceSecret) == "" {
		return nil, fmt.Errorf("%w: deviceSecret is required", ErrInvalidRegistration)
	}

	reg, err := s.store.GetRegistration(ctx, details.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		reg = &model.Registration{DeviceID: details.ID}
	case err != nil:
		return nil, err
	default:
		if !secretMatches(reg.SecretHash, details.DeviceSecret) {
			return nil, ErrDeviceAuth
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(details.DeviceSecret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	reg.SecretHash = string(hash)
	return s.save(ctx, reg, details)
}

// Update rewrites an existing registration. The caller proves control of the
// device with creds; the clientId may only move to the authenticated one.
func (s *RegistrationService) Update(ctx context.Context, callerClientID, deviceID string, creds DeviceCredentials, details model.DeviceDetails) (*model.RegistrationResponse, error) {
	if details.ID == "" {
		details.ID = deviceID
	}
	if details.ID != deviceID {
		return nil, fmt.Errorf("%w: device id does not match the path", ErrInvalidRegistration)
	}
	if err := s.check(callerClientID, details); err != nil {
		return nil, err
	}
	reg, err := s.authorize(ctx, deviceID, creds)
	if err != nil {
		return nil, err
	}
	return s.save(ctx, reg, details)
}

// Delete removes a registration after checking creds.
func (s *RegistrationService) Delete(ctx context.Context, deviceID string, creds DeviceCredentials) error {
	if _, err := s.authorize(ctx, deviceID, creds); err != nil {
		return err
	}
	if err := s.store.DeleteRegistration(ctx, deviceID); err != nil {
		return notFound(err)
	}
	return nil
}

// Get returns a registration by device id.
func (s *RegistrationService) Get(ctx context.Context, deviceID string) (*model.Registration, error) {
	reg, err := s.store.GetRegistration(ctx, deviceID)
	if err != nil {
		return nil, notFound(err)
	}
	return reg, nil
}

// List returns all registrations.
func (s *RegistrationService) List(ctx context.Context) ([]*model.Registration, error) {
	return s.store.ListRegistrations(ctx)
}

// ListViews returns masked registration views.
func (s *RegistrationService) ListViews(ctx context.Context) ([]*model.RegistrationView, error) {
	regs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]*model.RegistrationView, 0, len(regs))
	for _, reg := range regs {
		views = append(views, toView(reg))
	}
	return views, nil
}

// Page returns one page of masked views. pageNum starts at 1.
func (s *RegistrationService) Page(ctx context.Context, pageNum, pageSize int) (*model.RegistrationPage, error) {
	views, err := s.ListViews(ctx)
	if err != nil {
		return nil, err
	}
	if pageNum < 1 {
		pageNum = 1
	}
	if pageSize <= 0 {
		pageSize = 10
	}
	total := len(views)
	start := min((pageNum-1)*pageSize, total)
	end := min(start+pageSize, total)
	return &model.RegistrationPage{
		Data:     views[start:end],
		Total:    total,
		Pages:    (total + pageSize - 1) / pageSize,
		PageNum:  pageNum,
		PageSize: pageSize,
	}, nil
}

// Counts returns how many registrations are active and in total.
func (s *RegistrationService) Counts(ctx context.Context) (active, all int, err error) {
	regs, err := s.List(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, reg := range regs {
		if strings.EqualFold(reg.Status, model.RegistrationStatusActive) || reg.Status == "" {
			active++
		}
	}
	return active, len(regs), nil
}

func (s *RegistrationService) check(callerClientID string, details model.DeviceDetails) error {
	if err := s.validate.Struct(details); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRegistration, err)
	}
	if details.ClientID != "" && details.ClientID != callerClientID {
		return ErrClientIDMismatch
	}
	return nil
}

func (s *RegistrationService) authorize(ctx context.Context, deviceID string, creds DeviceCredentials) (*model.Registration, error) {
	reg, err := s.store.GetRegistration(ctx, deviceID)
	if err != nil {
		return nil, notFound(err)
	}
	if creds.IdentityToken != "" {
		if _, err := s.auth.ValidateIdentityToken(creds.IdentityToken, deviceID); err != nil {
			return nil, errors.Join(ErrDeviceAuth, err)
		}
		return reg, nil
	}
	if creds.Secret != "" && secretMatches(reg.SecretHash, creds.Secret) {
		return reg, nil
	}
	return nil, ErrDeviceAuth
}

func (s *RegistrationService) save(ctx context.Context, reg *model.Registration, details model.DeviceDetails) (*model.RegistrationResponse, error) {
	reg.ClientID = details.ClientID
	reg.Platform = details.Platform
	reg.FormFactor = details.FormFactor
	reg.DeviceToken = details.Push.Recipient.DeviceToken
	reg.Status = model.RegistrationStatusActive
	if err := s.store.UpsertRegistration(ctx, reg); err != nil {
		return nil, err
	}
	token, err := s.auth.IssueIdentityToken(reg.DeviceID, reg.ClientID)
	if err != nil {
		return nil, err
	}
	details.DeviceSecret = ""
	details.Push.State = model.RegistrationStatusActive
	return &model.RegistrationResponse{DeviceDetails: details, IdentityToken: token}, nil
}

func secretMatches(hash, secret string) bool {
	return hash != "" && bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

func notFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrRegistrationNotFound
	}
	return err
}

func toView(reg *model.Registration) *model.RegistrationView {
	if reg == nil {
		return nil
	}
	return &model.RegistrationView{
		DeviceID:    reg.DeviceID,
		ClientID:    reg.ClientID,
		Platform:    reg.Platform,
		FormFactor:  reg.FormFactor,
		DeviceToken: maskValue(reg.DeviceToken),
		Status:      reg.Status,
	}
}

func maskValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	length := len(runes)
	if length <= 4 {
		return value
	}
	masked := make([]rune, length-4)
	for i := range masked {
		masked[i] = '*'
	}
	return string(runes[:4]) + string(masked)
}
