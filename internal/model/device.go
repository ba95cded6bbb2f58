package model

import "time"

// LocalDeviceVersion is the current version of the persisted LocalDevice record.
const LocalDeviceVersion = 1

// LocalDevice is the identity this installation registers for push notifications.
type LocalDevice struct {
	Version       int            `json:"version"`
	ID            string         `json:"id"`
	Secret        string         `json:"secret"`
	ClientID      string         `json:"clientId,omitempty"`
	Platform      string         `json:"platform,omitempty"`
	FormFactor    string         `json:"formFactor,omitempty"`
	PushToken     string         `json:"pushToken,omitempty"`
	IdentityToken *IdentityToken `json:"identityToken,omitempty"`
}

// IdentityToken proves a completed device registration.
type IdentityToken struct {
	Token      string    `json:"token"`
	Issued     time.Time `json:"issued"`
	Expires    time.Time `json:"expires"`
	Capability string    `json:"capability,omitempty"`
	ClientID   string    `json:"clientId,omitempty"`
}

// Matches reports whether the token was issued for clientID. An absent and an
// empty clientId both mean the anonymous identity.
func (t *IdentityToken) Matches(clientID string) bool {
	if t == nil {
		return clientID == ""
	}
	return t.ClientID == clientID
}

// Registered reports whether the device holds a completed registration.
func (d *LocalDevice) Registered() bool {
	return d != nil && d.IdentityToken != nil
}

// Clone returns a deep copy so snapshots never share the identity token.
func (d LocalDevice) Clone() LocalDevice {
	if d.IdentityToken != nil {
		token := *d.IdentityToken
		d.IdentityToken = &token
	}
	return d
}

// Details builds the registration payload sent to the registration service.
func (d LocalDevice) Details() DeviceDetails {
	return DeviceDetails{
		ID:           d.ID,
		ClientID:     d.ClientID,
		Platform:     d.Platform,
		FormFactor:   d.FormFactor,
		DeviceSecret: d.Secret,
		Push: PushDetails{
			Recipient: PushRecipient{
				TransportType: TransportBark,
				DeviceToken:   d.PushToken,
			},
		},
	}
}

// TransportBark is the only push transport the registration service accepts.
const TransportBark = "bark"

// DeviceDetails is the wire form of a device registration request.
type DeviceDetails struct {
	ID           string      `json:"id" validate:"required"`
	ClientID     string      `json:"clientId,omitempty"`
	Platform     string      `json:"platform" validate:"required"`
	FormFactor   string      `json:"formFactor" validate:"required"`
	DeviceSecret string      `json:"deviceSecret,omitempty"`
	Push         PushDetails `json:"push"`
}

// PushDetails describes where pushes for the device are delivered.
type PushDetails struct {
	Recipient PushRecipient `json:"recipient"`
	State     string        `json:"state,omitempty"`
}

// PushRecipient names the transport and its device token.
type PushRecipient struct {
	TransportType string `json:"transportType" validate:"required,oneof=bark"`
	DeviceToken   string `json:"deviceToken" validate:"required"`
}

// Registration is the server-side record of a registered device.
type Registration struct {
	DeviceID    string    `json:"deviceId"`
	ClientID    string    `json:"clientId,omitempty"`
	Platform    string    `json:"platform"`
	FormFactor  string    `json:"formFactor"`
	DeviceToken string    `json:"deviceToken"`
	SecretHash  string    `json:"secretHash"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// RegistrationStatusActive marks a registration that accepts pushes.
const RegistrationStatusActive = "ACTIVE"

// RegistrationResponse is returned by create and update calls.
type RegistrationResponse struct {
	DeviceDetails
	IdentityToken *IdentityToken `json:"identityToken,omitempty"`
}
