package model

// RegistrationView hides sensitive fields when returning registrations to clients.
type RegistrationView struct {
	DeviceID    string `json:"deviceId"`
	ClientID    string `json:"clientId,omitempty"`
	Platform    string `json:"platform"`
	FormFactor  string `json:"formFactor"`
	DeviceToken string `json:"deviceToken"`
	Status      string `json:"status"`
}
