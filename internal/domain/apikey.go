package domain

import "time"

// APIKeyStatus is the lifecycle state of an API key.
type APIKeyStatus string

const (
	APIKeyActive  APIKeyStatus = "Active"
	APIKeyRevoked APIKeyStatus = "Revoked"
)

// APIKey stores only the hash of its secret; the raw value is shown once.
type APIKey struct {
	ID         string       `json:"id"`
	UserID     string       `json:"userId"`
	Label      string       `json:"label"`
	Token      string       `json:"token"`
	SecretHash string       `json:"-"`
	Status     APIKeyStatus `json:"status"`
	LastUsedAt *time.Time   `json:"lastUsedAt,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// WebhookStatus toggles delivery for a subscription.
type WebhookStatus string

const (
	WebhookActive   WebhookStatus = "active"
	WebhookInactive WebhookStatus = "inactive"
)

// Webhook is a delivery subscription owned by a user.
type Webhook struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	URL       string        `json:"url"`
	Events    []string      `json:"events"`
	Secret    string        `json:"-"`
	Status    WebhookStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Subscribes reports whether the webhook wants event. "*" matches everything.
func (w *Webhook) Subscribes(event string) bool {
	for _, e := range w.Events {
		if e == "*" || e == event {
			return true
		}
	}
	return false
}
