// internal/model/tenant.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsDemo    bool      `db:"is_demo" json:"is_demo"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Contact struct {
	ID        uuid.UUID `db:"id" json:"id"`
	TenantID  uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Phone     string    `db:"phone" json:"phone,omitempty"`
	WhatsApp  string    `db:"whatsapp" json:"whatsapp,omitempty"`
	FirstName string    `db:"first_name" json:"first_name,omitempty"`
	LastName  string    `db:"last_name" json:"last_name,omitempty"`
}

// Address returns the destination for the given channel, or "" when the
// contact cannot be reached on it.
func (c *Contact) Address(ch Channel) string {
	switch ch {
	case ChannelSMS:
		return c.Phone
	case ChannelWhatsApp:
		if c.WhatsApp != "" {
			return c.WhatsApp
		}
		return c.Phone
	}
	return ""
}

// ChannelSettings holds the per-tenant provider configuration for a channel.
// Credentials stay encrypted until the vault opens them.
type ChannelSettings struct {
	TenantID             uuid.UUID `db:"tenant_id" json:"tenant_id"`
	Channel              Channel   `db:"channel" json:"channel"`
	Provider             string    `db:"provider" json:"provider"`
	EncryptedCredentials string    `db:"encrypted_credentials" json:"-"`
	SenderID             string    `db:"sender_id" json:"sender_id"`
	MessagingServiceID   string    `db:"messaging_service_id" json:"messaging_service_id,omitempty"`
	WebhookBaseURL       string    `db:"webhook_base_url" json:"webhook_base_url,omitempty"`
}
