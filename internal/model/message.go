// internal/model/message.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// Channel identifies the transport a message goes out on.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

type Message struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	TenantID          uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	CampaignID        uuid.UUID  `db:"campaign_id" json:"campaign_id"`
	ContactID         uuid.UUID  `db:"contact_id" json:"contact_id"`
	Channel           Channel    `db:"channel" json:"channel"`
	Status            Status     `db:"status" json:"status"`
	Provider          string     `db:"provider" json:"provider,omitempty"`
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
	StatusReason      string     `db:"status_reason" json:"status_reason,omitempty"`
	ContentSnapshot   string     `db:"content_snapshot" json:"content_snapshot"`
	QueuedAt          time.Time  `db:"queued_at" json:"queued_at"`
	SentAt            *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	ReadAt            *time.Time `db:"read_at" json:"read_at,omitempty"`
	FailedAt          *time.Time `db:"failed_at" json:"failed_at,omitempty"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// Milestone returns the timestamp field tracking s, if any.
func (m *Message) Milestone(s Status) **time.Time {
	switch s {
	case StatusSent:
		return &m.SentAt
	case StatusDelivered:
		return &m.DeliveredAt
	case StatusRead:
		return &m.ReadAt
	case StatusFailed:
		return &m.FailedAt
	}
	return nil
}

// ProviderMapping ties a message to the id a provider assigned to it.
type ProviderMapping struct {
	MessageID         uuid.UUID `db:"message_id" json:"message_id"`
	Provider          string    `db:"provider" json:"provider"`
	ProviderMessageID string    `db:"provider_message_id" json:"provider_message_id"`
	ProviderStatus    string    `db:"provider_status" json:"provider_status"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// StatusEvent is an append-only audit row for one transition.
type StatusEvent struct {
	ID                uuid.UUID `db:"id" json:"id"`
	MessageID         uuid.UUID `db:"message_id" json:"message_id"`
	ProviderMessageID string    `db:"provider_message_id" json:"provider_message_id,omitempty"`
	OldStatus         Status    `db:"old_status" json:"old_status"`
	NewStatus         Status    `db:"new_status" json:"new_status"`
	EventAt           time.Time `db:"event_at" json:"event_at"`
	ReceivedAt        time.Time `db:"received_at" json:"received_at"`
	Reason            string    `db:"reason" json:"reason,omitempty"`
}
