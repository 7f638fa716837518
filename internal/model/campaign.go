// internal/model/campaign.go
package model

import (
	"time"

	"github.com/google/uuid"
)

type Campaign struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	TenantID           uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	Name               string     `db:"name" json:"name"`
	Channel            Channel    `db:"channel" json:"channel"`
	Content            string     `db:"content" json:"content"`
	Status             string     `db:"status" json:"status"`
	SentAt             *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	ResendOfCampaignID *uuid.UUID `db:"resend_of_campaign_id" json:"resend_of_campaign_id,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

// IsResend reports whether the campaign was derived from another one.
func (c *Campaign) IsResend() bool {
	return c.ResendOfCampaignID != nil
}

// StatusCounts aggregates the current status of a campaign's messages.
type StatusCounts struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Sent       int `json:"sent"`
	Delivered  int `json:"delivered"`
	Read       int `json:"read"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// Add records n messages in status s.
func (c *StatusCounts) Add(s Status, n int) {
	switch s {
	case StatusQueued:
		c.Queued += n
	case StatusProcessing:
		c.Processing += n
	case StatusSent:
		c.Sent += n
	case StatusDelivered:
		c.Delivered += n
	case StatusRead:
		c.Read += n
	case StatusFailed:
		c.Failed += n
	}
	c.Total += n
}

// ReadRate is the share of messages that reached read.
func (c StatusCounts) ReadRate() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Read) / float64(c.Total)
}
