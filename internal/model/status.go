// internal/model/status.go
package model

import "time"

// Status is a message lifecycle state.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusSent       Status = "sent"
	StatusDelivered  Status = "delivered"
	StatusRead       Status = "read"
	StatusFailed     Status = "failed"
)

// Fatal per-message reasons recorded in status_reason.
const (
	ReasonContactAddressMissing = "contact_address_missing"
	ReasonCampaignNotFound      = "campaign_not_found"
	ReasonTenantNotFound        = "tenant_not_found"
	ReasonChannelNotConfigured  = "channel_not_configured"
	ReasonMissingCredentials    = "missing_credentials"
	ReasonUnsupportedChannel    = "unsupported_channel"
	ReasonRetryRequested        = "retry_requested"
	ReasonClaimExpired          = "claim_expired"
)

// DefaultClaimLease is how long a message may sit in processing before
// another delivery or a retry may take it over.
const DefaultClaimLease = 10 * time.Minute

var statusRank = map[Status]int{
	StatusQueued:     0,
	StatusProcessing: 1,
	StatusSent:       2,
	StatusDelivered:  3,
	StatusRead:       4,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// Terminal reports whether no forward transition exists from s.
func (s Status) Terminal() bool {
	return s == StatusRead || s == StatusFailed
}

// CanTransition reports whether moving a message from one status to another
// keeps the lifecycle monotonic. Repeating the current status is allowed.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if to == StatusFailed {
		return true
	}
	if from == StatusFailed {
		return false
	}
	return statusRank[to] > statusRank[from]
}
