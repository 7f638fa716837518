// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"campaign-delivery/internal/model"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrConflict = errors.New("storage: conflict")
)

// Store is the read side of the pipeline plus the transactional entry point
// used for every status mutation.
type Store interface {
	GetMessage(ctx context.Context, id uuid.UUID) (*model.Message, error)
	GetContact(ctx context.Context, id uuid.UUID) (*model.Contact, error)
	GetCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	GetChannelSettings(ctx context.Context, tenantID uuid.UUID, channel model.Channel) (*model.ChannelSettings, error)
	FindMappingByProviderID(ctx context.Context, provider, providerMessageID string) (*model.ProviderMapping, error)
	FindResendOf(ctx context.Context, originID uuid.UUID) (*model.Campaign, error)
	CampaignCounts(ctx context.Context, campaignID uuid.UUID) (model.StatusCounts, error)
	ListStatusEvents(ctx context.Context, messageID uuid.UUID) ([]model.StatusEvent, error)

	// WithinTx runs fn in a single transaction, rolling back when fn errors.
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of row-level operations available inside WithinTx.
type Tx interface {
	// LockMessage loads a message and holds its row lock until commit.
	LockMessage(ctx context.Context, id uuid.UUID) (*model.Message, error)
	// SaveMessage persists status, reason, provider fields and milestones as given.
	SaveMessage(ctx context.Context, m *model.Message) error
	AppendStatusEvent(ctx context.Context, ev *model.StatusEvent) error
	UpsertProviderMapping(ctx context.Context, pm *model.ProviderMapping) error
	RefreshMappingStatus(ctx context.Context, messageID uuid.UUID, provider, status string, at time.Time) error
	// ListRetryableMessages locks the campaign's failed messages plus those
	// stuck in processing since before staleBefore.
	ListRetryableMessages(ctx context.Context, campaignID uuid.UUID, staleBefore time.Time) ([]*model.Message, error)

	LockCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	FindResendOf(ctx context.Context, originID uuid.UUID) (*model.Campaign, error)
	// ListNonReaders returns contacts whose latest message in the campaign is not read.
	ListNonReaders(ctx context.Context, campaignID uuid.UUID) ([]uuid.UUID, error)
	InsertCampaign(ctx context.Context, c *model.Campaign) error
	InsertAudience(ctx context.Context, campaignID uuid.UUID, contactIDs []uuid.UUID) error
}
