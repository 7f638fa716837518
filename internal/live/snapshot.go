// Package live serves campaign metrics snapshots over a WebSocket stream
// with a polling endpoint sharing the same payload.
package live

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"campaign-delivery/internal/model"
	"campaign-delivery/internal/storage"
)

type CampaignInfo struct {
	ID                 uuid.UUID     `json:"id"`
	Name               string        `json:"name"`
	Channel            model.Channel `json:"channel"`
	Status             string        `json:"status"`
	ResendOfCampaignID *uuid.UUID    `json:"resendOfCampaignId,omitempty"`
}

// ResendUplift compares a campaign with its resend.
type ResendUplift struct {
	ResendCampaignID uuid.UUID `json:"resendCampaignId"`
	OriginalReadRate float64   `json:"originalReadRate"`
	ResendReadRate   float64   `json:"resendReadRate"`
	IncrementalReads int       `json:"incrementalReads"`
}

type Snapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Campaign  CampaignInfo       `json:"campaign"`
	Counts    model.StatusCounts `json:"counts"`
	Resend    *ResendUplift      `json:"resend,omitempty"`
}

// BuildSnapshot recomputes the snapshot for a tenant's campaign from storage.
func BuildSnapshot(ctx context.Context, store storage.Store, tenantID, campaignID uuid.UUID) (Snapshot, error) {
	c, err := store.GetCampaign(ctx, campaignID)
	if err != nil {
		return Snapshot{}, err
	}
	if c.TenantID != tenantID {
		return Snapshot{}, storage.ErrNotFound
	}

	counts, err := store.CampaignCounts(ctx, campaignID)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		Timestamp: time.Now().UTC(),
		Campaign: CampaignInfo{
			ID:                 c.ID,
			Name:               c.Name,
			Channel:            c.Channel,
			Status:             c.Status,
			ResendOfCampaignID: c.ResendOfCampaignID,
		},
		Counts: counts,
	}

	uplift, err := resendUplift(ctx, store, c, counts)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Resend = uplift
	return snap, nil
}

func resendUplift(ctx context.Context, store storage.Store, c *model.Campaign, counts model.StatusCounts) (*ResendUplift, error) {
	var originCounts, resendCounts model.StatusCounts
	var resendID uuid.UUID

	if c.IsResend() {
		oc, err := store.CampaignCounts(ctx, *c.ResendOfCampaignID)
		if err != nil {
			return nil, err
		}
		originCounts, resendCounts, resendID = oc, counts, c.ID
	} else {
		resend, err := store.FindResendOf(ctx, c.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		rc, err := store.CampaignCounts(ctx, resend.ID)
		if err != nil {
			return nil, err
		}
		originCounts, resendCounts, resendID = counts, rc, resend.ID
	}

	return &ResendUplift{
		ResendCampaignID: resendID,
		OriginalReadRate: originCounts.ReadRate(),
		ResendReadRate:   resendCounts.ReadRate(),
		IncrementalReads: resendCounts.Read,
	}, nil
}
