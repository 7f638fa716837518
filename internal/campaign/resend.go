// Package campaign holds campaign level workflows: resending to contacts
// who never read the original, and re-queueing failed messages.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"campaign-delivery/internal/metrics"
	"campaign-delivery/internal/model"
	"campaign-delivery/internal/notifier"
	"campaign-delivery/internal/storage"
)

// DefaultCooldown is how long after the origin was sent a resend is allowed.
const DefaultCooldown = 24 * time.Hour

type ResendResult struct {
	CampaignID   uuid.UUID `json:"campaignId"`
	AudienceSize int       `json:"audienceSize"`
}

// Resend creates a follow-up campaign addressed to every contact whose most
// recent message in the origin is not read. The origin row stays locked for
// the whole transaction, so concurrent calls see each other's resend.
func (s *Service) Resend(ctx context.Context, tenantID, originID uuid.UUID) (ResendResult, error) {
	var out ResendResult
	now := s.now().UTC()

	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		origin, err := tx.LockCampaign(ctx, originID)
		if err != nil {
			return err
		}
		if origin.TenantID != tenantID {
			return storage.ErrNotFound
		}
		if origin.IsResend() {
			return ErrOriginIsResend
		}

		if _, err := tx.FindResendOf(ctx, originID); err == nil {
			return ErrAlreadyResent
		} else if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("find existing resend: %w", err)
		}

		if origin.SentAt == nil {
			return &PolicyError{Code: CodeCooldownNotElapsed, Message: "origin campaign has not been sent"}
		}
		if ready := origin.SentAt.Add(s.cooldown); now.Before(ready) {
			return &PolicyError{
				Code:    CodeCooldownNotElapsed,
				Message: fmt.Sprintf("resend allowed after %s", ready.Format(time.RFC3339)),
			}
		}

		audience, err := tx.ListNonReaders(ctx, originID)
		if err != nil {
			return fmt.Errorf("select non-readers: %w", err)
		}

		originRef := origin.ID
		resend := &model.Campaign{
			ID:                 uuid.New(),
			TenantID:           origin.TenantID,
			Name:               origin.Name + " (resend)",
			Channel:            origin.Channel,
			Content:            origin.Content,
			Status:             "draft",
			ResendOfCampaignID: &originRef,
			CreatedAt:          now,
		}
		if err := tx.InsertCampaign(ctx, resend); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return ErrAlreadyResent
			}
			return fmt.Errorf("insert resend campaign: %w", err)
		}
		if err := tx.InsertAudience(ctx, resend.ID, audience); err != nil {
			return fmt.Errorf("insert audience: %w", err)
		}

		out = ResendResult{CampaignID: resend.ID, AudienceSize: len(audience)}
		return nil
	})
	if err != nil {
		var pe *PolicyError
		if errors.As(err, &pe) {
			metrics.ResendRequests.WithLabelValues(string(pe.Code)).Inc()
		} else {
			metrics.ResendRequests.WithLabelValues("error").Inc()
		}
		return ResendResult{}, err
	}

	metrics.ResendRequests.WithLabelValues("created").Inc()
	s.notes.Notify(ctx, notifier.StatusNotification{TenantID: tenantID, CampaignID: out.CampaignID})
	log.Printf("[Campaign] resend %s of %s created for %d contacts", out.CampaignID, originID, out.AudienceSize)
	return out, nil
}
