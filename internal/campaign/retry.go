package campaign

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"campaign-delivery/internal/messaging"
	"campaign-delivery/internal/model"
	"campaign-delivery/internal/notifier"
	"campaign-delivery/internal/redisx"
	"campaign-delivery/internal/storage"
)

const retryLockTTL = 5 * time.Minute

type RetryResult struct {
	Requeued int `json:"requeued"`
}

// RetryFailed puts every failed message of a campaign back in the queue,
// along with messages whose processing claim has outlived the lease.
// Messages keep their content snapshot; provider id, reason and delivery
// milestones are cleared so the next send starts clean.
func (s *Service) RetryFailed(ctx context.Context, tenantID, campaignID uuid.UUID) (RetryResult, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return RetryResult{}, err
	}
	if c.TenantID != tenantID {
		return RetryResult{}, storage.ErrNotFound
	}

	release, err := s.locker.TryLock(ctx, "retry-failed:"+campaignID.String(), retryLockTTL)
	if errors.Is(err, redisx.ErrLocked) {
		return RetryResult{}, ErrRetryInProgress
	}
	if err != nil {
		return RetryResult{}, fmt.Errorf("acquire retry lock: %w", err)
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			log.Printf("[Campaign] release retry lock for %s: %v", campaignID, err)
		}
	}()

	now := s.now().UTC()
	staleBefore := time.Time{}
	if s.claimLease > 0 {
		staleBefore = now.Add(-s.claimLease)
	}
	var requeued []*model.Message
	err = s.store.WithinTx(ctx, func(tx storage.Tx) error {
		retryable, err := tx.ListRetryableMessages(ctx, campaignID, staleBefore)
		if err != nil {
			return err
		}
		for _, m := range retryable {
			previous := m.Status
			m.Status = model.StatusQueued
			m.Provider = ""
			m.ProviderMessageID = ""
			m.StatusReason = ""
			m.SentAt, m.DeliveredAt, m.ReadAt, m.FailedAt = nil, nil, nil, nil
			m.QueuedAt = now
			m.UpdatedAt = now
			if err := tx.SaveMessage(ctx, m); err != nil {
				return fmt.Errorf("requeue message %s: %w", m.ID, err)
			}
			if err := tx.AppendStatusEvent(ctx, &model.StatusEvent{
				ID:         uuid.New(),
				MessageID:  m.ID,
				OldStatus:  previous,
				NewStatus:  model.StatusQueued,
				EventAt:    now,
				ReceivedAt: now,
				Reason:     model.ReasonRetryRequested,
			}); err != nil {
				return err
			}
			requeued = append(requeued, m)
		}
		return nil
	})
	if err != nil {
		return RetryResult{}, err
	}

	var publishErr error
	for _, m := range requeued {
		s.notes.Notify(ctx, notifier.FromMessage(m))
		body, err := messaging.EncodeDispatch(m.ID)
		if err == nil {
			err = s.broker.Publish(ctx, messaging.DispatchQueue, body)
		}
		if err != nil {
			publishErr = errors.Join(publishErr, fmt.Errorf("enqueue %s: %w", m.ID, err))
		}
	}
	if publishErr != nil {
		return RetryResult{Requeued: len(requeued)}, publishErr
	}

	log.Printf("[Campaign] requeued %d messages of %s", len(requeued), campaignID)
	return RetryResult{Requeued: len(requeued)}, nil
}
