// Package scheduler emits synthetic status changes for providers that do
// not report delivery themselves. Events ride delayed queue messages, so a
// restart does not lose them.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"campaign-delivery/internal/messaging"
	"campaign-delivery/internal/model"
	"campaign-delivery/internal/notifier"
	"campaign-delivery/internal/reconciler"
	"campaign-delivery/internal/storage"
)

// Step is one synthetic status emitted After the send.
type Step struct {
	Status model.Status
	After  time.Duration
}

// DefaultSequence mimics a carrier reporting delivery and then a read.
func DefaultSequence(deliveredAfter, readAfter time.Duration) []Step {
	return []Step{
		{Status: model.StatusDelivered, After: deliveredAfter},
		{Status: model.StatusRead, After: readAfter},
	}
}

type Scheduler struct {
	broker   messaging.Broker
	sequence []Step
}

func New(broker messaging.Broker, sequence []Step) *Scheduler {
	return &Scheduler{broker: broker, sequence: sequence}
}

// Schedule enqueues the follow-up sequence for m.
func (s *Scheduler) Schedule(ctx context.Context, m *model.Message) error {
	for _, step := range s.sequence {
		body, err := json.Marshal(messaging.SyntheticStatus{
			MessageID:  m.ID,
			TenantID:   m.TenantID,
			CampaignID: m.CampaignID,
			NewStatus:  step.Status,

			ProviderMessageID: m.ProviderMessageID,
		})
		if err != nil {
			return err
		}
		if err := s.broker.PublishDelayed(ctx, messaging.StatusEventsQueue, body, step.After); err != nil {
			return fmt.Errorf("schedule %s for message %s: %w", step.Status, m.ID, err)
		}
	}
	return nil
}

// Applier consumes status_events and feeds them to the reconciler.
type Applier struct {
	reconciler *reconciler.Reconciler
	notifier   notifier.Notifier
}

func NewApplier(r *reconciler.Reconciler, n notifier.Notifier) *Applier {
	return &Applier{reconciler: r, notifier: n}
}

// Handle never returns an error for malformed or stale events; they are
// logged and acknowledged. Storage failures are returned so the delivery
// is dead-lettered.
func (a *Applier) Handle(ctx context.Context, body []byte) error {
	ev, err := messaging.DecodeSyntheticStatus(body)
	if err != nil {
		log.Printf("[Scheduler] dropping malformed event: %v", err)
		return nil
	}

	res, err := a.reconciler.ApplyStatus(ctx, reconciler.Change{
		MessageID: ev.MessageID,
		Status:    ev.NewStatus,
		EventAt:   time.Now(),
		Attempt:   ev.ProviderMessageID,
	})
	if errors.Is(err, storage.ErrNotFound) {
		log.Printf("[Scheduler] message %s no longer exists", ev.MessageID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply %s to %s: %w", ev.NewStatus, ev.MessageID, err)
	}
	if res.Skipped {
		return nil
	}

	n := notifier.FromMessage(res.Message)
	if n.CampaignID == uuid.Nil {
		n.CampaignID = ev.CampaignID
	}
	a.notifier.Notify(ctx, n)
	return nil
}
