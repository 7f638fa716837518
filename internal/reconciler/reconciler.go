// Package reconciler is the single writer of message status. Every change
// runs in one transaction holding the message row lock, so dispatch,
// webhooks and scheduled events can race without corrupting state.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"campaign-delivery/internal/metrics"
	"campaign-delivery/internal/model"
	"campaign-delivery/internal/storage"
	"campaign-delivery/internal/telemetry"
)

var ErrInvalidStatus = errors.New("reconciler: invalid status")

// Change is one observed status for a message.
type Change struct {
	MessageID         uuid.UUID
	Status            model.Status
	Reason            string
	Provider          string
	ProviderMessageID string
	ProviderStatus    string
	EventAt           time.Time

	// Attempt is the provider message id an observer (webhook, scheduled
	// event) is reporting on. When set, the change only applies while the
	// message's current send attempt carries that id.
	Attempt string
}

// Applied describes the outcome of ApplyStatus.
type Applied struct {
	Message  *model.Message
	Previous model.Status
	// Skipped is set when the change would have regressed the message, or
	// belongs to an earlier send attempt, and was dropped without touching
	// storage.
	Skipped bool
	// Stale marks a skip caused by an Attempt that is no longer current.
	Stale bool
}

type Reconciler struct {
	store      storage.Store
	now        func() time.Time
	claimLease time.Duration
}

func New(store storage.Store) *Reconciler {
	return &Reconciler{store: store, now: time.Now, claimLease: model.DefaultClaimLease}
}

// WithClaimLease sets how long a processing claim holds before Claim may
// take the message over. Zero disables takeover.
func (r *Reconciler) WithClaimLease(d time.Duration) *Reconciler {
	r.claimLease = d
	return r
}

// WithClock overrides the receipt clock.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// ApplyStatus records c: status and milestone, reason, an audit row and the
// provider mapping, all or nothing. Repeating the current status appends a
// new audit row and leaves the message unchanged.
func (r *Reconciler) ApplyStatus(ctx context.Context, c Change) (Applied, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "reconciler.ApplyStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("message.id", c.MessageID.String()),
		attribute.String("message.status", string(c.Status)),
	)

	if !c.Status.Valid() || c.Status == model.StatusQueued {
		return Applied{}, fmt.Errorf("%w: %q", ErrInvalidStatus, c.Status)
	}

	received := r.now().UTC()
	eventAt := c.EventAt.UTC()
	if c.EventAt.IsZero() {
		eventAt = received
	}

	var out Applied
	err := r.store.WithinTx(ctx, func(tx storage.Tx) error {
		m, err := tx.LockMessage(ctx, c.MessageID)
		if err != nil {
			return err
		}
		out.Previous = m.Status

		if c.Attempt != "" && c.Attempt != m.ProviderMessageID {
			out.Skipped, out.Stale = true, true
			out.Message = m
			return nil
		}
		if !model.CanTransition(m.Status, c.Status) {
			out.Skipped = true
			out.Message = m
			return nil
		}

		m.Status = c.Status
		m.UpdatedAt = received
		if ts := m.Milestone(c.Status); ts != nil && *ts == nil {
			at := eventAt
			*ts = &at
		}
		if c.Reason != "" {
			m.StatusReason = c.Reason
		}
		if c.ProviderMessageID != "" && m.ProviderMessageID == "" {
			m.ProviderMessageID = c.ProviderMessageID
			m.Provider = c.Provider
		}

		if err := tx.SaveMessage(ctx, m); err != nil {
			return fmt.Errorf("save message: %w", err)
		}

		if err := tx.AppendStatusEvent(ctx, &model.StatusEvent{
			ID:                uuid.New(),
			MessageID:         m.ID,
			ProviderMessageID: m.ProviderMessageID,
			OldStatus:         out.Previous,
			NewStatus:         c.Status,
			EventAt:           eventAt,
			ReceivedAt:        received,
			Reason:            c.Reason,
		}); err != nil {
			return fmt.Errorf("append status event: %w", err)
		}

		providerStatus := c.ProviderStatus
		if providerStatus == "" {
			providerStatus = string(c.Status)
		}
		if c.ProviderMessageID != "" {
			if err := tx.UpsertProviderMapping(ctx, &model.ProviderMapping{
				MessageID:         m.ID,
				Provider:          c.Provider,
				ProviderMessageID: c.ProviderMessageID,
				ProviderStatus:    providerStatus,
				UpdatedAt:         received,
			}); err != nil {
				return fmt.Errorf("upsert provider mapping: %w", err)
			}
		} else if m.Provider != "" {
			if err := tx.RefreshMappingStatus(ctx, m.ID, m.Provider, providerStatus, received); err != nil {
				return fmt.Errorf("refresh provider mapping: %w", err)
			}
		}

		out.Message = m
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Applied{}, err
	}

	if out.Stale {
		log.Printf("[Reconciler] dropped %s for message %s: attempt %s is not current", c.Status, c.MessageID, c.Attempt)
		metrics.StatusSkipped.WithLabelValues(string(c.Status)).Inc()
		span.SetAttributes(attribute.Bool("status.stale", true))
	} else if out.Skipped {
		log.Printf("[Reconciler] dropped %s -> %s for message %s", out.Previous, c.Status, c.MessageID)
		metrics.StatusSkipped.WithLabelValues(string(c.Status)).Inc()
		span.SetAttributes(attribute.Bool("status.skipped", true))
	} else {
		metrics.StatusTransitions.WithLabelValues(string(c.Status)).Inc()
	}
	return out, nil
}

// Claim moves a queued message to processing. A message left in processing
// longer than the claim lease is taken over, so a worker that died mid-send
// does not strand it. It returns claimed=false with the current message when
// another delivery holds a live claim or the message has moved on.
func (r *Reconciler) Claim(ctx context.Context, messageID uuid.UUID) (*model.Message, bool, error) {
	var (
		msg     *model.Message
		claimed bool
	)
	now := r.now().UTC()
	err := r.store.WithinTx(ctx, func(tx storage.Tx) error {
		m, err := tx.LockMessage(ctx, messageID)
		if err != nil {
			return err
		}
		msg = m

		var reason string
		switch {
		case m.Status == model.StatusQueued:
		case m.Status == model.StatusProcessing && r.claimLease > 0 && now.Sub(m.UpdatedAt) >= r.claimLease:
			reason = model.ReasonClaimExpired
			log.Printf("[Reconciler] taking over expired claim on message %s", m.ID)
		default:
			return nil
		}

		previous := m.Status
		m.Status = model.StatusProcessing
		m.UpdatedAt = now
		if err := tx.SaveMessage(ctx, m); err != nil {
			return fmt.Errorf("save message: %w", err)
		}
		claimed = true
		return tx.AppendStatusEvent(ctx, &model.StatusEvent{
			ID:         uuid.New(),
			MessageID:  m.ID,
			OldStatus:  previous,
			NewStatus:  model.StatusProcessing,
			EventAt:    now,
			ReceivedAt: now,
			Reason:     reason,
		})
	})
	if err != nil {
		return nil, false, err
	}
	if claimed {
		metrics.StatusTransitions.WithLabelValues(string(model.StatusProcessing)).Inc()
	}
	return msg, claimed, nil
}
