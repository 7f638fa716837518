package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"campaign-delivery/internal/model"
	"campaign-delivery/internal/storage"
)

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := New()
	msg := model.Message{ID: uuid.New(), Status: model.StatusQueued}
	s.PutMessage(msg)

	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(tx storage.Tx) error {
		m, err := tx.LockMessage(context.Background(), msg.ID)
		require.NoError(t, err)
		m.Status = model.StatusFailed
		require.NoError(t, tx.SaveMessage(context.Background(), m))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetMessage(context.Background(), msg.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusQueued, got.Status)
}

func TestListNonReadersUsesLatestMessagePerContact(t *testing.T) {
	s := New()
	campaignID := uuid.New()
	reader, nonReader := uuid.New(), uuid.New()
	base := time.Now().Add(-time.Hour)

	s.PutMessage(model.Message{ID: uuid.New(), CampaignID: campaignID, ContactID: reader, Status: model.StatusFailed, QueuedAt: base})
	s.PutMessage(model.Message{ID: uuid.New(), CampaignID: campaignID, ContactID: reader, Status: model.StatusRead, QueuedAt: base.Add(time.Minute)})
	s.PutMessage(model.Message{ID: uuid.New(), CampaignID: campaignID, ContactID: nonReader, Status: model.StatusDelivered, QueuedAt: base})

	var ids []uuid.UUID
	err := s.WithinTx(context.Background(), func(tx storage.Tx) error {
		var err error
		ids, err = tx.ListNonReaders(context.Background(), campaignID)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{nonReader}, ids)
}

func TestUpsertProviderMappingRejectsDuplicateProviderID(t *testing.T) {
	s := New()
	err := s.WithinTx(context.Background(), func(tx storage.Tx) error {
		require.NoError(t, tx.UpsertProviderMapping(context.Background(), &model.ProviderMapping{
			MessageID: uuid.New(), Provider: "twilio", ProviderMessageID: "SM1",
		}))
		return tx.UpsertProviderMapping(context.Background(), &model.ProviderMapping{
			MessageID: uuid.New(), Provider: "twilio", ProviderMessageID: "SM1",
		})
	})
	require.ErrorIs(t, err, storage.ErrConflict)
}

func TestInsertCampaignOneResendPerOrigin(t *testing.T) {
	s := New()
	origin := uuid.New()
	err := s.WithinTx(context.Background(), func(tx storage.Tx) error {
		require.NoError(t, tx.InsertCampaign(context.Background(), &model.Campaign{ID: uuid.New(), ResendOfCampaignID: &origin}))
		return tx.InsertCampaign(context.Background(), &model.Campaign{ID: uuid.New(), ResendOfCampaignID: &origin})
	})
	require.ErrorIs(t, err, storage.ErrConflict)

	_, err = s.FindResendOf(context.Background(), origin)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestWithinTxRestoresEveryTableOnError(t *testing.T) {
	s := New()
	ctx := context.Background()
	msg := model.Message{ID: uuid.New(), Status: model.StatusProcessing}
	s.PutMessage(msg)

	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		require.NoError(t, tx.UpsertProviderMapping(ctx, &model.ProviderMapping{
			MessageID: msg.ID, Provider: "twilio", ProviderMessageID: "SM1", ProviderStatus: "sent",
		}))
		require.NoError(t, tx.AppendStatusEvent(ctx, &model.StatusEvent{
			ID: uuid.New(), MessageID: msg.ID, OldStatus: model.StatusProcessing, NewStatus: model.StatusSent,
		}))
		return errors.New("commit failed")
	})
	require.Error(t, err)

	_, err = s.FindMappingByProviderID(ctx, "twilio", "SM1")
	require.ErrorIs(t, err, storage.ErrNotFound)
	events, err := s.ListStatusEvents(ctx, msg.ID)
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestListRetryableMessagesIncludesStaleClaims(t *testing.T) {
	s := New()
	ctx := context.Background()
	campaignID := uuid.New()
	now := time.Now()
	put := func(status model.Status, updated time.Time) uuid.UUID {
		m := model.Message{ID: uuid.New(), CampaignID: campaignID, Status: status, QueuedAt: updated, UpdatedAt: updated}
		s.PutMessage(m)
		return m.ID
	}
	failed := put(model.StatusFailed, now)
	stale := put(model.StatusProcessing, now.Add(-time.Hour))
	put(model.StatusProcessing, now)
	put(model.StatusSent, now.Add(-time.Hour))
	s.PutMessage(model.Message{ID: uuid.New(), CampaignID: uuid.New(), Status: model.StatusFailed})

	var ids []uuid.UUID
	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		ms, err := tx.ListRetryableMessages(ctx, campaignID, now.Add(-10*time.Minute))
		for _, m := range ms {
			ids = append(ids, m.ID)
		}
		return err
	})
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{stale, failed}, ids)
}
