package campaign

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-delivery/internal/messaging"
	"campaign-delivery/internal/model"
	"campaign-delivery/internal/notifier"
	"campaign-delivery/internal/redisx"
	"campaign-delivery/internal/storage"
	"campaign-delivery/internal/storage/memory"
)

type world struct {
	store    *memory.Store
	broker   *messaging.InMemoryBroker
	svc      *Service
	tenantID uuid.UUID
	origin   model.Campaign
	now      time.Time
}

func newWorld(t *testing.T, sentAgo time.Duration) *world {
	t.Helper()
	w := &world{
		store:    memory.New(),
		broker:   messaging.NewInMemoryBroker(),
		tenantID: uuid.New(),
		now:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	sentAt := w.now.Add(-sentAgo)
	w.origin = model.Campaign{
		ID: uuid.New(), TenantID: w.tenantID, Name: "spring", Channel: model.ChannelSMS,
		Content: "Hi {first_name}", Status: "sent", SentAt: &sentAt,
	}
	w.store.PutCampaign(w.origin)
	w.svc = NewService(w.store, w.broker, redisx.NewMemoryLocker(), DefaultCooldown)
	w.svc.now = func() time.Time { return w.now }
	t.Cleanup(func() { _ = w.broker.Close() })
	return w
}

// addMessages creates one message per contact with the given statuses and
// returns the contact ids in order.
func (w *world) addMessages(statuses ...model.Status) []uuid.UUID {
	var contacts []uuid.UUID
	for i, s := range statuses {
		contactID := uuid.New()
		w.store.PutContact(model.Contact{ID: contactID, TenantID: w.tenantID, Phone: "+1555"})
		w.store.PutMessage(model.Message{
			ID: uuid.New(), TenantID: w.tenantID, CampaignID: w.origin.ID, ContactID: contactID,
			Channel: model.ChannelSMS, Status: s, QueuedAt: w.now.Add(-48*time.Hour + time.Duration(i)*time.Second),
		})
		contacts = append(contacts, contactID)
	}
	return contacts
}

func TestResendTargetsNonReaders(t *testing.T) {
	w := newWorld(t, 25*time.Hour)
	contacts := w.addMessages(model.StatusRead, model.StatusDelivered, model.StatusSent, model.StatusRead, model.StatusFailed)

	res, err := w.svc.Resend(context.Background(), w.tenantID, w.origin.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.AudienceSize, "N=5 minus K=2 readers")

	audience := w.store.Audience(res.CampaignID)
	assert.ElementsMatch(t, []uuid.UUID{contacts[1], contacts[2], contacts[4]}, audience)

	resend, err := w.store.GetCampaign(context.Background(), res.CampaignID)
	require.NoError(t, err)
	require.NotNil(t, resend.ResendOfCampaignID)
	assert.Equal(t, w.origin.ID, *resend.ResendOfCampaignID)
	assert.Equal(t, w.origin.Content, resend.Content)
	assert.Equal(t, w.origin.Channel, resend.Channel)
}

func TestResendUsesLatestMessagePerContact(t *testing.T) {
	w := newWorld(t, 25*time.Hour)
	contactID := uuid.New()
	w.store.PutMessage(model.Message{
		ID: uuid.New(), TenantID: w.tenantID, CampaignID: w.origin.ID, ContactID: contactID,
		Status: model.StatusRead, QueuedAt: w.now.Add(-30 * time.Hour),
	})
	w.store.PutMessage(model.Message{
		ID: uuid.New(), TenantID: w.tenantID, CampaignID: w.origin.ID, ContactID: contactID,
		Status: model.StatusFailed, QueuedAt: w.now.Add(-29 * time.Hour),
	})

	res, err := w.svc.Resend(context.Background(), w.tenantID, w.origin.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AudienceSize)
}

func TestResendTwiceFails(t *testing.T) {
	w := newWorld(t, 25*time.Hour)
	w.addMessages(model.StatusSent)

	_, err := w.svc.Resend(context.Background(), w.tenantID, w.origin.ID)
	require.NoError(t, err)

	_, err = w.svc.Resend(context.Background(), w.tenantID, w.origin.ID)
	require.ErrorIs(t, err, ErrAlreadyResent)
	var pe *PolicyError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, CodeAlreadyResent, pe.Code)
}

func TestResendInsideCooldown(t *testing.T) {
	w := newWorld(t, 23*time.Hour)
	w.addMessages(model.StatusSent)

	_, err := w.svc.Resend(context.Background(), w.tenantID, w.origin.ID)
	assert.ErrorIs(t, err, ErrCooldownNotElapsed)

	unsent := w.origin
	unsent.SentAt = nil
	w.store.PutCampaign(unsent)
	_, err = w.svc.Resend(context.Background(), w.tenantID, w.origin.ID)
	assert.ErrorIs(t, err, ErrCooldownNotElapsed)
}

func TestResendOfResendRejected(t *testing.T) {
	w := newWorld(t, 25*time.Hour)
	w.addMessages(model.StatusSent)

	res, err := w.svc.Resend(context.Background(), w.tenantID, w.origin.ID)
	require.NoError(t, err)

	child, _ := w.store.GetCampaign(context.Background(), res.CampaignID)
	sentAt := w.now.Add(-48 * time.Hour)
	child.SentAt = &sentAt
	w.store.PutCampaign(*child)

	_, err = w.svc.Resend(context.Background(), w.tenantID, res.CampaignID)
	assert.ErrorIs(t, err, ErrOriginIsResend)
}

func TestResendOtherTenantIsNotFound(t *testing.T) {
	w := newWorld(t, 25*time.Hour)
	_, err := w.svc.Resend(context.Background(), uuid.New(), w.origin.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcurrentResendCreatesOne(t *testing.T) {
	w := newWorld(t, 25*time.Hour)
	w.addMessages(model.StatusSent, model.StatusDelivered)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.svc.Resend(context.Background(), w.tenantID, w.origin.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, ErrAlreadyResent) {
				rejected++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 7, rejected)
}

func TestRetryFailedRequeues(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, time.Hour)
	w.addMessages(model.StatusFailed, model.StatusRead, model.StatusFailed)

	res, err := w.svc.RetryFailed(ctx, w.tenantID, w.origin.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Requeued)
	assert.Equal(t, 2, w.broker.Len(messaging.DispatchQueue))

	counts, err := w.store.CampaignCounts(ctx, w.origin.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Queued)
	assert.Equal(t, 0, counts.Failed)
}

func TestRetryFailedWhileLocked(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, time.Hour)
	locker := redisx.NewMemoryLocker()
	w.svc.locker = locker

	release, err := locker.TryLock(ctx, "retry-failed:"+w.origin.ID.String(), time.Minute)
	require.NoError(t, err)

	_, err = w.svc.RetryFailed(ctx, w.tenantID, w.origin.ID)
	assert.ErrorIs(t, err, ErrRetryInProgress)

	require.NoError(t, release(ctx))
	_, err = w.svc.RetryFailed(ctx, w.tenantID, w.origin.ID)
	assert.NoError(t, err)
}

type notifyRecorder struct {
	mu   sync.Mutex
	seen []notifier.StatusNotification
}

func (r *notifyRecorder) Notify(_ context.Context, n notifier.StatusNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, n)
}

func TestRetryFailedRecoversAbandonedClaims(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t, time.Hour)
	w.svc.WithClaimLease(10 * time.Minute)

	stale := model.Message{
		ID: uuid.New(), TenantID: w.tenantID, CampaignID: w.origin.ID, ContactID: uuid.New(), Channel: model.ChannelSMS,
		Status: model.StatusProcessing, QueuedAt: w.now.Add(-time.Hour), UpdatedAt: w.now.Add(-11 * time.Minute),
	}
	busy := model.Message{
		ID: uuid.New(), TenantID: w.tenantID, CampaignID: w.origin.ID, ContactID: uuid.New(), Channel: model.ChannelSMS,
		Status: model.StatusProcessing, QueuedAt: w.now.Add(-time.Hour), UpdatedAt: w.now.Add(-time.Minute),
	}
	w.store.PutMessage(stale)
	w.store.PutMessage(busy)

	res, err := w.svc.RetryFailed(ctx, w.tenantID, w.origin.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Requeued)
	assert.Equal(t, 1, w.broker.Len(messaging.DispatchQueue))

	got, _ := w.store.GetMessage(ctx, stale.ID)
	assert.Equal(t, model.StatusQueued, got.Status)
	got, _ = w.store.GetMessage(ctx, busy.ID)
	assert.Equal(t, model.StatusProcessing, got.Status)

	events, err := w.store.ListStatusEvents(ctx, stale.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.StatusProcessing, events[0].OldStatus)
	assert.Equal(t, model.ReasonRetryRequested, events[0].Reason)
}

func TestRetryFailedNotifiesRequeuedMessages(t *testing.T) {
	w := newWorld(t, time.Hour)
	notes := &notifyRecorder{}
	w.svc.WithNotifier(notes)
	w.addMessages(model.StatusFailed, model.StatusRead)

	_, err := w.svc.RetryFailed(context.Background(), w.tenantID, w.origin.ID)
	require.NoError(t, err)
	require.Len(t, notes.seen, 1)
	assert.Equal(t, w.origin.ID, notes.seen[0].CampaignID)
	assert.Equal(t, model.StatusQueued, notes.seen[0].Status)
	assert.NotEqual(t, uuid.Nil, notes.seen[0].MessageID)
}

func TestResendNotifiesNewCampaign(t *testing.T) {
	w := newWorld(t, 25*time.Hour)
	notes := &notifyRecorder{}
	w.svc.WithNotifier(notes)
	w.addMessages(model.StatusDelivered)

	res, err := w.svc.Resend(context.Background(), w.tenantID, w.origin.ID)
	require.NoError(t, err)
	require.Len(t, notes.seen, 1)
	assert.Equal(t, res.CampaignID, notes.seen[0].CampaignID)
	assert.Equal(t, w.tenantID, notes.seen[0].TenantID)
	assert.Equal(t, uuid.Nil, notes.seen[0].MessageID)

	_, err = w.svc.Resend(context.Background(), w.tenantID, w.origin.ID)
	require.Error(t, err)
	assert.Len(t, notes.seen, 1, "rejected resends announce nothing")
}
