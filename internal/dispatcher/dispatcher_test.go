package dispatcher

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-delivery/internal/model"
	"campaign-delivery/internal/notifier"
	"campaign-delivery/internal/provider"
	"campaign-delivery/internal/reconciler"
	"campaign-delivery/internal/storage"
	"campaign-delivery/internal/storage/memory"
	"campaign-delivery/internal/vault"
)

type fakeAdapter struct {
	mu        sync.Mutex
	calls     []provider.SendRequest
	err       error
	callbacks bool
}

func (f *fakeAdapter) Name() string            { return "fake" }
func (f *fakeAdapter) SignatureHeader() string { return "X-Fake-Signature" }
func (f *fakeAdapter) PushesCallbacks() bool   { return f.callbacks }

func (f *fakeAdapter) Send(_ context.Context, _ provider.Credentials, req provider.SendRequest) (provider.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return provider.SendResult{}, f.err
	}
	return provider.SendResult{ProviderMessageID: "FAKE-" + uuid.NewString(), ProviderStatus: "queued"}, nil
}

func (f *fakeAdapter) Verify(provider.Credentials, string, string, url.Values) bool { return true }

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type followUpRecorder struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *followUpRecorder) Schedule(_ context.Context, m *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, m.ID)
	return nil
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

type harness struct {
	store     *memory.Store
	vault     *vault.Vault
	adapter   *fakeAdapter
	followUps *followUpRecorder
	notes     *notifyRecorder
	d         *Dispatcher

	tenant   model.Tenant
	contact  model.Contact
	campaign model.Campaign
}

func newHarness(t *testing.T, demo bool) *harness {
	t.Helper()
	v, err := vault.New(base64.StdEncoding.EncodeToString([]byte("0123456789abcdef")))
	require.NoError(t, err)

	h := &harness{
		store:     memory.New(),
		vault:     v,
		adapter:   &fakeAdapter{callbacks: true},
		followUps: &followUpRecorder{},
		notes:     &notifyRecorder{},
	}
	h.tenant = model.Tenant{ID: uuid.New(), Name: "acme", IsDemo: demo}
	h.contact = model.Contact{ID: uuid.New(), TenantID: h.tenant.ID, Phone: "+15550001", FirstName: "Ada"}
	h.campaign = model.Campaign{ID: uuid.New(), TenantID: h.tenant.ID, Channel: model.ChannelSMS, Content: "Hi {first_name}", Status: "sending"}
	h.store.PutTenant(h.tenant)
	h.store.PutContact(h.contact)
	h.store.PutCampaign(h.campaign)

	registry := provider.NewRegistry()
	registry.Register(h.adapter, model.ChannelSMS)

	h.d = New(h.store, reconciler.New(h.store), registry, v, h.followUps, h.notes, Config{CallbackBaseURL: "https://hooks.example.com"})
	return h
}

func (h *harness) configureChannel(t *testing.T, providerName string, plain string) {
	t.Helper()
	sealed, err := h.vault.Seal(h.tenant.ID, model.ChannelSMS, []byte(plain))
	require.NoError(t, err)
	h.store.PutChannelSettings(model.ChannelSettings{
		TenantID: h.tenant.ID, Channel: model.ChannelSMS, Provider: providerName,
		EncryptedCredentials: sealed, SenderID: "+15559999",
	})
}

func (h *harness) queue(contactID uuid.UUID) model.Message {
	m := model.Message{
		ID: uuid.New(), TenantID: h.tenant.ID, CampaignID: h.campaign.ID, ContactID: contactID,
		Channel: model.ChannelSMS, Status: model.StatusQueued, ContentSnapshot: "Hi Ada", QueuedAt: time.Now(),
	}
	h.store.PutMessage(m)
	return m
}

func TestDispatchSendsThroughAdapter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.configureChannel(t, "fake", `{"auth_token":"tok","account_sid":"AC1"}`)
	msg := h.queue(h.contact.ID)

	res, err := h.d.Dispatch(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	assert.Equal(t, model.StatusSent, res.Status)
	require.Equal(t, 1, h.adapter.callCount())

	call := h.adapter.calls[0]
	assert.Equal(t, "+15550001", call.To)
	assert.Equal(t, "+15559999", call.From)
	assert.Equal(t, "Hi Ada", call.Body)
	assert.Equal(t, "https://hooks.example.com/webhooks/fake", call.StatusCallbackURL)

	got, _ := h.store.GetMessage(ctx, msg.ID)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, res.ProviderMessageID, got.ProviderMessageID)
	pm, err := h.store.FindMappingByProviderID(ctx, "fake", res.ProviderMessageID)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, pm.MessageID)

	assert.Empty(t, h.followUps.ids, "adapter pushes callbacks")
	require.Len(t, h.notes.seen, 1)
	assert.Equal(t, model.StatusSent, h.notes.seen[0].Status)
}

func TestDispatchSchedulesFollowUpsWhenCallbacksUnreliable(t *testing.T) {
	h := newHarness(t, false)
	h.adapter.callbacks = false
	h.configureChannel(t, "fake", `{"api_key":"k"}`)
	msg := h.queue(h.contact.ID)

	_, err := h.d.Dispatch(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{msg.ID}, h.followUps.ids)
}

func TestDispatchMissingAddressNeverCallsProvider(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.configureChannel(t, "fake", `{"auth_token":"tok"}`)
	noPhone := model.Contact{ID: uuid.New(), TenantID: h.tenant.ID}
	h.store.PutContact(noPhone)
	msg := h.queue(noPhone.ID)

	res, err := h.d.Dispatch(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, model.ReasonContactAddressMissing, res.Reason)
	assert.Zero(t, h.adapter.callCount())

	got, _ := h.store.GetMessage(ctx, msg.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, model.ReasonContactAddressMissing, got.StatusReason)
}

func TestDispatchFatalConfigurationReasons(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(t *testing.T, h *harness)
		reason string
	}{
		{"no settings", func(t *testing.T, h *harness) {}, model.ReasonChannelNotConfigured},
		{"undecryptable", func(t *testing.T, h *harness) {
			h.store.PutChannelSettings(model.ChannelSettings{TenantID: h.tenant.ID, Channel: model.ChannelSMS, Provider: "fake", EncryptedCredentials: "garbage"})
		}, model.ReasonMissingCredentials},
		{"empty credentials", func(t *testing.T, h *harness) { h.configureChannel(t, "fake", `{}`) }, model.ReasonMissingCredentials},
		{"unknown provider", func(t *testing.T, h *harness) { h.configureChannel(t, "carrier-pigeon", `{"api_key":"k"}`) }, model.ReasonUnsupportedChannel},
		{"missing campaign", func(t *testing.T, h *harness) {
			h.configureChannel(t, "fake", `{"api_key":"k"}`)
			h.campaign.ID = uuid.New()
		}, model.ReasonCampaignNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, false)
			tc.setup(t, h)
			msg := h.queue(h.contact.ID)

			res, err := h.d.Dispatch(context.Background(), msg.ID)
			require.NoError(t, err)
			assert.Equal(t, model.StatusFailed, res.Status)
			assert.Equal(t, tc.reason, res.Reason)
			assert.Zero(t, h.adapter.callCount())
		})
	}
}

func TestDispatchProviderErrorRecordsText(t *testing.T) {
	h := newHarness(t, false)
	h.adapter.err = errors.New("carrier rejected number")
	h.configureChannel(t, "fake", `{"api_key":"k"}`)
	msg := h.queue(h.contact.ID)

	res, err := h.d.Dispatch(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Contains(t, res.Reason, "carrier rejected number")

	got, _ := h.store.GetMessage(context.Background(), msg.ID)
	assert.Contains(t, got.StatusReason, "carrier rejected number")
}

func TestDispatchIgnoresMessagesNotQueued(t *testing.T) {
	h := newHarness(t, false)
	h.configureChannel(t, "fake", `{"api_key":"k"}`)
	msg := h.queue(h.contact.ID)
	msg.Status = model.StatusDelivered
	h.store.PutMessage(msg)

	res, err := h.d.Dispatch(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.False(t, res.Claimed)
	assert.Equal(t, model.StatusDelivered, res.Status)
	assert.Zero(t, h.adapter.callCount())
}

func TestDemoDispatchMatchesRealAuditShape(t *testing.T) {
	ctx := context.Background()

	live := newHarness(t, false)
	live.configureChannel(t, "fake", `{"api_key":"k"}`)
	liveMsg := live.queue(live.contact.ID)
	_, err := live.d.Dispatch(ctx, liveMsg.ID)
	require.NoError(t, err)

	demo := newHarness(t, true)
	demoMsg := demo.queue(demo.contact.ID)
	res, err := demo.d.Dispatch(ctx, demoMsg.ID)
	require.NoError(t, err)

	assert.Zero(t, demo.adapter.callCount())
	assert.Equal(t, DemoProvider, res.Provider)
	assert.Regexp(t, `^SM[0-9a-f]{32}$`, res.ProviderMessageID)
	assert.Equal(t, []uuid.UUID{demoMsg.ID}, demo.followUps.ids)

	pm, err := demo.store.FindMappingByProviderID(ctx, DemoProvider, res.ProviderMessageID)
	require.NoError(t, err)
	assert.Equal(t, demoMsg.ID, pm.MessageID)

	shape := func(store *memory.Store, id uuid.UUID) [][2]model.Status {
		events, err := store.ListStatusEvents(ctx, id)
		require.NoError(t, err)
		var out [][2]model.Status
		for _, ev := range events {
			out = append(out, [2]model.Status{ev.OldStatus, ev.NewStatus})
		}
		return out
	}
	assert.Equal(t, shape(live.store, liveMsg.ID), shape(demo.store, demoMsg.ID))
}

func TestHandleDeliveryRejectsInvalidPayload(t *testing.T) {
	h := newHarness(t, true)
	assert.Error(t, h.d.HandleDelivery(context.Background(), []byte(`{"messageId":"x"}`)))
	assert.NoError(t, h.d.HandleDelivery(context.Background(), []byte(`{"messageId":"`+uuid.NewString()+`"}`)))
}

func TestRender(t *testing.T) {
	c := &model.Contact{FirstName: "Ada", LastName: "Lovelace"}
	assert.Equal(t, "Hi Ada Lovelace", Render("Hi {first_name} {last_name}", c, "snap"))
	assert.Equal(t, "snap", Render("  ", c, "snap"))
}

// outageStore serves reads but cannot open transactions.
type outageStore struct {
	*memory.Store
}

func (outageStore) WithinTx(context.Context, func(storage.Tx) error) error {
	return errors.New("dial tcp 127.0.0.1:5432: connect: connection refused")
}

func TestHandleDeliveryDeadLettersWhenClaimFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.configureChannel(t, "fake", `{"auth_token":"tok"}`)
	msg := h.queue(h.contact.ID)

	down := outageStore{Store: h.store}
	registry := provider.NewRegistry()
	registry.Register(h.adapter, model.ChannelSMS)
	d := New(down, reconciler.New(down), registry, h.vault, h.followUps, h.notes, Config{})

	err := d.HandleDelivery(ctx, []byte(`{"messageId":"`+msg.ID.String()+`"}`))
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection refused")

	got, _ := h.store.GetMessage(ctx, msg.ID)
	assert.Equal(t, model.StatusQueued, got.Status)
	assert.Zero(t, h.adapter.callCount())
}

func TestDispatchTakesOverAbandonedClaim(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, false)
	h.configureChannel(t, "fake", `{"auth_token":"tok"}`)
	msg := h.queue(h.contact.ID)
	msg.Status = model.StatusProcessing
	msg.UpdatedAt = time.Now().Add(-time.Hour)
	h.store.PutMessage(msg)

	res, err := h.d.Dispatch(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, res.Claimed)
	assert.Equal(t, model.StatusSent, res.Status)
	assert.Equal(t, 1, h.adapter.callCount())

	fresh := h.queue(h.contact.ID)
	_, err = h.d.Dispatch(ctx, fresh.ID)
	require.NoError(t, err)
	res, err = h.d.Dispatch(ctx, fresh.ID)
	require.NoError(t, err)
	assert.False(t, res.Claimed, "a sent message is never dispatched twice")
	assert.Equal(t, 2, h.adapter.callCount())
}
