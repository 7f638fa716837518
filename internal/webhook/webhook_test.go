package webhook

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-delivery/internal/campaign"
	"campaign-delivery/internal/messaging"
	"campaign-delivery/internal/model"
	"campaign-delivery/internal/notifier"
	"campaign-delivery/internal/provider"
	"campaign-delivery/internal/reconciler"
	"campaign-delivery/internal/redisx"
	"campaign-delivery/internal/storage/memory"
	"campaign-delivery/internal/vault"
)

const (
	baseURL   = "https://hooks.example.com"
	authToken = "twilio-secret"
)

type notes struct {
	mu   sync.Mutex
	seen []notifier.StatusNotification
}

func (n *notes) Notify(_ context.Context, s notifier.StatusNotification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, s)
}

type fixture struct {
	store    *memory.Store
	ingester *Ingester
	notes    *notes
	msg      model.Message
	router   chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	v, err := vault.New(base64.StdEncoding.EncodeToString([]byte("0123456789abcdef")))
	require.NoError(t, err)

	store := memory.New()
	tenantID := uuid.New()
	sealed, err := v.Seal(tenantID, model.ChannelSMS, []byte(`{"account_sid":"AC1","auth_token":"`+authToken+`"}`))
	require.NoError(t, err)
	store.PutChannelSettings(model.ChannelSettings{
		TenantID: tenantID, Channel: model.ChannelSMS, Provider: "twilio", EncryptedCredentials: sealed,
	})

	now := time.Now()
	msg := model.Message{
		ID: uuid.New(), TenantID: tenantID, CampaignID: uuid.New(), ContactID: uuid.New(),
		Channel: model.ChannelSMS, Status: model.StatusProcessing, QueuedAt: now,
	}
	store.PutMessage(msg)

	rec := reconciler.New(store)
	_, err = rec.ApplyStatus(context.Background(), reconciler.Change{
		MessageID: msg.ID, Status: model.StatusSent, Provider: "twilio", ProviderMessageID: "SM100",
	})
	require.NoError(t, err)

	registry := provider.NewRegistry()
	registry.Register(provider.NewTwilio(nil), model.ChannelSMS, model.ChannelWhatsApp)

	n := &notes{}
	ing := NewIngester(store, rec, registry, v, n, baseURL)
	r := chi.NewRouter()
	r.Post("/webhooks/{provider}", ing.Handler())

	return &fixture{store: store, ingester: ing, notes: n, msg: msg, router: r}
}

func (f *fixture) post(t *testing.T, form url.Values, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set("X-Twilio-Signature", signature)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func sign(form url.Values) string {
	return provider.TwilioSignature(authToken, baseURL+"/webhooks/twilio", form)
}

func (f *fixture) eventCount(t *testing.T) int {
	events, err := f.store.ListStatusEvents(context.Background(), f.msg.ID)
	require.NoError(t, err)
	return len(events)
}

func TestWebhookAppliesSignedCallback(t *testing.T) {
	f := newFixture(t)
	form := url.Values{"MessageSid": {"SM100"}, "MessageStatus": {"delivered"}, "AccountSid": {"AC1"}}

	rr := f.post(t, form, sign(form))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"applied"`)

	got, _ := f.store.GetMessage(context.Background(), f.msg.ID)
	assert.Equal(t, model.StatusDelivered, got.Status)
	pm, _ := f.store.FindMappingByProviderID(context.Background(), "twilio", "SM100")
	assert.Equal(t, "delivered", pm.ProviderStatus)
	require.Len(t, f.notes.seen, 1)
	assert.Equal(t, model.StatusDelivered, f.notes.seen[0].Status)
}

func TestWebhookInvalidSignatureNeverMutates(t *testing.T) {
	f := newFixture(t)
	before := f.eventCount(t)
	form := url.Values{"MessageSid": {"SM100"}, "MessageStatus": {"read"}}

	rr := f.post(t, form, "forged")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = f.post(t, form, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	got, _ := f.store.GetMessage(context.Background(), f.msg.ID)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, before, f.eventCount(t))
	assert.Empty(t, f.notes.seen)
}

func TestWebhookUnknownIDIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	before := f.eventCount(t)
	form := url.Values{"MessageSid": {"SMunknown"}, "MessageStatus": {"delivered"}}

	rr := f.post(t, form, sign(form))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"not_found"`)

	got, _ := f.store.GetMessage(context.Background(), f.msg.ID)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, before, f.eventCount(t))
}

func TestWebhookMissingFieldsIsBadRequest(t *testing.T) {
	f := newFixture(t)
	rr := f.post(t, url.Values{"MessageSid": {"SM100"}}, "x")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	rr = f.post(t, url.Values{"MessageStatus": {"sent"}}, "x")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebhookFailureReasonAndDuplicates(t *testing.T) {
	f := newFixture(t)
	form := url.Values{
		"MessageSid": {"SM100"}, "MessageStatus": {"undelivered"},
		"ErrorCode": {"30003"}, "ErrorMessage": {"Unreachable destination handset"},
	}
	sig := sign(form)

	assert.Equal(t, http.StatusOK, f.post(t, form, sig).Code)
	assert.Equal(t, http.StatusOK, f.post(t, form, sig).Code)

	got, _ := f.store.GetMessage(context.Background(), f.msg.ID)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Equal(t, "30003: Unreachable destination handset", got.StatusReason)
}

func TestWebhookLateCallbackIsSkipped(t *testing.T) {
	f := newFixture(t)
	read := url.Values{"MessageSid": {"SM100"}, "MessageStatus": {"read"}}
	require.Equal(t, http.StatusOK, f.post(t, read, sign(read)).Code)

	late := url.Values{"MessageSid": {"SM100"}, "MessageStatus": {"sent"}}
	rr := f.post(t, late, sign(late))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"skipped"`)

	got, _ := f.store.GetMessage(context.Background(), f.msg.ID)
	assert.Equal(t, model.StatusRead, got.Status)
}

func TestIngestUnknownProvider(t *testing.T) {
	f := newFixture(t)
	out, err := f.ingester.Ingest(context.Background(), Callback{Provider: "nope", ProviderMessageID: "x", ProviderStatus: "sent"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, out)
}

func TestWebhookIgnoresLateCallbackAfterRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	failed := url.Values{"MessageSid": {"SM100"}, "MessageStatus": {"undelivered"}, "ErrorCode": {"30003"}}
	rr := f.post(t, failed, sign(failed))
	require.Equal(t, http.StatusOK, rr.Code)

	f.store.PutCampaign(model.Campaign{ID: f.msg.CampaignID, TenantID: f.msg.TenantID, Name: "spring", Channel: model.ChannelSMS})
	broker := messaging.NewInMemoryBroker()
	defer broker.Close()
	svc := campaign.NewService(f.store, broker, redisx.NewMemoryLocker(), campaign.DefaultCooldown)
	res, err := svc.RetryFailed(ctx, f.msg.TenantID, f.msg.CampaignID)
	require.NoError(t, err)
	require.Equal(t, 1, res.Requeued)
	before := f.eventCount(t)

	late := url.Values{"MessageSid": {"SM100"}, "MessageStatus": {"sent"}}
	rr = f.post(t, late, sign(late))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"outcome":"skipped"}`, rr.Body.String())

	got, err := f.store.GetMessage(ctx, f.msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueued, got.Status)
	assert.Empty(t, got.ProviderMessageID)
	assert.Equal(t, before, f.eventCount(t))
	assert.Equal(t, 1, broker.Len(messaging.DispatchQueue), "message is still waiting for its fresh dispatch")
}

func TestWebhookUnmappedStatusIsIgnored(t *testing.T) {
	f := newFixture(t)
	before := f.eventCount(t)
	form := url.Values{"MessageSid": {"SM100"}, "MessageStatus": {"partially_delivered"}}

	rr := f.post(t, form, sign(form))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"outcome":"ignored"}`, rr.Body.String())

	got, _ := f.store.GetMessage(context.Background(), f.msg.ID)
	assert.Equal(t, model.StatusSent, got.Status)
	assert.Equal(t, before, f.eventCount(t))
	assert.Empty(t, f.notes.seen)
}
