// Package webhook ingests provider delivery callbacks.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"campaign-delivery/internal/metrics"
	"campaign-delivery/internal/model"
	"campaign-delivery/internal/notifier"
	"campaign-delivery/internal/provider"
	"campaign-delivery/internal/reconciler"
	"campaign-delivery/internal/storage"
	"campaign-delivery/internal/telemetry"
	"campaign-delivery/internal/vault"
)

type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeSkipped          Outcome = "skipped"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeNotFound         Outcome = "not_found"
	OutcomeBadRequest       Outcome = "bad_request"
	OutcomeInvalidSignature Outcome = "invalid_signature"
)

// Callback is a parsed provider status callback.
type Callback struct {
	Provider          string
	ProviderMessageID string
	ProviderStatus    string
	ErrorCode         string
	ErrorMessage      string
	Signature         string
	// Params holds every form field, which is what the signature covers.
	Params url.Values
}

// CallbackFromForm reads the Twilio style form fields.
func CallbackFromForm(providerName, signature string, form url.Values) Callback {
	return Callback{
		Provider:          providerName,
		ProviderMessageID: strings.TrimSpace(form.Get("MessageSid")),
		ProviderStatus:    strings.TrimSpace(form.Get("MessageStatus")),
		ErrorCode:         strings.TrimSpace(form.Get("ErrorCode")),
		ErrorMessage:      strings.TrimSpace(form.Get("ErrorMessage")),
		Signature:         signature,
		Params:            form,
	}
}

type Ingester struct {
	store          storage.Store
	reconciler     *reconciler.Reconciler
	providers      *provider.Registry
	vault          vault.Reader
	notifier       notifier.Notifier
	defaultBaseURL string
	now            func() time.Time
}

func NewIngester(
	store storage.Store,
	rec *reconciler.Reconciler,
	providers *provider.Registry,
	v vault.Reader,
	n notifier.Notifier,
	defaultBaseURL string,
) *Ingester {
	return &Ingester{
		store:          store,
		reconciler:     rec,
		providers:      providers,
		vault:          v,
		notifier:       n,
		defaultBaseURL: defaultBaseURL,
		now:            time.Now,
	}
}

// Ingest verifies cb and applies it. Nothing is written unless the
// signature checks out against the owning tenant's credentials.
func (i *Ingester) Ingest(ctx context.Context, cb Callback) (Outcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "webhook.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", cb.Provider),
		attribute.String("provider.message_id", cb.ProviderMessageID),
		attribute.String("provider.status", cb.ProviderStatus),
	)

	outcome, err := i.ingest(ctx, cb)
	span.SetAttributes(attribute.String("webhook.outcome", string(outcome)))
	if err != nil {
		span.RecordError(err)
	}
	metrics.WebhookCallbacks.WithLabelValues(cb.Provider, string(outcome)).Inc()
	return outcome, err
}

func (i *Ingester) ingest(ctx context.Context, cb Callback) (Outcome, error) {
	if cb.ProviderMessageID == "" || cb.ProviderStatus == "" {
		return OutcomeBadRequest, nil
	}

	adapter, ok := i.providers.ByName(cb.Provider)
	if !ok {
		log.Printf("[Webhook] unknown provider %q", cb.Provider)
		return OutcomeNotFound, nil
	}

	mapping, err := i.store.FindMappingByProviderID(ctx, adapter.Name(), cb.ProviderMessageID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Printf("[Webhook] no message for %s id %s", adapter.Name(), cb.ProviderMessageID)
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("find mapping: %w", err)
	}

	msg, err := i.store.GetMessage(ctx, mapping.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("load message: %w", err)
	}

	settings, err := i.store.GetChannelSettings(ctx, msg.TenantID, msg.Channel)
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("load channel settings: %w", err)
	}

	var creds provider.Credentials
	plain, err := i.vault.Open(settings.TenantID, settings.Channel, settings.EncryptedCredentials)
	if err == nil {
		err = json.Unmarshal(plain, &creds)
	}
	if err != nil {
		log.Printf("[Webhook] tenant %s credentials unavailable: %v", msg.TenantID, err)
		return OutcomeInvalidSignature, nil
	}

	if !adapter.Verify(creds, cb.Signature, i.callbackURL(settings, adapter.Name()), cb.Params) {
		log.Printf("[Webhook] invalid signature for %s id %s", adapter.Name(), cb.ProviderMessageID)
		return OutcomeInvalidSignature, nil
	}

	status, ok := provider.MapStatus(cb.ProviderStatus)
	if !ok {
		log.Printf("[Webhook] ignoring unmapped %s status %q for id %s", adapter.Name(), cb.ProviderStatus, cb.ProviderMessageID)
		return OutcomeIgnored, nil
	}

	change := reconciler.Change{
		MessageID:      msg.ID,
		Status:         status,
		Provider:       adapter.Name(),
		ProviderStatus: cb.ProviderStatus,
		EventAt:        i.now(),
		Attempt:        cb.ProviderMessageID,
	}
	if status == model.StatusFailed {
		change.Reason = failureReason(cb)
	}

	applied, err := i.reconciler.ApplyStatus(ctx, change)
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeNotFound, nil
	}
	if err != nil {
		return "", err
	}
	if applied.Skipped {
		return OutcomeSkipped, nil
	}

	i.notifier.Notify(ctx, notifier.FromMessage(applied.Message))
	return OutcomeApplied, nil
}

func (i *Ingester) callbackURL(settings *model.ChannelSettings, providerName string) string {
	base := settings.WebhookBaseURL
	if base == "" {
		base = i.defaultBaseURL
	}
	return strings.TrimRight(base, "/") + "/webhooks/" + providerName
}

func failureReason(cb Callback) string {
	switch {
	case cb.ErrorCode != "" && cb.ErrorMessage != "":
		return cb.ErrorCode + ": " + cb.ErrorMessage
	case cb.ErrorCode != "":
		return cb.ErrorCode
	case cb.ErrorMessage != "":
		return cb.ErrorMessage
	}
	return "provider reported " + cb.ProviderStatus
}
