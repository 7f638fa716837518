// Package dispatcher turns a queued message into a provider send.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
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

// FollowUps schedules synthetic status events after a send.
type FollowUps interface {
	Schedule(ctx context.Context, m *model.Message) error
}

// Result reports where a message ended up after Dispatch.
type Result struct {
	MessageID         uuid.UUID
	Status            model.Status
	Provider          string
	ProviderMessageID string
	Reason            string
	// Claimed is false when the message was not queued and nothing was done.
	Claimed bool
}

// fatalError carries a status_reason for failures that retrying cannot fix.
type fatalError struct {
	reason string
}

func (e *fatalError) Error() string { return e.reason }

func fatal(reason string) error { return &fatalError{reason: reason} }

type Dispatcher struct {
	store           storage.Store
	reconciler      *reconciler.Reconciler
	providers       *provider.Registry
	vault           vault.Reader
	followUps       FollowUps
	notifier        notifier.Notifier
	callbackBaseURL string
}

type Config struct {
	// CallbackBaseURL is used when a channel has no webhook base URL of its own.
	CallbackBaseURL string
}

func New(
	store storage.Store,
	rec *reconciler.Reconciler,
	providers *provider.Registry,
	v vault.Reader,
	followUps FollowUps,
	n notifier.Notifier,
	cfg Config,
) *Dispatcher {
	return &Dispatcher{
		store:           store,
		reconciler:      rec,
		providers:       providers,
		vault:           v,
		followUps:       followUps,
		notifier:        n,
		callbackBaseURL: cfg.CallbackBaseURL,
	}
}

// Dispatch claims a queued message and sends it. Per-message failures are
// recorded on the message and reported through Result, not as an error; the
// returned error is reserved for a message that does not exist or could not
// be claimed.
func (d *Dispatcher) Dispatch(ctx context.Context, messageID uuid.UUID) (Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "dispatcher.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("message.id", messageID.String()))

	msg, claimed, err := d.reconciler.Claim(ctx, messageID)
	if err != nil {
		span.RecordError(err)
		return Result{MessageID: messageID}, fmt.Errorf("claim message %s: %w", messageID, err)
	}
	if !claimed {
		log.Printf("[Dispatcher] message %s is %s, skipping", messageID, msg.Status)
		return Result{MessageID: messageID, Status: msg.Status, ProviderMessageID: msg.ProviderMessageID}, nil
	}

	res, err := d.deliver(ctx, msg)
	if err != nil {
		reason := err.Error()
		var fe *fatalError
		if errors.As(err, &fe) {
			reason = fe.reason
		}
		span.RecordError(err)
		span.SetAttributes(attribute.String("message.failure_reason", reason))
		return d.fail(ctx, msg, res.Provider, reason), nil
	}
	return res, nil
}

func (d *Dispatcher) deliver(ctx context.Context, msg *model.Message) (Result, error) {
	contact, err := d.store.GetContact(ctx, msg.ContactID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, fatal(model.ReasonContactAddressMissing)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load contact: %w", err)
	}
	to := contact.Address(msg.Channel)
	if to == "" {
		return Result{}, fatal(model.ReasonContactAddressMissing)
	}

	campaign, err := d.store.GetCampaign(ctx, msg.CampaignID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, fatal(model.ReasonCampaignNotFound)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load campaign: %w", err)
	}

	tenant, err := d.store.GetTenant(ctx, msg.TenantID)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, fatal(model.ReasonTenantNotFound)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load tenant: %w", err)
	}

	if tenant.IsDemo {
		providerID, err := d.Simulate(ctx, msg, campaign)
		if err != nil {
			return Result{Provider: DemoProvider}, err
		}
		return Result{
			MessageID:         msg.ID,
			Status:            model.StatusSent,
			Provider:          DemoProvider,
			ProviderMessageID: providerID,
			Claimed:           true,
		}, nil
	}

	settings, err := d.store.GetChannelSettings(ctx, msg.TenantID, msg.Channel)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{}, fatal(model.ReasonChannelNotConfigured)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load channel settings: %w", err)
	}

	creds, err := d.credentials(settings)
	if err != nil {
		log.Printf("[Dispatcher] tenant %s %s credentials: %v", msg.TenantID, msg.Channel, err)
		return Result{Provider: settings.Provider}, fatal(model.ReasonMissingCredentials)
	}

	adapter, ok := d.providers.Lookup(msg.Channel, settings.Provider)
	if !ok {
		return Result{Provider: settings.Provider}, fatal(model.ReasonUnsupportedChannel)
	}

	sent, err := adapter.Send(ctx, creds, provider.SendRequest{
		Channel:            msg.Channel,
		To:                 to,
		From:               settings.SenderID,
		MessagingServiceID: settings.MessagingServiceID,
		Body:               Render(campaign.Content, contact, msg.ContentSnapshot),
		StatusCallbackURL:  d.callbackURL(settings, adapter.Name()),
	})
	if err != nil {
		return Result{Provider: adapter.Name()}, err
	}

	applied, err := d.reconciler.ApplyStatus(ctx, reconciler.Change{
		MessageID:         msg.ID,
		Status:            model.StatusSent,
		Provider:          adapter.Name(),
		ProviderMessageID: sent.ProviderMessageID,
		ProviderStatus:    sent.ProviderStatus,
	})
	if err != nil {
		return Result{Provider: adapter.Name()}, fmt.Errorf("record send: %w", err)
	}

	if !adapter.PushesCallbacks() {
		d.scheduleFollowUps(ctx, applied.Message)
	}
	d.notifier.Notify(ctx, notifier.FromMessage(applied.Message))
	metrics.DispatchTotal.WithLabelValues(string(msg.Channel), adapter.Name(), "sent").Inc()

	return Result{
		MessageID:         msg.ID,
		Status:            applied.Message.Status,
		Provider:          adapter.Name(),
		ProviderMessageID: sent.ProviderMessageID,
		Claimed:           true,
	}, nil
}

func (d *Dispatcher) credentials(settings *model.ChannelSettings) (provider.Credentials, error) {
	var creds provider.Credentials
	plain, err := d.vault.Open(settings.TenantID, settings.Channel, settings.EncryptedCredentials)
	if err != nil {
		return creds, err
	}
	if err := json.Unmarshal(plain, &creds); err != nil {
		return creds, fmt.Errorf("decode credentials: %w", err)
	}
	if creds.Empty() {
		return creds, errors.New("credentials empty")
	}
	return creds, nil
}

func (d *Dispatcher) callbackURL(settings *model.ChannelSettings, providerName string) string {
	base := settings.WebhookBaseURL
	if base == "" {
		base = d.callbackBaseURL
	}
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/webhooks/" + providerName
}

func (d *Dispatcher) scheduleFollowUps(ctx context.Context, m *model.Message) {
	if d.followUps == nil || m == nil {
		return
	}
	if err := d.followUps.Schedule(ctx, m); err != nil {
		log.Printf("[Dispatcher] schedule follow-ups for %s: %v", m.ID, err)
	}
}

func (d *Dispatcher) fail(ctx context.Context, msg *model.Message, providerName, reason string) Result {
	log.Printf("[Dispatcher] message %s failed: %s", msg.ID, reason)
	if providerName == "" {
		providerName = "none"
	}
	metrics.DispatchTotal.WithLabelValues(string(msg.Channel), providerName, "failed").Inc()

	res := Result{MessageID: msg.ID, Status: model.StatusFailed, Reason: reason, Claimed: true}
	applied, err := d.reconciler.ApplyStatus(ctx, reconciler.Change{
		MessageID: msg.ID,
		Status:    model.StatusFailed,
		Reason:    reason,
	})
	if err != nil {
		log.Printf("[Dispatcher] record failure for %s: %v", msg.ID, err)
		return res
	}
	d.notifier.Notify(ctx, notifier.FromMessage(applied.Message))
	return res
}

// Render fills {first_name} and {last_name} in content. An empty template
// falls back to the message's own snapshot.
func Render(content string, c *model.Contact, snapshot string) string {
	if strings.TrimSpace(content) == "" {
		return snapshot
	}
	return strings.NewReplacer(
		"{first_name}", c.FirstName,
		"{last_name}", c.LastName,
	).Replace(content)
}
