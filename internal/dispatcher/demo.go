package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"campaign-delivery/internal/metrics"
	"campaign-delivery/internal/model"
	"campaign-delivery/internal/notifier"
	"campaign-delivery/internal/reconciler"
)

// DemoProvider is recorded as the provider of sandbox sends.
const DemoProvider = "demo"

// NewDemoMessageID fabricates an id shaped like a carrier message sid.
func NewDemoMessageID() string {
	return "SM" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Simulate records a send for a sandbox tenant without contacting any
// provider. It produces the same transition, mapping and audit rows as a
// real send and always schedules the synthetic follow-ups.
func (d *Dispatcher) Simulate(ctx context.Context, msg *model.Message, campaign *model.Campaign) (string, error) {
	providerID := NewDemoMessageID()

	applied, err := d.reconciler.ApplyStatus(ctx, reconciler.Change{
		MessageID:         msg.ID,
		Status:            model.StatusSent,
		Provider:          DemoProvider,
		ProviderMessageID: providerID,
		ProviderStatus:    "sent",
	})
	if err != nil {
		return "", fmt.Errorf("record demo send for campaign %s: %w", campaign.ID, err)
	}

	d.scheduleFollowUps(ctx, applied.Message)
	d.notifier.Notify(ctx, notifier.FromMessage(applied.Message))
	metrics.DispatchTotal.WithLabelValues(string(msg.Channel), DemoProvider, "sent").Inc()
	return providerID, nil
}
