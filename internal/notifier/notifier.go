// Package notifier tells the metrics aggregator that a message changed
// status. Delivery is best effort and never blocks or fails the caller.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"campaign-delivery/internal/metrics"
	"campaign-delivery/internal/model"
)

// StatusNotification reports a message status change. A zero MessageID
// announces a campaign level change, such as a resend being created.
type StatusNotification struct {
	MessageID  uuid.UUID    `json:"messageId"`
	TenantID   uuid.UUID    `json:"tenantId"`
	CampaignID uuid.UUID    `json:"campaignId"`
	Status     model.Status `json:"status"`
}

// FromMessage builds the notification for m's current status.
func FromMessage(m *model.Message) StatusNotification {
	return StatusNotification{
		MessageID:  m.ID,
		TenantID:   m.TenantID,
		CampaignID: m.CampaignID,
		Status:     m.Status,
	}
}

type Notifier interface {
	Notify(ctx context.Context, n StatusNotification)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, StatusNotification) {}

type HTTPNotifier struct {
	url     string
	token   string
	timeout time.Duration
	client  *http.Client
	wg      sync.WaitGroup
}

func NewHTTPNotifier(url, token string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPNotifier{
		url:     url,
		token:   token,
		timeout: timeout,
		client:  &http.Client{},
	}
}

// Notify posts n in the background with its own timeout, detached from ctx
// so a finished request does not cancel it.
func (h *HTTPNotifier) Notify(_ context.Context, n StatusNotification) {
	if h.url == "" {
		return
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := h.post(ctx, n); err != nil {
			metrics.NotifierFailures.Inc()
			log.Printf("[Notifier] message %s status %s: %v", n.MessageID, n.Status, err)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (h *HTTPNotifier) Wait() {
	h.wg.Wait()
}

func (h *HTTPNotifier) post(ctx context.Context, n StatusNotification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("aggregator responded %d", resp.StatusCode)
	}
	return nil
}
