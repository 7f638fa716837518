package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"

	"campaign-delivery/internal/messaging"
	"campaign-delivery/internal/storage"
)

// HandleDelivery processes one campaign_dispatch payload. A message that
// failed to send has already been marked failed and is acknowledged. Invalid
// payloads and messages that could not be claimed return an error, which
// dead-letters the delivery so it can be replayed once storage recovers.
func (d *Dispatcher) HandleDelivery(ctx context.Context, body []byte) error {
	req, err := messaging.DecodeDispatch(body)
	if err != nil {
		return fmt.Errorf("decode dispatch request: %w", err)
	}

	res, err := d.Dispatch(ctx, req.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		log.Printf("[Dispatcher] message %s not found", req.MessageID)
		return nil
	}
	if err != nil {
		return err
	}
	if res.Claimed {
		log.Printf("[Dispatcher] message %s -> %s %s", res.MessageID, res.Status, res.ProviderMessageID)
	}
	return nil
}
