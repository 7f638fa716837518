package messaging

import (
	"context"
	"time"
)

const (
	DispatchQueue     = "campaign_dispatch"
	StatusEventsQueue = "status_events"
)

// DeadLetterQueue names the queue rejected deliveries of queue land in.
func DeadLetterQueue(queue string) string {
	return queue + "_dlq"
}

// Broker is the queue transport shared by producers and consumers.
type Broker interface {
	Publish(ctx context.Context, queue string, body []byte) error
	// PublishDelayed makes body visible on queue after delay. Pending
	// messages must survive a process restart on durable brokers.
	PublishDelayed(ctx context.Context, queue string, body []byte, delay time.Duration) error
	// Consume streams deliveries until ctx is done, then closes the channel.
	Consume(ctx context.Context, queue, consumerTag string) (<-chan Delivery, error)
}

// Delivery is one message taken off a queue.
type Delivery struct {
	Body   []byte
	ack    func() error
	reject func(requeue bool) error
}

func NewDelivery(body []byte, ack func() error, reject func(requeue bool) error) Delivery {
	return Delivery{Body: body, ack: ack, reject: reject}
}

func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Reject without requeue routes the delivery to the dead letter queue.
func (d Delivery) Reject(requeue bool) error {
	if d.reject == nil {
		return nil
	}
	return d.reject(requeue)
}
