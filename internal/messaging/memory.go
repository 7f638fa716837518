package messaging

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const memoryQueueSize = 4096

// InMemoryBroker is a single-process broker for development and tests.
// Delayed messages live in timers and are lost on restart.
type InMemoryBroker struct {
	mu     sync.Mutex
	queues map[string]chan Delivery
	timers map[*time.Timer]struct{}
	closed bool
}

func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		queues: make(map[string]chan Delivery),
		timers: make(map[*time.Timer]struct{}),
	}
}

func (b *InMemoryBroker) queue(name string) chan Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = make(chan Delivery, memoryQueueSize)
		b.queues[name] = q
	}
	return q
}

func (b *InMemoryBroker) Publish(ctx context.Context, queue string, body []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("publish to %s: broker closed", queue)
	}

	payload := append([]byte(nil), body...)
	d := NewDelivery(payload,
		nil,
		func(requeue bool) error {
			if requeue {
				return b.Publish(context.Background(), queue, payload)
			}
			return b.Publish(context.Background(), DeadLetterQueue(queue), payload)
		},
	)

	select {
	case b.queue(queue) <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *InMemoryBroker) PublishDelayed(ctx context.Context, queue string, body []byte, delay time.Duration) error {
	if delay <= 0 {
		return b.Publish(ctx, queue, body)
	}
	payload := append([]byte(nil), body...)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("publish to %s: broker closed", queue)
	}
	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		b.mu.Lock()
		delete(b.timers, t)
		b.mu.Unlock()
		if err := b.Publish(context.Background(), queue, payload); err != nil {
			log.Printf("[Broker] delayed publish to %s: %v", queue, err)
		}
	})
	b.timers[t] = struct{}{}
	return nil
}

func (b *InMemoryBroker) Consume(ctx context.Context, queue, _ string) (<-chan Delivery, error) {
	in := b.queue(queue)
	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d := <-in:
				select {
				case out <- d:
				case <-ctx.Done():
					_ = d.Reject(true)
					return
				}
			}
		}
	}()
	return out, nil
}

// Len reports how many messages are waiting on queue.
func (b *InMemoryBroker) Len(queue string) int {
	return len(b.queue(queue))
}

// Pending reports how many delayed messages have not been released yet.
func (b *InMemoryBroker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.timers)
}

// Close drops pending delayed messages.
func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for t := range b.timers {
		t.Stop()
	}
	b.timers = map[*time.Timer]struct{}{}
	return nil
}

var _ Broker = (*InMemoryBroker)(nil)
