// internal/messaging/rabbit.go
package messaging

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"campaign-delivery/internal/metrics"
)

type RabbitClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	URL     string

	mu       sync.Mutex
	declared map[string]bool
	prefetch int
}

func NewRabbitClient(url string, prefetch int) (*RabbitClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	return &RabbitClient{
		conn:     conn,
		channel:  ch,
		URL:      url,
		declared: map[string]bool{},
		prefetch: prefetch,
	}, nil
}

func (r *RabbitClient) GetChannel() *amqp.Channel {
	return r.channel
}

func (r *RabbitClient) GetConnection() *amqp.Connection {
	return r.conn
}

// DeclareTopology creates the dispatch and status queues with their DLQs.
func (r *RabbitClient) DeclareTopology() error {
	for _, q := range []string{DispatchQueue, StatusEventsQueue} {
		if err := r.DeclareQueue(q); err != nil {
			return err
		}
	}
	return nil
}

// DeclareQueue creates a durable queue that dead-letters into <name>_dlq
func (r *RabbitClient) DeclareQueue(queueName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.declared[queueName] {
		return nil
	}

	dlqName := DeadLetterQueue(queueName)

	// 1. DLQ
	_, err := r.channel.QueueDeclare(
		dlqName,
		true, false, false, false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}

	// 2. Main Queue with DLQ binding
	args := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqName,
	}
	_, err = r.channel.QueueDeclare(
		queueName,
		true, false, false, false,
		args,
	)
	if err != nil {
		return fmt.Errorf("declare main queue: %w", err)
	}

	r.declared[queueName] = true
	log.Printf("[Rabbit] Queues declared for %s", queueName)
	return nil
}

// declareDelayQueue creates a consumerless holding queue whose messages
// expire after delay and dead-letter into target.
func (r *RabbitClient) declareDelayQueue(target string, delay time.Duration) (string, error) {
	name := fmt.Sprintf("%s_delay_%d", target, delay.Milliseconds())

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.declared[name] {
		return name, nil
	}

	args := amqp.Table{
		"x-message-ttl":             int32(delay.Milliseconds()),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": target,
	}
	if _, err := r.channel.QueueDeclare(name, true, false, false, false, args); err != nil {
		return "", fmt.Errorf("declare delay queue %s: %w", name, err)
	}
	r.declared[name] = true
	return name, nil
}

// Publish sends a persistent message to the named queue
func (r *RabbitClient) Publish(_ context.Context, queueName string, body []byte) error {
	err := r.channel.Publish(
		"",        // default exchange
		queueName, // routing key (queue name)
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to queue %s: %w", queueName, err)
	}
	return nil
}

func (r *RabbitClient) PublishDelayed(ctx context.Context, queueName string, body []byte, delay time.Duration) error {
	if delay <= 0 {
		return r.Publish(ctx, queueName, body)
	}
	holding, err := r.declareDelayQueue(queueName, delay)
	if err != nil {
		return err
	}
	return r.Publish(ctx, holding, body)
}

// Consume opens a dedicated channel for the consumer so its lifetime is
// independent from the publishing channel.
func (r *RabbitClient) Consume(ctx context.Context, queueName, consumerTag string) (<-chan Delivery, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open channel: %w", queueName, err)
	}
	if r.prefetch > 0 {
		if err := ch.Qos(r.prefetch, 0, false); err != nil {
			ch.Close()
			return nil, fmt.Errorf("%s: set qos: %w", queueName, err)
		}
	}

	msgs, err := ch.Consume(
		queueName,
		consumerTag,
		false, // autoAck: false to handle manually
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("%s: failed to start consuming: %w", queueName, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				_ = ch.Cancel(consumerTag, false)
				return
			case msg, ok := <-msgs:
				if !ok {
					log.Printf("[Rabbit] %s: delivery channel closed", queueName)
					return
				}
				d := msg
				delivery := NewDelivery(d.Body,
					func() error { return d.Ack(false) },
					func(requeue bool) error { return d.Reject(requeue) },
				)
				select {
				case out <- delivery:
				case <-ctx.Done():
					_ = d.Reject(true)
					_ = ch.Cancel(consumerTag, false)
					return
				}
			}
		}
	}()
	return out, nil
}

// Close cleans up connection and channel
func (r *RabbitClient) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	if err := r.conn.Close(); err != nil {
		return err
	}
	return nil
}

func (r *RabbitClient) UpdateQueueDepth(queueName string) {
	q, err := r.channel.QueueInspect(queueName)
	if err != nil {
		log.Printf("[Rabbit] Failed to inspect queue %s: %v", queueName, err)
		return
	}

	metrics.QueueDepth.WithLabelValues(queueName).Set(float64(q.Messages))
}

var _ Broker = (*RabbitClient)(nil)
