// internal/consumer/consumer.go
package consumer

import (
	"context"
	"fmt"
	"log"

	"campaign-delivery/internal/messaging"
	"campaign-delivery/internal/worker"
)

// Consumer holds control handles and metadata for a running queue consumer
type Consumer struct {
	QueueName   string
	ConsumerTag string
	Pool        *worker.WorkerPool

	cancel context.CancelFunc
}

// StartConsumer subscribes to queueName and fans deliveries out to a pool
// of workerCount workers running handler.
func StartConsumer(broker messaging.Broker, queueName string, workerCount int, handler worker.HandlerFunc) (*Consumer, error) {
	ctx, cancel := context.WithCancel(context.Background())
	consumerTag := fmt.Sprintf("consumer-%s", queueName)

	deliveries, err := broker.Consume(ctx, queueName, consumerTag)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("queue %s: failed to start consuming: %w", queueName, err)
	}

	c := &Consumer{
		QueueName:   queueName,
		ConsumerTag: consumerTag,
		Pool:        worker.NewWorkerPool(queueName, workerCount, handler),
		cancel:      cancel,
	}
	c.Pool.Start(deliveries)

	log.Printf("Started consumer for queue %s", queueName)
	return c, nil
}

// Stop cancels the subscription and waits for in-flight messages
func (c *Consumer) Stop() {
	c.cancel()
	c.Pool.Stop()
	log.Printf("Stopped consumer for queue %s", c.QueueName)
}

func (c *Consumer) SetWorkerCount(n int) {
	c.Pool.SetWorkerCount(n)
}
