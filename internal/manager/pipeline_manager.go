// internal/manager/pipeline_manager.go
package manager

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"campaign-delivery/internal/consumer"
	"campaign-delivery/internal/messaging"
	"campaign-delivery/internal/worker"
)

// QueueDeclarer is implemented by brokers that need queues declared before use.
type QueueDeclarer interface {
	DeclareQueue(name string) error
}

// PipelineManager owns the consumers of every pipeline queue.
type PipelineManager struct {
	broker messaging.Broker

	mu        sync.RWMutex
	consumers map[string]*consumer.Consumer
}

func NewPipelineManager(broker messaging.Broker) *PipelineManager {
	return &PipelineManager{
		broker:    broker,
		consumers: make(map[string]*consumer.Consumer),
	}
}

// AddQueue declares the queue when the broker needs it and starts consuming.
func (pm *PipelineManager) AddQueue(queue string, workers int, handler worker.HandlerFunc) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.consumers[queue]; exists {
		return nil // already running
	}

	if d, ok := pm.broker.(QueueDeclarer); ok {
		if err := d.DeclareQueue(queue); err != nil {
			return err
		}
	}

	c, err := consumer.StartConsumer(pm.broker, queue, workers, handler)
	if err != nil {
		return err
	}
	pm.consumers[queue] = c

	log.Printf("Queue %s consumer started with %d workers", queue, workers)
	return nil
}

// RemoveQueue stops the queue's consumer
func (pm *PipelineManager) RemoveQueue(queue string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	c, exists := pm.consumers[queue]
	if !exists {
		return
	}
	c.Stop()
	delete(pm.consumers, queue)
}

// ShutdownAll stops every consumer, letting in-flight messages finish
func (pm *PipelineManager) ShutdownAll() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for name, c := range pm.consumers {
		c.Stop()
		log.Printf("Stopped queue %s", name)
	}
	pm.consumers = make(map[string]*consumer.Consumer)
}

// ListQueues returns the names of consumed queues
func (pm *PipelineManager) ListQueues() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	names := make([]string, 0, len(pm.consumers))
	for name := range pm.consumers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (pm *PipelineManager) SetWorkerCount(queue string, n int) error {
	if n <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", n)
	}

	pm.mu.RLock()
	c, ok := pm.consumers[queue]
	pm.mu.RUnlock()
	if !ok {
		return fmt.Errorf("queue not found: %s", queue)
	}

	c.SetWorkerCount(n)
	return nil
}
