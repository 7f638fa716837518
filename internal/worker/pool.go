package worker

import (
	"context"
	"log"
	"sync"

	"campaign-delivery/internal/messaging"
	"campaign-delivery/internal/metrics"
)

// HandlerFunc processes one payload. A returned error dead-letters it.
type HandlerFunc func(ctx context.Context, body []byte) error

type WorkerPool struct {
	queue   string
	handler HandlerFunc

	mu         sync.Mutex
	deliveries <-chan messaging.Delivery
	stopCh     chan struct{}
	wg         sync.WaitGroup
	workers    int
}

func NewWorkerPool(queue string, workerCount int, handler HandlerFunc) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &WorkerPool{
		queue:   queue,
		handler: handler,
		stopCh:  make(chan struct{}),
		workers: workerCount,
	}
}

// Start runs the workers over deliveries until Stop or until the channel closes.
func (wp *WorkerPool) Start(deliveries <-chan messaging.Delivery) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.deliveries = deliveries
	wp.startLocked()
}

func (wp *WorkerPool) startLocked() {
	log.Printf("[Worker] Starting %d workers for %s", wp.workers, wp.queue)
	stop := wp.stopCh
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.run(stop)
	}
}

func (wp *WorkerPool) run(stop <-chan struct{}) {
	defer wp.wg.Done()
	metrics.WorkerActive.WithLabelValues(wp.queue).Inc()
	defer metrics.WorkerActive.WithLabelValues(wp.queue).Dec()

	for {
		select {
		case <-stop:
			return
		case msg, ok := <-wp.deliveries:
			if !ok {
				return
			}
			wp.handleMessage(msg)
		}
	}
}

// Stop signals the workers and waits for in-flight messages to finish.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	wp.stopLocked()
}

func (wp *WorkerPool) stopLocked() {
	select {
	case <-wp.stopCh:
	default:
		close(wp.stopCh)
	}
	wp.wg.Wait()
	log.Printf("[Worker] Stopped workers for %s", wp.queue)
}

// handleMessage runs the handler detached from any shutdown signal so a
// message is never abandoned halfway through a status transaction.
func (wp *WorkerPool) handleMessage(msg messaging.Delivery) {
	if err := wp.handler(context.Background(), msg.Body); err != nil {
		log.Printf("[Worker][%s] Failed to process message: %v", wp.queue, err)
		_ = msg.Reject(false) // send to DLQ
		return
	}
	_ = msg.Ack()
	metrics.WorkerProcessed.WithLabelValues(wp.queue).Inc()
}

func (wp *WorkerPool) Workers() int {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	return wp.workers
}

// SetWorkerCount updates the worker pool to use a new concurrency level
func (wp *WorkerPool) SetWorkerCount(n int) {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if n <= 0 || n == wp.workers {
		return
	}

	log.Printf("[Worker][%s] Rescaling worker pool: %d → %d", wp.queue, wp.workers, n)

	wp.stopLocked()
	wp.workers = n
	wp.stopCh = make(chan struct{})
	if wp.deliveries != nil {
		wp.startLocked()
	}
}
