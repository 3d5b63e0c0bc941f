package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/moisson/source"
)

// Dispatcher decouples producers from sink latency: batches are queued on
// a bounded channel and delivered by a single consumer goroutine. When the
// queue is full the oldest pending batch is dropped with a warning rather
// than blocking the producer — backpressure never stalls a search job.
type Dispatcher struct {
	sink    Sink
	queue   chan []source.ResultRecord
	logger  *slog.Logger
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewDispatcher starts a dispatcher with the given queue capacity
// (default 64 if cap <= 0). Call Close to drain and stop.
func NewDispatcher(s Sink, capacity int, logger *slog.Logger) *Dispatcher {
	if capacity <= 0 {
		capacity = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sink:   s,
		queue:  make(chan []source.ResultRecord, capacity),
		logger: logger,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Enqueue queues a batch for delivery. Never blocks: if the queue is full
// the oldest pending batch is discarded and a warning logged.
func (d *Dispatcher) Enqueue(records []source.ResultRecord) {
	if len(records) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	for {
		select {
		case d.queue <- records:
			return
		default:
		}
		select {
		case dropped := <-d.queue:
			d.logger.Warn("sink: queue full, dropping oldest batch", "dropped", len(dropped))
		default:
		}
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for batch := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := d.sink.Write(ctx, batch); err != nil {
			d.logger.Warn("sink: delivery failed", "records", len(batch), "error", err)
		}
		cancel()
	}
}

// Close stops accepting batches, drains the queue, and closes the sink.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	return d.sink.Close()
}
