package backfill

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
	"github.com/jonesrussell/hotel-ingest/internal/streams"
)

const defaultIdleWait = time.Second

// Worker drains the hotel event stream and feeds the backfill service.
// A batch is acknowledged only after every event in it was processed or
// dead-lettered.
type Worker struct {
	consumer *streams.Consumer
	service  *Service
	log      logger.Logger

	idleWait time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// NewWorker creates a backfill worker.
func NewWorker(consumer *streams.Consumer, service *Service, log logger.Logger) *Worker {
	return &Worker{
		consumer: consumer,
		service:  service,
		log:      log,
		idleWait: defaultIdleWait,
		stopChan: make(chan struct{}),
	}
}

// Start begins the consume loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	w.log.Info("backfill worker started", logger.String("stream", w.consumer.Stream()))
}

// Stop gracefully stops the worker. The worker can be started again
// afterwards.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	w.mu.Lock()
	w.started = false
	w.stopChan = make(chan struct{})
	w.mu.Unlock()

	w.log.Info("backfill worker stopped")
}

// IsRunning returns whether the worker is currently running.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		processed, err := w.ProcessOnce(ctx)
		if err != nil {
			w.log.Error("backfill batch failed", logger.Error(err))
		}
		if processed == 0 {
			select {
			case <-time.After(w.idleWait):
			case <-w.stopChan:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// ProcessOnce reads one batch, processes it, and acks it. It returns
// how many events were consumed.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	deliveries, err := w.consumer.ReadBatch(ctx)
	if err != nil {
		return 0, err
	}
	if len(deliveries) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(deliveries))
	eventBatch := make([]models.HotelEvent, 0, len(deliveries))
	for _, d := range deliveries {
		ids = append(ids, d.ID)
		eventBatch = append(eventBatch, d.Event)
	}

	stats, err := w.service.ProcessBatch(ctx, eventBatch)
	if err != nil {
		// Dead-letter publication failed; leave the batch pending so a
		// later read retries it.
		return len(deliveries), err
	}

	if err := w.consumer.Ack(ctx, ids...); err != nil {
		return len(deliveries), err
	}

	w.log.Info("backfill batch processed",
		logger.Int("events", stats.Processed),
		logger.Int("updated", stats.Updated),
		logger.Int("indexed", stats.Indexed),
		logger.Int("dead_lettered", stats.DeadLettered))
	return len(deliveries), nil
}
