package streams

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// Publisher appends hand-off events to the event stream, issuing an
// approximate trim every TrimInterval appends to cap stream growth.
type Publisher struct {
	client       *Client
	stream       string
	maxLen       int64
	trimInterval int64
	appended     atomic.Int64
	log          logger.Logger
}

// PublisherConfig holds publisher tunables.
type PublisherConfig struct {
	Stream       string
	MaxLen       int64
	TrimInterval int64
}

// NewPublisher creates an event publisher.
func NewPublisher(client *Client, cfg PublisherConfig, log logger.Logger) *Publisher {
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = 100000
	}
	if cfg.TrimInterval <= 0 {
		cfg.TrimInterval = 100
	}
	return &Publisher{
		client:       client,
		stream:       cfg.Stream,
		maxLen:       cfg.MaxLen,
		trimInterval: cfg.TrimInterval,
		log:          log,
	}
}

// PublishHotelEvent appends one event. Trimming is best-effort; a trim
// failure never fails the publish.
func (p *Publisher) PublishHotelEvent(ctx context.Context, ev models.HotelEvent) error {
	if _, err := p.client.XAdd(ctx, p.stream, eventValues(ev)); err != nil {
		return fmt.Errorf("failed to publish event for hotel %s: %w", ev.HotelID, err)
	}

	if n := p.appended.Add(1); n%p.trimInterval == 0 {
		if err := p.client.XTrimMaxLenApprox(ctx, p.stream, p.maxLen); err != nil {
			p.log.Warn("stream trim failed",
				logger.String("stream", p.stream),
				logger.Error(err))
		}
	}
	return nil
}

// DeadLetterPublisher routes permanently failed items onto the DLQ
// streams. Empty-parse failures go to a distinct stream so alerting can
// escalate them separately.
type DeadLetterPublisher struct {
	client      *Client
	stream      string
	emptyStream string
	log         logger.Logger
}

// NewDeadLetterPublisher creates a dead-letter publisher.
func NewDeadLetterPublisher(client *Client, stream, emptyStream string, log logger.Logger) *DeadLetterPublisher {
	return &DeadLetterPublisher{
		client:      client,
		stream:      stream,
		emptyStream: emptyStream,
		log:         log,
	}
}

// Publish appends one dead letter to the stream its cause routes to.
func (d *DeadLetterPublisher) Publish(ctx context.Context, dl models.DeadLetter) error {
	stream := d.stream
	if dl.ErrorCode == models.DLQEmptyParser {
		stream = d.emptyStream
	}

	if _, err := d.client.XAdd(ctx, stream, deadLetterValues(dl)); err != nil {
		return fmt.Errorf("failed to publish dead letter for hotel %s: %w", dl.HotelID, err)
	}

	d.log.Warn("dead letter published",
		logger.String("stream", stream),
		logger.String("error_code", dl.ErrorCode),
		logger.String("hotel_id", dl.HotelID),
		logger.String("provider", dl.ProviderSource))
	return nil
}
