package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/hotel-ingest/internal/models"
)

// DefaultClaimMinIdle is how long an entry must sit unacked with
// another consumer before it is reclaimed.
const DefaultClaimMinIdle = time.Minute

// ConsumerConfig holds consumer-group reader settings.
type ConsumerConfig struct {
	Stream   string
	Group    string
	Consumer string
	Count    int64         // Max entries per read (default: 50)
	Block    time.Duration // Block duration for reads (default: 2s)
	// ClaimMinIdle bounds reclaiming of entries a crashed consumer
	// read but never acknowledged (default: DefaultClaimMinIdle).
	ClaimMinIdle time.Duration
}

// Consumer reads hand-off events through a consumer group with
// at-least-once semantics: entries stay pending until acknowledged.
type Consumer struct {
	client *Client
	cfg    ConsumerConfig
}

// Delivery is one consumed stream entry.
type Delivery struct {
	ID    string
	Event models.HotelEvent
}

// DeadLetterDelivery is one consumed DLQ entry.
type DeadLetterDelivery struct {
	ID     string
	Letter models.DeadLetter
}

// NewConsumer creates a consumer and ensures its group exists.
func NewConsumer(ctx context.Context, client *Client, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Count <= 0 {
		cfg.Count = 50
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = DefaultClaimMinIdle
	}

	if err := client.CreateConsumerGroup(ctx, cfg.Stream, cfg.Group); err != nil {
		return nil, err
	}
	return &Consumer{client: client, cfg: cfg}, nil
}

// Stream returns the stream this consumer reads.
func (c *Consumer) Stream() string {
	return c.cfg.Stream
}

// ReadBatch reads up to Count not-yet-delivered entries. A read timeout
// returns an empty batch, not an error.
func (c *Consumer) ReadBatch(ctx context.Context) ([]Delivery, error) {
	messages, err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Delivery, 0, len(messages))
	for _, msg := range messages {
		out = append(out, Delivery{ID: msg.ID, Event: eventFromValues(msg.Values)})
	}
	return out, nil
}

// ReadDeadLetters reads up to Count not-yet-delivered DLQ entries.
func (c *Consumer) ReadDeadLetters(ctx context.Context) ([]DeadLetterDelivery, error) {
	messages, err := c.read(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]DeadLetterDelivery, 0, len(messages))
	for _, msg := range messages {
		out = append(out, DeadLetterDelivery{ID: msg.ID, Letter: deadLetterFromValues(msg.Values)})
	}
	return out, nil
}

// read returns pending entries abandoned by a crashed consumer first,
// then not-yet-delivered entries. Entries stay pending until acked, so
// a crash between read and ack redelivers them here.
func (c *Consumer) read(ctx context.Context) ([]redis.XMessage, error) {
	reclaimed, err := c.reclaimPending(ctx)
	if err != nil {
		return nil, err
	}
	if len(reclaimed) > 0 {
		return reclaimed, nil
	}

	streams, err := c.client.XReadGroup(ctx, c.cfg.Group, c.cfg.Consumer, c.cfg.Stream, c.cfg.Count, c.cfg.Block)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read from stream %s: %w", c.cfg.Stream, err)
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

// reclaimPending claims entries pending longer than ClaimMinIdle.
func (c *Consumer) reclaimPending(ctx context.Context) ([]redis.XMessage, error) {
	pending, err := c.client.XPendingExt(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Count)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list pending entries on %s: %w", c.cfg.Stream, err)
	}

	var ids []string
	for _, entry := range pending {
		if entry.Idle >= c.cfg.ClaimMinIdle {
			ids = append(ids, entry.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	claimed, err := c.client.XClaim(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Consumer, c.cfg.ClaimMinIdle, ids...)
	if err != nil {
		return nil, fmt.Errorf("failed to claim %d pending entries on %s: %w", len(ids), c.cfg.Stream, err)
	}
	return claimed, nil
}

// Ack acknowledges processed entries. After acknowledgment they are
// never redelivered.
func (c *Consumer) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, ids...); err != nil {
		return fmt.Errorf("failed to ack %d entries on %s: %w", len(ids), c.cfg.Stream, err)
	}
	return nil
}

// PendingCount reports how many delivered-but-unacked entries the group
// holds.
func (c *Consumer) PendingCount(ctx context.Context) (int64, error) {
	pending, err := c.client.XPending(ctx, c.cfg.Stream, c.cfg.Group)
	if err != nil {
		return 0, fmt.Errorf("failed to read pending summary for %s: %w", c.cfg.Stream, err)
	}
	return pending.Count, nil
}
