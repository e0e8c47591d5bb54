// Package streams provides the Redis Streams hand-off between
// ingestion and indexing: an event publisher with approximate trimming,
// a consumer-group reader, and dead-letter publication.
package streams

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a Redis client with the stream operations the hand-off
// needs.
type Client struct {
	client *redis.Client
}

// NewClientFromRedis wraps an existing Redis client.
func NewClientFromRedis(client *redis.Client) *Client {
	return &Client{client: client}
}

// Close closes the underlying Redis client.
func (c *Client) Close() error {
	return c.client.Close()
}

// CreateConsumerGroup creates a consumer group for a stream if it does
// not exist yet.
func (c *Client) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := c.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// XAdd appends a message to a stream.
func (c *Client) XAdd(ctx context.Context, stream string, values map[string]any) (string, error) {
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Result()
}

// XReadGroup reads not-yet-delivered messages for a consumer group.
func (c *Client) XReadGroup(
	ctx context.Context, group, consumer, stream string, count int64, block time.Duration,
) ([]redis.XStream, error) {
	return c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
}

// XAck acknowledges messages in a stream.
func (c *Client) XAck(ctx context.Context, stream, group string, ids ...string) error {
	return c.client.XAck(ctx, stream, group, ids...).Err()
}

// XPending returns the pending entries summary for a group.
func (c *Client) XPending(ctx context.Context, stream, group string) (*redis.XPending, error) {
	return c.client.XPending(ctx, stream, group).Result()
}

// XPendingExt lists up to count pending entries for a group with their
// idle times.
func (c *Client) XPendingExt(ctx context.Context, stream, group string, count int64) ([]redis.XPendingExt, error) {
	return c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
}

// XClaim transfers ownership of pending entries to a consumer and
// returns them.
func (c *Client) XClaim(
	ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string,
) ([]redis.XMessage, error) {
	return c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
}

// XLen returns the length of a stream.
func (c *Client) XLen(ctx context.Context, stream string) (int64, error) {
	return c.client.XLen(ctx, stream).Result()
}

// XTrimMaxLenApprox trims a stream to approximately maxLen entries.
func (c *Client) XTrimMaxLenApprox(ctx context.Context, stream string, maxLen int64) error {
	return c.client.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Err()
}
