package streams

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/hotel-ingest/internal/logger"
	"github.com/jonesrussell/hotel-ingest/internal/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewClientFromRedis(client)
}

func testEvent(hotelID string) models.HotelEvent {
	return models.HotelEvent{
		EventType:      models.EventHotelUpserted,
		RowID:          "1",
		HotelID:        hotelID,
		ProviderSource: models.ProviderAgoda,
		TagSource:      models.TagINTL,
		TraceID:        "trace-1",
		RunID:          "run-1",
		FetchedAt:      "2026-03-01T08:00:00Z",
	}
}

func TestPublishConsume_RoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	pub := NewPublisher(client, PublisherConfig{Stream: "hotel:events"}, logger.NewNopLogger())
	require.NoError(t, pub.PublishHotelEvent(ctx, testEvent("101")))
	require.NoError(t, pub.PublishHotelEvent(ctx, testEvent("102")))

	consumer, err := NewConsumer(ctx, client, ConsumerConfig{
		Stream:   "hotel:events",
		Group:    "backfill",
		Consumer: "c1",
		Block:    time.Millisecond,
	})
	require.NoError(t, err)

	batch, err := consumer.ReadBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "101", batch[0].Event.HotelID)
	assert.Equal(t, models.ProviderAgoda, batch[0].Event.ProviderSource)
	assert.Equal(t, "trace-1", batch[0].Event.TraceID)
}

func TestConsumer_PendingUntilAck(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	pub := NewPublisher(client, PublisherConfig{Stream: "hotel:events"}, logger.NewNopLogger())
	require.NoError(t, pub.PublishHotelEvent(ctx, testEvent("101")))
	require.NoError(t, pub.PublishHotelEvent(ctx, testEvent("102")))

	consumer, err := NewConsumer(ctx, client, ConsumerConfig{
		Stream:   "hotel:events",
		Group:    "backfill",
		Consumer: "c1",
		Block:    time.Millisecond,
	})
	require.NoError(t, err)

	batch, err := consumer.ReadBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	// Read but not acknowledged: entries stay pending for redelivery.
	pending, err := consumer.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pending)

	require.NoError(t, consumer.Ack(ctx, batch[0].ID, batch[1].ID))

	pending, err = consumer.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)

	// Acknowledged entries are never redelivered.
	batch, err = consumer.ReadBatch(ctx)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestConsumer_RedeliversAfterCrash(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	pub := NewPublisher(client, PublisherConfig{Stream: "hotel:events"}, logger.NewNopLogger())
	require.NoError(t, pub.PublishHotelEvent(ctx, testEvent("101")))
	require.NoError(t, pub.PublishHotelEvent(ctx, testEvent("102")))

	crashed, err := NewConsumer(ctx, client, ConsumerConfig{
		Stream:   "hotel:events",
		Group:    "backfill",
		Consumer: "c1",
		Block:    time.Millisecond,
	})
	require.NoError(t, err)

	// Read without acking, as a consumer that dies mid-batch would.
	batch, err := crashed.ReadBatch(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	time.Sleep(10 * time.Millisecond)

	replacement, err := NewConsumer(ctx, client, ConsumerConfig{
		Stream:       "hotel:events",
		Group:        "backfill",
		Consumer:     "c2",
		Block:        time.Millisecond,
		ClaimMinIdle: time.Millisecond,
	})
	require.NoError(t, err)

	redelivered, err := replacement.ReadBatch(ctx)
	require.NoError(t, err)
	require.Len(t, redelivered, 2)
	assert.Equal(t, "101", redelivered[0].Event.HotelID)

	require.NoError(t, replacement.Ack(ctx, redelivered[0].ID, redelivered[1].ID))

	pending, err := replacement.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	batch, err = replacement.ReadBatch(ctx)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestConsumer_GroupCreationIdempotent(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := NewConsumer(ctx, client, ConsumerConfig{
			Stream:   "hotel:events",
			Group:    "backfill",
			Consumer: "c1",
			Block:    time.Millisecond,
		})
		require.NoError(t, err, "creation %d", i)
	}
}

func TestPublisher_TrimsPeriodically(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	pub := NewPublisher(client, PublisherConfig{
		Stream:       "hotel:events",
		MaxLen:       5,
		TrimInterval: 10,
	}, logger.NewNopLogger())

	for i := 0; i < 10; i++ {
		require.NoError(t, pub.PublishHotelEvent(ctx, testEvent(fmt.Sprintf("%d", i))))
	}

	length, err := client.XLen(ctx, "hotel:events")
	require.NoError(t, err)
	assert.LessOrEqual(t, length, int64(5))
}

func TestDeadLetterPublisher_RoutesByCause(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	dlp := NewDeadLetterPublisher(client, "hotel:events:dlq", "hotel:events:dlq:empty", logger.NewNopLogger())

	require.NoError(t, dlp.Publish(ctx, models.DeadLetter{
		HotelEvent: testEvent("101"),
		ErrorCode:  models.DLQNotFound,
		ErrorMessage: "no row for hotel",
	}))
	require.NoError(t, dlp.Publish(ctx, models.DeadLetter{
		HotelEvent: testEvent("102"),
		ErrorCode:  models.DLQEmptyParser,
		ErrorMessage: "parser produced no name",
	}))

	mainLen, err := client.XLen(ctx, "hotel:events:dlq")
	require.NoError(t, err)
	assert.Equal(t, int64(1), mainLen)

	emptyLen, err := client.XLen(ctx, "hotel:events:dlq:empty")
	require.NoError(t, err)
	assert.Equal(t, int64(1), emptyLen)
}

func TestConsumer_ReadDeadLetters(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	dlp := NewDeadLetterPublisher(client, "hotel:events:dlq", "hotel:events:dlq:empty", logger.NewNopLogger())
	require.NoError(t, dlp.Publish(ctx, models.DeadLetter{
		HotelEvent:   testEvent("101"),
		ErrorCode:    models.DLQNoParser,
		ErrorMessage: "no parser for (Agoda, XX)",
	}))

	consumer, err := NewConsumer(ctx, client, ConsumerConfig{
		Stream:   "hotel:events:dlq",
		Group:    "alerter",
		Consumer: "a1",
		Block:    time.Millisecond,
	})
	require.NoError(t, err)

	letters, err := consumer.ReadDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, models.DLQNoParser, letters[0].Letter.ErrorCode)
	assert.Equal(t, "101", letters[0].Letter.HotelID)
}
