package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/inventory/internal/core/domain"
)

type fakeWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestKafkaPublisher_Publish(t *testing.T) {
	writer := &fakeWriter{}
	publisher := newKafkaPublisher(writer, zap.NewNop())

	event := domain.StockEvent{
		Type:        domain.EventStockAdjusted,
		ItemID:      "item-1",
		SKU:         "SH-RED",
		Name:        "Shirt",
		Delta:       -2,
		PreviousQty: 5,
		NewQty:      3,
		OccurredAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, publisher.Publish(context.Background(), event))

	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	assert.Equal(t, "item-1", string(msg.Key))
	assert.Equal(t, "stock.adjusted", header(msg, "event-type"))
	assert.NotEmpty(t, header(msg, "event-id"))

	var decoded domain.StockEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.True(t, event.OccurredAt.Equal(decoded.OccurredAt))
	decoded.OccurredAt = event.OccurredAt
	assert.Equal(t, event, decoded)
}

func TestKafkaPublisher_PayloadFields(t *testing.T) {
	writer := &fakeWriter{}
	publisher := newKafkaPublisher(writer, zap.NewNop())

	require.NoError(t, publisher.Publish(context.Background(), domain.StockEvent{
		Type:   domain.EventItemDeleted,
		ItemID: "item-9",
	}))

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &payload))
	assert.Equal(t, "item.deleted", payload["type"])
	assert.Equal(t, "item-9", payload["item_id"])
	assert.NotContains(t, payload, "sku")
	assert.Contains(t, payload, "new_qty")
}

func TestKafkaPublisher_WriteError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("leader not available")}
	publisher := newKafkaPublisher(writer, zap.NewNop())

	err := publisher.Publish(context.Background(), domain.StockEvent{Type: domain.EventItemCreated, ItemID: "a"})
	assert.ErrorContains(t, err, "leader not available")
}

func TestKafkaPublisher_Close(t *testing.T) {
	writer := &fakeWriter{}
	publisher := newKafkaPublisher(writer, zap.NewNop())

	require.NoError(t, publisher.Close())
	assert.True(t, writer.closed)
}

func TestNopPublisher(t *testing.T) {
	var p NopPublisher
	assert.NoError(t, p.Publish(context.Background(), domain.StockEvent{}))
	assert.NoError(t, p.Close())
}
