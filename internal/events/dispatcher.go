package events

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
)

// OutboxDispatcher adapts a Producer to the outbox package's Dispatcher
// interface, so the publisher depends only on "publish these bytes to
// this topic/key" and not on the CloudEvent construction this package
// already did when the event was written.
type OutboxDispatcher struct {
	producer *Producer
}

func NewOutboxDispatcher(producer *Producer) *OutboxDispatcher {
	return &OutboxDispatcher{producer: producer}
}

func (d *OutboxDispatcher) Publish(ctx context.Context, topic, partitionKey string, payload []byte) error {
	return d.producer.writer.WriteMessages(ctx, kafkago.Message{
		Topic: topic,
		Key:   []byte(partitionKey),
		Value: payload,
	})
}
