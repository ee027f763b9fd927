package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeChannel struct {
	key string
	msg amqp.Publishing
	err error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.key = key
	c.msg = msg
	return c.err
}

func (c *fakeChannel) Close() error { return nil }

type recordingPublisher struct {
	got []OrderEvent
	err error
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, e OrderEvent) error {
	p.got = append(p.got, e)
	return p.err
}

func sampleEvent() OrderEvent {
	return OrderEvent{
		Type:           TypeOrderStatusChanged,
		OrderID:        "ord-1",
		OrderNumber:    "ORD-20261016-01ABC",
		UserID:         "user-1",
		PreviousStatus: "PROCESSING",
		CurrentStatus:  "SHIPPED",
		OccurredAt:     time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisherKeysByOrder(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w}

	require.NoError(t, p.PublishOrderEvent(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "ord-1", string(w.msgs[0].Key))
	require.Equal(t, "event_type", w.msgs[0].Headers[0].Key)

	var decoded OrderEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	require.Equal(t, "SHIPPED", decoded.CurrentStatus)
}

func TestKafkaPublisherWrapsErrors(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &fakeWriter{err: boom}}
	require.ErrorIs(t, p.PublishOrderEvent(context.Background(), sampleEvent()), boom)
}

func TestNewKafkaPublisherRequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "order-events")
	require.Error(t, err)
}

func TestRabbitPublisherPublishesPersistent(t *testing.T) {
	ch := &fakeChannel{}
	p := &RabbitPublisher{channel: ch, queue: "order-events"}

	require.NoError(t, p.PublishOrderEvent(context.Background(), sampleEvent()))
	require.Equal(t, "order-events", ch.key)
	require.Equal(t, amqp.Persistent, ch.msg.DeliveryMode)
	require.Equal(t, TypeOrderStatusChanged, ch.msg.Type)
	require.Equal(t, "application/json", ch.msg.ContentType)
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("audit down")}

	err := Multi{ok, nil, failing}.PublishOrderEvent(context.Background(), sampleEvent())
	require.ErrorContains(t, err, "audit down")
	require.Len(t, ok.got, 1)
	require.Len(t, failing.got, 1)

	require.NoError(t, Multi{ok, Nop{}}.PublishOrderEvent(context.Background(), sampleEvent()))
}
