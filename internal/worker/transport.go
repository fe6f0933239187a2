package worker

import (
	"context"
	"errors"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/cuongbtq/applyflow/shared/rabbitmq"
)

// Message is one received queue message.
type Message struct {
	ID          string
	Body        []byte
	Redelivered bool

	delivery *amqp.Delivery
}

// Transport is the queue the worker consumes. Delete acknowledges a
// message for good; Release hands it back for redelivery.
type Transport interface {
	Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error)
	Delete(ctx context.Context, m Message) error
	Release(ctx context.Context, m Message) error
	Reconnect() error
}

var errNoDelivery = errors.New("message has no delivery handle")

// RabbitTransport adapts the shared RabbitMQ client.
type RabbitTransport struct {
	client *rabbitmq.Client
}

// NewRabbitTransport creates a RabbitTransport.
func NewRabbitTransport(client *rabbitmq.Client) *RabbitTransport {
	return &RabbitTransport{client: client}
}

func (t *RabbitTransport) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]Message, error) {
	deliveries, err := t.client.Receive(ctx, maxMessages, wait)
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, len(deliveries))
	for i := range deliveries {
		d := deliveries[i]
		msgs[i] = Message{
			ID:          strconv.FormatUint(d.DeliveryTag, 10),
			Body:        d.Body,
			Redelivered: d.Redelivered,
			delivery:    &d,
		}
	}
	return msgs, nil
}

func (t *RabbitTransport) Delete(_ context.Context, m Message) error {
	if m.delivery == nil {
		return errNoDelivery
	}
	return m.delivery.Ack(false)
}

func (t *RabbitTransport) Release(_ context.Context, m Message) error {
	if m.delivery == nil {
		return errNoDelivery
	}
	return m.delivery.Nack(false, true)
}

func (t *RabbitTransport) Reconnect() error {
	return t.client.Reconnect()
}
