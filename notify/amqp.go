package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// tokenMessage is the queue payload. Token values are delivery material
// here, not secrets at rest: the queue consumer embeds them into an
// email link and discards them.
type tokenMessage struct {
	Email     string    `json:"email"`
	Purpose   string    `json:"purpose"`
	Token     string    `json:"token"`
	Timestamp time.Time `json:"timestamp"`
}

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher sends token messages to a durable RabbitMQ queue. One
// queue carries both reset and verification traffic; the purpose field
// discriminates.
type AMQPPublisher struct {
	ch    channel
	queue string
}

// NewAMQPPublisher declares the queue (idempotent, durable) on the
// given connection and returns a publisher bound to it.
func NewAMQPPublisher(conn *amqp.Connection, queue string) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	return &AMQPPublisher{ch: ch, queue: queue}, nil
}

// Send publishes one token message. Messages are persistent so they
// survive a broker restart.
func (p *AMQPPublisher) Send(ctx context.Context, email, purpose, token string) error {
	body, err := buildMessage(email, purpose, token, time.Now().UTC())
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.queue, err)
	}
	return nil
}

func buildMessage(email, purpose, token string, ts time.Time) ([]byte, error) {
	return json.Marshal(tokenMessage{
		Email:     email,
		Purpose:   purpose,
		Token:     token,
		Timestamp: ts,
	})
}
