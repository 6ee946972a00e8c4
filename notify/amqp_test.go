package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type capturingChannel struct {
	key string
	msg amqp.Publishing
}

func (c *capturingChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	c.key = key
	c.msg = msg
	return nil
}

func TestSendPublishesJSON(t *testing.T) {
	ch := &capturingChannel{}
	p := &AMQPPublisher{ch: ch, queue: "auth.tokens"}

	if err := p.Send(context.Background(), "alice@example.com", "reset", "tok123"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if ch.key != "auth.tokens" {
		t.Fatalf("routing key = %q", ch.key)
	}
	if ch.msg.ContentType != "application/json" || ch.msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("unexpected publishing metadata: %+v", ch.msg)
	}

	var got tokenMessage
	if err := json.Unmarshal(ch.msg.Body, &got); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if got.Email != "alice@example.com" || got.Purpose != "reset" || got.Token != "tok123" {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestBuildMessageTimestamp(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	body, err := buildMessage("bob@example.com", "verify", "tok", ts)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	var got tokenMessage
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !got.Timestamp.Equal(ts) {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, ts)
	}
}
