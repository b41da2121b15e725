package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher hands auth mail to the broker instead of talking SMTP inside the
// request.  It satisfies the service Mailer interface; cmd/mailer drains the
// queue.
type Publisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewPublisher(url string) *Publisher {
	return &Publisher{url: url}
}

// channel returns a fresh channel, redialing when the cached connection has
// dropped.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("channel open: %w", err)
	}
	return ch, nil
}

// Send publishes one EmailRequestedEvent.  Messages are persistent on a
// durable queue.
func (p *Publisher) Send(ctx context.Context, to, subject, body string) error {
	if p.url == "" {
		return errors.New("amqp url not configured")
	}
	ch, err := p.channel()
	if err != nil {
		log.Printf("rabbitmq: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(EmailQueueName, true, false, false, false, nil); err != nil {
		log.Printf("rabbitmq: queue declare failed: %v", err)
		return err
	}

	payload, err := json.Marshal(EmailRequestedEvent{
		To:          to,
		Subject:     subject,
		Body:        body,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal email event: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}
	if err := ch.PublishWithContext(ctx, "", EmailQueueName, false, false, pub); err != nil {
		log.Printf("rabbitmq: publish failed: %v", err)
		return err
	}
	return nil
}

// Close releases the cached connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}
