package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Sender delivers one message.  Implemented by mail.SMTPSender.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// sendTimeout bounds one SMTP delivery.
const sendTimeout = 30 * time.Second

// ErrPermanent marks a message that can never be delivered and must not be
// requeued.
var ErrPermanent = errors.New("permanent delivery failure")

// RunEmailConsumer connects to RabbitMQ, declares the auth.email queue and
// delivers each message through sender.  It reconnects with backoff until
// ctx is cancelled.
func RunEmailConsumer(ctx context.Context, url string, sender Sender) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Printf("email-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, sender)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("email-consumer: consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, sender Sender) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		log.Printf("email-consumer: set QoS failed: %v", err)
	}
	if _, err := ch.QueueDeclare(EmailQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(EmailQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handleMessage(ctx, d.Body, sender); err != nil {
				log.Printf("email-consumer: handle message failed: %v", err)
				// Transient SMTP failures go back once; anything else is dropped.
				requeue := !errors.Is(err, ErrPermanent) && !d.Redelivered
				_ = d.Nack(false, requeue)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func handleMessage(ctx context.Context, body []byte, sender Sender) error {
	var ev EmailRequestedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: unmarshal: %v", ErrPermanent, err)
	}
	if strings.TrimSpace(ev.To) == "" {
		return fmt.Errorf("%w: empty recipient", ErrPermanent)
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := sender.Send(ctx, ev.To, ev.Subject, ev.Body); err != nil {
		return fmt.Errorf("send to %s: %w", ev.To, err)
	}
	log.Printf("email-consumer: delivered %q to %s (requested %s)", ev.Subject, ev.To, ev.RequestedAt)
	return nil
}
