// Package queue defines message payloads exchanged over the message broker.
package queue

// EmailQueueName is the durable queue carrying outgoing auth mail.
const EmailQueueName = "auth.email"

// EmailRequestedEvent is published when the API wants a message delivered.
// It carries the fully rendered message so the mailer needs no database
// access.
type EmailRequestedEvent struct {
	To          string `json:"to"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
	RequestedAt string `json:"requested_at"`
}
