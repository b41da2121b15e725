package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type recordingSender struct {
	to, subject, body string
	err               error
}

func (r *recordingSender) Send(_ context.Context, to, subject, body string) error {
	r.to, r.subject, r.body = to, subject, body
	return r.err
}

func TestHandleMessageDelivers(t *testing.T) {
	payload, err := json.Marshal(EmailRequestedEvent{To: "a@example.com", Subject: "Code", Body: "<p>X</p>"})
	if err != nil {
		t.Fatal(err)
	}
	s := &recordingSender{}
	if err := handleMessage(context.Background(), payload, s); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if s.to != "a@example.com" || s.subject != "Code" || s.body != "<p>X</p>" {
		t.Fatalf("sent %+v", s)
	}
}

func TestHandleMessagePermanentFailures(t *testing.T) {
	for name, body := range map[string]string{
		"bad json":     "{",
		"no recipient": `{"subject":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			err := handleMessage(context.Background(), []byte(body), &recordingSender{})
			if !errors.Is(err, ErrPermanent) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestHandleMessageSendFailureIsTransient(t *testing.T) {
	boom := errors.New("smtp down")
	payload, _ := json.Marshal(EmailRequestedEvent{To: "a@example.com"})
	err := handleMessage(context.Background(), payload, &recordingSender{err: boom})
	if !errors.Is(err, boom) || errors.Is(err, ErrPermanent) {
		t.Fatalf("err = %v", err)
	}
}

func TestPublisherRequiresURL(t *testing.T) {
	if err := NewPublisher("").Send(context.Background(), "a@example.com", "s", "b"); err == nil {
		t.Fatal("expected error without url")
	}
}
