package mail

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/iliyamo/community-auth/internal/config"
	"github.com/iliyamo/community-auth/internal/model"
)

func configWithoutHost() config.MailConfig {
	return config.MailConfig{Port: 587, From: "no-reply@example.com"}
}

func TestVerificationMessageEmbedsCode(t *testing.T) {
	subject, body := VerificationMessage(model.PurposePasswordReset, "AB23CD45", 10*time.Minute)
	if subject != "Your password reset code" {
		t.Fatalf("subject = %q", subject)
	}
	if !strings.Contains(body, "AB23CD45") {
		t.Fatal("body does not contain the code")
	}
	if !strings.Contains(body, "10 minutes") {
		t.Fatal("body does not state the validity window")
	}
}

func TestVerificationMessageEscapesCode(t *testing.T) {
	_, body := VerificationMessage(model.PurposeRegister, "<b>", time.Minute)
	if strings.Contains(body, "<b>") {
		t.Fatal("code must be HTML escaped")
	}
}

func TestBuildMessageHeaders(t *testing.T) {
	msg := string(BuildMessage("no-reply@example.com", "u@example.com", "Hi", "<p>x</p>"))
	for _, h := range []string{"From: no-reply@example.com\r\n", "To: u@example.com\r\n", "Subject: Hi\r\n", "MIME-Version: 1.0\r\n"} {
		if !strings.Contains(msg, h) {
			t.Fatalf("missing header %q in %q", h, msg)
		}
	}
	if !strings.HasSuffix(msg, "\r\n\r\n<p>x</p>") {
		t.Fatalf("body not separated from headers: %q", msg)
	}
}

func TestSMTPSenderRequiresConfig(t *testing.T) {
	err := NewSMTPSender(configWithoutHost()).Send(context.Background(), "u@example.com", "s", "b")
	if err != ErrNotConfigured {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
