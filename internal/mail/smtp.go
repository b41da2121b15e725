package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/community-auth/internal/config"
)

var ErrNotConfigured = errors.New("email is not configured")

// SMTPSender delivers HTML mail straight to an SMTP relay.
type SMTPSender struct {
	cfg config.MailConfig
}

func NewSMTPSender(cfg config.MailConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// BuildMessage renders RFC 5322 headers plus an HTML body.
func BuildMessage(from, to, subject, body string) []byte {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(body)
	return []byte(msg.String())
}

// dialTimeout bounds the TCP and TLS handshake; the whole exchange is
// bounded by the caller's context deadline or sessionTimeout.
const (
	dialTimeout    = 10 * time.Second
	sessionTimeout = 30 * time.Second
)

func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if !s.cfg.Enabled() {
		return ErrNotConfigured
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return fmt.Errorf("mail: header injection attempt")
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	msg := BuildMessage(s.cfg.From, to, subject, body)

	conn, err := s.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("mail: dial %s: %w", addr, err)
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(sessionTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return err
	}
	// Unblock a stalled relay as soon as the request is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	if !s.cfg.Secure {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				return err
			}
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return err
	}
	if err := client.Rcpt(to); err != nil {
		return err
	}
	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// dial opens the connection: implicit TLS when Secure, plain TCP otherwise
// (upgraded with STARTTLS when the server offers it).
func (s *SMTPSender) dial(ctx context.Context, addr string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: dialTimeout}
	if !s.cfg.Secure {
		return nd.DialContext(ctx, "tcp", addr)
	}
	td := &tls.Dialer{NetDialer: nd, Config: &tls.Config{ServerName: s.cfg.Host}}
	return td.DialContext(ctx, "tcp", addr)
}

// LogSender writes mail to the process log instead of delivering it.  Used
// with MAIL_TRANSPORT=log in local development. ShowBody also dumps the
// body so verification codes can be read from the log.
type LogSender struct {
	ShowBody bool
}

func (l LogSender) Send(_ context.Context, to, subject, body string) error {
	if l.ShowBody {
		log.Printf("mail(log): to=%s subject=%q body=%s", to, subject, body)
		return nil
	}
	log.Printf("mail(log): to=%s subject=%q bytes=%d", to, subject, len(body))
	return nil
}
