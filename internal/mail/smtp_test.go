package mail

import (
	"bufio"
	"bytes"
	"context"
	"log"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/iliyamo/community-auth/internal/config"
)

// relay listens on loopback and runs serve for every connection.
func relay(t *testing.T, serve func(net.Conn)) config.MailConfig {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serve(conn)
		}
	}()
	port := ln.Addr().(*net.TCPAddr).Port
	return config.MailConfig{Transport: "smtp", Host: "127.0.0.1", Port: port, From: "no-reply@example.com"}
}

// speakSMTP answers just enough of RFC 5321 for one plain delivery and
// passes the DATA payload to got.
func speakSMTP(got chan<- string) func(net.Conn) {
	return func(conn net.Conn) {
		defer conn.Close()
		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		reply("220 relay.test ESMTP")
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.ToUpper(strings.TrimSpace(line))
			switch {
			case strings.HasPrefix(cmd, "EHLO"):
				reply("250-relay.test")
				reply("250 8BITMIME")
			case cmd == "DATA":
				reply("354 end with <CRLF>.<CRLF>")
				var data strings.Builder
				for {
					l, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if l == ".\r\n" {
						break
					}
					data.WriteString(l)
				}
				got <- data.String()
				reply("250 queued")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("250 ok")
			}
		}
	}
}

func TestSMTPSenderDelivers(t *testing.T) {
	got := make(chan string, 1)
	cfg := relay(t, speakSMTP(got))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := NewSMTPSender(cfg).Send(ctx, "u@example.com", "Your code", "<p>AB23CD45</p>"); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case data := <-got:
		if !strings.Contains(data, "To: u@example.com") || !strings.Contains(data, "AB23CD45") {
			t.Fatalf("payload = %q", data)
		}
	case <-time.After(time.Second):
		t.Fatal("relay received nothing")
	}
}

func TestSMTPSenderHonoursContext(t *testing.T) {
	held := make(chan net.Conn, 1)
	// Accept and never greet.
	cfg := relay(t, func(c net.Conn) { held <- c })
	t.Cleanup(func() {
		select {
		case c := <-held:
			_ = c.Close()
		default:
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := NewSMTPSender(cfg).Send(ctx, "u@example.com", "s", "b")
	if err == nil {
		t.Fatal("send to a silent relay succeeded")
	}
	if d := time.Since(start); d > 2*time.Second {
		t.Fatalf("send blocked for %v", d)
	}
}

func TestSMTPSenderRejectsHeaderInjection(t *testing.T) {
	cfg := config.MailConfig{Host: "127.0.0.1", Port: 1, From: "no-reply@example.com"}
	err := NewSMTPSender(cfg).Send(context.Background(), "u@example.com\r\nBcc: x@example.com", "s", "b")
	if err == nil || !strings.Contains(err.Error(), "header injection") {
		t.Fatalf("err = %v", err)
	}
}

func TestLogSenderShowBody(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	_ = LogSender{}.Send(context.Background(), "u@example.com", "Your code", "<p>AB23CD45</p>")
	if strings.Contains(buf.String(), "AB23CD45") {
		t.Fatalf("body logged without ShowBody: %s", buf.String())
	}

	buf.Reset()
	_ = LogSender{ShowBody: true}.Send(context.Background(), "u@example.com", "Your code", "<p>AB23CD45</p>")
	if !strings.Contains(buf.String(), "AB23CD45") {
		t.Fatalf("body missing from log: %s", buf.String())
	}
}
