package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/iliyamo/community-auth/internal/config"
	"github.com/iliyamo/community-auth/internal/mail"
	"github.com/iliyamo/community-auth/internal/queue"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("dotenv: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if !cfg.Mail.Enabled() {
		log.Fatalf("mailer: SMTP_HOST, SMTP_PORT and MAIL_FROM are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("mailer: consuming %s", queue.EmailQueueName)
	err = queue.RunEmailConsumer(ctx, cfg.AMQPURL, mail.NewSMTPSender(cfg.Mail))
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("mailer: %v", err)
	}
}
