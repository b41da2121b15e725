package main // Entry point package

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/community-auth/internal/config"
	"github.com/iliyamo/community-auth/internal/database"
	"github.com/iliyamo/community-auth/internal/handler"
	"github.com/iliyamo/community-auth/internal/mail"
	"github.com/iliyamo/community-auth/internal/middleware"
	"github.com/iliyamo/community-auth/internal/queue"
	"github.com/iliyamo/community-auth/internal/ratelimit"
	"github.com/iliyamo/community-auth/internal/repository"
	"github.com/iliyamo/community-auth/internal/router"
	"github.com/iliyamo/community-auth/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("dotenv: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	var limiter service.RequestLimiter
	var bucket *middleware.TokenBucket
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable; running without rate limits")
	} else {
		defer rdb.Close()
		bucket = middleware.NewTokenBucket(rdb, config.LoadRateLimitConfig())
		if codeCfg := config.LoadCodeLimitConfig(); codeCfg.Enabled {
			limiter = ratelimit.NewCounter(rdb, codeCfg)
		}
	}

	mailer, closeMailer := newMailer(cfg)
	defer closeMailer()

	auth := service.NewAuthService(service.Deps{
		Users:   repository.NewUserRepo(db),
		Tokens:  repository.NewTokenRepo(db),
		Codes:   repository.NewCodeRepo(db),
		Mailer:  mailer,
		Limiter: limiter,
		Config:  cfg.Auth,
	})

	e := router.New()
	router.RegisterRoutes(e)
	h := handler.NewAuthHandler(cfg.Auth, auth)
	router.RegisterAuth(e, h, cfg.Auth.JWTSecret, bucket)
	router.RegisterAdmin(e, h, cfg.Auth.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s, mail=%s)", addr, cfg.Env, cfg.Mail.Transport)

	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// newMailer picks the outbound mail transport.
func newMailer(cfg config.Config) (service.Mailer, func()) {
	switch cfg.Mail.Transport {
	case "queue":
		p := queue.NewPublisher(cfg.AMQPURL)
		return p, func() { _ = p.Close() }
	case "log":
		return mail.LogSender{ShowBody: cfg.Env == "dev"}, func() {}
	default:
		if !cfg.Mail.Enabled() {
			log.Printf("mail: SMTP not configured; code mail will fail with EMAIL_SEND_FAILED")
		}
		return mail.NewSMTPSender(cfg.Mail), func() {}
	}
}
