package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"loqui.org/internal/audit"
	"loqui.org/internal/auth"
	"loqui.org/internal/config"
	"loqui.org/internal/email"
	"loqui.org/internal/events"
	"loqui.org/internal/guard"
	"loqui.org/internal/httpapi"
	"loqui.org/internal/jobs"
	"loqui.org/internal/lifecycle"
	"loqui.org/internal/obs"
	"loqui.org/internal/store/kv"
	"loqui.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "none"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)
	cfg := config.Load()

	accounts, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	kvStore := kv.NewRedis(rdb)

	tokens, err := auth.NewManager(auth.ManagerConfig{
		Issuer:        cfg.JWTIssuer,
		AccessSecret:  []byte(cfg.JWTAccessSecret),
		RefreshSecret: []byte(cfg.JWTRefreshSecret),
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})
	if err != nil {
		log.Fatalf("token manager: %v", err)
	}

	mailer, err := email.NewSMTPDispatcher(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUser,
		Password: cfg.SMTPPass,
		From:     cfg.FromAddr,
	})
	if err != nil {
		log.Fatalf("smtp dispatcher: %v", err)
	}
	renderer, err := email.NewRenderer()
	if err != nil {
		log.Fatalf("email templates: %v", err)
	}

	queue := jobs.New("accounts", jobs.NewRedisStore(rdb, "accounts"),
		jobs.WithConcurrency(cfg.QueueConcurrency),
		jobs.WithPollInterval(cfg.QueuePollInterval),
	)

	bus := events.NewBus()

	svc := lifecycle.New(
		accounts,
		tokens,
		auth.NewBlacklist(kvStore),
		guard.New(kvStore, guard.Config{
			MaxAttempts: int64(cfg.LoginMaxAttempts),
			Window:      cfg.LoginWindow,
			FailClosed:  cfg.GuardFailClosed,
		}),
		queue,
		renderer,
		mailer,
		lifecycle.Config{
			BaseURL:                cfg.BaseURL,
			VerifyTokenTTL:         cfg.VerifyTokenTTL,
			ResendTokenTTL:         cfg.ResendVerifyTokenTTL,
			ResetTokenTTL:          cfg.ResetTokenTTL,
			GracePeriod:            cfg.GracePeriod,
			ReminderLeadTime:       cfg.ReminderLeadTime,
			UnverifiedRemoval:      cfg.UnverifiedRemoval,
			VerificationEmailDelay: cfg.VerificationEmailDelay,
			EmailMaxAttempts:       cfg.EmailMaxAttempts,
			EmailRetryDelay:        cfg.EmailRetryDelay,
			ResendCooldown:         cfg.ResendCooldown,
			LoginMissDelay:         cfg.LoginMissDelay,
			PurgeOnRemoval:         cfg.RemovalMode == config.RemovalPurge,
		},
		lifecycle.WithEvents(bus),
	)

	api := httpapi.New(svc, bus, httpapi.ReadyProbe{DB: accounts.DB()}, version, httpapi.Config{
		SecureCookies: cfg.SecureCookies,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		queue.Start(workerCtx)
	}()
	go audit.Record(workerCtx, bus)

	log.Printf("starting loqui-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)

	// Let in-flight email jobs finish before closing the stores.
	stopWorkers()
	workers.Wait()

	_ = accounts.Close()
	_ = rdb.Close()
	log.Println("stopped")
}
