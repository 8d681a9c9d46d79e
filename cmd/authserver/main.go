// Command authserver runs the reference backend: the JSON API under /v1/auth,
// the push socket at /v1/push, /healthz and /metrics.
//
// Configuration comes from the environment, with a .env file loaded first
// when present. With -dev it starts an in-process Redis, accepts the
// CAPTCHA_SENTINEL token (default "dev-sentinel") and seeds two users.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/goElevate/backend"
	"github.com/MrEthical07/goElevate/backend/httpapi"
	"github.com/MrEthical07/goElevate/backend/pgstore"
	"github.com/MrEthical07/goElevate/backend/push"
	"github.com/MrEthical07/goElevate/internal"
	"github.com/MrEthical07/goElevate/internal/audit"
	"github.com/alicebob/miniredis/v2"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

const (
	devPassword   = "correct-horse-42"
	devTOTPSecret = "12345678901234567890"
	devTOTPBase32 = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
)

func main() {
	dev := flag.Bool("dev", false, "in-process redis, sentinel captcha token and seeded users")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("dotenv not loaded", "file", *envFile, "error", err)
	}
	cfg := loadConfig(*dev)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.slogLevel()})).
		With("service", "authserver", "environment", cfg.Environment)
	slog.SetDefault(logger)

	if err := run(cfg, *dev, logger); err != nil {
		logger.Error("authserver stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(cfg config, dev bool, logger *slog.Logger) error {
	ctx := context.Background()

	if dev {
		if cfg.CaptchaSentinel == "" {
			cfg.CaptchaSentinel = "dev-sentinel"
		}
		if cfg.SigningKey == "" {
			key, err := internal.NewSecret(32)
			if err != nil {
				return err
			}
			cfg.SigningKey = string(key)
			logger.Warn("using an ephemeral signing key; sessions end with the process")
		}
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	if cfg.RedisAddr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return err
		}
		defer mr.Close()
		cfg.RedisAddr = mr.Addr()
		logger.Warn("using in-process redis", "addr", cfg.RedisAddr)
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{cfg.RedisAddr}})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("close redis", "error", err)
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	var (
		users   backend.UserProvider
		memory  *backend.MemoryUserProvider
		pgUsers *pgstore.Store
	)
	if cfg.DatabaseURL != "" {
		st, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		users, pgUsers = st, st
	} else {
		memory = backend.NewMemoryUserProvider()
		users = memory
		logger.Warn("DATABASE_URL not set; users live in memory")
	}

	bcfg := backend.DefaultConfig()
	bcfg.Production = cfg.production()
	bcfg.JWT.PrivateKey = []byte(cfg.SigningKey)
	bcfg.JWT.Issuer = cfg.Issuer
	bcfg.Session.TTL = cfg.SessionTTL
	bcfg.Captcha.SentinelToken = cfg.CaptchaSentinel

	hub := push.NewHub(rdb, "", logger.With("component", "push"))
	defer hub.Close()

	var sink audit.Sink = audit.NewSlogSink(logger.With("component", "audit"))
	if cfg.AuditSink == "redis" {
		sink = audit.NewStreamSink(rdb, cfg.AuditStream, int64(cfg.AuditMaxLen), logger.With("component", "audit"))
	}

	b := backend.New().
		WithConfig(bcfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithPublisher(hub).
		WithAuditSink(sink).
		WithLogger(logger.With("component", "backend"))
	if cfg.CaptchaVerifyURL != "" {
		b = b.WithCaptchaVerifier(backend.NewSiteVerifier(cfg.CaptchaVerifyURL, cfg.CaptchaSecret))
	}
	svc, err := b.Build()
	if err != nil {
		return err
	}
	defer svc.Close()

	if dev && memory != nil {
		if err := seed(svc, memory, logger); err != nil {
			return err
		}
	}

	handler, err := httpapi.NewRouter(svc, httpapi.Options{
		Logger:            logger.With("component", "http"),
		Hub:               hub,
		MetricsNamespace:  cfg.MetricsNamespace,
		CORSOrigins:       cfg.CORSOrigins,
		RequestsPerMinute: cfg.RequestsPerMinute,
		ReturnURL:         cfg.ReturnURL,
		Health: func(ctx context.Context) error {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return err
			}
			if pgUsers != nil {
				return pgUsers.Ping(ctx)
			}
			return nil
		},
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		logger.Info("authserver listening", "addr", srv.Addr)
		srvErr <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()
	// push sockets are hijacked and not tracked by Shutdown; closing the hub
	// ends their event streams
	hub.Close()
	return srv.Shutdown(shutdownCtx)
}

// seed adds alice (admin, no second factor) and bob (TOTP enabled).
func seed(svc *backend.Service, users *backend.MemoryUserProvider, logger *slog.Logger) error {
	hash, err := svc.HashPassword(devPassword)
	if err != nil {
		return err
	}
	users.Put(backend.UserRecord{
		UserID:             "7",
		Username:           "alice",
		PasswordHash:       hash,
		IsAdmin:            true,
		VerificationStatus: backend.VerificationVerified,
	})
	users.Put(backend.UserRecord{
		UserID:             "42",
		Username:           "bob",
		PasswordHash:       hash,
		IsEmployee:         true,
		VerificationStatus: backend.VerificationPending,
		TwoFactorEnabled:   true,
	})
	users.PutTOTP("42", []byte(devTOTPSecret))
	logger.Info("seeded dev users", "usernames", []string{"alice", "bob"})
	fmt.Fprintf(os.Stderr, "dev users alice and bob, password %q; bob's authenticator secret %s\n", devPassword, devTOTPBase32)
	return nil
}
