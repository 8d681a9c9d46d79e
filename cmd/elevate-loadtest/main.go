// Command elevate-loadtest drives the reference backend in process and
// reports per-phase latency for password logins, second-factor elevation
// and session lookups.
package main

import (
	"context"
	"encoding/base32"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/MrEthical07/goElevate/backend"
	otelexport "github.com/MrEthical07/goElevate/metrics/export/otel"
	"github.com/MrEthical07/goElevate/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const seedPassword = "load-test-password-1"

type options struct {
	users     int
	tfaEvery  int
	workers   int
	lookups   int
	redisAddr string
}

func parseFlags() (options, error) {
	var o options
	flag.IntVar(&o.users, "users", 2000, "accounts to seed")
	flag.IntVar(&o.tfaEvery, "tfa-every", 4, "every n-th account gets an authenticator (0 disables)")
	flag.IntVar(&o.workers, "workers", 64, "concurrent workers per phase")
	flag.IntVar(&o.lookups, "lookups", 20000, "session lookups in the last phase")
	flag.StringVar(&o.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address; empty runs an embedded miniredis")
	flag.Parse()

	switch {
	case o.users <= 0:
		return o, errors.New("-users must be > 0")
	case o.workers <= 0:
		return o, errors.New("-workers must be > 0")
	case o.lookups <= 0:
		return o, errors.New("-lookups must be > 0")
	case o.tfaEvery < 0:
		return o, errors.New("-tfa-every must be >= 0")
	}
	return o, nil
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := run(context.Background(), opts); err != nil {
		fmt.Fprintln(os.Stderr, "loadtest:", err)
		os.Exit(1)
	}
}

func connect(addr string) (redis.UniversalClient, func(), error) {
	if addr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Println("redis:", addr)
		return rdb, func() { _ = rdb.Close() }, nil
	}
	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, fmt.Errorf("start miniredis: %w", err)
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Println("redis: embedded miniredis at", mr.Addr())
	return rdb, func() { _ = rdb.Close(); mr.Close() }, nil
}

// account is one seeded user. secret is empty when the account has no
// authenticator.
type account struct {
	username string
	secret   string
}

func run(ctx context.Context, opts options) error {
	rdb, closeRedis, err := connect(opts.redisAddr)
	if err != nil {
		return err
	}
	defer closeRedis()

	cfg := backend.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("loadtest-signing-key-0123456789ab")
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Login.EnableIPThrottle = false
	cfg.Audit.Enabled = false

	users := backend.NewMemoryUserProvider()
	svc, err := backend.New().WithConfig(cfg).WithRedis(rdb).WithUserProvider(users).Build()
	if err != nil {
		return fmt.Errorf("build backend: %w", err)
	}
	defer svc.Close()

	reader := sdkmetric.NewManualReader()
	meters := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = meters.Shutdown(ctx) }()
	exp, err := otelexport.NewExporter(meters.Meter("goelevate-loadtest"), "goelevate_backend", svc)
	if err != nil {
		return fmt.Errorf("otel exporter: %w", err)
	}
	defer exp.Close()

	plain, guarded, err := seed(svc, users, opts)
	if err != nil {
		return err
	}

	var (
		tokensMu sync.Mutex
		tokens   []string
	)
	keep := func(tok string) {
		tokensMu.Lock()
		tokens = append(tokens, tok)
		tokensMu.Unlock()
	}

	var report []phaseResult
	report = append(report, runPhase("login", len(plain), opts.workers, func(i int) error {
		res, err := svc.Login(ctx, backend.LoginInput{Username: plain[i].username, Password: seedPassword})
		if err != nil {
			return err
		}
		keep(res.Token)
		return nil
	}))

	// TOTP codes are single use per time step, so each guarded account
	// elevates exactly once.
	report = append(report, runPhase("elevate", len(guarded), opts.workers, func(i int) error {
		tok, err := elevate(ctx, svc, guarded[i])
		if err != nil {
			return err
		}
		keep(tok)
		return nil
	}))

	if len(tokens) == 0 {
		return errors.New("no session survived the login phases")
	}
	report = append(report, runPhase("session", opts.lookups, opts.workers, func(i int) error {
		view, err := svc.SessionView(ctx, tokens[i%len(tokens)])
		if err != nil {
			return err
		}
		if !view.Authenticated {
			return errors.New("session lost")
		}
		return nil
	}))

	printReport(os.Stdout, report)
	return printMetrics(ctx, os.Stdout, reader)
}

func seed(svc *backend.Service, users *backend.MemoryUserProvider, opts options) (plain, guarded []account, err error) {
	hash, err := svc.HashPassword(seedPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("hash seed password: %w", err)
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)

	start := time.Now()
	for i := range opts.users {
		id := strconv.Itoa(i + 1)
		acct := account{username: "user-" + id}
		users.Put(backend.UserRecord{
			UserID:             id,
			Username:           acct.username,
			PasswordHash:       hash,
			IsEmployee:         true,
			VerificationStatus: backend.VerificationVerified,
		})
		if opts.tfaEvery > 0 && i%opts.tfaEvery == 0 {
			secret := []byte(fmt.Sprintf("loadtest-secret-%08d", i))
			users.PutTOTP(id, secret)
			acct.secret = enc.EncodeToString(secret)
			guarded = append(guarded, acct)
			continue
		}
		plain = append(plain, acct)
	}
	fmt.Printf("seeded %d accounts (%d with an authenticator) in %s\n",
		opts.users, len(guarded), time.Since(start).Round(time.Millisecond))
	return plain, guarded, nil
}

func elevate(ctx context.Context, svc *backend.Service, acct account) (string, error) {
	res, err := svc.Login(ctx, backend.LoginInput{Username: acct.username, Password: seedPassword})
	if err != nil {
		return "", err
	}
	if !res.RequiresTwoFactor {
		return "", errors.New("expected a second-factor challenge")
	}
	code, err := backend.TOTPCode(acct.secret, time.Now())
	if err != nil {
		return "", err
	}
	if _, err := svc.VerifyTwoFactor(ctx, res.Token, backend.MethodTOTP, code); err != nil {
		return "", fmt.Errorf("verify: %w", err)
	}
	return res.Token, nil
}
