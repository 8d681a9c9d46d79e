package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goElevate"
	"github.com/MrEthical07/goElevate/backend"
	"github.com/MrEthical07/goElevate/backend/httpapi"
	"github.com/MrEthical07/goElevate/backend/push"
	"github.com/MrEthical07/goElevate/password"
	"github.com/MrEthical07/goElevate/transport/rest"
	"github.com/MrEthical07/goElevate/transport/ws"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse-42"

func startBackend(t *testing.T) (*backend.Service, string) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	hub := push.NewHub(rdb, "", nil)

	cfg := backend.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Audit.Enabled = false
	cfg.Captcha.SentinelToken = "test-sentinel"

	users := backend.NewMemoryUserProvider()
	svc, err := backend.New().WithConfig(cfg).WithRedis(rdb).WithUserProvider(users).WithPublisher(hub).Build()
	require.NoError(t, err)
	h, err := httpapi.NewRouter(svc, httpapi.Options{Hub: hub})
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		svc.Close()
		_ = rdb.Close()
	})

	hash, err := svc.HashPassword(testPassword)
	require.NoError(t, err)
	users.Put(backend.UserRecord{UserID: "7", Username: "alice", PasswordHash: hash, IsAdmin: true, VerificationStatus: backend.VerificationPending})
	return svc, srv.URL
}

func TestEndToEndPushInvalidatesSession(t *testing.T) {
	svc, base := startBackend(t)
	be, err := rest.New(base)
	require.NoError(t, err)
	tr, err := ws.New(base)
	require.NoError(t, err)

	cfg := goElevate.DefaultConfig()
	cfg.Production = false
	cfg.BotMitigation.SentinelToken = "test-sentinel"
	cfg.Session.ElevateConfirmDelay = 0
	cfg.Bridge.ReconnectMin = 10 * time.Millisecond
	cfg.Bridge.ReconnectMax = 50 * time.Millisecond

	var invalidated atomic.Int32
	c, err := goElevate.New().
		WithConfig(cfg).
		WithBackend(be).
		WithTransport(tr).
		OnSessionInvalidated(func() { invalidated.Add(1) }).
		Build()
	require.NoError(t, err)
	t.Cleanup(c.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := c.Login(ctx, "alice", testPassword)
	require.NoError(t, err)
	require.Equal(t, goElevate.OutcomeElevated, out.Kind)
	require.True(t, c.IsElevated())

	var (
		mu  sync.Mutex
		txs []string
	)
	c.Bridge().Subscribe(goElevate.TopicTransactionConfirmed, func(_ context.Context, ev goElevate.Event) {
		var body struct {
			TransactionID string `json:"transactionId"`
		}
		_ = json.Unmarshal(ev.Data, &body)
		mu.Lock()
		txs = append(txs, body.TransactionID)
		mu.Unlock()
	})

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = c.Bridge().Run(runCtx) }()

	// Topics are subscribed in order, so a delivered transaction event
	// means session-invalidated is subscribed too.
	require.Eventually(t, func() bool {
		_ = svc.PublishTransactionConfirmed(ctx, "7", "tx-1")
		mu.Lock()
		defer mu.Unlock()
		return len(txs) > 0
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, svc.InvalidateSessions(ctx, "7"))
	require.Eventually(t, func() bool { return invalidated.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.False(t, c.Session().View().Authenticated)
	require.False(t, c.IsElevated())

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int32(1), invalidated.Load(), "invalidation callback must fire once")
}

func TestEndToEndVerificationStatusRefreshesView(t *testing.T) {
	svc, base := startBackend(t)
	be, err := rest.New(base)
	require.NoError(t, err)
	tr, err := ws.New(base, ws.WithQueryToken())
	require.NoError(t, err)

	cfg := goElevate.DefaultConfig()
	cfg.Production = false
	cfg.BotMitigation.SentinelToken = "test-sentinel"
	c, err := goElevate.New().WithConfig(cfg).WithBackend(be).WithTransport(tr).Build()
	require.NoError(t, err)
	t.Cleanup(c.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = c.Login(ctx, "alice", testPassword)
	require.NoError(t, err)
	require.Equal(t, backend.VerificationPending, c.Session().View().Identity.VerificationStatus)

	seen := make(chan string, 4)
	c.Bridge().Subscribe(goElevate.TopicVerificationStatusChanged, func(_ context.Context, ev goElevate.Event) {
		// the session is refreshed before handlers run
		seen <- c.Session().View().Identity.VerificationStatus
	})
	go func() { _ = c.Bridge().Run(ctx) }()

	require.Eventually(t, func() bool {
		_ = svc.SetVerificationStatus(ctx, "7", backend.VerificationVerified)
		return len(seen) > 0
	}, 5*time.Second, 50*time.Millisecond)
	require.Equal(t, backend.VerificationVerified, <-seen)
}
