package backend

import (
	"context"
	"crypto/sha1"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goElevate/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-horse-42"

type capturePublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *capturePublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *capturePublisher) last() (Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		return Event{}, false
	}
	return p.events[len(p.events)-1], true
}

type testEnv struct {
	svc   *Service
	users *MemoryUserProvider
	pub   *capturePublisher
	mr    *miniredis.Miniredis
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Captcha.SentinelToken = "test-sentinel"
	cfg.Audit.Enabled = false
	return cfg
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	users := NewMemoryUserProvider()
	pub := &capturePublisher{}

	svc, err := New().
		WithConfig(testConfig()).
		WithRedis(rdb).
		WithUserProvider(users).
		WithPublisher(pub).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() {
		svc.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return &testEnv{svc: svc, users: users, pub: pub, mr: mr}
}

func (e *testEnv) addUser(t *testing.T, id, username string) {
	t.Helper()
	hash, err := e.svc.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	e.users.Put(UserRecord{
		UserID:             id,
		Username:           username,
		PasswordHash:       hash,
		VerificationStatus: VerificationPending,
	})
}

var testTOTPSecret = []byte("12345678901234567890")

func (e *testEnv) addTwoFactorUser(t *testing.T, id, username string) {
	t.Helper()
	e.addUser(t, id, username)
	e.users.PutTOTP(id, testTOTPSecret)
}

func codeAt(t *testing.T, at time.Time) string {
	t.Helper()
	return hotp(sha1.New, testTOTPSecret, at.Unix()/30, 6)
}

func wrongCode(t *testing.T) string {
	t.Helper()
	now := time.Now()
	valid := map[string]bool{}
	for _, d := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		valid[codeAt(t, now.Add(d))] = true
	}
	for _, c := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[c] {
			return c
		}
	}
	t.Fatal("could not find an invalid code")
	return ""
}

func (e *testEnv) login(t *testing.T, username string) LoginResult {
	t.Helper()
	res, err := e.svc.Login(context.Background(), LoginInput{Username: username, Password: testPassword, IP: "203.0.113.5"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return res
}

func TestLoginWithoutTwoFactorIsElevated(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")

	res := env.login(t, "Alice")
	if res.Token == "" || res.RequiresTwoFactor || res.User == nil || res.User.ID != "u1" {
		t.Fatalf("unexpected result %+v", res)
	}

	view, err := env.svc.SessionView(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("SessionView failed: %v", err)
	}
	if !view.Authenticated || view.TwoFactorEnabled || view.TwoFactorVerified {
		t.Fatalf("unexpected view %+v", view)
	}
	if _, err := env.svc.ElevateSession(context.Background(), res.Token); err != nil {
		t.Fatalf("ElevateSession failed: %v", err)
	}
}

func TestLoginRejectionsAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	ctx := context.Background()

	_, errWrongPass := env.svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong-password-1"})
	_, errUnknown := env.svc.Login(ctx, LoginInput{Username: "mallory", Password: "wrong-password-1"})
	if !errors.Is(errWrongPass, ErrInvalidCredentials) || !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for both, got %v / %v", errWrongPass, errUnknown)
	}

	if _, err := env.svc.Login(ctx, LoginInput{Username: "al", Password: testPassword}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for short username, got %v", err)
	}
}

func TestLoginLengthBoundsCountCharacters(t *testing.T) {
	env := newTestEnv(t)
	long := strings.Repeat("ü", 100) // 200 bytes, within the 128 character bound
	env.addUser(t, "u1", long)

	if res := env.login(t, long); res.Token == "" {
		t.Fatalf("multibyte username rejected: %+v", res)
	}
	_, err := env.svc.Login(context.Background(), LoginInput{Username: strings.Repeat("ü", 129), Password: testPassword})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput above the bound, got %v", err)
	}
}

func TestLoginCaptchaEscalationAndBan(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	ctx := context.Background()
	bad := LoginInput{Username: "alice", Password: "wrong-password-1", IP: "198.51.100.7"}

	var res LoginResult
	var err error
	for i := 0; i < 5; i++ {
		res, err = env.svc.Login(ctx, bad)
	}
	if !errors.Is(err, ErrInvalidCredentials) || !res.CaptchaRequired {
		t.Fatalf("expected captcha flag after threshold, got %+v err=%v", res, err)
	}

	good := LoginInput{Username: "alice", Password: testPassword, IP: "198.51.100.7"}
	if _, err := env.svc.Login(ctx, good); !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("expected ErrCaptchaRequired for correct password without token, got %v", err)
	}
	good.CaptchaToken = "forged"
	if _, err := env.svc.Login(ctx, good); !errors.Is(err, ErrCaptchaInvalid) {
		t.Fatalf("expected ErrCaptchaInvalid, got %v", err)
	}

	bad.CaptchaToken = "test-sentinel"
	for i := 0; i < 5; i++ {
		res, err = env.svc.Login(ctx, bad)
	}
	if !errors.Is(err, ErrRateLimited) || res.RetryAfter <= 0 {
		t.Fatalf("expected rate limit with retry hint, got %+v err=%v", res, err)
	}

	env.mr.FastForward(16 * time.Minute)
	good.CaptchaToken = ""
	if _, err := env.svc.Login(ctx, good); err != nil {
		t.Fatalf("expected login after window, got %v", err)
	}
}

func TestLoginSuccessResetsFailures(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = env.svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong-password-1"})
	}
	env.login(t, "alice")
	res, err := env.svc.Login(ctx, LoginInput{Username: "alice", Password: "wrong-password-1"})
	if !errors.Is(err, ErrInvalidCredentials) || res.CaptchaRequired {
		t.Fatalf("expected counters reset by success, got %+v err=%v", res, err)
	}
}

func TestTwoFactorLoginFlow(t *testing.T) {
	env := newTestEnv(t)
	env.addTwoFactorUser(t, "u2", "bob")
	ctx := context.Background()

	res := env.login(t, "bob")
	if !res.RequiresTwoFactor || res.User != nil || res.UserID != "u2" {
		t.Fatalf("unexpected result %+v", res)
	}

	view, err := env.svc.ElevateSession(ctx, res.Token)
	if !errors.Is(err, ErrSecondFactorRequired) || !view.Authenticated || view.TwoFactorVerified {
		t.Fatalf("expected second factor required, got %+v err=%v", view, err)
	}

	vr, err := env.svc.VerifyTwoFactor(ctx, res.Token, MethodTOTP, wrongCode(t))
	if !errors.Is(err, ErrInvalidCode) || vr.AttemptsRemaining != 4 {
		t.Fatalf("expected invalid code with 4 remaining, got %+v err=%v", vr, err)
	}

	code := codeAt(t, time.Now())
	if _, err := env.svc.VerifyTwoFactor(ctx, res.Token, MethodTOTP, code); err != nil {
		t.Fatalf("VerifyTwoFactor failed: %v", err)
	}
	view, err = env.svc.ElevateSession(ctx, res.Token)
	if err != nil || !view.TwoFactorVerified {
		t.Fatalf("expected elevated view, got %+v err=%v", view, err)
	}

	// same code on a fresh login is a replay
	res2 := env.login(t, "bob")
	if _, err := env.svc.VerifyTwoFactor(ctx, res2.Token, MethodTOTP, code); !errors.Is(err, ErrCodeReplay) {
		t.Fatalf("expected replay rejection, got %v", err)
	}
}

func TestTwoFactorAttemptCapExpiresChallenge(t *testing.T) {
	env := newTestEnv(t)
	env.addTwoFactorUser(t, "u2", "bob")
	ctx := context.Background()
	res := env.login(t, "bob")
	bad := wrongCode(t)

	for i := 1; i < 5; i++ {
		if _, err := env.svc.VerifyTwoFactor(ctx, res.Token, MethodTOTP, bad); !errors.Is(err, ErrInvalidCode) {
			t.Fatalf("attempt %d: expected ErrInvalidCode, got %v", i, err)
		}
	}
	if _, err := env.svc.VerifyTwoFactor(ctx, res.Token, MethodTOTP, bad); !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded, got %v", err)
	}
	if _, err := env.svc.VerifyTwoFactor(ctx, res.Token, MethodTOTP, codeAt(t, time.Now())); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired after cap, got %v", err)
	}
}

func TestTwoFactorChallengeTTL(t *testing.T) {
	env := newTestEnv(t)
	env.addTwoFactorUser(t, "u2", "bob")
	res := env.login(t, "bob")
	env.mr.FastForward(6 * time.Minute)

	if _, err := env.svc.VerifyTwoFactor(context.Background(), res.Token, MethodTOTP, codeAt(t, time.Now())); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected ErrChallengeExpired, got %v", err)
	}
}

func TestNewerLoginReplacesChallenge(t *testing.T) {
	env := newTestEnv(t)
	env.addTwoFactorUser(t, "u2", "bob")
	first := env.login(t, "bob")
	second := env.login(t, "bob")

	if _, err := env.svc.VerifyTwoFactor(context.Background(), first.Token, MethodTOTP, codeAt(t, time.Now())); !errors.Is(err, ErrChallengeExpired) {
		t.Fatalf("expected first challenge replaced, got %v", err)
	}
	if _, err := env.svc.VerifyTwoFactor(context.Background(), second.Token, MethodTOTP, codeAt(t, time.Now())); err != nil {
		t.Fatalf("expected second challenge to verify, got %v", err)
	}
}

func enrollTwoFactor(t *testing.T, env *testEnv, token string) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := env.svc.BeginSetup(ctx, token)
	if err != nil {
		t.Fatalf("BeginSetup failed: %v", err)
	}
	code, err := TOTPCode(setup.Secret, time.Now())
	if err != nil {
		t.Fatalf("TOTPCode failed: %v", err)
	}
	codes, err := env.svc.ConfirmSetup(ctx, token, code)
	if err != nil {
		t.Fatalf("ConfirmSetup failed: %v", err)
	}
	return setup.Secret, codes
}

func TestSetupConfirmAndBackupCodesSingleUse(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u3", "carol")
	ctx := context.Background()

	token := env.login(t, "carol").Token
	if _, err := env.svc.ConfirmSetup(ctx, token, "123456"); !errors.Is(err, ErrSetupNotStarted) {
		t.Fatalf("expected ErrSetupNotStarted, got %v", err)
	}

	_, codes := enrollTwoFactor(t, env, token)
	if len(codes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(codes))
	}
	view, _ := env.svc.SessionView(ctx, token)
	if !view.TwoFactorEnabled || !view.TwoFactorVerified {
		t.Fatalf("enrolling session must stay elevated, got %+v", view)
	}

	res := env.login(t, "carol")
	if !res.RequiresTwoFactor {
		t.Fatal("expected two factor after enrollment")
	}
	if _, err := env.svc.VerifyTwoFactor(ctx, res.Token, MethodBackup, codes[0]); err != nil {
		t.Fatalf("backup code verify failed: %v", err)
	}

	res = env.login(t, "carol")
	if _, err := env.svc.VerifyTwoFactor(ctx, res.Token, MethodBackup, codes[0]); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected spent backup code to fail, got %v", err)
	}
	if _, err := env.svc.VerifyTwoFactor(ctx, res.Token, MethodBackup, codes[1]); err != nil {
		t.Fatalf("expected unused backup code to pass, got %v", err)
	}
}

func TestRegenerateAndDisableRequireElevation(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u3", "carol")
	ctx := context.Background()

	token := env.login(t, "carol").Token
	secret, oldCodes := enrollTwoFactor(t, env, token)

	pending := env.login(t, "carol").Token
	if _, err := env.svc.RegenerateBackupCodes(ctx, pending); !errors.Is(err, ErrNotElevated) {
		t.Fatalf("expected ErrNotElevated, got %v", err)
	}
	if err := env.svc.DisableTwoFactor(ctx, pending, oldCodes[0], true); !errors.Is(err, ErrNotElevated) {
		t.Fatalf("expected ErrNotElevated, got %v", err)
	}

	newCodes, err := env.svc.RegenerateBackupCodes(ctx, token)
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if err := env.svc.DisableTwoFactor(ctx, token, oldCodes[0], true); !errors.Is(err, ErrInvalidCode) {
		t.Fatalf("expected old backup code rejected after regeneration, got %v", err)
	}

	next, err := TOTPCode(secret, time.Now().Add(30*time.Second))
	if err != nil {
		t.Fatalf("TOTPCode failed: %v", err)
	}
	if err := env.svc.DisableTwoFactor(ctx, token, next, false); err != nil {
		t.Fatalf("DisableTwoFactor failed: %v", err)
	}
	if res := env.login(t, "carol"); res.RequiresTwoFactor {
		t.Fatal("expected two factor disabled")
	}
	if _, err := env.svc.VerifyTwoFactor(ctx, token, MethodBackup, newCodes[0]); err != nil {
		t.Fatalf("verified session should be a no-op, got %v", err)
	}
}

func TestSessionViewUnknownTokenIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)
	view, err := env.svc.SessionView(context.Background(), "garbage")
	if err != nil || view.Authenticated {
		t.Fatalf("expected unauthenticated view, got %+v err=%v", view, err)
	}
	if _, err := env.svc.ElevateSession(context.Background(), "garbage"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestInvalidateSessionsPublishes(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	ctx := context.Background()
	token := env.login(t, "alice").Token

	if err := env.svc.InvalidateSessions(ctx, "u1"); err != nil {
		t.Fatalf("InvalidateSessions failed: %v", err)
	}
	view, _ := env.svc.SessionView(ctx, token)
	if view.Authenticated {
		t.Fatal("expected session invalidated")
	}
	ev, ok := env.pub.last()
	if !ok || ev.Topic != TopicSessionInvalidated || ev.UserID != "u1" || ev.ID == "" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if got := env.svc.MetricsSnapshot().Counters[MetricSessionsInvalidated]; got != 1 {
		t.Fatalf("expected 1 invalidated session metric, got %d", got)
	}
}

func TestVerificationStatusAndTransactionEvents(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	ctx := context.Background()

	if err := env.svc.SetVerificationStatus(ctx, "u1", "bogus"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if err := env.svc.SetVerificationStatus(ctx, "u1", VerificationVerified); err != nil {
		t.Fatalf("SetVerificationStatus failed: %v", err)
	}
	ev, _ := env.pub.last()
	if ev.Topic != TopicVerificationStatusChanged || string(ev.Data) != `{"status":"verified"}` {
		t.Fatalf("unexpected event %+v", ev)
	}
	if res := env.login(t, "alice"); res.User.VerificationStatus != VerificationVerified {
		t.Fatalf("expected verified identity, got %+v", res.User)
	}

	if err := env.svc.PublishTransactionConfirmed(ctx, "u1", "tx-9"); err != nil {
		t.Fatalf("PublishTransactionConfirmed failed: %v", err)
	}
	ev, _ = env.pub.last()
	if ev.Topic != TopicTransactionConfirmed {
		t.Fatalf("unexpected topic %q", ev.Topic)
	}
}

func TestLogoutDeletesSession(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	ctx := context.Background()
	token := env.login(t, "alice").Token

	if err := env.svc.Logout(ctx, token); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if view, _ := env.svc.SessionView(ctx, token); view.Authenticated {
		t.Fatal("expected logged out session")
	}
	if err := env.svc.Logout(ctx, "garbage"); err != nil {
		t.Fatalf("logout with unknown token must not fail: %v", err)
	}
}

func TestBuilderRequiresDependencies(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without redis")
	}
	cfg := testConfig()
	cfg.Production = true
	mr, _ := miniredis.Run()
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithUserProvider(NewMemoryUserProvider()).Build(); err == nil {
		t.Fatal("expected sentinel token to be rejected in production")
	}
}
