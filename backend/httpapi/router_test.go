package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/goElevate/backend"
	"github.com/MrEthical07/goElevate/backend/push"
	"github.com/MrEthical07/goElevate/password"
	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

const testPassword = "correct-horse-42"

var totpSecret = []byte("12345678901234567890")

type fixture struct {
	svc   *backend.Service
	users *backend.MemoryUserProvider
	srv   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	hub := push.NewHub(rdb, "", nil)

	cfg := backend.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Audit.Enabled = false
	cfg.Captcha.SentinelToken = "test-sentinel"

	users := backend.NewMemoryUserProvider()
	svc, err := backend.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(users).
		WithPublisher(hub).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	h, err := NewRouter(svc, Options{Hub: hub, MetricsNamespace: "goelevate_backend"})
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		svc.Close()
		_ = rdb.Close()
		mr.Close()
	})

	hash, err := svc.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	users.Put(backend.UserRecord{UserID: "42", Username: "alice", PasswordHash: hash, IsAdmin: true, IsContractor: true, VerificationStatus: backend.VerificationVerified})
	users.Put(backend.UserRecord{UserID: "43", Username: "bob", PasswordHash: hash, VerificationStatus: backend.VerificationPending})
	users.PutTOTP("43", totpSecret)

	return &fixture{svc: svc, users: users, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) (int, map[string]any, http.Header) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	if err != nil {
		t.Fatalf("request build failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out, resp.Header
}

func (f *fixture) login(t *testing.T, username string) map[string]any {
	t.Helper()
	status, body, _ := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": username, "password": testPassword})
	if status != http.StatusOK || body["success"] != true {
		t.Fatalf("login failed: %d %v", status, body)
	}
	return body
}

func currentCode(t *testing.T) string {
	t.Helper()
	secret := "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"
	code, err := backend.TOTPCode(secret, time.Now())
	if err != nil {
		t.Fatalf("TOTPCode failed: %v", err)
	}
	return code
}

func TestLoginAndSessionWithoutTwoFactor(t *testing.T) {
	f := newFixture(t)
	body := f.login(t, "alice")
	if body["requiresTwoFactor"] != false || body["userId"] != "42" || body["isAdmin"] != true {
		t.Fatalf("unexpected login body %v", body)
	}

	status, sess, hdr := f.do(t, http.MethodGet, "/v1/auth/session", body["token"].(string), nil)
	if status != http.StatusOK || sess["authenticated"] != true || sess["twoFactorEnabled"] != false || sess["id"] != "42" {
		t.Fatalf("unexpected session %d %v", status, sess)
	}
	if hdr.Get("Cache-Control") != "no-store" {
		t.Fatal("session view must not be cached")
	}

	status, sess, _ = f.do(t, http.MethodGet, "/v1/auth/session", "", nil)
	if status != http.StatusOK || sess["authenticated"] != false {
		t.Fatalf("expected unauthenticated view, got %d %v", status, sess)
	}
}

func TestLoginRejectionReasons(t *testing.T) {
	f := newFixture(t)
	bad := map[string]string{"username": "alice", "password": "wrong-password-1"}

	status, body, _ := f.do(t, http.MethodPost, "/v1/auth/login", "", bad)
	if status != http.StatusUnauthorized || body["reason"] != ReasonInvalidCredentials || body["success"] != false {
		t.Fatalf("unexpected rejection %d %v", status, body)
	}
	unknown := map[string]string{"username": "nobody", "password": "wrong-password-1"}
	_, other, _ := f.do(t, http.MethodPost, "/v1/auth/login", "", unknown)
	if other["message"] != body["message"] {
		t.Fatalf("rejections must not reveal which field was wrong: %v vs %v", other, body)
	}

	for i := 0; i < 4; i++ {
		_, body, _ = f.do(t, http.MethodPost, "/v1/auth/login", "", bad)
	}
	if body["captchaRequired"] != true {
		t.Fatalf("expected captchaRequired after threshold, got %v", body)
	}
	status, body, _ = f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "alice", "password": testPassword})
	if status != http.StatusForbidden || body["reason"] != ReasonCaptchaRequired {
		t.Fatalf("expected captcha_required for correct password, got %d %v", status, body)
	}

	for i := 0; i < 5; i++ {
		status, body, _ = f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "alice", "password": "wrong-password-1", "challengeToken": "x"})
	}
	// invalid CAPTCHA tokens do not count as credential failures
	if status != http.StatusForbidden || body["reason"] != ReasonCaptchaInvalid {
		t.Fatalf("expected captcha_invalid, got %d %v", status, body)
	}

	status, body, _ = f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "ab", "password": "x"})
	if status != http.StatusBadRequest || body["reason"] != ReasonInvalidInput {
		t.Fatalf("expected invalid_input, got %d %v", status, body)
	}
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	f := newFixture(t)
	// drive the counter straight to the ban threshold
	for i := 0; i < 10; i++ {
		_, _ = f.svc.Login(context.Background(), backend.LoginInput{Username: "alice", Password: "wrong-password-1", CaptchaToken: "test-sentinel", IP: "127.0.0.1"})
	}
	status, body, hdr := f.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "alice", "password": testPassword})
	if status != http.StatusTooManyRequests || body["reason"] != ReasonRateLimited {
		t.Fatalf("expected rate_limited, got %d %v", status, body)
	}
	if hdr.Get("Retry-After") == "" || body["retryAfter"] == nil {
		t.Fatalf("expected retry hint, got header %q body %v", hdr.Get("Retry-After"), body)
	}
}

func TestTwoFactorVerifyAndElevate(t *testing.T) {
	f := newFixture(t)
	body := f.login(t, "bob")
	if body["requiresTwoFactor"] != true || body["userId"] != "43" {
		t.Fatalf("unexpected login body %v", body)
	}
	token := body["token"].(string)

	status, resp, _ := f.do(t, http.MethodPost, "/v1/auth/session/elevate", token, map[string]any{"userId": "43", "verified": true})
	if status != http.StatusForbidden || resp["reason"] != ReasonSecondFactorRequired {
		t.Fatalf("expected second_factor_required, got %d %v", status, resp)
	}

	status, resp, _ = f.do(t, http.MethodPost, "/v1/auth/two-factor/verify", token, map[string]string{"userId": "43", "code": "12345"})
	if status != http.StatusUnprocessableEntity || resp["reason"] != ReasonInvalidCode || resp["attemptsRemaining"] != float64(4) {
		t.Fatalf("expected invalid_code with 4 remaining, got %d %v", status, resp)
	}

	status, resp, _ = f.do(t, http.MethodPost, "/v1/auth/two-factor/verify", token, map[string]string{"userId": "43", "code": currentCode(t)})
	if status != http.StatusOK || resp["success"] != true || resp["returnUrl"] != "/" {
		t.Fatalf("verify failed: %d %v", status, resp)
	}

	status, resp, _ = f.do(t, http.MethodPost, "/v1/auth/session/elevate", token, map[string]any{"userId": "43", "verified": true})
	if status != http.StatusOK || resp["success"] != true {
		t.Fatalf("elevate failed: %d %v", status, resp)
	}
	_, sess, _ := f.do(t, http.MethodGet, "/v1/auth/session", token, nil)
	if sess["twoFactorVerified"] != true {
		t.Fatalf("expected verified session, got %v", sess)
	}
}

func TestRequiresLoginForDeadSession(t *testing.T) {
	f := newFixture(t)
	status, resp, _ := f.do(t, http.MethodPost, "/v1/auth/session/elevate", "garbage", map[string]any{"verified": true})
	if status != http.StatusUnauthorized || resp["requiresLogin"] != true {
		t.Fatalf("expected requiresLogin, got %d %v", status, resp)
	}
	status, _, _ = f.do(t, http.MethodPost, "/v1/auth/two-factor/setup", "", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", status)
	}
}

func TestSetupConfirmRegenerateDisable(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "alice")["token"].(string)

	status, setup, _ := f.do(t, http.MethodPost, "/v1/auth/two-factor/setup", token, nil)
	if status != http.StatusOK || !strings.HasPrefix(setup["qrPayload"].(string), "otpauth://totp/") {
		t.Fatalf("setup failed: %d %v", status, setup)
	}
	code, err := backend.TOTPCode(setup["secret"].(string), time.Now())
	if err != nil {
		t.Fatalf("TOTPCode failed: %v", err)
	}
	status, confirm, _ := f.do(t, http.MethodPost, "/v1/auth/two-factor/confirm", token, map[string]string{"code": code})
	if status != http.StatusOK || len(confirm["backupCodes"].([]any)) != 10 {
		t.Fatalf("confirm failed: %d %v", status, confirm)
	}

	status, regen, _ := f.do(t, http.MethodPost, "/v1/auth/two-factor/backup-codes/regenerate", token, struct{}{})
	if status != http.StatusOK {
		t.Fatalf("regenerate failed: %d %v", status, regen)
	}
	fresh := regen["backupCodes"].([]any)[0].(string)

	status, _, _ = f.do(t, http.MethodPost, "/v1/auth/two-factor/disable", token, map[string]string{"backupCode": fresh})
	if status != http.StatusOK {
		t.Fatalf("disable failed: %d", status)
	}
	if body := f.login(t, "alice"); body["requiresTwoFactor"] != false {
		t.Fatalf("expected 2FA disabled, got %v", body)
	}
}

func TestMetricsAndHealth(t *testing.T) {
	f := newFixture(t)
	f.login(t, "alice")

	resp, err := http.Get(f.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(raw), "goelevate_backend_login_success_total 1") {
		t.Fatalf("missing login counter in:\n%s", raw)
	}

	resp, err = http.Get(f.srv.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz failed: %v", err)
	}
	resp.Body.Close()
}

func TestPushDeliversSubscribedTopics(t *testing.T) {
	f := newFixture(t)
	token := f.login(t, "alice")["token"].(string)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/push"
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	if err := conn.WriteJSON(Frame{Op: OpSubscribe, Topic: backend.TopicSessionInvalidated}); err != nil {
		t.Fatalf("subscribe write failed: %v", err)
	}
	var ack Frame
	if err := conn.ReadJSON(&ack); err != nil || ack.Op != OpAck {
		t.Fatalf("expected ack, got %+v err=%v", ack, err)
	}

	// not subscribed: must not arrive
	if err := f.svc.PublishTransactionConfirmed(context.Background(), "42", "tx-1"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := f.svc.InvalidateSessions(context.Background(), "42"); err != nil {
		t.Fatalf("InvalidateSessions failed: %v", err)
	}

	var ev Frame
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event failed: %v", err)
	}
	if ev.Op != OpEvent || ev.Event == nil || ev.Event.Topic != backend.TopicSessionInvalidated || ev.Event.UserID != "42" {
		t.Fatalf("unexpected frame %+v", ev)
	}
}

func TestPushRejectsAnonymous(t *testing.T) {
	f := newFixture(t)
	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/push?access_token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}
