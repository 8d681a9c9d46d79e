package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goElevate"
	"github.com/MrEthical07/goElevate/internal/logging"
	"github.com/google/uuid"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 1 << 20
)

const (
	pathLogin      = "/v1/auth/login"
	pathLogout     = "/v1/auth/logout"
	pathSession    = "/v1/auth/session"
	pathElevate    = "/v1/auth/session/elevate"
	pathVerify     = "/v1/auth/two-factor/verify"
	pathSetup      = "/v1/auth/two-factor/setup"
	pathConfirm    = "/v1/auth/two-factor/confirm"
	pathDisable    = "/v1/auth/two-factor/disable"
	pathRegenerate = "/v1/auth/two-factor/backup-codes/regenerate"
)

var ErrInvalidBaseURL = errors.New("rest: base URL must be absolute http(s)")

// Client talks to one backend. It is safe for concurrent use.
type Client struct {
	base   *url.URL
	hc     *http.Client
	logger *slog.Logger
}

var _ goElevate.Backend = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 10s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.hc = hc
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.OrDiscard(l) }
}

// New returns a Client for baseURL, e.g. "https://auth.example.com".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, ErrInvalidBaseURL
	}
	c := &Client{
		base:   u,
		hc:     &http.Client{Timeout: defaultTimeout},
		logger: logging.OrDiscard(nil),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized backend address.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) Login(ctx context.Context, req goElevate.LoginRequest) (goElevate.LoginResponse, error) {
	body := map[string]string{
		"username": req.Username,
		"password": req.Password,
	}
	if req.ChallengeToken != "" {
		body["challengeToken"] = req.ChallengeToken
	}
	p, err := c.do(ctx, http.MethodPost, pathLogin, body)
	if err != nil {
		return goElevate.LoginResponse{}, err
	}
	resp := goElevate.LoginResponse{
		RequiresTwoFactor: p.boolean("requiresTwoFactor"),
		UserID:            p.str("userId"),
		Token:             p.str("token"),
		Message:           p.str("message"),
	}
	if resp.Token == "" {
		resp.Token = p.str("accessToken")
	}
	resp.Identity = p.identity(resp.UserID)
	if resp.UserID == "" {
		resp.UserID = resp.Identity.ID
	}
	if resp.Token == "" || resp.UserID == "" {
		return goElevate.LoginResponse{}, fmt.Errorf("%w: login response without token or user id", goElevate.ErrServerUnavailable)
	}
	return resp, nil
}

func (c *Client) VerifyTwoFactor(ctx context.Context, req goElevate.VerifyRequest) (goElevate.VerifyResponse, error) {
	body := map[string]string{"userId": req.UserID}
	if req.BackupCode != "" {
		body["backupCode"] = req.BackupCode
	} else {
		body["code"] = req.Code
	}
	p, err := c.do(ctx, http.MethodPost, pathVerify, body)
	if err != nil {
		return goElevate.VerifyResponse{}, err
	}
	resp := goElevate.VerifyResponse{
		UserID:    p.str("userId"),
		ReturnURL: p.str("returnUrl"),
		Message:   p.str("message"),
	}
	if resp.UserID == "" {
		resp.UserID = req.UserID
	}
	return resp, nil
}

func (c *Client) ElevateSession(ctx context.Context, userID string) error {
	_, err := c.do(ctx, http.MethodPost, pathElevate, map[string]any{
		"userId":   userID,
		"verified": true,
	})
	return err
}

// Session returns the server view. A 401 is an unauthenticated view, not an
// error: the session endpoint is how the client learns it was signed out.
func (c *Client) Session(ctx context.Context) (goElevate.SessionView, error) {
	p, err := c.do(ctx, http.MethodGet, pathSession, nil)
	if err != nil {
		if rej, ok := goElevate.AsRejection(err); ok && rej.Reason == goElevate.ReasonRequiresLogin {
			return goElevate.SessionView{}, nil
		}
		return goElevate.SessionView{}, err
	}
	view := goElevate.SessionView{
		Authenticated:     p.boolean("authenticated"),
		TwoFactorEnabled:  p.boolean("twoFactorEnabled"),
		TwoFactorVerified: p.boolean("twoFactorVerified"),
	}
	if view.Authenticated {
		id := p.identity("")
		view.Identity = &id
	}
	return view, nil
}

func (c *Client) BeginTwoFactorSetup(ctx context.Context) (goElevate.TwoFactorSetup, error) {
	p, err := c.do(ctx, http.MethodPost, pathSetup, struct{}{})
	if err != nil {
		return goElevate.TwoFactorSetup{}, err
	}
	setup := goElevate.TwoFactorSetup{Secret: p.str("secret"), QRPayload: p.str("qrPayload")}
	if setup.QRPayload == "" {
		setup.QRPayload = p.str("otpauthUrl")
	}
	return setup, nil
}

func (c *Client) ConfirmTwoFactorSetup(ctx context.Context, code string) ([]string, error) {
	p, err := c.do(ctx, http.MethodPost, pathConfirm, map[string]string{"code": code})
	if err != nil {
		return nil, err
	}
	return p.strs("backupCodes"), nil
}

func (c *Client) DisableTwoFactor(ctx context.Context, code string, backup bool) error {
	key := "code"
	if backup {
		key = "backupCode"
	}
	_, err := c.do(ctx, http.MethodPost, pathDisable, map[string]string{key: code})
	return err
}

func (c *Client) RegenerateBackupCodes(ctx context.Context) ([]string, error) {
	p, err := c.do(ctx, http.MethodPost, pathRegenerate, struct{}{})
	if err != nil {
		return nil, err
	}
	return p.strs("backupCodes"), nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, pathLogout, struct{}{})
	return err
}

// do sends one request and classifies the answer. body nil sends no body.
func (c *Client) do(ctx context.Context, method, path string, body any) (payload, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)
	if token := goElevate.SessionTokenFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "request_id", requestID, "error", err)
		return nil, fmt.Errorf("%w: %w", goElevate.ErrNetworkUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	c.logger.Debug("request done",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"request_id", requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", goElevate.ErrNetworkUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", goElevate.ErrServerUnavailable, resp.StatusCode)
	}

	p, decodeErr := decodePayload(data)
	if resp.StatusCode >= http.StatusBadRequest {
		if decodeErr != nil {
			p = payload{}
		}
		return nil, rejection(resp, p)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", goElevate.ErrServerUnavailable, path, decodeErr)
	}
	if p.has("success") && !p.boolean("success") {
		return nil, rejection(resp, p)
	}
	return p, nil
}

// rejection builds the typed error for an authoritative refusal. The reason
// falls back to one implied by the status code when the body has none.
func rejection(resp *http.Response, p payload) *goElevate.RejectionError {
	rej := &goElevate.RejectionError{
		Reason:            goElevate.Reason(p.str("reason")),
		Message:           p.str("message"),
		CaptchaRequired:   p.boolean("captchaRequired"),
		AttemptsRemaining: -1,
	}
	if rej.Reason == goElevate.ReasonNone {
		rej.Reason = goElevate.Reason(p.str("error"))
	}
	if p.boolean("requiresLogin") {
		rej.Reason = goElevate.ReasonRequiresLogin
	}
	if rej.Reason == goElevate.ReasonNone {
		rej.Reason = reasonForStatus(resp.StatusCode)
	}
	if n, ok := p.integer("attemptsRemaining"); ok {
		rej.AttemptsRemaining = n
	}
	if n, ok := p.integer("retryAfter"); ok && n > 0 {
		rej.RetryAfter = time.Duration(n) * time.Second
	} else if n, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && n > 0 {
		rej.RetryAfter = time.Duration(n) * time.Second
	}
	if rej.Reason.IsCaptcha() {
		rej.CaptchaRequired = true
	}
	return rej
}

func reasonForStatus(status int) goElevate.Reason {
	switch status {
	case http.StatusBadRequest:
		return goElevate.ReasonInvalidInput
	case http.StatusUnauthorized:
		return goElevate.ReasonRequiresLogin
	case http.StatusTooManyRequests:
		return goElevate.ReasonRateLimited
	case http.StatusGone:
		return goElevate.ReasonChallengeExpired
	default:
		return goElevate.ReasonUnknown
	}
}
