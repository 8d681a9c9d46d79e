package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CaptchaVerifier checks a bot-mitigation token issued to the client.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) (bool, error)
}

// SiteVerifier implements the siteverify protocol shared by reCAPTCHA,
// hCaptcha and Turnstile: a form POST of secret, response and remoteip that
// answers with {"success": bool}.
type SiteVerifier struct {
	Endpoint string
	Secret   string
	Client   *http.Client
}

// NewSiteVerifier returns a verifier with a 5 second HTTP timeout.
func NewSiteVerifier(endpoint, secret string) *SiteVerifier {
	return &SiteVerifier{
		Endpoint: endpoint,
		Secret:   secret,
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

func (v *SiteVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	form := url.Values{}
	form.Set("secret", v.Secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("siteverify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("siteverify: unexpected status %d", resp.StatusCode)
	}
	var body siteVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("siteverify: decode: %w", err)
	}
	return body.Success, nil
}

// SentinelVerifier accepts exactly one fixed token. It exists for
// non-production builds where no provider is reachable.
type SentinelVerifier struct {
	Token string
}

func (v SentinelVerifier) Verify(_ context.Context, token, _ string) (bool, error) {
	if v.Token == "" {
		return false, errors.New("sentinel verifier without token")
	}
	return token == v.Token, nil
}

// verifyCaptcha returns nil when token is acceptable. The configured
// sentinel short-circuits outside production.
func (s *Service) verifyCaptcha(ctx context.Context, token, ip string) error {
	if token == "" {
		return ErrCaptchaRequired
	}
	if !s.config.Production && s.config.Captcha.SentinelToken != "" && token == s.config.Captcha.SentinelToken {
		return nil
	}
	if s.captcha == nil {
		return ErrCaptchaInvalid
	}
	ok, err := s.captcha.Verify(ctx, token, ip)
	if err != nil {
		s.logger.Warn("captcha verification failed", "error", err)
		return ErrCaptchaInvalid
	}
	if !ok {
		return ErrCaptchaInvalid
	}
	return nil
}
