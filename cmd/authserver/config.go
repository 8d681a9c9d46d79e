package main

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type config struct {
	Environment string
	LogLevel    string
	Addr        string

	RedisAddr   string
	DatabaseURL string

	SigningKey string
	Issuer     string
	SessionTTL time.Duration

	CaptchaVerifyURL string
	CaptchaSecret    string
	CaptchaSentinel  string

	CORSOrigins       []string
	RequestsPerMinute int
	ReturnURL         string
	MetricsNamespace  string

	AuditSink   string
	AuditStream string
	AuditMaxLen int

	ShutdownPeriod time.Duration
}

func loadConfig(dev bool) config {
	env := getenv("ENVIRONMENT", "production")
	if dev {
		env = "dev"
	}
	return config{
		Environment: env,
		LogLevel:    getenv("LOG_LEVEL", "info"),
		Addr:        getenv("ADDR", ":8080"),

		RedisAddr:   os.Getenv("REDIS_ADDR"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		SigningKey: os.Getenv("JWT_SIGNING_KEY"),
		Issuer:     getenv("JWT_ISSUER", "goelevate"),
		SessionTTL: getdur("SESSION_TTL", 12*time.Hour),

		CaptchaVerifyURL: os.Getenv("CAPTCHA_VERIFY_URL"),
		CaptchaSecret:    os.Getenv("CAPTCHA_SECRET"),
		CaptchaSentinel:  os.Getenv("CAPTCHA_SENTINEL"),

		CORSOrigins:       getlist("CORS_ORIGINS"),
		RequestsPerMinute: getint("REQUESTS_PER_MINUTE", 300),
		ReturnURL:         getenv("RETURN_URL", "/"),
		MetricsNamespace:  getenv("METRICS_NAMESPACE", "goelevate_backend"),

		AuditSink:   getenv("AUDIT_SINK", "redis"),
		AuditStream: getenv("AUDIT_STREAM", "goelevate:audit"),
		AuditMaxLen: getint("AUDIT_MAX_LEN", 100_000),

		ShutdownPeriod: getdur("SHUTDOWN_PERIOD", 15*time.Second),
	}
}

func (c config) production() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

func (c config) validate() error {
	if c.production() {
		if len(c.SigningKey) < 32 {
			return errors.New("JWT_SIGNING_KEY must be at least 32 bytes in production")
		}
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required in production")
		}
		if c.CaptchaSentinel != "" {
			return errors.New("CAPTCHA_SENTINEL is not allowed in production")
		}
	}
	if c.AuditSink != "redis" && c.AuditSink != "log" {
		return errors.New("AUDIT_SINK must be redis or log")
	}
	if (c.CaptchaVerifyURL == "") != (c.CaptchaSecret == "") {
		return errors.New("CAPTCHA_VERIFY_URL and CAPTCHA_SECRET must be set together")
	}
	return nil
}

func (c config) slogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("invalid integer, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration, using default", "key", k, "value", v, "default", def)
	}
	return def
}

func getlist(k string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(k), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
