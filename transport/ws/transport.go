// Package ws implements goElevate.Transport over the websocket push endpoint
// of backend/httpapi.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goElevate"
	"github.com/MrEthical07/goElevate/internal/logging"
	"github.com/gorilla/websocket"
)

const (
	defaultPath       = "/v1/push"
	defaultAckTimeout = 10 * time.Second
	handshakeTimeout  = 10 * time.Second
)

var (
	ErrInvalidURL        = errors.New("ws: URL must be absolute http(s) or ws(s)")
	ErrSubscribeRejected = errors.New("ws: subscription rejected")
	ErrClosed            = errors.New("ws: connection closed")
)

// Transport dials one push endpoint per Connect. It is safe for concurrent
// use.
type Transport struct {
	endpoint   *url.URL
	dialer     *websocket.Dialer
	logger     *slog.Logger
	ackTimeout time.Duration
	queryToken bool
}

var _ goElevate.Transport = (*Transport)(nil)

type Option func(*Transport)

func WithDialer(d *websocket.Dialer) Option {
	return func(t *Transport) {
		if d != nil {
			t.dialer = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.logger = logging.OrDiscard(l) }
}

// WithAckTimeout bounds how long Subscribe waits for the server's ack.
func WithAckTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.ackTimeout = d
		}
	}
}

// WithQueryToken sends the session token as the access_token query
// parameter instead of an Authorization header, as browsers must.
func WithQueryToken() Option {
	return func(t *Transport) { t.queryToken = true }
}

// New returns a Transport for the backend at baseURL. An http(s) base is
// mapped to ws(s); a base without a path gets /v1/push.
func New(baseURL string, opts ...Option) (*Transport, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Host == "" {
		return nil, ErrInvalidURL
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, ErrInvalidURL
	}
	if strings.Trim(u.Path, "/") == "" {
		u.Path = defaultPath
	}

	t := &Transport{
		endpoint: u,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		logger:     logging.OrDiscard(nil),
		ackTimeout: defaultAckTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Endpoint returns the websocket URL without credentials.
func (t *Transport) Endpoint() string { return t.endpoint.String() }

// Connect dials with the session token from ctx. A refused handshake with
// 401 wraps goElevate.ErrSessionInvalidated; anything else that fails to
// connect wraps goElevate.ErrNetworkUnavailable.
func (t *Transport) Connect(ctx context.Context) (goElevate.Conn, error) {
	u := *t.endpoint
	header := http.Header{}
	if token := goElevate.SessionTokenFrom(ctx); token != "" {
		if t.queryToken {
			q := u.Query()
			q.Set("access_token", token)
			u.RawQuery = q.Encode()
		} else {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	ws, resp, err := t.dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: push handshake refused", goElevate.ErrSessionInvalidated)
		}
		if resp != nil && resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: push handshake status %d", goElevate.ErrServerUnavailable, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %w", goElevate.ErrNetworkUnavailable, err)
	}

	t.logger.Debug("push connected", "endpoint", t.endpoint.String())
	c := newConn(ws, t.ackTimeout, t.logger)
	go c.readLoop()
	return c, nil
}
