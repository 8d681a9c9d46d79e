package goElevate

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/goElevate/metrics"
)

// Transport opens push connections. The session token is attached to ctx
// with [WithSessionToken].
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
}

// Conn is one push connection. Subscribe may be called while another
// goroutine is blocked in Receive. Subscriptions do not survive the
// connection.
type Conn interface {
	Subscribe(ctx context.Context, topic string) error
	Receive(ctx context.Context) (Event, error)
	Close() error
}

// Handler must be idempotent: the transport may redeliver an event the
// bridge has already forgotten.
type Handler func(ctx context.Context, ev Event)

// Subscription identifies one handler registration.
type Subscription struct {
	id    uint64
	topic string
}

func (s Subscription) Topic() string { return s.topic }

var errBridgeNoTransport = errors.New("push transport not configured")

// Bridge relays push events to handlers. Session-relevant events refresh the
// session before any handler sees them.
type Bridge struct {
	transport Transport
	session   *SessionService
	cfg       BridgeConfig
	metrics   *metrics.Set
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	nextID   uint64
	handlers map[string]map[uint64]Handler
	conn     Conn

	seenMu sync.Mutex
	seen   map[string]struct{}
	ring   []string
	pos    int
}

func newBridge(t Transport, s *SessionService, cfg BridgeConfig, m *metrics.Set, logger *slog.Logger) *Bridge {
	return &Bridge{
		transport: t,
		session:   s,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		sleep:     sleepCtx,
		handlers:  make(map[string]map[uint64]Handler),
		seen:      make(map[string]struct{}, cfg.DedupWindow),
		ring:      make([]string, cfg.DedupWindow),
	}
}

// Subscribe registers h for topic. If a connection is up and the topic is
// new, it is subscribed immediately; otherwise on the next connect.
func (b *Bridge) Subscribe(topic string, h Handler) Subscription {
	b.mu.Lock()
	b.nextID++
	sub := Subscription{id: b.nextID, topic: topic}
	hs, known := b.handlers[topic]
	if !known {
		hs = make(map[uint64]Handler)
		b.handlers[topic] = hs
	}
	hs[sub.id] = h
	conn := b.conn
	b.mu.Unlock()

	if conn != nil && !known && !sessionRelevant(topic) {
		if err := conn.Subscribe(context.Background(), topic); err != nil {
			b.logger.Warn("push subscribe failed", "topic", topic, "error", err)
		}
	}
	return sub
}

// Unsubscribe removes one registration. The transport-level subscription
// stays until the next reconnect.
func (b *Bridge) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs := b.handlers[sub.topic]
	delete(hs, sub.id)
	if len(hs) == 0 {
		delete(b.handlers, sub.topic)
	}
}

// Run keeps a connection up until ctx ends, reconnecting with exponential
// backoff and re-subscribing every topic on each new connection. A refused
// handshake (ErrSessionInvalidated) invalidates the session and ends Run.
func (b *Bridge) Run(ctx context.Context) error {
	if b.transport == nil {
		return errBridgeNoTransport
	}

	backoff := b.cfg.ReconnectMin
	for {
		conn, err := b.transport.Connect(b.session.withToken(ctx))
		if err == nil {
			var subscribed bool
			subscribed, err = b.serve(ctx, conn)
			if subscribed {
				backoff = b.cfg.ReconnectMin
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrSessionInvalidated) {
			// the server refused the token; reconnecting cannot help
			b.session.Invalidate(ctx)
			return err
		}

		b.metrics.Inc(MetricBridgeReconnect)
		b.logger.Info("push connection lost", "error", err, "retry_in", backoff)
		if err := b.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
		if backoff > b.cfg.ReconnectMax {
			backoff = b.cfg.ReconnectMax
		}
	}
}

func (b *Bridge) serve(ctx context.Context, conn Conn) (bool, error) {
	defer func() {
		b.mu.Lock()
		if b.conn == conn {
			b.conn = nil
		}
		b.mu.Unlock()
		_ = conn.Close()
	}()

	done := make(map[string]bool)
	for _, topic := range b.topics() {
		if err := conn.Subscribe(ctx, topic); err != nil {
			return false, err
		}
		done[topic] = true
	}
	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	// topics registered before conn was published
	for _, topic := range b.topics() {
		if done[topic] {
			continue
		}
		if err := conn.Subscribe(ctx, topic); err != nil {
			return true, err
		}
	}

	for {
		ev, err := conn.Receive(ctx)
		if err != nil {
			return true, err
		}
		b.dispatch(ctx, ev)
	}
}

// topics lists every handler topic plus the session-relevant ones, sorted.
func (b *Bridge) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := map[string]struct{}{
		TopicSessionInvalidated:        {},
		TopicVerificationStatusChanged: {},
	}
	for t := range b.handlers {
		set[t] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (b *Bridge) dispatch(ctx context.Context, ev Event) {
	if ev.ID != "" && !b.remember(ev.ID) {
		b.metrics.Inc(MetricBridgeDuplicate)
		return
	}
	b.metrics.Inc(MetricBridgeEvent)

	if sessionRelevant(ev.Topic) {
		if _, err := b.session.Refresh(ctx); err != nil {
			b.logger.Warn("session refresh for push event failed", "topic", ev.Topic, "error", err)
		}
	}

	b.mu.Lock()
	hs := make([]Handler, 0, len(b.handlers[ev.Topic]))
	ids := make([]uint64, 0, len(b.handlers[ev.Topic]))
	for id := range b.handlers[ev.Topic] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		hs = append(hs, b.handlers[ev.Topic][id])
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(ctx, ev)
	}
}

// remember records id and reports whether it was new.
func (b *Bridge) remember(id string) bool {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	if _, dup := b.seen[id]; dup {
		return false
	}
	if old := b.ring[b.pos]; old != "" {
		delete(b.seen, old)
	}
	b.ring[b.pos] = id
	b.pos = (b.pos + 1) % len(b.ring)
	b.seen[id] = struct{}{}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
