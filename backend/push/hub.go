// Package push fans backend events out to connected clients through Redis
// pub/sub, one channel per user.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrEthical07/goElevate/backend"
	"github.com/MrEthical07/goElevate/internal/logging"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "gpush"

var (
	ErrHubClosed       = errors.New("push hub closed")
	ErrEmptyUserID     = errors.New("push subscription requires a user id")
	ErrPushUnavailable = errors.New("push backend unavailable")
)

// Hub implements [backend.Publisher] and hands out per-user subscriptions.
type Hub struct {
	redis  redis.UniversalClient
	prefix string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	subs   map[*Subscription]struct{}
}

func NewHub(rdb redis.UniversalClient, prefix string, logger *slog.Logger) *Hub {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Hub{
		redis:  rdb,
		prefix: prefix,
		logger: logging.OrDiscard(logger),
		subs:   make(map[*Subscription]struct{}),
	}
}

func (h *Hub) channel(userID string) string {
	return h.prefix + ":" + userID
}

// Publish encodes ev as JSON onto the channel of ev.UserID.
func (h *Hub) Publish(ctx context.Context, ev backend.Event) error {
	if ev.UserID == "" {
		return ErrEmptyUserID
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode push event: %w", err)
	}
	if err := h.redis.Publish(ctx, h.channel(ev.UserID), payload).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPushUnavailable, err)
	}
	return nil
}

// Subscribe attaches to the channel of userID. The subscription is live
// when Subscribe returns; events published afterwards are delivered on
// Events until Close or ctx cancellation.
func (h *Hub) Subscribe(ctx context.Context, userID string) (*Subscription, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.mu.Unlock()

	ps := h.redis.Subscribe(ctx, h.channel(userID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", ErrPushUnavailable, err)
	}

	sub := &Subscription{
		hub:    h,
		ps:     ps,
		events: make(chan backend.Event, 16),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go sub.run(ctx)
	return sub, nil
}

// Close ends every live subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

func (h *Hub) forget(s *Subscription) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
}

// Subscription is one user's event stream.
type Subscription struct {
	hub    *Hub
	ps     *redis.PubSub
	events chan backend.Event
	done   chan struct{}
	once   sync.Once
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan backend.Event {
	return s.events
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ps.Close()
		s.hub.forget(s)
	})
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.events)
	defer s.Close()

	msgs := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev backend.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				s.hub.logger.Warn("dropping malformed push payload", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}
