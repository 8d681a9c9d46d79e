package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/goElevate"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 << 10
	eventBuffer    = 32
)

// Frame ops shared with the push endpoint.
const (
	opSubscribe = "subscribe"
	opAck       = "ack"
	opEvent     = "event"
	opError     = "error"
)

type frame struct {
	Op    string     `json:"op"`
	Topic string     `json:"topic,omitempty"`
	Event *wireEvent `json:"event,omitempty"`
	Error string     `json:"error,omitempty"`
}

type wireEvent struct {
	ID     string          `json:"id"`
	Topic  string          `json:"topic"`
	UserID string          `json:"userId"`
	At     time.Time       `json:"at"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// conn demultiplexes one socket: acks go to the waiting Subscribe call,
// events to Receive.
type conn struct {
	ws         *websocket.Conn
	ackTimeout time.Duration
	logger     *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string][]chan error

	events    chan goElevate.Event
	done      chan struct{}
	closing   chan struct{}
	err       error
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, ackTimeout time.Duration, logger *slog.Logger) *conn {
	return &conn{
		ws:         ws,
		ackTimeout: ackTimeout,
		logger:     logger,
		pending:    make(map[string][]chan error),
		events:     make(chan goElevate.Event, eventBuffer),
		done:       make(chan struct{}),
		closing:    make(chan struct{}),
	}
}

// Subscribe sends a subscribe frame and waits for its ack.
func (c *conn) Subscribe(ctx context.Context, topic string) error {
	ack := make(chan error, 1)
	c.mu.Lock()
	c.pending[topic] = append(c.pending[topic], ack)
	c.mu.Unlock()

	if err := c.write(frame{Op: opSubscribe, Topic: topic}); err != nil {
		c.drop(topic, ack)
		return fmt.Errorf("%w: %w", goElevate.ErrNetworkUnavailable, err)
	}

	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	select {
	case err := <-ack:
		return err
	case <-c.done:
		return c.closedErr()
	case <-timer.C:
		c.drop(topic, ack)
		return fmt.Errorf("%w: no ack for %q", goElevate.ErrNetworkUnavailable, topic)
	case <-ctx.Done():
		c.drop(topic, ack)
		return ctx.Err()
	}
}

func (c *conn) Receive(ctx context.Context) (goElevate.Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.done:
		// drain what arrived before the socket died
		select {
		case ev := <-c.events:
			return ev, nil
		default:
		}
		return goElevate.Event{}, c.closedErr()
	case <-ctx.Done():
		return goElevate.Event{}, ctx.Err()
	}
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *conn) write(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

func (c *conn) readLoop() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPingHandler(func(data string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	var err error
	for {
		var f frame
		if err = c.ws.ReadJSON(&f); err != nil {
			break
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		switch f.Op {
		case opAck:
			c.resolve(f.Topic, nil)
		case opError:
			c.resolve(f.Topic, fmt.Errorf("%w: %s: %s", ErrSubscribeRejected, f.Topic, f.Error))
		case opEvent:
			if f.Event == nil {
				continue
			}
			ev := goElevate.Event{
				ID:     f.Event.ID,
				Topic:  f.Event.Topic,
				UserID: f.Event.UserID,
				At:     f.Event.At,
				Data:   f.Event.Data,
			}
			if ev.Topic == "" {
				ev.Topic = f.Topic
			}
			select {
			case c.events <- ev:
			case <-c.closing:
				c.shutdown(nil)
				return
			}
		default:
			c.logger.Debug("push frame ignored", "op", f.Op)
		}
	}
	c.shutdown(err)
}

func (c *conn) resolve(topic string, err error) {
	c.mu.Lock()
	waiters := c.pending[topic]
	if len(waiters) == 0 {
		c.mu.Unlock()
		return
	}
	ack := waiters[0]
	if len(waiters) == 1 {
		delete(c.pending, topic)
	} else {
		c.pending[topic] = waiters[1:]
	}
	c.mu.Unlock()
	ack <- err
}

func (c *conn) drop(topic string, ack chan error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiters := c.pending[topic]
	for i, w := range waiters {
		if w == ack {
			c.pending[topic] = append(waiters[:i:i], waiters[i+1:]...)
			break
		}
	}
	if len(c.pending[topic]) == 0 {
		delete(c.pending, topic)
	}
}

func (c *conn) shutdown(err error) {
	c.mu.Lock()
	c.err = err
	c.pending = make(map[string][]chan error)
	c.mu.Unlock()
	close(c.done)
	_ = c.ws.Close()
	c.logger.Debug("push connection closed", "error", err)
}

func (c *conn) closedErr() error {
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	err := c.err
	c.mu.Unlock()
	if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", goElevate.ErrNetworkUnavailable, err)
}
