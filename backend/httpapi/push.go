package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/MrEthical07/goElevate/backend"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Frame ops on the push socket.
const (
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpAck         = "ack"
	OpEvent       = "event"
	OpError       = "error"
)

// Frame is the single message shape in both directions.
type Frame struct {
	Op    string         `json:"op"`
	Topic string         `json:"topic,omitempty"`
	Event *backend.Event `json:"event,omitempty"`
	Error string         `json:"error,omitempty"`
}

var knownTopics = map[string]bool{
	backend.TopicVerificationStatusChanged: true,
	backend.TopicTransactionConfirmed:      true,
	backend.TopicSessionInvalidated:        true,
}

// handlePush upgrades an authenticated request and relays the user's events
// for the topics the client subscribed to on this connection.
func (s *server) handlePush(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "push unavailable", http.StatusServiceUnavailable)
		return
	}
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		token = r.URL.Query().Get("access_token")
	}
	view, err := s.svc.SessionView(r.Context(), token)
	if err != nil {
		writeError(w, err, nil, nil)
		return
	}
	if !view.Authenticated {
		writeError(w, backend.ErrUnauthenticated, nil, nil)
		return
	}
	userID := view.User.ID

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := s.hub.Subscribe(ctx, userID)
	if err != nil {
		s.logger.Error("push subscribe failed", "user_id", userID, "error", err)
		http.Error(w, "push unavailable", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	defer conn.Close()

	s.logger.Debug("push connected", "user_id", userID)
	topics := &topicSet{m: make(map[string]bool)}
	control := make(chan Frame, 8)

	go func() {
		defer cancel()
		s.readFrames(conn, topics, control)
	}()
	s.writeFrames(ctx, conn, sub.Events(), topics, control)
	s.logger.Debug("push disconnected", "user_id", userID)
}

func (s *server) readFrames(conn *websocket.Conn, topics *topicSet, control chan<- Frame) {
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		reply := Frame{Op: OpAck, Topic: f.Topic}
		switch {
		case !knownTopics[f.Topic]:
			reply = Frame{Op: OpError, Topic: f.Topic, Error: "unknown topic"}
		case f.Op == OpSubscribe:
			topics.set(f.Topic, true)
		case f.Op == OpUnsubscribe:
			topics.set(f.Topic, false)
		default:
			reply = Frame{Op: OpError, Topic: f.Topic, Error: "unknown op"}
		}
		select {
		case control <- reply:
		default:
			// a client flooding control frames loses acks, not events
		}
	}
}

func (s *server) writeFrames(ctx context.Context, conn *websocket.Conn, events <-chan backend.Event, topics *topicSet, control <-chan Frame) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	write := func(f Frame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(f) == nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case f := <-control:
			if !write(f) {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !topics.has(ev.Topic) {
				continue
			}
			if !write(Frame{Op: OpEvent, Topic: ev.Topic, Event: &ev}) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type topicSet struct {
	mu sync.RWMutex
	m  map[string]bool
}

func (t *topicSet) set(topic string, on bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if on {
		t.m[topic] = true
	} else {
		delete(t.m, topic)
	}
}

func (t *topicSet) has(topic string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m[topic]
}
