package goElevate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	events chan Event
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	topics []string
}

func (c *fakeConn) Subscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.closed:
		return Event{}, errors.New("connection closed")
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(ev Event) {
	c.events <- ev
}

func (c *fakeConn) subscribed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.topics...)
}

type fakeTransport struct {
	mu     sync.Mutex
	conns  []*fakeConn
	tokens []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (tr *fakeTransport) Connect(ctx context.Context) (Conn, error) {
	c := &fakeConn{events: make(chan Event), closed: make(chan struct{})}
	tr.mu.Lock()
	tr.conns = append(tr.conns, c)
	tr.tokens = append(tr.tokens, SessionTokenFrom(ctx))
	tr.mu.Unlock()
	return c, nil
}

// waitConn waits for the n-th connection to finish subscribing.
func (tr *fakeTransport) waitConn(t *testing.T, n int) *fakeConn {
	t.Helper()
	var c *fakeConn
	waitFor(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		if len(tr.conns) < n {
			return false
		}
		c = tr.conns[n-1]
		return len(c.subscribed()) >= 2
	})
	return c
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestBridgeDeduplicatesRedelivery(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newTestClient(t, standardBackend(), func(b *Builder) { b.WithTransport(tr) })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var got []string
	c.Bridge().Subscribe(TopicTransactionConfirmed, func(_ context.Context, ev Event) {
		mu.Lock()
		got = append(got, ev.ID)
		mu.Unlock()
	})
	go func() { _ = c.Bridge().Run(ctx) }()
	conn := tr.waitConn(t, 1)

	conn.push(Event{ID: "tx-1", Topic: TopicTransactionConfirmed})
	conn.push(Event{ID: "tx-1", Topic: TopicTransactionConfirmed})
	conn.push(Event{ID: "tx-2", Topic: TopicTransactionConfirmed})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "tx-1" || got[1] != "tx-2" {
		t.Fatalf("expected each event once, got %v", got)
	}
}

func TestBridgeResubscribesAfterReconnect(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newTestClient(t, standardBackend(), func(b *Builder) { b.WithTransport(tr) })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	delivered := make(chan Event, 4)
	c.Bridge().Subscribe(TopicTransactionConfirmed, func(_ context.Context, ev Event) {
		delivered <- ev
	})
	go func() { _ = c.Bridge().Run(ctx) }()

	first := tr.waitConn(t, 1)
	_ = first.Close()

	second := tr.waitConn(t, 2)
	waitFor(t, func() bool { return len(second.subscribed()) >= 3 })
	topics := second.subscribed()
	for _, want := range []string{TopicTransactionConfirmed, TopicSessionInvalidated, TopicVerificationStatusChanged} {
		if !contains(topics, want) {
			t.Fatalf("topic %q not resubscribed: %v", want, topics)
		}
	}

	second.push(Event{ID: "tx-9", Topic: TopicTransactionConfirmed})
	select {
	case ev := <-delivered:
		if ev.ID != "tx-9" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered after reconnect")
	}
}

func TestBridgeRefreshesBeforeHandlers(t *testing.T) {
	be := standardBackend()
	tr := newFakeTransport()
	c, _ := newTestClient(t, be, func(b *Builder) { b.WithTransport(tr) })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := c.Login(ctx, "alice", testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	seen := make(chan string, 1)
	c.Bridge().Subscribe(TopicVerificationStatusChanged, func(context.Context, Event) {
		seen <- c.Session().View().Identity.VerificationStatus
	})
	go func() { _ = c.Bridge().Run(ctx) }()
	conn := tr.waitConn(t, 1)

	be.setStatus("7", "rejected")
	conn.push(Event{ID: "vs-1", Topic: TopicVerificationStatusChanged, UserID: "7"})

	select {
	case status := <-seen:
		if status != "rejected" {
			t.Fatalf("handler saw stale state %q", status)
		}
	case <-time.After(time.Second):
		t.Fatal("handler not called")
	}

	tr.mu.Lock()
	token := tr.tokens[0]
	tr.mu.Unlock()
	if token == "" {
		t.Fatal("expected the session token on connect")
	}
}

func TestBridgeUnsubscribeStopsDelivery(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newTestClient(t, standardBackend(), func(b *Builder) { b.WithTransport(tr) })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	calls := 0
	sub := c.Bridge().Subscribe(TopicTransactionConfirmed, func(context.Context, Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	marker := make(chan struct{}, 1)
	c.Bridge().Subscribe(TopicTransactionConfirmed, func(context.Context, Event) { marker <- struct{}{} })
	go func() { _ = c.Bridge().Run(ctx) }()
	conn := tr.waitConn(t, 1)

	c.Bridge().Unsubscribe(sub)
	conn.push(Event{ID: "tx-1", Topic: TopicTransactionConfirmed})
	<-marker

	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Fatalf("unsubscribed handler called %d times", calls)
	}
}

func TestBridgeRunStopsOnCancel(t *testing.T) {
	tr := newFakeTransport()
	c, _ := newTestClient(t, standardBackend(), func(b *Builder) { b.WithTransport(tr) })
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Bridge().Run(ctx) }()
	tr.waitConn(t, 1)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestBridgeWithoutTransport(t *testing.T) {
	c, _ := newTestClient(t, standardBackend())
	if err := c.Bridge().Run(context.Background()); err == nil {
		t.Fatal("expected an error without a transport")
	}
}

type refusingTransport struct{ dials int }

func (tr *refusingTransport) Connect(context.Context) (Conn, error) {
	tr.dials++
	return nil, fmt.Errorf("%w: push handshake refused", ErrSessionInvalidated)
}

func TestBridgeStopsWhenHandshakeRefused(t *testing.T) {
	tr := &refusingTransport{}
	c, cb := newTestClient(t, standardBackend(), func(b *Builder) { b.WithTransport(tr) })
	ctx := context.Background()
	if _, err := c.Login(ctx, "alice", testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	err := c.Bridge().Run(ctx)
	if !errors.Is(err, ErrSessionInvalidated) {
		t.Fatalf("expected ErrSessionInvalidated, got %v", err)
	}
	if tr.dials != 1 {
		t.Fatalf("expected a single dial, got %d", tr.dials)
	}
	if c.Session().View().Authenticated || cb.invalidatedCount() != 1 {
		t.Fatalf("session must be invalidated once, view=%+v calls=%d", c.Session().View(), cb.invalidatedCount())
	}
}
