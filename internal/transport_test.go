package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"
)

// fakeTransport is the in-process Transport used by the component tests.
// deliver pushes a message to a subscribed handler the way the read loop
// would; sentTo inspects what the component published.
type fakeTransport struct {
	mu           sync.Mutex
	connected    bool
	connectCalls int
	subs         map[string]MessageHandler
	sent         []sentFrame
	failPublish  map[string]error
}

type sentFrame struct {
	topic   string
	payload []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subs:        make(map[string]MessageHandler),
		failPublish: make(map[string]error),
	}
}

func (f *fakeTransport) Connect(ctx context.Context, identity SessionContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	f.connected = true
	return nil
}

func (f *fakeTransport) Subscribe(topic string, handler MessageHandler) (func(), error) {
	f.mu.Lock()
	f.subs[topic] = handler
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.subs, topic)
		f.mu.Unlock()
	}, nil
}

func (f *fakeTransport) Publish(topic string, payload any) error {
	f.mu.Lock()
	if err, ok := f.failPublish[topic]; ok {
		f.mu.Unlock()
		return err
	}
	f.mu.Unlock()
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentFrame{topic: topic, payload: raw})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.subs = make(map[string]MessageHandler)
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// deliver marshals msg and hands it to the handler subscribed to topic, as
// the broker would.
func (f *fakeTransport) deliver(t *testing.T, topic string, msg any) {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal for deliver: %v", err)
	}
	f.mu.Lock()
	handler := f.subs[topic]
	f.mu.Unlock()
	if handler == nil {
		t.Fatalf("no subscriber for %s", topic)
	}
	handler(raw)
}

func (f *fakeTransport) sentTo(topic string) []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []sentFrame
	for _, frame := range f.sent {
		if frame.topic == topic {
			matched = append(matched, frame)
		}
	}
	return matched
}

func (f *fakeTransport) subCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeTransport) hasSub(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[topic]
	return ok
}

func decodeFrame[T any](t *testing.T, frame sentFrame) T {
	t.Helper()
	var msg T
	if err := json.Unmarshal(frame.payload, &msg); err != nil {
		t.Fatalf("decode %s: %v", frame.topic, err)
	}
	return msg
}

func TestDialURLCarriesIdentity(t *testing.T) {
	tr := NewChannelTransport("ws://localhost:8080/ws", DefaultTransportConfig())
	tr.identity = SessionContext{UserID: "u-1", Username: "ada"}

	dial, err := tr.dialURL()
	if err != nil {
		t.Fatalf("dialURL: %v", err)
	}
	parsed, err := url.Parse(dial)
	if err != nil {
		t.Fatalf("parse dial url: %v", err)
	}
	if got := parsed.Query().Get("userId"); got != "u-1" {
		t.Errorf("userId = %q, want u-1", got)
	}
	if got := parsed.Query().Get("username"); got != "ada" {
		t.Errorf("username = %q, want ada", got)
	}
}

func TestDialURLRejectsNonWebsocketScheme(t *testing.T) {
	tr := NewChannelTransport("http://localhost:8080/ws", DefaultTransportConfig())
	if _, err := tr.dialURL(); err == nil {
		t.Fatal("expected error for http scheme")
	}
}

func TestPublishTimesOutWithoutConnection(t *testing.T) {
	cfg := TransportConfig{
		BaseDelay:    time.Millisecond,
		MaxAttempts:  1,
		PublishWait:  30 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}
	tr := NewChannelTransport("ws://localhost:8080/ws", cfg)

	err := tr.Publish("/app/snippet/ROOM/code", CodeChangeMessage{UserID: "u-1"})
	if !errors.Is(err, ErrConnectionTimeout) {
		t.Fatalf("err = %v, want ErrConnectionTimeout", err)
	}
}

func TestConnectGivesUpAfterMaxAttempts(t *testing.T) {
	cfg := TransportConfig{
		BaseDelay:    time.Millisecond,
		MaxAttempts:  2,
		PublishWait:  10 * time.Millisecond,
		PollInterval: 2 * time.Millisecond,
	}
	// Port 1 is never listening; every attempt is refused.
	tr := NewChannelTransport("ws://127.0.0.1:1/ws", cfg)

	start := time.Now()
	err := tr.Connect(context.Background(), SessionContext{UserID: "u-1", Username: "ada"})
	if err == nil {
		t.Fatal("expected connect to fail")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("connect took %v, backoff did not stay bounded", elapsed)
	}
	if tr.IsConnected() {
		t.Fatal("transport reports connected after failed attempts")
	}
}

func TestSubscribeReplacesExistingHandler(t *testing.T) {
	tr := NewChannelTransport("ws://localhost:8080/ws", DefaultTransportConfig())

	var first, second int
	if _, err := tr.Subscribe("/topic/snippet/ROOM/code", func([]byte) { first++ }); err != nil {
		t.Fatalf("first subscribe: %v", err)
	}
	if _, err := tr.Subscribe("/topic/snippet/ROOM/code", func([]byte) { second++ }); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}

	tr.mu.Lock()
	handler := tr.subs["/topic/snippet/ROOM/code"]
	count := len(tr.subs)
	tr.mu.Unlock()

	if count != 1 {
		t.Fatalf("subscription count = %d, want 1", count)
	}
	handler(nil)
	if first != 0 || second != 1 {
		t.Fatalf("replaced handler still receiving: first=%d second=%d", first, second)
	}
}

func TestSubscribeCancelRemovesTopic(t *testing.T) {
	tr := NewChannelTransport("ws://localhost:8080/ws", DefaultTransportConfig())

	cancel, err := tr.Subscribe("/topic/snippet/ROOM/presence", func([]byte) {})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	tr.mu.Lock()
	_, ok := tr.subs["/topic/snippet/ROOM/presence"]
	tr.mu.Unlock()
	if ok {
		t.Fatal("cancelled subscription still registered")
	}
}
