package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// MessageHandler receives the raw payload of one message on a subscribed
// topic.
type MessageHandler func(payload []byte)

// Transport is the message-oriented pub/sub contract the collaboration layer
// builds on. Subscribe returns a cancel function that tears the subscription
// down. Implementations must make Connect idempotent and Publish wait (up to
// a bound) for the connection instead of dropping silently.
type Transport interface {
	Connect(ctx context.Context, identity SessionContext) error
	Subscribe(topic string, handler MessageHandler) (func(), error)
	Publish(topic string, payload any) error
	Disconnect()
	IsConnected() bool
}

var (
	// ErrConnectionTimeout is returned when a publish waited out the bounded
	// poll for a connection that never came up.
	ErrConnectionTimeout = errors.New("timed out waiting for connection")
	// ErrNotConnected is returned when a write races a connection drop.
	ErrNotConnected = errors.New("transport is not connected")
)

// TransportConfig tunes the reconnect and publish-wait behavior. Tests shrink
// the windows; production uses the defaults.
type TransportConfig struct {
	BaseDelay    time.Duration
	MaxAttempts  int
	PublishWait  time.Duration
	PollInterval time.Duration
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		BaseDelay:    1 * time.Second,
		MaxAttempts:  5,
		PublishWait:  10 * time.Second,
		PollInterval: 200 * time.Millisecond,
	}
}

// ChannelTransport is the websocket-backed Transport. One connection is
// shared across every room the client joins over its lifetime; topics are
// multiplexed as JSON frames.
type ChannelTransport struct {
	serverURL string
	cfg       TransportConfig
	dialer    *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool
	gen       int
	inflight  chan struct{}
	lastErr   error
	identity  SessionContext
	subs      map[string]MessageHandler

	writeMu sync.Mutex
}

func NewChannelTransport(serverURL string, cfg TransportConfig) *ChannelTransport {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultTransportConfig()
	}
	return &ChannelTransport{
		serverURL: serverURL,
		cfg:       cfg,
		dialer:    websocket.DefaultDialer,
		subs:      make(map[string]MessageHandler),
	}
}

// Connect dials the broker. Calling it while connected is a no-op; calling it
// while an attempt is in flight joins that attempt instead of opening a
// second socket. A failed attempt is terminal for its callers, and the next
// Connect starts fresh.
func (t *ChannelTransport) Connect(ctx context.Context, identity SessionContext) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	if t.inflight != nil {
		attempt := t.inflight
		t.mu.Unlock()
		select {
		case <-attempt:
		case <-ctx.Done():
			return ctx.Err()
		}
		t.mu.Lock()
		err := t.lastErr
		t.mu.Unlock()
		return err
	}
	attempt := make(chan struct{})
	t.inflight = attempt
	t.identity = identity
	t.closed = false
	t.mu.Unlock()

	err := t.dialWithBackoff(ctx)

	t.mu.Lock()
	t.lastErr = err
	t.inflight = nil
	t.mu.Unlock()
	close(attempt)
	return err
}

func (t *ChannelTransport) dialWithBackoff(ctx context.Context) error {
	dialURL, err := t.dialURL()
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < t.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := t.cfg.BaseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		conn, _, err := t.dialer.DialContext(ctx, dialURL, nil)
		if err == nil {
			t.attach(conn)
			return nil
		}
		lastErr = err
		log.Printf("transport: dial attempt %d/%d failed: %v", attempt+1, t.cfg.MaxAttempts, err)
	}
	return fmt.Errorf("connect failed after %d attempts: %w", t.cfg.MaxAttempts, lastErr)
}

// attach installs a fresh connection, replays the subscription table so the
// broker knows our topics again, and starts the read loop.
func (t *ChannelTransport) attach(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.gen++
	gen := t.gen
	topics := make([]string, 0, len(t.subs))
	for topic := range t.subs {
		topics = append(topics, topic)
	}
	t.mu.Unlock()

	for _, topic := range topics {
		if err := t.writeFrame(frame{Action: actionSubscribe, Topic: topic}); err != nil {
			log.Printf("transport: resubscribe %s: %v", topic, err)
		}
	}
	go t.readLoop(conn, gen)
}

func (t *ChannelTransport) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.handleDrop(gen, err)
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			// A single malformed message is dropped; the subscription
			// stays up.
			log.Printf("transport: malformed frame: %v", err)
			continue
		}
		t.mu.Lock()
		handler := t.subs[f.Topic]
		t.mu.Unlock()
		if handler != nil {
			handler(f.Payload)
		}
	}
}

func (t *ChannelTransport) handleDrop(gen int, cause error) {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	t.connected = false
	t.conn = nil
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	log.Printf("transport: connection dropped: %v", cause)
	go t.reconnect()
}

func (t *ChannelTransport) reconnect() {
	t.mu.Lock()
	if t.closed || t.connected || t.inflight != nil {
		t.mu.Unlock()
		return
	}
	attempt := make(chan struct{})
	t.inflight = attempt
	t.mu.Unlock()

	err := t.dialWithBackoff(context.Background())

	t.mu.Lock()
	t.lastErr = err
	t.inflight = nil
	t.mu.Unlock()
	close(attempt)
	if err != nil {
		log.Printf("transport: reconnect gave up: %v", err)
	}
}

// Subscribe registers the handler for a topic, replacing any previous
// subscription to the same topic so a message is never delivered twice. The
// returned cancel function tears the subscription down.
func (t *ChannelTransport) Subscribe(topic string, handler MessageHandler) (func(), error) {
	t.mu.Lock()
	_, replaced := t.subs[topic]
	t.subs[topic] = handler
	connected := t.connected
	t.mu.Unlock()

	if connected && !replaced {
		if err := t.writeFrame(frame{Action: actionSubscribe, Topic: topic}); err != nil {
			return nil, err
		}
	}
	cancel := func() {
		t.mu.Lock()
		_, ok := t.subs[topic]
		delete(t.subs, topic)
		connected := t.connected
		t.mu.Unlock()
		if ok && connected {
			_ = t.writeFrame(frame{Action: actionUnsubscribe, Topic: topic})
		}
	}
	return cancel, nil
}

// Publish marshals the payload and sends it to a destination. If the
// connection is still coming up it polls until the bound elapses, then fails
// with ErrConnectionTimeout rather than dropping the message silently.
func (t *ChannelTransport) Publish(topic string, payload any) error {
	if err := t.awaitConnected(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return t.writeFrame(frame{Action: actionPublish, Topic: topic, Payload: raw})
}

func (t *ChannelTransport) awaitConnected() error {
	deadline := time.Now().Add(t.cfg.PublishWait)
	for {
		if t.IsConnected() {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrConnectionTimeout
		}
		time.Sleep(t.cfg.PollInterval)
	}
}

func (t *ChannelTransport) writeFrame(f frame) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(f)
}

// Disconnect closes the socket and clears the subscription table. A later
// Connect starts over with no topics.
func (t *ChannelTransport) Disconnect() {
	t.mu.Lock()
	t.closed = true
	t.connected = false
	conn := t.conn
	t.conn = nil
	t.subs = make(map[string]MessageHandler)
	t.mu.Unlock()
	if conn != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}
}

func (t *ChannelTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

// dialURL validates the configured endpoint and attaches the identity as
// query parameters so the broker can tag the connection.
func (t *ChannelTransport) dialURL() (string, error) {
	parsed, err := url.Parse(t.serverURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	query := parsed.Query()
	query.Set("userId", t.identity.UserID)
	query.Set("username", t.identity.Username)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
