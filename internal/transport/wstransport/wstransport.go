// Package wstransport implements the pub/sub transport over a WebSocket
// gateway. Frames are JSON envelopes; subscribe, publish and history are
// request/response pairs matched by id, while server pushes arrive as
// unsolicited "message" envelopes.
package wstransport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/trymwestin/snoo/internal/transport"
)

const (
	readTimeout      = 60 * time.Second
	keepaliveEvery   = 25 * time.Second
	handshakeTimeout = 15 * time.Second
	requestTimeout   = 10 * time.Second
)

// Config holds gateway settings.
type Config struct {
	// URL of the gateway, e.g. "wss://realtime.example.com/v1".
	URL string
	// ClientID identifies this client instance; generated when empty.
	ClientID string
}

// envelope is the wire frame exchanged with the gateway.
type envelope struct {
	Op       string            `json:"op"`
	ID       int64             `json:"id,omitempty"`
	Channel  string            `json:"channel,omitempty"`
	Count    int               `json:"count,omitempty"`
	Status   int               `json:"status,omitempty"`
	Error    string            `json:"error,omitempty"`
	Data     json.RawMessage   `json:"data,omitempty"`
	Messages []json.RawMessage `json:"messages,omitempty"`
}

// Transport is a WebSocket-backed transport.Transport. It reconnects with
// exponential backoff and resubscribes to all channels on reconnect.
type Transport struct {
	cfg Config
	log *slog.Logger

	mu            sync.Mutex
	handlers      transport.Handlers
	authKey       string
	subscriptions map[string]bool
	conn          *wsConn
	everConnected bool

	reqID     atomic.Int64
	pending   map[int64]chan envelope
	pendingMu sync.Mutex

	wakeCh  chan struct{}
	cancel  context.CancelFunc
	stopped chan struct{}
	running atomic.Bool
}

var _ transport.Transport = (*Transport)(nil)

// New creates a WebSocket transport with the given initial auth key.
func New(cfg Config, authKey string, log *slog.Logger) *Transport {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("snoo-%s", uuid.NewString())
	}
	return &Transport{
		cfg:           cfg,
		log:           log,
		authKey:       authKey,
		subscriptions: make(map[string]bool),
		pending:       make(map[int64]chan envelope),
		wakeCh:        make(chan struct{}, 1),
	}
}

// SetHandlers registers the event sinks.
func (t *Transport) SetHandlers(h transport.Handlers) {
	t.mu.Lock()
	t.handlers = h
	t.mu.Unlock()
}

// SetAuthKey swaps the credential used for subsequent connection attempts
// and wakes the reconnect loop so a refreshed credential is tried at once.
func (t *Transport) SetAuthKey(key string) {
	t.mu.Lock()
	t.authKey = key
	t.mu.Unlock()
	t.signalWake()
}

// Subscribe registers the channel and starts the connection loop on first
// use. On an established connection the subscription is sent immediately;
// otherwise the next (re)connect picks it up.
func (t *Transport) Subscribe(channel string) error {
	t.mu.Lock()
	t.subscriptions[channel] = true
	conn := t.conn
	t.mu.Unlock()

	t.ensureRunning()

	if conn == nil {
		t.signalWake()
		return nil
	}
	if err := conn.send(envelope{Op: "subscribe", ID: t.reqID.Add(1), Channel: channel}); err != nil {
		return fmt.Errorf("realtime: subscribe %s: %w", channel, err)
	}
	return nil
}

// Unsubscribe drops the subscription and reports the lifecycle change.
func (t *Transport) Unsubscribe(channel string) error {
	t.mu.Lock()
	delete(t.subscriptions, channel)
	conn := t.conn
	t.mu.Unlock()

	if conn != nil {
		if err := conn.send(envelope{Op: "unsubscribe", Channel: channel}); err != nil {
			return fmt.Errorf("realtime: unsubscribe %s: %w", channel, err)
		}
	}
	t.report(transport.Status{Category: transport.StatusUnsubscribed})
	return nil
}

// Publish sends payload on channel and waits for the gateway ack.
func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	resp, err := t.request(ctx, envelope{Op: "publish", Channel: channel, Data: payload})
	if err != nil {
		return fmt.Errorf("realtime: publish %s: %w", channel, err)
	}
	if resp.Status != 0 && (resp.Status < 200 || resp.Status >= 300) {
		return fmt.Errorf("realtime: publish %s: status %d: %s", channel, resp.Status, resp.Error)
	}
	return nil
}

// History fetches up to count stored messages for channel, newest last.
func (t *Transport) History(ctx context.Context, channel string, count int) ([][]byte, error) {
	resp, err := t.request(ctx, envelope{Op: "history", Channel: channel, Count: count})
	if err != nil {
		return nil, fmt.Errorf("realtime: history %s: %w", channel, err)
	}
	if resp.Status != 0 && (resp.Status < 200 || resp.Status >= 300) {
		return nil, fmt.Errorf("realtime: history %s: status %d: %s", channel, resp.Status, resp.Error)
	}
	out := make([][]byte, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, []byte(m))
	}
	return out, nil
}

// Close stops the connection loop and closes the socket. Closing the
// socket here unblocks a read in flight so the loop can exit.
func (t *Transport) Close() error {
	if !t.running.Load() {
		return nil
	}
	t.cancel()
	t.disconnect()
	<-t.stopped
	t.running.Store(false)
	return nil
}

func (t *Transport) ensureRunning() {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.stopped = make(chan struct{})
	go t.runLoop(ctx)
}

func (t *Transport) signalWake() {
	select {
	case t.wakeCh <- struct{}{}:
	default:
	}
}

// request sends an envelope with a fresh id and waits for the matching
// "result" envelope.
func (t *Transport) request(ctx context.Context, env envelope) (envelope, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return envelope{}, errors.New("not connected")
	}

	id := t.reqID.Add(1)
	env.ID = id

	respCh := make(chan envelope, 1)
	t.pendingMu.Lock()
	t.pending[id] = respCh
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	if err := conn.send(env); err != nil {
		return envelope{}, err
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-time.After(requestTimeout):
		return envelope{}, fmt.Errorf("response timeout for request %d", id)
	case <-ctx.Done():
		return envelope{}, ctx.Err()
	}
}

func (t *Transport) runLoop(ctx context.Context) {
	defer close(t.stopped)

	backoff := time.Second
	maxBackoff := 2 * time.Minute

	for {
		select {
		case <-ctx.Done():
			t.disconnect()
			return
		default:
		}

		connected, err := t.connectAndRun(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.log.Info("realtime: shutting down")
				return
			}
			t.log.Error("realtime: connection error", "error", err, "retry_in", backoff)
		}

		t.disconnect()

		if connected {
			backoff = time.Second
		}

		// Interruptible backoff — wake signal skips the wait
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-t.wakeCh:
			timer.Stop()
			select {
			case <-timer.C:
			default:
			}
			backoff = time.Second
		case <-timer.C:
		}

		backoff = time.Duration(math.Min(float64(backoff)*2, float64(maxBackoff)))
	}
}

func (t *Transport) connectAndRun(ctx context.Context) (connected bool, err error) {
	t.mu.Lock()
	authKey := t.authKey
	channels := make([]string, 0, len(t.subscriptions))
	for ch := range t.subscriptions {
		channels = append(channels, ch)
	}
	t.mu.Unlock()

	if len(channels) == 0 {
		return false, nil
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+authKey)
	header.Set("X-Client-Id", t.cfg.ClientID)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, t.cfg.URL, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			t.report(transport.Status{Category: transport.StatusAccessDenied, Err: err})
			return false, fmt.Errorf("dial %s: HTTP %d: %w", t.cfg.URL, resp.StatusCode, err)
		}
		return false, fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}

	conn := newWSConn(ws, t.log)

	t.mu.Lock()
	t.conn = conn
	first := !t.everConnected
	t.everConnected = true
	t.mu.Unlock()

	conn.setReadDeadline(time.Now().Add(readTimeout))

	for _, ch := range channels {
		if err := conn.send(envelope{Op: "subscribe", ID: t.reqID.Add(1), Channel: ch}); err != nil {
			return true, fmt.Errorf("subscribe %s: %w", ch, err)
		}
	}

	cat := transport.StatusReconnected
	if first {
		cat = transport.StatusConnected
	}
	t.report(transport.Status{Category: cat})

	keepaliveCtx, keepaliveCancel := context.WithCancel(ctx)
	defer keepaliveCancel()
	go t.keepaliveLoop(keepaliveCtx, conn)

	return true, t.readLoop(ctx, conn)
}

func (t *Transport) disconnect() {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.close()
		t.conn = nil
	}
	t.mu.Unlock()
}

func (t *Transport) keepaliveLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(keepaliveEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				t.log.Warn("realtime: keepalive ping failed, triggering reconnect", "error", err)
				t.disconnect()
				return
			}
		}
	}
}

func (t *Transport) readLoop(ctx context.Context, conn *wsConn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		env, err := conn.recv()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		conn.setReadDeadline(time.Now().Add(readTimeout))

		t.handleEnvelope(env)
	}
}

func (t *Transport) handleEnvelope(env envelope) {
	switch env.Op {
	case "message":
		t.mu.Lock()
		onMessage := t.handlers.OnMessage
		t.mu.Unlock()
		if onMessage != nil {
			onMessage(env.Channel, []byte(env.Data))
		}

	case "result":
		t.pendingMu.Lock()
		ch, ok := t.pending[env.ID]
		t.pendingMu.Unlock()
		if ok {
			select {
			case ch <- env:
			default:
			}
		}

	case "error":
		if env.Status == http.StatusUnauthorized || env.Status == http.StatusForbidden {
			t.report(transport.Status{Category: transport.StatusAccessDenied, Err: errors.New(env.Error)})
			t.disconnect()
			return
		}
		t.report(transport.Status{Category: transport.StatusError, Err: errors.New(env.Error)})

	case "keepalive":
		t.log.Debug("realtime: received keepalive")

	default:
		t.log.Debug("realtime: unhandled envelope", "op", env.Op)
	}
}

func (t *Transport) report(st transport.Status) {
	t.mu.Lock()
	onStatus := t.handlers.OnStatus
	t.mu.Unlock()
	if onStatus != nil {
		onStatus(st)
	}
}

// --- connection ---

type wsConn struct {
	ws  *websocket.Conn
	mu  sync.Mutex // protects writes
	log *slog.Logger
}

func newWSConn(ws *websocket.Conn, log *slog.Logger) *wsConn {
	c := &wsConn{ws: ws, log: log}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readTimeout))
	})
	return c
}

func (c *wsConn) send(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

func (c *wsConn) recv() (envelope, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return envelope{}, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("unmarshal: %w", err)
	}
	return env, nil
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(5*time.Second))
}

func (c *wsConn) setReadDeadline(deadline time.Time) {
	_ = c.ws.SetReadDeadline(deadline)
}

func (c *wsConn) close() {
	_ = c.ws.Close()
}
