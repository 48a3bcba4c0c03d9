// Package realtime maintains the live subscription to a device's activity
// channel: it drives the connection state machine from transport lifecycle
// events, refreshes credentials when the broker rejects them, decodes
// inbound messages and fans them out to registered listeners.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/trymwestin/snoo/internal/core/auth"
	"github.com/trymwestin/snoo/internal/core/model"
	"github.com/trymwestin/snoo/internal/transport"
)

// Channel name prefixes, suffixed with the device serial number.
const (
	activityChannelPrefix = "ActivityState."
	commandChannelPrefix  = "ControlCommand."
)

const refreshTimeout = 30 * time.Second

// Handle identifies a registered listener. Its sole purpose is removal.
type Handle int

// ActivityFunc receives each decoded activity message.
type ActivityFunc func(model.ActivityState)

// ConnectionFunc receives connected/disconnected flips.
type ConnectionFunc func(connected bool)

// Manager owns one subscription, keyed by device serial number. All methods
// are safe for concurrent use; the transport's connection object is owned
// exclusively by the Manager.
type Manager struct {
	serial  string
	session *auth.Session
	tr      transport.Transport
	log     *slog.Logger

	activityChannel string
	commandChannel  string

	mu             sync.Mutex
	sm             stateMachine
	nextHandle     Handle
	listeners      map[Handle]ActivityFunc
	connListeners  map[Handle]ConnectionFunc
	connectedCh    chan struct{} // closed while connected
	disconnectedCh chan struct{} // closed while disconnected
}

// NewManager wires a manager for the device's channels and registers its
// handlers on the transport.
func NewManager(session *auth.Session, serial string, tr transport.Transport, log *slog.Logger) *Manager {
	m := &Manager{
		serial:          serial,
		session:         session,
		tr:              tr,
		log:             log,
		activityChannel: activityChannelPrefix + serial,
		commandChannel:  commandChannelPrefix + serial,
		listeners:       make(map[Handle]ActivityFunc),
		connListeners:   make(map[Handle]ConnectionFunc),
		connectedCh:     make(chan struct{}),
		disconnectedCh:  make(chan struct{}),
	}
	close(m.disconnectedCh)

	tr.SetHandlers(transport.Handlers{
		OnStatus:  m.onStatus,
		OnMessage: m.onMessage,
	})
	return m
}

// IsConnected returns the current connection snapshot.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sm.connected
}

// Subscribe initiates the transport subscription for the device's activity
// channel. Subscribing while already connected is a warned no-op.
func (m *Manager) Subscribe() error {
	if m.IsConnected() {
		m.log.Warn("realtime: already subscribed", "channel", m.activityChannel)
		return nil
	}
	return m.tr.Subscribe(m.activityChannel)
}

// SubscribeAndWait subscribes and blocks until the connection is live or ctx
// is done. A cancelled wait abandons only the wait, not the subscription.
func (m *Manager) SubscribeAndWait(ctx context.Context) error {
	if err := m.Subscribe(); err != nil {
		return err
	}
	m.mu.Lock()
	ch := m.connectedCh
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("realtime: wait for connect: %w", ctx.Err())
	}
}

// Unsubscribe ends the activity subscription. Unsubscribing while already
// disconnected is a warned no-op.
func (m *Manager) Unsubscribe() error {
	if !m.IsConnected() {
		m.log.Warn("realtime: not subscribed", "channel", m.activityChannel)
		return nil
	}
	return m.tr.Unsubscribe(m.activityChannel)
}

// UnsubscribeAndWait unsubscribes and blocks until the transport reports the
// subscription gone or ctx is done.
func (m *Manager) UnsubscribeAndWait(ctx context.Context) error {
	if err := m.Unsubscribe(); err != nil {
		return err
	}
	m.mu.Lock()
	ch := m.disconnectedCh
	m.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("realtime: wait for disconnect: %w", ctx.Err())
	}
}

// Publish sends a command payload on the device's command channel.
func (m *Manager) Publish(ctx context.Context, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("realtime: encode command: %w", err)
	}
	return m.tr.Publish(ctx, m.commandChannel, data)
}

// PublishStart sends the start_snoo command.
func (m *Manager) PublishStart(ctx context.Context) error {
	return m.Publish(ctx, map[string]string{"command": "start_snoo"})
}

// PublishGoToState commands a transition to level. A nil hold leaves the
// hold field off the payload.
func (m *Manager) PublishGoToState(ctx context.Context, level model.SessionLevel, hold *bool) error {
	msg := map[string]string{
		"command": "go_to_state",
		"state":   string(level),
	}
	if hold != nil {
		if *hold {
			msg["hold"] = "on"
		} else {
			msg["hold"] = "off"
		}
	}
	return m.Publish(ctx, msg)
}

// History retrieves up to count past activity messages in transport order.
// Messages that fail to decode are dropped with a diagnostic.
func (m *Manager) History(ctx context.Context, count int) ([]model.ActivityState, error) {
	msgs, err := m.tr.History(ctx, m.activityChannel, count)
	if err != nil {
		return nil, err
	}

	states := make([]model.ActivityState, 0, len(msgs))
	for _, raw := range msgs {
		var st model.ActivityState
		if err := json.Unmarshal(raw, &st); err != nil {
			m.log.Warn("realtime: dropping undecodable history message", "error", err)
			continue
		}
		states = append(states, st)
	}
	return states, nil
}

// AddListener registers a callback for decoded activity messages and
// returns its removal handle.
func (m *Manager) AddListener(fn ActivityFunc) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHandle++
	h := m.nextHandle
	m.listeners[h] = fn
	return h
}

// RemoveListener deregisters an activity listener. Removing an unknown
// handle is a no-op.
func (m *Manager) RemoveListener(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, h)
}

// AddConnectionListener registers a callback for connection flips and
// returns its removal handle.
func (m *Manager) AddConnectionListener(fn ConnectionFunc) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHandle++
	h := m.nextHandle
	m.connListeners[h] = fn
	return h
}

// RemoveConnectionListener deregisters a connection listener. Removing an
// unknown handle is a no-op.
func (m *Manager) RemoveConnectionListener(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connListeners, h)
}

// Close tears down the underlying transport.
func (m *Manager) Close() error {
	return m.tr.Close()
}

// onStatus drives the state machine from a transport lifecycle event.
// Listeners are only notified when the connected flag actually flips.
func (m *Manager) onStatus(st transport.Status) {
	if st.Category == transport.StatusError {
		m.log.Warn("realtime: transport error", "error", st.Err)
		return
	}

	m.mu.Lock()
	cs, changed := m.sm.apply(st.Category)
	if changed {
		if cs.IsConnected {
			close(m.connectedCh)
			m.disconnectedCh = make(chan struct{})
		} else {
			close(m.disconnectedCh)
			m.connectedCh = make(chan struct{})
		}
	}
	listeners := make([]ConnectionFunc, 0, len(m.connListeners))
	for _, fn := range m.connListeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	m.log.Info("realtime: connection state changed", "connected", cs.IsConnected, "category", st.Category)

	// The refresh must not block the status callback that triggered it.
	if cs.CredentialRefreshRequired {
		go m.refreshCredentials()
	}

	for _, fn := range listeners {
		m.invokeConn(fn, cs.IsConnected)
	}
}

// onMessage decodes one inbound activity message and fans it out. An
// unparseable message is dropped; the subscription keeps running.
func (m *Manager) onMessage(channel string, payload []byte) {
	if channel != m.activityChannel {
		m.log.Debug("realtime: ignoring message on unexpected channel", "channel", channel)
		return
	}

	var st model.ActivityState
	if err := json.Unmarshal(payload, &st); err != nil {
		m.log.Warn("realtime: dropping undecodable message", "channel", channel, "error", err)
		return
	}

	m.mu.Lock()
	listeners := make([]ActivityFunc, 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		m.invokeActivity(fn, st)
	}
}

// refreshCredentials renews the session token and hands the new access
// token to the transport so its own reconnection policy can succeed.
func (m *Manager) refreshCredentials() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	tok, err := m.session.ForceRefresh(ctx)
	if err != nil {
		m.log.Error("realtime: credential refresh failed", "error", err)
		return
	}
	m.tr.SetAuthKey(tok.AccessToken)
	m.log.Info("realtime: transport credentials updated")
}

// invokeActivity isolates listener panics so remaining listeners still
// receive the message.
func (m *Manager) invokeActivity(fn ActivityFunc, st model.ActivityState) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("realtime: activity listener panicked", "panic", r)
		}
	}()
	fn(st)
}

func (m *Manager) invokeConn(fn ConnectionFunc, connected bool) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("realtime: connection listener panicked", "panic", r)
		}
	}()
	fn(connected)
}
