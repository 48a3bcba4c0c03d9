// Package mqtttransport implements the pub/sub transport over an MQTT
// broker. Channel names map directly to topics. MQTT brokers keep no
// replayable per-topic log, so history is unsupported.
package mqtttransport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"

	"github.com/trymwestin/snoo/internal/transport"
)

// Config holds broker settings.
type Config struct {
	// Broker URL, e.g. "ssl://broker.example.com:8883".
	Broker string
	// ClientID identifies this client instance; generated when empty.
	ClientID string
	// Username presented to the broker. The auth key is presented as the
	// password and can be swapped between connection attempts.
	Username string
}

// Transport is an MQTT-backed transport.Transport.
type Transport struct {
	cfg Config
	log *slog.Logger

	mu            sync.Mutex
	handlers      transport.Handlers
	client        pahomqtt.Client
	authKey       string
	subscriptions map[string]bool
	everConnected bool
}

var _ transport.Transport = (*Transport)(nil)

// New creates an MQTT transport with the given initial auth key.
func New(cfg Config, authKey string, log *slog.Logger) *Transport {
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("snoo-%s", uuid.NewString())
	}
	return &Transport{
		cfg:           cfg,
		log:           log,
		authKey:       authKey,
		subscriptions: make(map[string]bool),
	}
}

// SetHandlers registers the event sinks.
func (t *Transport) SetHandlers(h transport.Handlers) {
	t.mu.Lock()
	t.handlers = h
	t.mu.Unlock()
}

// SetAuthKey swaps the credential used for subsequent connection attempts.
func (t *Transport) SetAuthKey(key string) {
	t.mu.Lock()
	t.authKey = key
	t.mu.Unlock()
}

// Subscribe connects to the broker on first use and subscribes to channel.
func (t *Transport) Subscribe(channel string) error {
	if err := t.ensureClient(); err != nil {
		return err
	}

	t.mu.Lock()
	t.subscriptions[channel] = true
	client := t.client
	t.mu.Unlock()

	if client.IsConnected() {
		return t.subscribeTopic(client, channel)
	}
	// Not connected yet: the OnConnect handler picks the channel up.
	return nil
}

// Unsubscribe drops the subscription and reports the lifecycle change.
func (t *Transport) Unsubscribe(channel string) error {
	t.mu.Lock()
	delete(t.subscriptions, channel)
	client := t.client
	t.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return nil
	}
	token := client.Unsubscribe(channel)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: unsubscribe %s: %w", channel, err)
	}
	t.report(transport.Status{Category: transport.StatusUnsubscribed})
	return nil
}

// Publish sends payload on channel at QoS 1 and waits for the ack.
func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return errors.New("mqtt: not connected")
	}

	token := client.Publish(channel, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("mqtt: publish %s: %w", channel, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publish %s: %w", channel, err)
	}
	return nil
}

// History is not supported by MQTT brokers.
func (t *Transport) History(_ context.Context, _ string, _ int) ([][]byte, error) {
	return nil, transport.ErrHistoryUnsupported
}

// Close disconnects from the broker.
func (t *Transport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(1000)
	}
	return nil
}

// ensureClient connects on first use. The initial connect is blocking so a
// rejected credential surfaces immediately; later drops are handled by
// paho's auto-reconnect.
func (t *Transport) ensureClient() error {
	t.mu.Lock()
	if t.client != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	opts := pahomqtt.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(t.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(2 * time.Minute).
		SetCredentialsProvider(func() (string, string) {
			t.mu.Lock()
			defer t.mu.Unlock()
			return t.cfg.Username, t.authKey
		}).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(t.onConnectionLost)

	client := pahomqtt.NewClient(opts)

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		t.mu.Lock()
		t.client = nil
		t.mu.Unlock()
		if errors.Is(err, packets.ErrorRefusedNotAuthorised) || errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) {
			t.report(transport.Status{Category: transport.StatusAccessDenied, Err: err})
		}
		return fmt.Errorf("mqtt: connect %s: %w", t.cfg.Broker, err)
	}
	return nil
}

// onConnect runs on every (re)connect: resubscribe and report.
func (t *Transport) onConnect(client pahomqtt.Client) {
	t.mu.Lock()
	channels := make([]string, 0, len(t.subscriptions))
	for ch := range t.subscriptions {
		channels = append(channels, ch)
	}
	first := !t.everConnected
	t.everConnected = true
	t.mu.Unlock()

	for _, ch := range channels {
		if err := t.subscribeTopic(client, ch); err != nil {
			t.log.Error("mqtt: resubscribe failed", "channel", ch, "error", err)
		}
	}

	cat := transport.StatusReconnected
	if first {
		cat = transport.StatusConnected
	}
	if len(channels) > 0 {
		t.report(transport.Status{Category: cat})
	}
}

func (t *Transport) onConnectionLost(_ pahomqtt.Client, err error) {
	t.log.Warn("mqtt: connection lost", "error", err)
	cat := transport.StatusUnsubscribed
	if errors.Is(err, packets.ErrorRefusedNotAuthorised) || errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) {
		cat = transport.StatusAccessDenied
	}
	t.report(transport.Status{Category: cat, Err: err})
}

func (t *Transport) subscribeTopic(client pahomqtt.Client, channel string) error {
	token := client.Subscribe(channel, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		t.mu.Lock()
		onMessage := t.handlers.OnMessage
		t.mu.Unlock()
		if onMessage != nil {
			onMessage(msg.Topic(), msg.Payload())
		}
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", channel, err)
	}
	return nil
}

func (t *Transport) report(st transport.Status) {
	t.mu.Lock()
	onStatus := t.handlers.OnStatus
	t.mu.Unlock()
	if onStatus != nil {
		onStatus(st)
	}
}
