// Package transport defines the narrow pub/sub capability the realtime
// channel manager drives. Implementations own connection establishment and
// their own reconnection policy; they report lifecycle changes and deliver
// raw messages through the registered handlers.
package transport

import (
	"context"
	"errors"
)

// StatusCategory classifies a transport lifecycle event.
type StatusCategory int

// Status categories.
const (
	// StatusConnected is reported when a subscription goes live.
	StatusConnected StatusCategory = iota
	// StatusReconnected is reported when the transport's own reconnection
	// policy restored a live subscription.
	StatusReconnected
	// StatusAccessDenied is reported when the broker rejected the current
	// auth key.
	StatusAccessDenied
	// StatusUnsubscribed is reported when a subscription ended, whether
	// requested or transport-initiated.
	StatusUnsubscribed
	// StatusError is a generic transport error that does not change the
	// subscription state.
	StatusError
)

func (c StatusCategory) String() string {
	switch c {
	case StatusConnected:
		return "connected"
	case StatusReconnected:
		return "reconnected"
	case StatusAccessDenied:
		return "access_denied"
	case StatusUnsubscribed:
		return "unsubscribed"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Status is one lifecycle event. Err is set for StatusError and may carry
// detail for other categories.
type Status struct {
	Category StatusCategory
	Err      error
}

// Handlers receive lifecycle events and inbound messages. Both callbacks are
// invoked sequentially in transport report order and must not block.
type Handlers struct {
	OnStatus  func(Status)
	OnMessage func(channel string, payload []byte)
}

// ErrHistoryUnsupported is returned by transports that keep no replayable
// message log.
var ErrHistoryUnsupported = errors.New("transport: history not supported")

// Transport is a pub/sub connection to the broker.
type Transport interface {
	// SetHandlers registers the event sinks. Must be called before the
	// first Subscribe.
	SetHandlers(h Handlers)

	// Subscribe starts a live subscription to channel. Lifecycle progress
	// is reported through the status handler.
	Subscribe(channel string) error

	// Unsubscribe ends the subscription to channel.
	Unsubscribe(channel string) error

	// Publish sends payload on channel and waits for the broker ack.
	Publish(ctx context.Context, channel string, payload []byte) error

	// History returns up to count past messages of channel, most recent
	// first, without establishing a live subscription.
	History(ctx context.Context, channel string, count int) ([][]byte, error)

	// SetAuthKey replaces the credential used for subsequent connection
	// attempts, so the transport's reconnection policy can succeed after
	// a refresh.
	SetAuthKey(key string)

	// Close tears the connection down.
	Close() error
}
