package realtime

import "github.com/trymwestin/snoo/internal/transport"

// ConnectionState is the snapshot handed to connection listeners.
// CredentialRefreshRequired is a one-shot signal set only on the transition
// into Disconnected caused by a credential rejection.
type ConnectionState struct {
	IsConnected               bool
	CredentialRefreshRequired bool
}

// stateMachine folds transport status categories into connection flips.
// Pure logic, no I/O; the manager serializes access.
type stateMachine struct {
	connected bool
}

// apply consumes one status category and returns the resulting state plus
// whether IsConnected actually flipped. Repeated "connected" reports while
// connected (and the mirror case) do not flip.
func (m *stateMachine) apply(cat transport.StatusCategory) (ConnectionState, bool) {
	was := m.connected
	refresh := false

	switch cat {
	case transport.StatusConnected, transport.StatusReconnected:
		m.connected = true
	case transport.StatusAccessDenied:
		m.connected = false
		refresh = was
	case transport.StatusUnsubscribed:
		m.connected = false
	}

	return ConnectionState{
		IsConnected:               m.connected,
		CredentialRefreshRequired: refresh,
	}, m.connected != was
}
