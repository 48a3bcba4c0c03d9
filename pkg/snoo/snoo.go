// Package snoo provides a public facade re-exporting core types
// for external consumers of this module.
package snoo

import (
	"github.com/trymwestin/snoo/internal/core/auth"
	"github.com/trymwestin/snoo/internal/core/client"
	"github.com/trymwestin/snoo/internal/core/model"
	"github.com/trymwestin/snoo/internal/core/realtime"
	"github.com/trymwestin/snoo/internal/transport"
)

// Re-export core types for external use.
type (
	// Token holds authentication credentials.
	Token = auth.Token
	// Session manages login, refresh and authenticated requests.
	Session = auth.Session
	// TokenUpdater receives every committed token for persistence.
	TokenUpdater = auth.TokenUpdater
	// AuthError is a login or refresh rejection.
	AuthError = auth.AuthError
	// Client calls the provider's REST resources.
	Client = client.Client
	// APIError is a non-2xx REST response.
	APIError = client.APIError
	// User is the account holder profile.
	User = model.User
	// Device is a registered bassinet.
	Device = model.Device
	// Baby is the baby profile with device settings.
	Baby = model.Baby
	// Settings holds the device behavior settings.
	Settings = model.Settings
	// LastSession describes the most recent sleep session.
	LastSession = model.LastSession
	// AggregatedSession is a day's worth of session history.
	AggregatedSession = model.AggregatedSession
	// ActivityState is one realtime device status report.
	ActivityState = model.ActivityState
	// StateMachine is the device session state portion of a report.
	StateMachine = model.StateMachine
	// SessionLevel is a motion/soothing level.
	SessionLevel = model.SessionLevel
	// EventType classifies a realtime report.
	EventType = model.EventType
	// Manager drives pub/sub channels for one device.
	Manager = realtime.Manager
	// ConnectionState is the realtime connection snapshot.
	ConnectionState = realtime.ConnectionState
	// Handle identifies a registered listener.
	Handle = realtime.Handle
	// Transport is the pluggable pub/sub layer under the Manager.
	Transport = transport.Transport
)

// Session level constants.
const (
	LevelOnline          = model.LevelOnline
	LevelBaseline        = model.LevelBaseline
	LevelWeaningBaseline = model.LevelWeaningBaseline
	Level1               = model.Level1
	Level2               = model.Level2
	Level3               = model.Level3
	Level4               = model.Level4
	LevelNone            = model.LevelNone
	LevelPretimeout      = model.LevelPretimeout
	LevelTimeout         = model.LevelTimeout
)

// Realtime event type constants.
const (
	EventActivity                = model.EventActivity
	EventCry                     = model.EventCry
	EventTimer                   = model.EventTimer
	EventCommand                 = model.EventCommand
	EventSafetyClip              = model.EventSafetyClip
	EventStickyWhiteNoiseUpdated = model.EventStickyWhiteNoiseUpdated
	EventLongActivityPress       = model.EventLongActivityPress
	EventStatusRequested         = model.EventStatusRequested
	EventRestart                 = model.EventRestart
	EventUnknown                 = model.EventUnknown
)
