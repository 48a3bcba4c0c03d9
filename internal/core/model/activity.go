package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType classifies a real-time activity message.
type EventType string

// Event types.
const (
	EventUnknown                 EventType = "unknown"
	EventActivity                EventType = "activity"
	EventCry                     EventType = "cry"
	EventTimer                   EventType = "timer"
	EventCommand                 EventType = "command"
	EventSafetyClip              EventType = "safety_clip"
	EventStickyWhiteNoiseUpdated EventType = "sticky_white_noise_updated"
	EventLongActivityPress       EventType = "long_activity_press"
	EventStatusRequested         EventType = "status_requested"
	EventRestart                 EventType = "restart"
)

// ParseEventType maps a wire event string to an EventType. Strings the
// device firmware introduced after this code was written decode to
// EventUnknown instead of failing.
func ParseEventType(s string) EventType {
	switch EventType(s) {
	case EventActivity, EventCry, EventTimer, EventCommand, EventSafetyClip,
		EventStickyWhiteNoiseUpdated, EventLongActivityPress,
		EventStatusRequested, EventRestart:
		return EventType(s)
	}
	return EventUnknown
}

// Signal holds the device radio signal report.
type Signal struct {
	RSSI     int `json:"rssi"`
	Strength int `json:"strength"`
}

// StateMachine is the device's soothing state machine snapshot carried in
// every ActivityState message.
type StateMachine struct {
	UpTransition      SessionLevel
	DownTransition    SessionLevel
	State             SessionLevel
	SessionID         string
	IsActiveSession   bool
	SinceSessionStart time.Duration // negative when no session is running
	TimeLeft          time.Duration // negative when no timer is running
	StickyWhiteNoise  bool
	Weaning           bool
	Hold              bool
	Audio             bool
}

// ActivityState is one decoded real-time telemetry message.
type ActivityState struct {
	LeftSafetyClip  bool
	RightSafetyClip bool
	RxSignal        Signal
	SwVersion       string
	EventTime       time.Time
	StateMachine    StateMachine
	SystemState     string
	Event           EventType
}

// The wire encoding uses "on"/"off" and "true"/"false" string flags,
// millisecond epoch timestamps, and 0/1 integers for the safety clips.

type stateMachineWire struct {
	UpTransition        string `json:"up_transition"`
	SinceSessionStartMS int64  `json:"since_session_start_ms"`
	StickyWhiteNoise    string `json:"sticky_white_noise"`
	Weaning             string `json:"weaning"`
	TimeLeft            int64  `json:"time_left"`
	SessionID           string `json:"session_id"`
	State               string `json:"state"`
	IsActiveSession     string `json:"is_active_session"`
	DownTransition      string `json:"down_transition"`
	Hold                string `json:"hold"`
	Audio               string `json:"audio"`
}

type activityStateWire struct {
	LeftSafetyClip  int              `json:"left_safety_clip"`
	RxSignal        Signal           `json:"rx_signal"`
	RightSafetyClip int              `json:"right_safety_clip"`
	SwVersion       string           `json:"sw_version"`
	EventTimeMS     int64            `json:"event_time_ms"`
	StateMachine    stateMachineWire `json:"state_machine"`
	SystemState     string           `json:"system_state"`
	Event           string           `json:"event"`
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func trueFalse(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func clipFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func levelOrNone(s string) SessionLevel {
	if s == "" {
		return LevelNone
	}
	return SessionLevel(s)
}

// UnmarshalJSON decodes a wire ActivityState message.
func (a *ActivityState) UnmarshalJSON(data []byte) error {
	var w activityStateWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("model: activity state: %w", err)
	}

	sm := StateMachine{
		UpTransition:     levelOrNone(w.StateMachine.UpTransition),
		DownTransition:   levelOrNone(w.StateMachine.DownTransition),
		State:            levelOrNone(w.StateMachine.State),
		SessionID:        w.StateMachine.SessionID,
		IsActiveSession:  w.StateMachine.IsActiveSession == "true",
		StickyWhiteNoise: w.StateMachine.StickyWhiteNoise == "on",
		Weaning:          w.StateMachine.Weaning == "on",
		Hold:             w.StateMachine.Hold == "on",
		Audio:            w.StateMachine.Audio == "on",
	}
	if w.StateMachine.SinceSessionStartMS >= 0 {
		sm.SinceSessionStart = time.Duration(w.StateMachine.SinceSessionStartMS) * time.Millisecond
	} else {
		sm.SinceSessionStart = -1
	}
	if w.StateMachine.TimeLeft >= 0 {
		sm.TimeLeft = time.Duration(w.StateMachine.TimeLeft) * time.Second
	} else {
		sm.TimeLeft = -1
	}

	*a = ActivityState{
		LeftSafetyClip:  w.LeftSafetyClip != 0,
		RightSafetyClip: w.RightSafetyClip != 0,
		RxSignal:        w.RxSignal,
		SwVersion:       w.SwVersion,
		EventTime:       time.UnixMilli(w.EventTimeMS).UTC(),
		StateMachine:    sm,
		SystemState:     w.SystemState,
		Event:           ParseEventType(w.Event),
	}
	return nil
}

// MarshalJSON re-encodes to the wire representation. Unset durations
// normalize to -1.
func (a ActivityState) MarshalJSON() ([]byte, error) {
	sm := stateMachineWire{
		UpTransition:     string(a.StateMachine.UpTransition),
		DownTransition:   string(a.StateMachine.DownTransition),
		State:            string(a.StateMachine.State),
		SessionID:        a.StateMachine.SessionID,
		IsActiveSession:  trueFalse(a.StateMachine.IsActiveSession),
		StickyWhiteNoise: onOff(a.StateMachine.StickyWhiteNoise),
		Weaning:          onOff(a.StateMachine.Weaning),
		Hold:             onOff(a.StateMachine.Hold),
		Audio:            onOff(a.StateMachine.Audio),
	}
	if a.StateMachine.SinceSessionStart >= 0 {
		sm.SinceSessionStartMS = a.StateMachine.SinceSessionStart.Milliseconds()
	} else {
		sm.SinceSessionStartMS = -1
	}
	if a.StateMachine.TimeLeft >= 0 {
		sm.TimeLeft = int64(a.StateMachine.TimeLeft / time.Second)
	} else {
		sm.TimeLeft = -1
	}

	return json.Marshal(activityStateWire{
		LeftSafetyClip:  clipFlag(a.LeftSafetyClip),
		RxSignal:        a.RxSignal,
		RightSafetyClip: clipFlag(a.RightSafetyClip),
		SwVersion:       a.SwVersion,
		EventTimeMS:     a.EventTime.UnixMilli(),
		StateMachine:    sm,
		SystemState:     a.SystemState,
		Event:           string(a.Event),
	})
}
