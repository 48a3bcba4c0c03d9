// Package model holds the typed resources exposed by the Happiest Baby API
// and the codec for real-time ActivityState messages.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Seconds is a duration carried on the wire as a whole number of seconds.
type Seconds time.Duration

// Duration returns the value as a time.Duration.
func (s Seconds) Duration() time.Duration { return time.Duration(s) }

// UnmarshalJSON decodes a numeric seconds value.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("model: seconds: %w", err)
	}
	*s = Seconds(time.Duration(v * float64(time.Second)))
	return nil
}

// MarshalJSON encodes the duration back to whole seconds.
func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(time.Duration(s) / time.Second))
}

// Date is a calendar date. The API sends either a plain date ("2021-12-05")
// or a full ISO-8601 timestamp; only the date part is kept.
type Date struct {
	time.Time
}

// NewDate builds a Date from year, month and day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// UnmarshalJSON accepts "2006-01-02" or RFC 3339.
func (d *Date) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("model: date: %w", err)
	}
	if raw == "" {
		d.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return fmt.Errorf("model: date %q: %w", raw, err)
	}
	d.Time = t.UTC().Truncate(24 * time.Hour)
	return nil
}

// MarshalJSON encodes the date part only.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format("2006-01-02"))
}

// User holds the account information returned by GET /us/me/.
type User struct {
	Email     string `json:"email"`
	GivenName string `json:"givenName"`
	Region    string `json:"region"`
	Surname   string `json:"surname"`
	UserID    string `json:"userId"`
}

// SSID names the wireless network a device last joined.
type SSID struct {
	Name      string    `json:"name"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Device holds one Snoo device record from GET /ds/me/devices/.
type Device struct {
	Baby                 string    `json:"baby"`
	CreatedAt            time.Time `json:"createdAt"`
	FirmwareUpdateDate   time.Time `json:"firmwareUpdateDate"`
	FirmwareVersion      string    `json:"firmwareVersion"`
	LastProvisionSuccess time.Time `json:"lastProvisionSuccess"`
	LastSSID             SSID      `json:"lastSSID"`
	SerialNumber         string    `json:"serialNumber"`
	Timezone             string    `json:"timezone"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Picture is a baby profile picture reference.
type Picture struct {
	ID        string    `json:"id"`
	Mime      string    `json:"mime"`
	Encoded   bool      `json:"encoded"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ResponsivenessLevel is the device motion responsiveness setting.
type ResponsivenessLevel string

// Responsiveness levels.
const (
	ResponsivenessVeryLow  ResponsivenessLevel = "lvl-2"
	ResponsivenessLow      ResponsivenessLevel = "lvl-1"
	ResponsivenessNormal   ResponsivenessLevel = "lvl0"
	ResponsivenessHigh     ResponsivenessLevel = "lvl+1"
	ResponsivenessVeryHigh ResponsivenessLevel = "lvl+2"
)

// MinimalLevelVolume is the white-noise volume at the minimal level.
type MinimalLevelVolume string

// Minimal level volumes.
const (
	MinimalVolumeVeryLow  MinimalLevelVolume = "lvl-2"
	MinimalVolumeLow      MinimalLevelVolume = "lvl-1"
	MinimalVolumeNormal   MinimalLevelVolume = "lvl0"
	MinimalVolumeHigh     MinimalLevelVolume = "lvl+1"
	MinimalVolumeVeryHigh MinimalLevelVolume = "lvl+2"
)

// SoothingLevelVolume is the white-noise volume at soothing levels.
type SoothingLevelVolume string

// Soothing level volumes.
const (
	SoothingVolumeNormal   SoothingLevelVolume = "lvl0"
	SoothingVolumeHigh     SoothingLevelVolume = "lvl+1"
	SoothingVolumeVeryHigh SoothingLevelVolume = "lvl+2"
)

// MinimalLevel is the lowest level the device settles back to.
type MinimalLevel string

// Minimal levels.
const (
	MinimalBaseline MinimalLevel = "baseline"
	MinimalLevel1   MinimalLevel = "level1"
	MinimalLevel2   MinimalLevel = "level2"
)

// Sex of the baby as stored by the API.
type Sex string

// Sexes.
const (
	SexMale   Sex = "Male"
	SexFemale Sex = "Female"
)

// Settings holds the per-baby device settings.
type Settings struct {
	ResponsivenessLevel     ResponsivenessLevel `json:"responsivenessLevel"`
	MinimalLevelVolume      MinimalLevelVolume  `json:"minimalLevelVolume"`
	SoothingLevelVolume     SoothingLevelVolume `json:"soothingLevelVolume"`
	MinimalLevel            MinimalLevel        `json:"minimalLevel"`
	MotionLimiter           bool                `json:"motionLimiter"`
	Weaning                 bool                `json:"weaning"`
	CarRideMode             bool                `json:"carRideMode"`
	OfflineLock             bool                `json:"offlineLock"`
	DaytimeStart            int                 `json:"daytimeStart"`
	StickyWhiteNoiseTimeout int                 `json:"stickyWhiteNoiseTimeout"`
}

// Baby holds the baby profile from GET /us/v3/me/baby/.
type Baby struct {
	Baby            string    `json:"_id"`
	BabyName        string    `json:"babyName"`
	BirthDate       Date      `json:"birthDate"`
	CreatedAt       time.Time `json:"createdAt"`
	DisabledLimiter bool      `json:"disabledLimiter"`
	Pictures        []Picture `json:"pictures"`
	Preemie         *int      `json:"preemie"`
	Settings        Settings  `json:"settings"`
	Sex             *Sex      `json:"sex"`
	UpdatedAt       time.Time `json:"updatedAt"`
	UpdatedByUserAt time.Time `json:"updatedByUserAt"`
}

// SessionLevel is a soothing level reported in session data and the
// real-time state machine.
type SessionLevel string

// Session levels.
const (
	LevelOnline          SessionLevel = "ONLINE"
	LevelBaseline        SessionLevel = "BASELINE"
	LevelWeaningBaseline SessionLevel = "WEANING_BASELINE"
	Level1               SessionLevel = "LEVEL1"
	Level2               SessionLevel = "LEVEL2"
	Level3               SessionLevel = "LEVEL3"
	Level4               SessionLevel = "LEVEL4"
	LevelNone            SessionLevel = "NONE"
	LevelPretimeout      SessionLevel = "PRETIMEOUT"
	LevelTimeout         SessionLevel = "TIMEOUT"
)

// IsActiveLevel reports whether the level represents an active soothing
// session level.
func (l SessionLevel) IsActiveLevel() bool {
	switch l {
	case LevelBaseline, LevelWeaningBaseline, Level1, Level2, Level3, Level4:
		return true
	}
	return false
}

// SessionItemType classifies a slice of a sleep session.
type SessionItemType string

// Session item types.
const (
	ItemAsleep   SessionItemType = "asleep"
	ItemSoothing SessionItemType = "soothing"
	ItemAwake    SessionItemType = "awake"
)

// LastSession holds the most recent sleep session from
// GET /ss/v2/sessions/last/.
type LastSession struct {
	StartTime time.Time
	EndTime   time.Time
	Levels    []SessionLevel
}

type lastSessionWire struct {
	StartTime *time.Time `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	Levels    []struct {
		Level SessionLevel `json:"level"`
	} `json:"levels"`
}

// UnmarshalJSON decodes the nested {"level": ...} list the API returns.
func (s *LastSession) UnmarshalJSON(data []byte) error {
	var w lastSessionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("model: last session: %w", err)
	}
	*s = LastSession{}
	if w.StartTime != nil {
		s.StartTime = *w.StartTime
	}
	if w.EndTime != nil {
		s.EndTime = *w.EndTime
	}
	for _, l := range w.Levels {
		s.Levels = append(s.Levels, l.Level)
	}
	return nil
}

// CurrentStatus derives the present state from the session record: a session
// with an end time is awake, one resting at a baseline level is asleep,
// anything else is soothing.
func (s LastSession) CurrentStatus() SessionItemType {
	if !s.EndTime.IsZero() {
		return ItemAwake
	}
	if n := len(s.Levels); n > 0 {
		switch s.Levels[n-1] {
		case LevelBaseline, LevelWeaningBaseline:
			return ItemAsleep
		}
	}
	return ItemSoothing
}

// CurrentStatusDuration returns how long the current status has lasted,
// measured from now.
func (s LastSession) CurrentStatusDuration(now time.Time) time.Duration {
	if !s.EndTime.IsZero() {
		return now.Sub(s.EndTime)
	}
	return now.Sub(s.StartTime)
}

// AggregatedTime is the timestamp format used inside aggregated session
// items ("2006-01-02 15:04:05.000000", no zone).
type AggregatedTime struct {
	time.Time
}

const aggregatedTimeLayout = "2006-01-02 15:04:05.000000"

// UnmarshalJSON decodes the aggregated-session timestamp layout.
func (t *AggregatedTime) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("model: aggregated time: %w", err)
	}
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	parsed, err := time.Parse(aggregatedTimeLayout, raw)
	if err != nil {
		return fmt.Errorf("model: aggregated time %q: %w", raw, err)
	}
	t.Time = parsed
	return nil
}

// MarshalJSON encodes back to the aggregated-session layout.
func (t AggregatedTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(aggregatedTimeLayout))
}

// AggregatedSessionItem is one slice of an aggregated session.
type AggregatedSessionItem struct {
	IsActive      bool            `json:"isActive"`
	SessionID     string          `json:"sessionId"`
	StartTime     AggregatedTime  `json:"startTime"`
	StateDuration Seconds         `json:"stateDuration"`
	Type          SessionItemType `json:"type"`
}

// AggregatedSession holds a day's sleep aggregation from
// GET /ss/v2/sessions/aggregated/.
type AggregatedSession struct {
	DaySleep     Seconds                 `json:"daySleep"`
	Levels       []AggregatedSessionItem `json:"levels"`
	LongestSleep Seconds                 `json:"longestSleep"`
	Naps         int                     `json:"naps"`
	NightSleep   Seconds                 `json:"nightSleep"`
	NightWakings int                     `json:"nightWakings"`
	Timezone     string                  `json:"timezone"`
	TotalSleep   Seconds                 `json:"totalSleep"`
}

// AggregatedDays holds the per-day series behind an average.
type AggregatedDays struct {
	TotalSleep   []Seconds `json:"totalSleep"`
	DaySleep     []Seconds `json:"daySleep"`
	NightSleep   []Seconds `json:"nightSleep"`
	LongestSleep []Seconds `json:"longestSleep"`
	NightWakings []int     `json:"nightWakings"`
}

// AggregatedSessionAvg holds averaged sleep numbers from
// GET /ss/v2/babies/{id}/sessions/aggregated/avg/.
type AggregatedSessionAvg struct {
	TotalSleepAvg   Seconds         `json:"totalSleepAVG"`
	DaySleepAvg     Seconds         `json:"daySleepAVG"`
	NightSleepAvg   Seconds         `json:"nightSleepAVG"`
	LongestSleepAvg Seconds         `json:"longestSleepAVG"`
	NightWakingsAvg float64         `json:"nightWakingsAVG"`
	Days            *AggregatedDays `json:"days"`
}

// TotalTime holds the response of
// GET /ss/v2/babies/{id}/sessions/total-time/.
type TotalTime struct {
	TotalTime Seconds `json:"totalTime"`
}
