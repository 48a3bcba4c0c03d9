// Package client implements the typed resource calls of the Happiest Baby
// REST API on top of an authenticated session.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/trymwestin/snoo/internal/core/auth"
	"github.com/trymwestin/snoo/internal/core/model"
)

// Resource paths, relative to the session's base URL.
const (
	MePath          = "/us/me/"
	DevicesPath     = "/ds/me/devices/"
	BabyPath        = "/us/v3/me/baby/"
	LastSessionPath = "/ss/v2/sessions/last/"
	AggregatedPath  = "/ss/v2/sessions/aggregated/"
)

const aggregatedStartLayout = "2006-01-02 15:04:05"

// APIError is a non-2xx response from a resource endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("client: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client performs typed request/response calls through an auth.Session.
type Client struct {
	session *auth.Session
	log     *slog.Logger
}

// New creates a resource client on top of session.
func New(session *auth.Session, log *slog.Logger) *Client {
	return &Client{session: session, log: log}
}

// GetMe returns the account of the authenticated user.
func (c *Client) GetMe(ctx context.Context) (model.User, error) {
	var u model.User
	err := c.getJSON(ctx, MePath, &u)
	return u, err
}

// GetDevices returns all devices registered to the account.
func (c *Client) GetDevices(ctx context.Context) ([]model.Device, error) {
	var ds []model.Device
	err := c.getJSON(ctx, DevicesPath, &ds)
	return ds, err
}

// GetBaby returns the baby profile, including device settings.
func (c *Client) GetBaby(ctx context.Context) (model.Baby, error) {
	var b model.Baby
	err := c.getJSON(ctx, BabyPath, &b)
	return b, err
}

// SetBabyInfo updates the baby profile fields. Nil preemie/sex are omitted
// from the patch.
func (c *Client) SetBabyInfo(ctx context.Context, name string, birthDate model.Date, preemie *int, sex *model.Sex) (model.Baby, error) {
	patch := map[string]any{
		"babyName":  name,
		"birthDate": birthDate,
	}
	if preemie != nil {
		patch["preemie"] = *preemie
	}
	if sex != nil {
		patch["sex"] = *sex
	}
	return c.patchBaby(ctx, patch)
}

// SetMinimalLevel updates the minimal level setting.
func (c *Client) SetMinimalLevel(ctx context.Context, level model.MinimalLevel) (model.Baby, error) {
	return c.patchSettings(ctx, map[string]any{"minimalLevel": level})
}

// SetMinimalLevelVolume updates the minimal level white-noise volume.
func (c *Client) SetMinimalLevelVolume(ctx context.Context, volume model.MinimalLevelVolume) (model.Baby, error) {
	return c.patchSettings(ctx, map[string]any{"minimalLevelVolume": volume})
}

// SetResponsivenessLevel updates the motion responsiveness setting.
func (c *Client) SetResponsivenessLevel(ctx context.Context, level model.ResponsivenessLevel) (model.Baby, error) {
	return c.patchSettings(ctx, map[string]any{"responsivenessLevel": level})
}

// SetSoothingLevelVolume updates the soothing level white-noise volume.
func (c *Client) SetSoothingLevelVolume(ctx context.Context, volume model.SoothingLevelVolume) (model.Baby, error) {
	return c.patchSettings(ctx, map[string]any{"soothingLevelVolume": volume})
}

// SetMotionLimiter toggles the motion limiter.
func (c *Client) SetMotionLimiter(ctx context.Context, on bool) (model.Baby, error) {
	return c.patchSettings(ctx, map[string]any{"motionLimiter": on})
}

// SetWeaning toggles weaning mode.
func (c *Client) SetWeaning(ctx context.Context, on bool) (model.Baby, error) {
	return c.patchSettings(ctx, map[string]any{"weaning": on})
}

// GetLastSession returns the most recent sleep session.
func (c *Client) GetLastSession(ctx context.Context) (model.LastSession, error) {
	var s model.LastSession
	err := c.getJSON(ctx, LastSessionPath, &s)
	return s, err
}

// GetAggregatedSession returns the aggregated sleep data for the day
// starting at startTime.
func (c *Client) GetAggregatedSession(ctx context.Context, startTime time.Time) (model.AggregatedSession, error) {
	var s model.AggregatedSession
	q := url.Values{"startTime": {startTime.Format(aggregatedStartLayout)}}
	err := c.getJSON(ctx, AggregatedPath+"?"+q.Encode(), &s)
	return s, err
}

// AggregatedInterval selects the averaging window.
type AggregatedInterval string

// Averaging windows.
const (
	IntervalWeek  AggregatedInterval = "week"
	IntervalMonth AggregatedInterval = "month"
)

// GetAggregatedSessionAvg returns averaged sleep data for the baby over the
// interval starting at startTime. includeDays also requests the per-day
// series.
func (c *Client) GetAggregatedSessionAvg(ctx context.Context, babyID string, startTime time.Time, interval AggregatedInterval, includeDays bool) (model.AggregatedSessionAvg, error) {
	var s model.AggregatedSessionAvg
	q := url.Values{
		"startTime": {startTime.Format(aggregatedStartLayout)},
		"interval":  {string(interval)},
		"days":      {fmt.Sprintf("%t", includeDays)},
	}
	path := fmt.Sprintf("/ss/v2/babies/%s/sessions/aggregated/avg/", babyID)
	err := c.getJSON(ctx, path+"?"+q.Encode(), &s)
	return s, err
}

// GetSessionTotalTime returns the total soothing time for the baby.
func (c *Client) GetSessionTotalTime(ctx context.Context, babyID string) (time.Duration, error) {
	var t model.TotalTime
	path := fmt.Sprintf("/ss/v2/babies/%s/sessions/total-time/", babyID)
	if err := c.getJSON(ctx, path, &t); err != nil {
		return 0, err
	}
	return t.TotalTime.Duration(), nil
}

func (c *Client) patchSettings(ctx context.Context, settings map[string]any) (model.Baby, error) {
	return c.patchBaby(ctx, map[string]any{"settings": settings})
}

func (c *Client) patchBaby(ctx context.Context, patch map[string]any) (model.Baby, error) {
	var b model.Baby
	err := c.doJSON(ctx, http.MethodPatch, BabyPath, patch, &b)
	return b, err
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.session.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("client: decode %s: %w", path, err)
	}
	return nil
}
