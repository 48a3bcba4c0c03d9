package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trymwestin/snoo/internal/core/auth"
	"github.com/trymwestin/snoo/internal/core/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorded captures the last request the test server saw.
type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   []byte
}

func newTestClient(t *testing.T, status int, response string) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.auth = r.Header.Get("Authorization")
		rec.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	session := auth.NewSession(srv.URL, nil, testLogger())
	session.SetToken(auth.Token{
		AccessToken:  "AT",
		RefreshToken: "RT",
		ExpiresAt:    time.Now().Add(time.Hour),
	})
	return New(session, testLogger()), rec
}

func TestGetMe(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK,
		`{"email":"a@b.com","givenName":"Ada","region":"US","surname":"L","userId":"u1"}`)

	u, err := c.GetMe(context.Background())
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, MePath, rec.path)
	assert.Equal(t, "Bearer AT", rec.auth)
	assert.Equal(t, "a@b.com", u.Email)
	assert.Equal(t, "u1", u.UserID)
}

func TestGetDevices(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK,
		`[{"serialNumber":"SN123","firmwareVersion":"v1.14.12","timezone":"America/New_York"}]`)

	devices, err := c.GetDevices(context.Background())
	require.NoError(t, err)

	assert.Equal(t, DevicesPath, rec.path)
	require.Len(t, devices, 1)
	assert.Equal(t, "SN123", devices[0].SerialNumber)
	assert.Equal(t, "v1.14.12", devices[0].FirmwareVersion)
}

func TestGetBaby(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK,
		`{"_id":"baby1","babyName":"Sam","settings":{"minimalLevel":"baseline"}}`)

	baby, err := c.GetBaby(context.Background())
	require.NoError(t, err)

	assert.Equal(t, BabyPath, rec.path)
	assert.Equal(t, "baby1", baby.Baby)
	assert.Equal(t, model.MinimalBaseline, baby.Settings.MinimalLevel)
}

func TestSetBabyInfoOmitsNilFields(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{"_id":"baby1","babyName":"Sam"}`)

	_, err := c.SetBabyInfo(context.Background(), "Sam", model.NewDate(2021, time.December, 5), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPatch, rec.method)
	assert.Equal(t, BabyPath, rec.path)

	var patch map[string]any
	require.NoError(t, json.Unmarshal(rec.body, &patch))
	assert.Equal(t, "Sam", patch["babyName"])
	assert.Equal(t, "2021-12-05", patch["birthDate"])
	assert.NotContains(t, patch, "preemie")
	assert.NotContains(t, patch, "sex")
}

func TestSetBabyInfoWithOptionalFields(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{"_id":"baby1"}`)

	preemie := 4
	sex := model.SexFemale
	_, err := c.SetBabyInfo(context.Background(), "Sam", model.NewDate(2021, time.December, 5), &preemie, &sex)
	require.NoError(t, err)

	var patch map[string]any
	require.NoError(t, json.Unmarshal(rec.body, &patch))
	assert.Equal(t, float64(4), patch["preemie"])
	assert.Equal(t, "Female", patch["sex"])
}

func TestSettingsSetters(t *testing.T) {
	tests := []struct {
		name string
		call func(c *Client) error
		want map[string]any
	}{
		{
			name: "minimal level",
			call: func(c *Client) error {
				_, err := c.SetMinimalLevel(context.Background(), model.MinimalLevel1)
				return err
			},
			want: map[string]any{"minimalLevel": "level1"},
		},
		{
			name: "minimal level volume",
			call: func(c *Client) error {
				_, err := c.SetMinimalLevelVolume(context.Background(), model.MinimalVolumeVeryHigh)
				return err
			},
			want: map[string]any{"minimalLevelVolume": "lvl+2"},
		},
		{
			name: "responsiveness",
			call: func(c *Client) error {
				_, err := c.SetResponsivenessLevel(context.Background(), model.ResponsivenessVeryLow)
				return err
			},
			want: map[string]any{"responsivenessLevel": "lvl-2"},
		},
		{
			name: "soothing volume",
			call: func(c *Client) error {
				_, err := c.SetSoothingLevelVolume(context.Background(), model.SoothingVolumeNormal)
				return err
			},
			want: map[string]any{"soothingLevelVolume": "lvl0"},
		},
		{
			name: "motion limiter",
			call: func(c *Client) error {
				_, err := c.SetMotionLimiter(context.Background(), true)
				return err
			},
			want: map[string]any{"motionLimiter": true},
		},
		{
			name: "weaning",
			call: func(c *Client) error {
				_, err := c.SetWeaning(context.Background(), false)
				return err
			},
			want: map[string]any{"weaning": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newTestClient(t, http.StatusOK, `{"_id":"baby1"}`)
			require.NoError(t, tt.call(c))

			assert.Equal(t, http.MethodPatch, rec.method)
			assert.Equal(t, BabyPath, rec.path)

			var patch map[string]map[string]any
			require.NoError(t, json.Unmarshal(rec.body, &patch))
			assert.Equal(t, tt.want, patch["settings"])
		})
	}
}

func TestGetLastSession(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK,
		`{"startTime":"2021-02-01T20:00:00.000Z","levels":[{"level":"BASELINE"}]}`)

	s, err := c.GetLastSession(context.Background())
	require.NoError(t, err)

	assert.Equal(t, LastSessionPath, rec.path)
	assert.Equal(t, []model.SessionLevel{model.LevelBaseline}, s.Levels)
}

func TestGetAggregatedSession(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{"naps":2,"totalSleep":32400}`)

	start := time.Date(2021, 2, 1, 7, 0, 0, 0, time.UTC)
	s, err := c.GetAggregatedSession(context.Background(), start)
	require.NoError(t, err)

	assert.Equal(t, AggregatedPath, rec.path)
	assert.Equal(t, "startTime=2021-02-01+07%3A00%3A00", rec.query)
	assert.Equal(t, 2, s.Naps)
}

func TestGetAggregatedSessionAvg(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{"totalSleepAVG":30000}`)

	start := time.Date(2021, 2, 1, 7, 0, 0, 0, time.UTC)
	s, err := c.GetAggregatedSessionAvg(context.Background(), "baby1", start, IntervalWeek, true)
	require.NoError(t, err)

	assert.Equal(t, "/ss/v2/babies/baby1/sessions/aggregated/avg/", rec.path)
	assert.Contains(t, rec.query, "interval=week")
	assert.Contains(t, rec.query, "days=true")
	assert.Equal(t, 30000*time.Second, s.TotalSleepAvg.Duration())
}

func TestGetSessionTotalTime(t *testing.T) {
	c, rec := newTestClient(t, http.StatusOK, `{"totalTime":123}`)

	d, err := c.GetSessionTotalTime(context.Background(), "baby1")
	require.NoError(t, err)

	assert.Equal(t, "/ss/v2/babies/baby1/sessions/total-time/", rec.path)
	assert.Equal(t, 123*time.Second, d)
}

func TestNon2xxReturnsAPIError(t *testing.T) {
	c, _ := newTestClient(t, http.StatusNotFound, `{"message":"no session"}`)

	_, err := c.GetLastSession(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "no session")
}
