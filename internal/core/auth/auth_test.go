package auth

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeToken(w http.ResponseWriter, access, refresh string, expiresIn int64) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    expiresIn,
		"scope":         "read write",
	})
}

func TestLoginCommitsToken(t *testing.T) {
	var gotBody map[string]string
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, LoginPath, r.URL.Path)
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		writeToken(w, "AT1", "RT1", 3600)
	}))
	defer srv.Close()

	s := NewSession(srv.URL, nil, testLogger())
	require.False(t, s.Authorized())

	tok, err := s.Login(context.Background(), "user@example.com", "hunter2")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"grant_type": "password",
		"username":   "user@example.com",
		"password":   "hunter2",
	}, gotBody)
	assert.Equal(t, "application/json", gotHeaders.Get("Accept"))
	assert.Equal(t, "application/json;charset=UTF-8", gotHeaders.Get("Content-Type"))
	assert.Equal(t, "okhttp/4.7.2", gotHeaders.Get("User-Agent"))

	assert.Equal(t, "AT1", tok.AccessToken)
	assert.Equal(t, "RT1", tok.RefreshToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, []string{"read", "write"}, tok.Scope)
	assert.WithinDuration(t, time.Now().Add(3600*time.Second), tok.ExpiresAt, 5*time.Second)

	assert.True(t, s.Authorized())
	held, ok := s.CurrentToken()
	require.True(t, ok)
	assert.Equal(t, tok, held)
}

func TestExpiredTokenRefreshedBeforeRequest(t *testing.T) {
	var refreshCalls atomic.Int64
	var refreshBody map[string]string

	mux := http.NewServeMux()
	mux.HandleFunc(LoginPath, func(w http.ResponseWriter, r *http.Request) {
		// Already expired on arrival.
		writeToken(w, "AT1", "RT1", -10)
	})
	mux.HandleFunc(RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&refreshBody))
		writeToken(w, "AT2", "RT2", 3600)
	})
	mux.HandleFunc("/us/me/", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer AT2", r.Header.Get("Authorization"))
		w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSession(srv.URL, nil, testLogger())
	_, err := s.Login(context.Background(), "u", "p")
	require.NoError(t, err)

	resp, err := s.Do(context.Background(), http.MethodGet, "/us/me/", nil)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, int64(1), refreshCalls.Load())
	assert.Equal(t, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": "RT1",
	}, refreshBody)

	tok, ok := s.CurrentToken()
	require.True(t, ok)
	assert.Equal(t, "AT2", tok.AccessToken)
	assert.Equal(t, "RT2", tok.RefreshToken)
}

func TestConcurrentRefreshCoalesces(t *testing.T) {
	var refreshCalls atomic.Int64

	mux := http.NewServeMux()
	mux.HandleFunc(RefreshPath, func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		time.Sleep(100 * time.Millisecond)
		writeToken(w, "AT2", "RT2", 3600)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := NewSession(srv.URL, nil, testLogger())
	s.SetToken(Token{
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		ExpiresAt:    time.Now().Add(-time.Minute),
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := s.ValidToken(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "AT2", tok.AccessToken)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), refreshCalls.Load())
}

func TestLoginRejectionReturnsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"bad credentials"}`))
	}))
	defer srv.Close()

	s := NewSession(srv.URL, nil, testLogger())
	_, err := s.Login(context.Background(), "u", "wrong")
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusBadRequest, authErr.StatusCode)
	assert.Equal(t, "invalid_grant", authErr.Code)
	assert.Equal(t, "bad credentials", authErr.Description)

	assert.False(t, s.Authorized())
}

func TestUpdaterReceivesCommittedTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeToken(w, "AT1", "RT1", 3600)
	}))
	defer srv.Close()

	var updates []Token
	updater := func(tok Token, raw json.RawMessage) {
		updates = append(updates, tok)
		assert.Contains(t, string(raw), "AT1")
	}

	s := NewSession(srv.URL, updater, testLogger())
	_, err := s.Login(context.Background(), "u", "p")
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, "AT1", updates[0].AccessToken)

	// Seeding from persisted credentials must not re-persist.
	s.SetToken(updates[0])
	assert.Len(t, updates, 1)
}

func TestForceRefreshWithoutRefreshToken(t *testing.T) {
	s := NewSession("https://example.com", nil, testLogger())
	s.SetToken(Token{AccessToken: "AT1", ExpiresAt: time.Now().Add(-time.Minute)})

	_, err := s.ForceRefresh(context.Background())
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidTokenWithoutLogin(t *testing.T) {
	s := NewSession("https://example.com", nil, testLogger())
	_, err := s.ValidToken(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestInsecureTransportRejected(t *testing.T) {
	s := NewSession("http://snoo-api.example.com", nil, testLogger())
	_, err := s.Login(context.Background(), "u", "p")
	require.Error(t, err)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "insecure_transport", authErr.Code)
}

func TestTokenExpiryMargin(t *testing.T) {
	now := time.Now()

	assert.True(t, Token{ExpiresAt: now.Add(-time.Minute)}.Expired(now))
	assert.True(t, Token{ExpiresAt: now.Add(10 * time.Second)}.Expired(now), "inside the early-expiry margin")
	assert.False(t, Token{ExpiresAt: now.Add(time.Minute)}.Expired(now))
}
