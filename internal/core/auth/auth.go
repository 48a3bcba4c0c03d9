// Package auth manages the OAuth2 bearer token for the Happiest Baby API:
// password-grant login, lazy expiry detection, refresh-grant renewal and a
// persistence callback, layered onto plain HTTP requests so callers never
// deal with credentials themselves.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// API constants. The vendor endpoint deviates from form-encoded OAuth2: both
// grants take a JSON body with a JSON content type.
const (
	DefaultBaseURL = "https://snoo-api.happiestbaby.com"
	ClientID       = "snoo_client"

	LoginPath   = "/us/login/"
	RefreshPath = "/us/refresh/"

	userAgent   = "okhttp/4.7.2"
	contentType = "application/json;charset=UTF-8"
)

// expiryMargin refreshes tokens slightly before their actual expiry so a
// token that passes the check does not expire mid-request.
const expiryMargin = 30 * time.Second

// Token holds one version of the bearer credentials. Tokens are replaced
// wholesale on every refresh, never mutated.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Scope        []string  `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the token should no longer be used at the given
// instant. The expiry margin is applied here, not in ExpiresAt.
func (t Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt.Add(-expiryMargin))
}

// tokenResponse is the provider's token JSON for both grants.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (r tokenResponse) token(now time.Time) Token {
	return Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Scope:        strings.Fields(r.Scope),
		ExpiresAt:    now.Add(time.Duration(r.ExpiresIn) * time.Second),
	}
}

// TokenUpdater receives every committed token together with the raw provider
// response, so callers can persist it for a later SetToken seed.
type TokenUpdater func(tok Token, raw json.RawMessage)

// AuthError is a login or refresh rejection reported by the provider.
type AuthError struct {
	StatusCode  int
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *AuthError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("auth: %s (HTTP %d)", e.Code, e.StatusCode)
	}
	return fmt.Sprintf("auth: %s: %s", e.Code, e.Description)
}

// Sentinel errors for calls that cannot be authenticated at all.
var (
	ErrNotAuthenticated = errors.New("auth: no token held, login required")
	ErrTokenExpired     = errors.New("auth: token expired and no refresh token held")
)

// Session owns the current Token and wraps an HTTP client so outgoing
// requests always carry a valid bearer header. Safe for concurrent use;
// concurrent callers that hit an expired token share a single refresh.
type Session struct {
	baseURL string
	http    *http.Client
	updater TokenUpdater
	log     *slog.Logger

	mu    sync.Mutex
	token *Token

	refresh singleflight.Group
}

// NewSession creates a session against baseURL. updater may be nil.
func NewSession(baseURL string, updater TokenUpdater, log *slog.Logger) *Session {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Session{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		updater: updater,
		log:     log,
	}
}

// SetHTTPClient replaces the underlying HTTP client.
func (s *Session) SetHTTPClient(c *http.Client) { s.http = c }

// SetToken seeds the session from previously persisted credentials,
// bypassing login. The updater is not re-invoked for a seed.
func (s *Session) SetToken(tok Token) {
	s.mu.Lock()
	s.token = &tok
	s.mu.Unlock()
}

// CurrentToken returns the committed token, if any.
func (s *Session) CurrentToken() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == nil {
		return Token{}, false
	}
	return *s.token, true
}

// Authorized reports whether the session holds a token.
func (s *Session) Authorized() bool {
	_, ok := s.CurrentToken()
	return ok
}

// Login performs the password-grant exchange and commits the returned token.
// Existing token state is untouched on failure.
func (s *Session) Login(ctx context.Context, username, password string) (Token, error) {
	return s.exchange(ctx, LoginPath, map[string]string{
		"grant_type": "password",
		"username":   username,
		"password":   password,
	})
}

// ForceRefresh performs the refresh-grant exchange immediately. Concurrent
// calls coalesce onto one request and share its result.
func (s *Session) ForceRefresh(ctx context.Context) (Token, error) {
	v, err, _ := s.refresh.Do("refresh", func() (any, error) {
		s.mu.Lock()
		var refreshToken string
		if s.token != nil {
			refreshToken = s.token.RefreshToken
		}
		s.mu.Unlock()

		if refreshToken == "" {
			return Token{}, ErrTokenExpired
		}
		return s.exchange(ctx, RefreshPath, map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
		})
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// ValidToken returns a token that is valid right now, refreshing first when
// the held one is expired. This is the ensure-valid step in front of every
// authenticated request.
func (s *Session) ValidToken(ctx context.Context) (Token, error) {
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()

	if tok == nil {
		return Token{}, ErrNotAuthenticated
	}
	if !tok.Expired(time.Now()) {
		return *tok, nil
	}

	s.log.Debug("token expired, refreshing", "expires_at", tok.ExpiresAt)
	return s.ForceRefresh(ctx)
}

// Do executes an authenticated request against path (relative to the base
// URL). A non-nil body is JSON-encoded. The raw response is returned for the
// caller to interpret; responses must be closed by the caller.
func (s *Session) Do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	tok, err := s.ValidToken(ctx)
	if err != nil {
		return nil, err
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("auth: encode body: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, rd)
	if err != nil {
		return nil, fmt.Errorf("auth: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// exchange runs one token grant against path and commits the result.
func (s *Session) exchange(ctx context.Context, path string, body map[string]string) (Token, error) {
	if err := checkTransportSecurity(s.baseURL); err != nil {
		return Token{}, err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return Token{}, fmt.Errorf("auth: encode grant: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return Token{}, fmt.Errorf("auth: build grant request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.http.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("auth: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("auth: read grant response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		authErr := &AuthError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(raw, authErr); err != nil || authErr.Code == "" {
			authErr.Code = "server_error"
			authErr.Description = http.StatusText(resp.StatusCode)
		}
		return Token{}, authErr
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return Token{}, &AuthError{
			StatusCode:  resp.StatusCode,
			Code:        "invalid_response",
			Description: fmt.Sprintf("malformed token response: %v", err),
		}
	}

	tok := tr.token(time.Now())
	s.commit(tok, raw)
	return tok, nil
}

// commit installs the new token and pushes it to the updater.
func (s *Session) commit(tok Token, raw json.RawMessage) {
	s.mu.Lock()
	s.token = &tok
	s.mu.Unlock()

	s.log.Debug("token committed", "expires_at", tok.ExpiresAt)
	if s.updater != nil {
		s.updater(tok, raw)
	}
}

// checkTransportSecurity rejects token grants over plain HTTP. Loopback
// hosts are allowed so local servers work.
func checkTransportSecurity(baseURL string) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("auth: base url: %w", err)
	}
	if u.Scheme == "https" {
		return nil
	}
	host := u.Hostname()
	if host == "localhost" || strings.HasPrefix(host, "127.") || host == "::1" {
		return nil
	}
	return &AuthError{
		Code:        "insecure_transport",
		Description: fmt.Sprintf("token endpoint %s is not HTTPS", baseURL),
	}
}
