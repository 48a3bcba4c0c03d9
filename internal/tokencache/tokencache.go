// Package tokencache persists the provider's raw token response to disk so
// a restart can resume the session without a fresh password login.
package tokencache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/trymwestin/snoo/internal/core/auth"
)

// Cache stores the raw token response JSON at a fixed path.
type Cache struct {
	path string
}

// New creates a cache backed by the file at path.
func New(path string) *Cache {
	return &Cache{path: path}
}

// Load reads the cached token. A missing file returns ok=false with no error.
func (c *Cache) Load() (auth.Token, bool, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return auth.Token{}, false, nil
		}
		return auth.Token{}, false, fmt.Errorf("tokencache: read %s: %w", c.path, err)
	}

	var tok auth.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return auth.Token{}, false, fmt.Errorf("tokencache: parse %s: %w", c.path, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return auth.Token{}, false, nil
	}
	return tok, true, nil
}

// Save writes tok to disk, creating the parent directory if needed.
// The file is owner-readable only since it holds credentials.
func (c *Cache) Save(tok auth.Token) error {
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("tokencache: mkdir %s: %w", dir, err)
		}
	}

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("tokencache: marshal: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0o600); err != nil {
		return fmt.Errorf("tokencache: write %s: %w", c.path, err)
	}
	return nil
}

// Updater returns an auth.TokenUpdater that saves every token the session
// obtains. Write failures are passed to onErr when it is non-nil.
func (c *Cache) Updater(onErr func(error)) auth.TokenUpdater {
	return func(tok auth.Token, _ json.RawMessage) {
		if err := c.Save(tok); err != nil && onErr != nil {
			onErr(err)
		}
	}
}
