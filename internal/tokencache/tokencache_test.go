package tokencache

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trymwestin/snoo/internal/core/auth"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	c := New(path)

	tok := auth.Token{
		AccessToken:  "AT1",
		RefreshToken: "RT1",
		TokenType:    "Bearer",
		Scope:        []string{"read", "write"},
		ExpiresAt:    time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.Save(tok))

	got, ok, err := c.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tok, got)
}

func TestSaveRestrictsPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes are not meaningful on windows")
	}
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, New(path).Save(auth.Token{AccessToken: "AT1"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadMissingFile(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "absent.json"))
	_, ok, err := c.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadEmptyTokenIsNotOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	_, ok, err := New(path).Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o600))

	_, _, err := New(path).Load()
	assert.Error(t, err)
}

func TestUpdaterSavesAndReportsErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	c := New(path)

	var errs []error
	up := c.Updater(func(err error) { errs = append(errs, err) })

	up(auth.Token{AccessToken: "AT1", RefreshToken: "RT1"}, nil)
	assert.Empty(t, errs)

	got, ok, err := c.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "AT1", got.AccessToken)

	// A cache rooted in an unwritable location reports through onErr.
	bad := New(filepath.Join(path, "child.json")) // parent is a file
	badUp := bad.Updater(func(err error) { errs = append(errs, err) })
	badUp(auth.Token{AccessToken: "AT2"}, nil)
	assert.Len(t, errs, 1)
}
