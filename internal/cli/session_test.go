package cli

import (
	"path/filepath"
	"testing"
	"time"

	"tycoon/internal/auth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRoundTripUnderHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv(HomeEnv, home)

	dir, err := BaseDir()
	require.NoError(t, err)
	assert.Equal(t, home, dir)

	require.NoError(t, SaveSession(Session{AccessToken: "tok", Email: "a@b.c", UserID: "u1"}))
	assert.FileExists(t, filepath.Join(home, "session.json"))

	got, err := LoadSession()
	require.NoError(t, err)
	assert.Equal(t, "tok", got.AccessToken)
	assert.Equal(t, "u1", got.UserID)

	require.NoError(t, ClearSession())
	_, err = LoadSession()
	assert.Error(t, err)
	assert.NoError(t, ClearSession())
}

func TestLoadSessionRequiresToken(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	require.NoError(t, SaveSession(Session{Email: "a@b.c"}))
	_, err := LoadSession()
	assert.ErrorContains(t, err, "no access token")
}

func TestSessionNeedsRefresh(t *testing.T) {
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	s := SessionFrom(auth.Session{
		AccessToken:  "tok",
		RefreshToken: "ref",
		ExpiresIn:    3600,
		User:         auth.User{ID: "u1", Email: "a@b.c"},
	}, now)
	assert.Equal(t, now.Add(time.Hour), s.ExpiresAt)
	assert.Equal(t, "u1", s.UserID)

	assert.False(t, s.NeedsRefresh(now))
	assert.True(t, s.NeedsRefresh(now.Add(59*time.Minute+30*time.Second)))

	s.RefreshToken = ""
	assert.False(t, s.NeedsRefresh(now.Add(2*time.Hour)))
	assert.False(t, SessionFrom(auth.Session{AccessToken: "tok", RefreshToken: "ref"}, now).NeedsRefresh(now))
}

func TestLoadSessionMissingFile(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())
	_, err := LoadSession()
	assert.ErrorContains(t, err, "tyc login")
}
