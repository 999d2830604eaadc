package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tycoon/internal/auth"
)

// HomeEnv overrides the directory holding the session and offline queue.
const HomeEnv = "TYC_HOME"

// refreshSkew refreshes a little before the server would reject the token.
const refreshSkew = time.Minute

type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	Email        string    `json:"email"`
	UserID       string    `json:"user_id"`
}

// SessionFrom converts an API login answer into the saved form.
func SessionFrom(s auth.Session, now time.Time) Session {
	out := Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		Email:        s.User.Email,
		UserID:       s.User.ID,
	}
	if s.ExpiresIn > 0 {
		out.ExpiresAt = now.Add(time.Duration(s.ExpiresIn) * time.Second).UTC()
	}
	return out
}

// NeedsRefresh reports whether the access token is about to lapse and a
// refresh token is on hand to replace it.
func (s Session) NeedsRefresh(now time.Time) bool {
	if s.RefreshToken == "" || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(refreshSkew).Before(s.ExpiresAt)
}

// BaseDir is ~/.tyc unless TYC_HOME is set. It is created on first use.
func BaseDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv(HomeEnv))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".tyc")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func sessionPath() (string, error) {
	dir, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

// SaveSession replaces the saved session atomically.
func SaveSession(s Session) error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func LoadSession() (Session, error) {
	path, err := sessionPath()
	if err != nil {
		return Session{}, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, errors.New("no saved session, run `tyc login`")
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(body, &s); err != nil {
		return Session{}, fmt.Errorf("read %s: %w", path, err)
	}
	if strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, errors.New("no access token found in session")
	}
	return s, nil
}

func ClearSession() error {
	path, err := sessionPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
