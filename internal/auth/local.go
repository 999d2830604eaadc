package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"tycoon/internal/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultSessionTTL = 7 * 24 * time.Hour
	// RefreshTTL bounds how long a refresh token can be traded in.
	RefreshTTL     = 30 * 24 * time.Hour
	MinPasswordLen = 6

	usersPrefix    = "auth/users/"
	sessionsPrefix = "auth/sessions/"
	refreshPrefix  = "auth/refresh/"
)

type localUser struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash []byte    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

type localSession struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used,omitempty"`
}

// LocalProvider keeps bcrypt password hashes and opaque session tokens in
// the game's document store. It needs no external identity service.
type LocalProvider struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

var _ Provider = (*LocalProvider)(nil)

func NewLocalProvider(st store.Store, ttl time.Duration) *LocalProvider {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &LocalProvider{store: st, ttl: ttl, now: time.Now}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("invalid email %q", email)
	}
	return email, nil
}

func (p *LocalProvider) SignUp(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, err
	}
	if len(password) < MinPasswordLen {
		return Session{}, fmt.Errorf("password must be at least %d characters", MinPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Session{}, err
	}
	u := localUser{ID: id.String(), Email: email, PasswordHash: hash, CreatedAt: p.now().UTC()}
	if _, err := p.store.Swap(ctx, usersPrefix+email, 0, u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Session{}, ErrEmailTaken
		}
		return Session{}, err
	}
	return p.issue(ctx, u)
}

func (p *LocalProvider) Login(ctx context.Context, email, password string) (Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return Session{}, ErrInvalidCredentials
	}
	var u localUser
	if _, err := p.store.Get(ctx, usersPrefix+email, &u); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return Session{}, ErrInvalidCredentials
	}
	return p.issue(ctx, u)
}

func (p *LocalProvider) VerifyAccessToken(ctx context.Context, accessToken string) (User, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return User{}, ErrInvalidToken
	}
	var sess localSession
	if _, err := p.store.Get(ctx, sessionsPrefix+accessToken, &sess); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return User{}, ErrInvalidToken
		}
		return User{}, err
	}
	if !p.now().Before(sess.ExpiresAt) {
		_ = p.store.Delete(ctx, sessionsPrefix+accessToken)
		return User{}, ErrInvalidToken
	}
	return User{ID: sess.UserID, Email: sess.Email}, nil
}

// Refresh rotates a refresh token. Each one can be used once.
func (p *LocalProvider) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Session{}, ErrInvalidToken
	}
	var held localSession
	version, err := p.store.Get(ctx, refreshPrefix+refreshToken, &held)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, err
	}
	if held.Used {
		return Session{}, ErrInvalidToken
	}
	// Only one concurrent refresh gets past the version check.
	held.Used = true
	if _, err := p.store.Swap(ctx, refreshPrefix+refreshToken, version, held); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, err
	}
	_ = p.store.Delete(ctx, refreshPrefix+refreshToken)
	if !p.now().Before(held.ExpiresAt) {
		return Session{}, ErrInvalidToken
	}
	return p.issue(ctx, localUser{ID: held.UserID, Email: held.Email})
}

func newToken(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}

func (p *LocalProvider) issue(ctx context.Context, u localUser) (Session, error) {
	now := p.now().UTC()
	access, refresh := newToken("tyc_"), newToken("tycr_")
	err := p.store.Txn(ctx, func(tx store.Tx) error {
		if err := tx.Put(ctx, sessionsPrefix+access, localSession{UserID: u.ID, Email: u.Email, ExpiresAt: now.Add(p.ttl)}); err != nil {
			return err
		}
		return tx.Put(ctx, refreshPrefix+refresh, localSession{UserID: u.ID, Email: u.Email, ExpiresAt: now.Add(RefreshTTL)})
	})
	if err != nil {
		return Session{}, err
	}
	return Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(p.ttl.Seconds()),
		TokenType:    "bearer",
		User:         User{ID: u.ID, Email: u.Email},
	}, nil
}
