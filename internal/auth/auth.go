package auth

import (
	"context"
	"errors"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Provider signs players up, logs them in and resolves bearer tokens to
// users. Accounts in the game are keyed by User.ID.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (Session, error)
	Login(ctx context.Context, email, password string) (Session, error)
	VerifyAccessToken(ctx context.Context, accessToken string) (User, error)
	// Refresh trades a refresh token for a new session. The old refresh
	// token stops working.
	Refresh(ctx context.Context, refreshToken string) (Session, error)
}

type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
