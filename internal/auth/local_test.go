package auth

import (
	"context"
	"testing"
	"time"

	"tycoon/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocal(t *testing.T) (*LocalProvider, *time.Time) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	p := NewLocalProvider(st, time.Hour)
	p.now = func() time.Time { return now }
	return p, &now
}

func TestLocalSignUpAndLogin(t *testing.T) {
	p, _ := newLocal(t)
	ctx := context.Background()

	sess, err := p.SignUp(ctx, " Miner@Example.com ", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "miner@example.com", sess.User.Email)
	assert.NotEmpty(t, sess.User.ID)
	assert.Equal(t, 3600, sess.ExpiresIn)

	_, err = p.SignUp(ctx, "miner@example.com", "another1")
	require.ErrorIs(t, err, ErrEmailTaken)

	_, err = p.Login(ctx, "miner@example.com", "wrong-pass")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = p.Login(ctx, "nobody@example.com", "hunter22")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	login, err := p.Login(ctx, "MINER@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, login.User.ID)
	assert.NotEqual(t, sess.AccessToken, login.AccessToken)

	user, err := p.VerifyAccessToken(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User, user)
}

func TestLocalSignUpValidation(t *testing.T) {
	p, _ := newLocal(t)
	ctx := context.Background()

	_, err := p.SignUp(ctx, "not-an-email", "hunter22")
	require.Error(t, err)
	_, err = p.SignUp(ctx, "a@example.com", "short")
	require.Error(t, err)
}

func TestLocalTokenExpires(t *testing.T) {
	p, now := newLocal(t)
	ctx := context.Background()

	sess, err := p.SignUp(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)

	*now = now.Add(59 * time.Minute)
	_, err = p.VerifyAccessToken(ctx, sess.AccessToken)
	require.NoError(t, err)

	*now = now.Add(time.Minute)
	_, err = p.VerifyAccessToken(ctx, sess.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = p.VerifyAccessToken(ctx, "tyc_forged")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLocalRefreshRotates(t *testing.T) {
	p, now := newLocal(t)
	ctx := context.Background()

	sess, err := p.SignUp(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)
	require.NotEmpty(t, sess.RefreshToken)

	*now = now.Add(2 * time.Hour)
	_, err = p.VerifyAccessToken(ctx, sess.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	next, err := p.Refresh(ctx, sess.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User, next.User)
	assert.NotEqual(t, sess.RefreshToken, next.RefreshToken)

	user, err := p.VerifyAccessToken(ctx, next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, user.ID)

	_, err = p.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = p.Refresh(ctx, "")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestLocalRefreshExpires(t *testing.T) {
	p, now := newLocal(t)
	ctx := context.Background()

	sess, err := p.SignUp(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)

	*now = now.Add(RefreshTTL)
	_, err = p.Refresh(ctx, sess.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}
