package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeGotrue(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		var in map[string]string
		if r.Method == http.MethodPost {
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		}
		switch r.URL.Path {
		case "/auth/v1/signup":
			if in["email"] == "taken@example.com" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_, _ = w.Write([]byte(`{"code":422,"error_code":"user_already_exists","msg":"User already registered"}`))
				return
			}
			_ = json.NewEncoder(w).Encode(Session{AccessToken: "new", RefreshToken: "r0", User: User{ID: "u2", Email: in["email"]}})
		case "/auth/v1/token":
			switch r.URL.Query().Get("grant_type") {
			case "password":
				if in["password"] != "hunter22" {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
					return
				}
				_ = json.NewEncoder(w).Encode(Session{AccessToken: "tok", RefreshToken: "r1", TokenType: "bearer", User: User{ID: "u1", Email: in["email"]}})
			case "refresh_token":
				if in["refresh_token"] != "r1" {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Refresh Token Not Found"}`))
					return
				}
				_ = json.NewEncoder(w).Encode(Session{AccessToken: "tok2", RefreshToken: "r2", User: User{ID: "u1"}})
			default:
				w.WriteHeader(http.StatusBadRequest)
			}
		case "/auth/v1/user":
			switch r.Header.Get("Authorization") {
			case "Bearer tok":
				_ = json.NewEncoder(w).Encode(User{ID: "u1", Email: "a@example.com"})
			case "Bearer boom":
				w.WriteHeader(http.StatusBadGateway)
			default:
				w.WriteHeader(http.StatusUnauthorized)
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSupabaseLoginAndVerify(t *testing.T) {
	c := NewSupabaseClient(fakeGotrue(t).URL+"/", "anon")
	ctx := context.Background()

	sess, err := c.Login(ctx, "a@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "tok", sess.AccessToken)
	assert.Equal(t, "u1", sess.User.ID)

	_, err = c.Login(ctx, "a@example.com", "nope")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Contains(t, err.Error(), "Invalid login credentials")

	user, err := c.VerifyAccessToken(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", user.Email)

	_, err = c.VerifyAccessToken(ctx, "bad")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = c.VerifyAccessToken(ctx, "boom")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestSupabaseSignUp(t *testing.T) {
	c := NewSupabaseClient(fakeGotrue(t).URL, "anon")
	ctx := context.Background()

	sess, err := c.SignUp(ctx, "fresh@example.com", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, "u2", sess.User.ID)

	_, err = c.SignUp(ctx, "taken@example.com", "hunter22")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestSupabaseRefresh(t *testing.T) {
	c := NewSupabaseClient(fakeGotrue(t).URL, "anon")
	ctx := context.Background()

	sess, err := c.Refresh(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "tok2", sess.AccessToken)
	assert.Equal(t, "r2", sess.RefreshToken)

	_, err = c.Refresh(ctx, "stale")
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = c.Refresh(ctx, " ")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestDecodeGotrueError(t *testing.T) {
	err := decodeGotrueError(400, []byte(`{"error":"invalid_grant","error_description":"bad"}`))
	assert.Equal(t, "gotrue status 400 (invalid_grant): bad", err.Error())

	err = decodeGotrueError(500, []byte("upstream down"))
	assert.Equal(t, "gotrue status 500: upstream down", err.Error())
}
