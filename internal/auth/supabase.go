package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SupabaseClient talks to Supabase GoTrue over HTTP.
type SupabaseClient struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

var _ Provider = (*SupabaseClient)(nil)

func NewSupabaseClient(baseURL, anonKey string) *SupabaseClient {
	return &SupabaseClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// gotrueError is a non-2xx GoTrue answer.
type gotrueError struct {
	status int
	code   string
	msg    string
}

func (e *gotrueError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("gotrue status %d (%s): %s", e.status, e.code, e.msg)
	}
	return fmt.Sprintf("gotrue status %d: %s", e.status, e.msg)
}

func (e *gotrueError) rejected() bool { return e.status >= 400 && e.status < 500 }

func (c *SupabaseClient) SignUp(ctx context.Context, email, password string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "", credentials(email, password), &out)
	var gerr *gotrueError
	switch {
	case err == nil:
		return out, nil
	case errors.As(err, &gerr) && (gerr.code == "user_already_exists" || strings.Contains(gerr.msg, "already registered")):
		return Session{}, ErrEmailTaken
	default:
		return Session{}, err
	}
}

func (c *SupabaseClient) Login(ctx context.Context, email, password string) (Session, error) {
	return c.grant(ctx, "password", credentials(email, password), ErrInvalidCredentials)
}

func (c *SupabaseClient) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return Session{}, ErrInvalidToken
	}
	return c.grant(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken}, ErrInvalidToken)
}

func (c *SupabaseClient) VerifyAccessToken(ctx context.Context, accessToken string) (User, error) {
	var user User
	err := c.do(ctx, http.MethodGet, "/auth/v1/user", accessToken, nil, &user)
	var gerr *gotrueError
	if errors.As(err, &gerr) && (gerr.status == http.StatusUnauthorized || gerr.status == http.StatusForbidden) {
		return User{}, ErrInvalidToken
	}
	if err != nil {
		return User{}, fmt.Errorf("verify token: %w", err)
	}
	return user, nil
}

// grant posts to the token endpoint. A 4xx answer becomes rejectedAs.
func (c *SupabaseClient) grant(ctx context.Context, grantType string, payload any, rejectedAs error) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "/auth/v1/token?grant_type="+grantType, "", payload, &out)
	var gerr *gotrueError
	if errors.As(err, &gerr) && gerr.rejected() {
		return Session{}, fmt.Errorf("%w: %v", rejectedAs, gerr)
	}
	return out, err
}

func credentials(email, password string) map[string]string {
	return map[string]string{"email": email, "password": password}
}

func (c *SupabaseClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", c.anonKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("supabase request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return decodeGotrueError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeGotrueError reads both the legacy and the current GoTrue error
// envelopes.
func decodeGotrueError(status int, raw []byte) error {
	var env struct {
		Code             string `json:"error_code"`
		Error            string `json:"error"`
		Msg              string `json:"msg"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(raw, &env)
	out := &gotrueError{status: status, code: env.Code}
	for _, m := range []string{env.Msg, env.ErrorDescription, env.Error} {
		if m != "" {
			out.msg = m
			break
		}
	}
	if out.msg == "" {
		out.msg = strings.TrimSpace(string(raw))
	}
	if out.code == "" && env.Error != "" && env.Error != out.msg {
		out.code = env.Error
	}
	return out
}
