package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tycoon/internal/auth"
	"tycoon/internal/game"
)

// APIError is a non-2xx answer from the API.
type APIError struct {
	Status  int
	Message string
	Body    []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsNetworkError reports whether err means the API was never reached, so a
// write can be queued and replayed later.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	var urlErr *url.Error
	return errors.As(err, &netErr) || errors.As(err, &urlErr)
}

// IsDuplicate reports whether the API already applied a write with the same
// idempotency key.
func IsDuplicate(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict &&
		strings.Contains(apiErr.Message, game.ErrDuplicateIdempotency.Error())
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password, nickname string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"nickname": nickname,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": refreshToken,
	}, &out, "")
	return out, err
}

func (c *Client) Dashboard(ctx context.Context, accessToken string) (game.Dashboard, error) {
	var out game.Dashboard
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/dashboard", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Profile(ctx context.Context, accessToken string) (game.Profile, error) {
	var out game.Profile
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/profile", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, accessToken string, limit int) ([]game.LeaderboardRow, error) {
	var out struct {
		Rows []game.LeaderboardRow `json:"rows"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard?limit="+strconv.Itoa(limit), accessToken, nil, &out, "")
	return out.Rows, err
}

func (c *Client) SyndicateLeaderboard(ctx context.Context, accessToken string, limit int) ([]game.SyndicateRow, error) {
	var out struct {
		Rows []game.SyndicateRow `json:"rows"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/leaderboard/syndicates?limit="+strconv.Itoa(limit), accessToken, nil, &out, "")
	return out.Rows, err
}

func (c *Client) Farms(ctx context.Context, accessToken string) ([]game.FarmView, error) {
	var out struct {
		Farms []game.FarmView `json:"farms"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/farms", accessToken, nil, &out, "")
	return out.Farms, err
}

func (c *Client) Quote(ctx context.Context, accessToken string) (game.MarketState, error) {
	var out game.MarketState
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Transactions(ctx context.Context, accessToken string, limit int) ([]game.TxRecord, error) {
	var out struct {
		Transactions []game.TxRecord `json:"transactions"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/market/transactions?limit="+strconv.Itoa(limit), accessToken, nil, &out, "")
	return out.Transactions, err
}

func (c *Client) Quests(ctx context.Context, accessToken string) ([]game.QuestView, error) {
	var out struct {
		Quests []game.QuestView `json:"quests"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/quests", accessToken, nil, &out, "")
	return out.Quests, err
}

func (c *Client) Syndicates(ctx context.Context, accessToken string) ([]game.Syndicate, error) {
	var out struct {
		Syndicates []game.Syndicate `json:"syndicates"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/syndicates", accessToken, nil, &out, "")
	return out.Syndicates, err
}

func (c *Client) Chat(ctx context.Context, accessToken string, limit int) ([]game.ChatMessage, error) {
	var out struct {
		Messages []game.ChatMessage `json:"messages"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/syndicates/chat?limit="+strconv.Itoa(limit), accessToken, nil, &out, "")
	return out.Messages, err
}

func (c *Client) Heist(ctx context.Context, accessToken string) (game.HeistEvent, error) {
	var out game.HeistEvent
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/heist", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Prison(ctx context.Context, accessToken string) (game.PrisonStatus, error) {
	var out game.PrisonStatus
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/prison", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Items(ctx context.Context, accessToken string) ([]game.Item, error) {
	var out struct {
		Items []game.Item `json:"items"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/darkweb/items", accessToken, nil, &out, "")
	return out.Items, err
}

func (c *Client) Neon(ctx context.Context, accessToken string) (game.Companion, error) {
	var out game.Companion
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/neon", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) NeonMessages(ctx context.Context, accessToken string, limit int) ([]game.NeonMessage, error) {
	var out struct {
		Messages []game.NeonMessage `json:"messages"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/neon/messages?limit="+strconv.Itoa(limit), accessToken, nil, &out, "")
	return out.Messages, err
}

func (c *Client) StartArena(ctx context.Context, accessToken, idem string) (game.ArenaRun, error) {
	var out game.ArenaRun
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/arena", accessToken, map[string]any{}, &out, idem)
	return out, err
}

func (c *Client) ArenaState(ctx context.Context, accessToken string) (game.ArenaRun, error) {
	var out game.ArenaRun
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/arena", accessToken, nil, &out, "")
	return out, err
}

// ArenaCommand sends one command. A rejected command still returns the
// run the server reported alongside the error.
func (c *Client) ArenaCommand(ctx context.Context, accessToken string, cmd game.ArenaCommand) (game.ArenaRun, error) {
	raw, err := c.rawRequest(ctx, http.MethodPost, "/v1/arena/commands", accessToken, cmd, "")
	var apiErr *APIError
	if err != nil && !errors.As(err, &apiErr) {
		return game.ArenaRun{}, err
	}
	if err != nil {
		var rejected struct {
			Run game.ArenaRun `json:"run"`
		}
		_ = json.Unmarshal(apiErr.Body, &rejected)
		return rejected.Run, err
	}
	var out game.ArenaRun
	return out, json.Unmarshal(raw, &out)
}

func (c *Client) ArenaResults(ctx context.Context, accessToken string) ([]game.ArenaResult, error) {
	var out struct {
		Results []game.ArenaResult `json:"results"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/arena/results", accessToken, nil, &out, "")
	return out.Results, err
}

// Do sends an arbitrary request and decodes the JSON object it returns.
// Writes from the command line and the offline queue go through here.
func (c *Client) Do(ctx context.Context, method, path, accessToken string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, accessToken, in, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	raw, err := c.rawRequest(ctx, method, path, accessToken, in, idem)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) rawRequest(ctx context.Context, method, path, accessToken string, in any, idem string) ([]byte, error) {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Message: errorMessage(raw), Body: raw}
	}
	return raw, nil
}

// errorMessage pulls the message out of the API's error envelope.
func errorMessage(raw []byte) string {
	var env struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != "" {
		return env.Error
	}
	return strings.TrimSpace(string(raw))
}
