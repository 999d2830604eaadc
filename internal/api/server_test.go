package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tycoon/internal/auth"
	"tycoon/internal/catalog"
	"tycoon/internal/config"
	"tycoon/internal/game"
	"tycoon/internal/store"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	srv   *httptest.Server
	clock *game.FakeClock
	game  *game.Service
}

func newTestAPI(t *testing.T, mutate func(*config.APIConfig)) *testAPI {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	clock := game.NewFakeClock(time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC))
	svc := game.NewService(st, catalog.Default(), nil, game.WithClock(clock), game.WithChance(game.NewChance(7)))
	require.NoError(t, svc.SeedDefaults(context.Background()))

	cfg := config.APIConfig{RateLimitRPS: 1000, RateLimitBurst: 1000, CORSOrigins: []string{"*"}}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := httptest.NewServer(New(cfg, nil, auth.NewLocalProvider(st, time.Hour), svc).Handler())
	t.Cleanup(srv.Close)
	return &testAPI{srv: srv, clock: clock, game: svc}
}

type reply struct {
	status int
	body   map[string]any
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any, headers ...string) reply {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, a.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out := reply{status: resp.StatusCode, body: map[string]any{}}
	_ = json.NewDecoder(resp.Body).Decode(&out.body)
	return out
}

func (a *testAPI) signup(t *testing.T, email string) (token, userID string) {
	t.Helper()
	res := a.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{"email": email, "password": "hunter22"})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	user := res.body["user"].(map[string]any)
	return res.body["access_token"].(string), user["id"].(string)
}

func TestSignupLoginAndDashboard(t *testing.T) {
	a := newTestAPI(t, nil)
	token, _ := a.signup(t, "miner@example.com")

	res := a.do(t, http.MethodGet, "/v1/dashboard", token, nil)
	require.Equal(t, http.StatusOK, res.status)
	acct := res.body["account"].(map[string]any)
	assert.Equal(t, "10", acct["btc_balance"])
	assert.Equal(t, "45230", res.body["btc_price"])

	res = a.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "miner@example.com", "password": "nope1234"})
	assert.Equal(t, http.StatusUnauthorized, res.status)
	res = a.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{"email": "miner@example.com", "password": "hunter22"})
	assert.Equal(t, http.StatusConflict, res.status)

	res = a.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "miner@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusOK, res.status)
	assert.NotEmpty(t, res.body["access_token"])
}

func TestRefreshRotatesSession(t *testing.T) {
	a := newTestAPI(t, nil)
	res := a.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{"email": "miner@example.com", "password": "hunter22"})
	require.Equal(t, http.StatusCreated, res.status)
	refresh := res.body["refresh_token"].(string)

	res = a.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, res.status, res.body)
	token := res.body["access_token"].(string)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/dashboard", token, nil).status)

	res = a.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
	assert.Equal(t, http.StatusUnauthorized, res.status)
}

func TestRequiresBearerToken(t *testing.T) {
	a := newTestAPI(t, nil)
	res := a.do(t, http.MethodGet, "/v1/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	res = a.do(t, http.MethodGet, "/v1/dashboard", "tyc_forged", nil)
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = a.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, res.status)
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	a := newTestAPI(t, nil)
	token, _ := a.signup(t, "miner@example.com")

	res := a.do(t, http.MethodPost, "/v1/farms", token, map[string]string{"template_id": "small"})
	require.Equal(t, http.StatusCreated, res.status, res.body)
	assert.Equal(t, "UnderConstruction", res.body["status"])

	res = a.do(t, http.MethodPost, "/v1/farms", token, map[string]string{"template_id": "small"})
	assert.Equal(t, http.StatusBadRequest, res.status)
	res = a.do(t, http.MethodPost, "/v1/farms", token, map[string]string{"template_id": "castle"})
	assert.Equal(t, http.StatusNotFound, res.status)
	res = a.do(t, http.MethodPost, "/v1/farms", token, map[string]string{"template": "small"})
	assert.Equal(t, http.StatusBadRequest, res.status)

	res = a.do(t, http.MethodPost, "/v1/heist/join", token, nil)
	assert.Equal(t, http.StatusForbidden, res.status)

	res = a.do(t, http.MethodPost, "/v1/syndicates/syndicate1/join", token, nil)
	require.Equal(t, http.StatusCreated, res.status, res.body)
	res = a.do(t, http.MethodPost, "/v1/syndicates/syndicate2/join", token, nil)
	assert.Equal(t, http.StatusConflict, res.status)
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	a := newTestAPI(t, nil)
	token, _ := a.signup(t, "miner@example.com")

	res := a.do(t, http.MethodPost, "/v1/market/trades", token, map[string]string{"side": "sell", "amount": "1"}, "Idempotency-Key", "sell-1")
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, "9", res.body["btc_balance"])

	res = a.do(t, http.MethodPost, "/v1/market/trades", token, map[string]string{"side": "sell", "amount": "1"}, "Idempotency-Key", "sell-1")
	assert.Equal(t, http.StatusConflict, res.status)

	res = a.do(t, http.MethodGet, "/v1/market/transactions", token, nil)
	require.Equal(t, http.StatusOK, res.status)
	assert.Len(t, res.body["transactions"], 1)
}

func TestRateLimitPerAccount(t *testing.T) {
	a := newTestAPI(t, func(c *config.APIConfig) {
		c.RateLimitRPS = 0.001
		c.RateLimitBurst = 2
	})
	token, _ := a.signup(t, "miner@example.com")
	other, _ := a.signup(t, "other@example.com")

	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/market", token, nil).status)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/market", token, nil).status)
	assert.Equal(t, http.StatusTooManyRequests, a.do(t, http.MethodGet, "/v1/market", token, nil).status)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/market", other, nil).status)
}

func TestArenaCommandReturnsRunOnRejection(t *testing.T) {
	a := newTestAPI(t, nil)
	token, _ := a.signup(t, "miner@example.com")

	res := a.do(t, http.MethodPost, "/v1/arena", token, nil)
	assert.Equal(t, http.StatusBadRequest, res.status)
	res = a.do(t, http.MethodPost, "/v1/arena/commands", token, game.ArenaCommand{Action: game.ArenaLaser})
	assert.Equal(t, http.StatusNotFound, res.status)
}

func TestStreamRelaysOwnAccountChanges(t *testing.T) {
	a := newTestAPI(t, nil)
	token, _ := a.signup(t, "miner@example.com")
	_, _ = a.signup(t, "other@example.com")

	wsURL := "ws" + strings.TrimPrefix(a.srv.URL, "http") + "/v1/stream?topic=account&access_token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	res := a.do(t, http.MethodPatch, "/v1/profile", token, map[string]string{"nickname": "hash_lord"})
	require.Equal(t, http.StatusOK, res.status, res.body)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev struct {
		Topic string          `json:"topic"`
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "account", ev.Topic)
	assert.True(t, strings.HasPrefix(ev.Key, "accounts/"))
	assert.Contains(t, string(ev.Value), "hash_lord")
}

func TestStreamRejectsUnknownTopic(t *testing.T) {
	a := newTestAPI(t, nil)
	token, _ := a.signup(t, "miner@example.com")
	res := a.do(t, http.MethodGet, "/v1/stream?topic=weather", token, nil)
	assert.Equal(t, http.StatusBadRequest, res.status)
}
