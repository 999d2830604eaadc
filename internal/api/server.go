package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tycoon/internal/auth"
	"tycoon/internal/config"
	"tycoon/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
)

type contextKey string

const userContextKey contextKey = "user"

const requestTimeout = 60 * time.Second

type UserContext struct {
	UserID string
	Email  string
	Token  string
}

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	auth     auth.Provider
	game     *game.Service
	mux      *chi.Mux
	limits   *limiterSet
	upgrader websocket.Upgrader
}

func New(cfg config.APIConfig, logger *slog.Logger, authProvider auth.Provider, gameSvc *game.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		log:    logger,
		auth:   authProvider,
		game:   gameSvc,
		mux:    chi.NewRouter(),
		limits: newLimiterSet(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.routes()
	return s
}

// Handler is the router wrapped in the CORS policy.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	})
	return c.Handler(s.mux)
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		// The change stream outlives the request timeout.
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.rateLimit)
			r.Get("/stream", s.handleStream)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Post("/auth/signup", s.handleSignup)
			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/refresh", s.handleRefresh)

			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)
				r.Use(s.rateLimit)

				r.Get("/dashboard", s.handleDashboard)
				r.Get("/profile", s.handleProfile)
				r.Patch("/profile", s.handleUpdateProfile)
				r.Get("/leaderboard", s.handleLeaderboard)
				r.Get("/leaderboard/syndicates", s.handleSyndicateLeaderboard)

				r.Get("/farms", s.handleListFarms)
				r.Post("/farms", s.handleStartBuild)

				r.Get("/market", s.handleQuote)
				r.Post("/market/trades", s.handleTrade)
				r.Get("/market/transactions", s.handleTransactions)
				r.Get("/stats/weekly", s.handleWeeklyStats)

				r.Get("/quests", s.handleListQuests)
				r.Post("/quests/evaluate", s.handleEvaluateQuests)
				r.Post("/quests/{id}/accept", s.handleAcceptQuest)

				r.Get("/syndicates", s.handleListSyndicates)
				r.Get("/syndicates/me", s.handleMyMembership)
				r.Post("/syndicates/leave", s.handleLeaveSyndicate)
				r.Get("/syndicates/chat", s.handleListChat)
				r.Post("/syndicates/chat", s.handlePostChat)
				r.Get("/syndicates/{id}", s.handleGetSyndicate)
				r.Post("/syndicates/{id}/join", s.handleJoinSyndicate)

				r.Get("/heist", s.handleHeistState)
				r.Post("/heist/join", s.handleJoinHeist)
				r.Post("/heist/advance", s.handleAdvanceHeist)
				r.Get("/prison", s.handlePrison)

				r.Get("/darkweb/items", s.handleListItems)
				r.Post("/darkweb/items/{id}/buy", s.handleBuyItem)

				r.Get("/neon", s.handleCompanion)
				r.Post("/neon/upgrade", s.handleUpgradeNeon)
				r.Post("/neon/bonuses", s.handleUnlockBonus)
				r.Post("/neon/legacy", s.handleAdvanceLegacy)
				r.Post("/neon/counter", s.handleCounterShadow)
				r.Post("/neon/ask", s.handleAskNeon)
				r.Post("/neon/quests/{id}/complete", s.handleCompleteNeonQuest)
				r.Get("/neon/messages", s.handleNeonMessages)
				r.Get("/neon/attacks", s.handleShadowAttacks)

				r.Post("/arena", s.handleStartArena)
				r.Get("/arena", s.handleArenaState)
				r.Post("/arena/commands", s.handleArenaCommand)
				r.Get("/arena/results", s.handleArenaResults)
			})
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			// Browsers cannot set headers on a WebSocket handshake.
			token = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.auth.VerifyAccessToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, fmt.Sprintf("invalid token: %v", err))
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{
			UserID: user.ID,
			Email:  user.Email,
			Token:  token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

// mustUser writes 401 and reports false when the request carries no user.
func mustUser(w http.ResponseWriter, r *http.Request) (UserContext, bool) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return UserContext{}, false
	}
	return user, true
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Nickname string `json:"nickname"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.SignUp(r.Context(), strings.TrimSpace(in.Email), in.Password)
	if err != nil {
		writeAuthError(w, http.StatusBadRequest, err)
		return
	}
	if session.User.ID != "" {
		if _, err := s.game.EnsurePlayer(r.Context(), session.User.ID, session.User.Email, in.Nickname); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Login(r.Context(), strings.TrimSpace(in.Email), in.Password)
	if err != nil {
		writeAuthError(w, http.StatusUnauthorized, err)
		return
	}
	if _, err := s.game.EnsurePlayer(r.Context(), session.User.ID, session.User.Email, ""); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	session, err := s.auth.Refresh(r.Context(), in.RefreshToken)
	if err != nil {
		writeAuthError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.Dashboard(r.Context(), user.UserID)
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.Profile(r.Context(), user.UserID)
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	var in struct {
		Nickname string `json:"nickname"`
		Avatar   string `json:"avatar"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.UpdateProfile(r.Context(), game.ProfileUpdate{
		AccountID:      user.UserID,
		Nickname:       in.Nickname,
		Avatar:         in.Avatar,
		IdempotencyKey: idempotencyKey(r),
	})
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Leaderboard(r.Context(), queryInt(r, "limit", 100))
	respond(w, http.StatusOK, map[string]any{"rows": out}, err)
}

func (s *Server) handleSyndicateLeaderboard(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.SyndicateLeaderboard(r.Context(), queryInt(r, "limit", 100))
	respond(w, http.StatusOK, map[string]any{"rows": out}, err)
}

func (s *Server) handleListFarms(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.ListFarms(r.Context(), user.UserID)
	respond(w, http.StatusOK, map[string]any{"farms": out}, err)
}

func (s *Server) handleStartBuild(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	var in struct {
		TemplateID string `json:"template_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.StartBuild(r.Context(), game.StartBuildInput{
		AccountID:      user.UserID,
		TemplateID:     in.TemplateID,
		IdempotencyKey: idempotencyKey(r),
	})
	respond(w, http.StatusCreated, out, err)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.Quote(r.Context())
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	var in struct {
		Side   string          `json:"side"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Trade(r.Context(), game.TradeInput{
		AccountID:      user.UserID,
		Side:           in.Side,
		Amount:         in.Amount,
		IdempotencyKey: idempotencyKey(r),
	})
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.ListTransactions(r.Context(), user.UserID, queryInt(r, "limit", 50))
	respond(w, http.StatusOK, map[string]any{"transactions": out}, err)
}

func (s *Server) handleWeeklyStats(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.ListWeeklyStats(r.Context(), user.UserID)
	respond(w, http.StatusOK, map[string]any{"weeks": out}, err)
}

func (s *Server) handleListQuests(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.ListQuests(r.Context(), user.UserID)
	respond(w, http.StatusOK, map[string]any{"quests": out}, err)
}

func (s *Server) handleEvaluateQuests(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.EvaluateQuests(r.Context(), user.UserID)
	respond(w, http.StatusOK, map[string]any{"quests": out}, err)
}

func (s *Server) handleAcceptQuest(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.AcceptQuest(r.Context(), user.UserID, chi.URLParam(r, "id"), idempotencyKey(r))
	respond(w, http.StatusCreated, out, err)
}

func (s *Server) handleListSyndicates(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.ListSyndicates(r.Context())
	respond(w, http.StatusOK, map[string]any{"syndicates": out}, err)
}

func (s *Server) handleGetSyndicate(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.GetSyndicate(r.Context(), chi.URLParam(r, "id"))
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleMyMembership(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.MyMembership(r.Context(), user.UserID)
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleJoinSyndicate(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.JoinSyndicate(r.Context(), user.UserID, chi.URLParam(r, "id"), idempotencyKey(r))
	respond(w, http.StatusCreated, out, err)
}

func (s *Server) handleLeaveSyndicate(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	err := s.game.LeaveSyndicate(r.Context(), user.UserID, idempotencyKey(r))
	respond(w, http.StatusOK, map[string]any{"ok": true}, err)
}

func (s *Server) handleListChat(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.ListChat(r.Context(), user.UserID, queryInt(r, "limit", 50))
	respond(w, http.StatusOK, map[string]any{"messages": out}, err)
}

func (s *Server) handlePostChat(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	var in struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.PostChat(r.Context(), user.UserID, in.Message, idempotencyKey(r))
	respond(w, http.StatusCreated, out, err)
}

func (s *Server) handleHeistState(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.HeistState(r.Context())
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleJoinHeist(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.JoinHeist(r.Context(), user.UserID, idempotencyKey(r))
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleAdvanceHeist(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.AdvanceHeist(r.Context(), user.UserID, idempotencyKey(r))
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handlePrison(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.Prison(r.Context(), user.UserID)
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	out, err := s.game.ListItems(r.Context())
	respond(w, http.StatusOK, map[string]any{"items": out}, err)
}

func (s *Server) handleBuyItem(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.BuyItem(r.Context(), user.UserID, chi.URLParam(r, "id"), idempotencyKey(r))
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleCompanion(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.Companion(r.Context(), user.UserID)
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleUpgradeNeon(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.UpgradeNeon(r.Context(), user.UserID, idempotencyKey(r))
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleUnlockBonus(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	var in struct {
		Bonus string `json:"bonus"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.UnlockNeonBonus(r.Context(), user.UserID, strings.TrimSpace(in.Bonus), idempotencyKey(r))
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleAdvanceLegacy(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.AdvanceLegacy(r.Context(), user.UserID, idempotencyKey(r))
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleCounterShadow(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.CounterShadow(r.Context(), user.UserID, idempotencyKey(r))
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleAskNeon(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	var in struct {
		Topic string `json:"topic"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.AskNeon(r.Context(), user.UserID, in.Topic, idempotencyKey(r))
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleCompleteNeonQuest(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.CompleteNeonQuest(r.Context(), user.UserID, chi.URLParam(r, "id"), idempotencyKey(r))
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleNeonMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.ListNeonMessages(r.Context(), user.UserID, queryInt(r, "limit", 50))
	respond(w, http.StatusOK, map[string]any{"messages": out}, err)
}

func (s *Server) handleShadowAttacks(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.ListShadowAttacks(r.Context(), user.UserID)
	respond(w, http.StatusOK, map[string]any{"attacks": out}, err)
}

func (s *Server) handleStartArena(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.StartArena(r.Context(), user.UserID, idempotencyKey(r))
	respond(w, http.StatusCreated, out, err)
}

func (s *Server) handleArenaState(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.ArenaState(r.Context(), user.UserID)
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleArenaCommand(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	var in game.ArenaCommand
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.ArenaCommand(r.Context(), user.UserID, in)
	if err != nil && out.Phase != "" {
		// Rejected commands still return the current run so the client can redraw.
		writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "run": out})
		return
	}
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleArenaResults(w http.ResponseWriter, r *http.Request) {
	user, ok := mustUser(w, r)
	if !ok {
		return
	}
	out, err := s.game.ListArenaResults(r.Context(), user.UserID)
	respond(w, http.StatusOK, map[string]any{"results": out}, err)
}

func respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, status, payload)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrInsufficientFunds), errors.Is(err, game.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrNotEligible), errors.Is(err, game.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, game.ErrAlreadyInState),
		errors.Is(err, game.ErrDuplicateIdempotency),
		errors.Is(err, game.ErrLostUpdate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeAuthError(w http.ResponseWriter, fallback int, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrEmailTaken):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, fallback, err.Error())
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

func idempotencyKey(r *http.Request) string {
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func queryInt(r *http.Request, name string, fallback int) int {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
