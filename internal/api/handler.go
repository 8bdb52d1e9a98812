// Package api provides the HTTP handlers for listing ideas, placing bets,
// resolving ideas and reading account history.
//
// All monetary values use shopspring/decimal, never float64.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/ulule/limiter/v3"

	"github.com/wotideas/ideas-engine/internal/accounts"
	"github.com/wotideas/ideas-engine/internal/auth"
	"github.com/wotideas/ideas-engine/internal/betting"
	"github.com/wotideas/ideas-engine/internal/ideas"
	"github.com/wotideas/ideas-engine/internal/metrics"
	"github.com/wotideas/ideas-engine/internal/model"
	"github.com/wotideas/ideas-engine/internal/parimutuel"
	"github.com/wotideas/ideas-engine/internal/resolution"
)

// Deps are the services the handlers delegate to. Hub and BetLimiter may be nil.
type Deps struct {
	Ideas      *ideas.Service
	Accounts   *accounts.Service
	Betting    *betting.Engine
	Resolution *resolution.Engine
	Auth       *auth.Authenticator
	Hub        *WSHub
	BetLimiter *limiter.Limiter
	Logger     *slog.Logger
}

// Handler serves the HTTP API.
type Handler struct {
	Deps
	validate *validator.Validate
	now      func() time.Time
}

// NewHandler creates the API handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handler{
		Deps:     d,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source used for idea state in responses.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// Routes builds the router with the full middleware stack.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"ideas-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if h.Hub != nil {
			// WebSocket endpoint for live idea activity.
			r.Get("/ws", h.Hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(h.Auth.Middleware)

			// Public reads.
			r.Get("/ideas", h.ListIdeas)
			r.Get("/ideas/{ideaID}", h.GetIdea)

			// Account.
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAuth)
				r.Post("/login", h.Login)
				r.Get("/balance", h.GetBalance)
				r.Get("/history", h.GetHistory)
				r.Put("/profile/email", h.SetEmail)
				r.With(rateLimit(h.BetLimiter, h.Logger)).Post("/ideas/{ideaID}/bets", h.PlaceBet)
			})

			// Administration.
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				r.Post("/ideas", h.CreateIdea)
				r.Post("/ideas/{ideaID}/resolve", h.ResolveIdea)
				r.Post("/ideas/{ideaID}/resume", h.ResumeResolution)
			})
		})
	})

	return r
}

// --- Request/Response types ---

// LoginRequest is the optional JSON body for POST /login.
type LoginRequest struct {
	Nickname string `json:"nickname" validate:"max=64"`
}

// LoginResponse is returned from POST /login.
type LoginResponse struct {
	Account *model.Account `json:"account"`
	Created bool           `json:"created"`
}

// BetRequest is the JSON body for POST /ideas/{ideaID}/bets.
type BetRequest struct {
	Side  *bool           `json:"side" validate:"required"` // true agrees with the idea
	Coins decimal.Decimal `json:"coins"`
}

// ResolveRequest is the JSON body for POST /ideas/{ideaID}/resolve.
type ResolveRequest struct {
	Resolution *bool  `json:"resolution" validate:"required"`
	Proof      string `json:"proof"`
}

// EmailRequest is the JSON body for PUT /profile/email.
type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// SettlementResponse lists the prizes paid by a resolve or resume call.
type SettlementResponse struct {
	IdeaID string          `json:"idea_id"`
	Prizes []model.Prize   `json:"prizes"`
	Total  decimal.Decimal `json:"total"`
}

// IdeaView is an idea with its derived state and pool odds.
type IdeaView struct {
	*model.Idea
	State       model.IdeaState  `json:"state"`
	Pools       parimutuel.Pools `json:"pools"`
	Probability decimal.Decimal  `json:"agree_probability"`
	AgreePays   decimal.Decimal  `json:"agree_multiplier"`
	DisagreePay decimal.Decimal  `json:"disagree_multiplier"`
}

func (h *Handler) view(idea *model.Idea, now time.Time) IdeaView {
	pools := parimutuel.PoolsOf(idea.Stakes)
	return IdeaView{
		Idea:        idea,
		State:       idea.State(now),
		Pools:       pools,
		Probability: pools.ImpliedProbability(true),
		AgreePays:   pools.Multiplier(true),
		DisagreePay: pools.Multiplier(false),
	}
}

// decode reads a JSON body and validates it. An empty body is allowed when
// optional is set.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if !(optional && r.ContentLength == 0) {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return false
		}
	}
	if err := h.validate.Struct(v); err != nil {
		var msg string
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			msg = verrs[0].Field() + " failed " + verrs[0].Tag() + " validation"
		} else {
			msg = err.Error()
		}
		writeError(w, msg, http.StatusBadRequest)
		return false
	}
	return true
}

// --- HTTP Handlers ---

// ListIdeas handles GET /api/v1/ideas
// Query: filter, sort, order (asc|desc), limit, offset.
func (h *Handler) ListIdeas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := model.IdeaQuery{
		Filter:     model.IdeaFilter(q.Get("filter")),
		Sort:       model.IdeaSort(q.Get("sort")),
		Descending: q.Get("order") == "desc",
		Now:        h.now(),
	}
	if order := q.Get("order"); order != "" && order != "asc" && order != "desc" {
		writeError(w, "order must be asc or desc", http.StatusBadRequest)
		return
	}
	for name, dst := range map[string]*int{"limit": &query.Limit, "offset": &query.Offset} {
		if raw := q.Get(name); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeError(w, name+" must be a non-negative integer", http.StatusBadRequest)
				return
			}
			*dst = n
		}
	}

	list, err := h.Ideas.List(r.Context(), query)
	if err != nil {
		writeFailure(w, r, h.Logger, err)
		return
	}

	views := make([]IdeaView, len(list))
	for i := range list {
		views[i] = h.view(&list[i], query.Now)
	}
	writeJSON(w, http.StatusOK, views)
}

// GetIdea handles GET /api/v1/ideas/{ideaID}
func (h *Handler) GetIdea(w http.ResponseWriter, r *http.Request) {
	idea, err := h.Ideas.Get(r.Context(), chi.URLParam(r, "ideaID"))
	if err != nil {
		writeFailure(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(idea, h.now()))
}

// CreateIdea handles POST /api/v1/ideas
func (h *Handler) CreateIdea(w http.ResponseWriter, r *http.Request) {
	var req ideas.NewIdea
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	id, err := h.Ideas.Create(r.Context(), req)
	if err != nil {
		writeFailure(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// Login handles POST /api/v1/login
// Creates the caller's account with the starting balance on first login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	var req LoginRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	nickname := req.Nickname
	if nickname == "" {
		nickname = p.Nickname
	}

	session, err := h.Accounts.Login(r.Context(), p.AccountID, nickname)
	if err != nil {
		writeFailure(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Account: session.Account, Created: session.Created})
}

// GetBalance handles GET /api/v1/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	balance, err := h.Accounts.Balance(r.Context(), p.AccountID)
	if err != nil {
		writeFailure(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": p.AccountID,
		"balance":    balance,
	})
}

// GetHistory handles GET /api/v1/history
// Returns the caller's own events, optionally filtered by ?type= (repeatable).
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	q := r.URL.Query()

	var types []model.EventType
	for _, raw := range q["type"] {
		t, err := model.ParseEventType(raw)
		if err != nil {
			writeFailure(w, r, h.Logger, err)
			return
		}
		types = append(types, t)
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := h.Accounts.History(r.Context(), p.AccountID, types, limit)
	if err != nil {
		writeFailure(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// SetEmail handles PUT /api/v1/profile/email
func (h *Handler) SetEmail(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	var req EmailRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if err := h.Accounts.SetEmail(r.Context(), p.AccountID, req.Email); err != nil {
		writeFailure(w, r, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PlaceBet handles POST /api/v1/ideas/{ideaID}/bets
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	var req BetRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	receipt, err := h.Betting.PlaceBet(r.Context(), p, chi.URLParam(r, "ideaID"), *req.Side, req.Coins)
	if err != nil {
		writeFailure(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

// ResolveIdea handles POST /api/v1/ideas/{ideaID}/resolve
func (h *Handler) ResolveIdea(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	ideaID := chi.URLParam(r, "ideaID")
	var req ResolveRequest
	if !h.decode(w, r, &req, false) {
		return
	}

	prizes, err := h.Resolution.Resolve(r.Context(), p, ideaID, *req.Resolution, req.Proof)
	if err != nil {
		writeFailure(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement(ideaID, prizes))
}

// ResumeResolution handles POST /api/v1/ideas/{ideaID}/resume
func (h *Handler) ResumeResolution(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.FromContext(r.Context())
	ideaID := chi.URLParam(r, "ideaID")

	prizes, err := h.Resolution.Resume(r.Context(), p, ideaID)
	if err != nil {
		writeFailure(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement(ideaID, prizes))
}

func settlement(ideaID string, prizes []model.Prize) SettlementResponse {
	if prizes == nil {
		prizes = []model.Prize{}
	}
	return SettlementResponse{IdeaID: ideaID, Prizes: prizes, Total: parimutuel.Total(prizes)}
}
