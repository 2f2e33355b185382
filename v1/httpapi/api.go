package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/formloom/formloom/v1/auth"
	"github.com/formloom/formloom/v1/form"
	"github.com/formloom/formloom/v1/presence"
	"github.com/formloom/formloom/v1/response"
	"github.com/formloom/formloom/v1/session"
)

// ConnectionCounter reports live transport connections for the health
// endpoint. Implemented by the websocket hub.
type ConnectionCounter interface {
	Connections() int
}

// API is the REST glue around the collaboration engine: auth, form CRUD,
// share-code joins, direct response writes and health.
type API struct {
	forms     form.Store
	auth      *auth.Service
	engine    *session.Engine
	reg       *presence.Registry
	responses *response.Store
	conns     ConnectionCounter

	limitRate  rate.Limit
	limitBurst int
	limMu      sync.Mutex
	limiters   map[string]*rate.Limiter
}

// Option configures an API.
type Option func(*API)

// WithRateLimit sets the per-IP request rate and burst for /api/ routes.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(a *API) {
		a.limitRate = r
		a.limitBurst = burst
	}
}

// WithConnectionCounter wires the health endpoint's connection count.
func WithConnectionCounter(c ConnectionCounter) Option {
	return func(a *API) {
		a.conns = c
	}
}

// New returns an API over the given collaborators.
func New(forms form.Store, authSvc *auth.Service, engine *session.Engine, reg *presence.Registry, responses *response.Store, opts ...Option) *API {
	a := &API{
		forms:      forms,
		auth:       authSvc,
		engine:     engine,
		reg:        reg,
		responses:  responses,
		limitRate:  rate.Every(9 * time.Second), // ~100 requests per 15 minutes
		limitBurst: 20,
		limiters:   make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Routes returns the API handler.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", a.handleRegister)
	mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/forms", a.requireAuth(a.handleListForms))
	mux.HandleFunc("POST /api/forms", a.requireAuth(a.handleCreateForm))
	mux.HandleFunc("GET /api/forms/{id}", a.requireAuth(a.handleGetForm))
	mux.HandleFunc("GET /api/forms/join/{code}", a.handleJoinByCode)
	mux.HandleFunc("PUT /api/forms/{id}/response", a.handlePutResponse)
	mux.HandleFunc("GET /api/health", a.handleHealth)
	return a.rateLimit(mux)
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, token, err := a.auth.Register(r.Context(), req.Username, req.Email, req.Password, req.Role)
	if errors.Is(err, auth.ErrUserExists) {
		writeError(w, http.StatusBadRequest, "user already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "user created successfully",
		"token":   token,
		"user":    u,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	u, token, err := a.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "login successful",
		"token":   token,
		"user":    u,
	})
}

type createFormRequest struct {
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Fields      []form.Field `json:"fields"`
}

func (a *API) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	var req createFormRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	now := time.Now()
	f := form.Form{
		ID:          form.NewID(),
		Title:       req.Title,
		Description: req.Description,
		Fields:      req.Fields,
		ShareCode:   form.NewShareCode(),
		CreatedBy:   claims.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := f.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.forms.Put(r.Context(), f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "form created successfully",
		"form":    f,
	})
}

type listedForm struct {
	form.Form
	ResponseCount int `json:"responseCount"`
	ActiveUsers   int `json:"activeUsers"`
}

func (a *API) handleListForms(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	forms, err := a.forms.List(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]listedForm, 0, len(forms))
	for _, f := range forms {
		lf := listedForm{Form: f, ActiveUsers: a.reg.Count(f.ID)}
		if a.responses.Has(f.ID) {
			lf.ResponseCount = 1
		}
		out = append(out, lf)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetForm(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	id := r.PathValue("id")
	f, ok, err := a.forms.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "form not found")
		return
	}
	if f.CreatedBy != claims.UserID && claims.Role != "admin" {
		writeError(w, http.StatusForbidden, "access denied")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"form":        f,
		"response":    a.responses.Snapshot(id),
		"activeUsers": a.reg.Count(id),
	})
}

func (a *API) handleJoinByCode(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	f, ok, err := a.forms.GetByShareCode(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "form not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"form": map[string]any{
			"id":          f.ID,
			"title":       f.Title,
			"description": f.Description,
			"fields":      f.Fields,
		},
		"response":    a.responses.Snapshot(f.ID),
		"activeUsers": a.reg.Count(f.ID),
	})
}

type putResponseRequest struct {
	FieldName string `json:"fieldName"`
	Value     any    `json:"value"`
}

func (a *API) handlePutResponse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req putResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	f, ok, err := a.forms.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "form not found")
		return
	}
	if _, ok := f.Field(req.FieldName); !ok {
		writeError(w, http.StatusBadRequest, "field not found in form")
		return
	}
	a.engine.WriteResponse(r.Context(), id, req.FieldName, req.Value)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "response updated successfully",
		"response": a.responses.Snapshot(id),
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	connections := 0
	if a.conns != nil {
		connections = a.conns.Connections()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "OK",
		"timestamp":         time.Now(),
		"activeConnections": connections,
		"activeForms":       a.reg.Forms(),
	})
}

type contextKey string

const claimsKey contextKey = "claims"

func contextWithClaims(ctx context.Context, c auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, c)
}

func claimsFrom(r *http.Request) auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(auth.Claims)
	return claims
}

func (a *API) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "access token required")
			return
		}
		claims, err := a.auth.Verify(token)
		if err != nil {
			writeError(w, http.StatusForbidden, "invalid or expired token")
			return
		}
		ctx := contextWithClaims(r.Context(), claims)
		next(w, r.WithContext(ctx))
	}
}

func (a *API) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		a.limMu.Lock()
		lim := a.limiters[host]
		if lim == nil {
			lim = rate.NewLimiter(a.limitRate, a.limitBurst)
			a.limiters[host] = lim
		}
		a.limMu.Unlock()
		if !lim.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
