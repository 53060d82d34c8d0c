package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/cargolift/cargolift/internal/authz"
	"github.com/cargolift/cargolift/internal/observability/logger"
	"github.com/cargolift/cargolift/internal/session"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	sessionService *session.Service
	gateway        *authz.Gateway
	cookieConfig   CookieConfig
}

// CookieConfig holds refresh-token cookie configuration
type CookieConfig struct {
	Name   string
	Domain string
	Path   string
	Secure bool
}

// NewHandler creates a new HTTP handler
func NewHandler(sessionService *session.Service, gateway *authz.Gateway, cookieConfig CookieConfig) *Handler {
	return &Handler{
		sessionService: sessionService,
		gateway:        gateway,
		cookieConfig:   cookieConfig,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	// Session lifecycle
	r.Route("/auth", func(r chi.Router) {
		r.Post("/signin", h.SignIn)
		r.Post("/refresh", h.Refresh)
		r.Post("/signout", h.SignOut)
	})

	// Incident-response surface, administrators only
	r.Route("/admin", func(r chi.Router) {
		r.Use(h.RequireAuth)
		r.Post("/token-families/{familyID}/revoke", h.RevokeFamily)
	})

	return r
}

// HealthCheck reports service liveness
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// SignIn verifies credentials and opens a new token family.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := h.sessionService.SignIn(r.Context(), req.Email, req.Password, requestSource(r))
	if err != nil {
		// One body for every credential failure.
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	h.setRefreshCookie(w, pair)
	respondTokens(w, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates the presented refresh token. All session failures,
// including detected reuse, map to the same 401 body so the response
// carries no signal about what was detected.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	secret := h.refreshSecretFromRequest(r)
	if secret == "" {
		respondError(w, http.StatusUnauthorized, "please sign in again")
		return
	}

	pair, err := h.sessionService.Refresh(r.Context(), secret, requestSource(r))
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidToken),
			errors.Is(err, session.ErrExpiredToken),
			errors.Is(err, session.ErrReuseDetected):
			h.clearRefreshCookie(w)
			respondError(w, http.StatusUnauthorized, "please sign in again")
		default:
			slog.ErrorContext(r.Context(), "refresh failed", logger.Error(err))
			respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.setRefreshCookie(w, pair)
	respondTokens(w, pair)
}

// SignOut revokes the presented refresh token, a single-device sign-out.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	secret := h.refreshSecretFromRequest(r)
	if secret != "" {
		if err := h.sessionService.SignOut(r.Context(), secret); err != nil && !errors.Is(err, session.ErrInvalidToken) {
			slog.ErrorContext(r.Context(), "signout failed", logger.Error(err))
		}
	}

	// Sign-out always succeeds from the caller's point of view.
	h.clearRefreshCookie(w)
	respondJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

// RevokeFamily kills a whole session lineage. Administrators only.
func (h *Handler) RevokeFamily(w http.ResponseWriter, r *http.Request) {
	if err := h.gateway.AssertRole(r.Context(), authz.RoleAdministrator); err != nil {
		respondError(w, http.StatusForbidden, "not authorized")
		return
	}

	familyID := chi.URLParam(r, "familyID")
	if familyID == "" {
		respondError(w, http.StatusBadRequest, "family id is required")
		return
	}

	if err := h.sessionService.RevokeFamily(r.Context(), familyID); err != nil {
		slog.ErrorContext(r.Context(), "family revocation failed", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// refreshSecretFromRequest reads the refresh secret from the cookie when
// present, falling back to the request body for non-browser clients.
func (h *Handler) refreshSecretFromRequest(r *http.Request) string {
	if c, err := r.Cookie(h.cookieConfig.Name); err == nil && c.Value != "" {
		return c.Value
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
		return req.RefreshToken
	}
	return ""
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, pair *session.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieConfig.Name,
		Value:    pair.RefreshToken,
		Domain:   h.cookieConfig.Domain,
		Path:     h.cookieConfig.Path,
		Expires:  pair.RefreshExpiresAt,
		Secure:   h.cookieConfig.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieConfig.Name,
		Value:    "",
		Domain:   h.cookieConfig.Domain,
		Path:     h.cookieConfig.Path,
		MaxAge:   -1,
		Secure:   h.cookieConfig.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func respondTokens(w http.ResponseWriter, pair *session.TokenPair) {
	respondJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		ExpiresIn:    pair.ExpiresIn,
		RefreshToken: pair.RefreshToken,
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
