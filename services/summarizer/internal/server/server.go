package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mailguard/internal/ratelimit"
	"mailguard/internal/util"
	"mailguard/pkg/domain"
	"mailguard/services/summarizer/internal/app"
	"mailguard/services/summarizer/internal/security"
)

const sessionCookieName = "mailguard_session"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	Redis                      *redis.Client
	LoginRateLimitPerMinute    int
	RegisterRateLimitPerMinute int
	TrustedProxies             *util.TrustedProxies
	CORSOrigins                []string
	CookieSecure               bool
	SessionTTL                 time.Duration
}

// Server exposes the summarizer HTTP API.
type Server struct {
	app             *app.App
	mux             *http.ServeMux
	trusted         *util.TrustedProxies
	corsOrigins     []string
	cookieSecure    bool
	sessionTTL      time.Duration
	loginLimiter    *ratelimit.FixedWindowLimiter
	registerLimiter *ratelimit.FixedWindowLimiter
	alerter         *security.AuditAlerter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	loginLimit := cfg.LoginRateLimitPerMinute
	if loginLimit <= 0 {
		loginLimit = 10
	}
	registerLimit := cfg.RegisterRateLimitPerMinute
	if registerLimit <= 0 {
		registerLimit = 5
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.Redis, "mailguard:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	loginLimiter, err := newLimiter("login", loginLimit)
	if err != nil {
		return nil, err
	}
	registerLimiter, err := newLimiter("register", registerLimit)
	if err != nil {
		return nil, err
	}
	alerter, err := security.NewAuditAlerter(cfg.Redis, "mailguard:alerts")
	if err != nil {
		return nil, fmt.Errorf("init audit alerter: %w", err)
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = 12 * time.Hour
	}
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		trusted:         cfg.TrustedProxies,
		corsOrigins:     cfg.CORSOrigins,
		cookieSecure:    cfg.CookieSecure,
		sessionTTL:      sessionTTL,
		loginLimiter:    loginLimiter,
		registerLimiter: registerLimiter,
		alerter:         alerter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("summarizer",
		util.WithSecurityHeaders(s.trusted, util.WithCORS(s.corsOrigins, s.gate(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// accounts
	s.mux.HandleFunc("/api/register", s.handleRegister)
	s.mux.HandleFunc("/api/login", s.handleLogin)
	s.mux.HandleFunc("/api/me", s.handleMe)
	s.mux.Handle("/api/logout", s.authenticated(s.handleLogout))

	// summarization
	s.mux.Handle("/api/config", s.authenticated(s.handleConfig))
	s.mux.Handle("/api/summarize", s.authenticated(s.handleSummarize))
	s.mux.Handle("/api/quota", s.authenticated(s.handleQuota))
	s.mux.Handle("/api/token_stats", s.authenticated(s.handleTokenStats))

	// mock mailbox
	s.mux.Handle("/api/emails", s.authenticated(s.handleEmails))
	s.mux.Handle("/api/emails/", s.authenticated(s.handleEmailByID))
	s.mux.Handle("/api/add_malicious", s.authenticated(s.handleAddMalicious))
	s.mux.Handle("/api/remove_malicious", s.authenticated(s.handleRemoveMalicious))

	// admin
	s.mux.Handle("/api/signup-keys", s.adminOnly(s.handleSignupKeys))
	s.mux.Handle("/api/signup-keys/revoke", s.adminOnly(s.handleRevokeSignupKey))
	s.mux.Handle("/api/admin/config", s.adminOnly(s.handleAdminConfig))
	s.mux.Handle("/api/admin/models", s.adminOnly(s.handleAdminModels))
	s.mux.Handle("/api/admin/users", s.adminOnly(s.handleAdminUsers))
	s.mux.Handle("/api/admin/users/reset-password", s.adminOnly(s.handleAdminResetPassword))
	s.mux.Handle("/api/admin/users/delete", s.adminOnly(s.handleAdminDeleteUser))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := principalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, app.ErrAuthRequired.Error())
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !user.IsAdmin() {
			s.audit(r, "admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, app.ErrForbidden.Error())
			return
		}
		next(w, r, user)
	})
}

// sessionUser resolves the principal from the bearer token or the session
// cookie.
func (s *Server) sessionUser(r *http.Request) (domain.User, bool) {
	token, ok := sessionToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(token)
}

// account handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter) {
		s.audit(r, "register", "rate_limited")
		return
	}
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, token, err := s.app.Register(req.Key, req.Username, req.Password)
	if err != nil {
		s.audit(r, "register", "fail", "username", req.Username, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "register", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, sessionResponse{Username: user.Username, Role: user.Role, Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter) {
		s.audit(r, "login", "rate_limited")
		return
	}
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	user, token, err := s.app.Login(req.Username, req.Password)
	if err != nil {
		s.audit(r, "login", "fail", "username", req.Username, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "login", "success", "user_id", user.ID)
	s.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, sessionResponse{Username: user.Username, Role: user.Role, Token: token})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	token, _ := sessionToken(r)
	if err := s.app.Logout(token); err != nil {
		s.audit(r, "logout", "fail", "user_id", user.ID, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "logout", "success", "user_id", user.ID)
	s.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, ok := principalFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, meResponse{Authenticated: false})
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Authenticated: true, Username: user.Username, Role: user.Role})
}

// summarization handlers
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		eff, err := s.app.Policies().Resolve(user)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, eff.Policy)
	case http.MethodPost:
		var patch app.PolicyPatch
		if !decodeBody(w, r, &patch) {
			return
		}
		eff, err := s.app.Policies().Update(user, patch)
		if err != nil {
			s.audit(r, "config.update", "fail", "user_id", user.ID, "reason", err.Error())
			s.writeAppError(w, r, err)
			return
		}
		scope, message := "user", "User configuration updated"
		if user.IsAdmin() {
			scope, message = "global", "Admin global configuration updated"
		}
		s.audit(r, "config.update", "success", "user_id", user.ID, "scope", scope)
		writeJSON(w, http.StatusOK, map[string]any{"message": message, "config": eff.Policy})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req summarizeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	summary, err := s.app.Summarize(r.Context(), user, req.Documents)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	status, err := s.app.Quota(user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleTokenStats(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.app.TokenStats()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// mailbox handlers
func (s *Server) handleEmails(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	includeMalicious := strings.EqualFold(r.URL.Query().Get("include_malicious"), "true")
	writeJSON(w, http.StatusOK, s.app.Mailbox().List(includeMalicious))
}

func (s *Server) handleEmailByID(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/emails/"))
	if err != nil {
		writeError(w, http.StatusNotFound, app.ErrNotFound.Error())
		return
	}
	email, ok := s.app.Mailbox().Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, app.ErrNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, email)
}

func (s *Server) handleAddMalicious(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	email, added := s.app.Mailbox().AddMalicious()
	if !added {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Malicious email already added."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Malicious email added.", "email": email})
}

func (s *Server) handleRemoveMalicious(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.app.Mailbox().RemoveMalicious() {
		writeJSON(w, http.StatusOK, map[string]string{"message": "Malicious email not found."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Malicious email removed."})
}

// admin handlers
func (s *Server) handleSignupKeys(w http.ResponseWriter, r *http.Request, admin domain.User) {
	switch r.Method {
	case http.MethodGet:
		keys, err := s.app.ListSignupKeys()
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, keys)
	case http.MethodPost:
		var req signupKeysRequest
		if !decodeBody(w, r, &req) {
			return
		}
		tokens, err := s.app.CreateSignupKeys(req.Count)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "signup_keys.create", "success", "user_id", admin.ID, "count", len(tokens))
		writeJSON(w, http.StatusOK, map[string][]string{"tokens": tokens})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRevokeSignupKey(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req revokeKeyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.app.RevokeSignupKey(strings.TrimSpace(req.Token)); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "signup_keys.revoke", "success", "user_id", admin.ID)
	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (s *Server) handleAdminConfig(w http.ResponseWriter, r *http.Request, admin domain.User) {
	switch r.Method {
	case http.MethodGet:
		global, err := s.app.Policies().Global()
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, global.Policy)
	case http.MethodPost:
		var req adminConfigRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Limits == nil || req.Limits.DailySummarizeQuota == nil {
			global, err := s.app.Policies().Global()
			if err != nil {
				s.writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, global.Policy)
			return
		}
		policy, err := s.app.Policies().SetDailyQuota(*req.Limits.DailySummarizeQuota)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "admin.config.update", "success", "user_id", admin.ID,
			"daily_summarize_quota", policy.Limits.DailySummarizeQuota)
		writeJSON(w, http.StatusOK, policy)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminModels(w http.ResponseWriter, r *http.Request, admin domain.User) {
	switch r.Method {
	case http.MethodGet:
		global, err := s.app.Policies().Global()
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"models": global.Policy.LLM.Models})
	case http.MethodPost:
		var req adminModelRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Key) == "" || req.Enabled == nil {
			writeError(w, http.StatusBadRequest, app.ErrBadRequest.Error())
			return
		}
		policy, err := s.app.Policies().SetModelEnabled(strings.TrimSpace(req.Key), *req.Enabled)
		if err != nil {
			s.writeAppError(w, r, err)
			return
		}
		s.audit(r, "admin.models.update", "success", "user_id", admin.ID, "model", req.Key, "enabled", *req.Enabled)
		writeJSON(w, http.StatusOK, map[string]any{"models": policy.LLM.Models})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleAdminUsers(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	users, err := s.app.ListUsers()
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]adminUserView, 0, len(users))
	for _, u := range users {
		out = append(out, adminUserView{ID: u.ID, Username: u.Username, Role: u.Role})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAdminResetPassword(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req resetPasswordRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.app.ResetPassword(req.Username, req.Password); err != nil {
		s.audit(r, "admin.users.reset_password", "fail", "user_id", admin.ID, "target", req.Username, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "admin.users.reset_password", "success", "user_id", admin.ID, "target", req.Username)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleAdminDeleteUser(w http.ResponseWriter, r *http.Request, admin domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req deleteUserRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.app.DeleteUser(admin, req.Username); err != nil {
		s.audit(r, "admin.users.delete", "fail", "user_id", admin.ID, "target", req.Username, "reason", err.Error())
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "admin.users.delete", "success", "user_id", admin.ID, "target", req.Username)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type registerRequest struct {
	Key      string `json:"key"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Username string          `json:"username"`
	Role     domain.UserRole `json:"role"`
	Token    string          `json:"token"`
}

type meResponse struct {
	Authenticated bool            `json:"authenticated"`
	Username      string          `json:"username,omitempty"`
	Role          domain.UserRole `json:"role,omitempty"`
}

type summarizeRequest struct {
	Documents []string `json:"documents"`
}

type signupKeysRequest struct {
	Count int `json:"count"`
}

type revokeKeyRequest struct {
	Token string `json:"token"`
}

type adminConfigRequest struct {
	Limits *struct {
		DailySummarizeQuota *int `json:"daily_summarize_quota"`
	} `json:"limits"`
}

type adminModelRequest struct {
	Key     string `json:"key"`
	Enabled *bool  `json:"enabled"`
}

type adminUserView struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Role     domain.UserRole `json:"role"`
}

type resetPasswordRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type deleteUserRequest struct {
	Username string `json:"username"`
}

func sessionToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token != "" {
			return token, true
		}
	}
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return "", false
	}
	return strings.TrimSpace(cookie.Value), true
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// decodeBody reads a JSON body of at most 1 MiB. An empty body decodes to
// the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, app.ErrBadRequest.Error())
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps application errors to HTTP responses.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var exceeded *app.QuotaExceededError
	var notAllowed *app.ModelNotAllowedError
	switch {
	case errors.As(err, &exceeded):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "quota_exceeded", "limit": exceeded.Limit})
	case errors.As(err, &notAllowed):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "model_not_allowed", "allowed": notAllowed.Allowed})
	case errors.Is(err, app.ErrEmptyInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "empty_input", "message": app.ErrEmptyInput.Error()})
	case errors.Is(err, app.ErrDetectorFailure):
		writeError(w, http.StatusBadGateway, app.ErrDetectorFailure.Error())
	case errors.Is(err, app.ErrProviderFailure):
		writeError(w, http.StatusBadGateway, app.ErrProviderFailure.Error())
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, app.ErrInvalidCredentials.Error())
	case errors.Is(err, app.ErrAuthRequired):
		writeError(w, http.StatusUnauthorized, app.ErrAuthRequired.Error())
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, app.ErrForbidden.Error())
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, app.ErrNotFound.Error())
	default:
		for _, sentinel := range []error{
			app.ErrInvalidPolicy, app.ErrBadRequest, app.ErrUsernameTaken,
			app.ErrInvalidKey, app.ErrKeyUsed, app.ErrCannotDeleteSelf,
		} {
			if errors.Is(err, sentinel) {
				writeError(w, http.StatusBadRequest, sentinel.Error())
				return
			}
		}
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trusted)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert evaluation failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	allowed, retryAfter := limiter.Allow(r.Context(), key)
	if allowed {
		return true
	}
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, "rate_limited")
	return false
}
