package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tradepost/internal/config"
	"tradepost/internal/domain"
	"tradepost/internal/metrics"
	"tradepost/internal/service/market"
)

var logger logrus.FieldLogger = logrus.StandardLogger()

type contextKey string

const contextKeyAdminSubject contextKey = "admin_subject"

// EventLister exposes the audit journal.
type EventLister interface {
	List(limit int) []domain.Event
}

type Server struct {
	cfg    config.Config
	market *market.Market
	events EventLister
}

func NewServer(cfg config.Config, m *market.Market, events EventLister) *Server {
	return &Server{
		cfg:    cfg,
		market: m,
		events: events,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, instrument, middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/admin/login", s.handleAdminLogin)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireAdmin)
		protected.Get("/admin/users", s.handleListUsers)
		protected.Get("/admin/items", s.handleListItems)
		protected.Get("/admin/sessions", s.handleListSessions)
		protected.Get("/admin/events", s.handleListEvents)
		protected.Post("/admin/commit", s.handleCommit)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"time":     time.Now().UTC().Format(time.RFC3339),
		"sessions": len(s.market.ActiveUsers()),
	})
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !equalSecret(req.Username, s.cfg.AdminUsername) || !equalSecret(req.Password, s.cfg.AdminPassword) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.signAdminToken(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create admin token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expiresAt.Format(time.RFC3339),
		"type":       "Bearer",
	})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	accounts := s.market.Accounts()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users": accounts,
		"count": len(accounts),
	})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items := s.market.Items()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	active := s.market.ActiveUsers()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": active,
		"count":  len(active),
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := positiveInt(r.URL.Query().Get("limit"), 20)
	events := []domain.Event{}
	if s.events != nil {
		events = s.events.List(limit)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	subject, _ := r.Context().Value(contextKeyAdminSubject).(string)
	if err := s.market.Commit(r.Context(), market.TriggerAdmin); err != nil {
		writeError(w, http.StatusInternalServerError, "commit failed")
		return
	}
	logger.WithField("admin", subject).Info("store committed on admin request")
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// adminTokenTTL bounds how long a signed admin token is accepted.
const adminTokenTTL = 12 * time.Hour

func (s *Server) signAdminToken(subject string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(adminTokenTTL)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	keyFunc := func(*jwt.Token) (interface{}, error) {
		return []byte(s.cfg.JWTSecret), nil
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r.Header.Get("Authorization"))
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		var claims jwt.RegisteredClaims
		token, err := jwt.ParseWithClaims(raw, &claims, keyFunc,
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		)
		if err != nil || !token.Valid || claims.Subject == "" {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyAdminSubject, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func equalSecret(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// instrument logs each request and counts it by matched route.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		metrics.RecordAdminRequest(r.Method, route, status)
		logger.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("admin request")
	})
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// positiveInt parses a query value, falling back on anything that is not a
// positive integer.
func positiveInt(raw string, fallback int) int {
	if v, err := strconv.Atoi(raw); err == nil && v > 0 {
		return v
	}
	return fallback
}

func decodeJSON(r *http.Request, target interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
