// Package api exposes the HTTP interface for the backlink monitor.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/backlink-monitor/internal/backlink"
	"github.com/JakeFAU/backlink-monitor/internal/config"
	idgen "github.com/JakeFAU/backlink-monitor/internal/id/uuid"
	"github.com/JakeFAU/backlink-monitor/internal/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	requestTimeout   = 60 * time.Second
)

// Enqueuer queues a manual verification.
type Enqueuer interface {
	Enqueue(ctx context.Context, backlinkID int64) error
}

// Acknowledger clears the changed status of a backlink.
type Acknowledger interface {
	Acknowledge(ctx context.Context, backlinkID int64) (backlink.Backlink, error)
}

// WebhookTester sends a signed test event to a subscriber.
type WebhookTester interface {
	SendTest(ctx context.Context, sub backlink.Subscriber) error
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Deps are the collaborators the handlers call.
type Deps struct {
	Store        backlink.Store
	Enqueuer     Enqueuer
	Acknowledger Acknowledger
	Webhooks     WebhookTester
	Ready        ReadinessCheck
}

// Server wires HTTP handlers to the store, scheduler and state machine.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes. Probes and /metrics
// stay reachable without an API key.
func NewServer(deps Deps, auth config.AuthConfig, logger *zap.Logger) *Server {
	metrics.Init()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		r.Route("/backlinks/{backlink_id}", func(r chi.Router) {
			r.Post("/check", s.checkBacklink)
			r.Get("/checks", s.listChecks)
			r.Post("/acknowledge", s.acknowledge)
		})
		r.Get("/alerts", s.listAlerts)
		r.Post("/alerts/{alert_id}/read", s.markAlertRead)
		r.Post("/webhooks/test", s.testWebhook)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) checkBacklink(w http.ResponseWriter, r *http.Request) {
	id, ok := s.backlinkID(w, r)
	if !ok {
		return
	}
	if err := s.deps.Enqueuer.Enqueue(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"backlink_id": id, "status": "queued"})
}

func (s *Server) listChecks(w http.ResponseWriter, r *http.Request) {
	id, ok := s.backlinkID(w, r)
	if !ok {
		return
	}
	limit, ok := s.limit(w, r)
	if !ok {
		return
	}
	if _, err := s.deps.Store.GetBacklink(r.Context(), id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	checks, err := s.deps.Store.ListChecks(r.Context(), id, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if checks == nil {
		checks = []backlink.Check{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"checks": checks})
}

func (s *Server) acknowledge(w http.ResponseWriter, r *http.Request) {
	id, ok := s.backlinkID(w, r)
	if !ok {
		return
	}
	b, err := s.deps.Acknowledger.Acknowledge(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"backlink": b})
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.limit(w, r)
	if !ok {
		return
	}
	unread := false
	if raw := r.URL.Query().Get("unread"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "unread must be a boolean")
			return
		}
		unread = v
	}
	alerts, err := s.deps.Store.ListAlerts(r.Context(), unread, limit)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if alerts == nil {
		alerts = []backlink.Alert{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) markAlertRead(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alert_id")
	if !idgen.Valid(alertID) {
		s.writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	if err := s.deps.Store.MarkAlertRead(r.Context(), alertID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"alert_id": alertID, "is_read": true})
}

type webhookTestRequest struct {
	UserID int64 `json:"user_id"`
}

func (s *Server) testWebhook(w http.ResponseWriter, r *http.Request) {
	var req webhookTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		s.writeError(w, http.StatusBadRequest, "user_id required")
		return
	}
	sub, err := s.deps.Store.GetSubscriber(r.Context(), req.UserID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.deps.Webhooks.SendTest(r.Context(), sub); err != nil {
		s.logger.Warn("test webhook failed", zap.Int64("user_id", req.UserID), zap.Error(err))
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"user_id": req.UserID, "delivered": true})
}

func (s *Server) backlinkID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "backlink_id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid backlink id")
		return 0, false
	}
	return id, true
}

func (s *Server) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return min(n, maxListLimit), true
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, backlink.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, backlink.ErrNotChanged):
		s.writeError(w, http.StatusConflict, "backlink is not in changed status")
	case errors.Is(err, backlink.ErrQueueClosed):
		s.writeError(w, http.StatusServiceUnavailable, "shutting down")
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusRequestTimeout, "request timed out")
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.String("request_id", reqID),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
