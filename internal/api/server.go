// Package api provides the HTTP API server for ORBIT.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/engine"
	"github.com/orbitlabs/orbit/internal/learning"
	"github.com/orbitlabs/orbit/internal/logging"
	"github.com/orbitlabs/orbit/internal/memory"
	"github.com/orbitlabs/orbit/internal/metrics"
	"github.com/orbitlabs/orbit/internal/notifications"
	"github.com/orbitlabs/orbit/internal/scheduler"
)

// UserHeader carries the acting user on API requests
const UserHeader = "X-User-ID"

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	wsHub      *WebSocketHub

	learningService     *learning.Service
	notificationService *notifications.Service
	memoryManager       *memory.Manager
	engine              *engine.Engine
	metrics             *metrics.Exporter

	cfg Config
}

// Config for the server
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	RequestTimeout time.Duration
	ManualLookback time.Duration
	MetricsPath    string

	LearningService     *learning.Service
	NotificationService *notifications.Service
	MemoryManager       *memory.Manager
	Engine              *engine.Engine
	Metrics             *metrics.Exporter
	Hub                 *WebSocketHub
}

// New creates a new API server
func New(cfg Config) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.ManualLookback <= 0 {
		cfg.ManualLookback = 24 * time.Hour
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	hub := cfg.Hub
	if hub == nil {
		hub = NewWebSocketHub()
	}

	s := &Server{
		wsHub:               hub,
		learningService:     cfg.LearningService,
		notificationService: cfg.NotificationService,
		memoryManager:       cfg.MemoryManager,
		engine:              cfg.Engine,
		metrics:             cfg.Metrics,
		cfg:                 cfg,
	}
	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return s
}

// Router returns the HTTP handler
func (s *Server) Router() http.Handler {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)
	if s.metrics != nil {
		r.Handle(s.cfg.MetricsPath, s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))

		r.Get("/realtime/status", s.handleRealtimeStatus)

		if s.learningService != nil {
			r.Post("/users", s.handleRegisterUser)
			r.Get("/users/{userID}", s.handleGetUser)

			NewLearningHandlers(s.learningService, s).RegisterRoutes(r)
		}

		if s.notificationService != nil {
			NewNotificationsAPI(s.notificationService, s).RegisterRoutes(r)
		}

		if s.memoryManager != nil {
			NewMemoryHandlers(s.memoryManager, s).RegisterRoutes(r)
		}

		if s.engine != nil {
			r.Get("/admin/scheduler", s.handleSchedulerStats)
			r.Post("/admin/jobs/{jobID}/run", s.handleRunJob)
		}
	})

	s.router = r
}

// Start starts the HTTP server and the websocket hub
func (s *Server) Start() error {
	go s.wsHub.Run()

	logging.Info("API server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.wsHub.Stop()
	return s.httpServer.Shutdown(ctx)
}

// --- Response helpers ---

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps engine errors onto HTTP statuses
func (s *Server) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrStorage):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		logging.WithField("path", r.URL.Path).WithError(err).Error("Request failed")
	}
	s.respondError(w, status, err.Error())
}

// requireUser reads the acting user from the request header
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (core.UserID, bool) {
	id := r.Header.Get(UserHeader)
	if id == "" {
		s.respondError(w, http.StatusBadRequest, UserHeader+" header required")
		return "", false
	}
	return core.UserID(id), true
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.Invalid("body", "invalid JSON")
	}
	return nil
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.wsHub.ClientCount(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.respondError(w, http.StatusBadRequest, "user_id required")
		return
	}
	s.wsHub.ServeWS(w, r, core.UserID(userID))
}

func (s *Server) handleRealtimeStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		s.respondError(w, http.StatusBadRequest, "user_id required")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":   userID,
		"connected": s.wsHub.IsConnected(core.UserID(userID)),
	})
}

func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Email    string `json:"email"`
		Timezone string `json:"timezone"`
	}
	if err := decodeJSON(r, &input); err != nil {
		s.respondErr(w, r, err)
		return
	}

	user, err := s.learningService.RegisterUser(r.Context(), &core.User{
		ID:       core.UserID(input.ID),
		Name:     input.Name,
		Email:    input.Email,
		Timezone: input.Timezone,
	})
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.learningService.GetUser(r.Context(), core.UserID(chi.URLParam(r, "userID")))
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleSchedulerStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := s.engine.RunNow(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrJobNotFound):
			s.respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, scheduler.ErrJobBusy):
			s.respondError(w, http.StatusConflict, err.Error())
		default:
			s.respondErr(w, r, err)
		}
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"job": jobID, "status": "completed"})
}
