package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/learning"
)

// LearningHandlers provides HTTP handlers for learning, tasks, intents and focus
type LearningHandlers struct {
	service *learning.Service
	server  *Server
}

// NewLearningHandlers creates handlers for learning endpoints
func NewLearningHandlers(service *learning.Service, server *Server) *LearningHandlers {
	return &LearningHandlers{
		service: service,
		server:  server,
	}
}

// RegisterRoutes registers learning routes on the router
func (h *LearningHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/learning", func(r chi.Router) {
		r.Post("/learn", h.handleLearn)
		r.Get("/profile", h.handleGetProfile)
		r.Get("/insights", h.handleGetInsights)
		r.Get("/overwhelm", h.handleCheckOverwhelm)
		r.Get("/scope", h.handleSuggestScope)
		r.Get("/focus", h.handleGetFocusTask)
	})

	r.Post("/events", h.handleEmitEvent)
	r.Get("/events", h.handleGetEvents)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.handleCreateTask)
		r.Get("/", h.handleListTasks)
		r.Get("/{taskID}", h.handleGetTask)
		r.Post("/{taskID}/start", h.handleStartTask)
		r.Post("/{taskID}/complete", h.handleCompleteTask)
		r.Post("/{taskID}/abandon", h.handleAbandonTask)
		r.Post("/{taskID}/defer", h.handleDeferTask)
	})

	r.Post("/intents", h.handleExpressIntent)
	r.Post("/focus/start", h.handleStartFocus)
	r.Post("/focus/end", h.handleEndFocus)
}

// handleLearn triggers a learning pass for the caller
func (h *LearningHandlers) handleLearn(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}

	lookback := h.server.cfg.ManualLookback
	if v := r.URL.Query().Get("lookback_hours"); v != "" {
		hours, err := strconv.ParseFloat(v, 64)
		if err != nil || hours <= 0 {
			h.server.respondError(w, http.StatusBadRequest, "lookback_hours must be a positive number")
			return
		}
		lookback = time.Duration(hours * float64(time.Hour))
	}

	result, err := h.service.Learn(r.Context(), userID, lookback)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusOK, result)
}

func (h *LearningHandlers) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	profile, err := h.service.Profile(r.Context(), userID)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusOK, profile)
}

func (h *LearningHandlers) handleGetInsights(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	insights, err := h.service.Insights(r.Context(), userID)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusOK, map[string]interface{}{
		"insights": insights,
		"count":    len(insights),
	})
}

// handleCheckOverwhelm runs an overwhelm check, offering a scope reduction when needed
func (h *LearningHandlers) handleCheckOverwhelm(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	check, err := h.service.CheckOverwhelm(r.Context(), userID)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	if check == nil || !check.IsOverwhelmed {
		resp := map[string]interface{}{
			"is_overwhelmed": false,
			"message":        "You're doing fine.",
		}
		if check != nil {
			resp["score"] = check.Score
			resp["signals"] = check.Signals
		}
		h.server.respondJSON(w, http.StatusOK, resp)
		return
	}
	h.server.respondJSON(w, http.StatusOK, check)
}

func (h *LearningHandlers) handleSuggestScope(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	suggestion, err := h.service.SuggestScope(r.Context(), userID)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusOK, suggestion)
}

func (h *LearningHandlers) handleGetFocusTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	task, err := h.service.FocusTask(r.Context(), userID)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	if task == nil {
		h.server.respondJSON(w, http.StatusOK, map[string]interface{}{
			"task":    nil,
			"message": "No pending tasks. Take a break.",
		})
		return
	}
	h.server.respondJSON(w, http.StatusOK, map[string]interface{}{"task": task})
}

// handleEmitEvent records a client-reported behavioral event
func (h *LearningHandlers) handleEmitEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	var input struct {
		EventType  core.EventType         `json:"event_type"`
		EntityType string                 `json:"entity_type"`
		EntityID   string                 `json:"entity_id"`
		Data       map[string]interface{} `json:"event_data"`
	}
	if err := decodeJSON(r, &input); err != nil {
		h.server.respondErr(w, r, err)
		return
	}

	event, err := h.service.Emit(r.Context(), userID, input.EventType, input.EntityType, input.EntityID, input.Data)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusCreated, event)
}

func (h *LearningHandlers) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	events, err := h.service.History(r.Context(), userID, core.EventType(r.URL.Query().Get("type")), limit)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

func (h *LearningHandlers) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	var input learning.NewTask
	if err := decodeJSON(r, &input); err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	task, err := h.service.Tracker().CreateTask(r.Context(), userID, input)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusCreated, task)
}

func (h *LearningHandlers) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	tasks, err := h.service.Tracker().ListTasks(r.Context(), userID, core.TaskStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (h *LearningHandlers) handleGetTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	task, err := h.service.Tracker().GetTask(r.Context(), userID, chi.URLParam(r, "taskID"))
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusOK, task)
}

func (h *LearningHandlers) handleStartTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Tracker().StartTask)
}

func (h *LearningHandlers) handleCompleteTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Tracker().CompleteTask)
}

func (h *LearningHandlers) handleDeferTask(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Tracker().DeferTask)
}

func (h *LearningHandlers) handleAbandonTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	var input struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &input); err != nil {
			h.server.respondErr(w, r, err)
			return
		}
	}
	task, err := h.service.Tracker().AbandonTask(r.Context(), userID, chi.URLParam(r, "taskID"), input.Reason)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusOK, map[string]interface{}{
		"task":    task,
		"message": "Noted. Learning from this.",
	})
}

type taskTransition func(ctx context.Context, userID core.UserID, taskID string) (*core.Task, error)

func (h *LearningHandlers) transition(w http.ResponseWriter, r *http.Request, fn taskTransition) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	task, err := fn(r.Context(), userID, chi.URLParam(r, "taskID"))
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusOK, task)
}

func (h *LearningHandlers) handleExpressIntent(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	var input learning.NewIntent
	if err := decodeJSON(r, &input); err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	intent, err := h.service.Tracker().ExpressIntent(r.Context(), userID, input)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusCreated, intent)
}

type focusRequest struct {
	TaskID string `json:"task_id"`
}

func (h *LearningHandlers) handleStartFocus(w http.ResponseWriter, r *http.Request) {
	h.focus(w, r, h.service.Tracker().StartFocus)
}

func (h *LearningHandlers) handleEndFocus(w http.ResponseWriter, r *http.Request) {
	h.focus(w, r, h.service.Tracker().EndFocus)
}

func (h *LearningHandlers) focus(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, userID core.UserID, taskID string) (*core.BehavioralEvent, error)) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	var input focusRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &input); err != nil {
			h.server.respondErr(w, r, err)
			return
		}
	}
	event, err := fn(r.Context(), userID, input.TaskID)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusOK, event)
}
