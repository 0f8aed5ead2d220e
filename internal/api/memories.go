package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/memory"
)

// MemoryHandlers serves the caller's memories
type MemoryHandlers struct {
	manager *memory.Manager
	server  *Server
}

// NewMemoryHandlers creates memory handlers
func NewMemoryHandlers(manager *memory.Manager, server *Server) *MemoryHandlers {
	return &MemoryHandlers{manager: manager, server: server}
}

// RegisterRoutes registers memory routes on the router
func (h *MemoryHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/memories", func(r chi.Router) {
		r.Post("/", h.handleStore)
		r.Get("/", h.handleList)
		r.Get("/stats", h.handleStats)
		r.Get("/{memoryID}", h.handleRecall)
	})
}

func (h *MemoryHandlers) handleStore(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	var input struct {
		Content    string          `json:"content"`
		Type       core.MemoryType `json:"memory_type"`
		Importance float64         `json:"importance_score"`
	}
	if err := decodeJSON(r, &input); err != nil {
		h.server.respondErr(w, r, err)
		return
	}

	mem := &core.Memory{
		UserID:          userID,
		Content:         input.Content,
		Type:            input.Type,
		ImportanceScore: input.Importance,
	}
	if err := h.manager.Store(r.Context(), mem); err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusCreated, mem)
}

func (h *MemoryHandlers) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	memories, err := h.manager.Recent(r.Context(), userID, core.MemoryType(r.URL.Query().Get("type")), limit)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusOK, map[string]interface{}{
		"memories": memories,
		"count":    len(memories),
	})
}

func (h *MemoryHandlers) handleStats(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	counts, err := h.manager.CountByType(r.Context(), userID)
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusOK, map[string]interface{}{"by_type": counts})
}

// handleRecall returns one memory and counts it as retrieved
func (h *MemoryHandlers) handleRecall(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.server.requireUser(w, r)
	if !ok {
		return
	}
	mem, err := h.manager.Recall(r.Context(), userID, chi.URLParam(r, "memoryID"))
	if err != nil {
		h.server.respondErr(w, r, err)
		return
	}
	h.server.respondJSON(w, http.StatusOK, mem)
}
