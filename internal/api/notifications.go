package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/orbitlabs/orbit/internal/core"
	"github.com/orbitlabs/orbit/internal/notifications"
)

// NotificationsAPI handles notification endpoints
type NotificationsAPI struct {
	service *notifications.Service
	server  *Server
}

// NewNotificationsAPI creates a new notifications API
func NewNotificationsAPI(service *notifications.Service, server *Server) *NotificationsAPI {
	return &NotificationsAPI{service: service, server: server}
}

// RegisterRoutes registers notification routes on the router
func (api *NotificationsAPI) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", api.handleSend)
		r.Get("/should-notify", api.handleShouldNotify)
		r.Get("/pending", api.handleGetPending)
		r.Delete("/pending", api.handleClearPending)
		r.Post("/deliver-pending", api.handleDeliverPending)
		r.Get("/history", api.handleHistory)
		r.Post("/{id}/read", api.handleMarkRead)
		r.Get("/preferences", api.handleGetPreferences)
		r.Put("/preferences", api.handleUpdatePreferences)
		r.Post("/test", api.handleTest)
	})
}

// handleShouldNotify reports whether the caller may be interrupted now
func (api *NotificationsAPI) handleShouldNotify(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.server.requireUser(w, r)
	if !ok {
		return
	}
	tier := core.PriorityNormal
	if p := r.URL.Query().Get("priority"); p != "" {
		parsed, err := core.ParsePriority(p)
		if err != nil {
			api.server.respondErr(w, r, err)
			return
		}
		tier = parsed
	}

	allowed, err := api.service.ShouldNotify(r.Context(), userID, tier)
	if err != nil {
		api.server.respondErr(w, r, err)
		return
	}
	api.server.respondJSON(w, http.StatusOK, map[string]interface{}{
		"should_notify": allowed,
		"priority":      tier,
	})
}

// handleSend sends a notification to the caller, queueing it if the gate says no
func (api *NotificationsAPI) handleSend(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.server.requireUser(w, r)
	if !ok {
		return
	}
	var req notifications.SendRequest
	if err := decodeJSON(r, &req); err != nil {
		api.server.respondErr(w, r, err)
		return
	}
	req.UserID = userID

	result, err := api.service.Send(r.Context(), req)
	if err != nil {
		api.server.respondErr(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	api.server.respondJSON(w, status, result)
}

func (api *NotificationsAPI) handleGetPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.server.requireUser(w, r)
	if !ok {
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	pending, err := api.service.GetPending(r.Context(), userID, limit)
	if err != nil {
		api.server.respondErr(w, r, err)
		return
	}
	api.server.respondJSON(w, http.StatusOK, map[string]interface{}{
		"pending": pending,
		"count":   len(pending),
	})
}

func (api *NotificationsAPI) handleDeliverPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.server.requireUser(w, r)
	if !ok {
		return
	}
	delivered, err := api.service.DeliverPending(r.Context(), userID)
	if err != nil {
		api.server.respondErr(w, r, err)
		return
	}
	api.server.respondJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}

func (api *NotificationsAPI) handleClearPending(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.server.requireUser(w, r)
	if !ok {
		return
	}
	cleared, err := api.service.ClearPending(r.Context(), userID)
	if err != nil {
		api.server.respondErr(w, r, err)
		return
	}
	api.server.respondJSON(w, http.StatusOK, map[string]int{"cleared": cleared})
}

func (api *NotificationsAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.server.requireUser(w, r)
	if !ok {
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, _ = strconv.Atoi(l)
	}
	history, err := api.service.History(r.Context(), userID, limit)
	if err != nil {
		api.server.respondErr(w, r, err)
		return
	}
	api.server.respondJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": history,
		"count":         len(history),
	})
}

func (api *NotificationsAPI) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.server.requireUser(w, r)
	if !ok {
		return
	}
	if err := api.service.MarkRead(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		api.server.respondErr(w, r, err)
		return
	}
	api.server.respondJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

func (api *NotificationsAPI) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.server.requireUser(w, r)
	if !ok {
		return
	}
	prefs, err := api.service.GetPreferences(r.Context(), userID)
	if err != nil {
		api.server.respondErr(w, r, err)
		return
	}
	api.server.respondJSON(w, http.StatusOK, prefs)
}

func (api *NotificationsAPI) handleUpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.server.requireUser(w, r)
	if !ok {
		return
	}
	// Fields left out of the body keep their stored values.
	prefs, err := api.service.GetPreferences(r.Context(), userID)
	if err != nil {
		api.server.respondErr(w, r, err)
		return
	}
	if err := decodeJSON(r, &prefs); err != nil {
		api.server.respondErr(w, r, err)
		return
	}
	if err := api.service.UpdatePreferences(r.Context(), userID, prefs); err != nil {
		api.server.respondErr(w, r, err)
		return
	}
	api.server.respondJSON(w, http.StatusOK, prefs)
}

func (api *NotificationsAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	userID, ok := api.server.requireUser(w, r)
	if !ok {
		return
	}
	result, err := api.service.SendTest(r.Context(), userID)
	if err != nil {
		api.server.respondErr(w, r, err)
		return
	}
	api.server.respondJSON(w, http.StatusOK, result)
}
