package config

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"pretalx-rt-sync/auth"
	"pretalx-rt-sync/database"
	"pretalx-rt-sync/utils"

	"github.com/gorilla/mux"
)

type Handler struct {
	service *Service
}

// NewHandler creates a new settings handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers settings routes
func (h *Handler) RegisterRoutes(router *mux.Router, authService *auth.Service) {
	settings := router.PathPrefix("/api/events/{eventID:[0-9]+}/settings").Subrouter()
	settings.Use(utils.CORSMiddleware)
	settings.Use(authService.Middleware)

	settings.HandleFunc("", h.GetSettings).Methods("GET", "OPTIONS")
	settings.HandleFunc("", h.UpdateSettings).Methods("PUT", "OPTIONS")
	settings.HandleFunc("/validate", h.Validate).Methods("POST", "OPTIONS")
	settings.HandleFunc("/queues", h.ListQueues).Methods("GET", "OPTIONS")
	settings.HandleFunc("/custom-fields", h.ListCustomFields).Methods("GET", "OPTIONS")
	settings.HandleFunc("/user-token", h.GetUserToken).Methods("GET", "OPTIONS")
	settings.HandleFunc("/user-token", h.SaveUserToken).Methods("PUT", "OPTIONS")
}

func eventID(r *http.Request) (int, error) {
	return strconv.Atoi(mux.Vars(r)["eventID"])
}

// GetSettings retrieves an event's settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		utils.SendBadRequest(w, "Invalid event id")
		return
	}

	settings, err := h.service.GetSettings(id)
	if errors.Is(err, database.ErrSettingsNotFound) {
		utils.SendNotFound(w, "Event not configured")
		return
	}
	if err != nil {
		utils.SendInternalError(w, "Failed to get settings")
		return
	}
	utils.SendSuccess(w, settings, "Settings retrieved successfully")
}

// UpdateSettings stores an event's settings
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		utils.SendBadRequest(w, "Invalid event id")
		return
	}

	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendBadRequest(w, "Invalid request body")
		return
	}

	settings, err := h.service.UpdateSettings(id, req)
	if err != nil {
		utils.SendBadRequest(w, err.Error())
		return
	}
	utils.SendSuccess(w, settings, "Settings updated successfully")
}

// Validate checks the settings against the live ticket system
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		utils.SendBadRequest(w, "Invalid event id")
		return
	}

	settings, err := h.service.GetSettings(id)
	if errors.Is(err, database.ErrSettingsNotFound) {
		utils.SendNotFound(w, "Event not configured")
		return
	}
	if err != nil {
		utils.SendInternalError(w, "Failed to get settings")
		return
	}

	warnings, err := h.service.Validate(settings)
	if err != nil {
		utils.SendInternalError(w, "Validation failed: "+err.Error())
		return
	}

	utils.SendSuccess(w, map[string]interface{}{
		"warnings": warnings,
		"ok":       len(warnings) == 0,
	}, "Validation completed")
}

// ListQueues returns the queues of the event's ticket system
func (h *Handler) ListQueues(w http.ResponseWriter, r *http.Request) {
	h.listRemote(w, r, (*Service).ListRemoteQueues)
}

// ListCustomFields returns the custom fields of the configured queue
func (h *Handler) ListCustomFields(w http.ResponseWriter, r *http.Request) {
	h.listRemote(w, r, (*Service).ListRemoteCustomFields)
}

func (h *Handler) listRemote(w http.ResponseWriter, r *http.Request, list func(*Service, *database.EventSettings) ([]string, error)) {
	id, err := eventID(r)
	if err != nil {
		utils.SendBadRequest(w, "Invalid event id")
		return
	}

	settings, err := h.service.GetSettings(id)
	if errors.Is(err, database.ErrSettingsNotFound) {
		utils.SendNotFound(w, "Event not configured")
		return
	}
	if err != nil {
		utils.SendInternalError(w, "Failed to get settings")
		return
	}

	names, err := list(h.service, settings)
	if err != nil {
		utils.SendInternalError(w, "Remote listing failed: "+err.Error())
		return
	}
	utils.SendSuccess(w, names, "Listing retrieved successfully")
}

// GetUserToken retrieves the caller's token override for an event
func (h *Handler) GetUserToken(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		utils.SendBadRequest(w, "Invalid event id")
		return
	}

	account, ok := auth.GetAccountFromContext(r)
	if !ok {
		utils.SendUnauthorized(w, "Authentication required")
		return
	}

	token, err := h.service.GetUserToken(id, account.Email)
	if err != nil {
		utils.SendInternalError(w, "Failed to get user token")
		return
	}
	if token == nil {
		utils.SendSuccess(w, map[string]interface{}{"configured": false}, "No token override")
		return
	}
	utils.SendSuccess(w, map[string]interface{}{
		"configured": true,
		"updated_at": token.UpdatedAt,
	}, "Token override configured")
}

// SaveUserToken stores or clears the caller's token override for an event
func (h *Handler) SaveUserToken(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		utils.SendBadRequest(w, "Invalid event id")
		return
	}

	account, ok := auth.GetAccountFromContext(r)
	if !ok {
		utils.SendUnauthorized(w, "Authentication required")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendBadRequest(w, "Invalid request body")
		return
	}

	if err := h.service.SaveUserToken(id, account.Email, req.Token); err != nil {
		utils.SendInternalError(w, "Failed to save user token")
		return
	}
	utils.SendSuccess(w, nil, "Token override saved")
}
