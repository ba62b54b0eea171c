package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"pretalx-rt-sync/utils"

	"github.com/gorilla/mux"
)

type Handler struct {
	service *Service
}

// NewHandler creates a new authentication handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers authentication routes
func (h *Handler) RegisterRoutes(router *mux.Router) {
	auth := router.PathPrefix("/api/auth").Subrouter()
	auth.Use(utils.CORSMiddleware)

	auth.HandleFunc("/register", h.Register).Methods("POST", "OPTIONS")
	auth.HandleFunc("/login", h.Login).Methods("POST", "OPTIONS")

	protected := auth.PathPrefix("").Subrouter()
	protected.Use(h.service.Middleware)

	protected.HandleFunc("/refresh", h.RefreshToken).Methods("POST", "OPTIONS")
	protected.HandleFunc("/me", h.GetProfile).Methods("GET", "OPTIONS")
	protected.HandleFunc("/change-password", h.ChangePassword).Methods("POST", "OPTIONS")
}

// Register handles account registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendBadRequest(w, "Invalid request body")
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		utils.SendBadRequest(w, "Username, email, and password are required")
		return
	}
	if len(req.Password) < 6 {
		utils.SendBadRequest(w, "Password must be at least 6 characters long")
		return
	}

	account, err := h.service.Register(req)
	if err != nil {
		if errors.Is(err, ErrAccountExists) {
			utils.SendConflict(w, "Account already exists")
			return
		}
		utils.SendInternalError(w, "Internal server error")
		return
	}

	utils.SendCreated(w, account, "Account registered successfully")
}

// Login handles authentication
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendBadRequest(w, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		utils.SendBadRequest(w, "Username and password are required")
		return
	}

	response, err := h.service.Login(req)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			utils.SendUnauthorized(w, "Invalid credentials")
			return
		}
		utils.SendInternalError(w, "Internal server error")
		return
	}

	utils.SendSuccess(w, response, "Login successful")
}

// RefreshToken handles token refresh
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	claims, ok := GetAccountFromContext(r)
	if !ok {
		utils.SendUnauthorized(w, "Authentication required")
		return
	}

	response, err := h.service.RefreshToken(claims.AccountID)
	if err != nil {
		utils.SendInternalError(w, "Internal server error")
		return
	}
	utils.SendSuccess(w, response, "Token refreshed successfully")
}

// GetProfile returns the current account's profile
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims, ok := GetAccountFromContext(r)
	if !ok {
		utils.SendUnauthorized(w, "Authentication required")
		return
	}

	info, err := h.service.GetAccount(claims.AccountID)
	if err != nil {
		utils.SendInternalError(w, "Internal server error")
		return
	}
	utils.SendSuccess(w, info, "Profile retrieved successfully")
}

// ChangePassword handles password changes
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	claims, ok := GetAccountFromContext(r)
	if !ok {
		utils.SendUnauthorized(w, "Authentication required")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendBadRequest(w, "Invalid request body")
		return
	}

	if req.CurrentPassword == "" || req.NewPassword == "" {
		utils.SendBadRequest(w, "Current password and new password are required")
		return
	}
	if len(req.NewPassword) < 6 {
		utils.SendBadRequest(w, "New password must be at least 6 characters long")
		return
	}

	err := h.service.ChangePassword(claims.AccountID, req)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			utils.SendBadRequest(w, "Current password is incorrect")
		case errors.Is(err, ErrAccountNotFound):
			utils.SendNotFound(w, "Account not found")
		default:
			utils.SendInternalError(w, "Internal server error")
		}
		return
	}

	utils.SendSuccess(w, nil, "Password changed successfully")
}
