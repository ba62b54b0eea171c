package sync

import (
	"errors"
	"net/http"
	"strconv"

	"pretalx-rt-sync/auth"
	"pretalx-rt-sync/database"
	"pretalx-rt-sync/utils"

	"github.com/gorilla/mux"
)

// Handler exposes the sync engine and scheduler over HTTP.
type Handler struct {
	db        *database.Adapter
	engine    *Engine
	scheduler *Scheduler
	tasks     *TaskRunner
}

// NewHandler creates a sync handler.
func NewHandler(db *database.Adapter, engine *Engine, scheduler *Scheduler, tasks *TaskRunner) *Handler {
	return &Handler{db: db, engine: engine, scheduler: scheduler, tasks: tasks}
}

// RegisterRoutes registers sync routes.
func (h *Handler) RegisterRoutes(router *mux.Router, authService *auth.Service) {
	api := router.PathPrefix("/api").Subrouter()
	api.Use(utils.CORSMiddleware)
	api.Use(authService.Middleware)

	api.HandleFunc("/events/{eventID:[0-9]+}/reconcile", h.Reconcile).Methods("POST", "OPTIONS")
	api.HandleFunc("/events/{eventID:[0-9]+}/tickets", h.ListTickets).Methods("GET", "OPTIONS")
	api.HandleFunc("/events/{eventID:[0-9]+}/tickets/{ticketID:[0-9]+}/pull", h.PullTicket).Methods("POST", "OPTIONS")
	api.HandleFunc("/events/{eventID:[0-9]+}/tickets/{ticketID:[0-9]+}/push", h.PushTicket).Methods("POST", "OPTIONS")

	api.HandleFunc("/scheduler/start", h.StartScheduler).Methods("POST", "OPTIONS")
	api.HandleFunc("/scheduler/stop", h.StopScheduler).Methods("POST", "OPTIONS")
	api.HandleFunc("/scheduler/status", h.SchedulerStatus).Methods("GET", "OPTIONS")
}

func pathInt(r *http.Request, name string) (int, error) {
	return strconv.Atoi(mux.Vars(r)[name])
}

// Reconcile triggers a full queue reconciliation pass for an event
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathInt(r, "eventID")
	if err != nil {
		utils.SendBadRequest(w, "Invalid event id")
		return
	}

	result, err := h.engine.SyncQueue(eventID)
	if errors.Is(err, database.ErrSettingsNotFound) {
		utils.SendNotFound(w, "Event not configured")
		return
	}
	if err != nil {
		utils.SendInternalError(w, "Reconciliation failed: "+err.Error())
		return
	}
	utils.SendSuccess(w, result, "Reconciliation completed")
}

// ListTickets returns the mirrored tickets of an event
func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathInt(r, "eventID")
	if err != nil {
		utils.SendBadRequest(w, "Invalid event id")
		return
	}

	tickets, err := h.db.ListEventTickets(eventID)
	if err != nil {
		utils.SendInternalError(w, "Failed to list tickets")
		return
	}
	utils.SendSuccess(w, map[string]interface{}{
		"tickets": tickets,
		"count":   len(tickets),
	}, "Tickets retrieved successfully")
}

// PullTicket pulls a single ticket inline
func (h *Handler) PullTicket(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathInt(r, "eventID")
	if err != nil {
		utils.SendBadRequest(w, "Invalid event id")
		return
	}
	ticketID, err := pathInt(r, "ticketID")
	if err != nil {
		utils.SendBadRequest(w, "Invalid ticket id")
		return
	}

	if err := h.engine.Pull(eventID, ticketID); err != nil {
		if errors.Is(err, database.ErrTicketNotFound) {
			utils.SendNotFound(w, "Ticket not found")
			return
		}
		utils.SendInternalError(w, "Pull failed: "+err.Error())
		return
	}
	utils.SendSuccess(w, nil, "Ticket pulled successfully")
}

// PushTicket pushes a single ticket inline
func (h *Handler) PushTicket(w http.ResponseWriter, r *http.Request) {
	eventID, err := pathInt(r, "eventID")
	if err != nil {
		utils.SendBadRequest(w, "Invalid event id")
		return
	}
	ticketID, err := pathInt(r, "ticketID")
	if err != nil {
		utils.SendBadRequest(w, "Invalid ticket id")
		return
	}

	if err := h.engine.Push(eventID, ticketID); err != nil {
		if errors.Is(err, database.ErrTicketNotFound) {
			utils.SendNotFound(w, "Ticket not found")
			return
		}
		utils.SendInternalError(w, "Push failed: "+err.Error())
		return
	}
	utils.SendSuccess(w, nil, "Ticket pushed successfully")
}

// StartScheduler starts periodic reconciliation
func (h *Handler) StartScheduler(w http.ResponseWriter, r *http.Request) {
	interval, _ := strconv.Atoi(r.URL.Query().Get("interval"))

	if err := h.scheduler.Start(interval); err != nil {
		utils.SendConflict(w, err.Error())
		return
	}
	utils.SendSuccess(w, h.scheduler.Status(), "Scheduler started")
}

// StopScheduler stops periodic reconciliation
func (h *Handler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	if err := h.scheduler.Stop(); err != nil {
		utils.SendConflict(w, err.Error())
		return
	}
	utils.SendSuccess(w, nil, "Scheduler stopped")
}

// SchedulerStatus reports scheduler state and task backlog
func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	status := h.scheduler.Status()
	utils.SendSuccess(w, map[string]interface{}{
		"scheduler":     status,
		"pending_tasks": h.tasks.Pending(),
	}, "Scheduler status retrieved")
}
