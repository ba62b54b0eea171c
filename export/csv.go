// Package export produces tabular read-only exports of ticket records.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"pretalx-rt-sync/auth"
	"pretalx-rt-sync/database"
	"pretalx-rt-sync/utils"

	"github.com/gorilla/mux"
)

var csvHeader = []string{"remote_id", "subject", "status", "queue", "submission_code", "synced_at"}

// WriteTicketsCSV writes ticket records as CSV, one row per ticket.
func WriteTicketsCSV(w io.Writer, tickets []*database.Ticket) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}

	for _, t := range tickets {
		syncedAt := ""
		if t.SyncedAt != nil {
			syncedAt = t.SyncedAt.Format(time.RFC3339)
		}
		row := []string{
			strconv.Itoa(t.RemoteID),
			t.Subject,
			t.Status,
			t.Queue,
			t.SubmissionCode,
			syncedAt,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// Handler serves ticket exports over HTTP.
type Handler struct {
	db *database.Adapter
}

// NewHandler creates an export handler.
func NewHandler(db *database.Adapter) *Handler {
	return &Handler{db: db}
}

// RegisterRoutes registers export routes.
func (h *Handler) RegisterRoutes(router *mux.Router, authService *auth.Service) {
	api := router.PathPrefix("/api").Subrouter()
	api.Use(utils.CORSMiddleware)
	api.Use(authService.Middleware)

	api.HandleFunc("/events/{eventID:[0-9]+}/tickets/export.csv", h.ExportCSV).Methods("GET", "OPTIONS")
}

// ExportCSV streams an event's ticket records as a CSV file
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.Atoi(mux.Vars(r)["eventID"])
	if err != nil {
		utils.SendBadRequest(w, "Invalid event id")
		return
	}

	tickets, err := h.db.ListEventTickets(eventID)
	if err != nil {
		utils.SendInternalError(w, "Failed to list tickets")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="tickets-event-%d.csv"`, eventID))
	if err := WriteTicketsCSV(w, tickets); err != nil {
		utils.LogError("EXPORT_WRITE_FAILED", map[string]interface{}{
			"event_id": eventID,
			"error":    err.Error(),
		})
	}
}
