package events

import (
	"encoding/json"
	"net/http"
	"strconv"

	"pretalx-rt-sync/auth"
	"pretalx-rt-sync/host"
	"pretalx-rt-sync/utils"

	"github.com/gorilla/mux"
)

// signalPayload is the wire form of a host lifecycle notification.
type signalPayload struct {
	Type       Type             `json:"type"`
	Submission *host.Submission `json:"submission,omitempty"`
	Mail       *host.Mail       `json:"mail,omitempty"`
	Comment    *host.Comment    `json:"comment,omitempty"`
}

var validTypes = map[Type]bool{
	SubmissionStateChanged: true,
	SubmissionSaved:        true,
	SpeakersChanged:        true,
	CommentSaved:           true,
	MailOutgoing:           true,
	SubmissionFormRender:   true,
}

// Handler receives host lifecycle signals over HTTP and feeds the dispatcher.
type Handler struct {
	dispatcher *Dispatcher
	directory  *host.Memory
}

// NewHandler creates a signal ingestion handler. When directory is non-nil,
// submissions carried by signals are registered in it so later lookups by
// code resolve.
func NewHandler(dispatcher *Dispatcher, directory *host.Memory) *Handler {
	return &Handler{dispatcher: dispatcher, directory: directory}
}

// RegisterRoutes registers the signal ingestion route.
func (h *Handler) RegisterRoutes(router *mux.Router, authService *auth.Service) {
	api := router.PathPrefix("/api").Subrouter()
	api.Use(utils.CORSMiddleware)
	api.Use(authService.Middleware)

	api.HandleFunc("/events/{eventID:[0-9]+}/signals", h.ReceiveSignal).Methods("POST", "OPTIONS")
}

// ReceiveSignal ingests one host lifecycle signal and dispatches it
func (h *Handler) ReceiveSignal(w http.ResponseWriter, r *http.Request) {
	eventID, err := strconv.Atoi(mux.Vars(r)["eventID"])
	if err != nil {
		utils.SendBadRequest(w, "Invalid event id")
		return
	}

	var payload signalPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.SendBadRequest(w, "Invalid request body")
		return
	}
	if !validTypes[payload.Type] {
		utils.SendBadRequest(w, "Unknown signal type")
		return
	}

	if h.directory != nil && payload.Submission != nil {
		h.directory.AddSubmission(eventID, payload.Submission)
	}

	signal := Signal{
		Type:       payload.Type,
		EventID:    eventID,
		Submission: payload.Submission,
		Mail:       payload.Mail,
		Comment:    payload.Comment,
	}
	if err := h.dispatcher.Dispatch(signal); err != nil {
		utils.SendInternalError(w, "Signal handling failed: "+err.Error())
		return
	}
	utils.SendSuccess(w, nil, "Signal processed")
}
