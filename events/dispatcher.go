// Package events maps host lifecycle signals to sync engine calls. The
// dispatcher is an explicit ordered list of (type, handler) registrations
// invoked synchronously; the engine itself has no dependency on it.
package events

import (
	"errors"
	"sync"
	"time"

	"pretalx-rt-sync/config"
	"pretalx-rt-sync/database"
	"pretalx-rt-sync/host"
	syncpkg "pretalx-rt-sync/sync"
	"pretalx-rt-sync/utils"
)

// Type identifies a host lifecycle signal.
type Type string

const (
	SubmissionStateChanged Type = "submission.state_changed"
	SubmissionSaved        Type = "submission.saved"
	SpeakersChanged        Type = "submission.speakers_changed"
	CommentSaved           Type = "comment.saved"
	MailOutgoing           Type = "mail.outgoing"
	SubmissionFormRender   Type = "submission.form_render"
)

// Signal carries a host notification and the changed entity.
type Signal struct {
	Type       Type
	EventID    int
	Submission *host.Submission
	Mail       *host.Mail
	Comment    *host.Comment
}

// HandlerFunc processes one signal.
type HandlerFunc func(Signal) error

type registration struct {
	signalType Type
	handler    HandlerFunc
}

// Dispatcher invokes registered handlers in registration order.
type Dispatcher struct {
	mutex         sync.RWMutex
	registrations []registration
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Register appends a handler for a signal type. Order of registration is
// order of invocation.
func (d *Dispatcher) Register(signalType Type, handler HandlerFunc) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.registrations = append(d.registrations, registration{signalType, handler})
}

// Dispatch invokes every handler registered for the signal's type,
// synchronously and in order. All handlers run even if an earlier one fails;
// the joined error is returned.
func (d *Dispatcher) Dispatch(signal Signal) error {
	d.mutex.RLock()
	registrations := make([]registration, len(d.registrations))
	copy(registrations, d.registrations)
	d.mutex.RUnlock()

	var errs []error
	for _, reg := range registrations {
		if reg.signalType != signal.Type {
			continue
		}
		if err := reg.handler(signal); err != nil {
			utils.LogError("SIGNAL_HANDLER_FAILED", map[string]interface{}{
				"signal":   string(signal.Type),
				"event_id": signal.EventID,
				"error":    err.Error(),
			})
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RegisterSyncHandlers wires the standard signal-to-engine bindings.
func RegisterSyncHandlers(d *Dispatcher, engine *syncpkg.Engine, db *database.Adapter, cfg *config.Service, tasks *syncpkg.TaskRunner) {
	ensureAndPush := func(signal Signal) error {
		if signal.Submission == nil {
			return nil
		}
		ticket, err := engine.CreateSubmissionTicket(signal.EventID, signal.Submission)
		if err != nil {
			return err
		}
		if ticket == nil {
			return nil
		}
		return engine.Push(signal.EventID, ticket.ID)
	}

	pushIfLinked := func(signal Signal) error {
		if signal.Submission == nil {
			return nil
		}
		ticket, err := db.GetTicketBySubmission(signal.EventID, signal.Submission.Code)
		if errors.Is(err, database.ErrTicketNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return engine.Push(signal.EventID, ticket.ID)
	}

	d.Register(SubmissionStateChanged, ensureAndPush)
	d.Register(SubmissionSaved, pushIfLinked)
	d.Register(SpeakersChanged, pushIfLinked)

	d.Register(MailOutgoing, func(signal Signal) error {
		if signal.Mail == nil {
			return nil
		}
		return engine.DeliverMail(signal.EventID, signal.Mail)
	})

	d.Register(CommentSaved, func(signal Signal) error {
		if signal.Comment == nil {
			return nil
		}
		return engine.AddCommentToTicket(signal.EventID, signal.Comment)
	})

	// A form render pulls a stale ticket in the background so the page shows
	// reasonably fresh state next time.
	d.Register(SubmissionFormRender, func(signal Signal) error {
		if signal.Submission == nil {
			return nil
		}
		ticket, err := db.GetTicketBySubmission(signal.EventID, signal.Submission.Code)
		if errors.Is(err, database.ErrTicketNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		settings, err := cfg.GetSettings(signal.EventID)
		if err != nil {
			return err
		}
		if !settings.Enabled {
			return nil
		}
		if ticket.SyncedAt != nil && time.Since(*ticket.SyncedAt) < settings.MinSyncInterval() {
			return nil
		}

		tasks.EnqueuePull(signal.EventID, ticket.ID)
		return nil
	})
}
