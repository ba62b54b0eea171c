package sync

import (
	"errors"
	"fmt"
	"time"

	"pretalx-rt-sync/config"
	"pretalx-rt-sync/database"
	"pretalx-rt-sync/host"
	"pretalx-rt-sync/mapping"
	"pretalx-rt-sync/rt"
	"pretalx-rt-sync/utils"
)

// Engine orchestrates ticket create, push, pull, reply and comment
// operations between the host and RT.
type Engine struct {
	db     *database.Adapter
	config *config.Service
	dir    host.Directory
	ws     *WebSocketManager
	tasks  *TaskRunner
}

// NewEngine creates a sync engine.
func NewEngine(db *database.Adapter, cfg *config.Service, dir host.Directory, ws *WebSocketManager) *Engine {
	return &Engine{db: db, config: cfg, dir: dir, ws: ws}
}

// SetTasks attaches the deferred task runner. Without one, pushes pull
// inline instead of scheduling the pull asynchronously.
func (e *Engine) SetTasks(tasks *TaskRunner) {
	e.tasks = tasks
}

// CreateSubmissionTicket creates a remote ticket for a submission, links it
// locally and pulls the authoritative remote field state. Idempotent against
// an existing link: the already-linked ticket is returned untouched.
func (e *Engine) CreateSubmissionTicket(eventID int, sub *host.Submission) (*database.Ticket, error) {
	settings, err := e.config.GetSettings(eventID)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		return nil, nil
	}

	existing, err := e.db.GetTicketBySubmission(eventID, sub.Code)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, database.ErrTicketNotFound) {
		return nil, err
	}

	client, err := e.config.ClientFor(settings, "")
	if err != nil {
		return nil, err
	}

	remoteID, err := client.CreateTicket(
		settings.Queue,
		sub.Title,
		mapping.Requestors(sub.Speakers),
		settings.InitialStatus,
		"",
		mapping.CustomFieldPayload(settings.CodeCustomField, settings.StateCustomField, sub),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote ticket: %w", err)
	}

	ticket, err := e.db.CreateTicket(&database.Ticket{
		EventID:        eventID,
		RemoteID:       remoteID,
		Subject:        sub.Title,
		Status:         settings.InitialStatus,
		Queue:          settings.Queue,
		SubmissionCode: sub.Code,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record ticket: %w", err)
	}

	utils.LogInfo("TICKET_CREATED", map[string]interface{}{
		"event_id":  eventID,
		"remote_id": remoteID,
		"code":      sub.Code,
	})

	// Immediate pull so local fields reflect any server-side transformation.
	if err := e.pullTicket(settings, ticket); err != nil {
		utils.LogWarn("INITIAL_PULL_FAILED", map[string]interface{}{
			"event_id":  eventID,
			"ticket_id": ticket.ID,
			"error":     err.Error(),
		})
	}
	return ticket, nil
}

// CreateMailTicket creates a standalone remote ticket for an outgoing mail
// with no single-submission association. The ticket is never pushed.
func (e *Engine) CreateMailTicket(eventID int, mail *host.Mail) (*database.Ticket, error) {
	settings, err := e.config.GetSettings(eventID)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled {
		return nil, nil
	}

	client, err := e.config.ClientFor(settings, "")
	if err != nil {
		return nil, err
	}

	remoteID, err := client.CreateTicket(
		settings.Queue,
		mail.Subject,
		mapping.Requestors(mail.To),
		settings.InitialStatus,
		"",
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote ticket: %w", err)
	}

	ticket, err := e.db.CreateTicket(&database.Ticket{
		EventID:  eventID,
		RemoteID: remoteID,
		Subject:  mail.Subject,
		Status:   settings.InitialStatus,
		Queue:    settings.Queue,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record ticket: %w", err)
	}

	utils.LogInfo("MAIL_TICKET_CREATED", map[string]interface{}{
		"event_id":  eventID,
		"remote_id": remoteID,
		"mail_id":   mail.ID,
	})
	return ticket, nil
}

// Push edits the remote ticket's subject, requestors and custom fields from
// the current submission state, then schedules an asynchronous pull. A ticket
// with no linked submission is never pushed.
func (e *Engine) Push(eventID, ticketID int) error {
	ticket, err := e.db.GetTicketByID(ticketID)
	if err != nil {
		return err
	}
	if !ticket.Linked() {
		return nil
	}

	settings, err := e.config.GetSettings(eventID)
	if err != nil {
		return err
	}

	sub, err := e.dir.SubmissionByCode(eventID, ticket.SubmissionCode)
	if err != nil {
		return err
	}
	if sub == nil {
		utils.LogWarn("PUSH_SUBMISSION_MISSING", map[string]interface{}{
			"event_id":  eventID,
			"ticket_id": ticketID,
			"code":      ticket.SubmissionCode,
		})
		return nil
	}

	client, err := e.config.ClientFor(settings, "")
	if err != nil {
		return err
	}

	err = client.EditTicket(ticket.RemoteID, rt.TicketEdit{
		Subject:      sub.Title,
		Requestor:    mapping.Requestors(sub.Speakers),
		CustomFields: mapping.CustomFieldPayload(settings.CodeCustomField, settings.StateCustomField, sub),
	})
	if err != nil {
		return fmt.Errorf("failed to push ticket %d: %w", ticket.RemoteID, err)
	}

	utils.LogInfo("TICKET_PUSHED", map[string]interface{}{
		"event_id":  eventID,
		"ticket_id": ticketID,
		"remote_id": ticket.RemoteID,
	})

	// Push never re-reads what it wrote; a decoupled pull reconciles the
	// authoritative remote state.
	if e.tasks != nil {
		e.tasks.EnqueuePull(eventID, ticketID)
		return nil
	}
	return e.Pull(eventID, ticketID)
}

// Pull fetches the remote ticket and overwrites the local mirror's subject,
// status and queue. Requestor addresses that resolve to host users are linked
// additively. The sync timestamp is stamped only on success.
func (e *Engine) Pull(eventID, ticketID int) error {
	ticket, err := e.db.GetTicketByID(ticketID)
	if err != nil {
		return err
	}
	settings, err := e.config.GetSettings(eventID)
	if err != nil {
		return err
	}
	return e.pullTicket(settings, ticket)
}

func (e *Engine) pullTicket(settings *database.EventSettings, ticket *database.Ticket) error {
	client, err := e.config.ClientFor(settings, "")
	if err != nil {
		return err
	}

	remote, err := client.GetTicket(ticket.RemoteID)
	if err != nil {
		return fmt.Errorf("failed to pull ticket %d: %w", ticket.RemoteID, err)
	}

	ticket.Subject = remote.Subject
	ticket.Status = mapping.NormalizeStatus(remote.Status)
	ticket.Queue = remote.Queue.Name

	for _, email := range remote.RequestorEmails() {
		if ticket.UserEmails.Contains(email) {
			continue
		}
		users, err := e.dir.UsersByEmail(email)
		if err != nil {
			return err
		}
		if len(users) > 0 {
			ticket.UserEmails = append(ticket.UserEmails, email)
		}
	}

	now := time.Now()
	ticket.SyncedAt = &now
	if err := e.db.SaveTicket(ticket); err != nil {
		return fmt.Errorf("failed to save pulled ticket: %w", err)
	}

	utils.LogInfo("TICKET_PULLED", map[string]interface{}{
		"event_id":  ticket.EventID,
		"ticket_id": ticket.ID,
		"remote_id": ticket.RemoteID,
		"status":    ticket.Status,
	})
	return nil
}

// DeliverMail routes an outgoing mail to its ticket and appends it as a
// reply. A mail associated with exactly one submission goes to that
// submission's ticket (created on demand); anything else gets a standalone
// mail ticket.
func (e *Engine) DeliverMail(eventID int, mail *host.Mail) error {
	settings, err := e.config.GetSettings(eventID)
	if err != nil {
		return err
	}
	if !settings.Enabled {
		return nil
	}

	ticket, err := e.ticketForMail(eventID, mail)
	if err != nil {
		return err
	}
	if ticket == nil {
		return nil
	}
	return e.AddMailToTicket(eventID, ticket.ID, mail)
}

func (e *Engine) ticketForMail(eventID int, mail *host.Mail) (*database.Ticket, error) {
	if len(mail.SubmissionCodes) != 1 {
		return e.CreateMailTicket(eventID, mail)
	}

	code := mail.SubmissionCodes[0]
	ticket, err := e.db.GetTicketBySubmission(eventID, code)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, database.ErrTicketNotFound) {
		return nil, err
	}

	sub, err := e.dir.SubmissionByCode(eventID, code)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return e.CreateMailTicket(eventID, mail)
	}
	return e.CreateSubmissionTicket(eventID, sub)
}

// AddMailToTicket submits an outgoing mail as a reply on the ticket. The
// reply API attributes the reply to whatever Requestor is currently set, so
// the ticket's Requestor and Subject are temporarily overridden and restored
// unconditionally afterwards. A restore failure is logged but never masks the
// primary error.
func (e *Engine) AddMailToTicket(eventID, ticketID int, mail *host.Mail) error {
	ticket, err := e.db.GetTicketByID(ticketID)
	if err != nil {
		return err
	}
	settings, err := e.config.GetSettings(eventID)
	if err != nil {
		return err
	}
	client, err := e.config.ClientFor(settings, "")
	if err != nil {
		return err
	}

	snapshot, err := client.GetTicket(ticket.RemoteID)
	if err != nil {
		return fmt.Errorf("failed to snapshot ticket %d: %w", ticket.RemoteID, err)
	}
	defer e.restoreTicket(client, ticket.RemoteID, snapshot)

	err = client.EditTicket(ticket.RemoteID, rt.TicketEdit{
		Subject:   mail.Subject,
		Requestor: mapping.Requestors(mail.To),
	})
	if err != nil {
		return fmt.Errorf("failed to impersonate requestors on ticket %d: %w", ticket.RemoteID, err)
	}

	body, contentType := renderMailBody(settings, mail)
	attachments := make([]rt.Attachment, 0, len(mail.Attachments))
	for _, a := range mail.Attachments {
		attachments = append(attachments, rt.Attachment{
			FileName:    a.Name,
			ContentType: a.ContentType,
			FileContent: a.Content,
		})
	}

	if err := client.Reply(ticket.RemoteID, body, contentType, attachments); err != nil {
		return fmt.Errorf("failed to reply on ticket %d: %w", ticket.RemoteID, err)
	}

	if err := e.dir.MarkMailSent(mail.ID, time.Now()); err != nil {
		return err
	}
	if err := e.db.LinkTicketMail(ticket.ID, mail.ID); err != nil {
		return err
	}

	utils.LogInfo("MAIL_DELIVERED", map[string]interface{}{
		"event_id":  eventID,
		"ticket_id": ticketID,
		"mail_id":   mail.ID,
	})
	return nil
}

// AddCommentToTicket posts an internal comment on the submission's ticket,
// authenticating as the comment author when a per-user token is configured.
// Same snapshot/restore discipline as AddMailToTicket.
func (e *Engine) AddCommentToTicket(eventID int, comment *host.Comment) error {
	if comment.Draft {
		return nil
	}

	settings, err := e.config.GetSettings(eventID)
	if err != nil {
		return err
	}
	if !settings.Enabled {
		return nil
	}

	sub, err := e.dir.SubmissionByCode(eventID, comment.SubmissionCode)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}

	ticket, err := e.db.GetTicketBySubmission(eventID, comment.SubmissionCode)
	if errors.Is(err, database.ErrTicketNotFound) {
		ticket, err = e.CreateSubmissionTicket(eventID, sub)
	}
	if err != nil {
		return err
	}
	if ticket == nil {
		return nil
	}

	client, err := e.config.ClientFor(settings, comment.Author.Email)
	if err != nil {
		return err
	}

	snapshot, err := client.GetTicket(ticket.RemoteID)
	if err != nil {
		return fmt.Errorf("failed to snapshot ticket %d: %w", ticket.RemoteID, err)
	}
	defer e.restoreTicket(client, ticket.RemoteID, snapshot)

	err = client.EditTicket(ticket.RemoteID, rt.TicketEdit{
		Requestor: mapping.Requestors([]host.User{comment.Author}),
	})
	if err != nil {
		return fmt.Errorf("failed to impersonate commenter on ticket %d: %w", ticket.RemoteID, err)
	}

	if err := client.Comment(ticket.RemoteID, comment.Text, "text/plain"); err != nil {
		return fmt.Errorf("failed to comment on ticket %d: %w", ticket.RemoteID, err)
	}

	utils.LogInfo("COMMENT_ADDED", map[string]interface{}{
		"event_id":   eventID,
		"ticket_id":  ticket.ID,
		"comment_id": comment.ID,
	})
	return nil
}

// restoreTicket writes a snapshot's Requestor, Subject and Status back. Runs
// on every exit path of the compensating-action operations.
func (e *Engine) restoreTicket(client *rt.Client, remoteID int, snapshot *rt.Ticket) {
	err := client.EditTicket(remoteID, rt.TicketEdit{
		Subject:   snapshot.Subject,
		Status:    snapshot.Status,
		Requestor: snapshot.RequestorEmails(),
	})
	if err != nil {
		utils.LogError("TICKET_RESTORE_FAILED", map[string]interface{}{
			"remote_id": remoteID,
			"error":     err.Error(),
		})
	}
}

func renderMailBody(settings *database.EventSettings, mail *host.Mail) (string, string) {
	if settings.HTMLMail && mail.BodyHTML != "" {
		return mail.BodyHTML, "text/html"
	}
	if mail.BodyText != "" {
		return mail.BodyText, "text/plain"
	}
	return utils.HTMLToText(mail.BodyHTML), "text/plain"
}

// SyncQueue reconciles every remote ticket in the event's queue against the
// local mirror. Tickets without the submission-code custom field are ignored,
// orphaned codes and linkage conflicts are logged skips, everything else is
// upserted and pushed. First-linked wins: an existing local link is never
// re-pointed.
func (e *Engine) SyncQueue(eventID int) (map[string]interface{}, error) {
	settings, err := e.config.GetSettings(eventID)
	if err != nil {
		return nil, err
	}

	client, err := e.config.ClientFor(settings, "")
	if err != nil {
		return nil, err
	}

	e.ws.Broadcast(MsgTypeReconcileStart, map[string]interface{}{
		"event_id": eventID,
		"queue":    settings.Queue,
	})

	summaries, err := client.SearchQueue(settings.Queue)
	if err != nil {
		e.ws.Broadcast(MsgTypeReconcileError, map[string]interface{}{
			"event_id": eventID,
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("failed to search queue %q: %w", settings.Queue, err)
	}

	created, updated, skipped := 0, 0, 0
	for _, summary := range summaries {
		code, ok := mapping.ExtractCustomField(summary.CustomFields, settings.CodeCustomField)
		if !ok {
			// Not a pretalx-managed ticket.
			skipped++
			continue
		}

		sub, err := e.dir.SubmissionByCode(eventID, code)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			utils.LogWarn("RECONCILE_ORPHANED_CODE", map[string]interface{}{
				"event_id":  eventID,
				"remote_id": summary.ID,
				"code":      code,
			})
			skipped++
			continue
		}

		linked, err := e.db.GetTicketBySubmission(eventID, code)
		if err != nil && !errors.Is(err, database.ErrTicketNotFound) {
			return nil, err
		}
		if linked != nil && linked.RemoteID != summary.ID {
			utils.LogWarn("RECONCILE_CONFLICT", map[string]interface{}{
				"event_id":         eventID,
				"remote_id":        summary.ID,
				"linked_remote_id": linked.RemoteID,
				"code":             code,
			})
			skipped++
			continue
		}

		ticket, wasCreated, err := e.db.UpsertTicket(&database.Ticket{
			EventID:        eventID,
			RemoteID:       summary.ID,
			Subject:        summary.Subject,
			Status:         mapping.NormalizeStatus(summary.Status),
			Queue:          summary.Queue.Name,
			SubmissionCode: code,
		})
		if errors.Is(err, database.ErrSubmissionLinked) {
			utils.LogWarn("RECONCILE_CONFLICT", map[string]interface{}{
				"event_id":  eventID,
				"remote_id": summary.ID,
				"code":      code,
			})
			skipped++
			continue
		}
		if err != nil {
			return nil, err
		}
		if wasCreated {
			created++
		} else {
			updated++
		}

		if err := e.Push(eventID, ticket.ID); err != nil {
			utils.LogError("RECONCILE_PUSH_FAILED", map[string]interface{}{
				"event_id":  eventID,
				"ticket_id": ticket.ID,
				"error":     err.Error(),
			})
		}
	}

	result := map[string]interface{}{
		"event_id": eventID,
		"queue":    settings.Queue,
		"total":    len(summaries),
		"created":  created,
		"updated":  updated,
		"skipped":  skipped,
	}

	utils.LogInfo("RECONCILE_COMPLETE", result)
	e.ws.Broadcast(MsgTypeReconcileComplete, result)
	return result, nil
}
