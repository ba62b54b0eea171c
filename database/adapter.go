package database

import (
	"errors"
	"fmt"
	"os"
)

// Store is the persistence contract shared by the file-backed and PostgreSQL
// backends.
type Store interface {
	CreateAccount(username, email, passwordHash string) (*Account, error)
	GetAccountByUsername(username string) (*Account, error)
	GetAccountByID(id int) (*Account, error)
	UpdateAccountPassword(id int, passwordHash string) error

	ListEventSettings() ([]*EventSettings, error)
	GetEventSettings(eventID int) (*EventSettings, error)
	SaveEventSettings(settings *EventSettings) error

	GetUserToken(eventID int, email string) (*UserToken, error)
	SaveUserToken(token *UserToken) error

	CreateTicket(t *Ticket) (*Ticket, error)
	SaveTicket(t *Ticket) error
	GetTicketByID(id int) (*Ticket, error)
	GetTicketByRemoteID(eventID, remoteID int) (*Ticket, error)
	GetTicketBySubmission(eventID int, code string) (*Ticket, error)
	ListEventTickets(eventID int) ([]*Ticket, error)
	ListTicketsByStaleness(limit int) ([]*Ticket, error)
	DeleteEventTickets(eventID int) error

	Close() error
}

// Adapter wraps a Store and layers the linkage rules on top, so both
// backends behave identically where it matters.
type Adapter struct {
	Store
	backend string
}

// NewAdapter selects the backend: PostgreSQL when DATABASE_URL is set,
// otherwise a JSON file under dataPath.
func NewAdapter(dataPath string) (*Adapter, error) {
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		store, err := NewPostgresStore(databaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres backend: %w", err)
		}
		return &Adapter{Store: store, backend: "postgres"}, nil
	}

	store, err := NewFileStore(dataPath)
	if err != nil {
		return nil, fmt.Errorf("file backend: %w", err)
	}
	return &Adapter{Store: store, backend: "file"}, nil
}

// Backend names the active backend, for startup logging.
func (a *Adapter) Backend() string {
	return a.backend
}

// UpsertTicket records a remote ticket locally. If the remote id is already
// mirrored, the existing row is refreshed with the incoming subject, status
// and queue. An attempt to move an existing row onto a different submission
// is ignored: the first link wins, and the caller decides whether that is
// worth a warning. Returns the stored row and whether it was newly created.
func (a *Adapter) UpsertTicket(t *Ticket) (*Ticket, bool, error) {
	existing, err := a.GetTicketByRemoteID(t.EventID, t.RemoteID)
	if err != nil && !errors.Is(err, ErrTicketNotFound) {
		return nil, false, err
	}

	if existing == nil {
		created, err := a.CreateTicket(t)
		if err != nil {
			return nil, false, err
		}
		return created, true, nil
	}

	existing.Subject = t.Subject
	existing.Status = t.Status
	existing.Queue = t.Queue
	if existing.SubmissionCode == "" && t.SubmissionCode != "" {
		other, err := a.GetTicketBySubmission(t.EventID, t.SubmissionCode)
		if err != nil && !errors.Is(err, ErrTicketNotFound) {
			return nil, false, err
		}
		if other != nil && other.ID != existing.ID {
			return nil, false, ErrSubmissionLinked
		}
		existing.SubmissionCode = t.SubmissionCode
	}
	if err := a.SaveTicket(existing); err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// LinkTicketMail appends a mail id to the ticket's mail list, once.
func (a *Adapter) LinkTicketMail(ticketID, mailID int) error {
	t, err := a.GetTicketByID(ticketID)
	if err != nil {
		return err
	}
	if t.MailIDs.Contains(mailID) {
		return nil
	}
	t.MailIDs = append(t.MailIDs, mailID)
	return a.SaveTicket(t)
}

// AddTicketUser appends a user email to the ticket's linked users, once.
// Links are additive only; pulls never remove users.
func (a *Adapter) AddTicketUser(ticketID int, email string) error {
	t, err := a.GetTicketByID(ticketID)
	if err != nil {
		return err
	}
	if t.UserEmails.Contains(email) {
		return nil
	}
	t.UserEmails = append(t.UserEmails, email)
	return a.SaveTicket(t)
}
