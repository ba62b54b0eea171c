package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrTicketNotFound is returned by ticket lookups that match nothing.
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrSettingsNotFound is returned when an event has no stored settings.
	ErrSettingsNotFound = errors.New("event settings not found")
	// ErrAccountNotFound is returned by account lookups that match nothing.
	ErrAccountNotFound = errors.New("account not found")
	// ErrSubmissionLinked is returned when a create would give a submission
	// a second ticket. Reconciliation checks for this case up front and
	// reports it as a conflict instead of hitting this error.
	ErrSubmissionLinked = errors.New("submission already linked to another ticket")
)

// Ticket is the local mirror row of a remote RT ticket. The row has its own
// surrogate key; the remote id is a plain unique field, which keeps the
// mirror safe against the remote system recycling ids.
type Ticket struct {
	ID             int        `json:"id" db:"id"`
	EventID        int        `json:"event_id" db:"event_id"`
	RemoteID       int        `json:"remote_id" db:"remote_id"`
	Subject        string     `json:"subject" db:"subject"`
	Status         string     `json:"status" db:"status"`
	Queue          string     `json:"queue" db:"queue"`
	SubmissionCode string     `json:"submission_code,omitempty" db:"submission_code"`
	MailIDs        IntList    `json:"mail_ids" db:"mail_ids"`
	UserEmails     StringList `json:"user_emails" db:"user_emails"`
	SyncedAt       *time.Time `json:"synced_at,omitempty" db:"synced_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// Linked reports whether the ticket is tied to a submission. Standalone mail
// tickets are not.
func (t *Ticket) Linked() bool {
	return t.SubmissionCode != ""
}

// EventSettings is the per-event sync configuration.
type EventSettings struct {
	EventID          int       `json:"event_id" db:"event_id"`
	Slug             string    `json:"slug" db:"slug"`
	Enabled          bool      `json:"enabled" db:"enabled"`
	BaseURL          string    `json:"base_url" db:"base_url"`
	Token            string    `json:"token" db:"token"`
	Queue            string    `json:"queue" db:"queue"`
	InitialStatus    string    `json:"initial_status" db:"initial_status"`
	CodeCustomField  string    `json:"code_custom_field" db:"code_custom_field"`
	StateCustomField string    `json:"state_custom_field" db:"state_custom_field"`
	HTMLMail         bool      `json:"html_mail" db:"html_mail"`
	MinSyncMinutes   int       `json:"min_sync_minutes" db:"min_sync_minutes"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// MinSyncInterval returns the event's minimum interval between pulls of the
// same ticket.
func (s *EventSettings) MinSyncInterval() time.Duration {
	return time.Duration(s.MinSyncMinutes) * time.Minute
}

// UserToken is an optional per-user RT token override, consulted before the
// event-level token when a remote call runs on behalf of a specific user.
type UserToken struct {
	EventID   int       `json:"event_id" db:"event_id"`
	Email     string    `json:"email" db:"email"`
	Token     string    `json:"token" db:"token"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Account is an operator account for this service's HTTP API.
type Account struct {
	ID           int       `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// StringList is a string slice stored as a JSON column.
type StringList []string

// Value implements the driver.Valuer interface for JSON storage.
func (l StringList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements the sql.Scanner interface for JSON retrieval.
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		*l = nil
		return nil
	}
}

// Contains reports whether the list holds the given value.
func (l StringList) Contains(value string) bool {
	for _, item := range l {
		if item == value {
			return true
		}
	}
	return false
}

// IntList is an int slice stored as a JSON column.
type IntList []int

// Value implements the driver.Valuer interface for JSON storage.
func (l IntList) Value() (driver.Value, error) {
	if len(l) == 0 {
		return "[]", nil
	}
	return json.Marshal(l)
}

// Scan implements the sql.Scanner interface for JSON retrieval.
func (l *IntList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		*l = nil
		return nil
	}
}

// Contains reports whether the list holds the given value.
func (l IntList) Contains(value int) bool {
	for _, item := range l {
		if item == value {
			return true
		}
	}
	return false
}
