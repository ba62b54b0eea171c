package rt

import (
	"encoding/json"
	"strconv"
)

// Ticket represents a ticket as returned by the RT REST 2.0 API.
type Ticket struct {
	ID           int           `json:"id"`
	Subject      string        `json:"Subject"`
	Status       string        `json:"Status"`
	Queue        QueueRef      `json:"Queue"`
	Owner        PrincipalRef  `json:"Owner"`
	Requestor    []UserRef     `json:"Requestor"`
	CustomFields []CustomField `json:"CustomFields"`
}

// RequestorEmails returns the requestor addresses of the ticket.
func (t *Ticket) RequestorEmails() []string {
	emails := make([]string, 0, len(t.Requestor))
	for _, r := range t.Requestor {
		emails = append(emails, r.ID)
	}
	return emails
}

// TicketSummary is a single result of a ticket search. Searches request the
// same field set the full ticket carries, so reconciliation can read custom
// fields without an extra round trip per ticket.
type TicketSummary struct {
	ID           int           `json:"id"`
	Subject      string        `json:"Subject"`
	Status       string        `json:"Status"`
	Queue        QueueRef      `json:"Queue"`
	CustomFields []CustomField `json:"CustomFields"`
}

// CustomField is one custom field slot on a ticket.
type CustomField struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// QueueRef is a hyperlinked queue reference embedded in ticket payloads.
type QueueRef struct {
	ID   string `json:"id"`
	Name string `json:"Name"`
}

// PrincipalRef is a hyperlinked user/group reference (Owner and friends).
type PrincipalRef struct {
	ID string `json:"id"`
}

// UserRef is a hyperlinked user reference; RT uses the email address as the
// user id for requestors.
type UserRef struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// Attachment is a file attached to an outgoing reply. FileContent is raw
// bytes; the client base64-encodes it on the wire as RT expects.
type Attachment struct {
	FileName    string
	ContentType string
	FileContent []byte
}

// TicketEdit describes a partial update to a ticket. Zero-valued fields are
// left untouched on the remote side.
type TicketEdit struct {
	Subject      string
	Status       string
	Requestor    []string
	CustomFields map[string]string
}

// payload converts the edit into the field map RT expects.
func (e TicketEdit) payload() map[string]interface{} {
	fields := map[string]interface{}{}
	if e.Subject != "" {
		fields["Subject"] = e.Subject
	}
	if e.Status != "" {
		fields["Status"] = e.Status
	}
	if e.Requestor != nil {
		fields["Requestor"] = e.Requestor
	}
	if len(e.CustomFields) > 0 {
		fields["CustomFields"] = e.CustomFields
	}
	return fields
}

// flexibleID tolerates RT returning ids either as JSON numbers or strings.
type flexibleID int

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n = json.Number(s)
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return err
	}
	*f = flexibleID(v)
	return nil
}

// searchPage is one page of a paginated collection response.
type searchPage struct {
	Items []json.RawMessage `json:"items"`
	Page  int               `json:"page"`
	Pages int               `json:"pages"`
	Total int               `json:"total"`
}

// namedItem is a collection member that only carries a display name.
type namedItem struct {
	ID   json.Number `json:"id"`
	Name string      `json:"Name"`
}
