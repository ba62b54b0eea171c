package host

import "time"

// The host application's data models are consumed as opaque read sources.
// Only the fields the sync engine reads are represented here.

// User is a host account that can appear as a speaker, mail recipient or
// comment author.
type User struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Submission is a conference submission. Code is the host's stable public
// identifier and is what gets written into the remote ticket's custom field.
type Submission struct {
	Code     string `json:"code"`
	Title    string `json:"title"`
	State    string `json:"state"`
	Speakers []User `json:"speakers"`
}

// Attachment is a file attached to an outgoing mail.
type Attachment struct {
	Name        string `json:"name"`
	Content     []byte `json:"content"`
	ContentType string `json:"content_type"`
}

// Mail is an outgoing mail queued by the host. The host renders both an HTML
// and a plain-text body; which one is sent to RT depends on event settings.
type Mail struct {
	ID              int          `json:"id"`
	Subject         string       `json:"subject"`
	To              []User       `json:"to"`
	Attachments     []Attachment `json:"attachments"`
	BodyHTML        string       `json:"body_html"`
	BodyText        string       `json:"body_text"`
	SubmissionCodes []string     `json:"submission_codes"`
	SentAt          *time.Time   `json:"sent_at,omitempty"`
}

// Comment is a reviewer/organizer comment on a submission.
type Comment struct {
	ID             int    `json:"id"`
	Text           string `json:"text"`
	Author         User   `json:"author"`
	SubmissionCode string `json:"submission_code"`
	Draft          bool   `json:"draft"`
}
