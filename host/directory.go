package host

import (
	"fmt"
	"sync"
	"time"
)

// Directory is the read interface the sync engine uses to resolve host
// entities. The host integration layer provides the live implementation;
// Memory below backs tests and local development.
type Directory interface {
	// SubmissionByCode resolves a submission code within an event. Returns
	// nil (no error) when the code is unknown, so reconciliation can treat
	// orphaned references as a skip rather than a failure.
	SubmissionByCode(eventID int, code string) (*Submission, error)

	// UsersByEmail returns all host users registered under the address.
	UsersByEmail(email string) ([]User, error)

	// MarkMailSent records that the mail left through the ticket system.
	MarkMailSent(mailID int, sentAt time.Time) error
}

// Memory is an in-memory Directory.
type Memory struct {
	mutex       sync.RWMutex
	submissions map[int]map[string]*Submission // eventID -> code -> submission
	users       map[string][]User              // email -> users
	mailSent    map[int]time.Time
}

// NewMemory creates an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		submissions: make(map[int]map[string]*Submission),
		users:       make(map[string][]User),
		mailSent:    make(map[int]time.Time),
	}
}

// AddSubmission registers a submission under an event.
func (m *Memory) AddSubmission(eventID int, sub *Submission) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.submissions[eventID] == nil {
		m.submissions[eventID] = make(map[string]*Submission)
	}
	m.submissions[eventID][sub.Code] = sub

	for _, speaker := range sub.Speakers {
		m.addUserUnsafe(speaker)
	}
}

// AddUser registers a host user.
func (m *Memory) AddUser(user User) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.addUserUnsafe(user)
}

func (m *Memory) addUserUnsafe(user User) {
	for _, existing := range m.users[user.Email] {
		if existing == user {
			return
		}
	}
	m.users[user.Email] = append(m.users[user.Email], user)
}

// SubmissionByCode implements Directory.
func (m *Memory) SubmissionByCode(eventID int, code string) (*Submission, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if byCode, ok := m.submissions[eventID]; ok {
		if sub, ok := byCode[code]; ok {
			return sub, nil
		}
	}
	return nil, nil
}

// UsersByEmail implements Directory.
func (m *Memory) UsersByEmail(email string) ([]User, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.users[email], nil
}

// MarkMailSent implements Directory.
func (m *Memory) MarkMailSent(mailID int, sentAt time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, already := m.mailSent[mailID]; already {
		return fmt.Errorf("mail %d already marked sent", mailID)
	}
	m.mailSent[mailID] = sentAt
	return nil
}

// MailSentAt reports when a mail was marked sent, if it was.
func (m *Memory) MailSentAt(mailID int) (time.Time, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	sentAt, ok := m.mailSent[mailID]
	return sentAt, ok
}
