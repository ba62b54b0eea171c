package database

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore is a pure-Go store persisting everything to a single JSON file.
// It backs local development and tests; production deployments set
// DATABASE_URL and get the PostgreSQL store instead.
type FileStore struct {
	path  string
	mutex sync.RWMutex

	accounts   map[int]*Account
	settings   map[int]*EventSettings // eventID -> settings
	userTokens map[string]*UserToken  // eventID:email -> token
	tickets    map[int]*Ticket

	nextAccountID int
	nextTicketID  int
}

// NewFileStore opens (or creates) a file-backed store at the given path.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store := &FileStore{
		path:          path,
		accounts:      make(map[int]*Account),
		settings:      make(map[int]*EventSettings),
		userTokens:    make(map[string]*UserToken),
		tickets:       make(map[int]*Ticket),
		nextAccountID: 1,
		nextTicketID:  1,
	}
	if err := store.load(); err != nil {
		return nil, fmt.Errorf("failed to load store data: %w", err)
	}
	return store, nil
}

func userTokenKey(eventID int, email string) string {
	return fmt.Sprintf("%d:%s", eventID, email)
}

// Account operations

func (s *FileStore) CreateAccount(username, email, passwordHash string) (*Account, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, account := range s.accounts {
		if account.Username == username || account.Email == email {
			return nil, fmt.Errorf("account already exists")
		}
	}

	account := &Account{
		ID:           s.nextAccountID,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	s.accounts[account.ID] = account
	s.nextAccountID++

	if err := s.save(); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *FileStore) GetAccountByUsername(username string) (*Account, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, account := range s.accounts {
		if account.Username == username {
			return account, nil
		}
	}
	return nil, ErrAccountNotFound
}

func (s *FileStore) GetAccountByID(id int) (*Account, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if account, exists := s.accounts[id]; exists {
		return account, nil
	}
	return nil, ErrAccountNotFound
}

func (s *FileStore) UpdateAccountPassword(id int, passwordHash string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	account, exists := s.accounts[id]
	if !exists {
		return ErrAccountNotFound
	}
	account.PasswordHash = passwordHash
	account.UpdatedAt = time.Now()
	return s.save()
}

// Event settings operations

func (s *FileStore) ListEventSettings() ([]*EventSettings, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*EventSettings, 0, len(s.settings))
	for _, settings := range s.settings {
		result = append(result, settings)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].EventID < result[j].EventID })
	return result, nil
}

func (s *FileStore) GetEventSettings(eventID int) (*EventSettings, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if settings, exists := s.settings[eventID]; exists {
		return settings, nil
	}
	return nil, ErrSettingsNotFound
}

func (s *FileStore) SaveEventSettings(settings *EventSettings) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if existing, exists := s.settings[settings.EventID]; exists {
		settings.CreatedAt = existing.CreatedAt
	} else {
		settings.CreatedAt = time.Now()
	}
	settings.UpdatedAt = time.Now()
	s.settings[settings.EventID] = settings
	return s.save()
}

// User token operations

func (s *FileStore) GetUserToken(eventID int, email string) (*UserToken, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if token, exists := s.userTokens[userTokenKey(eventID, email)]; exists {
		return token, nil
	}
	return nil, nil
}

func (s *FileStore) SaveUserToken(token *UserToken) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	token.UpdatedAt = time.Now()
	if token.Token == "" {
		delete(s.userTokens, userTokenKey(token.EventID, token.Email))
	} else {
		s.userTokens[userTokenKey(token.EventID, token.Email)] = token
	}
	return s.save()
}

// Ticket operations

func (s *FileStore) CreateTicket(t *Ticket) (*Ticket, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, existing := range s.tickets {
		if existing.EventID == t.EventID && existing.RemoteID == t.RemoteID {
			return nil, fmt.Errorf("ticket for remote id %d already exists", t.RemoteID)
		}
		if t.SubmissionCode != "" && existing.EventID == t.EventID && existing.SubmissionCode == t.SubmissionCode {
			return nil, ErrSubmissionLinked
		}
	}

	t.ID = s.nextTicketID
	t.CreatedAt = time.Now()
	t.UpdatedAt = time.Now()
	s.tickets[t.ID] = t
	s.nextTicketID++

	if err := s.save(); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *FileStore) SaveTicket(t *Ticket) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.tickets[t.ID]; !exists {
		return ErrTicketNotFound
	}
	t.UpdatedAt = time.Now()
	s.tickets[t.ID] = t
	return s.save()
}

func (s *FileStore) GetTicketByID(id int) (*Ticket, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if t, exists := s.tickets[id]; exists {
		return t, nil
	}
	return nil, ErrTicketNotFound
}

func (s *FileStore) GetTicketByRemoteID(eventID, remoteID int) (*Ticket, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, t := range s.tickets {
		if t.EventID == eventID && t.RemoteID == remoteID {
			return t, nil
		}
	}
	return nil, ErrTicketNotFound
}

func (s *FileStore) GetTicketBySubmission(eventID int, code string) (*Ticket, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, t := range s.tickets {
		if t.EventID == eventID && t.SubmissionCode == code {
			return t, nil
		}
	}
	return nil, ErrTicketNotFound
}

func (s *FileStore) ListEventTickets(eventID int) ([]*Ticket, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var result []*Ticket
	for _, t := range s.tickets {
		if t.EventID == eventID {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].RemoteID < result[j].RemoteID })
	return result, nil
}

// ListTicketsByStaleness returns tickets ordered oldest-synced first, with
// never-synced tickets ahead of everything.
func (s *FileStore) ListTicketsByStaleness(limit int) ([]*Ticket, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch {
		case a.SyncedAt == nil && b.SyncedAt == nil:
			return a.ID < b.ID
		case a.SyncedAt == nil:
			return true
		case b.SyncedAt == nil:
			return false
		default:
			return a.SyncedAt.Before(*b.SyncedAt)
		}
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *FileStore) DeleteEventTickets(eventID int) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var toDelete []int
	for id, t := range s.tickets {
		if t.EventID == eventID {
			toDelete = append(toDelete, id)
		}
	}
	for _, id := range toDelete {
		delete(s.tickets, id)
	}
	if len(toDelete) > 0 {
		return s.save()
	}
	return nil
}

// Persistence

type fileData struct {
	Accounts      map[int]*Account       `json:"accounts"`
	Settings      map[int]*EventSettings `json:"settings"`
	UserTokens    map[string]*UserToken  `json:"user_tokens"`
	Tickets       map[int]*Ticket        `json:"tickets"`
	NextAccountID int                    `json:"next_account_id"`
	NextTicketID  int                    `json:"next_ticket_id"`
}

func (s *FileStore) save() error {
	file, err := os.Create(s.path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(fileData{
		Accounts:      s.accounts,
		Settings:      s.settings,
		UserTokens:    s.userTokens,
		Tickets:       s.tickets,
		NextAccountID: s.nextAccountID,
		NextTicketID:  s.nextTicketID,
	})
}

func (s *FileStore) load() error {
	file, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil // start fresh
	}
	if err != nil {
		return err
	}
	defer file.Close()

	var data fileData
	if err := json.NewDecoder(file).Decode(&data); err != nil {
		return err
	}

	if data.Accounts != nil {
		s.accounts = data.Accounts
	}
	if data.Settings != nil {
		s.settings = data.Settings
	}
	if data.UserTokens != nil {
		s.userTokens = data.UserTokens
	}
	if data.Tickets != nil {
		s.tickets = data.Tickets
	}
	if data.NextAccountID > 0 {
		s.nextAccountID = data.NextAccountID
	}
	if data.NextTicketID > 0 {
		s.nextTicketID = data.NextTicketID
	}
	return nil
}

// Close flushes pending state to disk.
func (s *FileStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.save()
}
