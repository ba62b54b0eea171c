package config

import (
	"fmt"
	"strings"
	"time"

	"pretalx-rt-sync/cache"
	"pretalx-rt-sync/database"
	"pretalx-rt-sync/rt"
)

// listingTTL bounds how long remote queue and custom-field listings are
// reused before being fetched again.
const listingTTL = 5 * time.Minute

// DefaultInitialStatus is the status new tickets are created with unless the
// event overrides it.
const DefaultInitialStatus = "new"

// DefaultMinSyncMinutes is the default minimum interval between pulls of the
// same ticket.
const DefaultMinSyncMinutes = 15

// UpdateSettingsRequest represents an event settings update request.
type UpdateSettingsRequest struct {
	Slug             string `json:"slug"`
	Enabled          bool   `json:"enabled"`
	BaseURL          string `json:"base_url"`
	Token            string `json:"token"`
	Queue            string `json:"queue"`
	InitialStatus    string `json:"initial_status"`
	CodeCustomField  string `json:"code_custom_field"`
	StateCustomField string `json:"state_custom_field"`
	HTMLMail         bool   `json:"html_mail"`
	MinSyncMinutes   int    `json:"min_sync_minutes"`
}

// Service handles per-event sync configuration.
type Service struct {
	db       *database.Adapter
	listings *cache.MemoryCache
}

// NewService creates a new settings service.
func NewService(db *database.Adapter) *Service {
	return &Service{db: db, listings: cache.NewMemoryCache()}
}

// GetSettings retrieves the settings of an event.
func (s *Service) GetSettings(eventID int) (*database.EventSettings, error) {
	return s.db.GetEventSettings(eventID)
}

// ListSettings retrieves the settings of every configured event.
func (s *Service) ListSettings() ([]*database.EventSettings, error) {
	return s.db.ListEventSettings()
}

// UpdateSettings stores an event's settings, filling in defaults. An empty
// queue falls back to the event slug, so a fresh event syncs into a queue
// named after itself.
func (s *Service) UpdateSettings(eventID int, req UpdateSettingsRequest) (*database.EventSettings, error) {
	if req.Slug == "" {
		return nil, fmt.Errorf("event slug is required")
	}
	if req.Enabled && (req.BaseURL == "" || req.Token == "") {
		return nil, fmt.Errorf("base URL and token are required to enable sync")
	}

	if req.Queue == "" {
		req.Queue = req.Slug
	}
	if req.InitialStatus == "" {
		req.InitialStatus = DefaultInitialStatus
	}
	if req.MinSyncMinutes <= 0 {
		req.MinSyncMinutes = DefaultMinSyncMinutes
	}

	settings := &database.EventSettings{
		EventID:          eventID,
		Slug:             req.Slug,
		Enabled:          req.Enabled,
		BaseURL:          strings.TrimRight(req.BaseURL, "/"),
		Token:            req.Token,
		Queue:            req.Queue,
		InitialStatus:    req.InitialStatus,
		CodeCustomField:  req.CodeCustomField,
		StateCustomField: req.StateCustomField,
		HTMLMail:         req.HTMLMail,
		MinSyncMinutes:   req.MinSyncMinutes,
	}
	if err := s.db.SaveEventSettings(settings); err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return settings, nil
}

// GetUserToken retrieves a user's token override for an event, or nil.
func (s *Service) GetUserToken(eventID int, email string) (*database.UserToken, error) {
	return s.db.GetUserToken(eventID, email)
}

// SaveUserToken stores a user token override. An empty token removes the
// override.
func (s *Service) SaveUserToken(eventID int, email, token string) error {
	return s.db.SaveUserToken(&database.UserToken{
		EventID: eventID,
		Email:   email,
		Token:   token,
	})
}

// ResolveToken returns the token a remote call on behalf of the given user
// should authenticate with: the user's override when one is stored, otherwise
// the event token. An empty email always resolves to the event token.
func (s *Service) ResolveToken(settings *database.EventSettings, email string) (string, error) {
	if email == "" {
		return settings.Token, nil
	}
	override, err := s.db.GetUserToken(settings.EventID, email)
	if err != nil {
		return "", err
	}
	if override != nil && override.Token != "" {
		return override.Token, nil
	}
	return settings.Token, nil
}

// ClientFor builds an RT client from event settings, optionally acting as a
// specific user.
func (s *Service) ClientFor(settings *database.EventSettings, email string) (*rt.Client, error) {
	token, err := s.ResolveToken(settings, email)
	if err != nil {
		return nil, err
	}
	return rt.NewClient(settings.BaseURL, token), nil
}

// ListRemoteQueues returns the queue names of the event's RT instance,
// cached briefly.
func (s *Service) ListRemoteQueues(settings *database.EventSettings) ([]string, error) {
	key := fmt.Sprintf("queues:%d", settings.EventID)
	var names []string
	if err := s.listings.Get(key, &names); err == nil {
		return names, nil
	}

	client := rt.NewClient(settings.BaseURL, settings.Token)
	names, err := client.ListQueues()
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	s.listings.Set(key, names, listingTTL)
	return names, nil
}

// ListRemoteCustomFields returns the custom-field names applicable to the
// event's configured queue, cached briefly.
func (s *Service) ListRemoteCustomFields(settings *database.EventSettings) ([]string, error) {
	key := fmt.Sprintf("customfields:%d:%s", settings.EventID, settings.Queue)
	var names []string
	if err := s.listings.Get(key, &names); err == nil {
		return names, nil
	}

	client := rt.NewClient(settings.BaseURL, settings.Token)
	names, err := client.ListCustomFields(settings.Queue)
	if err != nil {
		return nil, fmt.Errorf("failed to list custom fields: %w", err)
	}
	s.listings.Set(key, names, listingTTL)
	return names, nil
}

// Validate checks an event's settings against the live RT instance and
// returns human-readable warnings. Warnings never block saving; a queue or
// custom field can legitimately be created after the settings are.
func (s *Service) Validate(settings *database.EventSettings) ([]string, error) {
	if settings.BaseURL == "" || settings.Token == "" {
		return []string{"credentials not configured"}, nil
	}

	var warnings []string

	queues, err := s.ListRemoteQueues(settings)
	if err != nil {
		return nil, err
	}
	if !containsName(queues, settings.Queue) {
		warnings = append(warnings, fmt.Sprintf("queue %q does not exist", settings.Queue))
	}

	fields, err := s.ListRemoteCustomFields(settings)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{settings.CodeCustomField, settings.StateCustomField} {
		if name != "" && !containsName(fields, name) {
			warnings = append(warnings, fmt.Sprintf("custom field %q does not exist", name))
		}
	}
	return warnings, nil
}

func containsName(names []string, name string) bool {
	for _, candidate := range names {
		if candidate == name {
			return true
		}
	}
	return false
}
