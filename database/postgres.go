package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists everything in PostgreSQL via a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and ensures the schema exists.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 10 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id SERIAL PRIMARY KEY,
    username VARCHAR(255) UNIQUE NOT NULL,
    email VARCHAR(255) UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS event_settings (
    event_id INTEGER PRIMARY KEY,
    slug VARCHAR(255) NOT NULL,
    enabled BOOLEAN NOT NULL DEFAULT FALSE,
    base_url TEXT NOT NULL DEFAULT '',
    token TEXT NOT NULL DEFAULT '',
    queue VARCHAR(255) NOT NULL DEFAULT '',
    initial_status VARCHAR(64) NOT NULL DEFAULT 'new',
    code_custom_field VARCHAR(255) NOT NULL DEFAULT '',
    state_custom_field VARCHAR(255) NOT NULL DEFAULT '',
    html_mail BOOLEAN NOT NULL DEFAULT FALSE,
    min_sync_minutes INTEGER NOT NULL DEFAULT 15,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_tokens (
    event_id INTEGER NOT NULL REFERENCES event_settings(event_id) ON DELETE CASCADE,
    email VARCHAR(255) NOT NULL,
    token TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (event_id, email)
);

CREATE TABLE IF NOT EXISTS tickets (
    id SERIAL PRIMARY KEY,
    event_id INTEGER NOT NULL REFERENCES event_settings(event_id) ON DELETE CASCADE,
    remote_id INTEGER NOT NULL,
    subject TEXT NOT NULL DEFAULT '',
    status VARCHAR(64) NOT NULL DEFAULT '',
    queue VARCHAR(255) NOT NULL DEFAULT '',
    submission_code VARCHAR(255),
    mail_ids JSONB NOT NULL DEFAULT '[]',
    user_emails JSONB NOT NULL DEFAULT '[]',
    synced_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (event_id, remote_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_tickets_submission
    ON tickets(event_id, submission_code) WHERE submission_code IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_tickets_synced_at ON tickets(synced_at ASC NULLS FIRST);
`

// Account operations

func (s *PostgresStore) CreateAccount(username, email, passwordHash string) (*Account, error) {
	ctx := context.Background()
	account := &Account{Username: username, Email: email, PasswordHash: passwordHash}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO accounts (username, email, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		username, email, passwordHash,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

func (s *PostgresStore) GetAccountByUsername(username string) (*Account, error) {
	return s.scanAccount(`SELECT id, username, email, password_hash, created_at, updated_at
		FROM accounts WHERE username = $1`, username)
}

func (s *PostgresStore) GetAccountByID(id int) (*Account, error) {
	return s.scanAccount(`SELECT id, username, email, password_hash, created_at, updated_at
		FROM accounts WHERE id = $1`, id)
}

func (s *PostgresStore) scanAccount(query string, arg interface{}) (*Account, error) {
	var account Account
	err := s.pool.QueryRow(context.Background(), query, arg).Scan(
		&account.ID, &account.Username, &account.Email,
		&account.PasswordHash, &account.CreatedAt, &account.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

func (s *PostgresStore) UpdateAccountPassword(id int, passwordHash string) error {
	result, err := s.pool.Exec(context.Background(),
		`UPDATE accounts SET password_hash = $1, updated_at = NOW() WHERE id = $2`,
		passwordHash, id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// Event settings operations

const settingsColumns = `event_id, slug, enabled, base_url, token, queue, initial_status,
	code_custom_field, state_custom_field, html_mail, min_sync_minutes, created_at, updated_at`

func (s *PostgresStore) ListEventSettings() ([]*EventSettings, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT `+settingsColumns+` FROM event_settings ORDER BY event_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query event settings: %w", err)
	}
	defer rows.Close()

	var result []*EventSettings
	for rows.Next() {
		settings, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, settings)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetEventSettings(eventID int) (*EventSettings, error) {
	row := s.pool.QueryRow(context.Background(),
		`SELECT `+settingsColumns+` FROM event_settings WHERE event_id = $1`, eventID)
	settings, err := scanSettings(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSettingsNotFound
	}
	return settings, err
}

func scanSettings(row pgx.Row) (*EventSettings, error) {
	var settings EventSettings
	err := row.Scan(
		&settings.EventID, &settings.Slug, &settings.Enabled, &settings.BaseURL,
		&settings.Token, &settings.Queue, &settings.InitialStatus,
		&settings.CodeCustomField, &settings.StateCustomField, &settings.HTMLMail,
		&settings.MinSyncMinutes, &settings.CreatedAt, &settings.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan event settings: %w", err)
	}
	return &settings, nil
}

func (s *PostgresStore) SaveEventSettings(settings *EventSettings) error {
	err := s.pool.QueryRow(context.Background(),
		`INSERT INTO event_settings (event_id, slug, enabled, base_url, token, queue,
		     initial_status, code_custom_field, state_custom_field, html_mail, min_sync_minutes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (event_id) DO UPDATE SET
		     slug = EXCLUDED.slug, enabled = EXCLUDED.enabled, base_url = EXCLUDED.base_url,
		     token = EXCLUDED.token, queue = EXCLUDED.queue,
		     initial_status = EXCLUDED.initial_status,
		     code_custom_field = EXCLUDED.code_custom_field,
		     state_custom_field = EXCLUDED.state_custom_field,
		     html_mail = EXCLUDED.html_mail, min_sync_minutes = EXCLUDED.min_sync_minutes,
		     updated_at = NOW()
		 RETURNING created_at, updated_at`,
		settings.EventID, settings.Slug, settings.Enabled, settings.BaseURL,
		settings.Token, settings.Queue, settings.InitialStatus,
		settings.CodeCustomField, settings.StateCustomField, settings.HTMLMail,
		settings.MinSyncMinutes,
	).Scan(&settings.CreatedAt, &settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save event settings: %w", err)
	}
	return nil
}

// User token operations

func (s *PostgresStore) GetUserToken(eventID int, email string) (*UserToken, error) {
	var token UserToken
	err := s.pool.QueryRow(context.Background(),
		`SELECT event_id, email, token, updated_at FROM user_tokens
		 WHERE event_id = $1 AND email = $2`, eventID, email,
	).Scan(&token.EventID, &token.Email, &token.Token, &token.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user token: %w", err)
	}
	return &token, nil
}

func (s *PostgresStore) SaveUserToken(token *UserToken) error {
	ctx := context.Background()
	if token.Token == "" {
		_, err := s.pool.Exec(ctx,
			`DELETE FROM user_tokens WHERE event_id = $1 AND email = $2`,
			token.EventID, token.Email)
		if err != nil {
			return fmt.Errorf("failed to delete user token: %w", err)
		}
		return nil
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO user_tokens (event_id, email, token)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (event_id, email) DO UPDATE SET token = EXCLUDED.token, updated_at = NOW()
		 RETURNING updated_at`,
		token.EventID, token.Email, token.Token,
	).Scan(&token.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save user token: %w", err)
	}
	return nil
}

// Ticket operations

const ticketColumns = `id, event_id, remote_id, subject, status, queue,
	COALESCE(submission_code, ''), mail_ids, user_emails, synced_at, created_at, updated_at`

func (s *PostgresStore) CreateTicket(t *Ticket) (*Ticket, error) {
	ctx := context.Background()

	if t.SubmissionCode != "" {
		var existingID int
		err := s.pool.QueryRow(ctx,
			`SELECT id FROM tickets WHERE event_id = $1 AND submission_code = $2`,
			t.EventID, t.SubmissionCode).Scan(&existingID)
		if err == nil {
			return nil, ErrSubmissionLinked
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to check submission link: %w", err)
		}
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO tickets (event_id, remote_id, subject, status, queue,
		     submission_code, mail_ids, user_emails, synced_at)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		t.EventID, t.RemoteID, t.Subject, t.Status, t.Queue,
		t.SubmissionCode, t.MailIDs, t.UserEmails, t.SyncedAt,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) SaveTicket(t *Ticket) error {
	result, err := s.pool.Exec(context.Background(),
		`UPDATE tickets SET subject = $1, status = $2, queue = $3,
		     submission_code = NULLIF($4, ''), mail_ids = $5, user_emails = $6,
		     synced_at = $7, updated_at = NOW()
		 WHERE id = $8`,
		t.Subject, t.Status, t.Queue, t.SubmissionCode,
		t.MailIDs, t.UserEmails, t.SyncedAt, t.ID)
	if err != nil {
		return fmt.Errorf("failed to save ticket: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTicketNotFound
	}
	return nil
}

func (s *PostgresStore) GetTicketByID(id int) (*Ticket, error) {
	row := s.pool.QueryRow(context.Background(),
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)
	return scanTicket(row)
}

func (s *PostgresStore) GetTicketByRemoteID(eventID, remoteID int) (*Ticket, error) {
	row := s.pool.QueryRow(context.Background(),
		`SELECT `+ticketColumns+` FROM tickets WHERE event_id = $1 AND remote_id = $2`,
		eventID, remoteID)
	return scanTicket(row)
}

func (s *PostgresStore) GetTicketBySubmission(eventID int, code string) (*Ticket, error) {
	row := s.pool.QueryRow(context.Background(),
		`SELECT `+ticketColumns+` FROM tickets WHERE event_id = $1 AND submission_code = $2`,
		eventID, code)
	return scanTicket(row)
}

func scanTicket(row pgx.Row) (*Ticket, error) {
	var t Ticket
	err := row.Scan(
		&t.ID, &t.EventID, &t.RemoteID, &t.Subject, &t.Status, &t.Queue,
		&t.SubmissionCode, &t.MailIDs, &t.UserEmails, &t.SyncedAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan ticket: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) ListEventTickets(eventID int) ([]*Ticket, error) {
	return s.queryTickets(
		`SELECT `+ticketColumns+` FROM tickets WHERE event_id = $1 ORDER BY remote_id ASC`,
		eventID)
}

func (s *PostgresStore) ListTicketsByStaleness(limit int) ([]*Ticket, error) {
	if limit <= 0 {
		return s.queryTickets(
			`SELECT ` + ticketColumns + ` FROM tickets ORDER BY synced_at ASC NULLS FIRST, id ASC`)
	}
	return s.queryTickets(
		`SELECT `+ticketColumns+` FROM tickets ORDER BY synced_at ASC NULLS FIRST, id ASC LIMIT $1`,
		limit)
}

func (s *PostgresStore) queryTickets(query string, args ...interface{}) ([]*Ticket, error) {
	rows, err := s.pool.Query(context.Background(), query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var result []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *PostgresStore) DeleteEventTickets(eventID int) error {
	_, err := s.pool.Exec(context.Background(),
		`DELETE FROM tickets WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("failed to delete event tickets: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
