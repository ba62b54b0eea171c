package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	return store
}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	return &Adapter{Store: newTestStore(t), backend: "file"}
}

func TestCreateTicketRejectsSecondLinkForSubmission(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateTicket(&Ticket{EventID: 1, RemoteID: 100, SubmissionCode: "SUB1"})
	require.NoError(t, err)

	_, err = store.CreateTicket(&Ticket{EventID: 1, RemoteID: 200, SubmissionCode: "SUB1"})
	assert.ErrorIs(t, err, ErrSubmissionLinked)

	// Same code in another event is a separate link.
	_, err = store.CreateTicket(&Ticket{EventID: 2, RemoteID: 200, SubmissionCode: "SUB1"})
	assert.NoError(t, err)
}

func TestCreateTicketRejectsDuplicateRemoteID(t *testing.T) {
	store := newTestStore(t)

	_, err := store.CreateTicket(&Ticket{EventID: 1, RemoteID: 100})
	require.NoError(t, err)

	_, err = store.CreateTicket(&Ticket{EventID: 1, RemoteID: 100})
	assert.Error(t, err)
}

func TestListTicketsByStalenessNullsFirst(t *testing.T) {
	store := newTestStore(t)

	old := time.Now().Add(-2 * time.Hour)
	recent := time.Now().Add(-5 * time.Minute)

	recentTicket, err := store.CreateTicket(&Ticket{EventID: 1, RemoteID: 1, SyncedAt: &recent})
	require.NoError(t, err)
	neverSynced, err := store.CreateTicket(&Ticket{EventID: 1, RemoteID: 2})
	require.NoError(t, err)
	oldTicket, err := store.CreateTicket(&Ticket{EventID: 1, RemoteID: 3, SyncedAt: &old})
	require.NoError(t, err)

	tickets, err := store.ListTicketsByStaleness(0)
	require.NoError(t, err)
	require.Len(t, tickets, 3)

	assert.Equal(t, neverSynced.ID, tickets[0].ID)
	assert.Equal(t, oldTicket.ID, tickets[1].ID)
	assert.Equal(t, recentTicket.ID, tickets[2].ID)

	limited, err := store.ListTicketsByStaleness(2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	_, err = store.CreateTicket(&Ticket{EventID: 1, RemoteID: 42, SubmissionCode: "SUB1"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	ticket, err := reopened.GetTicketByRemoteID(1, 42)
	require.NoError(t, err)
	assert.Equal(t, "SUB1", ticket.SubmissionCode)
}

func TestGetUserTokenAbsentIsNil(t *testing.T) {
	store := newTestStore(t)

	token, err := store.GetUserToken(1, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestSaveUserTokenEmptyDeletes(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveUserToken(&UserToken{EventID: 1, Email: "a@example.com", Token: "tok"}))
	token, err := store.GetUserToken(1, "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, token)

	require.NoError(t, store.SaveUserToken(&UserToken{EventID: 1, Email: "a@example.com"}))
	token, err = store.GetUserToken(1, "a@example.com")
	require.NoError(t, err)
	assert.Nil(t, token)
}

func TestUpsertTicketCreatesAndRefreshes(t *testing.T) {
	db := newTestAdapter(t)

	first, created, err := db.UpsertTicket(&Ticket{
		EventID: 1, RemoteID: 100, Subject: "first", Status: "new", SubmissionCode: "SUB1",
	})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := db.UpsertTicket(&Ticket{
		EventID: 1, RemoteID: 100, Subject: "renamed", Status: "open", SubmissionCode: "SUB1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "renamed", second.Subject)
	assert.Equal(t, "open", second.Status)
}

func TestUpsertTicketNeverRelinksSubmission(t *testing.T) {
	db := newTestAdapter(t)

	_, _, err := db.UpsertTicket(&Ticket{EventID: 1, RemoteID: 100, SubmissionCode: "SUB1"})
	require.NoError(t, err)

	// A different remote ticket claiming the same submission is rejected.
	_, _, err = db.UpsertTicket(&Ticket{EventID: 1, RemoteID: 200, SubmissionCode: "SUB1"})
	assert.ErrorIs(t, err, ErrSubmissionLinked)

	ticket, err := db.GetTicketBySubmission(1, "SUB1")
	require.NoError(t, err)
	assert.Equal(t, 100, ticket.RemoteID)
}

func TestUpsertTicketKeepsExistingLinkOnUnlinkedUpdate(t *testing.T) {
	db := newTestAdapter(t)

	_, _, err := db.UpsertTicket(&Ticket{EventID: 1, RemoteID: 100, SubmissionCode: "SUB1"})
	require.NoError(t, err)

	// An update without a submission code never clears the link.
	updated, created, err := db.UpsertTicket(&Ticket{EventID: 1, RemoteID: 100, Subject: "pulled"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "SUB1", updated.SubmissionCode)
}

func TestLinkTicketMailIsIdempotent(t *testing.T) {
	db := newTestAdapter(t)

	ticket, _, err := db.UpsertTicket(&Ticket{EventID: 1, RemoteID: 100})
	require.NoError(t, err)

	require.NoError(t, db.LinkTicketMail(ticket.ID, 7))
	require.NoError(t, db.LinkTicketMail(ticket.ID, 7))
	require.NoError(t, db.LinkTicketMail(ticket.ID, 8))

	got, err := db.GetTicketByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, IntList{7, 8}, got.MailIDs)
}

func TestAddTicketUserIsAdditive(t *testing.T) {
	db := newTestAdapter(t)

	ticket, _, err := db.UpsertTicket(&Ticket{EventID: 1, RemoteID: 100})
	require.NoError(t, err)

	require.NoError(t, db.AddTicketUser(ticket.ID, "a@example.com"))
	require.NoError(t, db.AddTicketUser(ticket.ID, "a@example.com"))
	require.NoError(t, db.AddTicketUser(ticket.ID, "b@example.com"))

	got, err := db.GetTicketByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, StringList{"a@example.com", "b@example.com"}, got.UserEmails)
}
