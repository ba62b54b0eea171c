package sync

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pretalx-rt-sync/config"
	"pretalx-rt-sync/database"
	"pretalx-rt-sync/host"
)

// fakeRT is an in-memory stand-in for the RT REST 2.0 API, covering the
// endpoints the engine touches.
type fakeRT struct {
	mu            sync.Mutex
	server        *httptest.Server
	nextID        int
	tickets       map[int]*fakeTicket
	requests      []recordedRequest
	replies       int
	comments      int
	failNextReply bool
}

type fakeTicket struct {
	Subject      string
	Status       string
	Queue        string
	Requestor    []string
	CustomFields map[string][]string
}

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
}

func newFakeRT(t *testing.T) *fakeRT {
	t.Helper()
	f := &fakeRT{nextID: 1, tickets: make(map[int]*fakeTicket)}
	f.server = httptest.NewServer(f)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRT) addTicket(id int, ticket *fakeTicket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tickets[id] = ticket
	if id >= f.nextID {
		f.nextID = id + 1
	}
}

func (f *fakeRT) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, req := range f.requests {
		if req.Method == method && req.Path == path {
			n++
		}
	}
	return n
}

func (f *fakeRT) lastAuth(method, path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	auth := ""
	for _, req := range f.requests {
		if req.Method == method && req.Path == path {
			auth = req.Auth
		}
	}
	return auth
}

func (f *fakeRT) ticket(id int) fakeTicket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.tickets[id]
}

func (f *fakeRT) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Auth:   r.Header.Get("Authorization"),
	})

	switch {
	case r.Method == "POST" && r.URL.Path == "/ticket":
		f.createTicket(w, r)
	case r.Method == "GET" && r.URL.Path == "/tickets":
		f.searchTickets(w)
	case r.Method == "GET" && r.URL.Path == "/queues/all":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"items": []map[string]string{{"id": "1", "Name": "democon"}},
			"page":  1, "pages": 1,
		})
	case r.Method == "GET" && r.URL.Path == "/customfields":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"items": []map[string]string{
				{"id": "1", "Name": "Pretalx Code"},
				{"id": "2", "Name": "Pretalx State"},
			},
			"page": 1, "pages": 1,
		})
	case strings.HasPrefix(r.URL.Path, "/ticket/"):
		f.ticketEndpoint(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	}
}

func (f *fakeRT) createTicket(w http.ResponseWriter, r *http.Request) {
	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
		return
	}

	id := f.nextID
	f.nextID++

	ticket := &fakeTicket{
		Subject:      asString(payload["Subject"]),
		Status:       asString(payload["Status"]),
		Queue:        asString(payload["Queue"]),
		Requestor:    asRequestors(payload["Requestor"]),
		CustomFields: make(map[string][]string),
	}
	if fields, ok := payload["CustomFields"].(map[string]interface{}); ok {
		for name, value := range fields {
			ticket.CustomFields[name] = []string{asString(value)}
		}
	}
	f.tickets[id] = ticket

	// RT returns the id as a string.
	writeJSON(w, http.StatusCreated, map[string]string{"id": strconv.Itoa(id), "type": "ticket"})
}

func (f *fakeRT) ticketEndpoint(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad id"})
		return
	}
	ticket, ok := f.tickets[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no such ticket"})
		return
	}

	action := ""
	if len(parts) == 3 {
		action = parts[2]
	}

	switch {
	case r.Method == "GET" && action == "":
		writeJSON(w, http.StatusOK, f.ticketJSON(ticket))
	case r.Method == "PUT" && action == "":
		var fields map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": err.Error()})
			return
		}
		if subject, ok := fields["Subject"]; ok {
			ticket.Subject = asString(subject)
		}
		if status, ok := fields["Status"]; ok {
			ticket.Status = asString(status)
		}
		if requestor, ok := fields["Requestor"]; ok {
			ticket.Requestor = asRequestors(requestor)
		}
		if custom, ok := fields["CustomFields"].(map[string]interface{}); ok {
			for name, value := range custom {
				ticket.CustomFields[name] = []string{asString(value)}
			}
		}
		writeJSON(w, http.StatusOK, []string{})
	case r.Method == "POST" && action == "correspond":
		if f.failNextReply {
			f.failNextReply = false
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "boom"})
			return
		}
		f.replies++
		writeJSON(w, http.StatusCreated, []string{"Correspondence added"})
	case r.Method == "POST" && action == "comment":
		f.comments++
		writeJSON(w, http.StatusCreated, []string{"Comment added"})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "unsupported"})
	}
}

func (f *fakeRT) ticketJSON(ticket *fakeTicket) map[string]interface{} {
	requestor := make([]map[string]string, 0, len(ticket.Requestor))
	for _, r := range ticket.Requestor {
		requestor = append(requestor, map[string]string{"id": r, "type": "user"})
	}
	custom := make([]map[string]interface{}, 0, len(ticket.CustomFields))
	for name, values := range ticket.CustomFields {
		custom = append(custom, map[string]interface{}{"name": name, "values": values})
	}
	return map[string]interface{}{
		"Subject":      ticket.Subject,
		"Status":       ticket.Status,
		"Queue":        map[string]string{"id": "1", "Name": ticket.Queue},
		"Requestor":    requestor,
		"CustomFields": custom,
	}
}

func (f *fakeRT) searchTickets(w http.ResponseWriter) {
	ids := make([]int, 0, len(f.tickets))
	for id := range f.tickets {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	items := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		item := f.ticketJSON(f.tickets[id])
		item["id"] = id
		delete(item, "Requestor")
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"page":  1,
		"pages": 1,
		"total": len(items),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// asRequestors resolves "Name <email>" forms to the bare address, as RT does
// when it stores requestors as users.
func asRequestors(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		addr := asString(item)
		if i := strings.LastIndex(addr, "<"); i >= 0 {
			if j := strings.LastIndex(addr, ">"); j > i {
				addr = addr[i+1 : j]
			}
		}
		out = append(out, addr)
	}
	return out
}

// newEngineEnv wires an engine against a fake RT instance with event 1
// configured and enabled.
func newEngineEnv(t *testing.T, rtURL string) (*Engine, *database.Adapter, *config.Service, *host.Memory) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")

	db, err := database.NewAdapter(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := config.NewService(db)
	_, err = cfg.UpdateSettings(1, config.UpdateSettingsRequest{
		Slug:             "democon",
		Enabled:          true,
		BaseURL:          rtURL,
		Token:            "event-tok",
		Queue:            "democon",
		CodeCustomField:  "Pretalx Code",
		StateCustomField: "Pretalx State",
	})
	require.NoError(t, err)

	dir := host.NewMemory()
	engine := NewEngine(db, cfg, dir, nil)
	return engine, db, cfg, dir
}

func TestCreateSubmissionTicketIsIdempotent(t *testing.T) {
	fake := newFakeRT(t)
	engine, db, _, dir := newEngineEnv(t, fake.server.URL)

	sub := &host.Submission{
		Code:     "SUB1",
		Title:    "A talk",
		State:    "submitted",
		Speakers: []host.User{{Name: "Alice", Email: "alice@example.com"}},
	}
	dir.AddSubmission(1, sub)

	first, err := engine.CreateSubmissionTicket(1, sub)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := engine.CreateSubmissionTicket(1, sub)
	require.NoError(t, err)
	require.NotNil(t, second)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, fake.count("POST", "/ticket"))

	remote := fake.ticket(first.RemoteID)
	assert.Equal(t, "A talk", remote.Subject)
	assert.Equal(t, []string{"SUB1"}, remote.CustomFields["Pretalx Code"])
	assert.Equal(t, []string{"submitted"}, remote.CustomFields["Pretalx State"])

	// The immediate pull stamps the sync time and links the speaker.
	stored, err := db.GetTicketByID(first.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.SyncedAt)
	assert.Contains(t, stored.UserEmails, "alice@example.com")
}

func TestCreateSubmissionTicketDisabledEventIsNoop(t *testing.T) {
	fake := newFakeRT(t)
	engine, _, cfg, dir := newEngineEnv(t, fake.server.URL)

	_, err := cfg.UpdateSettings(2, config.UpdateSettingsRequest{Slug: "othercon"})
	require.NoError(t, err)

	sub := &host.Submission{Code: "SUB1", Title: "A talk"}
	dir.AddSubmission(2, sub)

	ticket, err := engine.CreateSubmissionTicket(2, sub)
	require.NoError(t, err)
	assert.Nil(t, ticket)
	assert.Empty(t, fake.requests)
}

func TestPushUnlinkedTicketNeverCallsRemote(t *testing.T) {
	fake := newFakeRT(t)
	engine, db, _, _ := newEngineEnv(t, fake.server.URL)

	ticket, err := db.CreateTicket(&database.Ticket{EventID: 1, RemoteID: 50, Subject: "mail ticket"})
	require.NoError(t, err)

	require.NoError(t, engine.Push(1, ticket.ID))
	assert.Empty(t, fake.requests)
}

func TestPullNormalizesStatusAndStampsSyncedAt(t *testing.T) {
	fake := newFakeRT(t)
	engine, db, _, _ := newEngineEnv(t, fake.server.URL)

	fake.addTicket(60, &fakeTicket{
		Subject: "Renamed remotely",
		Status:  "deleted",
		Queue:   "democon",
	})
	ticket, err := db.CreateTicket(&database.Ticket{EventID: 1, RemoteID: 60, Subject: "old", Status: "new"})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, engine.Pull(1, ticket.ID))

	pulled, err := db.GetTicketByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed remotely", pulled.Subject)
	assert.Equal(t, "other", pulled.Status)
	require.NotNil(t, pulled.SyncedAt)
	assert.False(t, pulled.SyncedAt.Before(start))
}

func TestPullLinksOnlyKnownUsers(t *testing.T) {
	fake := newFakeRT(t)
	engine, db, _, dir := newEngineEnv(t, fake.server.URL)

	dir.AddUser(host.User{Name: "Alice", Email: "alice@example.com"})
	fake.addTicket(61, &fakeTicket{
		Subject:   "Ticket",
		Status:    "open",
		Queue:     "democon",
		Requestor: []string{"alice@example.com", "stranger@example.com"},
	})
	ticket, err := db.CreateTicket(&database.Ticket{EventID: 1, RemoteID: 61})
	require.NoError(t, err)

	require.NoError(t, engine.Pull(1, ticket.ID))

	pulled, err := db.GetTicketByID(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, database.StringList{"alice@example.com"}, pulled.UserEmails)
}

func TestDeliverMailRestoresTicketWhenReplyFails(t *testing.T) {
	fake := newFakeRT(t)
	engine, db, _, dir := newEngineEnv(t, fake.server.URL)

	sub := &host.Submission{
		Code:     "SUB1",
		Title:    "Original subject",
		State:    "accepted",
		Speakers: []host.User{{Name: "Alice", Email: "alice@example.com"}},
	}
	dir.AddSubmission(1, sub)

	ticket, err := engine.CreateSubmissionTicket(1, sub)
	require.NoError(t, err)
	before := fake.ticket(ticket.RemoteID)

	fake.failNextReply = true
	mail := &host.Mail{
		ID:              7,
		Subject:         "Your talk was accepted",
		To:              []host.User{{Name: "Alice", Email: "alice@example.com"}},
		BodyText:        "Congratulations!",
		SubmissionCodes: []string{"SUB1"},
	}
	err = engine.DeliverMail(1, mail)
	require.Error(t, err)

	// The impersonation edit is rolled back and the mail stays unsent.
	after := fake.ticket(ticket.RemoteID)
	assert.Equal(t, before.Subject, after.Subject)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Requestor, after.Requestor)

	_, sent := dir.MailSentAt(mail.ID)
	assert.False(t, sent)

	stored, err := db.GetTicketByID(ticket.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.MailIDs)
}

func TestDeliverMailSingleSubmissionRepliesAndLinks(t *testing.T) {
	fake := newFakeRT(t)
	engine, db, _, dir := newEngineEnv(t, fake.server.URL)

	sub := &host.Submission{
		Code:     "SUB1",
		Title:    "Original subject",
		Speakers: []host.User{{Name: "Alice", Email: "alice@example.com"}},
	}
	dir.AddSubmission(1, sub)

	mail := &host.Mail{
		ID:              8,
		Subject:         "Schedule update",
		To:              []host.User{{Name: "Alice", Email: "alice@example.com"}},
		BodyText:        "Your slot moved.",
		SubmissionCodes: []string{"SUB1"},
	}
	require.NoError(t, engine.DeliverMail(1, mail))

	// The submission's ticket was created on demand and the mail linked.
	ticket, err := db.GetTicketBySubmission(1, "SUB1")
	require.NoError(t, err)
	assert.Equal(t, database.IntList{8}, ticket.MailIDs)

	_, sent := dir.MailSentAt(mail.ID)
	assert.True(t, sent)
	assert.Equal(t, 1, fake.replies)

	// The requestor override was restored after the reply.
	remote := fake.ticket(ticket.RemoteID)
	assert.Equal(t, "Original subject", remote.Subject)
}

func TestDeliverMailMultipleSubmissionsGetsStandaloneTicket(t *testing.T) {
	fake := newFakeRT(t)
	engine, db, _, dir := newEngineEnv(t, fake.server.URL)

	mail := &host.Mail{
		ID:              9,
		Subject:         "Bulk announcement",
		To:              []host.User{{Name: "Alice", Email: "alice@example.com"}},
		BodyText:        "Hello everyone.",
		SubmissionCodes: []string{"SUB1", "SUB2"},
	}
	require.NoError(t, engine.DeliverMail(1, mail))

	tickets, err := db.ListEventTickets(1)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.False(t, tickets[0].Linked())
	assert.Equal(t, database.IntList{9}, tickets[0].MailIDs)

	_, sent := dir.MailSentAt(mail.ID)
	assert.True(t, sent)
}

func TestAddCommentUsesPerUserToken(t *testing.T) {
	fake := newFakeRT(t)
	engine, _, cfg, dir := newEngineEnv(t, fake.server.URL)

	sub := &host.Submission{
		Code:     "SUB1",
		Title:    "A talk",
		Speakers: []host.User{{Name: "Alice", Email: "alice@example.com"}},
	}
	dir.AddSubmission(1, sub)

	ticket, err := engine.CreateSubmissionTicket(1, sub)
	require.NoError(t, err)

	require.NoError(t, cfg.SaveUserToken(1, "reviewer@example.com", "user-tok"))

	comment := &host.Comment{
		ID:             3,
		Text:           "Looks good to me.",
		Author:         host.User{Name: "Reviewer", Email: "reviewer@example.com"},
		SubmissionCode: "SUB1",
	}
	require.NoError(t, engine.AddCommentToTicket(1, comment))

	commentPath := "/ticket/" + strconv.Itoa(ticket.RemoteID) + "/comment"
	assert.Equal(t, 1, fake.comments)
	assert.Equal(t, "token user-tok", fake.lastAuth("POST", commentPath))
}

func TestAddCommentSkipsDrafts(t *testing.T) {
	fake := newFakeRT(t)
	engine, _, _, _ := newEngineEnv(t, fake.server.URL)

	comment := &host.Comment{ID: 4, Text: "wip", Draft: true, SubmissionCode: "SUB1"}
	require.NoError(t, engine.AddCommentToTicket(1, comment))
	assert.Empty(t, fake.requests)
}

func TestSyncQueueReconciliation(t *testing.T) {
	fake := newFakeRT(t)
	engine, db, _, dir := newEngineEnv(t, fake.server.URL)

	dir.AddSubmission(1, &host.Submission{
		Code:     "SUB1",
		Title:    "First talk",
		State:    "accepted",
		Speakers: []host.User{{Name: "Alice", Email: "alice@example.com"}},
	})
	dir.AddSubmission(1, &host.Submission{
		Code:  "SUB2",
		Title: "Second talk",
		State: "submitted",
	})

	// Remote 10 is new and claims SUB1.
	fake.addTicket(10, &fakeTicket{
		Subject:      "First talk",
		Status:       "new",
		Queue:        "democon",
		CustomFields: map[string][]string{"Pretalx Code": {"SUB1"}},
	})
	// Remote 20 claims SUB2, but SUB2 is already linked to remote 999.
	fake.addTicket(20, &fakeTicket{
		Subject:      "Imposter",
		Status:       "open",
		Queue:        "democon",
		CustomFields: map[string][]string{"Pretalx Code": {"SUB2"}},
	})
	// Remote 30 is not managed by the sync at all.
	fake.addTicket(30, &fakeTicket{
		Subject: "Unrelated support request",
		Status:  "open",
		Queue:   "democon",
	})

	_, err := db.CreateTicket(&database.Ticket{EventID: 1, RemoteID: 999, SubmissionCode: "SUB2"})
	require.NoError(t, err)

	result, err := engine.SyncQueue(1)
	require.NoError(t, err)

	assert.Equal(t, 3, result["total"])
	assert.Equal(t, 1, result["created"])
	assert.Equal(t, 0, result["updated"])
	assert.Equal(t, 2, result["skipped"])

	linked, err := db.GetTicketBySubmission(1, "SUB1")
	require.NoError(t, err)
	assert.Equal(t, 10, linked.RemoteID)

	// First linked wins: SUB2 stays on remote 999.
	kept, err := db.GetTicketBySubmission(1, "SUB2")
	require.NoError(t, err)
	assert.Equal(t, 999, kept.RemoteID)

	// The adopted ticket was pushed with current submission state.
	remote := fake.ticket(10)
	assert.Equal(t, []string{"accepted"}, remote.CustomFields["Pretalx State"])
}
