package rt

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTicketParsesStringID(t *testing.T) {
	var gotAuth string
	var gotPayload map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "/ticket", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))

		w.WriteHeader(http.StatusCreated)
		// RT returns the id as a string.
		fmt.Fprint(w, `{"id": "123", "type": "ticket"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "secret")
	id, err := client.CreateTicket("support", "Hello", []string{"A <a@b.com>"}, "new", "", map[string]string{"Pretalx Code": "SUB1"})

	require.NoError(t, err)
	assert.Equal(t, 123, id)
	assert.Equal(t, "token secret", gotAuth)
	assert.Equal(t, "support", gotPayload["Queue"])
	assert.Equal(t, "Hello", gotPayload["Subject"])
	assert.Contains(t, gotPayload, "CustomFields")
}

func TestGetTicketDecodesRequestorsAndCustomFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ticket/42", r.URL.Path)
		fmt.Fprint(w, `{
			"Subject": "Talk proposal",
			"Status": "open",
			"Queue": {"id": "1", "Name": "democon"},
			"Requestor": [{"id": "a@b.com", "type": "user"}],
			"CustomFields": [{"name": "Pretalx Code", "values": ["SUB1"]}]
		}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	ticket, err := client.GetTicket(42)

	require.NoError(t, err)
	assert.Equal(t, 42, ticket.ID)
	assert.Equal(t, "Talk proposal", ticket.Subject)
	assert.Equal(t, "democon", ticket.Queue.Name)
	assert.Equal(t, []string{"a@b.com"}, ticket.RequestorEmails())
	assert.Equal(t, "Pretalx Code", ticket.CustomFields[0].Name)
}

func TestEditTicketSkipsEmptyEdit(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	require.NoError(t, client.EditTicket(1, TicketEdit{}))
	assert.False(t, called)
}

func TestSearchQueueConsumesAllPages(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tickets", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("query"), "Queue = 'democon'")

		switch r.URL.Query().Get("page") {
		case "1":
			fmt.Fprint(w, `{"items": [{"id": 1, "Subject": "one"}], "page": 1, "pages": 2, "total": 2}`)
		case "2":
			fmt.Fprint(w, `{"items": [{"id": 2, "Subject": "two"}], "page": 2, "pages": 2, "total": 2}`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	summaries, err := client.SearchQueue("democon")

	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, 1, summaries[0].ID)
	assert.Equal(t, "two", summaries[1].Subject)
}

func TestListQueuesReturnsNames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/queues/all", r.URL.Path)
		fmt.Fprint(w, `{"items": [{"id": "1", "Name": "General"}, {"id": "2", "Name": "democon"}], "page": 1, "pages": 1}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	names, err := client.ListQueues()

	require.NoError(t, err)
	assert.Equal(t, []string{"General", "democon"}, names)
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message": "bad token"}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "wrong")
	_, err := client.GetTicket(1)

	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, IsAuthError(apiErr))
	assert.Contains(t, err.Error(), "401")
}
