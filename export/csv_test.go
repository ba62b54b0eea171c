package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pretalx-rt-sync/database"
)

func TestWriteTicketsCSV(t *testing.T) {
	syncedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	tickets := []*database.Ticket{
		{
			RemoteID:       42,
			Subject:        "A talk, with a comma",
			Status:         "open",
			Queue:          "democon",
			SubmissionCode: "SUB1",
			SyncedAt:       &syncedAt,
		},
		{
			RemoteID: 43,
			Subject:  "Standalone mail ticket",
			Status:   "new",
			Queue:    "democon",
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTicketsCSV(&buf, tickets))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"remote_id", "subject", "status", "queue", "submission_code", "synced_at"}, rows[0])
	assert.Equal(t, []string{"42", "A talk, with a comma", "open", "democon", "SUB1", "2026-03-14T09:30:00Z"}, rows[1])
	assert.Equal(t, []string{"43", "Standalone mail ticket", "new", "democon", "", ""}, rows[2])
}

func TestWriteTicketsCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTicketsCSV(&buf, nil))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
