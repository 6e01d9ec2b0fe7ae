package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proctorwatch/proctor-platform/pkg/broadcast"
)

// readEvent scans the SSE stream until a data line arrives, skipping
// heartbeat comments.
func readEvent(t *testing.T, scanner *bufio.Scanner) broadcast.Message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for scanner.Scan() {
		require.True(t, time.Now().Before(deadline), "timed out waiting for event")
		line := scanner.Text()
		if payload, ok := strings.CutPrefix(line, "data: "); ok {
			var msg broadcast.Message
			require.NoError(t, json.Unmarshal([]byte(payload), &msg))
			return msg
		}
	}
	t.Fatalf("stream closed before an event arrived: %v", scanner.Err())
	return broadcast.Message{}
}

func TestWatchStreamsSnapshots(t *testing.T) {
	f := newAPIFixture(t, nil)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	id := f.createSession(t, apiTestStudent)

	resp, err := http.Get(srv.URL + "/api/v1/watch")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// First event is the full current state.
	initial := readEvent(t, scanner)
	assert.Equal(t, broadcast.KindStatusUpdate, initial.Kind)
	require.Len(t, initial.Data, 1)
	assert.Equal(t, id, initial.Data[0].ID)

	// A frame submission pushes a fresh snapshot.
	rec := f.do(t, http.MethodPost,
		"/api/v1/sessions/"+id+"/students/"+apiTestStudent+"/frames",
		submitFrameRequest{Frame: []byte("jpeg-bytes")})
	require.Equal(t, http.StatusOK, rec.Code)

	update := readEvent(t, scanner)
	assert.Equal(t, broadcast.KindStatusUpdate, update.Kind)
	require.Len(t, update.Data, 1)
	assert.Equal(t, "Focused", string(update.Data[0].Students[apiTestStudent].Status))
}

func TestWatchReportsRemoval(t *testing.T) {
	f := newAPIFixture(t, nil)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	id := f.createSession(t, apiTestStudent)

	resp, err := http.Get(srv.URL + "/api/v1/watch")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	scanner := bufio.NewScanner(resp.Body)
	readEvent(t, scanner)

	rec := f.do(t, http.MethodDelete, "/api/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	removal := readEvent(t, scanner)
	assert.Equal(t, broadcast.KindSessionRemoved, removal.Kind)
	assert.Empty(t, removal.Data)
}
