package mailer

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/attendance-engine/attendance"
)

var boss = attendance.Manager{ID: "mgr-1", Name: "Nadia", Email: "nadia@example.com"}

func TestLogSender_RecordsMessages(t *testing.T) {
	s := NewLogSender(log.New(io.Discard, "", 0))

	vars := map[string]string{"employeeName": "Omar", "date": "2024-03-04"}
	require.NoError(t, s.Send(context.Background(), boss, "LATE", vars))

	// Mutating the caller's map must not change the recorded message
	vars["date"] = "changed"

	sent := s.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "LATE", sent[0].Template)
	assert.Equal(t, "2024-03-04", sent[0].Vars["date"])
	assert.Equal(t, boss, sent[0].To)
}

func TestRelaySender_PostsJSON(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	err := NewRelaySender(srv.URL).Send(context.Background(), boss, "ABSENCE", map[string]string{"employeeName": "Omar"})

	require.NoError(t, err)
	assert.Equal(t, "ABSENCE", got.Template)
	assert.Equal(t, "Omar", got.Vars["employeeName"])
	assert.Equal(t, "mgr-1", got.To.ID)
}

func TestRelaySender_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "relay down", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewRelaySender(srv.URL).Send(context.Background(), boss, "LATE", nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "relay down")
}
