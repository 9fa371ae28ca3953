package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/svcdeck/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var (
		body   []byte
		path   string
		method string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		path = r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := New(server.URL+"/", "svc-events")
	err := sink.Send(context.Background(), history.Event{
		Type:       history.EventRestart,
		OccurredAt: time.Now().UTC(),
		Service:    "api",
		Kind:       "backend",
		Success:    true,
		Count:      1,
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/svc-events/_doc", path)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "restart", doc["type"])
	assert.Equal(t, "api", doc["service"])
	assert.Equal(t, float64(1), doc["count"])
}

func TestOpenSearchSink_SendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := New(server.URL, "idx").Send(context.Background(), history.Event{Type: history.EventStart, Service: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "opensearch sink status 400")
}
