package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"searchchat-backend/internal/models"
)

func sseServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search-chat", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
		} else {
			w.Header().Set("Content-Type", "text/event-stream")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAsk_StreamsChunks(t *testing.T) {
	srv := sseServer(t, http.StatusOK, "event: turn\ndata: {\"request_id\":\"r1\"}\n\n"+
		"event: chunk\ndata: {\"delta\":\"Refunds \"}\n\n"+
		": keep-alive\n\n"+
		"event: chunk\ndata: {\"delta\":\"take 14 days.\"}\n\n"+
		"event: done\ndata: {\"request_id\":\"r1\",\"success\":true,\"answer\":\"Refunds take 14 days.\",\"suggestions\":[\"And abroad?\"]}\n\n")

	var streamed strings.Builder
	resp, err := New(srv.URL+"/", "tok").Ask(context.Background(), &models.TurnRequest{Question: "refunds?"}, func(d string) {
		streamed.WriteString(d)
	})
	require.NoError(t, err)
	assert.Equal(t, "Refunds take 14 days.", streamed.String())
	assert.Equal(t, streamed.String(), resp.Answer)
	assert.Equal(t, []string{"And abroad?"}, resp.Suggestions)
}

func TestAsk_Degraded(t *testing.T) {
	srv := sseServer(t, http.StatusOK, "event: turn\ndata: {\"request_id\":\"r1\"}\n\n"+
		"event: error\ndata: {\"success\":false,\"answer\":\"Sorry\",\"error\":{\"code\":\"retrieval_unavailable\",\"message\":\"down\"}}\n\n")

	resp, err := New(srv.URL, "tok").Ask(context.Background(), &models.TurnRequest{Question: "q"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDegraded))
	assert.Contains(t, err.Error(), "retrieval_unavailable")
	require.NotNil(t, resp)
	assert.Equal(t, "Sorry", resp.Answer)
}

func TestAsk_ErrorStatus(t *testing.T) {
	srv := sseServer(t, http.StatusBadRequest, `{"error":"invalid request: question is required"}`)

	_, err := New(srv.URL, "tok").Ask(context.Background(), &models.TurnRequest{}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "invalid request: question is required", apiErr.Message)
}

func TestAsk_TruncatedStream(t *testing.T) {
	srv := sseServer(t, http.StatusOK, "event: turn\ndata: {\"request_id\":\"r1\"}\n\nevent: chunk\ndata: {\"delta\":\"Ref\"}\n\n")
	_, err := New(srv.URL, "tok").Ask(context.Background(), &models.TurnRequest{Question: "q"}, nil)
	assert.ErrorContains(t, err, "without a final event")
}

func TestReadEvents_MultiLineData(t *testing.T) {
	var got []string
	err := readEvents(strings.NewReader("event: x\ndata: a\ndata: b\n\ndata: tail"), func(name string, data []byte) error {
		got = append(got, name+"="+string(data))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x=a\nb", "=tail"}, got)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"degraded","services":{"vector_store":"unavailable"}}`))
	}))
	defer srv.Close()

	h, err := New(srv.URL, "").Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "unavailable", h.Services["vector_store"])
}
