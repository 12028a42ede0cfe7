package openai_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(id, content, finish string) string {
	finishReason := "null"
	if finish != "" {
		finishReason = `"` + finish + `"`
	}

	return fmt.Sprintf(
		`{"id":%q,"object":"chat.completion.chunk","created":1,"model":"test-model","choices":[{"index":0,"delta":{"content":%q},"finish_reason":%s}]}`,
		id, content, finishReason,
	)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *openai.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return openai.NewClient(logger, func(o *openai.Options) {
		o.APIKey = "test-key"
		o.BaseURL = server.URL + "/v1/"
		o.SystemPrompt = "You are terse."
		o.ConnectTimeout = 2 * time.Second
	})
}

func TestClient_StreamsCompletion(t *testing.T) {
	var request map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&request))

		w.Header().Set("Content-Type", "text/event-stream")

		for _, frame := range []string{
			chunk("cmpl-1", "Hello", ""),
			chunk("cmpl-1", ", world", "stop"),
			`{"id":"cmpl-1","object":"chat.completion.chunk","created":1,"model":"test-model","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`,
			"[DONE]",
		} {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", frame)
		}
	})

	stream, err := client.Open(t.Context(), remote.OpenRequest{
		JobDefinitionID: "test-model",
		Kind:            models.ExecutionKindTextGeneration,
		Inputs:          map[string]any{"query": "Say hello", "tone": "friendly"},
		OwnerID:         "user-1",
	})
	require.NoError(t, err)

	var (
		text  string
		types []models.ProgressEventType
	)

	for event := range stream.Events() {
		types = append(types, event.Type)
		text += event.Text
	}

	assert.Equal(t, []models.ProgressEventType{
		models.ProgressEventStarted,
		models.ProgressEventData,
		models.ProgressEventData,
		models.ProgressEventFinished,
	}, types)
	assert.Equal(t, "Hello, world", text)

	result, err := stream.Result(t.Context())
	require.NoError(t, err)
	assert.Equal(t, models.RemoteStatusSucceeded, result.Status)
	assert.Equal(t, 7, result.TotalTokens)
	assert.Equal(t, "cmpl-1", result.ExternalExecutionID)
	assert.NotEmpty(t, result.TaskID)

	assert.Equal(t, "test-model", request["model"])
	assert.Equal(t, "user-1", request["user"])

	messages, ok := request["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)

	user, ok := messages[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tone: friendly\n\nSay hello", user["content"])
}

func TestClient_QueryTakesPrecedenceOverPrompt(t *testing.T) {
	for range 10 {
		requests := make(chan []map[string]any, 1)

		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			var request struct {
				Messages []map[string]any `json:"messages"`
			}

			assert.NoError(t, json.NewDecoder(r.Body).Decode(&request))
			requests <- request.Messages

			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", chunk("cmpl-3", "ok", "stop"))
		})

		stream, err := client.Open(t.Context(), remote.OpenRequest{
			Kind:   models.ExecutionKindTextGeneration,
			Inputs: map[string]any{"prompt": "from prompt", "query": "from query"},
		})
		require.NoError(t, err)

		for range stream.Events() {
		}

		messages := <-requests
		require.Len(t, messages, 2)
		assert.Equal(t, "from query", messages[1]["content"])
	}
}

func TestClient_SlowFirstTokenIsNotAConnectionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()

		time.Sleep(300 * time.Millisecond)

		_, _ = fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", chunk("cmpl-4", "late", "stop"))
	}))
	defer server.Close()

	client := openai.NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), func(o *openai.Options) {
		o.APIKey = "test-key"
		o.BaseURL = server.URL + "/v1/"
		o.ConnectTimeout = 100 * time.Millisecond
	})

	stream, err := client.Open(t.Context(), remote.OpenRequest{
		Kind:   models.ExecutionKindTextGeneration,
		Inputs: map[string]any{"prompt": "hi"},
	})
	require.NoError(t, err)

	var text string
	for event := range stream.Events() {
		text += event.Text
	}

	assert.Equal(t, "late", text)

	_, err = stream.Result(t.Context())
	require.NoError(t, err)
}

func TestClient_AbortClosesRequest(t *testing.T) {
	closed := make(chan struct{})

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprintf(w, "data: %s\n\n", chunk("cmpl-5", "first", ""))
		w.(http.Flusher).Flush()

		<-r.Context().Done()
		close(closed)
	})

	stream, err := client.Open(t.Context(), remote.OpenRequest{
		Kind:   models.ExecutionKindTextGeneration,
		Inputs: map[string]any{"prompt": "hi"},
	})
	require.NoError(t, err)

	for event := range stream.Events() {
		if event.Text == "first" {
			stream.Abort()
		}
	}

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("request still open after abort")
	}

	_, err = stream.Result(t.Context())
	require.ErrorIs(t, err, remote.ErrAborted)
}

func TestClient_OpenRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad model","type":"invalid_request_error"}}`)
	})

	_, err := client.Open(t.Context(), remote.OpenRequest{
		Kind:   models.ExecutionKindTextGeneration,
		Inputs: map[string]any{"prompt": "hi"},
	})
	require.Error(t, err)

	var connErr *remote.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, http.StatusBadRequest, connErr.StatusCode)
}

func TestClient_RequiresPrompt(t *testing.T) {
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("backend must not be called")
	})

	_, err := client.Open(t.Context(), remote.OpenRequest{Kind: models.ExecutionKindTextGeneration})
	require.Error(t, err)
	assert.True(t, remote.IsConnectionError(err))
}

func TestClient_RejectsWorkflowKind(t *testing.T) {
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {})

	_, err := client.Open(t.Context(), remote.OpenRequest{
		Kind:   models.ExecutionKindWorkflow,
		Inputs: map[string]any{"prompt": "hi"},
	})
	require.ErrorIs(t, err, remote.ErrUnsupportedKind)
}

func TestClient_IncompleteStream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprintf(w, "data: %s\n\n", chunk("cmpl-2", "partial", ""))
	})

	stream, err := client.Open(t.Context(), remote.OpenRequest{
		Kind:   models.ExecutionKindTextGeneration,
		Inputs: map[string]any{"prompt": "hi"},
	})
	require.NoError(t, err)

	for range stream.Events() {
	}

	_, err = stream.Result(t.Context())
	require.ErrorIs(t, err, remote.ErrIncompleteStream)
}

func TestClient_StopRemoteJobIsNoop(t *testing.T) {
	client := newTestClient(t, func(http.ResponseWriter, *http.Request) {
		t.Error("backend must not be called")
	})

	assert.NoError(t, client.StopRemoteJob(t.Context(), "task", "user"))
}
