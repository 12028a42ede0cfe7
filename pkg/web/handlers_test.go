package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/pixelsama/AgentifUI-sub002/pkg/jobdef"
	"github.com/pixelsama/AgentifUI-sub002/pkg/mocks"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence/file"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
	"github.com/pixelsama/AgentifUI-sub002/pkg/runstate"
	"github.com/pixelsama/AgentifUI-sub002/pkg/services"
	"github.com/pixelsama/AgentifUI-sub002/pkg/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestApp(t *testing.T) (*fiber.App, *mocks.MockRemoteClient) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := file.NewPersistence(t.TempDir())

	require.NoError(t, store.JobDefinitionRepository().Save(context.Background(), &models.JobDefinition{
		ExternalID: "writer",
		BackendID:  "app-writer",
		Name:       "Writer",
		Kind:       models.ExecutionKindTextGeneration,
	}))

	client := &mocks.MockRemoteClient{}
	directory := jobdef.NewDirectory(logger, store.JobDefinitionRepository())
	runs := services.NewRuns(logger, store, client, directory)
	recent := services.NewRecentlyUsed(0)
	recent.Mark("user-1", "writer")
	handlers := web.NewAPIHandlers(runs, recent, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	app.Get("/health", handlers.HealthCheck)

	r := app.Group("/runs")
	r.Post("/", handlers.StartRun)
	r.Get("/state", handlers.GetRunState)
	r.Post("/stop", handlers.StopRun)
	r.Post("/retry", handlers.RetryRun)
	r.Post("/reset", handlers.ResetRun)

	app.Get("/job-definitions/recent", handlers.ListRecentJobDefinitions)
	app.Get("/job-definitions/:id/executions", handlers.ListExecutions)

	return app, client
}

func doRequest(t *testing.T, app *fiber.App, method, path, owner string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)

		reader = bytes.NewReader(payload)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	if owner != "" {
		req.Header.Set(web.OwnerHeader, owner)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "healthy", payload["status"])
}

func TestAPIHandlers_StartRun(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		owner          string
		requestBody    any
		expectedStatus int
		expectedType   string
	}{
		{
			name:           "missing owner",
			requestBody:    web.StartRunRequest{JobDefinitionID: "writer"},
			expectedStatus: http.StatusUnauthorized,
			expectedType:   "unauthorized",
		},
		{
			name:           "missing job definition",
			owner:          "user-1",
			requestBody:    web.StartRunRequest{},
			expectedStatus: http.StatusBadRequest,
			expectedType:   "validation_error",
		},
		{
			name:           "unknown job definition",
			owner:          "user-1",
			requestBody:    web.StartRunRequest{JobDefinitionID: "missing"},
			expectedStatus: http.StatusNotFound,
			expectedType:   "not_found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _ := setupTestApp(t)

			resp, body := doRequest(t, app, http.MethodPost, "/runs", tt.owner, tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			var problem map[string]any
			require.NoError(t, json.Unmarshal(body, &problem))
			assert.Equal(t, tt.expectedType, problem["type"])
		})
	}
}

func TestAPIHandlers_RunLifecycle(t *testing.T) {
	t.Parallel()

	app, client := setupTestApp(t)
	stream := mocks.NewStreamStub()
	client.On("Open", mock.Anything, mock.Anything).Return(stream, nil).Once()

	resp, body := doRequest(t, app, http.MethodPost, "/runs", "user-1", web.StartRunRequest{
		JobDefinitionID: "writer",
		Inputs:          map[string]any{"prompt": "hi"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started services.RunResponse
	require.NoError(t, json.Unmarshal(body, &started))
	require.NotEmpty(t, started.ExecutionID)
	assert.Equal(t, runstate.StatusExecuting, started.State.Status)

	resp, _ = doRequest(t, app, http.MethodPost, "/runs", "user-1", web.StartRunRequest{JobDefinitionID: "writer"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.True(t, stream.Emit(models.NewTextEvent("Hello")))

	require.Eventually(t, func() bool {
		_, body := doRequest(t, app, http.MethodGet, "/runs/state?job_definition_id=writer", "user-1", nil)

		var state runstate.State
		require.NoError(t, json.Unmarshal(body, &state))

		return state.Text == "Hello"
	}, 2*time.Second, 10*time.Millisecond)

	resp, body = doRequest(t, app, http.MethodPost, "/runs/stop", "user-1", web.RunTargetRequest{JobDefinitionID: "writer"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stopped services.RunResponse
	require.NoError(t, json.Unmarshal(body, &stopped))
	require.NotNil(t, stopped.State.Record)
	assert.Equal(t, models.ExecutionStatusStopped, stopped.State.Record.Status)
	assert.Equal(t, "Hello", stopped.State.Record.Outputs[models.OutputGeneratedText])

	resp, body = doRequest(t, app, http.MethodGet, "/runs/state?job_definition_id=writer", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var state runstate.State
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, runstate.StatusIdle, state.Status)

	resp, _ = doRequest(t, app, http.MethodPost, "/runs/stop", "user-1", web.RunTargetRequest{JobDefinitionID: "writer"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodPost, "/runs/retry", "user-1", web.RunTargetRequest{JobDefinitionID: "writer"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doRequest(t, app, http.MethodGet, "/job-definitions/writer/executions?limit=5", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listed struct {
		Executions []models.ExecutionRecord `json:"executions"`
		Count      int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Equal(t, 1, listed.Count)
	assert.Equal(t, started.ExecutionID, listed.Executions[0].ID)

	resp, body = doRequest(t, app, http.MethodPost, "/runs/reset", "user-1", web.RunTargetRequest{JobDefinitionID: "writer"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reset services.RunResponse
	require.NoError(t, json.Unmarshal(body, &reset))
	assert.Equal(t, runstate.StatusIdle, reset.State.Status)
	assert.Nil(t, reset.State.Record)
}

func TestAPIHandlers_StartRunRemoteUnavailable(t *testing.T) {
	t.Parallel()

	app, client := setupTestApp(t)
	client.On("Open", mock.Anything, mock.Anything).
		Return(nil, &remote.ConnectionError{Op: "Open", StatusCode: http.StatusServiceUnavailable}).Once()

	resp, _ := doRequest(t, app, http.MethodPost, "/runs", "user-1", web.StartRunRequest{JobDefinitionID: "writer"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, body := doRequest(t, app, http.MethodGet, "/runs/state?job_definition_id=writer", "user-1", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}

		var state runstate.State
		require.NoError(t, json.Unmarshal(body, &state))

		return state.Status == runstate.StatusErrored && state.Retryable
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAPIHandlers_ListExecutions(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodGet, "/job-definitions/unknown/executions", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"executions":[],"count":0}`, string(body))

	resp, _ = doRequest(t, app, http.MethodGet, "/job-definitions/writer/executions?limit=abc", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, app, http.MethodGet, "/job-definitions/writer/executions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPIHandlers_ListRecentJobDefinitions(t *testing.T) {
	t.Parallel()

	app, _ := setupTestApp(t)

	resp, body := doRequest(t, app, http.MethodGet, "/job-definitions/recent", "user-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"job_definition_ids":["writer"]}`, string(body))

	resp, body = doRequest(t, app, http.MethodGet, "/job-definitions/recent", "user-2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"job_definition_ids":[]}`, string(body))
}
