// Package sse implements remote.Client for backends that answer job
// submissions with a text/event-stream response.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
)

// Config holds the settings of the SSE client.
type Config struct {
	BaseURL        string
	APIKey         string
	ConnectTimeout time.Duration
	AbortGrace     time.Duration
	HTTPClient     *http.Client
}

// Client talks to the remote execution backend over HTTP.
type Client struct {
	baseURL        string
	apiKey         string
	connectTimeout time.Duration
	abortGrace     time.Duration
	httpClient     *http.Client
	logger         *slog.Logger
}

// NewClient creates a new SSE remote client.
func NewClient(logger *slog.Logger, config Config) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("remote base URL is required")
	}

	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}

	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = remote.DefaultConnectTimeout
	}

	if config.AbortGrace <= 0 {
		config.AbortGrace = remote.DefaultAbortGrace
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		// No client timeout: a stream may legitimately stay open for a long time.
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: config.ConnectTimeout}).DialContext,
				TLSHandshakeTimeout: config.ConnectTimeout,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Client{
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		apiKey:         config.APIKey,
		connectTimeout: config.ConnectTimeout,
		abortGrace:     config.AbortGrace,
		httpClient:     httpClient,
		logger:         logger.With("module", "remote_sse"),
	}, nil
}

type runRequest struct {
	Inputs       map[string]any `json:"inputs"`
	ResponseMode string         `json:"response_mode"`
	User         string         `json:"user"`
}

// Open submits the job and returns a stream once the backend answered with a 2xx status.
// Connection establishment, including response headers, is bounded by the connect timeout.
func (c *Client) Open(ctx context.Context, req remote.OpenRequest) (remote.Stream, error) {
	endpoint, err := c.runEndpoint(req.Kind)
	if err != nil {
		return nil, &remote.ConnectionError{Op: "Open", Err: err}
	}

	responseMode := req.ResponseMode
	if responseMode == "" {
		responseMode = remote.ResponseModeStreaming
	}

	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}

	body, err := json.Marshal(runRequest{Inputs: inputs, ResponseMode: responseMode, User: req.OwnerID})
	if err != nil {
		return nil, &remote.ConnectionError{Op: "Open", Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	streamCtx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()

		return nil, &remote.ConnectionError{Op: "Open", Err: err}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Job-Definition-ID", req.JobDefinitionID)

	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	connectTimer := time.AfterFunc(c.connectTimeout, cancel)

	resp, err := c.httpClient.Do(httpReq)
	if !connectTimer.Stop() {
		if resp != nil {
			_ = resp.Body.Close()
		}

		cancel()

		return nil, &remote.ConnectionError{
			Op:  "Open",
			Err: fmt.Errorf("%w after %s", remote.ErrConnectTimeout, c.connectTimeout),
		}
	}

	if err != nil {
		cancel()

		return nil, &remote.ConnectionError{Op: "Open", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := readErrorMessage(resp.Body)
		_ = resp.Body.Close()

		cancel()

		return nil, &remote.ConnectionError{Op: "Open", StatusCode: resp.StatusCode, Message: message}
	}

	c.logger.DebugContext(ctx, "remote stream opened",
		"job_definition_id", req.JobDefinitionID,
		"kind", req.Kind,
		"status", resp.StatusCode)

	// The request lives as long as the pump: an abort cancels it, which unblocks a pending body read.
	stream := remote.NewPumpStream(ctx, c.abortGrace, func(ctx context.Context, emit remote.Emit) (*models.FinalResult, error) {
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		defer cancel()

		return newDecoder(resp, c.logger).Run(ctx, emit)
	})

	return stream, nil
}

// StopRemoteJob asks the backend to stop the task.
func (c *Client) StopRemoteJob(ctx context.Context, taskID, ownerID string) error {
	if taskID == "" {
		return errors.New("task ID is required")
	}

	body, err := json.Marshal(map[string]string{"user": ownerID})
	if err != nil {
		return fmt.Errorf("failed to marshal stop request: %w", err)
	}

	var lastErr error

	// The task kind is not known here, so try the workflow endpoint first.
	for _, endpoint := range []string{
		c.baseURL + "/workflows/tasks/" + url.PathEscape(taskID) + "/stop",
		c.baseURL + "/completion-messages/" + url.PathEscape(taskID) + "/stop",
	} {
		lastErr = c.postStop(ctx, endpoint, body)
		if lastErr == nil {
			return nil
		}
	}

	return lastErr
}

func (c *Client) postStop(ctx context.Context, endpoint string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build stop request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("stop request failed: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("stop request failed with status %d: %s", resp.StatusCode, readErrorMessage(resp.Body))
	}

	return nil
}

func (c *Client) runEndpoint(kind models.ExecutionKind) (string, error) {
	switch kind {
	case models.ExecutionKindWorkflow:
		return c.baseURL + "/workflows/run", nil
	case models.ExecutionKindTextGeneration:
		return c.baseURL + "/completion-messages", nil
	default:
		return "", fmt.Errorf("%w: %q", remote.ErrUnsupportedKind, kind)
	}
}

// readErrorMessage extracts the message of a JSON error body, falling back to the raw text.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}

	if json.Unmarshal(raw, &payload) == nil && payload.Message != "" {
		if payload.Code != "" {
			return payload.Code + ": " + payload.Message
		}

		return payload.Message
	}

	return strings.TrimSpace(string(raw))
}
