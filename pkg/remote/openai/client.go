// Package openai implements remote.Client for text generation on top of the
// OpenAI Chat Completions streaming API or any compatible endpoint.
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
)

// Options configure the OpenAI backend.
type Options struct {
	APIKey              string
	BaseURL             string
	Model               string
	SystemPrompt        string
	Temperature         float64
	MaxCompletionTokens int64
	ConnectTimeout      time.Duration
	AbortGrace          time.Duration
}

// chunkStream is the part of the SDK stream the client reads.
type chunkStream interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

type streamFunc func(ctx context.Context, params openai.ChatCompletionNewParams) chunkStream

// Client runs text-generation jobs as streaming chat completions.
type Client struct {
	opts      Options
	newStream streamFunc
	logger    *slog.Logger
}

// NewClient creates a new OpenAI backed remote client.
func NewClient(logger *slog.Logger, optFns ...func(o *Options)) *Client {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		ConnectTimeout:      remote.DefaultConnectTimeout,
		AbortGrace:          remote.DefaultAbortGrace,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	var requestOpts []option.RequestOption
	if opts.APIKey != "" {
		requestOpts = append(requestOpts, option.WithAPIKey(opts.APIKey))
	}

	if opts.BaseURL != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := openai.NewClient(requestOpts...)

	return &Client{
		opts: opts,
		newStream: func(ctx context.Context, params openai.ChatCompletionNewParams) chunkStream {
			return client.Chat.Completions.NewStreaming(ctx, params)
		},
		logger: logger.With("module", "remote_openai"),
	}
}

// Open starts the completion. Requests the backend rejects surface as
// connection errors; the connect timeout covers the request and its response headers.
func (c *Client) Open(ctx context.Context, req remote.OpenRequest) (remote.Stream, error) {
	if req.Kind != models.ExecutionKindTextGeneration {
		return nil, &remote.ConnectionError{Op: "Open", Err: fmt.Errorf("%w: %q", remote.ErrUnsupportedKind, req.Kind)}
	}

	messages, err := c.buildMessages(req.Inputs)
	if err != nil {
		return nil, &remote.ConnectionError{Op: "Open", Err: err}
	}

	modelName := c.opts.Model
	if req.JobDefinitionID != "" {
		modelName = req.JobDefinitionID
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               modelName,
		Temperature:         openai.Float(c.opts.Temperature),
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
		StreamOptions:       openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)},
	}

	if req.OwnerID != "" {
		params.User = openai.String(req.OwnerID)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	connectTimer := time.AfterFunc(c.opts.ConnectTimeout, cancel)

	// The SDK sends the request and reads the response headers here.
	stream := c.newStream(streamCtx, params)

	if !connectTimer.Stop() {
		_ = stream.Close()

		cancel()

		return nil, &remote.ConnectionError{
			Op:  "Open",
			Err: fmt.Errorf("%w after %s", remote.ErrConnectTimeout, c.opts.ConnectTimeout),
		}
	}

	if err := stream.Err(); err != nil {
		_ = stream.Close()

		cancel()

		return nil, connectionError(err)
	}

	taskID := uuid.New().String()
	startedAt := time.Now()

	c.logger.DebugContext(ctx, "completion stream opened", "model", modelName, "task_id", taskID)

	return remote.NewPumpStream(ctx, c.opts.AbortGrace, func(ctx context.Context, emit remote.Emit) (*models.FinalResult, error) {
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		defer cancel()
		defer func() { _ = stream.Close() }()

		return consume(ctx, stream, taskID, startedAt, emit)
	}), nil
}

// StopRemoteJob is a no-op: aborting the HTTP stream is what stops the server work.
func (c *Client) StopRemoteJob(_ context.Context, _, _ string) error {
	return nil
}

func consume(
	ctx context.Context,
	stream chunkStream,
	taskID string,
	startedAt time.Time,
	emit remote.Emit,
) (*models.FinalResult, error) {
	var (
		completionID string
		totalTokens  int
		finished     bool
	)

	stamp := func(event models.ProgressEvent) models.ProgressEvent {
		event.TaskID = taskID
		event.ExternalExecutionID = completionID

		return event
	}

	if !emit(stamp(models.ProgressEvent{Type: models.ProgressEventStarted, ReceivedAt: time.Now().UTC()})) {
		return nil, ctx.Err()
	}

	for stream.Next() {
		chunk := stream.Current()

		if completionID == "" {
			completionID = chunk.ID
		}

		if chunk.Usage.TotalTokens > 0 {
			totalTokens = int(chunk.Usage.TotalTokens)
		}

		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				if !emit(stamp(models.NewTextEvent(choice.Delta.Content))) {
					return nil, ctx.Err()
				}
			}

			if choice.FinishReason != "" {
				finished = true
			}
		}
	}

	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, &remote.StreamError{Err: fmt.Errorf("openai streaming error: %w", err)}
	}

	if !finished {
		return nil, &remote.StreamError{Err: remote.ErrIncompleteStream}
	}

	payload := &models.FinishedPayload{
		Status:      models.RemoteStatusSucceeded,
		TotalSteps:  1,
		TotalTokens: totalTokens,
		ElapsedTime: time.Since(startedAt).Seconds(),
	}

	emit(stamp(models.ProgressEvent{Type: models.ProgressEventFinished, Finished: payload, ReceivedAt: time.Now().UTC()}))

	return &models.FinalResult{
		Status:              payload.Status,
		TotalSteps:          payload.TotalSteps,
		TotalTokens:         payload.TotalTokens,
		ElapsedTime:         payload.ElapsedTime,
		ExternalExecutionID: completionID,
		TaskID:              taskID,
	}, nil
}

// promptKeys are the inputs that carry the prompt, in order of precedence.
var promptKeys = []string{"query", "prompt"}

// buildMessages turns job inputs into chat messages. The prompt comes from
// the "query" input, else the "prompt" input; every other input is rendered as context.
func (c *Client) buildMessages(inputs map[string]any) ([]openai.ChatCompletionMessageParamUnion, error) {
	var prompt string

	for _, key := range promptKeys {
		if s, ok := inputs[key].(string); ok && s != "" {
			prompt = s

			break
		}
	}

	keys := make([]string, 0, len(inputs))

	for key := range inputs {
		if !slices.Contains(promptKeys, key) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)

	var background strings.Builder

	for _, key := range keys {
		fmt.Fprintf(&background, "%s: %v\n", key, inputs[key])
	}

	user := strings.TrimSpace(strings.TrimSpace(background.String()) + "\n\n" + prompt)
	if user == "" {
		return nil, errors.New("text generation requires a query or prompt input")
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if c.opts.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(c.opts.SystemPrompt))
	}

	return append(messages, openai.UserMessage(user)), nil
}

func connectionError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &remote.ConnectionError{Op: "Open", StatusCode: apiErr.StatusCode, Err: err}
	}

	return &remote.ConnectionError{Op: "Open", Err: err}
}
