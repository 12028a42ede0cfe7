package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pixelsama/AgentifUI-sub002/pkg/eventbus"
	"github.com/pixelsama/AgentifUI-sub002/pkg/history"
	"github.com/pixelsama/AgentifUI-sub002/pkg/jobdef"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/orchestrator"
	"github.com/pixelsama/AgentifUI-sub002/pkg/otelhelper"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
	"github.com/pixelsama/AgentifUI-sub002/pkg/runstate"
	"go.opentelemetry.io/otel/trace"
)

// Runs keeps one orchestrator per owner and job definition, so each caller
// sees at most one run per job definition at a time.
type Runs struct {
	persistence persistence.Persistence
	client      remote.Client
	directory   jobdef.Resolver
	history     *history.Loader
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger

	mu            sync.Mutex
	orchestrators map[runKey]*orchestrator.Orchestrator
}

type runKey struct {
	ownerID         string
	jobDefinitionID string
}

// RunsOption configures Runs.
type RunsOption func(*Runs)

func WithPublisher(publisher eventbus.EventPublisher) RunsOption {
	return func(r *Runs) {
		r.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) RunsOption {
	return func(r *Runs) {
		r.tracer = tracer
	}
}

// NewRuns creates a new run service.
func NewRuns(
	logger *slog.Logger,
	persistence persistence.Persistence,
	client remote.Client,
	directory jobdef.Resolver,
	opts ...RunsOption,
) *Runs {
	r := &Runs{
		persistence:   persistence,
		client:        client,
		directory:     directory,
		history:       history.NewLoader(logger, persistence.ExecutionRepository(), directory),
		tracer:        otelhelper.NoopTracer(),
		logger:        logger.With("module", "runs_service"),
		orchestrators: make(map[runKey]*orchestrator.Orchestrator),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// HealthCheck checks the health of the persistence layer.
func (r *Runs) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := r.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// StartRunRequest contains the caller input of a new run.
type StartRunRequest struct {
	OwnerID         string
	JobDefinitionID string
	Inputs          map[string]any
}

// RunResponse is the outcome of a lifecycle call.
type RunResponse struct {
	ExecutionID string         `json:"execution_id,omitempty"`
	State       runstate.State `json:"state"`
}

// Start starts a run for the owner. A start that got as far as creating a
// record returns both the state and the error.
func (r *Runs) Start(ctx context.Context, req StartRunRequest) (*RunResponse, error) {
	if err := validateKey(req.OwnerID, req.JobDefinitionID); err != nil {
		return nil, err
	}

	// Unknown job definitions never get an orchestrator.
	_, err := r.directory.Resolve(ctx, req.JobDefinitionID)
	if persistence.IsJobDefinitionNotFound(err) {
		return nil, &orchestrator.NotFoundError{JobDefinitionID: req.JobDefinitionID}
	}

	o, created := r.orchestrator(req.OwnerID, req.JobDefinitionID, true)

	executionID, err := o.Start(ctx, orchestrator.StartRequest{
		OwnerID:         req.OwnerID,
		JobDefinitionID: req.JobDefinitionID,
		Inputs:          req.Inputs,
	})

	state := o.State()

	// A new orchestrator whose start was rejected outright holds nothing to keep.
	if err != nil && created && state.RecordID == "" && !state.Retryable {
		r.forget(req.OwnerID, req.JobDefinitionID, o)
	}

	return &RunResponse{ExecutionID: executionID, State: state}, err
}

// State returns the run state of the owner for the job definition; idle
// when the owner never ran it.
func (r *Runs) State(ownerID, jobDefinitionID string) (runstate.State, error) {
	if err := validateKey(ownerID, jobDefinitionID); err != nil {
		return runstate.State{}, err
	}

	o, _ := r.orchestrator(ownerID, jobDefinitionID, false)
	if o == nil {
		return *runstate.New(), nil
	}

	return o.State(), nil
}

// Stop stops the streaming run and returns the stopped state.
func (r *Runs) Stop(ctx context.Context, ownerID, jobDefinitionID string) (*RunResponse, error) {
	o, err := r.existing(ownerID, jobDefinitionID)
	if err != nil {
		return nil, err
	}

	err = o.Stop(ctx)
	if err != nil {
		return nil, err
	}

	state := o.State()

	return &RunResponse{ExecutionID: state.RecordID, State: state}, nil
}

// Retry restarts the last errored run with its inputs.
func (r *Runs) Retry(ctx context.Context, ownerID, jobDefinitionID string) (*RunResponse, error) {
	o, err := r.existing(ownerID, jobDefinitionID)
	if err != nil {
		return nil, err
	}

	executionID, err := o.Retry(ctx)
	if err != nil && errors.Is(err, orchestrator.ErrNotRetryable) {
		return nil, err
	}

	return &RunResponse{ExecutionID: executionID, State: o.State()}, err
}

// Reset stops any run and returns the state to idle.
func (r *Runs) Reset(ctx context.Context, ownerID, jobDefinitionID string) (*RunResponse, error) {
	if err := validateKey(ownerID, jobDefinitionID); err != nil {
		return nil, err
	}

	o, _ := r.orchestrator(ownerID, jobDefinitionID, false)
	if o == nil {
		return &RunResponse{State: *runstate.New()}, nil
	}

	err := o.Reset(ctx)
	if err != nil {
		return nil, err
	}

	return &RunResponse{State: o.State()}, nil
}

// History lists the owner's past executions of the job definition.
func (r *Runs) History(ctx context.Context, jobDefinitionID, ownerID string, limit int) ([]*models.ExecutionRecord, error) {
	if err := validateKey(ownerID, jobDefinitionID); err != nil {
		return nil, err
	}

	return r.history.List(ctx, jobDefinitionID, ownerID, limit)
}

// Shutdown stops every streaming run so each gets its terminal write.
func (r *Runs) Shutdown(ctx context.Context) {
	r.mu.Lock()
	all := make([]*orchestrator.Orchestrator, 0, len(r.orchestrators))

	for _, o := range r.orchestrators {
		all = append(all, o)
	}
	r.mu.Unlock()

	for _, o := range all {
		err := o.Stop(ctx)
		if err != nil && !errors.Is(err, orchestrator.ErrNotStreaming) {
			r.logger.WarnContext(ctx, "Failed to stop run on shutdown", "error", err)
		}

		if err := o.Wait(ctx); err != nil {
			r.logger.WarnContext(ctx, "Run not finalized before shutdown", "error", err)
		}
	}
}

func (r *Runs) existing(ownerID, jobDefinitionID string) (*orchestrator.Orchestrator, error) {
	if err := validateKey(ownerID, jobDefinitionID); err != nil {
		return nil, err
	}

	o, _ := r.orchestrator(ownerID, jobDefinitionID, false)
	if o == nil {
		return nil, ErrNoRunForJobDefinition
	}

	return o, nil
}

func (r *Runs) orchestrator(ownerID, jobDefinitionID string, create bool) (*orchestrator.Orchestrator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := runKey{ownerID: ownerID, jobDefinitionID: jobDefinitionID}

	o, ok := r.orchestrators[key]
	if ok || !create {
		return o, false
	}

	opts := []orchestrator.Option{orchestrator.WithTracer(r.tracer)}
	if r.publisher != nil {
		opts = append(opts,
			orchestrator.WithEventPublisher(r.publisher),
			orchestrator.WithNotifier(orchestrator.NewEventNotifier(r.logger, r.publisher, ownerID)),
		)
	}

	o = orchestrator.New(r.logger, r.persistence.ExecutionRepository(), r.client, r.directory, opts...)
	r.orchestrators[key] = o

	return o, true
}

func (r *Runs) forget(ownerID, jobDefinitionID string, o *orchestrator.Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := runKey{ownerID: ownerID, jobDefinitionID: jobDefinitionID}
	if r.orchestrators[key] == o {
		delete(r.orchestrators, key)
	}
}

func validateKey(ownerID, jobDefinitionID string) error {
	if ownerID == "" {
		return ErrEmptyOwnerID
	}

	if jobDefinitionID == "" {
		return ErrEmptyJobDefinitionID
	}

	return nil
}
