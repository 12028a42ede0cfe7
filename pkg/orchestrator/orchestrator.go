// Package orchestrator drives one remotely executed run at a time, from
// submission through the single terminal write of its execution record.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/eventbus"
	"github.com/pixelsama/AgentifUI-sub002/pkg/events"
	"github.com/pixelsama/AgentifUI-sub002/pkg/jobdef"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/otelhelper"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
	"github.com/pixelsama/AgentifUI-sub002/pkg/runstate"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultFinalizeTimeout bounds the result wait and the terminal write of a run.
	DefaultFinalizeTimeout = 30 * time.Second

	subscriberBuffer = 16
)

// StartRequest is what a caller submits to start a run.
type StartRequest = runstate.Request

// Notifier receives the side effect of a successful run.
type Notifier interface {
	MarkRecentlyUsed(ctx context.Context, jobDefinitionID string)
}

// Orchestrator owns the lifecycle of a single run and its RunState.
//
// Start, Stop, Retry and Reset may be called from any goroutine. Only the
// consumer goroutine of the active run mutates the state while it streams.
type Orchestrator struct {
	records         persistence.ExecutionRepository
	client          remote.Client
	directory       jobdef.Resolver
	notifier        Notifier
	publisher       eventbus.EventPublisher
	tracer          trace.Tracer
	logger          *slog.Logger
	now             func() time.Time
	finalizeTimeout time.Duration

	mu          sync.Mutex
	state       *runstate.State
	active      *run
	subscribers map[int]chan runstate.State
	nextSubID   int
}

type run struct {
	recordID   string
	request    runstate.Request
	definition *models.JobDefinition
	stream     remote.Stream
	startedAt  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	span   trace.Span

	stopRequested atomic.Bool
	finalized     atomic.Bool
	done          chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithNotifier(notifier Notifier) Option {
	return func(o *Orchestrator) {
		o.notifier = notifier
	}
}

func WithEventPublisher(publisher eventbus.EventPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func WithFinalizeTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.finalizeTimeout = timeout
		}
	}
}

// New creates an idle orchestrator.
func New(
	logger *slog.Logger,
	records persistence.ExecutionRepository,
	client remote.Client,
	directory jobdef.Resolver,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		records:         records,
		client:          client,
		directory:       directory,
		tracer:          otelhelper.NoopTracer(),
		logger:          logger.With("module", "orchestrator"),
		now:             func() time.Time { return time.Now().UTC() },
		finalizeTimeout: DefaultFinalizeTimeout,
		state:           runstate.New(),
		subscribers:     make(map[int]chan runstate.State),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Start begins a run and returns the id of its execution record once the
// stream is open. Events are consumed in the background.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (string, error) {
	o.mu.Lock()

	if o.state.Active() {
		o.mu.Unlock()

		return "", ErrRunInProgress
	}

	req = req.Clone()
	o.state.Begin(req, "", o.now())

	err := validateRequest(req)
	if err != nil {
		o.state.Fail(err, false)
		o.notifyLocked()
		o.mu.Unlock()

		return "", err
	}

	o.notifyLocked()
	o.mu.Unlock()

	return o.start(ctx, req)
}

func (o *Orchestrator) start(ctx context.Context, req runstate.Request) (string, error) {
	logger := o.logger.With("job_definition_id", req.JobDefinitionID, "owner_id", req.OwnerID)

	definition, err := o.directory.Resolve(ctx, req.JobDefinitionID)
	if err != nil {
		if persistence.IsJobDefinitionNotFound(err) {
			return "", o.failStart(ctx, nil, &NotFoundError{JobDefinitionID: req.JobDefinitionID}, false)
		}

		return "", o.failStart(ctx, nil, &RunError{Op: "resolve job definition", Err: err}, true)
	}

	err = validateInputs(definition, req.Inputs)
	if err != nil {
		return "", o.failStart(ctx, nil, err, false)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx, span := otelhelper.StartSpan(runCtx, o.tracer, "orchestrator.run",
		attribute.String(otelhelper.JobDefinitionIDKey, req.JobDefinitionID),
		attribute.String(otelhelper.OwnerIDKey, req.OwnerID),
		attribute.String(otelhelper.ExecutionKindKey, string(definition.Kind)),
	)

	o.mu.Lock()
	o.state.Kind = definition.Kind
	startedAt := o.state.StartedAt
	o.mu.Unlock()

	r := &run{
		request:    req,
		definition: definition,
		startedAt:  startedAt,
		ctx:        runCtx,
		cancel:     cancel,
		span:       span,
		done:       make(chan struct{}),
	}

	recordID, err := o.records.Create(runCtx, &models.ExecutionRecord{
		JobDefinitionID: definition.ID,
		OwnerID:         req.OwnerID,
		Kind:            definition.Kind,
		Inputs:          maps.Clone(req.Inputs),
	})
	if err != nil {
		return "", o.failStart(runCtx, r, &RunError{Op: "create execution record", Err: err}, true)
	}

	r.recordID = recordID
	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, recordID))

	o.mu.Lock()
	o.state.RecordID = recordID
	o.notifyLocked()
	o.mu.Unlock()

	logger = logger.With("execution_id", recordID)
	logger.InfoContext(runCtx, "Execution record created, opening remote stream", "kind", definition.Kind)

	stream, err := o.client.Open(runCtx, remote.OpenRequest{
		JobDefinitionID: definition.BackendID,
		Kind:            definition.Kind,
		Inputs:          maps.Clone(req.Inputs),
		OwnerID:         req.OwnerID,
		ResponseMode:    remote.ResponseModeStreaming,
	})
	if err != nil {
		return recordID, o.failStart(runCtx, r, err, true)
	}

	r.stream = stream

	err = o.records.TransitionStatus(runCtx, recordID, models.ExecutionStatusRunning, "", nil)
	if err != nil {
		stream.Abort()

		return recordID, o.failStart(runCtx, r, &RunError{Op: "mark execution running", RecordID: recordID, Err: err}, true)
	}

	o.mu.Lock()
	o.active = r
	o.state.SetPhase(runstate.PhaseStreaming)
	o.notifyLocked()
	o.mu.Unlock()

	o.publish(runCtx, events.RunStarted{
		BaseEvent:   events.NewBaseEvent(events.RunStartedEvent, req.JobDefinitionID, req.OwnerID),
		ExecutionID: recordID,
		Kind:        definition.Kind,
	})

	logger.InfoContext(runCtx, "Run streaming")

	go o.consume(r)

	return recordID, nil
}

// failStart surfaces a start phase failure. When a record exists it is
// finalized as failed on a best effort basis.
func (o *Orchestrator) failStart(ctx context.Context, r *run, err error, retryable bool) error {
	o.logger.ErrorContext(ctx, "Failed to start run", "error", err, "retryable", retryable)

	if r != nil {
		defer r.cancel()
		defer r.span.End()

		otelhelper.SetError(r.span, err)

		if r.recordID != "" && r.finalized.CompareAndSwap(false, true) {
			o.mu.Lock()
			data := o.terminalDataLocked(r, outcome{
				status:      models.ExecutionStatusFailed,
				err:         err,
				retryable:   retryable,
				finalStatus: string(models.ExecutionStatusFailed),
				stage:       stageStarting,
			})
			o.mu.Unlock()

			writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.finalizeTimeout)
			_, writeErr := o.records.WriteTerminalData(writeCtx, r.recordID, data)
			cancel()

			if writeErr != nil {
				o.logger.ErrorContext(ctx, "Failed to mark execution record failed", "execution_id", r.recordID, "error", writeErr)
			}

			o.publish(ctx, events.RunFailed{
				BaseEvent:   events.NewBaseEvent(events.RunFailedEvent, r.request.JobDefinitionID, r.request.OwnerID),
				ExecutionID: r.recordID,
				Error:       err.Error(),
				Retryable:   retryable,
			})
		}
	}

	o.mu.Lock()
	o.state.Fail(err, retryable)
	o.notifyLocked()
	o.mu.Unlock()

	return err
}

// consume folds stream events into the state until the stream ends or a stop is requested.
func (o *Orchestrator) consume(r *run) {
	defer close(r.done)

	incoming := r.stream.Events()

loop:
	for {
		select {
		case <-r.ctx.Done():
			break loop
		case event, ok := <-incoming:
			if !ok || r.stopRequested.Load() {
				break loop
			}

			o.mu.Lock()
			firstTask := o.state.TaskID == "" && event.TaskID != ""
			o.state.Apply(event)
			o.notifyLocked()
			o.mu.Unlock()

			if firstTask {
				r.span.SetAttributes(attribute.String(otelhelper.TaskIDKey, event.TaskID))
			}
		}
	}

	o.finalize(r)
}

// finalize performs the single terminal write of a run.
func (o *Orchestrator) finalize(r *run) {
	if !r.finalized.CompareAndSwap(false, true) {
		return
	}

	defer r.cancel()
	defer r.span.End()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), o.finalizeTimeout)
	defer cancel()

	var (
		result    *models.FinalResult
		resultErr error
	)

	stopped := r.stopRequested.Load()
	if !stopped {
		result, resultErr = r.stream.Result(ctx)
	}

	o.mu.Lock()
	out := reconcile(o.state, result, resultErr, stopped)
	o.state.SetPhase(out.phase())
	data := o.terminalDataLocked(r, out)
	o.notifyLocked()
	o.mu.Unlock()

	logger := o.logger.With("execution_id", r.recordID, "job_definition_id", r.request.JobDefinitionID)

	if out.reconciled {
		logger.WarnContext(ctx, "Result unavailable, finalizing from accumulated output", "error", resultErr)
	}

	record, err := o.records.WriteTerminalData(ctx, r.recordID, data)
	if err != nil {
		runErr := &RunError{Op: "write terminal data", RecordID: r.recordID, Err: err}

		logger.ErrorContext(ctx, "Terminal write failed", "status", data.Status, "error", err)
		otelhelper.SetError(r.span, runErr)

		o.mu.Lock()
		o.state.Fail(runErr, false)
		o.active = nil
		o.notifyLocked()
		o.mu.Unlock()

		o.publish(ctx, events.RunFailed{
			BaseEvent:   events.NewBaseEvent(events.RunFailedEvent, r.request.JobDefinitionID, r.request.OwnerID),
			ExecutionID: r.recordID,
			Error:       runErr.Error(),
			Duration:    o.now().Sub(r.startedAt),
		})

		return
	}

	r.span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(record.Status)))

	if record.Status == models.ExecutionStatusCompleted && o.notifier != nil {
		o.notifier.MarkRecentlyUsed(ctx, r.request.JobDefinitionID)
	}

	o.mu.Lock()
	o.state.Complete(record)

	if record.Status == models.ExecutionStatusFailed {
		o.state.Fail(out.err, out.retryable)
	}

	o.active = nil
	o.notifyLocked()
	o.mu.Unlock()

	logger.InfoContext(ctx, "Run finalized", "status", record.Status, "reconciled", out.reconciled)

	o.publishOutcome(ctx, r, record, out)
}

// Stop cancels the streaming run and waits until it has been finalized as stopped.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	r := o.active

	if r == nil || o.state.Phase != runstate.PhaseStreaming {
		o.mu.Unlock()

		return ErrNotStreaming
	}

	taskID := o.state.TaskID
	o.mu.Unlock()

	if r.stopRequested.CompareAndSwap(false, true) {
		o.logger.InfoContext(ctx, "Stopping run", "execution_id", r.recordID, "task_id", taskID)

		r.cancel()
		r.stream.Abort()

		if taskID == "" {
			o.logger.WarnContext(ctx, "Task ID not known yet, skipping remote stop", "execution_id", r.recordID)
		} else if err := o.client.StopRemoteJob(ctx, taskID, r.request.OwnerID); err != nil {
			o.logger.WarnContext(ctx, "Remote stop failed", "execution_id", r.recordID, "task_id", taskID, "error", err)
		}
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry starts a new run with the inputs of the last errored run.
func (o *Orchestrator) Retry(ctx context.Context) (string, error) {
	o.mu.Lock()

	if o.state.Status != runstate.StatusErrored || !o.state.Retryable || o.state.Request == nil {
		o.mu.Unlock()

		return "", ErrNotRetryable
	}

	req := o.state.Request.Clone()
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "Retrying run", "job_definition_id", req.JobDefinitionID, "owner_id", req.OwnerID)

	return o.Start(ctx, req)
}

// Reset stops the active run, if any, and returns the state to idle.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()

	if o.state.Active() && o.state.Phase == runstate.PhaseStarting {
		o.mu.Unlock()

		return ErrRunInProgress
	}

	r := o.active
	o.mu.Unlock()

	if r != nil {
		err := o.Stop(ctx)
		if err != nil && !errors.Is(err, ErrNotStreaming) {
			return err
		}

		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Active() {
		return ErrRunInProgress
	}

	o.state.Reset()
	o.notifyLocked()

	return nil
}

// State returns a snapshot of the run state.
func (o *Orchestrator) State() runstate.State {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.state.Clone()
}

// Wait blocks until the active run, if any, has been finalized.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()

	if r == nil {
		return nil
	}

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe returns a channel receiving state snapshots and a function that
// ends the subscription. Slow subscribers miss snapshots rather than block the run.
func (o *Orchestrator) Subscribe() (<-chan runstate.State, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSubID
	o.nextSubID++

	ch := make(chan runstate.State, subscriberBuffer)
	ch <- o.state.Clone()
	o.subscribers[id] = ch

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()

		if sub, ok := o.subscribers[id]; ok {
			delete(o.subscribers, id)
			close(sub)
		}
	}
}

// notifyLocked sends a snapshot to every subscriber; callers hold mu.
func (o *Orchestrator) notifyLocked() {
	for _, ch := range o.subscribers {
		select {
		case ch <- o.state.Clone():
		default:
		}
	}
}
