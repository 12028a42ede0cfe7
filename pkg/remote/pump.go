package remote

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
)

// Emit hands one event to the stream consumer. It returns false once the
// stream was aborted and the producer should stop.
type Emit func(models.ProgressEvent) bool

// Producer reads a backend response, emitting events until it can return the final result.
type Producer func(ctx context.Context, emit Emit) (*models.FinalResult, error)

// PumpStream adapts a Producer to the Stream contract. Backends only write
// the decoding loop; event delivery, abort and result bookkeeping live here.
type PumpStream struct {
	events  chan models.ProgressEvent
	done    chan struct{}
	abort   chan struct{}
	cancel  context.CancelFunc
	grace   time.Duration
	aborted atomic.Bool

	mu     sync.Mutex
	result *models.FinalResult
	err    error
}

// NewPumpStream starts produce in the background and returns the stream it feeds.
func NewPumpStream(ctx context.Context, grace time.Duration, produce Producer) *PumpStream {
	if grace <= 0 {
		grace = DefaultAbortGrace
	}

	ctx, cancel := context.WithCancel(ctx)

	stream := &PumpStream{
		events: make(chan models.ProgressEvent, 64),
		done:   make(chan struct{}),
		abort:  make(chan struct{}),
		cancel: cancel,
		grace:  grace,
	}

	produced := make(chan struct{})
	internal := make(chan models.ProgressEvent)

	go func() {
		defer close(produced)

		result, err := produce(ctx, func(event models.ProgressEvent) bool {
			select {
			case internal <- event:
				return true
			case <-ctx.Done():
				return false
			}
		})

		stream.mu.Lock()
		stream.result, stream.err = result, err
		stream.mu.Unlock()
	}()

	go stream.forward(ctx, internal, produced)

	return stream
}

func (s *PumpStream) forward(ctx context.Context, internal <-chan models.ProgressEvent, produced <-chan struct{}) {
	defer close(s.done)
	defer close(s.events)
	defer s.cancel()

	for {
		select {
		case event := <-internal:
			// An event the producer handed over is dropped only on abort.
			select {
			case s.events <- event:
			case <-s.abort:
			}
		case <-produced:
			return
		case <-ctx.Done():
			timer := time.NewTimer(s.grace)
			defer timer.Stop()

			select {
			case <-produced:
			case <-timer.C:
			}

			return
		}
	}
}

func (s *PumpStream) Events() <-chan models.ProgressEvent {
	return s.events
}

func (s *PumpStream) Result(ctx context.Context) (*models.FinalResult, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.result != nil && s.err == nil:
		return s.result, nil
	case s.aborted.Load():
		return nil, ErrAborted
	case s.err != nil:
		if IsStreamError(s.err) {
			return nil, s.err
		}

		return nil, &StreamError{Err: s.err}
	default:
		return nil, &StreamError{Err: ErrIncompleteStream}
	}
}

func (s *PumpStream) Abort() {
	if s.aborted.CompareAndSwap(false, true) {
		close(s.abort)
		s.cancel()
	}
}

// Done is closed once the event channel is closed.
func (s *PumpStream) Done() <-chan struct{} {
	return s.done
}
