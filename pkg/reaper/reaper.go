// Package reaper finalizes execution records left pending by a process that died before opening its stream.
package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule = "@every 5m"
	DefaultAge      = 15 * time.Minute
	defaultBatch    = 100

	reapedMessage = "Execution abandoned before the remote job started"
)

// Config controls which records are reaped and how often.
type Config struct {
	Schedule string
	Age      time.Duration
	Batch    int
}

type Reaper struct {
	records persistence.ExecutionRepository
	config  Config
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func New(logger *slog.Logger, records persistence.ExecutionRepository, config Config) (*Reaper, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultSchedule
	}

	if config.Age <= 0 {
		config.Age = DefaultAge
	}

	if config.Batch <= 0 {
		config.Batch = defaultBatch
	}

	_, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid reaper schedule '%s': %w", config.Schedule, err)
	}

	return &Reaper{
		records: records,
		config:  config,
		logger:  logger.With("module", "reaper"),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Start schedules Reap until ctx is done or Stop is called.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return nil
	}

	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	_, err := r.cron.AddFunc(r.config.Schedule, func() {
		if _, err := r.Reap(ctx); err != nil {
			r.logger.ErrorContext(ctx, "Reap failed", "error", err)
		}
	})
	if err != nil {
		r.cron = nil

		return fmt.Errorf("failed to schedule reaper: %w", err)
	}

	r.cron.Start()
	r.logger.InfoContext(ctx, "Reaper started", "schedule", r.config.Schedule, "age", r.config.Age)

	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	return nil
}

// Stop unschedules the reaper and waits for a running pass to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Reap marks pending records older than the configured age as failed and
// returns how many it finalized.
func (r *Reaper) Reap(ctx context.Context) (int, error) {
	now := r.now()
	cutoff := now.Add(-r.config.Age)

	stale, err := r.records.ListStale(ctx, models.ExecutionStatusPending, cutoff, r.config.Batch)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale executions: %w", err)
	}

	reaped := 0

	for _, record := range stale {
		_, err := r.records.WriteTerminalData(ctx, record.ID, models.TerminalData{
			Status:       models.ExecutionStatusFailed,
			Outputs:      map[string]any{},
			ElapsedTime:  now.Sub(record.CreatedAt).Seconds(),
			ErrorMessage: models.StringPtr(reapedMessage),
			CompletedAt:  now,
			Metadata: map[string]any{
				models.MetadataExecutionContext: map[string]any{
					"final_status": string(models.ExecutionStatusFailed),
					"reaped":       true,
					"stage":        "starting",
				},
			},
		})
		if err != nil {
			if persistence.IsInvalidTransition(err) {
				// The run moved on since the listing.
				continue
			}

			r.logger.ErrorContext(ctx, "Failed to reap execution", "execution_id", record.ID, "error", err)

			continue
		}

		reaped++
	}

	if reaped > 0 {
		r.logger.InfoContext(ctx, "Reaped stale executions", "count", reaped, "cutoff", cutoff)
	}

	return reaped, nil
}
