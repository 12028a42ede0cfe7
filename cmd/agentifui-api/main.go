package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pixelsama/AgentifUI-sub002/pkg/cmd"
	"github.com/pixelsama/AgentifUI-sub002/pkg/jobdef"
	"github.com/pixelsama/AgentifUI-sub002/pkg/log"
	"github.com/pixelsama/AgentifUI-sub002/pkg/otelhelper"
	"github.com/pixelsama/AgentifUI-sub002/pkg/reaper"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
	"github.com/pixelsama/AgentifUI-sub002/pkg/services"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "agentifui-api",
		Usage:                 "Start, stop and inspect remotely executed runs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://... or a directory)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka, kafka-go)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka brokers for the kafka and kafka-go event buses",
				Value:   []string{"localhost:9092"},
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "remote-provider",
				Usage:   "Remote execution backend (sse, openai)",
				Value:   "sse",
				Sources: cli.EnvVars("REMOTE_PROVIDER"),
			},
			&cli.StringFlag{
				Name:    "remote-base-url",
				Usage:   "Base URL of the remote execution backend",
				Sources: cli.EnvVars("REMOTE_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "remote-api-key",
				Usage:   "API key of the remote execution backend",
				Sources: cli.EnvVars("REMOTE_API_KEY"),
			},
			&cli.DurationFlag{
				Name:    "connect-timeout",
				Usage:   "Time allowed to open a remote stream",
				Value:   remote.DefaultConnectTimeout,
				Sources: cli.EnvVars("REMOTE_CONNECT_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL caching job definitions (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "directory-ttl",
				Usage:   "How long resolved job definitions stay fresh",
				Value:   jobdef.DefaultTTL,
				Sources: cli.EnvVars("DIRECTORY_TTL"),
			},
			&cli.StringFlag{
				Name:    "reap-schedule",
				Usage:   "Cron schedule of the stale execution reaper",
				Value:   reaper.DefaultSchedule,
				Sources: cli.EnvVars("REAP_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "reap-after",
				Usage:   "Age after which pending executions are reaped",
				Value:   reaper.DefaultAge,
				Sources: cli.EnvVars("REAP_AFTER"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		slog.Error("agentifui-api failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("agentifui-api")
	logger.InfoContext(ctx, "Initializing AgentifUI API")

	tracer := otelhelper.NoopTracer()

	if command.Bool("tracing") {
		t, shutdown, err := otelhelper.NewTracer(ctx, "agentifui-api")
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
			}
		}()

		tracer = t
	}

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}
	defer func() {
		if err := persistence.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger, command.StringSlice("kafka-brokers"), tracer)
	if err != nil {
		return err
	}
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	client, err := cmd.NewRemoteClient(logger, cmd.RemoteConfig{
		Provider:       command.String("remote-provider"),
		BaseURL:        command.String("remote-base-url"),
		APIKey:         command.String("remote-api-key"),
		ConnectTimeout: command.Duration("connect-timeout"),
	})
	if err != nil {
		return err
	}

	directory, closeCache, err := cmd.NewDirectory(
		ctx,
		logger,
		persistence.JobDefinitionRepository(),
		command.String("redis-url"),
		command.Duration("directory-ttl"),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeCache(); err != nil {
			logger.ErrorContext(ctx, "Failed to close job definition cache", "error", err)
		}
	}()

	recent := services.NewRecentlyUsed(0)

	err = recent.Register(eventBus)
	if err != nil {
		return err
	}

	err = eventBus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to run events: %w", err)
	}

	runs := services.NewRuns(logger, persistence, client, directory,
		services.WithPublisher(eventBus),
		services.WithTracer(tracer),
	)

	r, err := reaper.New(logger, persistence.ExecutionRepository(), reaper.Config{
		Schedule: command.String("reap-schedule"),
		Age:      command.Duration("reap-after"),
	})
	if err != nil {
		return err
	}

	err = r.Start(ctx)
	if err != nil {
		return err
	}
	defer r.Stop()

	api := NewAPI(logger, runs, recent)
	api.handleSignals(ctx, directory)

	err = api.Start(command.Int("port"))
	if err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}
