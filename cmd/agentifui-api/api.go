// Package main provides the AgentifUI run API server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/pixelsama/AgentifUI-sub002/pkg/services"
	"github.com/pixelsama/AgentifUI-sub002/pkg/web"
)

const shutdownTimeout = 30 * time.Second

type invalidator interface {
	Invalidate()
}

type API struct {
	logger   *slog.Logger
	runs     *services.Runs
	recent   *services.RecentlyUsed
	validate *validator.Validate

	mu  sync.Mutex
	app *fiber.App
}

func NewAPI(
	logger *slog.Logger,
	runs *services.Runs,
	recent *services.RecentlyUsed,
) *API {
	return &API{
		logger:   logger,
		runs:     runs,
		recent:   recent,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(a.runs, a.recent, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("AgentifUI API")
	})

	r := app.Group("/runs")
	r.Post("/", handlers.StartRun)
	r.Get("/state", handlers.GetRunState)
	r.Post("/stop", handlers.StopRun)
	r.Post("/retry", handlers.RetryRun)
	r.Post("/reset", handlers.ResetRun)

	j := app.Group("/job-definitions")
	j.Get("/recent", handlers.ListRecentJobDefinitions)
	j.Get("/:id/executions", handlers.ListExecutions)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	a.mu.Lock()
	a.app = app
	a.mu.Unlock()

	return app.Listen(":" + strconv.Itoa(port))
}

// handleSignals reloads job definitions on SIGHUP. On SIGINT or SIGTERM every
// streaming run is stopped before the server shuts down.
func (a *API) handleSignals(ctx context.Context, directory invalidator) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for sig := range signals {
			a.logger.Info("Received signal", "signal", sig)

			switch sig {
			case syscall.SIGHUP:
				a.logger.Info("Reloading job definitions...")
				directory.Invalidate()
			case syscall.SIGINT, syscall.SIGTERM:
				a.logger.Info("Shutting down gracefully...")
				a.shutdown(ctx)

				return
			default:
				a.logger.Warn("Unhandled signal received", "signal", sig)
			}
		}
	}()
}

func (a *API) shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	a.runs.Shutdown(shutdownCtx)

	a.mu.Lock()
	app := a.app
	a.mu.Unlock()

	if app == nil {
		return
	}

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		a.logger.Error("Failed to shut down API server", "error", err)
	}
}
