// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pixelsama/AgentifUI-sub002/pkg/jobdef"
	"github.com/pixelsama/AgentifUI-sub002/pkg/persistence"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote/openai"
	"github.com/pixelsama/AgentifUI-sub002/pkg/remote/sse"
)

// RemoteConfig selects and configures the remote execution backend.
type RemoteConfig struct {
	Provider       string
	BaseURL        string
	APIKey         string
	ConnectTimeout time.Duration
}

// NewRemoteClient creates the remote execution client: "sse" for the
// event-stream backend, "openai" for chat completion compatible endpoints.
//
// nolint:ireturn // the provider decides the implementation
func NewRemoteClient(logger *slog.Logger, config RemoteConfig) (remote.Client, error) {
	switch config.Provider {
	case "", "sse":
		client, err := sse.NewClient(logger, sse.Config{
			BaseURL:        config.BaseURL,
			APIKey:         config.APIKey,
			ConnectTimeout: config.ConnectTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SSE remote client: %w", err)
		}

		return client, nil
	case "openai":
		return openai.NewClient(logger, func(o *openai.Options) {
			o.APIKey = config.APIKey
			o.BaseURL = config.BaseURL

			if config.ConnectTimeout > 0 {
				o.ConnectTimeout = config.ConnectTimeout
			}
		}), nil
	default:
		return nil, fmt.Errorf("unsupported remote provider: %s", config.Provider)
	}
}

// NewDirectory creates the job definition directory, backed by Redis when
// redisURL is set. The returned close function releases the cache.
func NewDirectory(
	ctx context.Context,
	logger *slog.Logger,
	repo persistence.JobDefinitionRepository,
	redisURL string,
	ttl time.Duration,
) (*jobdef.Directory, func() error, error) {
	if ttl <= 0 {
		ttl = jobdef.DefaultTTL
	}

	if redisURL == "" {
		return jobdef.NewDirectory(logger, repo, jobdef.WithTTL(ttl)), func() error { return nil }, nil
	}

	cache, err := jobdef.NewRedisCacheFromURL(ctx, redisURL, ttl)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect job definition cache: %w", err)
	}

	return jobdef.NewDirectory(logger, repo, jobdef.WithTTL(ttl), jobdef.WithCache(cache)), cache.Close, nil
}
