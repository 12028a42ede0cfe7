package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pixelsama/AgentifUI-sub002/pkg/remote"
	cli "github.com/urfave/cli/v3"
)

func main() {
	command := &cli.Command{
		Name:      "agentifui-run",
		Usage:     "Run one job definition and print its progress",
		ArgsUsage: "<job-definition-id>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://... or a directory)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "owner",
				Usage:   "Owner the execution record is attributed to",
				Value:   "cli",
				Sources: cli.EnvVars("AGENTIFUI_OWNER"),
			},
			&cli.StringSliceFlag{
				Name:    "input",
				Aliases: []string{"i"},
				Usage:   "Input as key=value, repeatable",
			},
			&cli.StringFlag{
				Name:  "inputs-json",
				Usage: "Inputs as a JSON object, merged before --input",
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
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
