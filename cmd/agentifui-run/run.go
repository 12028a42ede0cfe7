// Package main provides a terminal runner for a single job definition.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pixelsama/AgentifUI-sub002/pkg/cmd"
	"github.com/pixelsama/AgentifUI-sub002/pkg/log"
	"github.com/pixelsama/AgentifUI-sub002/pkg/models"
	"github.com/pixelsama/AgentifUI-sub002/pkg/orchestrator"
	"github.com/pixelsama/AgentifUI-sub002/pkg/runstate"
	cli "github.com/urfave/cli/v3"
)

var errRunFailed = errors.New("run failed")

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), "text")

	logger := log.WithModule("agentifui-run")

	jobDefinitionID := command.Args().First()
	if jobDefinitionID == "" {
		return errors.New("a job definition id is required")
	}

	inputs, err := parseInputs(command.String("inputs-json"), command.StringSlice("input"))
	if err != nil {
		return err
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

	client, err := cmd.NewRemoteClient(logger, cmd.RemoteConfig{
		Provider:       command.String("remote-provider"),
		BaseURL:        command.String("remote-base-url"),
		APIKey:         command.String("remote-api-key"),
		ConnectTimeout: command.Duration("connect-timeout"),
	})
	if err != nil {
		return err
	}

	directory, _, err := cmd.NewDirectory(ctx, logger, persistence.JobDefinitionRepository(), "", 0)
	if err != nil {
		return err
	}

	o := orchestrator.New(logger, persistence.ExecutionRepository(), client, directory)

	return execute(ctx, o, orchestrator.StartRequest{
		OwnerID:         command.String("owner"),
		JobDefinitionID: jobDefinitionID,
		Inputs:          inputs,
	}, os.Stdout)
}

// execute runs the request to completion, printing progress to w. An
// interrupt stops the run; the stopped record is still reported.
func execute(ctx context.Context, o *orchestrator.Orchestrator, req orchestrator.StartRequest, w io.Writer) error {
	updates, unsubscribe := o.Subscribe()
	p := newPrinter(w)
	printed := make(chan struct{})

	go func() {
		defer close(printed)

		for state := range updates {
			p.print(state)
		}
	}()

	signalCtx, stopSignals := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	finished := make(chan struct{})
	defer close(finished)

	go func() {
		select {
		case <-finished:
			return
		case <-signalCtx.Done():
		}

		if ctx.Err() != nil {
			return
		}

		err := o.Stop(context.WithoutCancel(ctx))
		if err != nil && !errors.Is(err, orchestrator.ErrNotStreaming) {
			fmt.Fprintln(w, "Stop failed:", err)
		}
	}()

	_, err := o.Start(ctx, req)
	if err == nil {
		err = o.Wait(ctx)
	}

	unsubscribe()
	<-printed

	final := o.State()
	p.print(final)
	p.summary(final)

	if err != nil {
		return err
	}

	if final.Status == runstate.StatusErrored {
		return fmt.Errorf("%w: %s", errRunFailed, final.ErrorMessage)
	}

	return nil
}

func parseInputs(inputsJSON string, pairs []string) (map[string]any, error) {
	inputs := map[string]any{}

	if inputsJSON != "" {
		err := json.Unmarshal([]byte(inputsJSON), &inputs)
		if err != nil {
			return nil, fmt.Errorf("invalid --inputs-json: %w", err)
		}
	}

	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --input %q, expected key=value", pair)
		}

		inputs[key] = value
	}

	return inputs, nil
}

// printer writes the part of each snapshot not printed yet.
type printer struct {
	w       io.Writer
	textLen int
	nodes   map[string]models.NodeStatus
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, nodes: make(map[string]models.NodeStatus)}
}

func (p *printer) print(state runstate.State) {
	if len(state.Text) > p.textLen {
		fmt.Fprint(p.w, state.Text[p.textLen:])
		p.textLen = len(state.Text)
	}

	for _, node := range state.OrderedNodes() {
		if p.nodes[node.Latest.NodeID] == node.Latest.Status {
			continue
		}

		p.nodes[node.Latest.NodeID] = node.Latest.Status

		title := node.Latest.Title
		if title == "" {
			title = node.Latest.NodeID
		}

		fmt.Fprintf(p.w, "[%3.0f%%] %s: %s\n", state.ProgressPercent, title, node.Latest.Status)
	}
}

func (p *printer) summary(state runstate.State) {
	if p.textLen > 0 {
		fmt.Fprintln(p.w)
	}

	if state.Record != nil {
		fmt.Fprintf(p.w, "Execution %s %s in %.1fs (%d tokens)\n",
			state.Record.ID, state.Record.Status, state.Record.ElapsedTime, state.Record.TotalTokens)

		if state.Record.ErrorMessage != nil {
			fmt.Fprintln(p.w, "Error:", *state.Record.ErrorMessage)
		}

		return
	}

	if state.Status == runstate.StatusErrored {
		retry := ""
		if state.Retryable {
			retry = " (retryable)"
		}

		fmt.Fprintf(p.w, "Run failed%s: %s\n", retry, state.ErrorMessage)
	}
}
