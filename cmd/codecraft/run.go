package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/codecraft/graph/model"
	"github.com/dshills/codecraft/internal/workflow"
)

var taskFlag string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one task and print the result as JSON",
	Long: `Run the agent workflow once and print the JSON result to stdout.

The task comes from --task, or from stdin when --task is "-".

Examples:
  codecraft run --task "a function that reverses a string"
  echo "a todo list REST API" | codecraft run --task -`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&taskFlag, "task", "t", "", `task description, or "-" to read stdin`)
	_ = runCmd.MarkFlagRequired("task")
}

func runRun(cmd *cobra.Command, _ []string) error {
	task, err := readTask(taskFlag, cmd.InOrStdin())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	res, err := a.runner.Run(ctx, task)
	if err != nil {
		return describeRunError(err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func readTask(flag string, stdin io.Reader) (string, error) {
	if flag != "-" {
		return flag, nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read task from stdin: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// describeRunError adds the remedy for classified failures.
func describeRunError(err error) error {
	kind, _ := model.KindOf(err)
	switch {
	case errors.Is(err, workflow.ErrEmptyTask):
		return err
	case errors.Is(err, model.ErrMissingAPIKey):
		return fmt.Errorf("%w: set OPENROUTER_API_KEY or llm.api_key", err)
	case kind == model.KindAuth:
		return fmt.Errorf("%w: check the API key at https://openrouter.ai/settings/keys", err)
	case kind == model.KindQuota:
		return fmt.Errorf("%w: add credits at https://openrouter.ai/credits", err)
	}
	return err
}
