package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"monetrix/internal/domain"
	"monetrix/internal/infra/config"
	"monetrix/internal/infra/logger"
	"monetrix/internal/usecase"
)

// errToolResult reports that the tool returned an error result, which has
// already been printed.
var errToolResult = errors.New("tool returned an error result")

// parseCallArgs validates "<tool> [json]". Missing arguments mean {}.
func parseCallArgs(args []string) (domain.ToolName, json.RawMessage, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("usage: monetrix call <tool> [json]")
	}
	name, err := domain.ParseToolName(args[0])
	if err != nil {
		return "", nil, err
	}
	raw := json.RawMessage(`{}`)
	if len(args) > 1 {
		raw = json.RawMessage(args[1])
		if !json.Valid(raw) {
			return "", nil, fmt.Errorf("arguments for %s are not valid JSON", name)
		}
	}
	return name, raw, nil
}

func runCall(args []string) error {
	name, raw, err := parseCallArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cfg.Scheduler.Enabled = false
	if cfg.Logger.Output == "" || cfg.Logger.Output == "stdout" {
		cfg.Logger.Output = "stderr"
	}
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	comp, cleanup, err := initComponents(cfg, log, false)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sess, err := comp.Sessions.Open(ctx, "")
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	result := sess.Execute(ctx, domain.ToolCall{Name: string(name), Arguments: raw})
	return printResult(os.Stdout, result)
}

// printResult writes the result as indented JSON, followed by the prompt
// for key and credit failures.
func printResult(w io.Writer, result *domain.ToolResult) error {
	out := struct {
		*domain.ToolResult
		Prompt usecase.Prompt `json:"prompt,omitempty"`
	}{ToolResult: result}
	if result.IsError() {
		out.Prompt = usecase.PromptFor(*result.Error)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if result.IsError() {
		return errToolResult
	}
	return nil
}
