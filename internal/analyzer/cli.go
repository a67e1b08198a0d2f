package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/steveyegge/digin/internal/config"
	"github.com/steveyegge/digin/internal/logging"
	"github.com/steveyegge/digin/internal/types"
)

// versionCheckTimeout bounds the availability probe.
const versionCheckTimeout = 5 * time.Second

// cliProfile describes how to drive one model CLI.
type cliProfile struct {
	name string
	// args builds the argument list. If stdin is true the prompt is fed on
	// standard input, otherwise it is already part of the arguments.
	args func(opts config.ProviderOptions, prompt string) (args []string, stdin bool)
}

var cliProfiles = map[string]cliProfile{
	config.ProviderClaude: {
		name: config.ProviderClaude,
		args: func(opts config.ProviderOptions, _ string) ([]string, bool) {
			args := []string{"--print"}
			if opts.SystemPrompt != "" {
				args = append(args, "--append-system-prompt", opts.SystemPrompt)
			}
			if opts.Model != "" {
				args = append(args, "--model", opts.Model)
			}
			return args, true
		},
	},
	config.ProviderGemini: {
		name: config.ProviderGemini,
		args: func(opts config.ProviderOptions, prompt string) ([]string, bool) {
			var args []string
			if opts.Model != "" {
				args = append(args, "-m", opts.Model)
			}
			return append(args, "-p", prompt), false
		},
	},
}

// CLIAnalyzer shells out to a model CLI such as claude or gemini.
type CLIAnalyzer struct {
	profile cliProfile
	command string
	opts    config.ProviderOptions
	prompts *promptBuilder
	guard   *callGuard
	logger  *slog.Logger
}

func newCLIAnalyzer(profile cliProfile, opts config.ProviderOptions, prompts *promptBuilder, guard *callGuard, logger *slog.Logger) *CLIAnalyzer {
	command := opts.Command
	if command == "" {
		command = profile.name
	}
	return &CLIAnalyzer{
		profile: profile,
		command: command,
		opts:    opts,
		prompts: prompts,
		guard:   guard,
		logger:  logging.OrDiscard(logger).With("provider", profile.name),
	}
}

// Name returns the provider name.
func (a *CLIAnalyzer) Name() string { return a.profile.name }

// CheckAvailable looks the command up on PATH and runs it with --version.
func (a *CLIAnalyzer) CheckAvailable(ctx context.Context) error {
	path, err := exec.LookPath(a.command)
	if err != nil {
		return fmt.Errorf("%w: %s not found on PATH", ErrAnalysisUnavailable, a.command)
	}
	ctx, cancel := context.WithTimeout(ctx, versionCheckTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s --version failed: %v", ErrAnalysisUnavailable, a.command, err)
	}
	a.logger.Debug("provider available", "command", path, "version", strings.TrimSpace(string(out)))
	return nil
}

// Analyze renders the prompt, runs the CLI and parses its output.
func (a *CLIAnalyzer) Analyze(ctx context.Context, req Request) (*types.Digest, error) {
	if _, err := exec.LookPath(a.command); err != nil {
		return nil, fmt.Errorf("%w: %s not found on PATH", ErrAnalysisUnavailable, a.command)
	}
	prompt, err := a.prompts.Build(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	var output string
	err = a.guard.do(ctx, "analyze "+req.RelPath, func(ctx context.Context) error {
		out, runErr := a.run(ctx, prompt)
		if runErr != nil {
			return runErr
		}
		output = out
		return nil
	})
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrAnalysisFailed, req.RelPath, err)
	}
	return finish(a.profile.name, output, req)
}

func (a *CLIAnalyzer) run(ctx context.Context, prompt string) (string, error) {
	args, useStdin := a.profile.args(a.opts, prompt)
	cmd := exec.CommandContext(ctx, a.command, args...)
	if useStdin {
		cmd.Stdin = strings.NewReader(prompt)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Grandchildren holding the pipes open must not outlive the deadline.
	cmd.WaitDelay = time.Second

	start := time.Now()
	err := cmd.Run()
	a.logger.Debug("provider call finished",
		"command", a.command,
		"prompt_chars", len(prompt),
		"output_chars", stdout.Len(),
		"duration", time.Since(start),
		"error", err)

	if ctx.Err() != nil {
		return "", fmt.Errorf("%s timed out: %w", a.command, ctx.Err())
	}
	if errors.Is(err, exec.ErrNotFound) {
		return "", err
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s exited with error: %s", a.command, truncate(msg, 500))
	}
	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return "", fmt.Errorf("%s: %w", a.command, errEmptyResponse)
	}
	return out, nil
}
