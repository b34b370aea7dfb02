package providers

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// termGrace is how long a child gets after SIGTERM before SIGKILL.
const termGrace = 1200 * time.Millisecond

// CLIProvider invokes an agent CLI once per request. The prompt goes to
// stdin; stdout is the response.
type CLIProvider struct {
	name    string
	command string
	args    []string
	timeout time.Duration
}

// NewCLI builds a CLI-backed provider. Args may reference the request
// model via a literal "{model}" placeholder.
func NewCLI(name, command string, args []string, timeout time.Duration) *CLIProvider {
	return &CLIProvider{name: name, command: command, args: args, timeout: timeout}
}

// Name returns the provider identifier.
func (p *CLIProvider) Name() string { return p.name }

// Run executes the CLI. Cancellation sends SIGTERM, then SIGKILL after a
// short grace, so an aborted coder run cannot linger holding file locks.
func (p *CLIProvider) Run(ctx context.Context, req Request) (*Response, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(p.args))
	for _, a := range p.args {
		if a == "{model}" {
			if req.Model == "" {
				continue
			}
			a = req.Model
		}
		args = append(args, a)
	}

	cmd := exec.CommandContext(ctx, p.command, args...)
	cmd.Dir = req.WorkDir
	cmd.Stdin = strings.NewReader(buildStdin(req))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = termGrace

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("provider %s: %w", p.name, ctx.Err())
	}
	if err != nil {
		exitCode := -1
		if ee, ok := err.(*exec.ExitError); ok {
			exitCode = ee.ExitCode()
		}
		slog.Warn("provider run failed",
			"provider", p.name, "exit", exitCode, "stderr", truncate(stderr.String(), 500))
		return nil, fmt.Errorf("provider %s exited %d: %s", p.name, exitCode, truncate(stderr.String(), 200))
	}

	return &Response{
		Text:     strings.TrimSpace(stdout.String()),
		ExitCode: 0,
		Duration: elapsed,
	}, nil
}

// Complete satisfies the planner's completer surface.
func (p *CLIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := p.Run(ctx, Request{Prompt: prompt})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func buildStdin(req Request) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	if req.Goal != "" {
		b.WriteString("\n\nGoal: ")
		b.WriteString(req.Goal)
	}
	for k, v := range req.Inputs {
		fmt.Fprintf(&b, "\n%s: %s", k, v)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
