// Package providers runs the agent backends as CLI child processes:
// planner, coder, and researcher commands invoked per request.
package providers

import (
	"context"
	"time"
)

// Provider is the interface all agent backends implement.
type Provider interface {
	// Run executes one agent invocation and returns its output.
	Run(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider identifier ("planner", "coder", "researcher").
	Name() string
}

// Request contains the input for one provider invocation.
type Request struct {
	Prompt  string            `json:"prompt"`
	Goal    string            `json:"goal,omitempty"`
	Model   string            `json:"model,omitempty"`
	WorkDir string            `json:"work_dir,omitempty"`
	Inputs  map[string]string `json:"inputs,omitempty"`
}

// Response is the result of one provider invocation.
type Response struct {
	Text     string        `json:"text"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Per-provider default timeouts. Cancellation may shorten either.
const (
	PlannerTimeout    = 30 * time.Minute
	CoderTimeout      = 45 * time.Minute
	ResearcherTimeout = 30 * time.Minute
)
