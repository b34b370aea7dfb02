// Package executor walks a normalized action plan under the allowlist,
// budget, approval, and interrupt rules, dispatching each action to its
// registered callback.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/crewmesh/overseer/internal/action"
	"github.com/crewmesh/overseer/internal/agents"
	"github.com/crewmesh/overseer/internal/session"
)

// ErrCancelled is the distinct cancellation kind. It propagates out of
// Run; every other callback failure is captured per action.
var ErrCancelled = errors.New("run cancelled")

// IsCancelled reports whether err is a cancellation (interrupt or
// context) rather than a normal failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}

// Callback executes one action variant and returns its output envelope.
type Callback func(ctx context.Context, a action.Action) (*action.Output, error)

// RunInput is everything one plan execution needs.
type RunInput struct {
	ChatID    string
	UserID    string
	JobID     string
	Plan      action.Plan
	JobConfig action.JobConfig
	Agents    *agents.Catalog
	Tools     []action.Tool
}

// Outcome is the record of one plan execution.
type Outcome struct {
	Results          []action.Result
	Outputs          []action.Output
	CurrentJobID     string
	PendingApproval  *session.PendingApproval
	BlockedIndex     int
	RemainingActions []action.Action
	Replanned        bool
}

// Executor dispatches plans. Callbacks are registered per action type;
// a plan action with no callback records an error and continues.
type Executor struct {
	sessions  *session.Store
	callbacks map[action.Type]Callback
}

// New builds an executor over the session store.
func New(sessions *session.Store) *Executor {
	return &Executor{
		sessions:  sessions,
		callbacks: make(map[action.Type]Callback),
	}
}

// Register installs the callback for one action type.
func (e *Executor) Register(t action.Type, cb Callback) {
	e.callbacks[t] = cb
}

func label(a action.Action) string {
	if a.AgentID != "" {
		return string(a.Type) + ":" + a.AgentID
	}
	if a.ToolID != "" {
		return string(a.Type) + ":" + a.ToolID
	}
	return string(a.Type)
}

func (in RunInput) provider(a action.Action) string {
	if in.Agents == nil {
		return ""
	}
	if p, ok := in.Agents.ByID[a.AgentID]; ok {
		return p.Provider
	}
	return ""
}

func isSelectionUpdate(t action.Type) bool {
	switch t {
	case action.TypeEnableAgent, action.TypeDisableAgent,
		action.TypeEnableTool, action.TypeDisableTool:
		return true
	}
	return false
}

// Run executes the plan. Cancellation (interrupt mode "cancel" or a
// cancelled context) returns ErrCancelled; everything else is captured
// into per-action results and the final session write.
func (e *Executor) Run(ctx context.Context, in RunInput) (*Outcome, error) {
	allow := action.DefaultAllowlist(in.Tools)
	maxActions := in.JobConfig.Budget.MaxActions
	if maxActions <= 0 {
		maxActions = action.DefaultMaxActions
	}

	out := &Outcome{CurrentJobID: in.JobID, BlockedIndex: -1}
	used, blocked := 0, 0

	if _, err := e.sessions.Upsert(in.ChatID, func(cs *session.ChatSession) {
		cs.State = session.StateExecuting
		cs.JobID = in.JobID
		cs.Budget = session.BudgetCounters{MaxActions: maxActions}
	}); err != nil {
		return nil, fmt.Errorf("executor: session write: %w", err)
	}

	record := func(a action.Action, status, note string) {
		out.Results = append(out.Results, action.Result{Label: label(a), Status: status, Note: note})
	}

walk:
	for i, a := range in.Plan.Actions {
		// Interrupt poll, pre-action. A cancel propagates without a
		// session write; the run manager owns the post-cancel state.
		switch e.pollInterrupt(in.ChatID) {
		case session.InterruptCancel:
			return out, fmt.Errorf("interrupt: %w", ErrCancelled)
		case session.InterruptReplan:
			record(a, action.StatusSkip, "interrupt: replanning")
			out.Replanned = true
			break walk
		}

		if !allow.IsAllowed(a) {
			record(a, action.StatusBlocked, "not in allowlist")
			blocked++
			continue
		}

		if used >= maxActions {
			record(a, action.StatusBlocked, "budget exceeded")
			blocked++
			break
		}

		if need, reason := action.NeedsApproval(a, action.ApprovalContext{
			Approval: in.JobConfig.Approval,
			Provider: in.provider(a),
		}); need {
			out.PendingApproval = &session.PendingApproval{
				ID:               uuid.NewString(),
				ChatID:           in.ChatID,
				JobID:            in.JobID,
				Action:           a,
				Reason:           reason,
				BlockedIndex:     i,
				RemainingActions: append([]action.Action(nil), in.Plan.Actions[i+1:]...),
				ResultsSoFar:     append([]action.Result(nil), out.Results...),
				OutputsSoFar:     append([]action.Output(nil), out.Outputs...),
				RequestedBy:      in.UserID,
				TS:               time.Now().UTC(),
			}
			out.BlockedIndex = i
			out.RemainingActions = out.PendingApproval.RemainingActions
			record(a, action.StatusBlocked, "awaiting approval: "+reason)
			break
		}

		cb := e.callbacks[a.Type]
		if cb == nil {
			record(a, action.StatusError, "no handler for "+string(a.Type))
			continue
		}
		envelope, err := cb(ctx, a)
		switch {
		case err != nil && IsCancelled(err):
			return out, fmt.Errorf("action %s: %w", label(a), ErrCancelled)
		case err != nil:
			slog.Warn("executor: action failed", "action", label(a), "error", err)
			record(a, action.StatusError, err.Error())
			continue
		}
		record(a, action.StatusOK, "")
		if envelope != nil {
			out.Outputs = append(out.Outputs, *envelope)
		}
		used++

		// Interrupt poll, post-action.
		switch e.pollInterrupt(in.ChatID) {
		case session.InterruptCancel:
			return out, fmt.Errorf("interrupt: %w", ErrCancelled)
		case session.InterruptReplan:
			out.Replanned = true
			break walk
		}

		// A selection change takes effect on the next turn, so the rest
		// of the plan would run against a stale catalog.
		if isSelectionUpdate(a.Type) && i < len(in.Plan.Actions)-1 {
			out.Results = append(out.Results, action.Result{
				Label: "selection_update", Status: action.StatusSkip,
				Note: "remaining actions deferred to next turn",
			})
			break
		}

		if a.Type == action.TypeInterrupt {
			break
		}
	}

	e.commit(in.ChatID, out, used, blocked, maxActions)
	return out, nil
}

// pollInterrupt returns the requested interrupt mode, or "".
func (e *Executor) pollInterrupt(chatID string) string {
	cs := e.sessions.Get(chatID)
	if cs.Interrupt != nil && cs.Interrupt.Requested {
		return cs.Interrupt.Mode
	}
	return ""
}

// commit is the final session write: pending approval, state, counters,
// interrupt cleared.
func (e *Executor) commit(chatID string, out *Outcome, used, blocked, maxActions int) {
	_, err := e.sessions.Upsert(chatID, func(cs *session.ChatSession) {
		cs.Budget.MaxActions = maxActions
		if used > cs.Budget.UsedActions {
			cs.Budget.UsedActions = used
		}
		if blocked > cs.Budget.BlockedActions {
			cs.Budget.BlockedActions = blocked
		}
		cs.Interrupt = nil
		cs.PendingApproval = out.PendingApproval
		switch {
		case out.PendingApproval != nil:
			cs.State = session.StateAwaitingApproval
		case out.Replanned:
			cs.State = session.StateIdle
		default:
			cs.State = session.StateDone
		}
	})
	if err != nil {
		slog.Error("executor: final session write failed", "chat", chatID, "error", err)
	}
}
