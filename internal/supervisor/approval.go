package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crewmesh/overseer/internal/action"
	"github.com/crewmesh/overseer/internal/bus"
	"github.com/crewmesh/overseer/internal/executor"
	"github.com/crewmesh/overseer/internal/goc"
	"github.com/crewmesh/overseer/internal/session"
)

// Approval callback data verbs.
const (
	CallbackApprove = "approve"
	CallbackDeny    = "deny"
)

// approvalButtons builds the inline approve/deny row for a blocked run.
func approvalButtons(jobID, token string) [][]bus.Button {
	return [][]bus.Button{{
		{Label: "Approve", Data: fmt.Sprintf("%s:%s:%s", CallbackApprove, jobID, token)},
		{Label: "Deny", Data: fmt.Sprintf("%s:%s:%s", CallbackDeny, jobID, token)},
	}}
}

// approvalPrompt renders the blocked-action message.
func approvalPrompt(pa *session.PendingApproval) string {
	var b strings.Builder
	b.WriteString("approval needed: ")
	b.WriteString(pa.Reason)
	fmt.Fprintf(&b, "\naction: %s", pa.Action.Type)
	if pa.Action.AgentID != "" {
		fmt.Fprintf(&b, " (%s)", pa.Action.AgentID)
	}
	if pa.Action.Goal != "" {
		fmt.Fprintf(&b, "\ngoal: %s", truncateText(pa.Action.Goal, 200))
	}
	if n := len(pa.RemainingActions); n > 0 {
		fmt.Fprintf(&b, "\n%d more action(s) queued behind it", n)
	}
	return b.String()
}

// HandleCallback processes one "approve:<job>:<token>" or
// "deny:<job>:<token>" button press and returns the reply text.
func (s *Supervisor) HandleCallback(chatID, userID, data string) string {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 {
		return "unrecognized action"
	}
	verb, jobID, token := parts[0], parts[1], parts[2]

	cs := s.sessions.Get(chatID)
	pa := cs.PendingApproval
	if pa == nil || pa.ID != token || pa.JobID != jobID {
		// The session moved on; a stale snapshot on disk is all that is left.
		var stale session.PendingApproval
		if err := s.jobs.LoadApproval(jobID, token, &stale); err == nil {
			s.jobs.DeleteApproval(jobID, token)
		}
		return "that approval is no longer pending"
	}

	switch verb {
	case CallbackApprove:
		s.resumeApproved(chatID, userID, pa)
		return "approved, resuming"
	case CallbackDeny:
		s.denyApproval(chatID, pa)
		return "denied, remaining actions skipped"
	default:
		return "unrecognized action"
	}
}

// resumeApproved re-enters the executor with the blocked action marked
// pre-approved plus everything that was queued behind it. The run is
// asynchronous; interrupt polling still applies between actions.
func (s *Supervisor) resumeApproved(chatID, userID string, pa *session.PendingApproval) {
	if _, err := s.sessions.Upsert(chatID, func(cs *session.ChatSession) {
		cs.PendingApproval = nil
		cs.State = session.StateExecuting
	}); err != nil {
		slog.Error("supervisor: approval session write", "chat", chatID, "error", err)
	}
	s.jobs.DeleteApproval(pa.JobID, pa.ID)

	go func() {
		ctx := context.Background()

		first := pa.Action
		first.PreApproved = true
		plan := action.Plan{
			Reason:  "resume after approval",
			Actions: append([]action.Action{first}, pa.RemainingActions...),
		}

		cat, err := s.Catalog(ctx)
		if err != nil {
			s.send(chatID, "resume failed: "+err.Error(), nil)
			return
		}
		st := s.jobMapState(ctx, pa.JobID)
		jc := s.loadJobConfig(ctx, pa.JobID, st)
		sc := &runScope{
			chatID: chatID, userID: userID, jobID: pa.JobID,
			cat: cat, jobCfg: jc, st: st,
		}

		out, err := s.exec.Run(withScope(ctx, sc), executor.RunInput{
			ChatID:    chatID,
			UserID:    userID,
			JobID:     pa.JobID,
			Plan:      plan,
			JobConfig: *jc,
			Agents:    cat,
			Tools:     s.tools,
		})
		if err != nil {
			if executor.IsCancelled(err) {
				slog.Info("supervisor: resumed run cancelled", "chat", chatID)
			} else {
				s.send(chatID, "resume failed: "+err.Error(), nil)
			}
			return
		}

		// Stitch the pre-approval half of the run back on for the summary.
		out.Results = append(append([]action.Result(nil), pa.ResultsSoFar...), out.Results...)
		out.Outputs = append(append([]action.Output(nil), pa.OutputsSoFar...), out.Outputs...)
		s.finishRun(sc, plan, out)
	}()
}

// denyApproval drops the blocked action and everything behind it.
func (s *Supervisor) denyApproval(chatID string, pa *session.PendingApproval) {
	if _, err := s.sessions.Upsert(chatID, func(cs *session.ChatSession) {
		cs.PendingApproval = nil
		cs.State = session.StateIdle
	}); err != nil {
		slog.Error("supervisor: deny session write", "chat", chatID, "error", err)
	}
	s.jobs.DeleteApproval(pa.JobID, pa.ID)
	if err := s.jobs.AppendLog(pa.JobID, fmt.Sprintf("approval %s denied, %d action(s) dropped",
		pa.ID, 1+len(pa.RemainingActions))); err != nil {
		slog.Warn("supervisor: job log append failed", "job", pa.JobID, "error", err)
	}
}

// jobMapState resolves the job's store mapping, nil when unavailable.
func (s *Supervisor) jobMapState(ctx context.Context, jobID string) *goc.MapState {
	if s.mapper == nil {
		return nil
	}
	st, err := s.mapper.EnsureJobThread(ctx, jobID, s.jobs.Dir(jobID))
	if err != nil {
		slog.Warn("supervisor: job thread unavailable", "job", jobID, "error", err)
		return nil
	}
	return st
}
