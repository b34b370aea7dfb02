package supervisor

import (
	"fmt"
	"strings"

	"github.com/crewmesh/overseer/internal/action"
	"github.com/crewmesh/overseer/internal/executor"
)

// Telegram caps messages at 4096 chars; stay under it with room for
// markup.
const (
	maxSummaryChars = 3500
	maxOutputChars  = 1200
)

func statusMark(status string) string {
	switch status {
	case action.StatusOK:
		return "✓"
	case action.StatusSkip:
		return "•"
	case action.StatusBlocked:
		return "⛔"
	default:
		return "✗"
	}
}

// FormatRunSummary renders one run's outcome for the chat: the plan
// reason, a per-action status line, then the output envelopes.
func FormatRunSummary(plan action.Plan, results []action.Result, outputs []action.Output) string {
	var b strings.Builder
	if plan.Reason != "" {
		b.WriteString(plan.Reason)
		b.WriteString("\n")
	}
	for _, r := range results {
		fmt.Fprintf(&b, "%s %s", statusMark(r.Status), r.Label)
		if r.Note != "" {
			fmt.Fprintf(&b, " (%s)", r.Note)
		}
		b.WriteString("\n")
	}

	for _, out := range outputs {
		text := strings.TrimSpace(out.Text)
		if text == "" {
			continue
		}
		b.WriteString("\n")
		switch {
		case out.AgentID != "":
			fmt.Fprintf(&b, "[%s] ", out.AgentID)
		case out.Mode != "":
			fmt.Fprintf(&b, "[%s] ", out.Mode)
		}
		b.WriteString(truncateText(text, maxOutputChars))
		b.WriteString("\n")
	}

	s := strings.TrimSpace(b.String())
	if s == "" {
		s = "nothing to do"
	}
	return truncateText(s, maxSummaryChars)
}

// progressNote is the short run record appended to progress.md.
func progressNote(plan action.Plan, out *executor.Outcome) string {
	var b strings.Builder
	b.WriteString(plan.Reason)
	b.WriteString("\n")
	for _, r := range out.Results {
		fmt.Fprintf(&b, "- %s: %s", r.Label, r.Status)
		if r.Note != "" {
			fmt.Fprintf(&b, " (%s)", r.Note)
		}
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
