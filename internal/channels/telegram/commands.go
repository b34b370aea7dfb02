package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/crewmesh/overseer/internal/bus"
	"github.com/crewmesh/overseer/internal/runmgr"
)

const helpText = `commands:
/help - this message
/whoami - show your chat and user ids
/status - current run state and budget
/running - recent jobs
/agents - agent catalog
/context - open the knowledge context
/run <text> - start a run with the given request
/chat <text> - same as sending the text directly
/continue - resume work on the current job
/stop [reason] - cancel the current run`

// splitCommand separates "/cmd@bot arg text" into the lowercased command
// and the remaining argument string.
func splitCommand(text string) (cmd, args string) {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 2)
	cmd = strings.SplitN(parts[0], "@", 2)[0]
	cmd = strings.ToLower(cmd)
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return cmd, args
}

// commandReply handles slash commands. The second return is false for
// plain messages, which flow to the supervisor instead.
func (c *Channel) commandReply(ctx context.Context, chatID, userID, text string) (string, bool) {
	if !strings.HasPrefix(strings.TrimSpace(text), "/") {
		return "", false
	}
	cmd, args := splitCommand(text)

	forward := func(msg string) string {
		disp := c.sup.HandleIncoming(bus.Inbound{
			Channel: "telegram", ChatID: chatID, UserID: userID, Text: msg,
		})
		if disp == runmgr.DispositionQueuedInterrupt {
			return "" // the run manager already acked the preemption
		}
		return "on it"
	}

	switch cmd {
	case "/help", "/start":
		return helpText, true

	case "/whoami":
		return fmt.Sprintf("chat: %s\nuser: %s", chatID, userID), true

	case "/status":
		cs := c.sup.Session(chatID)
		return fmt.Sprintf("state: %s\njob: %s\nbudget: %d/%d actions",
			cs.State, cs.JobID, cs.Budget.UsedActions, cs.Budget.MaxActions), true

	case "/running":
		list, err := c.sup.Jobs().ListJobs()
		if err != nil {
			return "job list failed: " + err.Error(), true
		}
		if len(list) == 0 {
			return "no jobs yet", true
		}
		if len(list) > 5 {
			list = list[:5]
		}
		var b strings.Builder
		for _, meta := range list {
			fmt.Fprintf(&b, "- %s %s (%s)\n", meta.JobID[:8], meta.Title, meta.CreatedAt.Format("Jan 2 15:04"))
		}
		return strings.TrimSpace(b.String()), true

	case "/agents":
		cat, err := c.sup.Catalog(ctx)
		if err != nil {
			return "catalog load failed: " + err.Error(), true
		}
		var b strings.Builder
		for _, p := range cat.Agents {
			fmt.Fprintf(&b, "- %s (%s): %s\n", p.ID, p.Provider, p.Description)
		}
		return strings.TrimSpace(b.String()), true

	case "/context":
		return forward("show context"), true

	case "/run", "/chat":
		if args == "" {
			return "usage: " + cmd + " <request>", true
		}
		return forward(args), true

	case "/continue":
		return forward("continue the current job where it left off"), true

	case "/stop":
		reason := args
		if reason == "" {
			reason = "stopped by user"
		}
		c.sup.Stop(chatID, reason)
		return "", true

	default:
		return "unknown command, try /help", true
	}
}
