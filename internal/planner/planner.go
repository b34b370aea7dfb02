// Package planner turns one user message into a normalized action plan.
// An LLM drafts the plan when a completer is wired; a deterministic
// keyword fallback is the behavioral contract either way.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crewmesh/overseer/internal/action"
	"github.com/crewmesh/overseer/internal/agents"
)

// Completer is the minimal LLM surface the planner needs.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Input is the routing bundle for one message.
type Input struct {
	Message             string
	Agents              *agents.Catalog
	Tools               []action.Tool
	JobConfig           *action.JobConfig
	CurrentJobID        string
	CurrentContextSetID string
	Locale              string
	ContextSummary      string
}

// AgentIDs returns the catalog ids, empty when no catalog is loaded.
func (in Input) AgentIDs() []string {
	if in.Agents == nil {
		return nil
	}
	return in.Agents.IDs()
}

func (in Input) maxActions() int {
	if in.JobConfig != nil && in.JobConfig.Budget.MaxActions > 0 {
		return in.JobConfig.Budget.MaxActions
	}
	return action.DefaultMaxActions
}

// Planner routes messages to plans.
type Planner struct {
	llm Completer
}

// New builds a planner. A nil completer means fallback-only routing.
func New(llm Completer) *Planner {
	return &Planner{llm: llm}
}

// Route produces a normalized plan for the message. LLM failures and
// unparseable responses degrade to the deterministic fallback; a
// cancelled context propagates instead of falling back.
func (p *Planner) Route(ctx context.Context, in Input) (action.Plan, error) {
	if p.llm == nil {
		return Fallback(in), nil
	}

	out, err := p.llm.Complete(ctx, BuildPrompt(in))
	if err != nil {
		if ctx.Err() != nil {
			return action.Plan{}, fmt.Errorf("planner call: %w", ctx.Err())
		}
		slog.Warn("planner: llm call failed, using fallback", "error", err)
		return Fallback(in), nil
	}
	if ctx.Err() != nil {
		return action.Plan{}, fmt.Errorf("planner call: %w", ctx.Err())
	}

	raw, ok := ExtractJSONObject(out)
	if !ok {
		slog.Warn("planner: no parseable plan in llm response, using fallback")
		return Fallback(in), nil
	}

	plan := action.NormalizePlan(raw, in.maxActions())
	plan.Actions = p.postFilter(plan.Actions, in)
	if len(plan.Actions) == 0 {
		return Fallback(in), nil
	}
	return plan, nil
}

// postFilter applies the routing policy to a drafted plan: run_agent
// actions resolving to the planner provider are dropped unless the user
// explicitly asked for it, and code-writing runs are raised to L3.
func (p *Planner) postFilter(actions []action.Action, in Input) []action.Action {
	explicit := ExplicitPlannerAsk(in.Message)
	forbidPlanner := in.JobConfig == nil || in.JobConfig.Policies.ForbidChatGPTPlannerByDefault

	out := actions[:0]
	for _, a := range actions {
		if a.Type == action.TypeRunAgent {
			switch in.provider(a.AgentID) {
			case agents.ProviderPlanner:
				if forbidPlanner && !explicit {
					slog.Debug("planner: dropped planner-provider run", "agent", a.AgentID)
					continue
				}
			case agents.ProviderCoder:
				a.Risk = action.RiskL3
			}
		}
		out = append(out, a)
	}
	return out
}

func (in Input) provider(agentID string) string {
	if in.Agents == nil {
		return ""
	}
	if p, ok := in.Agents.ByID[agentID]; ok {
		return p.Provider
	}
	return ""
}

// BuildPrompt composes the structured routing prompt: schema, catalog,
// policy rules, and the message.
func BuildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("You route one user message into a JSON action plan.\n")
	b.WriteString("Emit exactly one JSON object: {\"reason\": string, \"actions\": [...], \"final_response_style\": \"concise\"|\"detailed\"}.\n\n")

	b.WriteString("Action variants:\n")
	b.WriteString("  run_agent{agent_id, goal, inputs?, risk}\n")
	b.WriteString("  propose_agent{profile, risk} create_agent{profile, format?} update_agent{agent_id, patch}\n")
	b.WriteString("  need_more_detail{context_set_id, node_ids, depth, max_chars}\n")
	b.WriteString("  open_context{scope} summarize{hint} get_status{detail} interrupt{mode, note}\n")
	b.WriteString("  search_public_agents{query, limit} install_agent_blueprint{blueprint_id|public_node_id, agent_id_override?}\n")
	b.WriteString("  publish_agent{agent_id} enable_agent/disable_agent{agent_id} enable_tool/disable_tool{tool_id}\n")
	b.WriteString("  list_agents/list_tools{include_disabled} spawn_agents{summary, agents, max_parallel}\n\n")

	b.WriteString("Agents:\n")
	if in.Agents != nil {
		for _, a := range in.Agents.Agents {
			fmt.Fprintf(&b, "  - %s (provider %s): %s\n", a.ID, a.Provider, a.Description)
		}
	}
	if len(in.Tools) > 0 {
		b.WriteString("Tools:\n")
		for _, t := range in.Tools {
			fmt.Fprintf(&b, "  - %s (risk %s)\n", t.ID, t.Risk)
		}
	}

	b.WriteString("\nRules:\n")
	b.WriteString("  - Emit only the one JSON object, no prose.\n")
	fmt.Fprintf(&b, "  - At most %d actions.\n", in.maxActions())
	b.WriteString("  - Prefer a single run_agent for simple requests.\n")
	b.WriteString("  - Only route to planner-provider agents when the user explicitly asked for them.\n")
	b.WriteString("  - File-writing runs are risk L3.\n")

	if in.ContextSummary != "" {
		b.WriteString("\nContext:\n")
		b.WriteString(in.ContextSummary)
		b.WriteString("\n")
	}
	if in.CurrentJobID != "" {
		fmt.Fprintf(&b, "\nCurrent job: %s\n", in.CurrentJobID)
	}
	if in.Locale != "" {
		fmt.Fprintf(&b, "Locale: %s\n", in.Locale)
	}

	b.WriteString("\nUser message:\n")
	b.WriteString(in.Message)
	return b.String()
}
