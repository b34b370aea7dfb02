package planner

import (
	"regexp"
	"strings"

	"github.com/crewmesh/overseer/internal/action"
	"github.com/crewmesh/overseer/internal/agents"
)

// mentionRe matches explicit agent references: "@scout" or "agent:scout".
var mentionRe = regexp.MustCompile(`(?:@|agent:)([A-Za-z0-9._-]+)`)

// MentionedIDs extracts explicitly referenced agent ids from a message.
func MentionedIDs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		id := action.Slug(m[1])
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func containsAny(lower string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// plannerAskKeywords mark an explicit user request for the planner provider.
var plannerAskKeywords = []string{
	"use planner", "use the planner", "ask chatgpt", "use chatgpt", "use gpt", "with gpt",
}

// ExplicitPlannerAsk reports whether the user explicitly requested the
// planner provider.
func ExplicitPlannerAsk(text string) bool {
	return containsAny(strings.ToLower(text), plannerAskKeywords...)
}

// Fallback deterministically classifies one message into a minimal plan.
// It is the behavioral contract when no LLM is reachable, so every branch
// must stay keyword-driven and order-stable.
func Fallback(in Input) action.Plan {
	msg := strings.TrimSpace(in.Message)
	lower := strings.ToLower(msg)
	mentions := MentionedIDs(msg)

	one := func(reason string, a action.Action) action.Plan {
		return action.Plan{
			Reason:             reason,
			Actions:            []action.Action{a},
			FinalResponseStyle: "concise",
		}
	}

	switch {
	case containsAny(lower, "list agents", "show agents", "which agents", "list tools", "show tools"):
		t := action.TypeListAgents
		if containsAny(lower, "tool") {
			t = action.TypeListTools
		}
		return one("catalog request", action.Action{
			Type: t, Risk: action.RiskL0,
			IncludeDisabled: containsAny(lower, "all", "disabled", "including"),
		})

	case containsAny(lower, "status", "progress", "how far", "where are we"):
		detail := "summary"
		if containsAny(lower, "full", "detail") {
			detail = "full"
		}
		return one("status request", action.Action{Type: action.TypeGetStatus, Risk: action.RiskL0, Detail: detail})

	case containsAny(lower, "stop", "cancel", "abort", "halt", "never mind"):
		mode := "replan"
		if containsAny(lower, "stop everything", "cancel everything", "abort", "hard stop") {
			mode = "cancel"
		}
		return one("interrupt request", action.Action{Type: action.TypeInterrupt, Risk: action.RiskL0, Mode: mode, Note: msg})

	case containsAny(lower, "context", "what do you know", "show memory"):
		scope := "current"
		if containsAny(lower, "global", "everything", "all jobs") {
			scope = "global"
		}
		return one("context request", action.Action{Type: action.TypeOpenContext, Risk: action.RiskL0, Scope: scope})

	case containsAny(lower, "spawn", "in parallel", "fan out", "simultaneously") && len(mentions) > 0:
		specs := make([]action.SpawnSpec, 0, len(mentions))
		for _, id := range mentions {
			specs = append(specs, action.SpawnSpec{AgentID: id, Goal: msg})
		}
		return one("parallel fan-out", action.Action{
			Type: action.TypeSpawnAgents, Risk: action.RiskL1,
			Summary: msg, Agents: specs, MaxParallel: len(specs),
		})

	case containsAny(lower, "disable", "turn off") && len(mentions) > 0:
		return one("selection update", action.Action{Type: action.TypeDisableAgent, Risk: action.RiskL1, AgentID: mentions[0]})

	case containsAny(lower, "enable", "turn on") && len(mentions) > 0:
		return one("selection update", action.Action{Type: action.TypeEnableAgent, Risk: action.RiskL1, AgentID: mentions[0]})

	case containsAny(lower, "publish") && len(mentions) > 0:
		return one("publish request", action.Action{Type: action.TypePublishAgent, Risk: action.RiskL1, AgentID: mentions[0]})

	case containsAny(lower, "install"):
		a := action.Action{Type: action.TypeInstallAgentBlueprint, Risk: action.RiskL1}
		if len(mentions) > 0 {
			a.BlueprintID = mentions[0]
		}
		return one("library install", a)

	case containsAny(lower, "search agents", "find agents", "search library", "browse library"):
		return one("library search", action.Action{
			Type: action.TypeSearchPublicAgents, Risk: action.RiskL0,
			Query: msg, Limit: 5,
		})

	case containsAny(lower, "propose"):
		return one("agent proposal", action.Action{
			Type: action.TypeProposeAgent, Risk: action.RiskL2,
			Profile: &action.ProfileDraft{Description: msg},
		})

	case containsAny(lower, "create agent", "new agent", "add agent", "add an agent"):
		a := action.Action{Type: action.TypeCreateAgent, Risk: action.RiskL2, Profile: &action.ProfileDraft{Description: msg}}
		if len(mentions) > 0 {
			a.Profile.ID = mentions[0]
		}
		return one("agent creation", a)

	case containsAny(lower, "update agent", "modify agent", "edit agent", "change agent") && len(mentions) > 0:
		return one("agent update", action.Action{
			Type: action.TypeUpdateAgent, Risk: action.RiskL2,
			AgentID: mentions[0], Patch: map[string]string{"description": msg},
		})
	}

	// Default route: a single run_agent on the best-matching enabled agent.
	agentID := pickAgent(in, mentions)
	if agentID == "" {
		return action.Plan{
			Reason:             "no agents available",
			Actions:            []action.Action{{Type: action.TypeSummarize, Risk: action.RiskL0, Hint: msg}},
			FinalResponseStyle: "concise",
		}
	}
	return one("default single-agent route", action.Action{
		Type: action.TypeRunAgent, Risk: action.RiskL1,
		AgentID: agentID, Goal: msg,
	})
}

// pickAgent prefers an explicitly mentioned enabled agent, then the first
// enabled agent that is not planner-backed, then the first enabled agent.
func pickAgent(in Input, mentions []string) string {
	catalog := in.AgentIDs()
	enabled := catalog
	if in.JobConfig != nil {
		enabled = in.JobConfig.AgentSet.EnabledIDs(catalog)
	}
	inEnabled := make(map[string]bool, len(enabled))
	for _, id := range enabled {
		inEnabled[id] = true
	}
	for _, id := range mentions {
		if inEnabled[id] {
			return id
		}
	}
	for _, id := range enabled {
		if in.provider(id) != agents.ProviderPlanner {
			return id
		}
	}
	if len(enabled) > 0 {
		return enabled[0]
	}
	return ""
}
