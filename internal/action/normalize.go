package action

import (
	"fmt"
	"strings"
)

// typeSynonyms folds alternative type tags onto canonical ones.
var typeSynonyms = map[string]Type{
	"run_agent":               TypeRunAgent,
	"agent_run":               TypeRunAgent,
	"run":                     TypeRunAgent,
	"invoke_agent":            TypeRunAgent,
	"propose_agent":           TypeProposeAgent,
	"agent_proposal":          TypeProposeAgent,
	"need_more_detail":        TypeNeedMoreDetail,
	"expand_context":          TypeNeedMoreDetail,
	"more_detail":             TypeNeedMoreDetail,
	"open_context":            TypeOpenContext,
	"context":                 TypeOpenContext,
	"show_context":            TypeOpenContext,
	"summarize":               TypeSummarize,
	"summary":                 TypeSummarize,
	"search_public_agents":    TypeSearchPublicAgents,
	"search_agents":           TypeSearchPublicAgents,
	"install_agent_blueprint": TypeInstallAgentBlueprint,
	"install_blueprint":       TypeInstallAgentBlueprint,
	"install_agent":           TypeInstallAgentBlueprint,
	"publish_agent":           TypePublishAgent,
	"enable_agent":            TypeEnableAgent,
	"disable_agent":           TypeDisableAgent,
	"enable_tool":             TypeEnableTool,
	"disable_tool":            TypeDisableTool,
	"list_agents":             TypeListAgents,
	"agents_list":             TypeListAgents,
	"list_tools":              TypeListTools,
	"tools_list":              TypeListTools,
	"create_agent":            TypeCreateAgent,
	"update_agent":            TypeUpdateAgent,
	"get_status":              TypeGetStatus,
	"status":                  TypeGetStatus,
	"interrupt":               TypeInterrupt,
	"stop":                    TypeInterrupt,
	"spawn_agents":            TypeSpawnAgents,
	"spawn":                   TypeSpawnAgents,
}

// Clamp bounds for numeric action fields.
const (
	MinDepth       = 1
	MaxDepth       = 3
	MinDetailChars = 1200
	MaxDetailChars = 24000
	MinLimit       = 1
	MaxLimit       = 10
	MinParallel    = 1
	MaxParallel    = 8
	MaxSpawn       = 8
)

// Normalize accepts an untyped record and returns a typed Action, or nil
// when the record is missing its type tag or a mandatory field. It is the
// single place aliases, clamps, and per-variant risk defaults are applied.
func Normalize(raw map[string]any) *Action {
	if raw == nil {
		return nil
	}
	tag := strings.ToLower(strings.TrimSpace(str(raw, "type", "action", "op")))
	typ, ok := typeSynonyms[tag]
	if !ok {
		return nil
	}

	a := &Action{Type: typ}
	if r, ok := ParseRisk(str(raw, "risk", "risk_level")); ok {
		a.Risk = r
	} else {
		a.Risk = defaultRisk(typ)
	}

	switch typ {
	case TypeRunAgent:
		a.AgentID = Slug(str(raw, "agent_id", "agent", "agentId", "id"))
		a.Goal = strings.TrimSpace(str(raw, "goal", "prompt", "task", "message"))
		a.Inputs = strMap(raw, "inputs")
		if a.AgentID == "" || a.Goal == "" {
			return nil
		}
	case TypeProposeAgent, TypeCreateAgent:
		a.Profile = draft(raw)
		a.Format = strings.TrimSpace(str(raw, "format"))
		if a.Profile == nil {
			return nil
		}
	case TypeUpdateAgent:
		a.AgentID = Slug(str(raw, "agent_id", "agent", "agentId", "id"))
		a.Patch = strMap(raw, "patch", "update", "fields")
		a.Format = strings.TrimSpace(str(raw, "format"))
		if a.AgentID == "" || len(a.Patch) == 0 {
			return nil
		}
	case TypeNeedMoreDetail:
		a.ContextSetID = strings.TrimSpace(str(raw, "context_set_id", "contextSetId", "ctx"))
		a.NodeIDs = strSlice(raw, "node_ids", "nodes", "nodeIds")
		a.Depth = clampInt(num(raw, 1, "depth"), MinDepth, MaxDepth)
		a.MaxChars = clampInt(num(raw, MinDetailChars, "max_chars", "maxChars"), MinDetailChars, MaxDetailChars)
		a.Risk = RiskL0
	case TypeOpenContext:
		a.Scope = strings.ToLower(strings.TrimSpace(str(raw, "scope")))
		if a.Scope != "global" {
			a.Scope = "current"
		}
		a.Risk = RiskL0
	case TypeSummarize:
		a.Hint = strings.TrimSpace(str(raw, "hint", "focus"))
		a.Risk = RiskL0
	case TypeSearchPublicAgents:
		a.Query = strings.TrimSpace(str(raw, "query", "q"))
		a.Limit = clampInt(num(raw, 5, "limit"), MinLimit, MaxLimit)
		a.Risk = RiskL0
		if a.Query == "" {
			return nil
		}
	case TypeInstallAgentBlueprint:
		a.BlueprintID = strings.TrimSpace(str(raw, "blueprint_id", "blueprintId"))
		a.PublicNodeID = strings.TrimSpace(str(raw, "public_node_id", "publicNodeId", "node_id"))
		a.AgentIDOverride = Slug(str(raw, "agent_id_override", "agentIdOverride", "as"))
		if a.BlueprintID == "" && a.PublicNodeID == "" {
			return nil
		}
	case TypePublishAgent:
		a.AgentNodeID = strings.TrimSpace(str(raw, "agent_node_id", "agentNodeId", "node_id"))
		a.AgentID = Slug(str(raw, "agent_id", "agent", "agentId"))
		if a.AgentNodeID == "" && a.AgentID == "" {
			return nil
		}
	case TypeEnableAgent, TypeDisableAgent:
		a.AgentID = Slug(str(raw, "agent_id", "agent", "agentId", "id"))
		if a.AgentID == "" {
			return nil
		}
	case TypeEnableTool, TypeDisableTool:
		a.ToolID = Slug(str(raw, "tool_id", "tool", "toolId", "id"))
		if a.ToolID == "" {
			return nil
		}
	case TypeListAgents, TypeListTools:
		a.IncludeDisabled = boolean(raw, "include_disabled", "includeDisabled", "all")
		a.Risk = RiskL0
	case TypeGetStatus:
		a.Detail = strings.ToLower(strings.TrimSpace(str(raw, "detail")))
		if a.Detail != "full" {
			a.Detail = "summary"
		}
		a.Risk = RiskL0
	case TypeInterrupt:
		a.Mode = strings.ToLower(strings.TrimSpace(str(raw, "mode")))
		if a.Mode != "cancel" {
			a.Mode = "replan"
		}
		a.Note = strings.TrimSpace(str(raw, "note", "reason"))
	case TypeSpawnAgents:
		a.Summary = strings.TrimSpace(str(raw, "summary", "goal"))
		a.Agents = spawnSpecs(raw)
		a.MaxParallel = clampInt(num(raw, 1, "max_parallel", "maxParallel"), MinParallel, MaxParallel)
		if len(a.Agents) == 0 {
			return nil
		}
		if len(a.Agents) > MaxSpawn {
			a.Agents = a.Agents[:MaxSpawn]
		}
	}

	a.Risk = ClampRisk(a.Risk)
	return a
}

// NormalizePlan normalizes each element of the raw plan's actions, drops
// invalid ones, and truncates to maxActions. Order is preserved.
func NormalizePlan(raw map[string]any, maxActions int) Plan {
	if maxActions <= 0 {
		maxActions = DefaultMaxActions
	}
	p := Plan{
		Reason:             strings.TrimSpace(str(raw, "reason", "why")),
		FinalResponseStyle: strings.ToLower(strings.TrimSpace(str(raw, "final_response_style", "style"))),
	}
	if p.FinalResponseStyle != "detailed" {
		p.FinalResponseStyle = "concise"
	}
	items, _ := raw["actions"].([]any)
	for _, it := range items {
		rec, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if a := Normalize(rec); a != nil {
			p.Actions = append(p.Actions, *a)
			if len(p.Actions) >= maxActions {
				break
			}
		}
	}
	return p
}

func defaultRisk(t Type) Risk {
	switch t {
	case TypeRunAgent:
		return RiskL1
	case TypeProposeAgent:
		return RiskL2
	case TypeInstallAgentBlueprint, TypePublishAgent:
		return RiskL1
	case TypeCreateAgent, TypeUpdateAgent:
		return RiskL2
	case TypeEnableAgent, TypeDisableAgent, TypeEnableTool, TypeDisableTool:
		return RiskL1
	case TypeSpawnAgents, TypeInterrupt:
		return RiskL1
	default:
		return RiskL0
	}
}

// Slug lowercases and trims an agent/tool id, replacing interior whitespace
// with dashes and dropping characters outside [a-z0-9._-].
func Slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteByte('-')
		}
	}
	return b.String()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// str returns the first non-empty string value among the given keys.
func str(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

// num coerces the first numeric-looking value among keys, else returns def.
func num(raw map[string]any, def int, keys ...string) int {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		case string:
			var n int
			if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil {
				return n
			}
		}
	}
	return def
}

func boolean(raw map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case bool:
			return v
		case string:
			if strings.EqualFold(v, "true") || v == "1" {
				return true
			}
		}
	}
	return false
}

func strSlice(raw map[string]any, keys ...string) []string {
	for _, k := range keys {
		items, ok := raw[k].([]any)
		if !ok {
			continue
		}
		var out []string
		for _, it := range items {
			if s, ok := it.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func strMap(raw map[string]any, keys ...string) map[string]string {
	for _, k := range keys {
		m, ok := raw[k].(map[string]any)
		if !ok {
			continue
		}
		out := make(map[string]string, len(m))
		for key, val := range m {
			if s, ok := val.(string); ok {
				out[key] = s
			} else {
				out[key] = fmt.Sprintf("%v", val)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

func draft(raw map[string]any) *ProfileDraft {
	src, ok := raw["profile"].(map[string]any)
	if !ok {
		// Draft fields may also sit at the top level of the record.
		src = raw
	}
	d := &ProfileDraft{
		ID:           Slug(str(src, "id", "agent_id", "agentId")),
		Name:         strings.TrimSpace(str(src, "name", "human_name", "title")),
		Description:  strings.TrimSpace(str(src, "description", "desc")),
		Provider:     strings.ToLower(strings.TrimSpace(str(src, "provider", "kind"))),
		Model:        strings.TrimSpace(str(src, "model")),
		SystemPrompt: strings.TrimSpace(str(src, "system_prompt", "prompt", "base_prompt", "systemPrompt")),
		Metadata:     strMap(src, "metadata", "meta"),
	}
	if d.ID == "" && d.Name == "" {
		return nil
	}
	return d
}

func spawnSpecs(raw map[string]any) []SpawnSpec {
	items, ok := raw["agents"].([]any)
	if !ok {
		return nil
	}
	var out []SpawnSpec
	for _, it := range items {
		rec, ok := it.(map[string]any)
		if !ok {
			continue
		}
		spec := SpawnSpec{
			AgentID: Slug(str(rec, "agent_id", "agent", "agentId", "id")),
			Goal:    strings.TrimSpace(str(rec, "goal", "task", "prompt")),
		}
		if spec.AgentID != "" && spec.Goal != "" {
			out = append(out, spec)
		}
	}
	return out
}
