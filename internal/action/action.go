package action

import "time"

// Type identifies an action variant.
type Type string

const (
	TypeRunAgent              Type = "run_agent"
	TypeProposeAgent          Type = "propose_agent"
	TypeNeedMoreDetail        Type = "need_more_detail"
	TypeOpenContext           Type = "open_context"
	TypeSummarize             Type = "summarize"
	TypeSearchPublicAgents    Type = "search_public_agents"
	TypeInstallAgentBlueprint Type = "install_agent_blueprint"
	TypePublishAgent          Type = "publish_agent"
	TypeEnableAgent           Type = "enable_agent"
	TypeDisableAgent          Type = "disable_agent"
	TypeEnableTool            Type = "enable_tool"
	TypeDisableTool           Type = "disable_tool"
	TypeListAgents            Type = "list_agents"
	TypeListTools             Type = "list_tools"
	TypeCreateAgent           Type = "create_agent"
	TypeUpdateAgent           Type = "update_agent"
	TypeGetStatus             Type = "get_status"
	TypeInterrupt             Type = "interrupt"
	TypeSpawnAgents           Type = "spawn_agents"
)

// SpawnSpec is one child agent request inside a spawn_agents action.
type SpawnSpec struct {
	AgentID string `json:"agent_id"`
	Goal    string `json:"goal"`
}

// ProfileDraft carries agent profile fields for propose/create/update actions.
// Canonical field names only; alias folding happens in the normalizer.
type ProfileDraft struct {
	ID           string            `json:"id,omitempty"`
	Name         string            `json:"name,omitempty"`
	Description  string            `json:"description,omitempty"`
	Provider     string            `json:"provider,omitempty"`
	Model        string            `json:"model,omitempty"`
	SystemPrompt string            `json:"system_prompt,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Action is one typed, validated operation in a plan. Only the fields for
// the variant named by Type are meaningful; everything else stays zero.
type Action struct {
	Type        Type `json:"type"`
	Risk        Risk `json:"risk"`
	PreApproved bool `json:"pre_approved,omitempty"`

	// run_agent
	AgentID string            `json:"agent_id,omitempty"`
	Goal    string            `json:"goal,omitempty"`
	Inputs  map[string]string `json:"inputs,omitempty"`

	// propose_agent / create_agent / update_agent
	Profile *ProfileDraft     `json:"profile,omitempty"`
	Patch   map[string]string `json:"patch,omitempty"`
	Format  string            `json:"format,omitempty"`

	// need_more_detail
	ContextSetID string   `json:"context_set_id,omitempty"`
	NodeIDs      []string `json:"node_ids,omitempty"`
	Depth        int      `json:"depth,omitempty"`
	MaxChars     int      `json:"max_chars,omitempty"`

	// open_context
	Scope string `json:"scope,omitempty"`

	// summarize
	Hint string `json:"hint,omitempty"`

	// search_public_agents
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`

	// install_agent_blueprint
	BlueprintID     string `json:"blueprint_id,omitempty"`
	PublicNodeID    string `json:"public_node_id,omitempty"`
	AgentIDOverride string `json:"agent_id_override,omitempty"`

	// publish_agent
	AgentNodeID string `json:"agent_node_id,omitempty"`

	// enable_tool / disable_tool
	ToolID string `json:"tool_id,omitempty"`

	// list_agents / list_tools
	IncludeDisabled bool `json:"include_disabled,omitempty"`

	// get_status
	Detail string `json:"detail,omitempty"`

	// interrupt
	Mode string `json:"mode,omitempty"`
	Note string `json:"note,omitempty"`

	// spawn_agents
	Summary     string      `json:"summary,omitempty"`
	Agents      []SpawnSpec `json:"agents,omitempty"`
	MaxParallel int         `json:"max_parallel,omitempty"`
}

// Plan is a normalized action plan: reason + ordered bounded actions.
type Plan struct {
	Reason             string   `json:"reason"`
	Actions            []Action `json:"actions"`
	FinalResponseStyle string   `json:"final_response_style"`
}

// Status values for per-action results.
const (
	StatusOK      = "ok"
	StatusSkip    = "skip"
	StatusBlocked = "blocked"
	StatusError   = "error"
)

// Result is the structured per-action record appended during execution.
type Result struct {
	Label  string `json:"label"`
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

// Output is the user-visible envelope produced by an executed action.
type Output struct {
	AgentID  string            `json:"agent_id,omitempty"`
	Provider string            `json:"provider,omitempty"`
	Mode     string            `json:"mode,omitempty"`
	Text     string            `json:"text,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Tool is a declared capability with action-type tags and a risk level.
type Tool struct {
	ID          string   `json:"id"`
	Name        string   `json:"name,omitempty"`
	ActionTypes []string `json:"action_types,omitempty"`
	Risk        Risk     `json:"risk"`
}

// SetSelection selects a subset of a catalog (agents or tools).
type SetSelection struct {
	Mode     string   `json:"mode"` // "all_enabled" or "selected"
	Selected []string `json:"selected,omitempty"`
	Disabled []string `json:"disabled,omitempty"`
}

// Budget caps the work one run may perform.
type Budget struct {
	MaxActions int  `json:"max_actions"`
	MaxChars   int  `json:"max_chars,omitempty"`
	MaxRisk    Risk `json:"max_risk"`
}

// ApprovalPolicy decides which actions pause for operator approval.
type ApprovalPolicy struct {
	RequireForRisk   []Risk `json:"require_for_risk,omitempty"`
	RequireFileWrite bool   `json:"require_file_write,omitempty"`
}

// Policies holds miscellaneous per-job policy switches.
type Policies struct {
	ForbidChatGPTPlannerByDefault bool `json:"forbid_chatgpt_planner_by_default,omitempty"`
}

// JobConfig is the per-job policy snapshot stored as a job_config resource.
type JobConfig struct {
	JobID              string         `json:"job_id"`
	Mode               string         `json:"mode"` // fixed "supervisor"
	FinalResponseStyle string         `json:"final_response_style"`
	Participants       []string       `json:"participants,omitempty"`
	AgentSet           SetSelection   `json:"agent_set"`
	ToolSet            SetSelection   `json:"tool_set"`
	AllowActions       []string       `json:"allow_actions,omitempty"`
	Budget             Budget         `json:"budget"`
	Approval           ApprovalPolicy `json:"approval"`
	Policies           Policies       `json:"policies"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// DefaultMaxActions caps a plan when the job config does not say otherwise.
const DefaultMaxActions = 4

// DefaultJobConfig returns the policy snapshot used until a job sets its own.
func DefaultJobConfig(jobID string) JobConfig {
	return JobConfig{
		JobID:              jobID,
		Mode:               "supervisor",
		FinalResponseStyle: "concise",
		AgentSet:           SetSelection{Mode: "all_enabled"},
		ToolSet:            SetSelection{Mode: "all_enabled"},
		Budget:             Budget{MaxActions: DefaultMaxActions, MaxRisk: RiskL3},
		Approval:           ApprovalPolicy{RequireForRisk: []Risk{RiskL3}},
		Policies:           Policies{ForbidChatGPTPlannerByDefault: true},
		UpdatedAt:          time.Now().UTC(),
	}
}

// EnabledIDs resolves the effective enabled id set for a catalog:
// catalog minus disabled, intersected with selected when mode is "selected".
// An empty result falls back to a deterministic default, preferring
// "router", then "coder", then the first catalog entry.
func (s SetSelection) EnabledIDs(catalog []string) []string {
	disabled := make(map[string]bool, len(s.Disabled))
	for _, id := range s.Disabled {
		disabled[id] = true
	}

	var enabled []string
	if s.Mode == "selected" {
		inCatalog := make(map[string]bool, len(catalog))
		for _, id := range catalog {
			inCatalog[id] = true
		}
		for _, id := range s.Selected {
			if inCatalog[id] && !disabled[id] {
				enabled = append(enabled, id)
			}
		}
	} else {
		for _, id := range catalog {
			if !disabled[id] {
				enabled = append(enabled, id)
			}
		}
	}

	if len(enabled) > 0 {
		return enabled
	}
	for _, pref := range []string{"router", "coder"} {
		for _, id := range catalog {
			if id == pref {
				return []string{pref}
			}
		}
	}
	if len(catalog) > 0 {
		return []string{catalog[0]}
	}
	return nil
}
