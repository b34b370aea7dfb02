package action

// defaultAllowed is the fixed allowlist of action tags. Tools may contribute
// additional tags via their declared action_types.
var defaultAllowed = []Type{
	TypeRunAgent,
	TypeProposeAgent,
	TypeNeedMoreDetail,
	TypeOpenContext,
	TypeSummarize,
	TypeSearchPublicAgents,
	TypeInstallAgentBlueprint,
	TypePublishAgent,
	TypeEnableAgent,
	TypeDisableAgent,
	TypeEnableTool,
	TypeDisableTool,
	TypeListAgents,
	TypeListTools,
	TypeCreateAgent,
	TypeUpdateAgent,
	TypeGetStatus,
	TypeInterrupt,
	TypeSpawnAgents,
}

// Allowlist is a set of permitted action tags.
type Allowlist map[Type]bool

// DefaultAllowlist returns the fixed default set plus every tag contributed
// by the given tools' declared action types.
func DefaultAllowlist(tools []Tool) Allowlist {
	set := make(Allowlist, len(defaultAllowed))
	for _, t := range defaultAllowed {
		set[t] = true
	}
	for _, tool := range tools {
		for _, tag := range tool.ActionTypes {
			if canonical, ok := typeSynonyms[tag]; ok {
				set[canonical] = true
			} else if tag != "" {
				set[Type(tag)] = true
			}
		}
	}
	return set
}

// IsAllowed reports whether the action's type is in the allowlist.
// Empty types are never allowed.
func (al Allowlist) IsAllowed(a Action) bool {
	if a.Type == "" {
		return false
	}
	return al[a.Type]
}

// ApprovalContext carries the inputs the approval gate needs beyond the
// action itself.
type ApprovalContext struct {
	Approval ApprovalPolicy
	Provider string // resolved provider of the target agent, "" if none
}

// NeedsApproval implements the per-action approval gate:
//   - pre-approved actions never re-ask;
//   - approval is required when the action's risk is >= any configured
//     require_for_risk threshold (default {L3});
//   - a run_agent resolving to the code-writing provider requires approval
//     when require_file_write is set.
func NeedsApproval(a Action, ac ApprovalContext) (bool, string) {
	if a.PreApproved {
		return false, ""
	}
	thresholds := ac.Approval.RequireForRisk
	if len(thresholds) == 0 {
		thresholds = []Risk{RiskL3}
	}
	for _, t := range thresholds {
		if a.Risk >= t {
			return true, "risk " + a.Risk.String() + " requires approval"
		}
	}
	if ac.Approval.RequireFileWrite && a.Type == TypeRunAgent && ac.Provider == "coder" {
		return true, "file-write policy: coder runs require approval"
	}
	return false, ""
}
