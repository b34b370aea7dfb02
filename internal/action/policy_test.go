package action

import "testing"

func TestDefaultAllowlist_ToolContribution(t *testing.T) {
	al := DefaultAllowlist([]Tool{
		{ID: "webber", ActionTypes: []string{"web_lookup", "agent_run"}},
	})
	if !al.IsAllowed(Action{Type: TypeRunAgent}) {
		t.Error("run_agent should be allowed by default")
	}
	if !al.IsAllowed(Action{Type: Type("web_lookup")}) {
		t.Error("tool-contributed tag should be allowed")
	}
	if al.IsAllowed(Action{Type: Type("")}) {
		t.Error("empty type must never be allowed")
	}
	if al.IsAllowed(Action{Type: Type("delete_everything")}) {
		t.Error("unknown tag should not be allowed")
	}
}

func TestNeedsApproval_RiskThresholds(t *testing.T) {
	tests := []struct {
		name     string
		a        Action
		ac       ApprovalContext
		want     bool
	}{
		{
			"default threshold L3 blocks L3",
			Action{Type: TypeRunAgent, Risk: RiskL3},
			ApprovalContext{},
			true,
		},
		{
			"default threshold L3 passes L2",
			Action{Type: TypeRunAgent, Risk: RiskL2},
			ApprovalContext{},
			false,
		},
		{
			"configured L2 threshold blocks L2",
			Action{Type: TypeProposeAgent, Risk: RiskL2},
			ApprovalContext{Approval: ApprovalPolicy{RequireForRisk: []Risk{RiskL2}}},
			true,
		},
		{
			"pre-approved skips gate",
			Action{Type: TypeRunAgent, Risk: RiskL3, PreApproved: true},
			ApprovalContext{},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := NeedsApproval(tt.a, tt.ac)
			if got != tt.want {
				t.Errorf("NeedsApproval = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNeedsApproval_FileWriteRule(t *testing.T) {
	ac := ApprovalContext{
		Approval: ApprovalPolicy{RequireForRisk: []Risk{RiskL3}, RequireFileWrite: true},
		Provider: "coder",
	}
	need, reason := NeedsApproval(Action{Type: TypeRunAgent, AgentID: "coder", Risk: RiskL1}, ac)
	if !need {
		t.Fatal("coder run with require_file_write should need approval")
	}
	if reason == "" {
		t.Error("expected a reason mentioning the file-write policy")
	}

	// Same action, researcher provider: no approval needed.
	ac.Provider = "researcher"
	if need, _ := NeedsApproval(Action{Type: TypeRunAgent, Risk: RiskL1}, ac); need {
		t.Error("researcher run should not trip the file-write rule")
	}

	// Non-run_agent actions are exempt from the file-write rule.
	ac.Provider = "coder"
	if need, _ := NeedsApproval(Action{Type: TypeSummarize, Risk: RiskL0}, ac); need {
		t.Error("summarize should not trip the file-write rule")
	}
}

func TestEnabledIDs(t *testing.T) {
	catalog := []string{"router", "coder", "researcher"}
	tests := []struct {
		name string
		sel  SetSelection
		cat  []string
		want []string
	}{
		{"all enabled", SetSelection{Mode: "all_enabled"}, catalog, []string{"router", "coder", "researcher"}},
		{"disabled removed", SetSelection{Mode: "all_enabled", Disabled: []string{"coder"}}, catalog, []string{"router", "researcher"}},
		{"selected intersects", SetSelection{Mode: "selected", Selected: []string{"coder", "ghost"}}, catalog, []string{"coder"}},
		{"empty falls back to router", SetSelection{Mode: "selected", Selected: []string{"ghost"}}, catalog, []string{"router"}},
		{"empty without router prefers coder", SetSelection{Mode: "selected"}, []string{"coder", "researcher"}, []string{"coder"}},
		{"empty catalog tail", SetSelection{Mode: "selected"}, []string{"zeta"}, []string{"zeta"}},
		{"nothing at all", SetSelection{Mode: "all_enabled"}, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.sel.EnabledIDs(tt.cat)
			if len(got) != len(tt.want) {
				t.Fatalf("EnabledIDs = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("EnabledIDs = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}
