package planner

import (
	"reflect"
	"testing"

	"github.com/crewmesh/overseer/internal/action"
	"github.com/crewmesh/overseer/internal/agents"
)

func testCatalog() *agents.Catalog {
	router := &agents.Profile{ID: "router", Provider: agents.ProviderPlanner}
	coder := &agents.Profile{ID: "coder", Provider: agents.ProviderCoder}
	scout := &agents.Profile{ID: "scout", Provider: agents.ProviderResearcher}
	return &agents.Catalog{
		Agents: []*agents.Profile{router, coder, scout},
		ByID:   map[string]*agents.Profile{"router": router, "coder": coder, "scout": scout},
	}
}

func TestMentionedIDs(t *testing.T) {
	got := MentionedIDs("ask @Scout and agent:coder, then @scout again")
	want := []string{"scout", "coder"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MentionedIDs = %v, want %v", got, want)
	}
}

func TestFallback_Classification(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		wantType action.Type
		check    func(t *testing.T, a action.Action)
	}{
		{
			name: "list agents", msg: "list agents please", wantType: action.TypeListAgents,
		},
		{
			name: "list tools with disabled", msg: "show tools including disabled ones", wantType: action.TypeListTools,
			check: func(t *testing.T, a action.Action) {
				if !a.IncludeDisabled {
					t.Error("IncludeDisabled = false")
				}
			},
		},
		{
			name: "status summary", msg: "what's the status?", wantType: action.TypeGetStatus,
			check: func(t *testing.T, a action.Action) {
				if a.Detail != "summary" {
					t.Errorf("detail = %q", a.Detail)
				}
			},
		},
		{
			name: "full status", msg: "give me a full status", wantType: action.TypeGetStatus,
			check: func(t *testing.T, a action.Action) {
				if a.Detail != "full" {
					t.Errorf("detail = %q", a.Detail)
				}
			},
		},
		{
			name: "soft stop replans", msg: "stop, do something else", wantType: action.TypeInterrupt,
			check: func(t *testing.T, a action.Action) {
				if a.Mode != "replan" {
					t.Errorf("mode = %q", a.Mode)
				}
			},
		},
		{
			name: "abort cancels", msg: "abort the run", wantType: action.TypeInterrupt,
			check: func(t *testing.T, a action.Action) {
				if a.Mode != "cancel" {
					t.Errorf("mode = %q", a.Mode)
				}
			},
		},
		{
			name: "context current", msg: "show me the context", wantType: action.TypeOpenContext,
			check: func(t *testing.T, a action.Action) {
				if a.Scope != "current" {
					t.Errorf("scope = %q", a.Scope)
				}
			},
		},
		{
			name: "context global", msg: "open the global context", wantType: action.TypeOpenContext,
			check: func(t *testing.T, a action.Action) {
				if a.Scope != "global" {
					t.Errorf("scope = %q", a.Scope)
				}
			},
		},
		{
			name: "spawn with mentions", msg: "run @coder and @scout in parallel", wantType: action.TypeSpawnAgents,
			check: func(t *testing.T, a action.Action) {
				if len(a.Agents) != 2 {
					t.Errorf("spawn specs = %+v", a.Agents)
				}
			},
		},
		{
			name: "disable mentioned", msg: "disable @scout for now", wantType: action.TypeDisableAgent,
			check: func(t *testing.T, a action.Action) {
				if a.AgentID != "scout" {
					t.Errorf("agent = %q", a.AgentID)
				}
			},
		},
		{
			name: "enable mentioned", msg: "enable @scout again", wantType: action.TypeEnableAgent,
		},
		{
			name: "publish", msg: "publish @coder to the library", wantType: action.TypePublishAgent,
		},
		{
			name: "install", msg: "install @blueprint-7", wantType: action.TypeInstallAgentBlueprint,
			check: func(t *testing.T, a action.Action) {
				if a.BlueprintID != "blueprint-7" {
					t.Errorf("blueprint = %q", a.BlueprintID)
				}
			},
		},
		{
			name: "search library", msg: "search agents for scraping", wantType: action.TypeSearchPublicAgents,
		},
		{
			name: "propose", msg: "propose an agent that reviews PRs", wantType: action.TypeProposeAgent,
		},
		{
			name: "create agent", msg: "create agent @reviewer for code review", wantType: action.TypeCreateAgent,
			check: func(t *testing.T, a action.Action) {
				if a.Profile == nil || a.Profile.ID != "reviewer" {
					t.Errorf("profile = %+v", a.Profile)
				}
			},
		},
		{
			name: "update agent", msg: "update agent @scout to be more thorough", wantType: action.TypeUpdateAgent,
		},
		{
			name: "default run", msg: "fix the login bug", wantType: action.TypeRunAgent,
			check: func(t *testing.T, a action.Action) {
				if a.AgentID != "coder" {
					t.Errorf("agent = %q, want non-planner default", a.AgentID)
				}
				if a.Goal == "" {
					t.Error("goal empty")
				}
			},
		},
		{
			name: "default run honors mention", msg: "have @scout look into rate limits", wantType: action.TypeRunAgent,
			check: func(t *testing.T, a action.Action) {
				if a.AgentID != "scout" {
					t.Errorf("agent = %q", a.AgentID)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Fallback(Input{Message: tt.msg, Agents: testCatalog()})
			if len(plan.Actions) != 1 {
				t.Fatalf("plan = %+v, want one action", plan)
			}
			a := plan.Actions[0]
			if a.Type != tt.wantType {
				t.Fatalf("type = %q, want %q", a.Type, tt.wantType)
			}
			if tt.check != nil {
				tt.check(t, a)
			}
			if plan.FinalResponseStyle != "concise" {
				t.Errorf("style = %q", plan.FinalResponseStyle)
			}
		})
	}
}

func TestFallback_NoAgents(t *testing.T) {
	plan := Fallback(Input{Message: "do something"})
	if len(plan.Actions) != 1 || plan.Actions[0].Type != action.TypeSummarize {
		t.Errorf("plan = %+v, want summarize", plan)
	}
}

func TestExplicitPlannerAsk(t *testing.T) {
	if ExplicitPlannerAsk("fix the bug") {
		t.Error("plain message flagged as planner ask")
	}
	if !ExplicitPlannerAsk("use ChatGPT to draft a plan") {
		t.Error("explicit ask not detected")
	}
}
