package agents

import (
	"testing"
)

func TestCanonicalProvider(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"planner", "planner"},
		{"ChatGPT", "planner"},
		{"openai", "planner"},
		{"coder", "coder"},
		{"Claude-Code", "coder"},
		{"claude", "coder"},
		{"researcher", "researcher"},
		{"gemini", "researcher"},
		{"custom-llm", "custom-llm"},
		{"  CODE  ", "coder"},
	}
	for _, tt := range tests {
		if got := CanonicalProvider(tt.in); got != tt.want {
			t.Errorf("CanonicalProvider(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeProfile_Aliases(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want Profile
	}{
		{
			name: "canonical keys",
			in: map[string]any{
				"id": "helper", "name": "Helper", "provider": "coder",
				"prompt": "be helpful",
			},
			want: Profile{ID: "helper", Name: "Helper", Provider: "coder", Prompt: "be helpful"},
		},
		{
			name: "aliased keys",
			in: map[string]any{
				"agent_id": "My Agent", "engine": "chatgpt",
				"system_prompt": "plan things", "desc": "a planner",
			},
			want: Profile{ID: "my-agent", Name: "my-agent", Provider: "planner",
				Prompt: "plan things", Description: "a planner"},
		},
		{
			name: "camelCase id",
			in:   map[string]any{"agentId": "x1", "base_prompt": "go"},
			want: Profile{ID: "x1", Name: "x1", Provider: "coder", Prompt: "go"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeProfile(tt.in)
			if got == nil {
				t.Fatal("DecodeProfile returned nil")
			}
			if got.ID != tt.want.ID || got.Name != tt.want.Name ||
				got.Provider != tt.want.Provider || got.Prompt != tt.want.Prompt ||
				got.Description != tt.want.Description {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeProfile_NoID(t *testing.T) {
	if got := DecodeProfile(map[string]any{"name": "anon", "provider": "coder"}); got != nil {
		t.Errorf("profile without id should be nil, got %+v", got)
	}
}

func TestParseProfiles_FencedJSON(t *testing.T) {
	text := "Here is the agent:\n```json\n{\"id\": \"scout\", \"provider\": \"researcher\"}\n```\ndone."
	got := ParseProfiles(text)
	if len(got) != 1 || got[0].ID != "scout" || got[0].Provider != "researcher" {
		t.Errorf("profiles = %+v", got)
	}
}

func TestParseProfiles_FencedYAML(t *testing.T) {
	text := "```yaml\nid: scribe\nprovider: claude\nprompt: |\n  write docs\n  carefully\n```"
	got := ParseProfiles(text)
	if len(got) != 1 {
		t.Fatalf("profiles = %+v", got)
	}
	if got[0].ID != "scribe" || got[0].Provider != "coder" {
		t.Errorf("profile = %+v", got[0])
	}
	if got[0].Prompt != "write docs\ncarefully\n" {
		t.Errorf("block scalar prompt = %q", got[0].Prompt)
	}
}

func TestParseProfiles_WholeDocList(t *testing.T) {
	text := "agents:\n  - id: a1\n    provider: coder\n  - id: a2\n    provider: researcher\n"
	got := ParseProfiles(text)
	if len(got) != 2 || got[0].ID != "a1" || got[1].ID != "a2" {
		t.Errorf("profiles = %+v", got)
	}
}

func TestParseProfiles_DedupeByID(t *testing.T) {
	text := "```json\n{\"id\": \"dup\", \"provider\": \"coder\"}\n```\n" +
		"```json\n{\"id\": \"dup\", \"provider\": \"researcher\"}\n```"
	got := ParseProfiles(text)
	if len(got) != 1 {
		t.Fatalf("profiles = %+v, want first occurrence only", got)
	}
	if got[0].Provider != "coder" {
		t.Errorf("provider = %q, want first block kept", got[0].Provider)
	}
}

func TestParseProfiles_Garbage(t *testing.T) {
	if got := ParseProfiles("no structured content here"); len(got) != 0 {
		t.Errorf("profiles = %+v, want none", got)
	}
}

func TestFillDefaults(t *testing.T) {
	p := &Profile{ID: "  Mixed Case  "}
	p.FillDefaults()
	if p.ID != "mixed-case" {
		t.Errorf("id = %q", p.ID)
	}
	if p.Provider != ProviderCoder {
		t.Errorf("provider = %q, want coder default", p.Provider)
	}
	if p.Name != "mixed-case" {
		t.Errorf("name = %q", p.Name)
	}
}
