// Package agents maintains the agent catalog: append-only profile
// resources in the knowledge store, decoded leniently from JSON or YAML,
// latest profile per id wins.
package agents

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/crewmesh/overseer/internal/action"
)

// Provider names after aliasing.
const (
	ProviderPlanner    = "planner"
	ProviderCoder      = "coder"
	ProviderResearcher = "researcher"
)

// providerAliases folds the provider keys seen in the wild onto the three
// canonical providers. Unknown keys pass through lowercased.
var providerAliases = map[string]string{
	"planner":    ProviderPlanner,
	"chatgpt":    ProviderPlanner,
	"gpt":        ProviderPlanner,
	"openai":     ProviderPlanner,
	"router":     ProviderPlanner,
	"coder":      ProviderCoder,
	"code":       ProviderCoder,
	"claude":     ProviderCoder,
	"claudecode": ProviderCoder,
	"researcher": ProviderResearcher,
	"research":   ProviderResearcher,
	"gemini":     ProviderResearcher,
	"web":        ProviderResearcher,
}

// CanonicalProvider maps a raw provider key to its canonical name.
func CanonicalProvider(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "")
	key = strings.ReplaceAll(key, "_", "")
	if p, ok := providerAliases[key]; ok {
		return p
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

// Profile is one agent definition. Profiles are append-only in the store;
// the latest resource with a given id wins.
type Profile struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Provider    string            `json:"provider" yaml:"provider"`
	Model       string            `json:"model,omitempty" yaml:"model,omitempty"`
	Prompt      string            `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Origin      string            `json:"origin,omitempty" yaml:"origin,omitempty"`
}

// FillDefaults repairs a partially specified profile in place.
func (p *Profile) FillDefaults() {
	p.ID = action.Slug(p.ID)
	p.Provider = CanonicalProvider(p.Provider)
	if p.Provider == "" {
		p.Provider = ProviderCoder
	}
	if p.Name == "" {
		p.Name = p.ID
	}
}

// Valid reports whether the profile has the mandatory fields.
func (p *Profile) Valid() bool {
	return p != nil && p.ID != "" && p.Provider != ""
}

// Serialize renders the profile as the raw text stored in the graph.
func (p *Profile) Serialize() string {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

// field alias tables for lenient decoding.
var (
	idKeys       = []string{"id", "agent_id", "agentId", "slug"}
	nameKeys     = []string{"name", "title", "display_name"}
	descKeys     = []string{"description", "desc", "summary", "about"}
	providerKeys = []string{"provider", "engine", "backend", "runtime"}
	modelKeys    = []string{"model", "model_name"}
	promptKeys   = []string{"prompt", "base_prompt", "system_prompt", "systemPrompt", "system", "instructions"}
)

func aliasStr(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

// DecodeProfile builds a Profile from an untyped record, folding field
// aliases onto canonical names. Returns nil when no usable id is present.
func DecodeProfile(m map[string]any) *Profile {
	if m == nil {
		return nil
	}
	p := &Profile{
		ID:          action.Slug(aliasStr(m, idKeys)),
		Name:        aliasStr(m, nameKeys),
		Description: aliasStr(m, descKeys),
		Provider:    CanonicalProvider(aliasStr(m, providerKeys)),
		Model:       aliasStr(m, modelKeys),
		Prompt:      aliasStr(m, promptKeys),
	}
	if p.ID == "" {
		return nil
	}
	if meta, ok := m["metadata"].(map[string]any); ok {
		p.Metadata = make(map[string]string, len(meta))
		for k, v := range meta {
			if s, ok := v.(string); ok {
				p.Metadata[k] = s
			}
		}
	}
	if origin, ok := m["origin"].(string); ok {
		p.Origin = origin
	}
	p.FillDefaults()
	return p
}

// ParseProfiles extracts every agent profile found in a text document.
// It tries fenced code blocks first (JSON or YAML), then the whole body.
// yaml.v3 accepts JSON input, so one decoder covers both dialects.
func ParseProfiles(text string) []*Profile {
	var out []*Profile
	seen := make(map[string]bool)
	add := func(p *Profile) {
		if p != nil && p.Valid() && !seen[p.ID] {
			seen[p.ID] = true
			out = append(out, p)
		}
	}

	for _, block := range fencedBlocks(text) {
		for _, p := range decodeDoc(block) {
			add(p)
		}
	}
	if len(out) == 0 {
		for _, p := range decodeDoc(text) {
			add(p)
		}
	}
	return out
}

// decodeDoc decodes one document that may be a single profile object or a
// list of them (bare list, or wrapped under "agents"/"profiles").
func decodeDoc(doc string) []*Profile {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return nil
	}

	var asMap map[string]any
	if err := yaml.Unmarshal([]byte(doc), &asMap); err == nil && asMap != nil {
		for _, key := range []string{"agents", "profiles"} {
			if list, ok := asMap[key].([]any); ok {
				return decodeList(list)
			}
		}
		if p := DecodeProfile(asMap); p != nil {
			return []*Profile{p}
		}
		return nil
	}

	var asList []any
	if err := yaml.Unmarshal([]byte(doc), &asList); err == nil {
		return decodeList(asList)
	}
	return nil
}

func decodeList(list []any) []*Profile {
	var out []*Profile
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			if p := DecodeProfile(m); p != nil {
				out = append(out, p)
			}
		}
	}
	return out
}

// fencedBlocks returns the contents of ``` fenced blocks, language tags
// stripped.
func fencedBlocks(text string) []string {
	var blocks []string
	lines := strings.Split(text, "\n")
	var cur []string
	in := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if in {
				blocks = append(blocks, strings.Join(cur, "\n"))
				cur = nil
			}
			in = !in
			continue
		}
		if in {
			cur = append(cur, line)
		}
	}
	return blocks
}
