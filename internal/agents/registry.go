package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/crewmesh/overseer/internal/action"
	"github.com/crewmesh/overseer/internal/goc"
)

// OriginLibrary marks profiles installed from the public library.
const OriginLibrary = "library"

// Catalog is the loaded agent set.
type Catalog struct {
	Agents []*Profile
	ByID   map[string]*Profile

	// lastNodeByID points at the newest profile resource per agent id,
	// used to chain upserts with NEXT_PART edges.
	lastNodeByID map[string]string
}

// IDs returns the catalog's agent ids in load order.
func (c *Catalog) IDs() []string {
	out := make([]string, 0, len(c.Agents))
	for _, a := range c.Agents {
		out = append(out, a.ID)
	}
	return out
}

// Registry loads and mutates the agent catalog backed by the "agents"
// service thread.
type Registry struct {
	mapper *goc.Mapper
}

// NewRegistry builds a registry over the given mapper.
func NewRegistry(mapper *goc.Mapper) *Registry {
	return &Registry{mapper: mapper}
}

// LocalCatalog returns the static fallback bundle as a catalog, for
// running without a knowledge store.
func LocalCatalog() *Catalog {
	cat := &Catalog{
		ByID:         make(map[string]*Profile),
		lastNodeByID: make(map[string]string),
	}
	for _, p := range localFallback() {
		cat.Agents = append(cat.Agents, p)
		cat.ByID[p.ID] = p
	}
	return cat
}

// localFallback is the static bundle used when the store yields nothing.
func localFallback() []*Profile {
	return []*Profile{
		{ID: "router", Name: "Router", Provider: ProviderPlanner,
			Description: "routes requests and drafts plans"},
		{ID: "coder", Name: "Coder", Provider: ProviderCoder,
			Description: "writes and edits code in the workspace"},
		{ID: "researcher", Name: "Researcher", Provider: ProviderResearcher,
			Description: "gathers and summarizes information"},
	}
}

// Load resolves the agent catalog: profile resources in the agents
// service thread first (latest resource per id wins), compiled context
// when includeCompiled is set and it yields profiles, static local bundle
// when the store has nothing at all.
func (r *Registry) Load(ctx context.Context, includeCompiled bool) (*Catalog, error) {
	cat := &Catalog{
		ByID:         make(map[string]*Profile),
		lastNodeByID: make(map[string]string),
	}

	st, err := r.mapper.EnsureServiceThread(ctx, goc.ServiceAgents)
	if err != nil {
		slog.Warn("agents: service thread unavailable, using local bundle", "error", err)
		for _, p := range localFallback() {
			cat.Agents = append(cat.Agents, p)
			cat.ByID[p.ID] = p
		}
		return cat, nil
	}

	resources, err := r.mapper.Client().ListResources(ctx, st.ThreadID, st.ContextSetID, "agent_profile")
	if err != nil {
		return nil, fmt.Errorf("list agent profiles: %w", err)
	}
	sort.SliceStable(resources, func(i, j int) bool {
		return resources[i].CreatedAt.Before(resources[j].CreatedAt)
	})

	for _, res := range resources {
		p := decodeProfileResource(res)
		if p == nil {
			continue
		}
		if _, known := cat.ByID[p.ID]; !known {
			cat.Agents = append(cat.Agents, p)
		} else {
			for i, prev := range cat.Agents {
				if prev.ID == p.ID {
					cat.Agents[i] = p
					break
				}
			}
		}
		cat.ByID[p.ID] = p
		cat.lastNodeByID[p.ID] = res.ID
	}

	if includeCompiled && st.ContextSetID != "" {
		if compiled, err := r.mapper.Client().GetCompiledContext(ctx, st.ContextSetID); err == nil {
			if fromCompiled := ParseProfiles(compiled); len(fromCompiled) > 0 {
				for _, p := range fromCompiled {
					if _, known := cat.ByID[p.ID]; !known {
						cat.Agents = append(cat.Agents, p)
					} else {
						if prev := cat.ByID[p.ID]; prev.Origin != "" && p.Origin == "" {
							p.Origin = prev.Origin
						}
						for i, prev := range cat.Agents {
							if prev.ID == p.ID {
								cat.Agents[i] = p
								break
							}
						}
					}
					cat.ByID[p.ID] = p
				}
			}
		} else if goc.IsFatal(err) {
			return nil, err
		}
	}

	if len(cat.Agents) == 0 {
		for _, p := range localFallback() {
			cat.Agents = append(cat.Agents, p)
			cat.ByID[p.ID] = p
		}
	}
	return cat, nil
}

// decodeProfileResource tries, in order, the payload under its known keys,
// fenced blocks in the raw text, then the raw text as a whole document.
func decodeProfileResource(res goc.Resource) *Profile {
	if res.Payload != nil {
		for _, key := range []string{"agent_profile", "agent", "profile"} {
			if inner, ok := res.Payload[key].(map[string]any); ok {
				if p := DecodeProfile(inner); p != nil {
					return p
				}
			}
		}
		if p := DecodeProfile(res.Payload); p != nil {
			return p
		}
	}
	if res.RawText != "" {
		if profiles := ParseProfiles(res.RawText); len(profiles) > 0 {
			return profiles[0]
		}
	}
	return nil
}

// Upsert appends a new profile resource for the agent and chains it to the
// previous node for that id with a NEXT_PART edge. For updates the patch
// merges onto the latest loaded profile.
func (r *Registry) Upsert(ctx context.Context, cat *Catalog, p *Profile, op string) (*Profile, error) {
	p.ID = action.Slug(p.ID)
	p.Provider = CanonicalProvider(p.Provider)
	if p.ID == "" {
		return nil, fmt.Errorf("agent profile missing id")
	}

	if prev, ok := cat.ByID[p.ID]; ok && op == "update" {
		merged := *prev
		if p.Name != "" {
			merged.Name = p.Name
		}
		if p.Description != "" {
			merged.Description = p.Description
		}
		if p.Provider != "" {
			merged.Provider = p.Provider
		}
		if p.Model != "" {
			merged.Model = p.Model
		}
		if p.Prompt != "" {
			merged.Prompt = p.Prompt
		}
		if p.Metadata != nil {
			if merged.Metadata == nil {
				merged.Metadata = make(map[string]string)
			}
			for k, v := range p.Metadata {
				merged.Metadata[k] = v
			}
		}
		p = &merged
	}
	p.FillDefaults()
	if !p.Valid() {
		return nil, fmt.Errorf("agent profile missing id or provider")
	}

	st, err := r.mapper.EnsureServiceThread(ctx, goc.ServiceAgents)
	if err != nil {
		return nil, err
	}

	prev := cat.lastNodeByID[p.ID]
	created, err := r.mapper.Client().CreateResource(ctx, goc.Resource{
		Name:         p.ID + "@" + time.Now().UTC().Format(time.RFC3339),
		Summary:      summaryLine(p),
		RawText:      p.Serialize(),
		Kind:         "agent_profile",
		ContextSetID: st.ContextSetID,
		AutoActivate: true,
		AttachTo:     prev,
		Payload: map[string]any{
			"op":            op,
			"agent_profile": profilePayload(p),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("upsert agent %s: %w", p.ID, err)
	}
	if prev != "" {
		if err := r.mapper.Client().CreateEdge(ctx, goc.Edge{
			FromID: prev, ToID: created.ID, Type: goc.EdgeTypeNextPart,
		}); err != nil {
			return nil, fmt.Errorf("chain agent %s: %w", p.ID, err)
		}
	}

	if _, known := cat.ByID[p.ID]; !known {
		cat.Agents = append(cat.Agents, p)
	} else {
		for i, existing := range cat.Agents {
			if existing.ID == p.ID {
				cat.Agents[i] = p
				break
			}
		}
	}
	cat.ByID[p.ID] = p
	cat.lastNodeByID[p.ID] = created.ID
	return p, nil
}

func profilePayload(p *Profile) map[string]any {
	out := map[string]any{
		"id":       p.ID,
		"provider": p.Provider,
	}
	if p.Name != "" {
		out["name"] = p.Name
	}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if p.Model != "" {
		out["model"] = p.Model
	}
	if p.Prompt != "" {
		out["prompt"] = p.Prompt
	}
	if p.Origin != "" {
		out["origin"] = p.Origin
	}
	if len(p.Metadata) > 0 {
		meta := make(map[string]any, len(p.Metadata))
		for k, v := range p.Metadata {
			meta[k] = v
		}
		out["metadata"] = meta
	}
	return out
}

func summaryLine(p *Profile) string {
	if p.Description != "" {
		return p.Name + ": " + p.Description
	}
	return p.Name + " (" + p.Provider + ")"
}

// SearchLibrary lists public library blueprints whose name, summary, or
// raw text contains the query (case-insensitive).
func (r *Registry) SearchLibrary(ctx context.Context, query string, limit int) ([]goc.Resource, error) {
	st, err := r.mapper.EnsureServiceThread(ctx, goc.ServiceLibrary)
	if err != nil {
		return nil, err
	}
	resources, err := r.mapper.Client().ListResources(ctx, st.ThreadID, st.ContextSetID, "")
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var out []goc.Resource
	for _, res := range resources {
		if q != "" &&
			!strings.Contains(strings.ToLower(res.Name), q) &&
			!strings.Contains(strings.ToLower(res.Summary), q) &&
			!strings.Contains(strings.ToLower(res.RawText), q) {
			continue
		}
		out = append(out, res)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// InstallBlueprint resolves a public library blueprint, repairs the
// profile it carries, applies the id override, and upserts it into the
// agents thread with a library origin mark.
func (r *Registry) InstallBlueprint(ctx context.Context, cat *Catalog, nodeID, idOverride string) (*Profile, error) {
	res, err := r.mapper.Client().GetNode(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("resolve blueprint %s: %w", nodeID, err)
	}
	p := decodeProfileResource(res)
	if p == nil {
		return nil, fmt.Errorf("blueprint %s carries no agent profile", nodeID)
	}
	if idOverride != "" {
		p.ID = action.Slug(idOverride)
	}
	p.Origin = OriginLibrary
	p.FillDefaults()
	return r.Upsert(ctx, cat, p, "install")
}

// Publish copies an agent's current profile into the public library thread.
func (r *Registry) Publish(ctx context.Context, cat *Catalog, agentID string) (goc.Resource, error) {
	agentID = action.Slug(agentID)
	p, ok := cat.ByID[agentID]
	if !ok {
		return goc.Resource{}, fmt.Errorf("unknown agent %q", agentID)
	}
	st, err := r.mapper.EnsureServiceThread(ctx, goc.ServiceLibrary)
	if err != nil {
		return goc.Resource{}, err
	}
	published := *p
	published.Origin = ""
	created, err := r.mapper.Client().CreateResource(ctx, goc.Resource{
		Name:         published.ID,
		Summary:      summaryLine(&published),
		RawText:      published.Serialize(),
		Kind:         "agent_blueprint",
		ContextSetID: st.ContextSetID,
		AutoActivate: false,
		Payload:      map[string]any{"agent_profile": profilePayload(&published)},
	})
	if err != nil {
		return goc.Resource{}, fmt.Errorf("publish agent %s: %w", agentID, err)
	}
	return created, nil
}
