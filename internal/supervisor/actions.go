package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/crewmesh/overseer/internal/action"
	"github.com/crewmesh/overseer/internal/agents"
	"github.com/crewmesh/overseer/internal/executor"
	"github.com/crewmesh/overseer/internal/goc"
	"github.com/crewmesh/overseer/internal/providers"
	"github.com/crewmesh/overseer/internal/tracing"
)

const (
	defaultSpawnParallel = 2
	maxDetailNodes       = 8
	defaultDetailChars   = 4000
)

func (s *Supervisor) registerCallbacks() {
	s.exec.Register(action.TypeRunAgent, s.cbRunAgent)
	s.exec.Register(action.TypeSpawnAgents, s.cbSpawnAgents)
	s.exec.Register(action.TypeGetStatus, s.cbGetStatus)
	s.exec.Register(action.TypeListAgents, s.cbListAgents)
	s.exec.Register(action.TypeListTools, s.cbListTools)
	s.exec.Register(action.TypeEnableAgent, s.cbEnableAgent)
	s.exec.Register(action.TypeDisableAgent, s.cbDisableAgent)
	s.exec.Register(action.TypeEnableTool, s.cbEnableTool)
	s.exec.Register(action.TypeDisableTool, s.cbDisableTool)
	s.exec.Register(action.TypeOpenContext, s.cbOpenContext)
	s.exec.Register(action.TypeNeedMoreDetail, s.cbNeedMoreDetail)
	s.exec.Register(action.TypeSummarize, s.cbSummarize)
	s.exec.Register(action.TypeSearchPublicAgents, s.cbSearchPublicAgents)
	s.exec.Register(action.TypeInstallAgentBlueprint, s.cbInstallBlueprint)
	s.exec.Register(action.TypePublishAgent, s.cbPublishAgent)
	s.exec.Register(action.TypeProposeAgent, s.cbProposeAgent)
	s.exec.Register(action.TypeCreateAgent, s.cbCreateAgent)
	s.exec.Register(action.TypeUpdateAgent, s.cbUpdateAgent)
	s.exec.Register(action.TypeInterrupt, s.cbInterrupt)
}

func mustScope(ctx context.Context) (*runScope, error) {
	sc := scopeFrom(ctx)
	if sc == nil {
		return nil, fmt.Errorf("no run scope in context")
	}
	return sc, nil
}

// runProfile executes one provider-backed agent invocation.
func (s *Supervisor) runProfile(ctx context.Context, sc *runScope, p *agents.Profile, goal string, inputs map[string]string) (*providers.Response, error) {
	prov := s.providers.Get(p.Provider)
	if prov == nil {
		return nil, fmt.Errorf("provider %q not configured", p.Provider)
	}
	resp, err := prov.Run(ctx, providers.Request{
		Prompt:  p.Prompt,
		Goal:    goal,
		Model:   p.Model,
		WorkDir: filepath.Join(s.jobs.Dir(sc.jobID), "shared"),
		Inputs:  inputs,
	})
	if err != nil {
		return nil, err
	}
	if err := s.jobs.AppendConversation(sc.jobID, "agent", resp.Text, map[string]any{
		"agent": p.ID, "provider": p.Provider,
	}); err != nil {
		return resp, nil // local record failure never fails the run
	}
	return resp, nil
}

func (s *Supervisor) cbRunAgent(ctx context.Context, a action.Action) (*action.Output, error) {
	sc, err := mustScope(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := sc.cat.ByID[a.AgentID]
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", a.AgentID)
	}

	ctx, span := tracing.StartAction(ctx, "run_agent:"+a.AgentID, int(a.Risk))
	resp, err := s.runProfile(ctx, sc, p, a.Goal, a.Inputs)
	tracing.End(span, err)
	if err != nil {
		return nil, err
	}
	return &action.Output{AgentID: p.ID, Provider: p.Provider, Text: resp.Text}, nil
}

func (s *Supervisor) cbSpawnAgents(ctx context.Context, a action.Action) (*action.Output, error) {
	sc, err := mustScope(ctx)
	if err != nil {
		return nil, err
	}
	if len(a.Agents) == 0 {
		return nil, fmt.Errorf("spawn_agents with no children")
	}
	parallel := a.MaxParallel
	if parallel <= 0 {
		parallel = defaultSpawnParallel
	}

	results := make([]string, len(a.Agents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, spec := range a.Agents {
		g.Go(func() error {
			p, ok := sc.cat.ByID[spec.AgentID]
			if !ok {
				results[i] = fmt.Sprintf("error: unknown agent %q", spec.AgentID)
				return nil
			}
			cctx, span := tracing.StartAction(gctx, "spawn:"+spec.AgentID, int(a.Risk))
			resp, err := s.runProfile(cctx, sc, p, spec.Goal, nil)
			tracing.End(span, err)
			switch {
			case err != nil && executor.IsCancelled(err):
				return err
			case err != nil:
				results[i] = "error: " + err.Error()
			default:
				results[i] = resp.Text
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fields := make(map[string]string, len(a.Agents))
	var b strings.Builder
	if a.Summary != "" {
		b.WriteString(a.Summary)
		b.WriteString("\n")
	}
	for i, spec := range a.Agents {
		fields[spec.AgentID] = truncateText(results[i], 300)
		fmt.Fprintf(&b, "\n## %s (%s)\n%s\n", spec.AgentID, spec.Goal, results[i])
	}
	return &action.Output{Mode: "spawn", Text: b.String(), Fields: fields}, nil
}

func (s *Supervisor) cbGetStatus(ctx context.Context, a action.Action) (*action.Output, error) {
	sc, err := mustScope(ctx)
	if err != nil {
		return nil, err
	}
	cs := s.sessions.Get(sc.chatID)
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s\njob: %s\n", cs.State, sc.jobID)
	fmt.Fprintf(&b, "budget: %d/%d actions used, %d blocked\n",
		cs.Budget.UsedActions, cs.Budget.MaxActions, cs.Budget.BlockedActions)
	if a.Detail == "full" {
		meta, err := s.jobs.GetMeta(sc.jobID)
		if err == nil {
			fmt.Fprintf(&b, "title: %s\ncreated: %s\n", meta.Title, meta.CreatedAt.Format("2006-01-02 15:04"))
		}
		enabled := sc.jobCfg.AgentSet.EnabledIDs(sc.cat.IDs())
		fmt.Fprintf(&b, "enabled agents: %s\n", strings.Join(enabled, ", "))
	}
	return &action.Output{Mode: "status", Text: b.String()}, nil
}

func (s *Supervisor) cbListAgents(ctx context.Context, a action.Action) (*action.Output, error) {
	sc, err := mustScope(ctx)
	if err != nil {
		return nil, err
	}
	enabled := make(map[string]bool)
	for _, id := range sc.jobCfg.AgentSet.EnabledIDs(sc.cat.IDs()) {
		enabled[id] = true
	}
	var b strings.Builder
	for _, p := range sc.cat.Agents {
		if !enabled[p.ID] && !a.IncludeDisabled {
			continue
		}
		mark := "on"
		if !enabled[p.ID] {
			mark = "off"
		}
		fmt.Fprintf(&b, "- %s [%s] (%s): %s\n", p.ID, mark, p.Provider, p.Description)
	}
	if b.Len() == 0 {
		b.WriteString("no agents")
	}
	return &action.Output{Mode: "list", Text: b.String()}, nil
}

func (s *Supervisor) cbListTools(ctx context.Context, a action.Action) (*action.Output, error) {
	sc, err := mustScope(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(s.tools))
	byID := make(map[string]action.Tool, len(s.tools))
	for _, t := range s.tools {
		ids = append(ids, t.ID)
		byID[t.ID] = t
	}
	enabled := make(map[string]bool)
	for _, id := range sc.jobCfg.ToolSet.EnabledIDs(ids) {
		enabled[id] = true
	}
	var b strings.Builder
	for _, id := range ids {
		if !enabled[id] && !a.IncludeDisabled {
			continue
		}
		mark := "on"
		if !enabled[id] {
			mark = "off"
		}
		fmt.Fprintf(&b, "- %s [%s] risk %d\n", id, mark, int(byID[id].Risk))
	}
	if b.Len() == 0 {
		b.WriteString("no tools")
	}
	return &action.Output{Mode: "list", Text: b.String()}, nil
}

// toggleSelection adds or removes an id from a selection's disabled set.
func toggleSelection(sel *action.SetSelection, id string, disable bool) {
	kept := sel.Disabled[:0]
	for _, d := range sel.Disabled {
		if d != id {
			kept = append(kept, d)
		}
	}
	sel.Disabled = kept
	if disable {
		sel.Disabled = append(sel.Disabled, id)
		sort.Strings(sel.Disabled)
	}
}

func (s *Supervisor) toggleAgent(ctx context.Context, a action.Action, disable bool) (*action.Output, error) {
	sc, err := mustScope(ctx)
	if err != nil {
		return nil, err
	}
	id := action.Slug(a.AgentID)
	if _, ok := sc.cat.ByID[id]; !ok {
		return nil, fmt.Errorf("unknown agent %q", a.AgentID)
	}
	toggleSelection(&sc.jobCfg.AgentSet, id, disable)
	if err := s.saveJobConfig(ctx, sc); err != nil {
		return nil, err
	}
	verb := "enabled"
	if disable {
		verb = "disabled"
	}
	return &action.Output{Mode: "selection", Text: fmt.Sprintf("agent %s %s", id, verb)}, nil
}

func (s *Supervisor) cbEnableAgent(ctx context.Context, a action.Action) (*action.Output, error) {
	return s.toggleAgent(ctx, a, false)
}

func (s *Supervisor) cbDisableAgent(ctx context.Context, a action.Action) (*action.Output, error) {
	return s.toggleAgent(ctx, a, true)
}

func (s *Supervisor) toggleTool(ctx context.Context, a action.Action, disable bool) (*action.Output, error) {
	sc, err := mustScope(ctx)
	if err != nil {
		return nil, err
	}
	id := action.Slug(a.ToolID)
	found := false
	for _, t := range s.tools {
		if t.ID == id {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("unknown tool %q", a.ToolID)
	}
	toggleSelection(&sc.jobCfg.ToolSet, id, disable)
	if err := s.saveJobConfig(ctx, sc); err != nil {
		return nil, err
	}
	verb := "enabled"
	if disable {
		verb = "disabled"
	}
	return &action.Output{Mode: "selection", Text: fmt.Sprintf("tool %s %s", id, verb)}, nil
}

func (s *Supervisor) cbEnableTool(ctx context.Context, a action.Action) (*action.Output, error) {
	return s.toggleTool(ctx, a, false)
}

func (s *Supervisor) cbDisableTool(ctx context.Context, a action.Action) (*action.Output, error) {
	return s.toggleTool(ctx, a, true)
}

func (s *Supervisor) cbOpenContext(ctx context.Context, a action.Action) (*action.Output, error) {
	sc, err := mustScope(ctx)
	if err != nil {
		return nil, err
	}
	if s.mapper == nil {
		return &action.Output{Mode: "context", Text: "local workspace: " + s.jobs.Dir(sc.jobID)}, nil
	}

	st := sc.st
	if a.Scope == "global" {
		if st, err = s.mapper.EnsureServiceThread(ctx, goc.ServiceGlobal); err != nil {
			return nil, err
		}
	}
	if st == nil {
		return nil, fmt.Errorf("job %s has no store mapping", sc.jobID)
	}
	link, err := s.mapper.UILink(ctx, st)
	if err != nil {
		return nil, err
	}
	return &action.Output{Mode: "context", Text: link}, nil
}

func (s *Supervisor) cbNeedMoreDetail(ctx context.Context, a action.Action) (*action.Output, error) {
	if _, err := mustScope(ctx); err != nil {
		return nil, err
	}
	if s.mapper == nil {
		return nil, fmt.Errorf("context expansion requires the knowledge store")
	}
	maxChars := a.MaxChars
	if maxChars <= 0 {
		maxChars = defaultDetailChars
	}

	var b strings.Builder
	nodeIDs := a.NodeIDs
	if len(nodeIDs) > maxDetailNodes {
		nodeIDs = nodeIDs[:maxDetailNodes]
	}
	for _, id := range nodeIDs {
		res, err := s.mapper.Client().GetNode(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("expand node %s: %w", id, err)
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", res.Name, res.RawText)
	}
	if len(nodeIDs) == 0 && a.ContextSetID != "" {
		compiled, err := s.mapper.Client().GetCompiledContext(ctx, a.ContextSetID)
		if err != nil {
			return nil, err
		}
		b.WriteString(compiled)
	}
	text := b.String()
	if len(text) > maxChars {
		text = text[:maxChars]
	}
	return &action.Output{Mode: "detail", Text: text}, nil
}

func (s *Supervisor) cbSummarize(ctx context.Context, a action.Action) (*action.Output, error) {
	sc, err := mustScope(ctx)
	if err != nil {
		return nil, err
	}
	entries, err := s.jobs.TailConversation(sc.jobID, 12)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	if a.Hint != "" {
		b.WriteString("focus: " + a.Hint + "\n\n")
	}
	if len(entries) == 0 {
		b.WriteString("nothing to summarize yet")
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s\n", e.Role, truncateText(e.Text, 160))
	}
	return &action.Output{Mode: "summary", Text: b.String()}, nil
}

func (s *Supervisor) cbSearchPublicAgents(ctx context.Context, a action.Action) (*action.Output, error) {
	if _, err := mustScope(ctx); err != nil {
		return nil, err
	}
	if s.registry == nil {
		return nil, fmt.Errorf("agent library requires the knowledge store")
	}
	limit := a.Limit
	if limit <= 0 {
		limit = 5
	}
	found, err := s.registry.SearchLibrary(ctx, a.Query, limit)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return &action.Output{Mode: "search", Text: "no blueprints matched " + a.Query}, nil
	}
	var b strings.Builder
	for _, res := range found {
		fmt.Fprintf(&b, "- %s (%s): %s\n", res.Name, res.ID, res.Summary)
	}
	return &action.Output{Mode: "search", Text: b.String()}, nil
}

func (s *Supervisor) cbInstallBlueprint(ctx context.Context, a action.Action) (*action.Output, error) {
	sc, err := mustScope(ctx)
	if err != nil {
		return nil, err
	}
	if s.registry == nil {
		return nil, fmt.Errorf("agent library requires the knowledge store")
	}
	nodeID := a.BlueprintID
	if nodeID == "" {
		nodeID = a.PublicNodeID
	}
	if nodeID == "" {
		return nil, fmt.Errorf("install_agent_blueprint without a blueprint id")
	}
	p, err := s.registry.InstallBlueprint(ctx, sc.cat, nodeID, a.AgentIDOverride)
	if err != nil {
		return nil, err
	}
	return &action.Output{
		AgentID: p.ID, Mode: "install",
		Text: fmt.Sprintf("installed %s (%s) from the library", p.ID, p.Provider),
	}, nil
}

func (s *Supervisor) cbPublishAgent(ctx context.Context, a action.Action) (*action.Output, error) {
	sc, err := mustScope(ctx)
	if err != nil {
		return nil, err
	}
	if s.registry == nil {
		return nil, fmt.Errorf("agent library requires the knowledge store")
	}
	created, err := s.registry.Publish(ctx, sc.cat, a.AgentID)
	if err != nil {
		return nil, err
	}
	return &action.Output{
		AgentID: action.Slug(a.AgentID), Mode: "publish",
		Text: fmt.Sprintf("published %s as blueprint %s", a.AgentID, created.ID),
	}, nil
}

// profileFromDraft converts the plan's draft fields into a profile.
func profileFromDraft(d *action.ProfileDraft) *agents.Profile {
	if d == nil {
		return &agents.Profile{}
	}
	return &agents.Profile{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Provider:    d.Provider,
		Model:       d.Model,
		Prompt:      d.SystemPrompt,
		Metadata:    d.Metadata,
	}
}

func (s *Supervisor) cbProposeAgent(ctx context.Context, a action.Action) (*action.Output, error) {
	if _, err := mustScope(ctx); err != nil {
		return nil, err
	}
	p := profileFromDraft(a.Profile)
	p.FillDefaults()
	if !p.Valid() {
		return nil, fmt.Errorf("proposal missing an agent id")
	}
	text := fmt.Sprintf("proposed agent %s (provider %s): %s\nsay \"create agent %s\" to confirm",
		p.ID, p.Provider, p.Description, p.ID)
	return &action.Output{AgentID: p.ID, Mode: "propose", Text: text}, nil
}

func (s *Supervisor) cbCreateAgent(ctx context.Context, a action.Action) (*action.Output, error) {
	sc, err := mustScope(ctx)
	if err != nil {
		return nil, err
	}
	if s.registry == nil {
		return nil, fmt.Errorf("agent registry requires the knowledge store")
	}
	p, err := s.registry.Upsert(ctx, sc.cat, profileFromDraft(a.Profile), "create")
	if err != nil {
		return nil, err
	}
	return &action.Output{
		AgentID: p.ID, Mode: "create",
		Text: fmt.Sprintf("created agent %s (provider %s)", p.ID, p.Provider),
	}, nil
}

func (s *Supervisor) cbUpdateAgent(ctx context.Context, a action.Action) (*action.Output, error) {
	sc, err := mustScope(ctx)
	if err != nil {
		return nil, err
	}
	if s.registry == nil {
		return nil, fmt.Errorf("agent registry requires the knowledge store")
	}
	patch := &agents.Profile{ID: a.AgentID}
	for key, val := range a.Patch {
		switch key {
		case "name":
			patch.Name = val
		case "description":
			patch.Description = val
		case "provider":
			patch.Provider = val
		case "model":
			patch.Model = val
		case "prompt", "system_prompt":
			patch.Prompt = val
		default:
			if patch.Metadata == nil {
				patch.Metadata = make(map[string]string)
			}
			patch.Metadata[key] = val
		}
	}
	p, err := s.registry.Upsert(ctx, sc.cat, patch, "update")
	if err != nil {
		return nil, err
	}
	return &action.Output{
		AgentID: p.ID, Mode: "update",
		Text: fmt.Sprintf("updated agent %s", p.ID),
	}, nil
}

func (s *Supervisor) cbInterrupt(ctx context.Context, a action.Action) (*action.Output, error) {
	if _, err := mustScope(ctx); err != nil {
		return nil, err
	}
	text := "run interrupted"
	if a.Mode != "" {
		text += " (" + a.Mode + ")"
	}
	if a.Note != "" {
		text += ": " + a.Note
	}
	return &action.Output{Mode: "interrupt", Text: text}, nil
}
