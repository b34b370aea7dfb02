// Package supervisor is the runtime core: it turns each drained chat
// message into a plan, executes it under policy, and reports back to the
// channel. Jobs, sessions, the agent registry, and the knowledge-store
// mapping all meet here.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/crewmesh/overseer/internal/action"
	"github.com/crewmesh/overseer/internal/agents"
	"github.com/crewmesh/overseer/internal/bus"
	"github.com/crewmesh/overseer/internal/config"
	"github.com/crewmesh/overseer/internal/executor"
	"github.com/crewmesh/overseer/internal/goc"
	"github.com/crewmesh/overseer/internal/jobs"
	"github.com/crewmesh/overseer/internal/planner"
	"github.com/crewmesh/overseer/internal/providers"
	"github.com/crewmesh/overseer/internal/runmgr"
	"github.com/crewmesh/overseer/internal/session"
	"github.com/crewmesh/overseer/internal/tracing"
)

// Options are the collaborators a supervisor is built from. Mapper and
// Registry are nil in local memory mode; Sender may be nil in tests.
type Options struct {
	Config    *config.Config
	Sessions  *session.Store
	Jobs      *jobs.Store
	Mapper    *goc.Mapper
	Registry  *agents.Registry
	Providers providers.Set
	Sender    bus.Sender
	Tools     []action.Tool
	RunCfg    runmgr.Config
}

// Supervisor coordinates one workspace.
type Supervisor struct {
	cfg       *config.Config
	sessions  *session.Store
	jobs      *jobs.Store
	mapper    *goc.Mapper
	registry  *agents.Registry
	providers providers.Set
	sender    bus.Sender
	tools     []action.Tool
	planner   *planner.Planner
	exec      *executor.Executor
	runs      *runmgr.Manager

	mu       sync.Mutex
	settings config.Settings
}

// New wires the supervisor: planner over the planner provider when one
// is configured, executor callbacks for every action type, and the
// per-chat run manager on top.
func New(opts Options) *Supervisor {
	s := &Supervisor{
		cfg:       opts.Config,
		sessions:  opts.Sessions,
		jobs:      opts.Jobs,
		mapper:    opts.Mapper,
		registry:  opts.Registry,
		providers: opts.Providers,
		sender:    opts.Sender,
		tools:     opts.Tools,
	}

	var llm planner.Completer
	if p := opts.Providers.Get("planner"); p != nil {
		if c, ok := p.(planner.Completer); ok {
			llm = c
		}
	}
	s.planner = planner.New(llm)

	s.exec = executor.New(opts.Sessions)
	s.registerCallbacks()

	runCfg := opts.RunCfg
	if runCfg.Debounce == 0 && runCfg.AckMinGap == 0 {
		runCfg = runmgr.DefaultConfig()
	}
	s.runs = runmgr.New(opts.Sessions, runmgr.Hooks{
		RunChat: s.runChat,
		CancelCurrent: func(chatID, mode, reason string) {
			slog.Info("supervisor: cancelling current run", "chat", chatID, "mode", mode)
		},
		Ack:        func(chatID, text string) { s.send(chatID, text, nil) },
		OnRunError: func(chatID string, err error) { s.send(chatID, "run failed: "+err.Error(), nil) },
	}, runCfg)
	return s
}

// SetSender installs the outbound channel after construction. The
// channel needs the supervisor for inbound handling, so the two are
// wired in stages.
func (s *Supervisor) SetSender(sender bus.Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
}

// ApplySettings installs a new live-settings overlay. Takes effect on
// the next run.
func (s *Supervisor) ApplySettings(set config.Settings) {
	s.mu.Lock()
	s.settings = set
	s.mu.Unlock()
}

func (s *Supervisor) currentSettings() config.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// HandleIncoming routes one channel message into the run manager.
func (s *Supervisor) HandleIncoming(in bus.Inbound) string {
	return s.runs.HandleIncoming(in.ChatID, in.UserID, in.Text, in.MessageID)
}

// Stop hard-cancels the chat's current run.
func (s *Supervisor) Stop(chatID, reason string) {
	s.runs.HardCancel(chatID, reason)
}

// Session exposes the chat's session snapshot for status commands.
func (s *Supervisor) Session(chatID string) session.ChatSession {
	return s.sessions.Get(chatID)
}

// Jobs exposes the job store for channel commands.
func (s *Supervisor) Jobs() *jobs.Store { return s.jobs }

// Catalog loads the current agent catalog.
func (s *Supervisor) Catalog(ctx context.Context) (*agents.Catalog, error) {
	if s.registry == nil {
		return agents.LocalCatalog(), nil
	}
	return s.registry.Load(ctx, true)
}

func (s *Supervisor) send(chatID, text string, buttons [][]bus.Button) {
	s.mu.Lock()
	sender := s.sender
	s.mu.Unlock()
	if sender == nil {
		return
	}
	if err := sender.Send(bus.Outbound{ChatID: chatID, Text: text, Buttons: buttons}); err != nil {
		slog.Warn("supervisor: send failed", "chat", chatID, "error", err)
	}
}

// runScope carries the per-run bundle into action callbacks via context.
type scopeKey struct{}

type runScope struct {
	chatID string
	userID string
	jobID  string
	cat    *agents.Catalog
	jobCfg *action.JobConfig
	st     *goc.MapState // job mapping, nil without a knowledge store
}

func withScope(ctx context.Context, sc *runScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, sc)
}

func scopeFrom(ctx context.Context) *runScope {
	sc, _ := ctx.Value(scopeKey{}).(*runScope)
	return sc
}

// runChat performs one full plan-and-execute cycle for a drained batch.
func (s *Supervisor) runChat(ctx context.Context, req runmgr.RunRequest) error {
	ctx, span := tracing.StartRun(ctx, req.ChatID, req.RunID)
	var runErr error
	defer func() { tracing.End(span, runErr) }()

	jobID, err := s.ensureJob(req)
	if err != nil {
		runErr = err
		return fmt.Errorf("ensure job: %w", err)
	}
	if err := s.jobs.AppendConversation(jobID, "user", req.Message, map[string]any{
		"run": req.RunID, "kind": req.InputKind,
	}); err != nil {
		slog.Warn("supervisor: conversation append failed", "job", jobID, "error", err)
	}

	var st *goc.MapState
	if s.mapper != nil {
		if st, err = s.mapper.EnsureJobThread(ctx, jobID, s.jobs.Dir(jobID)); err != nil {
			if goc.IsFatal(err) {
				runErr = err
				return err
			}
			slog.Warn("supervisor: job thread unavailable", "job", jobID, "error", err)
			st = nil
		}
	}

	cat, err := s.Catalog(ctx)
	if err != nil {
		runErr = err
		return fmt.Errorf("load catalog: %w", err)
	}
	jc := s.loadJobConfig(ctx, jobID, st)

	contextSetID := ""
	if st != nil {
		contextSetID = st.ContextSetID
	}
	plan, err := s.planner.Route(ctx, planner.Input{
		Message:             req.Message,
		Agents:              cat,
		Tools:               s.tools,
		JobConfig:           jc,
		CurrentJobID:        jobID,
		CurrentContextSetID: contextSetID,
		ContextSummary:      s.contextSummary(jobID),
	})
	if err != nil {
		runErr = err
		return err
	}
	plan = s.filterDenied(req.ChatID, plan)

	sc := &runScope{
		chatID: req.ChatID, userID: req.UserID, jobID: jobID,
		cat: cat, jobCfg: jc, st: st,
	}
	out, err := s.exec.Run(withScope(ctx, sc), executor.RunInput{
		ChatID:    req.ChatID,
		UserID:    req.UserID,
		JobID:     jobID,
		Plan:      plan,
		JobConfig: *jc,
		Agents:    cat,
		Tools:     s.tools,
	})
	if err != nil {
		runErr = err
		return err
	}

	s.finishRun(sc, plan, out)
	return nil
}

// ensureJob resolves the chat's current job, creating one on first
// contact.
func (s *Supervisor) ensureJob(req runmgr.RunRequest) (string, error) {
	cs := s.sessions.Get(req.ChatID)
	if cs.JobID != "" {
		if _, err := s.jobs.GetMeta(cs.JobID); err == nil {
			return cs.JobID, nil
		}
	}
	meta, err := s.jobs.CreateJob(jobTitle(req.Message), req.UserID, req.ChatID)
	if err != nil {
		return "", err
	}
	if _, err := s.sessions.Upsert(req.ChatID, func(cs *session.ChatSession) {
		cs.JobID = meta.JobID
	}); err != nil {
		return "", err
	}
	return meta.JobID, nil
}

// jobTitle derives a short job title from the first message.
func jobTitle(message string) string {
	words := strings.Fields(message)
	if len(words) > 8 {
		words = words[:8]
	}
	title := strings.Join(words, " ")
	if len(title) > 64 {
		title = title[:64]
	}
	return title
}

func (s *Supervisor) jobConfigPath(jobID string) string {
	return filepath.Join(s.jobs.Dir(jobID), "job_config.json")
}

// loadJobConfig resolves the effective per-job policy: defaults, then
// the local snapshot, then the latest job_config resource in the store,
// then the live settings overlay.
func (s *Supervisor) loadJobConfig(ctx context.Context, jobID string, st *goc.MapState) *action.JobConfig {
	jc := action.DefaultJobConfig(jobID)

	if data, err := os.ReadFile(s.jobConfigPath(jobID)); err == nil {
		var local action.JobConfig
		if json.Unmarshal(data, &local) == nil && local.JobID != "" {
			jc = local
		}
	}

	if s.mapper != nil && st != nil && st.ContextSetID != "" {
		resources, err := s.mapper.Client().ListResources(ctx, "", st.ContextSetID, "job_config")
		if err != nil {
			slog.Warn("supervisor: job config fetch failed", "job", jobID, "error", err)
		} else if len(resources) > 0 {
			latest := resources[0]
			for _, res := range resources[1:] {
				if res.CreatedAt.After(latest.CreatedAt) {
					latest = res
				}
			}
			var remote action.JobConfig
			if json.Unmarshal([]byte(latest.RawText), &remote) == nil && remote.JobID != "" {
				if remote.UpdatedAt.After(jc.UpdatedAt) || jc.JobID != remote.JobID {
					jc = remote
				}
			}
		}
	}

	set := s.currentSettings()
	if len(set.AllowActions) > 0 {
		jc.AllowActions = set.AllowActions
	}
	if set.RequireFileWrite != nil {
		jc.Approval.RequireFileWrite = *set.RequireFileWrite
	}
	return &jc
}

// saveJobConfig persists the mutated policy snapshot: local file always,
// a new job_config resource when the store is mapped.
func (s *Supervisor) saveJobConfig(ctx context.Context, sc *runScope) error {
	data, err := json.MarshalIndent(sc.jobCfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.jobConfigPath(sc.jobID), data, 0o644); err != nil {
		return fmt.Errorf("write job config: %w", err)
	}
	if s.mapper != nil && sc.st != nil && sc.st.ContextSetID != "" {
		_, err := s.mapper.Client().CreateResource(ctx, goc.Resource{
			Name:         "job_config",
			Summary:      "job config update",
			RawText:      string(data),
			Kind:         "job_config",
			ContextSetID: sc.st.ContextSetID,
			AutoActivate: true,
		})
		if err != nil {
			return fmt.Errorf("store job config: %w", err)
		}
	}
	return nil
}

// filterDenied drops plan actions named by the deny list in live
// settings.
func (s *Supervisor) filterDenied(chatID string, plan action.Plan) action.Plan {
	set := s.currentSettings()
	if len(set.DenyActions) == 0 {
		return plan
	}
	denied := make(map[string]bool, len(set.DenyActions))
	for _, t := range set.DenyActions {
		denied[t] = true
	}
	kept := plan.Actions[:0]
	for _, a := range plan.Actions {
		if denied[string(a.Type)] {
			slog.Info("supervisor: action denied by settings", "chat", chatID, "type", a.Type)
			continue
		}
		kept = append(kept, a)
	}
	plan.Actions = kept
	return plan
}

// contextSummary renders the conversation tail for the planner prompt.
func (s *Supervisor) contextSummary(jobID string) string {
	entries, err := s.jobs.TailConversation(jobID, 6)
	if err != nil || len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range entries {
		text := e.Text
		if len(text) > 200 {
			text = text[:200] + "…"
		}
		fmt.Fprintf(&b, "%s: %s\n", e.Role, text)
	}
	return b.String()
}

// finishRun reports the outcome back to the chat and the job records.
func (s *Supervisor) finishRun(sc *runScope, plan action.Plan, out *executor.Outcome) {
	if out.PendingApproval != nil {
		pa := out.PendingApproval
		if err := s.jobs.SaveApproval(sc.jobID, pa.ID, pa); err != nil {
			slog.Warn("supervisor: approval snapshot failed", "job", sc.jobID, "error", err)
		}
		s.send(sc.chatID, approvalPrompt(pa), approvalButtons(sc.jobID, pa.ID))
		return
	}

	summary := FormatRunSummary(plan, out.Results, out.Outputs)
	s.send(sc.chatID, summary, nil)
	if err := s.jobs.AppendConversation(sc.jobID, "assistant", summary, nil); err != nil {
		slog.Warn("supervisor: conversation append failed", "job", sc.jobID, "error", err)
	}
	if err := s.jobs.AppendLog(sc.jobID, fmt.Sprintf("run done: %d results, %d outputs", len(out.Results), len(out.Outputs))); err != nil {
		slog.Warn("supervisor: job log append failed", "job", sc.jobID, "error", err)
	}
	if err := s.jobs.AppendTracking(sc.jobID, "progress.md", progressNote(plan, out)); err != nil {
		slog.Warn("supervisor: progress append failed", "job", sc.jobID, "error", err)
	}
}
