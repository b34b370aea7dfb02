package goc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/crewmesh/overseer/internal/action"
)

// Tracking documents whose appends fan out into the knowledge graph.
var TrackingDocs = []string{"plan.md", "research.md", "progress.md", "decisions.md"}

// Service thread kinds.
const (
	ServiceAgents  = "agents"
	ServiceTools   = "tools"
	ServiceGlobal  = "global"
	ServiceLibrary = "library"
)

// serviceTitles lists candidate titles per service thread, first match
// wins; later entries tolerate legacy renames.
var serviceTitles = map[string][]string{
	ServiceAgents:  {"agents", "service:agents"},
	ServiceTools:   {"tools", "service:tools"},
	ServiceGlobal:  {"global:shared", "global"},
	ServiceLibrary: {"agents:library", "library:agents", "public:agents"},
}

// MapState is the persisted workspace↔store mapping for one job or
// service scope.
type MapState struct {
	ThreadID        string            `json:"thread_id"`
	ContextSetID    string            `json:"context_set_id"`
	AgentContextSet map[string]string `json:"agent_context_sets,omitempty"`
	LastNodeByDoc   map[string]string `json:"last_node_by_doc,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// MapperConfig carries the env knobs the mapper honors.
type MapperConfig struct {
	JobThreadTitlePrefix string // default "job:"
	TrackingChunkMaxLen  int    // 0 = no cap
	AutoActivateProgress bool   // progress.md auto-activate flag
	UIBase               string // base URL for UI links
	UITokenTTLSec        int    // default 900
}

// Mapper maintains the thread/context-set mapping between the local
// workspace and the store, including per-document append chains.
type Mapper struct {
	client  *Client
	baseDir string
	cfg     MapperConfig

	sf singleflight.Group
	mu sync.Mutex // guards map-file read/modify/write cycles
}

// NewMapper builds a mapper rooted at the workspace base directory.
func NewMapper(client *Client, baseDir string, cfg MapperConfig) *Mapper {
	if cfg.JobThreadTitlePrefix == "" {
		cfg.JobThreadTitlePrefix = "job:"
	}
	if cfg.UITokenTTLSec <= 0 {
		cfg.UITokenTTLSec = 900
	}
	return &Mapper{client: client, baseDir: baseDir, cfg: cfg}
}

func (m *Mapper) jobMapPath(jobDir string) string {
	return filepath.Join(jobDir, "goc.json")
}

func (m *Mapper) serviceMapPath(kind string) string {
	switch kind {
	case ServiceGlobal:
		return filepath.Join(m.baseDir, "goc.global.json")
	default:
		return filepath.Join(m.baseDir, "goc.service.json")
	}
}

func loadMap(path string) map[string]*MapState {
	out := make(map[string]*MapState)
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return make(map[string]*MapState)
	}
	return out
}

func saveMap(path string, state map[string]*MapState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "goc-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	tmp.Close()
	return os.Rename(tmpPath, path)
}

// EnsureJobThread idempotently resolves (or creates) the job's thread and
// shared context set, and seeds a default job_config resource when none
// exists. Concurrent callers for the same (workspace, job) share one
// in-flight resolution.
func (m *Mapper) EnsureJobThread(ctx context.Context, jobID, jobDir string) (*MapState, error) {
	key := m.baseDir + "|" + jobID
	v, err, _ := m.sf.Do(key, func() (any, error) {
		return m.ensureJobThread(ctx, jobID, jobDir)
	})
	if err != nil {
		return nil, err
	}
	return v.(*MapState), nil
}

func (m *Mapper) ensureJobThread(ctx context.Context, jobID, jobDir string) (*MapState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.jobMapPath(jobDir)
	maps := loadMap(path)
	st, ok := maps[jobID]
	if !ok {
		st = &MapState{LastNodeByDoc: make(map[string]string)}
		maps[jobID] = st
	}
	if st.LastNodeByDoc == nil {
		st.LastNodeByDoc = make(map[string]string)
	}

	title := m.cfg.JobThreadTitlePrefix + jobID
	if st.ThreadID == "" {
		th, found, err := m.client.FindThreadByTitle(ctx, title)
		if err != nil {
			return nil, err
		}
		if !found {
			th, err = m.client.CreateThread(ctx, title)
			if err != nil {
				return nil, err
			}
		}
		st.ThreadID = th.ID
	}

	if st.ContextSetID == "" {
		id, err := m.ensureSharedSet(ctx, st.ThreadID)
		if err != nil {
			return nil, err
		}
		st.ContextSetID = id
	}

	if err := m.ensureJobConfig(ctx, jobID, st.ContextSetID); err != nil {
		// The thread and set exist; a missing default config is recoverable
		// on the next call, so log and keep the mapping.
		slog.Warn("goc: seed job_config failed", "job", jobID, "error", err)
	}

	st.UpdatedAt = time.Now().UTC()
	if err := saveMap(path, maps); err != nil {
		return nil, fmt.Errorf("persist job map: %w", err)
	}
	return st, nil
}

func (m *Mapper) ensureSharedSet(ctx context.Context, threadID string) (string, error) {
	sets, err := m.client.ListContextSets(ctx, threadID)
	if err != nil {
		return "", err
	}
	for _, cs := range sets {
		if cs.Name == "shared" {
			return cs.ID, nil
		}
	}
	cs, err := m.client.CreateContextSet(ctx, threadID, "shared")
	if err != nil {
		return "", err
	}
	return cs.ID, nil
}

func (m *Mapper) ensureJobConfig(ctx context.Context, jobID, contextSetID string) error {
	existing, err := m.client.ListResources(ctx, "", contextSetID, "job_config")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	cfg := action.DefaultJobConfig(jobID)
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	_, err = m.client.CreateResource(ctx, Resource{
		Name:         "job_config",
		Summary:      "default job config",
		RawText:      string(raw),
		Kind:         "job_config",
		ContextSetID: contextSetID,
		AutoActivate: true,
	})
	return err
}

// EnsureServiceThread resolves (or creates) a service thread (agents,
// tools, global shared, public library) with its shared context set.
func (m *Mapper) EnsureServiceThread(ctx context.Context, kind string) (*MapState, error) {
	titles, ok := serviceTitles[kind]
	if !ok {
		return nil, fmt.Errorf("unknown service thread kind %q", kind)
	}
	key := m.baseDir + "|service|" + kind
	v, err, _ := m.sf.Do(key, func() (any, error) {
		return m.ensureServiceThread(ctx, kind, titles)
	})
	if err != nil {
		return nil, err
	}
	return v.(*MapState), nil
}

func (m *Mapper) ensureServiceThread(ctx context.Context, kind string, titles []string) (*MapState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.serviceMapPath(kind)
	maps := loadMap(path)
	st, ok := maps[kind]
	if !ok {
		st = &MapState{LastNodeByDoc: make(map[string]string)}
		maps[kind] = st
	}

	if st.ThreadID == "" {
		threads, err := m.client.ListThreads(ctx)
		if err != nil {
			return nil, err
		}
	scan:
		for _, title := range titles {
			for _, th := range threads {
				if th.Title == title {
					st.ThreadID = th.ID
					break scan
				}
			}
		}
		if st.ThreadID == "" {
			th, err := m.client.CreateThread(ctx, titles[0])
			if err != nil {
				return nil, err
			}
			st.ThreadID = th.ID
		}
	}

	if st.ContextSetID == "" {
		id, err := m.ensureSharedSet(ctx, st.ThreadID)
		if err != nil {
			return nil, err
		}
		st.ContextSetID = id
	}

	st.UpdatedAt = time.Now().UTC()
	if err := saveMap(path, maps); err != nil {
		return nil, fmt.Errorf("persist service map: %w", err)
	}
	return st, nil
}

// AppendTrackingChunk appends one chunk of a tracking document into the
// graph: a new resource attached to the previous node for that doc, a
// NEXT_PART edge from previous to new, and an updated lastNodeByDoc cursor.
func (m *Mapper) AppendTrackingChunk(ctx context.Context, jobID, jobDir, docName, text string) error {
	if _, err := m.EnsureJobThread(ctx, jobID, jobDir); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.jobMapPath(jobDir)
	maps := loadMap(path)
	st := maps[jobID]
	if st == nil {
		return fmt.Errorf("job %s has no goc mapping", jobID)
	}
	if st.LastNodeByDoc == nil {
		st.LastNodeByDoc = make(map[string]string)
	}

	if max := m.cfg.TrackingChunkMaxLen; max > 0 && len(text) > max {
		text = text[:max]
	}

	prev := st.LastNodeByDoc[docName]
	autoActivate := true
	if docName == "progress.md" {
		autoActivate = m.cfg.AutoActivateProgress
	}

	base := docName
	if n := len(base); n > 3 && base[n-3:] == ".md" {
		base = base[:n-3]
	}
	res := Resource{
		Name:         base + "@" + time.Now().UTC().Format(time.RFC3339),
		Summary:      text,
		RawText:      text,
		Kind:         "tracking",
		ContextSetID: st.ContextSetID,
		AutoActivate: autoActivate,
		AttachTo:     prev,
	}
	created, err := m.client.CreateResource(ctx, res)
	if err != nil {
		return err
	}

	if prev != "" {
		if err := m.client.CreateEdge(ctx, Edge{FromID: prev, ToID: created.ID, Type: EdgeTypeNextPart}); err != nil {
			return fmt.Errorf("chain %s: %w", docName, err)
		}
	}

	st.LastNodeByDoc[docName] = created.ID
	st.UpdatedAt = time.Now().UTC()
	return saveMap(path, maps)
}

// UILink mints a UI token and builds a browse link for the given mapping.
func (m *Mapper) UILink(ctx context.Context, st *MapState) (string, error) {
	if m.cfg.UIBase == "" {
		return "", fmt.Errorf("no UI base configured")
	}
	tok, err := m.client.MintUIToken(ctx, m.cfg.UITokenTTLSec)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s?thread=%s&ctx=%s#token=%s", m.cfg.UIBase, st.ThreadID, st.ContextSetID, tok.Token), nil
}

// Client exposes the underlying store client for callers that need raw
// node reads (context expansion, registry scans).
func (m *Mapper) Client() *Client { return m.client }
