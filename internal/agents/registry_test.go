package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crewmesh/overseer/internal/goc"
)

// fakeGraph serves the legacy URL shapes of the knowledge store.
type fakeGraph struct {
	mu        sync.Mutex
	threads   []map[string]any
	sets      []map[string]any
	resources []map[string]any
	edges     []map[string]any
	compiled  string
	nextID    int
}

func (f *fakeGraph) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}

func (f *fakeGraph) addResource(kind, name, rawText string, payload map[string]any) string {
	id := f.id("node")
	f.resources = append(f.resources, map[string]any{
		"id": id, "name": name, "raw_text": rawText,
		"resource_kind": kind, "payload_json": payload,
		"created_at": time.Now().UTC().Add(time.Duration(f.nextID) * time.Second).Format(time.RFC3339),
	})
	return id
}

func (f *fakeGraph) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/threads", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPost {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			th := map[string]any{"id": f.id("th"), "title": body["title"]}
			f.threads = append(f.threads, th)
			json.NewEncoder(w).Encode(th)
			return
		}
		json.NewEncoder(w).Encode(f.threads)
	})
	mux.HandleFunc("/context-sets", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPost {
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			cs := map[string]any{"id": f.id("cs"), "thread_id": body["thread_id"], "name": body["name"]}
			f.sets = append(f.sets, cs)
			json.NewEncoder(w).Encode(cs)
			return
		}
		tid := r.URL.Query().Get("thread_id")
		out := []map[string]any{}
		for _, cs := range f.sets {
			if tid == "" || cs["thread_id"] == tid {
				out = append(out, cs)
			}
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/resources", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodPost {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			body["id"] = f.id("node")
			body["created_at"] = time.Now().UTC().Format(time.RFC3339)
			f.resources = append(f.resources, body)
			json.NewEncoder(w).Encode(map[string]any{"id": body["id"], "name": body["name"]})
			return
		}
		kind := r.URL.Query().Get("resource_kind")
		csid := r.URL.Query().Get("context_set_id")
		out := []map[string]any{}
		for _, res := range f.resources {
			if kind != "" && res["resource_kind"] != kind {
				continue
			}
			if csid != "" && res["context_set_id"] != nil && res["context_set_id"] != csid {
				continue
			}
			out = append(out, res)
		}
		json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/edges", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var e map[string]any
		json.NewDecoder(r.Body).Decode(&e)
		f.edges = append(f.edges, e)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("/nodes/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := strings.TrimPrefix(r.URL.Path, "/nodes/")
		for _, res := range f.resources {
			if res["id"] == id {
				json.NewEncoder(w).Encode(res)
				return
			}
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/context-sets/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/compiled") {
			f.mu.Lock()
			defer f.mu.Unlock()
			fmt.Fprint(w, f.compiled)
			return
		}
		http.NotFound(w, r)
	})
	return mux
}

func newTestRegistry(t *testing.T, f *fakeGraph) *Registry {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	client := goc.NewClient(srv.URL, "test-key")
	return NewRegistry(goc.NewMapper(client, t.TempDir(), goc.MapperConfig{}))
}

func TestLoad_LocalBundleWhenEmpty(t *testing.T) {
	f := &fakeGraph{}
	reg := newTestRegistry(t, f)

	cat, err := reg.Load(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(cat.Agents) != 3 {
		t.Fatalf("agents = %v", cat.IDs())
	}
	for _, id := range []string{"router", "coder", "researcher"} {
		if cat.ByID[id] == nil {
			t.Errorf("missing fallback agent %q", id)
		}
	}
}

func TestLoad_LatestProfileWins(t *testing.T) {
	f := &fakeGraph{}
	f.addResource("agent_profile", "helper@1", `{"id":"helper","provider":"coder","prompt":"v1"}`, nil)
	f.addResource("agent_profile", "helper@2", `{"id":"helper","provider":"coder","prompt":"v2"}`, nil)
	reg := newTestRegistry(t, f)

	cat, err := reg.Load(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(cat.Agents) != 1 {
		t.Fatalf("agents = %v", cat.IDs())
	}
	if cat.ByID["helper"].Prompt != "v2" {
		t.Errorf("prompt = %q, want latest resource to win", cat.ByID["helper"].Prompt)
	}
}

func TestLoad_PayloadPreferredOverRawText(t *testing.T) {
	f := &fakeGraph{}
	f.addResource("agent_profile", "x@1",
		`{"id":"from-text","provider":"coder"}`,
		map[string]any{"agent_profile": map[string]any{"id": "from-payload", "provider": "coder"}})
	reg := newTestRegistry(t, f)

	cat, err := reg.Load(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if cat.ByID["from-payload"] == nil || cat.ByID["from-text"] != nil {
		t.Errorf("agents = %v, want payload decode preferred", cat.IDs())
	}
}

func TestLoad_CompiledContextPreference(t *testing.T) {
	f := &fakeGraph{}
	f.addResource("agent_profile", "helper@1", `{"id":"helper","provider":"coder","prompt":"from nodes"}`, nil)
	f.compiled = "```json\n{\"id\":\"helper\",\"provider\":\"coder\",\"prompt\":\"from compiled\"}\n```"
	reg := newTestRegistry(t, f)

	cat, err := reg.Load(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if cat.ByID["helper"].Prompt != "from compiled" {
		t.Errorf("prompt = %q, want compiled context preferred", cat.ByID["helper"].Prompt)
	}
}

func TestUpsert_ChainsNextPart(t *testing.T) {
	f := &fakeGraph{}
	reg := newTestRegistry(t, f)
	ctx := context.Background()

	cat, err := reg.Load(ctx, false)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := reg.Upsert(ctx, cat, &Profile{ID: "helper", Provider: "coder", Prompt: "v1"}, "create"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Upsert(ctx, cat, &Profile{ID: "helper", Prompt: "v2"}, "update"); err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var profileNodes []map[string]any
	for _, res := range f.resources {
		if res["resource_kind"] == "agent_profile" {
			profileNodes = append(profileNodes, res)
		}
	}
	if len(profileNodes) != 2 {
		t.Fatalf("profile nodes = %d, want append-only 2", len(profileNodes))
	}
	if len(f.edges) != 1 {
		t.Fatalf("edges = %+v, want one NEXT_PART", f.edges)
	}
	e := f.edges[0]
	if e["type"] != goc.EdgeTypeNextPart || e["from_id"] != profileNodes[0]["id"] || e["to_id"] != profileNodes[1]["id"] {
		t.Errorf("edge = %+v", e)
	}
	if cat.ByID["helper"].Prompt != "v2" {
		t.Errorf("prompt = %q after update", cat.ByID["helper"].Prompt)
	}
	if cat.ByID["helper"].Provider != "coder" {
		t.Errorf("update dropped provider: %+v", cat.ByID["helper"])
	}
}

func TestUpsert_RejectsEmptyID(t *testing.T) {
	f := &fakeGraph{}
	reg := newTestRegistry(t, f)
	cat := &Catalog{ByID: map[string]*Profile{}, lastNodeByID: map[string]string{}}
	if _, err := reg.Upsert(context.Background(), cat, &Profile{Provider: "coder"}, "create"); err == nil {
		t.Fatal("expected error for profile without id")
	}
}

func TestInstallBlueprint_OverrideAndOrigin(t *testing.T) {
	f := &fakeGraph{}
	nodeID := f.addResource("agent_blueprint", "scout",
		`{"id":"scout","provider":"researcher","prompt":"explore"}`, nil)
	reg := newTestRegistry(t, f)
	ctx := context.Background()

	cat, err := reg.Load(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	p, err := reg.InstallBlueprint(ctx, cat, nodeID, "My Scout")
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "my-scout" {
		t.Errorf("id = %q, want override slug", p.ID)
	}
	if p.Origin != OriginLibrary {
		t.Errorf("origin = %q", p.Origin)
	}
	if cat.ByID["my-scout"] == nil {
		t.Error("installed agent missing from catalog")
	}
}

func TestSearchLibrary(t *testing.T) {
	f := &fakeGraph{}
	f.addResource("agent_blueprint", "scout", `{"id":"scout","provider":"researcher"}`, nil)
	f.addResource("agent_blueprint", "painter", `{"id":"painter","provider":"coder"}`, nil)
	reg := newTestRegistry(t, f)

	got, err := reg.SearchLibrary(context.Background(), "scout", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "scout" {
		t.Errorf("results = %+v", got)
	}
}

func TestPublish(t *testing.T) {
	f := &fakeGraph{}
	reg := newTestRegistry(t, f)
	ctx := context.Background()
	cat, err := reg.Load(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	created, err := reg.Publish(ctx, cat, "coder")
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Error("published resource has no id")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var found bool
	for _, res := range f.resources {
		if res["resource_kind"] == "agent_blueprint" {
			found = true
		}
	}
	if !found {
		t.Error("no blueprint resource created")
	}
}
