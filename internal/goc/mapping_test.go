package goc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func newTestMapper(t *testing.T, f *fakeStore, cfg MapperConfig) (*Mapper, string) {
	t.Helper()
	base := t.TempDir()
	return NewMapper(newFakeClient(t, f), base, cfg), base
}

func TestEnsureJobThread_CreatesAndSeeds(t *testing.T) {
	f := &fakeStore{}
	m, _ := newTestMapper(t, f, MapperConfig{})
	jobDir := t.TempDir()

	st, err := m.EnsureJobThread(context.Background(), "j1", jobDir)
	if err != nil {
		t.Fatal(err)
	}
	if st.ThreadID == "" || st.ContextSetID == "" {
		t.Fatalf("state = %+v", st)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.threads) != 1 || f.threads[0].Title != "job:j1" {
		t.Errorf("threads = %+v", f.threads)
	}
	if len(f.sets) != 1 || f.sets[0].Name != "shared" {
		t.Errorf("sets = %+v", f.sets)
	}
	var cfgCount int
	for _, r := range f.resources {
		if r.Kind == "job_config" {
			cfgCount++
			if !strings.Contains(r.RawText, "j1") {
				t.Errorf("job_config body missing job id: %q", r.RawText)
			}
		}
	}
	if cfgCount != 1 {
		t.Errorf("job_config resources = %d, want 1", cfgCount)
	}
}

func TestEnsureJobThread_Idempotent(t *testing.T) {
	f := &fakeStore{}
	m, _ := newTestMapper(t, f, MapperConfig{})
	jobDir := t.TempDir()
	ctx := context.Background()

	first, err := m.EnsureJobThread(ctx, "j1", jobDir)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.EnsureJobThread(ctx, "j1", jobDir)
	if err != nil {
		t.Fatal(err)
	}
	if first.ThreadID != second.ThreadID || first.ContextSetID != second.ContextSetID {
		t.Errorf("second ensure resolved differently: %+v vs %+v", first, second)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.threads) != 1 {
		t.Errorf("threads created = %d, want 1", len(f.threads))
	}
}

func TestEnsureJobThread_AdoptsExistingTitle(t *testing.T) {
	f := &fakeStore{}
	f.threads = append(f.threads, Thread{ID: "th-pre", Title: "job:j1"})
	m, _ := newTestMapper(t, f, MapperConfig{})

	st, err := m.EnsureJobThread(context.Background(), "j1", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if st.ThreadID != "th-pre" {
		t.Errorf("thread = %q, want adopted th-pre", st.ThreadID)
	}
}

func TestEnsureJobThread_ConcurrentSingleCreate(t *testing.T) {
	f := &fakeStore{}
	m, _ := newTestMapper(t, f, MapperConfig{})
	jobDir := t.TempDir()

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.EnsureJobThread(context.Background(), "j1", jobDir)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("ensure %d: %v", i, err)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.threads) != 1 {
		t.Errorf("concurrent ensure created %d threads, want 1", len(f.threads))
	}
}

func TestEnsureServiceThread_LegacyTitles(t *testing.T) {
	f := &fakeStore{}
	f.threads = append(f.threads, Thread{ID: "th-legacy", Title: "service:agents"})
	m, _ := newTestMapper(t, f, MapperConfig{})

	st, err := m.EnsureServiceThread(context.Background(), ServiceAgents)
	if err != nil {
		t.Fatal(err)
	}
	if st.ThreadID != "th-legacy" {
		t.Errorf("thread = %q, want legacy-titled match", st.ThreadID)
	}
}

func TestEnsureServiceThread_UnknownKind(t *testing.T) {
	f := &fakeStore{}
	m, _ := newTestMapper(t, f, MapperConfig{})
	if _, err := m.EnsureServiceThread(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestAppendTrackingChunk_ChainsNextPart(t *testing.T) {
	f := &fakeStore{}
	m, _ := newTestMapper(t, f, MapperConfig{})
	jobDir := t.TempDir()
	ctx := context.Background()

	if err := m.AppendTrackingChunk(ctx, "j1", jobDir, "plan.md", "part one"); err != nil {
		t.Fatal(err)
	}
	if err := m.AppendTrackingChunk(ctx, "j1", jobDir, "plan.md", "part two"); err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var chunks []Resource
	for _, r := range f.resources {
		if r.Kind == "tracking" {
			chunks = append(chunks, r)
		}
	}
	if len(chunks) != 2 {
		t.Fatalf("tracking chunks = %d, want 2", len(chunks))
	}
	for _, ch := range chunks {
		if !strings.HasPrefix(ch.Name, "plan@") {
			t.Errorf("chunk name = %q, want plan@<timestamp>", ch.Name)
		}
	}
	if chunks[0].AttachTo != "" {
		t.Errorf("first chunk attach_to = %q, want empty", chunks[0].AttachTo)
	}
	if chunks[1].AttachTo != chunks[0].ID {
		t.Errorf("second chunk attach_to = %q, want %q", chunks[1].AttachTo, chunks[0].ID)
	}
	if len(f.edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(f.edges))
	}
	e := f.edges[0]
	if e.Type != EdgeTypeNextPart || e.FromID != chunks[0].ID || e.ToID != chunks[1].ID {
		t.Errorf("edge = %+v", e)
	}
}

func TestAppendTrackingChunk_CursorSurvivesReload(t *testing.T) {
	f := &fakeStore{}
	m, base := newTestMapper(t, f, MapperConfig{})
	jobDir := t.TempDir()
	ctx := context.Background()

	if err := m.AppendTrackingChunk(ctx, "j1", jobDir, "plan.md", "part one"); err != nil {
		t.Fatal(err)
	}

	// A fresh mapper over the same dirs must continue the chain, not restart it.
	m2 := NewMapper(m.Client(), base, MapperConfig{})
	if err := m2.AppendTrackingChunk(ctx, "j1", jobDir, "plan.md", "part two"); err != nil {
		t.Fatal(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edges) != 1 {
		t.Errorf("edges after reload = %d, want 1", len(f.edges))
	}
}

func TestAppendTrackingChunk_IndependentDocCursors(t *testing.T) {
	f := &fakeStore{}
	m, _ := newTestMapper(t, f, MapperConfig{})
	jobDir := t.TempDir()
	ctx := context.Background()

	for _, doc := range []string{"plan.md", "research.md", "plan.md"} {
		if err := m.AppendTrackingChunk(ctx, "j1", jobDir, doc, "x"); err != nil {
			t.Fatal(err)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	// plan.md chained twice (one edge); research.md stands alone.
	if len(f.edges) != 1 {
		t.Fatalf("edges = %+v, want one plan chain edge", f.edges)
	}
}

func TestAppendTrackingChunk_CapsChunkLength(t *testing.T) {
	f := &fakeStore{}
	m, _ := newTestMapper(t, f, MapperConfig{TrackingChunkMaxLen: 10})
	if err := m.AppendTrackingChunk(context.Background(), "j1", t.TempDir(), "plan.md", strings.Repeat("a", 100)); err != nil {
		t.Fatal(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.resources {
		if r.Kind == "tracking" && len(r.RawText) != 10 {
			t.Errorf("chunk len = %d, want capped at 10", len(r.RawText))
		}
	}
}

func TestAppendTrackingChunk_ProgressAutoActivateFlag(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		flag bool
		want bool
	}{
		{"progress off by default", "progress.md", false, false},
		{"progress on when enabled", "progress.md", true, true},
		{"plan always active", "plan.md", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeStore{}
			m, _ := newTestMapper(t, f, MapperConfig{AutoActivateProgress: tt.flag})
			if err := m.AppendTrackingChunk(context.Background(), "j1", t.TempDir(), tt.doc, "x"); err != nil {
				t.Fatal(err)
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			for _, r := range f.resources {
				if r.Kind == "tracking" && r.AutoActivate != tt.want {
					t.Errorf("auto_activate = %v, want %v", r.AutoActivate, tt.want)
				}
			}
		})
	}
}

func TestUILink(t *testing.T) {
	f := &fakeStore{}
	m, _ := newTestMapper(t, f, MapperConfig{UIBase: "https://goc.example/ui"})
	link, err := m.UILink(context.Background(), &MapState{ThreadID: "th-1", ContextSetID: "cs-1"})
	if err != nil {
		t.Fatal(err)
	}
	want := "https://goc.example/ui?thread=th-1&ctx=cs-1#token=tok-1"
	if link != want {
		t.Errorf("link = %q, want %q", link, want)
	}
}

func TestUILink_NoBaseConfigured(t *testing.T) {
	f := &fakeStore{}
	m, _ := newTestMapper(t, f, MapperConfig{})
	if _, err := m.UILink(context.Background(), &MapState{}); err == nil {
		t.Fatal("expected error without UI base")
	}
}

func TestLoadMap_CorruptFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "goc.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := loadMap(path); len(got) != 0 {
		t.Errorf("corrupt map loaded entries: %+v", got)
	}
}
