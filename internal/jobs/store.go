// Package jobs owns the per-job directory layout: metadata, the
// append-only conversation log, tracking documents, and approval
// snapshots.
package jobs

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/crewmesh/overseer/internal/goc"
)

// DefaultTrackingDocs are initialized for every new job.
var DefaultTrackingDocs = []string{"plan.md", "research.md", "progress.md", "decisions.md"}

// trackingNameRe guards tracking file names against traversal.
var trackingNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+\.md$`)

// Meta is the persisted job record.
type Meta struct {
	JobID       string    `json:"job_id"`
	Title       string    `json:"title,omitempty"`
	OwnerUserID string    `json:"owner_user_id,omitempty"`
	OwnerChatID string    `json:"owner_chat_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ConversationEntry is one line of conversation.jsonl.
type ConversationEntry struct {
	TS   time.Time      `json:"ts"`
	Role string         `json:"role"`
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Store manages job directories under the runs root. The mapper, when
// present, receives async tracking appends; its failures never fail the
// local write.
type Store struct {
	runsDir string
	mapper  *goc.Mapper
}

// NewStore builds a job store. mapper may be nil (local-only mode).
func NewStore(runsDir string, mapper *goc.Mapper) (*Store, error) {
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	return &Store{runsDir: runsDir, mapper: mapper}, nil
}

// Dir returns the job's directory.
func (s *Store) Dir(jobID string) string {
	return filepath.Join(s.runsDir, jobID)
}

// CreateJob allocates a job id and directory, writes meta.json, and
// initializes the default tracking documents.
func (s *Store) CreateJob(title, ownerUserID, ownerChatID string) (*Meta, error) {
	meta := &Meta{
		JobID:       uuid.NewString(),
		Title:       title,
		OwnerUserID: ownerUserID,
		OwnerChatID: ownerChatID,
		CreatedAt:   time.Now().UTC(),
	}
	dir := s.Dir(meta.JobID)
	if err := os.MkdirAll(filepath.Join(dir, "shared"), 0o755); err != nil {
		return nil, fmt.Errorf("create job dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "approvals"), 0o755); err != nil {
		return nil, fmt.Errorf("create approvals dir: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o644); err != nil {
		return nil, fmt.Errorf("write meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "job.log"), nil, 0o644); err != nil {
		return nil, fmt.Errorf("create job log: %w", err)
	}

	if err := s.InitTracking(meta.JobID, DefaultTrackingDocs); err != nil {
		return nil, err
	}
	return meta, nil
}

// GetMeta reads a job's meta.json.
func (s *Store) GetMeta(jobID string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(jobID), "meta.json"))
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("job %s meta: %w", jobID, err)
	}
	return &meta, nil
}

// ListJobs returns all jobs, newest first.
func (s *Store) ListJobs() ([]*Meta, error) {
	entries, err := os.ReadDir(s.runsDir)
	if err != nil {
		return nil, err
	}
	var out []*Meta
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := s.GetMeta(e.Name())
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// AppendLog appends one line to job.log.
func (s *Store) AppendLog(jobID, line string) error {
	f, err := os.OpenFile(filepath.Join(s.Dir(jobID), "job.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s %s\n", time.Now().UTC().Format(time.RFC3339), line)
	return err
}

// AppendConversation appends one JSON line to conversation.jsonl.
func (s *Store) AppendConversation(jobID, role, text string, meta map[string]any) error {
	entry := ConversationEntry{TS: time.Now().UTC(), Role: role, Text: text, Meta: meta}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.Dir(jobID), "conversation.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}

// TailConversation returns the last n valid entries, skipping corrupt
// lines.
func (s *Store) TailConversation(jobID string, n int) ([]ConversationEntry, error) {
	f, err := os.Open(filepath.Join(s.Dir(jobID), "conversation.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []ConversationEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var entry ConversationEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

func (s *Store) trackingPath(jobID, name string) (string, error) {
	if !trackingNameRe.MatchString(name) {
		return "", fmt.Errorf("invalid tracking file name %q", name)
	}
	return filepath.Join(s.Dir(jobID), "shared", name), nil
}

// InitTracking creates the named tracking documents that do not yet exist.
func (s *Store) InitTracking(jobID string, names []string) error {
	for _, name := range names {
		path, err := s.trackingPath(jobID, name)
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			continue
		}
		header := fmt.Sprintf("# %s\n\ncreated: %s\n", name, time.Now().UTC().Format(time.RFC3339))
		if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
			return fmt.Errorf("init %s: %w", name, err)
		}
	}
	return nil
}

// AppendTracking appends a timestamped block to the named tracking
// document, then fires the async knowledge-store hook. The local file is
// the source of truth; hook failures are logged and swallowed.
func (s *Store) AppendTracking(jobID, name, markdown string) error {
	path, err := s.trackingPath(jobID, name)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	block := fmt.Sprintf("\n---\n_%s_\n\n%s\n", time.Now().UTC().Format(time.RFC3339), markdown)
	if _, err := f.WriteString(block); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", name, err)
	}
	f.Close()

	if s.mapper != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			if err := s.mapper.AppendTrackingChunk(ctx, jobID, s.Dir(jobID), name, markdown); err != nil {
				slog.Warn("jobs: tracking hook failed", "job", jobID, "doc", name, "error", err)
			}
		}()
	}
	return nil
}

// ReadTracking returns the full contents of one tracking document.
func (s *Store) ReadTracking(jobID, name string) (string, error) {
	path, err := s.trackingPath(jobID, name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SaveApproval persists an approval snapshot under approvals/<token>.json.
func (s *Store) SaveApproval(jobID, token string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Join(s.Dir(jobID), "approvals")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, token+".json"), data, 0o644)
}

// LoadApproval reads an approval snapshot into v.
func (s *Store) LoadApproval(jobID, token string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.Dir(jobID), "approvals", token+".json"))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// DeleteApproval removes an approval snapshot.
func (s *Store) DeleteApproval(jobID, token string) error {
	err := os.Remove(filepath.Join(s.Dir(jobID), "approvals", token+".json"))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
