// Package session holds per-chat mutable run state for the supervisor,
// persisted to a single chat_sessions.json per workspace.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crewmesh/overseer/internal/action"
)

// Session states.
const (
	StateIdle             = "idle"
	StateRouting          = "routing"
	StateExecuting        = "executing"
	StateAwaitingApproval = "awaiting_approval"
	StateDone             = "done"
)

// Interrupt modes.
const (
	InterruptCancel = "cancel"
	InterruptReplan = "replan"
)

// MaxPendingMessages caps the pending queue; oldest entries are dropped.
const MaxPendingMessages = 50

// Interrupt is a cooperative stop/replan request set by the run manager
// and observed by the executor between actions.
type Interrupt struct {
	Requested bool      `json:"requested"`
	Mode      string    `json:"mode"` // "cancel" or "replan"
	Reason    string    `json:"reason,omitempty"`
	TS        time.Time `json:"ts"`
}

// PendingMessage is one queued user message awaiting the next drain.
type PendingMessage struct {
	TS        time.Time `json:"ts"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	MessageID string    `json:"message_id,omitempty"`
}

// PendingApproval snapshots a blocked action plus everything needed to
// resume the rest of the plan after approve/deny.
type PendingApproval struct {
	ID               string          `json:"id"`
	ChatID           string          `json:"chat_id"`
	JobID            string          `json:"job_id"`
	Action           action.Action   `json:"action"`
	Reason           string          `json:"reason"`
	BlockedIndex     int             `json:"blocked_index"`
	RemainingActions []action.Action `json:"remaining_actions"`
	ResultsSoFar     []action.Result `json:"results_so_far,omitempty"`
	OutputsSoFar     []action.Output `json:"outputs_so_far,omitempty"`
	RequestedBy      string          `json:"requested_by,omitempty"`
	TS               time.Time       `json:"ts"`
}

// BudgetCounters tracks per-run action accounting. UsedActions and
// BlockedActions never decrease within a run.
type BudgetCounters struct {
	MaxActions     int `json:"max_actions"`
	UsedActions    int `json:"used_actions"`
	BlockedActions int `json:"blocked_actions"`
}

// ChatSession is the mutable state for one chat.
type ChatSession struct {
	ChatID              string           `json:"chat_id"`
	JobID               string           `json:"job_id,omitempty"`
	State               string           `json:"state"`
	Budget              BudgetCounters   `json:"budget"`
	PendingApproval     *PendingApproval `json:"pending_approval,omitempty"`
	LastRoute           string           `json:"last_route,omitempty"`
	PendingUserMessages []PendingMessage `json:"pending_user_messages,omitempty"`
	Interrupt           *Interrupt       `json:"interrupt,omitempty"`
	ActiveRunID         string           `json:"active_run_id,omitempty"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

func defaultSession(chatID string) *ChatSession {
	return &ChatSession{
		ChatID: chatID,
		State:  StateIdle,
		Budget: BudgetCounters{MaxActions: action.DefaultMaxActions},
	}
}

// Store persists chat sessions to <baseDir>/chat_sessions.json.
// All mutation goes through Upsert under the store mutex; the whole file
// is rewritten atomically (write temp, rename) on every update.
type Store struct {
	path     string
	mu       sync.Mutex
	sessions map[string]*ChatSession
}

// NewStore loads (or initializes) the session file under baseDir.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	s := &Store{
		path:     filepath.Join(baseDir, "chat_sessions.json"),
		sessions: make(map[string]*ChatSession),
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	if err := json.Unmarshal(data, &s.sessions); err != nil {
		// A corrupt file is not fatal; start fresh rather than refusing to boot.
		s.sessions = make(map[string]*ChatSession)
	}
	return s, nil
}

// Get returns a normalized copy of the chat's session; missing chats get
// a default idle session (not persisted until the first Upsert).
func (s *Store) Get(chatID string) ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs, ok := s.sessions[chatID]; ok {
		return *snapshot(cs)
	}
	return *defaultSession(chatID)
}

// Upsert applies fn to the chat's session under the store lock and
// persists the whole file atomically. The session passed to fn is live;
// fn must not retain it.
func (s *Store) Upsert(chatID string, fn func(*ChatSession)) (ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.sessions[chatID]
	if !ok {
		cs = defaultSession(chatID)
		s.sessions[chatID] = cs
	}
	fn(cs)
	cs.ChatID = chatID
	if cs.State == "" {
		cs.State = StateIdle
	}
	if n := len(cs.PendingUserMessages); n > MaxPendingMessages {
		cs.PendingUserMessages = cs.PendingUserMessages[n-MaxPendingMessages:]
	}
	cs.UpdatedAt = time.Now().UTC()

	if err := s.saveLocked(); err != nil {
		return *snapshot(cs), err
	}
	return *snapshot(cs), nil
}

// Clear removes the chat's session entirely.
func (s *Store) Clear(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, chatID)
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "sessions-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func snapshot(cs *ChatSession) *ChatSession {
	out := *cs
	if cs.PendingUserMessages != nil {
		out.PendingUserMessages = append([]PendingMessage(nil), cs.PendingUserMessages...)
	}
	if cs.Interrupt != nil {
		i := *cs.Interrupt
		out.Interrupt = &i
	}
	if cs.PendingApproval != nil {
		pa := *cs.PendingApproval
		pa.RemainingActions = append([]action.Action(nil), cs.PendingApproval.RemainingActions...)
		pa.ResultsSoFar = append([]action.Result(nil), cs.PendingApproval.ResultsSoFar...)
		pa.OutputsSoFar = append([]action.Output(nil), cs.PendingApproval.OutputsSoFar...)
		out.PendingApproval = &pa
	}
	return &out
}
