// Package runmgr serializes runs per chat: incoming messages either start
// a drain loop or preempt the run in flight, and at most one run per chat
// executes at a time.
package runmgr

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/crewmesh/overseer/internal/executor"
	"github.com/crewmesh/overseer/internal/session"
)

// HandleIncoming dispositions.
const (
	DispositionIgnored         = "ignored"
	DispositionStarted         = "started"
	DispositionQueuedInterrupt = "queued_interrupt"
)

// Input kinds passed to the run callback.
const (
	InputUserMessage     = "user_message"
	InputInterruptUpdate = "interrupt_update"
)

// RunRequest is one drain-loop iteration handed to the run callback.
type RunRequest struct {
	ChatID       string
	UserID       string
	Message      string
	RunID        string
	InputKind    string
	PendingCount int
	PendingRows  []session.PendingMessage
	MessageID    string
}

// Hooks are the collaborators the manager drives.
type Hooks struct {
	// RunChat performs one full run (planner then executor). Cancellation
	// errors propagate; other errors go to OnRunError.
	RunChat func(ctx context.Context, req RunRequest) error
	// CancelCurrent aborts any in-flight provider call for the chat.
	CancelCurrent func(chatID, mode, reason string)
	// Ack posts a short receipt to the chat. Rate-limited per chat.
	Ack func(chatID, text string)
	// OnRunError receives non-cancellation run failures.
	OnRunError func(chatID string, err error)
}

// Config tunes the manager.
type Config struct {
	Debounce  time.Duration // burst-coalescing sleep before each drain
	AckMinGap time.Duration // min gap between interrupt acks per chat
}

// DefaultConfig returns the standard knobs.
func DefaultConfig() Config {
	return Config{Debounce: 300 * time.Millisecond, AckMinGap: 500 * time.Millisecond}
}

type controller struct {
	mu        sync.Mutex
	running   bool
	nextKind  string
	cancelRun context.CancelFunc
	limiter   *rate.Limiter
}

// Manager owns the per-chat controllers.
type Manager struct {
	sessions *session.Store
	hooks    Hooks
	cfg      Config
	chats    sync.Map // chat id -> *controller
}

// New builds a manager.
func New(sessions *session.Store, hooks Hooks, cfg Config) *Manager {
	if cfg.AckMinGap <= 0 {
		cfg.AckMinGap = 500 * time.Millisecond
	}
	return &Manager{sessions: sessions, hooks: hooks, cfg: cfg}
}

func (m *Manager) ctl(chatID string) *controller {
	v, _ := m.chats.LoadOrStore(chatID, &controller{
		limiter: rate.NewLimiter(rate.Every(m.cfg.AckMinGap), 1),
	})
	return v.(*controller)
}

// HandleIncoming queues one user message. A busy chat is preempted with a
// replan interrupt; an idle chat starts its drain loop.
func (m *Manager) HandleIncoming(chatID, userID, text, messageID string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return DispositionIgnored
	}

	if _, err := m.sessions.Upsert(chatID, func(cs *session.ChatSession) {
		cs.PendingUserMessages = append(cs.PendingUserMessages, session.PendingMessage{
			TS: time.Now().UTC(), UserID: userID, Text: text, MessageID: messageID,
		})
	}); err != nil {
		slog.Error("runmgr: queue message", "chat", chatID, "error", err)
	}

	ctl := m.ctl(chatID)
	ctl.mu.Lock()
	cs := m.sessions.Get(chatID)
	busy := ctl.running ||
		cs.State == session.StateRouting || cs.State == session.StateExecuting ||
		cs.State == session.StateAwaitingApproval || cs.PendingApproval != nil

	if !busy {
		ctl.running = true
		ctl.mu.Unlock()
		go m.drain(chatID, userID)
		return DispositionStarted
	}

	ctl.nextKind = InputInterruptUpdate
	cancel := ctl.cancelRun
	wasRunning := ctl.running
	if !wasRunning {
		ctl.running = true
	}
	ctl.mu.Unlock()

	if _, err := m.sessions.Upsert(chatID, func(cs *session.ChatSession) {
		cs.PendingApproval = nil
		cs.Interrupt = &session.Interrupt{
			Requested: true, Mode: session.InterruptReplan,
			Reason: text, TS: time.Now().UTC(),
		}
	}); err != nil {
		slog.Error("runmgr: set interrupt", "chat", chatID, "error", err)
	}

	if cancel != nil {
		cancel()
	}
	if m.hooks.CancelCurrent != nil {
		m.hooks.CancelCurrent(chatID, session.InterruptReplan, text)
	}
	m.ack(ctl, chatID, "got it, adjusting the current run")

	if !wasRunning {
		// Chat was parked in awaiting_approval with no loop alive.
		go m.drain(chatID, userID)
	}
	return DispositionQueuedInterrupt
}

// HardCancel aborts the chat's run outright: pending approval and queued
// messages are dropped and the session returns to idle.
func (m *Manager) HardCancel(chatID, reason string) {
	ctl := m.ctl(chatID)
	ctl.mu.Lock()
	cancel := ctl.cancelRun
	ctl.mu.Unlock()

	if _, err := m.sessions.Upsert(chatID, func(cs *session.ChatSession) {
		cs.PendingApproval = nil
		cs.PendingUserMessages = nil
		cs.Interrupt = &session.Interrupt{
			Requested: true, Mode: session.InterruptCancel,
			Reason: reason, TS: time.Now().UTC(),
		}
		cs.State = session.StateIdle
	}); err != nil {
		slog.Error("runmgr: hard cancel", "chat", chatID, "error", err)
	}

	if cancel != nil {
		cancel()
	}
	if m.hooks.CancelCurrent != nil {
		m.hooks.CancelCurrent(chatID, session.InterruptCancel, reason)
	}
	m.ack(ctl, chatID, "stopped")
}

func (m *Manager) ack(ctl *controller, chatID, text string) {
	if m.hooks.Ack == nil {
		return
	}
	if ctl.limiter.Allow() {
		m.hooks.Ack(chatID, text)
	}
}

// drain is the single-flight per-chat loop: coalesce the queue, run once,
// repeat until empty.
func (m *Manager) drain(chatID, userID string) {
	ctl := m.ctl(chatID)
	defer func() {
		ctl.mu.Lock()
		ctl.running = false
		ctl.mu.Unlock()
		// A message that raced with this exit would otherwise sit queued
		// with no loop alive.
		if len(m.sessions.Get(chatID).PendingUserMessages) > 0 {
			ctl.mu.Lock()
			if !ctl.running {
				ctl.running = true
				go m.drain(chatID, userID)
			}
			ctl.mu.Unlock()
		}
	}()

	for {
		if len(m.sessions.Get(chatID).PendingUserMessages) == 0 {
			return
		}
		if m.cfg.Debounce > 0 {
			// Let a burst of messages land before draining.
			time.Sleep(m.cfg.Debounce)
		}

		var rows []session.PendingMessage
		if _, err := m.sessions.Upsert(chatID, func(cs *session.ChatSession) {
			rows = cs.PendingUserMessages
			cs.PendingUserMessages = nil
		}); err != nil {
			slog.Error("runmgr: drain queue", "chat", chatID, "error", err)
			return
		}
		if len(rows) == 0 {
			return
		}

		ctl.mu.Lock()
		kind := ctl.nextKind
		ctl.nextKind = ""
		ctl.mu.Unlock()
		if kind == "" {
			kind = InputUserMessage
		}

		m.runOnce(ctl, chatID, userID, kind, rows)
	}
}

func (m *Manager) runOnce(ctl *controller, chatID, userID, kind string, rows []session.PendingMessage) {
	runID := uuid.NewString()
	if _, err := m.sessions.Upsert(chatID, func(cs *session.ChatSession) {
		cs.ActiveRunID = runID
		cs.Interrupt = nil
		cs.State = session.StateRouting
	}); err != nil {
		slog.Error("runmgr: run start write", "chat", chatID, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ctl.mu.Lock()
	ctl.cancelRun = cancel
	ctl.mu.Unlock()

	defer func() {
		cancel()
		ctl.mu.Lock()
		ctl.cancelRun = nil
		ctl.mu.Unlock()
		if _, err := m.sessions.Upsert(chatID, func(cs *session.ChatSession) {
			cs.ActiveRunID = ""
			cs.Interrupt = nil
			if cs.PendingApproval != nil {
				cs.State = session.StateAwaitingApproval
			} else {
				cs.State = session.StateIdle
			}
		}); err != nil {
			slog.Error("runmgr: run end write", "chat", chatID, "error", err)
		}
	}()

	last := rows[len(rows)-1]
	err := m.hooks.RunChat(ctx, RunRequest{
		ChatID:       chatID,
		UserID:       userID,
		Message:      MergeMessages(rows),
		RunID:        runID,
		InputKind:    kind,
		PendingCount: len(rows),
		PendingRows:  rows,
		MessageID:    last.MessageID,
	})
	switch {
	case err == nil:
	case executor.IsCancelled(err):
		slog.Info("runmgr: run cancelled", "chat", chatID, "run", runID)
	default:
		slog.Warn("runmgr: run failed", "chat", chatID, "run", runID, "error", err)
		if m.hooks.OnRunError != nil {
			m.hooks.OnRunError(chatID, err)
		}
	}
}

// MergeMessages collapses a drained burst into one synthetic message: the
// newest text leads, earlier ones follow as additional instructions.
func MergeMessages(rows []session.PendingMessage) string {
	if len(rows) == 0 {
		return ""
	}
	if len(rows) == 1 {
		return rows[0].Text
	}
	var b strings.Builder
	b.WriteString(rows[len(rows)-1].Text)
	b.WriteString("\n\nadditional instructions:")
	for _, row := range rows[:len(rows)-1] {
		b.WriteString("\n- ")
		b.WriteString(row.Text)
	}
	return b.String()
}
