package telegram

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/crewmesh/overseer/internal/bus"
	"github.com/crewmesh/overseer/internal/config"
	"github.com/crewmesh/overseer/internal/jobs"
	"github.com/crewmesh/overseer/internal/runmgr"
	"github.com/crewmesh/overseer/internal/session"
	"github.com/crewmesh/overseer/internal/supervisor"
)

func testChannel(t *testing.T, cfg config.TelegramConfig) *Channel {
	t.Helper()
	base := t.TempDir()
	sessions, err := session.NewStore(base)
	if err != nil {
		t.Fatal(err)
	}
	jobStore, err := jobs.NewStore(filepath.Join(base, "runs"), nil)
	if err != nil {
		t.Fatal(err)
	}
	sup := supervisor.New(supervisor.Options{
		Config:   &config.Config{BaseDir: base},
		Sessions: sessions,
		Jobs:     jobStore,
		RunCfg:   runmgr.Config{Debounce: 10 * time.Millisecond, AckMinGap: 10 * time.Millisecond},
	})
	return &Channel{cfg: cfg, sup: sup}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.TelegramConfig
		chatID string
		userID string
		want   bool
	}{
		{"open", config.TelegramConfig{}, "1", "2", true},
		{"chat allowed", config.TelegramConfig{AllowedChats: []string{"1"}}, "1", "2", true},
		{"chat rejected", config.TelegramConfig{AllowedChats: []string{"9"}}, "1", "2", false},
		{"user rejected", config.TelegramConfig{AllowedUsers: []string{"9"}}, "1", "2", false},
		{"both match", config.TelegramConfig{AllowedChats: []string{"1"}, AllowedUsers: []string{"2"}}, "1", "2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Channel{cfg: tt.cfg}
			if got := c.allowed(tt.chatID, tt.userID); got != tt.want {
				t.Errorf("allowed = %v", got)
			}
		})
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in       string
		cmd, arg string
	}{
		{"/help", "/help", ""},
		{"/RUN fix the bug", "/run", "fix the bug"},
		{"/stop@overseer_bot wrong direction", "/stop", "wrong direction"},
		{"  /whoami  ", "/whoami", ""},
	}
	for _, tt := range tests {
		cmd, arg := splitCommand(tt.in)
		if cmd != tt.cmd || arg != tt.arg {
			t.Errorf("splitCommand(%q) = %q, %q", tt.in, cmd, arg)
		}
	}
}

func TestCommandReply_PlainMessagePassesThrough(t *testing.T) {
	c := testChannel(t, config.TelegramConfig{})
	if _, handled := c.commandReply(context.Background(), "c1", "u1", "just a message"); handled {
		t.Error("plain message treated as command")
	}
}

func TestCommandReply_Help(t *testing.T) {
	c := testChannel(t, config.TelegramConfig{})
	reply, handled := c.commandReply(context.Background(), "c1", "u1", "/help")
	if !handled || !strings.Contains(reply, "/stop") {
		t.Errorf("help = %q, handled %v", reply, handled)
	}
}

func TestCommandReply_Status(t *testing.T) {
	c := testChannel(t, config.TelegramConfig{})
	reply, handled := c.commandReply(context.Background(), "c1", "u1", "/status")
	if !handled || !strings.Contains(reply, "state: idle") {
		t.Errorf("status = %q", reply)
	}
}

func TestCommandReply_Agents(t *testing.T) {
	c := testChannel(t, config.TelegramConfig{})
	reply, _ := c.commandReply(context.Background(), "c1", "u1", "/agents")
	for _, id := range []string{"router", "coder", "researcher"} {
		if !strings.Contains(reply, id) {
			t.Errorf("agents reply missing %s: %q", id, reply)
		}
	}
}

func TestCommandReply_RunningEmpty(t *testing.T) {
	c := testChannel(t, config.TelegramConfig{})
	reply, _ := c.commandReply(context.Background(), "c1", "u1", "/running")
	if reply != "no jobs yet" {
		t.Errorf("running = %q", reply)
	}
}

func TestCommandReply_RunRequiresArgs(t *testing.T) {
	c := testChannel(t, config.TelegramConfig{})
	reply, _ := c.commandReply(context.Background(), "c1", "u1", "/run")
	if !strings.Contains(reply, "usage") {
		t.Errorf("reply = %q", reply)
	}
}

func TestCommandReply_Unknown(t *testing.T) {
	c := testChannel(t, config.TelegramConfig{})
	reply, _ := c.commandReply(context.Background(), "c1", "u1", "/frobnicate")
	if !strings.Contains(reply, "unknown command") {
		t.Errorf("reply = %q", reply)
	}
}

func TestButtonsToMarkup(t *testing.T) {
	if buttonsToMarkup(nil) != nil {
		t.Error("empty rows produced markup")
	}
	markup := buttonsToMarkup([][]bus.Button{{
		{Label: "Approve", Data: "approve:j1:t1"},
		{Label: "Deny", Data: "deny:j1:t1"},
	}})
	if markup == nil || len(markup.InlineKeyboard) != 1 || len(markup.InlineKeyboard[0]) != 2 {
		t.Fatalf("markup = %+v", markup)
	}
	btn := markup.InlineKeyboard[0][0]
	if btn.Text != "Approve" || btn.CallbackData != "approve:j1:t1" {
		t.Errorf("button = %+v", btn)
	}
}
