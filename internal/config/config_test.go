package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestFlexibleStringSlice(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"strings", `["a", "b"]`, []string{"a", "b"}},
		{"numbers", `[123, 456]`, []string{"123", "456"}},
		{"mixed", `["a", 42]`, []string{"a", "42"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexibleStringSlice
			if err := json.Unmarshal([]byte(tt.in), &f); err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual([]string(f), tt.want) {
				t.Errorf("got %v, want %v", f, tt.want)
			}
		})
	}
}

func TestLoad_FileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	// json5: comments and trailing commas are fine.
	body := `{
		// supervisor config
		runs_dir: "/tmp/runs-from-file",
		goc: { api_base: "http://file-base", },
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("GOC_API_BASE", "http://env-base")
	t.Setenv("TELEGRAM_ALLOWED_CHATS", "1001, 1002")
	t.Setenv("CODER_CMD", "coder-cli --yolo")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.RunsDir != "/tmp/runs-from-file" {
		t.Errorf("runs dir = %q", cfg.RunsDir)
	}
	if cfg.Goc.APIBase != "http://env-base" {
		t.Errorf("api base = %q, want env to win", cfg.Goc.APIBase)
	}
	if !reflect.DeepEqual([]string(cfg.Telegram.AllowedChats), []string{"1001", "1002"}) {
		t.Errorf("allowed chats = %v", cfg.Telegram.AllowedChats)
	}
	cmds := cfg.ProviderCommands()
	if !reflect.DeepEqual(cmds["coder"], []string{"coder-cli", "--yolo"}) {
		t.Errorf("coder cmd = %v", cmds["coder"])
	}
	if _, ok := cmds["planner"]; ok {
		t.Error("unconfigured provider present")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxConcurrency != 1 || cfg.Goc.JobThreadTitlePrefix != "job:" {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestParseSettings(t *testing.T) {
	body := "# Settings\n\nLive policy knobs.\n\n```json5\n{\n  allow_actions: [\"run_agent\", \"get_status\"],\n  deny_actions: [\"spawn_agents\"],\n  require_file_write: true,\n}\n```\n"
	s := ParseSettings(body)
	if !reflect.DeepEqual([]string(s.AllowActions), []string{"run_agent", "get_status"}) {
		t.Errorf("allow = %v", s.AllowActions)
	}
	if !reflect.DeepEqual([]string(s.DenyActions), []string{"spawn_agents"}) {
		t.Errorf("deny = %v", s.DenyActions)
	}
	if s.RequireFileWrite == nil || !*s.RequireFileWrite {
		t.Errorf("require_file_write = %v", s.RequireFileWrite)
	}
}

func TestParseSettings_NoBlock(t *testing.T) {
	s := ParseSettings("just prose, no code blocks")
	if len(s.AllowActions) != 0 || s.RequireFileWrite != nil {
		t.Errorf("settings = %+v", s)
	}
}

func TestWatchSettings_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	changed := make(chan Settings, 4)
	stop := make(chan struct{})
	defer close(stop)

	go WatchSettings(dir, stop, func(s Settings) { changed <- s })
	time.Sleep(100 * time.Millisecond)

	body := "```json5\n{ deny_actions: [\"publish_agent\"] }\n```"
	if err := os.WriteFile(filepath.Join(dir, "settings.md"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-changed:
		if len(s.DenyActions) != 1 || s.DenyActions[0] != "publish_agent" {
			t.Errorf("settings = %+v", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never fired")
	}
}
