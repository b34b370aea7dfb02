package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// Settings are the live-reloadable policy knobs kept in settings.md next
// to the session file. The file is markdown with one fenced json5 block.
type Settings struct {
	AllowActions     FlexibleStringSlice `json:"allow_actions"`
	DenyActions      FlexibleStringSlice `json:"deny_actions"`
	RequireFileWrite *bool               `json:"require_file_write"`
	AutoSuggest      *bool               `json:"auto_suggest"`
}

// ParseSettings extracts the json5 block from a settings.md body. Returns
// zero settings for a file with no parseable block.
func ParseSettings(body string) Settings {
	var s Settings
	for _, block := range settingsBlocks(body) {
		if err := json5.Unmarshal([]byte(block), &s); err == nil {
			return s
		}
	}
	if err := json5.Unmarshal([]byte(strings.TrimSpace(body)), &s); err == nil {
		return s
	}
	return Settings{}
}

func settingsBlocks(body string) []string {
	var blocks []string
	var cur []string
	in := false
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if in {
				blocks = append(blocks, strings.Join(cur, "\n"))
				cur = nil
			}
			in = !in
			continue
		}
		if in {
			cur = append(cur, line)
		}
	}
	return blocks
}

// LoadSettings reads <baseDir>/settings.md. A missing file yields zero
// settings.
func LoadSettings(baseDir string) Settings {
	data, err := os.ReadFile(filepath.Join(baseDir, "settings.md"))
	if err != nil {
		return Settings{}
	}
	return ParseSettings(string(data))
}

// WatchSettings reloads settings.md on change and hands each parsed
// result to onChange. It blocks until the watcher fails or stop is
// closed; callers run it in a goroutine.
func WatchSettings(baseDir string, stop <-chan struct{}, onChange func(Settings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(baseDir); err != nil {
		return err
	}
	target := filepath.Join(baseDir, "settings.md")

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("config: settings reloaded", "path", target)
			onChange(LoadSettings(baseDir))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config: settings watcher error", "error", err)
		}
	}
}
