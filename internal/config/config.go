// Package config holds the supervisor's runtime options: env-driven with
// an optional json5 config file and a live-reloaded settings overlay.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON, so chat and
// user id allowlists survive numeric ids.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// GocConfig holds the knowledge-store connection and mapping knobs.
type GocConfig struct {
	APIBase              string `json:"api_base"`
	ServiceKey           string `json:"service_key"`
	UIBase               string `json:"ui_base"`
	UITokenTTLSec        int    `json:"ui_token_ttl_sec"`
	AutoActivateProgress bool   `json:"auto_activate_progress"`
	TrackingChunkMaxLen  int    `json:"tracking_chunk_max_len"`
	JobThreadTitlePrefix string `json:"job_thread_title_prefix"`
	Debug                bool   `json:"debug"`
}

// TelegramConfig holds the transport credentials and allowlists.
type TelegramConfig struct {
	Token         string              `json:"token"`
	AllowedChats  FlexibleStringSlice `json:"allowed_chats"`
	AllowedUsers  FlexibleStringSlice `json:"allowed_users"`
	StreamReplies bool                `json:"stream_replies"`
}

// ProvidersConfig maps canonical provider names to CLI command lines.
type ProvidersConfig struct {
	Planner    []string `json:"planner"`
	Coder      []string `json:"coder"`
	Researcher []string `json:"researcher"`
}

// Config is the root configuration for the supervisor.
type Config struct {
	BaseDir        string          `json:"base_dir"`
	RunsDir        string          `json:"runs_dir"`
	MemoryMode     string          `json:"memory_mode"` // "local" or "goc"
	MaxConcurrency int             `json:"max_concurrency"`
	Verbose        bool            `json:"verbose"`
	Goc            GocConfig       `json:"goc"`
	Telegram       TelegramConfig  `json:"telegram"`
	Providers      ProvidersConfig `json:"providers"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".overseer")
	return &Config{
		BaseDir:        base,
		RunsDir:        filepath.Join(base, "runs"),
		MemoryMode:     "local",
		MaxConcurrency: 1,
		Goc: GocConfig{
			UITokenTTLSec:        900,
			JobThreadTitlePrefix: "job:",
		},
	}
}

// Load reads config from a json5 file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	envList := func(key string, dst *FlexibleStringSlice) {
		if v := os.Getenv(key); v != "" {
			var out []string
			for _, part := range strings.Split(v, ",") {
				if part = strings.TrimSpace(part); part != "" {
					out = append(out, part)
				}
			}
			*dst = out
		}
	}
	envCmd := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.Fields(v)
		}
	}

	envStr("OVERSEER_BASE_DIR", &c.BaseDir)
	envStr("RUNS_DIR", &c.RunsDir)
	envStr("MEMORY_MODE", &c.MemoryMode)
	envInt("MAX_CONCURRENCY", &c.MaxConcurrency)

	envStr("GOC_API_BASE", &c.Goc.APIBase)
	envStr("GOC_SERVICE_KEY", &c.Goc.ServiceKey)
	envStr("GOC_UI_BASE", &c.Goc.UIBase)
	envInt("GOC_UI_TOKEN_TTL_SEC", &c.Goc.UITokenTTLSec)
	envBool("GOC_AUTO_ACTIVATE_PROGRESS", &c.Goc.AutoActivateProgress)
	envInt("GOC_TRACKING_CHUNK_MAX_LEN", &c.Goc.TrackingChunkMaxLen)
	envStr("GOC_JOB_THREAD_TITLE_PREFIX", &c.Goc.JobThreadTitlePrefix)
	envBool("GOC_DEBUG", &c.Goc.Debug)

	envStr("TELEGRAM_TOKEN", &c.Telegram.Token)
	envList("TELEGRAM_ALLOWED_CHATS", &c.Telegram.AllowedChats)
	envList("TELEGRAM_ALLOWED_USERS", &c.Telegram.AllowedUsers)

	envCmd("PLANNER_CMD", &c.Providers.Planner)
	envCmd("CODER_CMD", &c.Providers.Coder)
	envCmd("RESEARCHER_CMD", &c.Providers.Researcher)
}

// ProviderCommands returns the configured CLI command lines keyed by
// canonical provider name.
func (c *Config) ProviderCommands() map[string][]string {
	out := make(map[string][]string, 3)
	if len(c.Providers.Planner) > 0 {
		out["planner"] = c.Providers.Planner
	}
	if len(c.Providers.Coder) > 0 {
		out["coder"] = c.Providers.Coder
	}
	if len(c.Providers.Researcher) > 0 {
		out["researcher"] = c.Providers.Researcher
	}
	return out
}
