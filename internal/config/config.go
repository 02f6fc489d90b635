package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = ".chatdiagram.yml"

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: CHATDIAGRAM_GATE__PASSWORD sets gate.password.
const EnvPrefix = "CHATDIAGRAM_"

// envFallbacks maps conventional deployment variables onto config keys.
// They apply only when neither the file nor a prefixed variable set the key.
var envFallbacks = []struct {
	name  string
	key   string
	field func(c *Config) *string
}{
	{"APP_PASSWORD", "gate.password", func(c *Config) *string { return &c.Gate.Password }},
	{"APP_GATE_TOKEN", "gate.token", func(c *Config) *string { return &c.Gate.Token }},
	{"OPENAI_API_KEY", "repair.api_key", func(c *Config) *string { return &c.Repair.APIKey }},
	{"OPENAI_API_KEY", "chatkit.api_key", func(c *Config) *string { return &c.ChatKit.APIKey }},
	{"OPENAI_BASE_URL", "repair.base_url", func(c *Config) *string { return &c.Repair.BaseURL }},
	{"MERMAID_FIX_MODEL", "repair.model", func(c *Config) *string { return &c.Repair.Model }},
	{"CHATKIT_WORKFLOW_ID", "chatkit.workflow_id", func(c *Config) *string { return &c.ChatKit.WorkflowID }},
}

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (CHATDIAGRAM_*) and the conventional
// fallback variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Start from defaults.
	cfg := DefaultConfig()

	// Load YAML file if it exists.
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	for _, fb := range envFallbacks {
		if v := os.Getenv(fb.name); v != "" && (!k.Exists(fb.key) || *fb.field(cfg) == "") {
			*fb.field(cfg) = v
		}
	}

	return cfg, nil
}

// envKey turns CHATDIAGRAM_RENDER__ENGINE_URL into render.engine_url.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Save writes the configuration to the given YAML file path. Secrets are
// left out.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// validProviders is the set of recognized repair provider values.
var validProviders = map[ProviderType]bool{
	ProviderOpenAI:     true,
	ProviderOpenRouter: true,
}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}

	if (c.Gate.Password == "") != (c.Gate.Token == "") {
		return fmt.Errorf("gate needs both a password and a token, or neither")
	}
	if c.Gate.MaxAgeHours < 0 || c.Gate.AttemptsPerMinute < 0 {
		return fmt.Errorf("gate limits must be non-negative")
	}

	if c.Repair.Provider != "" && !validProviders[c.Repair.Provider] {
		return fmt.Errorf("invalid repair.provider %q: must be one of openai, openrouter", c.Repair.Provider)
	}
	if c.Repair.RequestsPerMinute < 0 {
		return fmt.Errorf("repair.requests_per_minute must be non-negative")
	}

	if strings.TrimSpace(c.Pipeline.HostSelector) == "" {
		return fmt.Errorf("pipeline.host_selector is required")
	}
	if c.Pipeline.PollIntervalMS <= 0 {
		return fmt.Errorf("pipeline.poll_interval_ms must be positive")
	}

	if c.Panel.MinZoom <= 0 || c.Panel.MaxZoom < c.Panel.MinZoom {
		return fmt.Errorf("panel zoom range [%g, %g] is invalid", c.Panel.MinZoom, c.Panel.MaxZoom)
	}

	if c.Render.LoadTimeoutSeconds <= 0 {
		return fmt.Errorf("render.load_timeout_seconds must be positive")
	}
	if c.Render.CacheMaxAgeHours < 0 {
		return fmt.Errorf("render.cache_max_age_hours must be non-negative")
	}

	return nil
}

// GateEnabled reports whether the password gate is configured.
func (c *Config) GateEnabled() bool {
	return c.Gate.Password != "" && c.Gate.Token != ""
}
