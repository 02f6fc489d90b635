package config

// ProviderType identifies the model provider used for diagram repair.
type ProviderType string

const (
	ProviderOpenAI     ProviderType = "openai"
	ProviderOpenRouter ProviderType = "openrouter"
)

// Config is the top-level chatdiagram configuration, corresponding to
// .chatdiagram.yml.
type Config struct {
	Server   ServerConfig   `yaml:"server" koanf:"server"`
	Gate     GateConfig     `yaml:"gate" koanf:"gate"`
	ChatKit  ChatKitConfig  `yaml:"chatkit" koanf:"chatkit"`
	Render   RenderConfig   `yaml:"render" koanf:"render"`
	Repair   RepairConfig   `yaml:"repair" koanf:"repair"`
	Pipeline PipelineConfig `yaml:"pipeline" koanf:"pipeline"`
	Panel    PanelConfig    `yaml:"panel" koanf:"panel"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port" koanf:"port"`
	// Production marks cookies Secure.
	Production     bool     `yaml:"production" koanf:"production"`
	AllowedOrigins []string `yaml:"allowed_origins" koanf:"allowed_origins"`
	DataDir        string   `yaml:"data_dir" koanf:"data_dir"`
}

// GateConfig holds the shared-password gate. Secrets are never saved.
type GateConfig struct {
	Password          string `yaml:"-" koanf:"password"`
	Token             string `yaml:"-" koanf:"token"`
	MaxAgeHours       int    `yaml:"max_age_hours" koanf:"max_age_hours"`
	AttemptsPerMinute int    `yaml:"attempts_per_minute" koanf:"attempts_per_minute"`
}

// ChatKitConfig holds the chat widget settings.
type ChatKitConfig struct {
	WorkflowID string `yaml:"workflow_id" koanf:"workflow_id"`
	APIBase    string `yaml:"api_base" koanf:"api_base"`
	ScriptURL  string `yaml:"script_url" koanf:"script_url"`
	DomainKey  string `yaml:"domain_key" koanf:"domain_key"`
	APIKey     string `yaml:"-" koanf:"api_key"`
}

// RenderConfig holds the diagram engine and fallback settings.
type RenderConfig struct {
	// EngineURL is a Kroki compatible render service. Empty disables the
	// server-side engine.
	EngineURL          string `yaml:"engine_url" koanf:"engine_url"`
	ScriptURL          string `yaml:"script_url" koanf:"script_url"`
	InkBaseURL         string `yaml:"ink_base_url" koanf:"ink_base_url"`
	RemoteFallback     bool   `yaml:"remote_fallback" koanf:"remote_fallback"`
	Theme              string `yaml:"theme" koanf:"theme"`
	LoadTimeoutSeconds int    `yaml:"load_timeout_seconds" koanf:"load_timeout_seconds"`
	CacheMaxAgeHours   int    `yaml:"cache_max_age_hours" koanf:"cache_max_age_hours"`
}

// RepairConfig holds the diagram repair proxy settings.
type RepairConfig struct {
	Provider          ProviderType `yaml:"provider" koanf:"provider"`
	Model             string       `yaml:"model" koanf:"model"`
	BaseURL           string       `yaml:"base_url" koanf:"base_url"`
	RequestsPerMinute int          `yaml:"requests_per_minute" koanf:"requests_per_minute"`
	APIKey            string       `yaml:"-" koanf:"api_key"`
}

// PipelineConfig tunes diagram extraction.
type PipelineConfig struct {
	HostSelector   string   `yaml:"host_selector" koanf:"host_selector"`
	Selectors      []string `yaml:"selectors,omitempty" koanf:"selectors"`
	PollIntervalMS int      `yaml:"poll_interval_ms" koanf:"poll_interval_ms"`
	ViewToggle     bool     `yaml:"view_toggle" koanf:"view_toggle"`
}

// PanelConfig bounds the standalone panel's zoom.
type PanelConfig struct {
	MinZoom float64 `yaml:"min_zoom" koanf:"min_zoom"`
	MaxZoom float64 `yaml:"max_zoom" koanf:"max_zoom"`
}
