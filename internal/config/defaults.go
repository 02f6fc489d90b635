package config

import (
	"time"

	"github.com/ziadkadry99/chatdiagram/internal/chatkit"
	"github.com/ziadkadry99/chatdiagram/internal/panel"
	"github.com/ziadkadry99/chatdiagram/internal/pipeline"
	"github.com/ziadkadry99/chatdiagram/internal/render"
	"github.com/ziadkadry99/chatdiagram/internal/repair"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:    8080,
			DataDir: ".chatdiagram",
		},
		Gate: GateConfig{
			MaxAgeHours:       7 * 24,
			AttemptsPerMinute: 10,
		},
		ChatKit: ChatKitConfig{
			APIBase:   chatkit.DefaultAPIBase,
			ScriptURL: chatkit.DefaultScriptURL,
		},
		Render: RenderConfig{
			ScriptURL:          render.DefaultScriptURL,
			InkBaseURL:         render.DefaultInkBaseURL,
			RemoteFallback:     true,
			Theme:              render.DefaultEngineConfig().Theme,
			LoadTimeoutSeconds: int(render.DefaultLoadTimeout / time.Second),
			CacheMaxAgeHours:   30 * 24,
		},
		Repair: RepairConfig{
			Provider:          ProviderOpenAI,
			Model:             repair.DefaultModel,
			RequestsPerMinute: 30,
		},
		Pipeline: PipelineConfig{
			HostSelector:   pipeline.DefaultHostSelector,
			PollIntervalMS: int(pipeline.DefaultPollInterval / time.Millisecond),
			ViewToggle:     true,
		},
		Panel: PanelConfig{
			MinZoom: panel.DefaultMinZoom,
			MaxZoom: panel.DefaultMaxZoom,
		},
	}
}
