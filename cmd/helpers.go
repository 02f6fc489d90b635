package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ziadkadry99/chatdiagram/internal/cache"
	"github.com/ziadkadry99/chatdiagram/internal/config"
	"github.com/ziadkadry99/chatdiagram/internal/db"
	"github.com/ziadkadry99/chatdiagram/internal/llm"
	"github.com/ziadkadry99/chatdiagram/internal/render"
	"github.com/ziadkadry99/chatdiagram/internal/repair"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `chatdiagram init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openDatabase opens the render cache database under the data directory.
func openDatabase(cfg *config.Config) (*db.DB, error) {
	path := filepath.Join(cfg.Server.DataDir, "chatdiagram.db")
	database, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return database, nil
}

// renderOptions builds the adapter options shared by every command. The
// cache is skipped when database is nil.
func renderOptions(cfg *config.Config, database *db.DB) render.Options {
	engine := render.DefaultEngineConfig()
	if cfg.Render.Theme != "" {
		engine.Theme = cfg.Render.Theme
	}
	opts := render.Options{
		ScriptURL:   cfg.Render.ScriptURL,
		LoadTimeout: time.Duration(cfg.Render.LoadTimeoutSeconds) * time.Second,
		Engine:      engine,
	}
	if cfg.Render.EngineURL != "" {
		opts.Loader = render.NewHTTPLoader(cfg.Render.EngineURL)
	} else {
		opts.Loader = render.LoaderFunc(noEngine)
	}
	if cfg.Render.RemoteFallback {
		opts.Fallback = render.NewInkFallback(cfg.Render.InkBaseURL)
	}
	if database != nil {
		opts.Cache = cache.NewStore(database, time.Duration(cfg.Render.CacheMaxAgeHours)*time.Hour)
	}
	return opts
}

// newAdapter creates an adapter from config.
func newAdapter(cfg *config.Config, database *db.DB) *render.Adapter {
	return render.NewAdapter(renderOptions(cfg, database))
}

// createFixer returns nil when no API key is configured so the repair
// endpoint can answer with a clear error.
func createFixer(cfg *config.Config) (*repair.Fixer, error) {
	if cfg.Repair.APIKey == "" {
		return nil, nil
	}
	p, err := llm.NewProvider(llm.Config{
		Provider:          string(cfg.Repair.Provider),
		Model:             cfg.Repair.Model,
		APIKey:            cfg.Repair.APIKey,
		BaseURL:           cfg.Repair.BaseURL,
		RequestsPerMinute: cfg.Repair.RequestsPerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	return repair.NewFixer(p, cfg.Repair.Model), nil
}

// noEngine is the loader used without an engine service; every render
// goes straight to the fallbacks.
func noEngine(context.Context) (render.Engine, error) {
	return nil, render.ErrEngineUnavailable
}

func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}
