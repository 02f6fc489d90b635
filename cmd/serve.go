package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/chatdiagram/internal/cache"
	"github.com/ziadkadry99/chatdiagram/internal/chatkit"
	"github.com/ziadkadry99/chatdiagram/internal/config"
	"github.com/ziadkadry99/chatdiagram/internal/gate"
	"github.com/ziadkadry99/chatdiagram/internal/live"
	"github.com/ziadkadry99/chatdiagram/internal/panel"
	"github.com/ziadkadry99/chatdiagram/internal/pipeline"
	"github.com/ziadkadry99/chatdiagram/internal/render"
	"github.com/ziadkadry99/chatdiagram/internal/repair"
	"github.com/ziadkadry99/chatdiagram/internal/server"
	"github.com/ziadkadry99/chatdiagram/internal/web"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat server",
	Long:  `Starts the HTTP server with the chat page, the password gate, session creation, diagram repair, the render API and live diagram sessions.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ropts := renderOptions(cfg, database)
	adapter := render.NewAdapter(ropts)

	var g *gate.Gate
	if cfg.GateEnabled() {
		g = gate.New(gate.Config{
			Password:          cfg.Gate.Password,
			Token:             cfg.Gate.Token,
			Secure:            cfg.Server.Production,
			MaxAge:            time.Duration(cfg.Gate.MaxAgeHours) * time.Hour,
			AttemptsPerMinute: cfg.Gate.AttemptsPerMinute,
		})
	}

	srv := server.New(server.Config{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, database, g)

	fixer, err := createFixer(cfg)
	if err != nil {
		return err
	}
	if fixer == nil {
		warnf("no API key configured; diagram repair is disabled")
	}

	api := srv.API()
	render.RegisterRoutes(api, adapter, cfg.Render.InkBaseURL)
	repair.RegisterRoutes(api, repair.NewHandler(fixer, string(cfg.Repair.Provider), database))
	chatkit.RegisterRoutes(api, chatkit.NewSessionHandler(chatkit.SessionConfig{
		APIKey:     cfg.ChatKit.APIKey,
		APIBase:    cfg.ChatKit.APIBase,
		WorkflowID: cfg.ChatKit.WorkflowID,
		Secure:     cfg.Server.Production,
	}))
	web.RegisterRoutes(api, web.New(web.PageConfig{
		WorkflowID:    cfg.ChatKit.WorkflowID,
		ChatKitScript: cfg.ChatKit.ScriptURL,
		DomainKey:     cfg.ChatKit.DomainKey,
		MinZoom:       cfg.Panel.MinZoom,
		MaxZoom:       cfg.Panel.MaxZoom,
		Repair:        fixer != nil,
	}))

	liveHandler := live.NewHandler(live.Options{
		Loader:      ropts.Loader,
		Fallback:    ropts.Fallback,
		Cache:       ropts.Cache,
		Engine:      ropts.Engine,
		ScriptURL:   ropts.ScriptURL,
		LoadTimeout: ropts.LoadTimeout,
		Pipeline: pipeline.Options{
			HostSelector: cfg.Pipeline.HostSelector,
			Selectors:    cfg.Pipeline.Selectors,
			PollInterval: time.Duration(cfg.Pipeline.PollIntervalMS) * time.Millisecond,
			ViewToggle:   cfg.Pipeline.ViewToggle,
		},
		Panel: panel.Options{MinZoom: cfg.Panel.MinZoom, MaxZoom: cfg.Panel.MaxZoom},
		ChatKit: chatkit.BridgeOptions{
			WorkflowID: cfg.ChatKit.WorkflowID,
			ScriptURL:  cfg.ChatKit.ScriptURL,
		},
		SessionBaseURL: fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
	})
	live.RegisterRoutes(srv.Router(), liveHandler)

	// Graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if store, ok := ropts.Cache.(*cache.Store); ok {
		go pruneCache(ctx, store, time.Duration(cfg.Render.CacheMaxAgeHours)*time.Hour)
	}
	if g != nil {
		go pruneGate(ctx, g)
	}

	go func() {
		<-ctx.Done()
		fmt.Fprintln(os.Stderr, "\nShutting down server...")
		liveHandler.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "chatdiagram server %s starting on port %d\n", Version, cfg.Server.Port)
	fmt.Fprintf(os.Stderr, "  Database: %s\n", database.Path())
	if cfg.Render.EngineURL != "" {
		fmt.Fprintf(os.Stderr, "  Render engine: %s\n", cfg.Render.EngineURL)
	}
	if g == nil {
		fmt.Fprintln(os.Stderr, "  Password gate: off")
	}

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// pruneGate forgets unlock rate limits of clients idle for an hour.
func pruneGate(ctx context.Context, g *gate.Gate) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.PruneLimiters(time.Hour); n > 0 && verbose {
				log.Printf("gate: forgot %d idle clients", n)
			}
		}
	}
}

// pruneCache drops expired artifacts once an hour until ctx ends.
func pruneCache(ctx context.Context, store *cache.Store, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n, err := store.Prune(ctx, time.Now().Add(-maxAge))
		if err != nil && ctx.Err() == nil {
			log.Printf("cache: pruning: %v", err)
		} else if n > 0 && verbose {
			log.Printf("cache: pruned %d artifacts", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
