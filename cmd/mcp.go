package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	mcpserver "github.com/ziadkadry99/chatdiagram/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server for AI agent integration",
	Long:  `Starts a Model Context Protocol (MCP) server on stdio, exposing diagram classification, rendering and Markdown extraction tools for AI agents.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		database, err := openDatabase(cfg)
		if err != nil {
			// The cache is optional; render without it.
			fmt.Fprintf(os.Stderr, "Warning: render cache unavailable: %v\n", err)
		} else {
			defer database.Close()
		}

		// Set version from the cmd package variable.
		mcpserver.Version = Version

		fmt.Fprintf(os.Stderr, "chatdiagram MCP server started on stdio (engine=%q, remote fallback=%v)\n",
			cfg.Render.EngineURL, cfg.Render.RemoteFallback)

		srv := mcpserver.NewServer(newAdapter(cfg, database), cfg.Render.InkBaseURL)
		return srv.Serve()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
