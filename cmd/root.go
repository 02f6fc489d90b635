package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/chatdiagram/internal/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "chatdiagram",
	Short: "Render the diagrams a chat assistant writes",
	Long: `chatdiagram serves a chat page that watches the assistant's replies for
Mermaid code blocks and swaps them for rendered diagrams, next to a
standalone editor panel. The same pipeline renders diagrams in Markdown
files and is available to AI agents over MCP.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
