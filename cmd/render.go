package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/chatdiagram/internal/db"
	"github.com/ziadkadry99/chatdiagram/internal/detect"
	"github.com/ziadkadry99/chatdiagram/internal/render"
	"github.com/ziadkadry99/chatdiagram/internal/repair"
)

var renderCmd = &cobra.Command{
	Use:   "render [file|-]",
	Short: "Render one diagram definition to SVG",
	Long:  `Reads a Mermaid definition from a file or stdin and prints the SVG. When no renderer is reachable the escaped definition is printed instead.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRender,
}

func init() {
	renderCmd.Flags().Bool("links", false, "print editor and remote SVG links instead of rendering")
	renderCmd.Flags().Bool("force", false, "render even if the text does not look like a diagram")
	renderCmd.Flags().StringP("out", "o", "", "write the SVG to a file")
	renderCmd.Flags().Bool("tidy", false, "fix common flowchart syntax mistakes before rendering")
	rootCmd.AddCommand(renderCmd)
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	links, _ := cmd.Flags().GetBool("links")
	force, _ := cmd.Flags().GetBool("force")
	out, _ := cmd.Flags().GetString("out")
	tidy, _ := cmd.Flags().GetBool("tidy")

	src := "-"
	if len(args) == 1 {
		src = args[0]
	}
	def, err := readDefinition(src)
	if err != nil {
		return err
	}
	if tidy {
		def = repair.Tidy(def)
	}
	if def == "" {
		return fmt.Errorf("empty definition")
	}
	if !force && !detect.IsDiagram(def, "") {
		return fmt.Errorf("input does not look like a diagram definition (use --force to render anyway)")
	}

	if links {
		if live := render.LiveURL(def); live != "" {
			fmt.Printf("Editor: %s\n", live)
		}
		fmt.Printf("SVG:    %s\n", render.InkURL(cfg.Render.InkBaseURL, def))
		return nil
	}

	var database *db.DB
	if d, err := openDatabase(cfg); err == nil {
		defer d.Close()
		database = d
	} else if verbose {
		warnf("render cache unavailable: %v", err)
	}

	buf := &render.Buffer{}
	st, rerr := newAdapter(cfg, database).Render(cmd.Context(), buf, def, "")
	content, _ := buf.Content()
	if rerr != nil && verbose {
		warnf("%v", rerr)
	}
	if st != render.StateRendered && st != render.StateRemote {
		fmt.Fprintln(os.Stderr, "Could not render the diagram; printing the definition.")
	}

	if out == "" {
		fmt.Println(content)
		return nil
	}
	if err := os.WriteFile(out, []byte(content+"\n"), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s (%s)\n", out, st)
	return nil
}

func readDefinition(src string) (string, error) {
	var (
		data []byte
		err  error
	)
	if src == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return "", fmt.Errorf("reading definition: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
