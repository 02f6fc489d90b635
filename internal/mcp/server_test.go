package mcp

import (
	"context"
	"errors"
	"html"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/chatdiagram/internal/render"
)

// stubEngine implements render.Engine for testing.
type stubEngine struct{}

func (stubEngine) Initialize(render.EngineConfig) {}

func (stubEngine) Render(_ context.Context, id, def string) (*render.Result, error) {
	return &render.Result{SVG: `<svg id="` + id + `"><g class="stub"></g><desc>` + html.EscapeString(def) + `</desc></svg>`}, nil
}

func newTestServer(engineErr error) *Server {
	a := render.NewAdapter(render.Options{
		Loader: render.LoaderFunc(func(context.Context) (render.Engine, error) {
			if engineErr != nil {
				return nil, engineErr
			}
			return stubEngine{}, nil
		}),
	})
	return NewServer(a, "https://ink.example")
}

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, r *mcp.CallToolResult) string {
	t.Helper()
	if len(r.Content) == 0 {
		t.Fatal("empty result")
	}
	tc, ok := r.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", r.Content[0])
	}
	return tc.Text
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name     string
		tool     mcp.Tool
		wantName string
	}{
		{"classify_diagram", classifyDiagramTool, "classify_diagram"},
		{"render_diagram", renderDiagramTool, "render_diagram"},
		{"diagram_links", diagramLinksTool, "diagram_links"},
		{"extract_diagrams", extractDiagramsTool, "extract_diagrams"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.tool.Name != tt.wantName {
				t.Errorf("tool name = %q, want %q", tt.tool.Name, tt.wantName)
			}
			if tt.tool.Description == "" {
				t.Error("tool description should not be empty")
			}
		})
	}
}

func TestNewServer(t *testing.T) {
	srv := newTestServer(nil)
	if srv.mcp == nil {
		t.Fatal("MCP server not initialized")
	}
	if srv.extractor == nil {
		t.Fatal("extractor not initialized")
	}
	if srv.inkBase != "https://ink.example" {
		t.Errorf("inkBase = %q", srv.inkBase)
	}
}

func TestHandleClassifyDiagram(t *testing.T) {
	srv := newTestServer(nil)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"keyword", map[string]any{"text": "graph TD\n  A-->B"}, "diagram: a line opens"},
		{"hint", map[string]any{"text": "A-->B", "language": "mermaid"}, `diagram: the "mermaid" language hint`},
		{"prose", map[string]any{"text": "just a sentence about a graph"}, "not a diagram"},
		{"empty", map[string]any{"text": "  ", "language": "mermaid"}, "not a diagram: the block is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := srv.handleClassifyDiagram(ctx, call(tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := resultText(t, res); !strings.HasPrefix(got, tt.want) {
				t.Errorf("got %q, want prefix %q", got, tt.want)
			}
		})
	}

	res, _ := srv.handleClassifyDiagram(ctx, call(map[string]any{}))
	if !res.IsError {
		t.Error("expected error for missing text")
	}
}

func TestHandleRenderDiagram(t *testing.T) {
	ctx := context.Background()

	t.Run("rendered", func(t *testing.T) {
		res, err := newTestServer(nil).handleRenderDiagram(ctx, call(map[string]any{"definition": "graph TD\n  A-->B"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.IsError {
			t.Fatalf("unexpected tool error: %v", res.Content)
		}
		text := resultText(t, res)
		if !strings.HasPrefix(text, "State: rendered") || !strings.Contains(text, `class="stub"`) {
			t.Errorf("unexpected result %q", text)
		}
	})

	t.Run("tidy", func(t *testing.T) {
		def := "```mermaid\ngraph TD\nAPI&DB --> Cache\n```"
		res, _ := newTestServer(nil).handleRenderDiagram(ctx, call(map[string]any{"definition": def, "tidy": true}))
		if res.IsError {
			t.Fatalf("unexpected tool error: %v", res.Content)
		}
		if text := resultText(t, res); !strings.Contains(text, "API_DB --&gt; Cache") {
			t.Errorf("expected the tidied definition to be rendered, got %q", text)
		}

		res, _ = newTestServer(nil).handleRenderDiagram(ctx, call(map[string]any{"definition": def}))
		if text := resultText(t, res); strings.Contains(text, "API_DB") {
			t.Errorf("definition tidied without the flag: %q", text)
		}
	})

	t.Run("engine unavailable", func(t *testing.T) {
		res, err := newTestServer(errors.New("offline")).handleRenderDiagram(ctx, call(map[string]any{"definition": "graph TD\n  A-->B"}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.IsError {
			t.Error("expected a tool error when nothing can render")
		}
	})

	t.Run("missing definition", func(t *testing.T) {
		res, _ := newTestServer(nil).handleRenderDiagram(ctx, call(map[string]any{"definition": ""}))
		if !res.IsError {
			t.Error("expected error for empty definition")
		}
	})
}

func TestHandleDiagramLinks(t *testing.T) {
	res, err := newTestServer(nil).handleDiagramLinks(context.Background(), call(map[string]any{"definition": "graph TD\n  A-->B"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := resultText(t, res)
	if !strings.Contains(text, "Editor: "+render.LiveEditorURL) {
		t.Errorf("expected editor link, got %q", text)
	}
	if !strings.Contains(text, "SVG: https://ink.example/svg/pako:") {
		t.Errorf("expected ink link on the configured base, got %q", text)
	}
}

func TestHandleExtractDiagrams(t *testing.T) {
	srv := newTestServer(nil)
	ctx := context.Background()
	src := "# Flow\n\n```mermaid\ngraph LR\n  A-->B\n```\n\nDone.\n"

	t.Run("diagrams", func(t *testing.T) {
		res, err := srv.handleExtractDiagrams(ctx, call(map[string]any{"markdown": src, "include_html": true}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.IsError {
			t.Fatalf("unexpected tool error: %v", res.Content)
		}
		text := resultText(t, res)
		if !strings.HasPrefix(text, "Found 1 diagram(s): 1 rendered") {
			t.Errorf("unexpected summary %q", text)
		}
		if !strings.Contains(text, "--- HTML ---") || !strings.Contains(text, `class="stub"`) {
			t.Error("expected the rendered page")
		}
	})

	t.Run("no diagrams", func(t *testing.T) {
		res, _ := srv.handleExtractDiagrams(ctx, call(map[string]any{"markdown": "plain text\n"}))
		if got := resultText(t, res); got != "No diagrams found." {
			t.Errorf("got %q", got)
		}
	})

	t.Run("missing markdown", func(t *testing.T) {
		res, _ := srv.handleExtractDiagrams(ctx, call(map[string]any{}))
		if !res.IsError {
			t.Error("expected error for missing markdown")
		}
	})
}
