package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/chatdiagram/internal/detect"
	"github.com/ziadkadry99/chatdiagram/internal/markdown"
	"github.com/ziadkadry99/chatdiagram/internal/render"
	"github.com/ziadkadry99/chatdiagram/internal/repair"
)

// handleClassifyDiagram reports whether a block would be rendered as a diagram.
func (s *Server) handleClassifyDiagram(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: text"), nil
	}
	language := request.GetString("language", "")

	switch {
	case strings.TrimSpace(text) == "":
		return mcp.NewToolResultText("not a diagram: the block is empty"), nil
	case detect.IsHint(language):
		return mcp.NewToolResultText(fmt.Sprintf("diagram: the %q language hint marks it", language)), nil
	case detect.IsDiagram(text, ""):
		return mcp.NewToolResultText("diagram: a line opens with a diagram keyword"), nil
	}
	return mcp.NewToolResultText("not a diagram"), nil
}

// handleRenderDiagram renders one definition through the adapter.
func (s *Server) handleRenderDiagram(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, err := request.RequireString("definition")
	if err != nil || strings.TrimSpace(def) == "" {
		return mcp.NewToolResultError("missing required parameter: definition"), nil
	}

	def = strings.TrimSpace(def)
	if request.GetBool("tidy", false) {
		def = repair.Tidy(def)
	}

	buf := &render.Buffer{}
	st, err := s.renderer.Render(ctx, buf, def, "")
	content, _ := buf.Content()
	if st == render.StateRaw || st == render.StateDiscarded {
		msg := "The diagram could not be rendered."
		if err != nil {
			msg = fmt.Sprintf("The diagram could not be rendered: %v", err)
		}
		return mcp.NewToolResultError(msg), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "State: %s\n", st)
	if err != nil {
		fmt.Fprintf(&sb, "Note: %v\n", err)
	}
	sb.WriteString("\n")
	sb.WriteString(content)
	return mcp.NewToolResultText(sb.String()), nil
}

// handleDiagramLinks returns shareable links for a definition.
func (s *Server) handleDiagramLinks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, err := request.RequireString("definition")
	if err != nil || strings.TrimSpace(def) == "" {
		return mcp.NewToolResultError("missing required parameter: definition"), nil
	}

	var sb strings.Builder
	if live := render.LiveURL(def); live != "" {
		fmt.Fprintf(&sb, "Editor: %s\n", live)
	}
	fmt.Fprintf(&sb, "SVG: %s\n", render.InkURL(s.inkBase, def))
	return mcp.NewToolResultText(sb.String()), nil
}

// handleExtractDiagrams converts Markdown and renders the diagrams in it.
func (s *Server) handleExtractDiagrams(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	src, err := request.RequireString("markdown")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: markdown"), nil
	}
	title := request.GetString("title", "Document")

	res, err := s.extractor.Extract(ctx, title, []byte(src))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("extraction failed: %v", err)), nil
	}
	if len(res.Diagrams) == 0 {
		return mcp.NewToolResultText("No diagrams found."), nil
	}

	text := formatDiagrams(res)
	if request.GetBool("include_html", false) {
		text += "\n--- HTML ---\n" + res.HTML
	}
	return mcp.NewToolResultText(text), nil
}

// formatDiagrams summarizes an extraction for AI agent consumption.
func formatDiagrams(res *markdown.Result) string {
	var sb strings.Builder
	counts := res.Counts()
	sb.WriteString(fmt.Sprintf("Found %d diagram(s): %d rendered, %d remote, %d raw\n",
		len(res.Diagrams), counts[render.StateRendered], counts[render.StateRemote], counts[render.StateRaw]))

	for i, d := range res.Diagrams {
		sb.WriteString(fmt.Sprintf("\n--- Diagram %d ---\n", i+1))
		sb.WriteString(fmt.Sprintf("ID: %s\n", d.ID))
		if d.Language != "" {
			sb.WriteString(fmt.Sprintf("Language: %s\n", d.Language))
		}
		sb.WriteString(fmt.Sprintf("State: %s\n", d.State))
		if live := render.LiveURL(d.Definition); live != "" {
			sb.WriteString(fmt.Sprintf("Editor: %s\n", live))
		}
		sb.WriteString("\n")
		sb.WriteString(d.Definition)
		sb.WriteString("\n")
	}

	return sb.String()
}
