package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/chatdiagram/internal/markdown"
	"github.com/ziadkadry99/chatdiagram/internal/pipeline"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server wraps an MCP server that exposes the diagram tools.
type Server struct {
	renderer  pipeline.Renderer
	extractor *markdown.Extractor
	inkBase   string
	mcp       *server.MCPServer
}

// NewServer creates a new MCP server that renders through r. inkBase is
// the remote renderer used for links; empty means the public one.
func NewServer(r pipeline.Renderer, inkBase string) *Server {
	s := &Server{
		renderer:  r,
		extractor: markdown.New(r, markdown.Options{}),
		inkBase:   inkBase,
	}

	s.mcp = server.NewMCPServer(
		"chatdiagram",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(classifyDiagramTool, s.handleClassifyDiagram)
	s.mcp.AddTool(renderDiagramTool, s.handleRenderDiagram)
	s.mcp.AddTool(diagramLinksTool, s.handleDiagramLinks)
	s.mcp.AddTool(extractDiagramsTool, s.handleExtractDiagrams)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
