package mcp

import "github.com/mark3labs/mcp-go/mcp"

// classifyDiagramTool defines the classify_diagram MCP tool.
var classifyDiagramTool = mcp.NewTool("classify_diagram",
	mcp.WithDescription("Check whether a code block is a Mermaid diagram definition."),
	mcp.WithString("text",
		mcp.Required(),
		mcp.Description("Contents of the code block"),
	),
	mcp.WithString("language",
		mcp.Description("Language hint attached to the block, e.g. mermaid"),
	),
)

// renderDiagramTool defines the render_diagram MCP tool.
var renderDiagramTool = mcp.NewTool("render_diagram",
	mcp.WithDescription("Render a Mermaid definition to SVG. Falls back to the remote renderer, then to the raw definition."),
	mcp.WithString("definition",
		mcp.Required(),
		mcp.Description("Mermaid diagram definition"),
	),
	mcp.WithBoolean("tidy",
		mcp.Description("Fix common flowchart syntax mistakes before rendering (default false)"),
	),
)

// diagramLinksTool defines the diagram_links MCP tool.
var diagramLinksTool = mcp.NewTool("diagram_links",
	mcp.WithDescription("Get a live editor link and a remote SVG link for a Mermaid definition."),
	mcp.WithString("definition",
		mcp.Required(),
		mcp.Description("Mermaid diagram definition"),
	),
)

// extractDiagramsTool defines the extract_diagrams MCP tool.
var extractDiagramsTool = mcp.NewTool("extract_diagrams",
	mcp.WithDescription("Find every diagram in a Markdown document and render it. Returns the diagrams and, optionally, the rendered HTML page."),
	mcp.WithString("markdown",
		mcp.Required(),
		mcp.Description("Markdown source"),
	),
	mcp.WithString("title",
		mcp.Description("Title for the rendered page"),
	),
	mcp.WithBoolean("include_html",
		mcp.Description("Include the rendered HTML page in the result (default false)"),
	),
)
