// Package markdown runs the diagram pipeline over Markdown files: the
// file becomes an HTML page, diagram code blocks in it are swapped for
// rendered diagrams and the page is written back out.
package markdown

import (
	"bytes"
	"context"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/ziadkadry99/chatdiagram/internal/dom"
	"github.com/ziadkadry99/chatdiagram/internal/pipeline"
	"github.com/ziadkadry99/chatdiagram/internal/render"
)

// HostSelector is the element the pipeline watches in a converted page.
const HostSelector = "article"

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
.diagram-mount { margin: 1.5em 0; overflow-x: auto; }
.diagram-mount svg { max-width: 100%%; height: auto; }
</style>
</head>
<body><article>%s</article></body>
</html>
`

// Options configures an Extractor.
type Options struct {
	// Selectors override the code block selectors.
	Selectors []string
	// Style is the syntax highlighting style for non-diagram code.
	Style string
}

// Diagram describes one diagram found in a page.
type Diagram struct {
	ID         string       `json:"id"`
	Definition string       `json:"definition"`
	Language   string       `json:"language,omitempty"`
	State      render.State `json:"state"`
}

// Result is one converted page.
type Result struct {
	HTML     string    `json:"html"`
	Diagrams []Diagram `json:"diagrams"`
}

// Counts tallies diagrams by final state.
func (r *Result) Counts() map[render.State]int {
	out := make(map[render.State]int)
	for _, d := range r.Diagrams {
		out[d.State]++
	}
	return out
}

// Extractor converts Markdown and renders the diagrams in it. One
// Extractor may serve many pages concurrently; it shares the renderer.
type Extractor struct {
	md       goldmark.Markdown
	renderer pipeline.Renderer
	opts     Options
}

// New creates an Extractor.
func New(r pipeline.Renderer, opts Options) *Extractor {
	if opts.Style == "" {
		opts.Style = "github"
	}
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle(opts.Style),
			),
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
		),
		goldmark.WithRendererOptions(
			gmhtml.WithUnsafe(),
		),
	)
	return &Extractor{md: md, renderer: r, opts: opts}
}

// Convert renders Markdown to an HTML fragment.
func (e *Extractor) Convert(src []byte) (string, error) {
	var buf bytes.Buffer
	if err := e.md.Convert(src, &buf); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}
	return buf.String(), nil
}

// Page converts src and wraps it in a standalone document.
func (e *Extractor) Page(title string, src []byte) (*dom.Document, error) {
	body, err := e.Convert(src)
	if err != nil {
		return nil, err
	}
	doc, err := dom.ParseString(fmt.Sprintf(pageTemplate, html.EscapeString(title), body))
	if err != nil {
		return nil, fmt.Errorf("parsing page: %w", err)
	}
	return doc, nil
}

// Extract converts src, renders every diagram in it and returns the final
// page. Cancelling ctx abandons renders still in flight.
func (e *Extractor) Extract(ctx context.Context, title string, src []byte) (*Result, error) {
	doc, err := e.Page(title, src)
	if err != nil {
		return nil, err
	}
	p, err := pipeline.New(doc, e.renderer, pipeline.Options{
		HostSelector: HostSelector,
		Selectors:    e.opts.Selectors,
	})
	if err != nil {
		return nil, err
	}
	defer p.Close()

	p.Scan()
	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.Close()
		<-done
		return nil, ctx.Err()
	}

	res := &Result{HTML: doc.HTML()}
	for _, m := range p.Mounts() {
		res.Diagrams = append(res.Diagrams, Diagram{
			ID:         m.ID,
			Definition: m.Definition,
			Language:   m.Language,
			State:      m.State(),
		})
	}
	return res, nil
}
