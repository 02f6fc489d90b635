package detect

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/ziadkadry99/chatdiagram/internal/dom"
)

// CodeSelectors locate code blocks as chat widgets render them: plain
// pre>code, language-tagged code, rich-editor blocks and pre-classed
// mermaid containers.
var CodeSelectors = []string{
	"pre code",
	"code[data-language]",
	"code[data-lang]",
	`code[class*="language-"]`,
	"[data-code-block-language]",
	"[data-code-language]",
	"[data-lexical-editor][data-language]",
	"[data-lexical-editor][data-lang]",
	".mermaid",
	".language-mermaid",
	".lang-mermaid",
}

// containerSelectors mark the element that holds exactly one code block.
// Broader wrappers such as figures or editor roots also hold prose and are
// never replaced.
var containerSelectors = dom.MustCompile(
	"[data-code-block-language], [data-code-language], [data-language], " +
		"[data-lang], .mermaid, code",
)

var preSelector = dom.MustCompile("pre")

// Candidate is a code block recognized as a diagram.
type Candidate struct {
	// Definition is the trimmed text of the block.
	Definition string
	Language   string
	Block      *html.Node
	// Container is the node the mount replaces.
	Container *html.Node
}

// CompileSelectors compiles a selector list, skipping empty entries.
func CompileSelectors(sels []string) ([]dom.Selector, error) {
	out := make([]dom.Selector, 0, len(sels))
	for _, s := range sels {
		if strings.TrimSpace(s) == "" {
			continue
		}
		c, err := dom.Compile(s)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DefaultSelectors returns CodeSelectors compiled.
func DefaultSelectors() []dom.Selector {
	sels, err := CompileSelectors(CodeSelectors)
	if err != nil {
		panic(err)
	}
	return sels
}

// anyOf matches an element matched by at least one selector.
type anyOf []dom.Selector

func (a anyOf) Match(n *html.Node) bool {
	for _, sel := range a {
		if sel.Match(n) {
			return true
		}
	}
	return false
}

// Scan finds diagram blocks in every root, in document order within each
// root. A block matched by several selectors is reported once. Must run
// inside a document View or Update.
func Scan(roots []*html.Node, selectors []dom.Selector) []Candidate {
	var out []Candidate
	seen := make(map[*html.Node]struct{})
	containers := make(map[*html.Node]struct{})
	match := anyOf(selectors)
	for _, root := range roots {
		for _, block := range dom.QueryAll(root, match) {
			if _, ok := seen[block]; ok {
				continue
			}
			seen[block] = struct{}{}

			text := strings.TrimSpace(dom.TextContent(block))
			if text == "" {
				continue
			}
			lang := LanguageHint(block)
			if !IsDiagram(text, lang) {
				continue
			}
			container := ResolveContainer(block)
			if _, ok := containers[container]; ok {
				continue
			}
			containers[container] = struct{}{}
			out = append(out, Candidate{
				Definition: text,
				Language:   lang,
				Block:      block,
				Container:  container,
			})
		}
	}
	return out
}

// ResolveContainer picks the node to replace for block: the nearest pre
// (itself included), otherwise the closest recognized code container,
// otherwise the block itself.
func ResolveContainer(block *html.Node) *html.Node {
	if pre := dom.Closest(block, preSelector); pre != nil {
		return pre
	}
	if c := dom.Closest(block, containerSelectors); c != nil {
		return c
	}
	return block
}
