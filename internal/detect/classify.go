// Package detect decides whether a code block holds a diagram definition.
package detect

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"github.com/ziadkadry99/chatdiagram/internal/dom"
)

// languageHints are the block languages that always count as diagrams.
var languageHints = map[string]struct{}{
	"mermaid":            {},
	"flowchart":          {},
	"graph":              {},
	"sequence":           {},
	"sequencediagram":    {},
	"classdiagram":       {},
	"statediagram":       {},
	"statediagram-v2":    {},
	"erdiagram":          {},
	"journey":            {},
	"gantt":              {},
	"pie":                {},
	"quadrantchart":      {},
	"requirementdiagram": {},
	"gitgraph":           {},
	"mindmap":            {},
	"timeline":           {},
	"sankey":             {},
	"sankey-beta":        {},
	"xychart-beta":       {},
}

// definitionPatterns match a diagram keyword at the start of any line.
var definitionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?im)^\s*(graph|flowchart)\s+(TB|TD|LR|RL|BT)\b`),
	regexp.MustCompile(`(?im)^\s*sequenceDiagram\b`),
	regexp.MustCompile(`(?im)^\s*classDiagram\b`),
	regexp.MustCompile(`(?im)^\s*stateDiagram(-v2)?\b`),
	regexp.MustCompile(`(?im)^\s*erDiagram\b`),
	regexp.MustCompile(`(?im)^\s*journey\b`),
	regexp.MustCompile(`(?im)^\s*gantt\b`),
	regexp.MustCompile(`(?im)^\s*pie\b`),
	regexp.MustCompile(`(?im)^\s*quadrantChart\b`),
	regexp.MustCompile(`(?im)^\s*requirementDiagram\b`),
	regexp.MustCompile(`(?im)^\s*gitGraph\b`),
	regexp.MustCompile(`(?im)^\s*mindmap\b`),
	regexp.MustCompile(`(?im)^\s*sankey(-beta)?\b`),
	regexp.MustCompile(`(?im)^\s*timeline\b`),
	regexp.MustCompile(`(?im)^\s*xychart-beta\b`),
}

var languageClass = regexp.MustCompile(`(?i)language-([a-z0-9+-]+)`)

// hintAttrs are consulted in priority order.
var hintAttrs = []string{
	"data-code-block-language",
	"data-code-language",
	"data-language",
	"data-lang",
}

// IsDiagram reports whether text (with an optional language hint) is a
// diagram definition. A recognized hint wins outright; otherwise the text
// must open a line with a diagram keyword. Empty text never qualifies.
func IsDiagram(text, language string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if _, ok := languageHints[strings.ToLower(strings.TrimSpace(language))]; ok {
		return true
	}
	for _, re := range definitionPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// IsHint reports whether language alone marks a block as a diagram.
func IsHint(language string) bool {
	_, ok := languageHints[strings.ToLower(strings.TrimSpace(language))]
	return ok
}

// LanguageHint extracts the block language from n's attributes. Explicit
// data attributes win over a language-* class. The result is lowercased;
// "" means no hint.
func LanguageHint(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	for _, key := range hintAttrs {
		if v, ok := dom.Attr(n, key); ok && strings.TrimSpace(v) != "" {
			return strings.ToLower(strings.TrimSpace(v))
		}
	}
	if class, ok := dom.Attr(n, "class"); ok {
		if m := languageClass.FindStringSubmatch(class); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}
