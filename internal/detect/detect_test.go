package detect

import (
	"strings"
	"testing"

	"golang.org/x/net/html"

	"github.com/ziadkadry99/chatdiagram/internal/dom"
)

func TestIsDiagramKeywords(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"flowchart TD", "flowchart TD\n  A-->B", true},
		{"graph LR", "graph LR\nA-->B", true},
		{"graph without direction", "graph\nA-->B", false},
		{"sequence", "sequenceDiagram\n  Alice->>Bob: hi", true},
		{"class", "classDiagram\n  Animal <|-- Duck", true},
		{"state", "stateDiagram\n  [*] --> Still", true},
		{"state v2", "stateDiagram-v2\n  [*] --> Still", true},
		{"er", "erDiagram\n  CUSTOMER ||--o{ ORDER : places", true},
		{"journey", "journey\n  title My day", true},
		{"gantt", "gantt\n  title Plan", true},
		{"pie", "pie title Pets\n  \"Dogs\" : 386", true},
		{"quadrant", "quadrantChart\n  title Reach", true},
		{"requirement", "requirementDiagram\n", true},
		{"gitgraph", "gitGraph\n  commit", true},
		{"mindmap", "mindmap\n  root", true},
		{"sankey", "sankey-beta\n  a,b,1", true},
		{"timeline", "timeline\n  title History", true},
		{"xychart", "xychart-beta\n  title Sales", true},
		{"case insensitive", "SEQUENCEDIAGRAM\n A->>B: x", true},
		{"keyword on later line", "%% comment\nsequenceDiagram\nA->>B: x", true},
		{"indented keyword", "   gantt\n", true},
		{"go code", "func main() {\n\tfmt.Println(\"graph\")\n}", false},
		{"prose mentioning pie", "I like apple pie", false},
		{"empty", "   ", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDiagram(tt.text, ""); got != tt.want {
				t.Errorf("IsDiagram(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestIsDiagramLanguageHintWins(t *testing.T) {
	if !IsDiagram("A --> B", "mermaid") {
		t.Error("expected mermaid hint to qualify without a keyword")
	}
	if !IsDiagram("A --> B", "  Mermaid ") {
		t.Error("expected hint match to ignore case and whitespace")
	}
	if IsDiagram("A --> B", "python") {
		t.Error("expected unknown hint without keyword to be rejected")
	}
	if IsDiagram("", "mermaid") {
		t.Error("expected empty text to be rejected even with a hint")
	}
}

func TestLanguageHintPriority(t *testing.T) {
	tests := []struct {
		name  string
		attrs []html.Attribute
		want  string
	}{
		{
			"code block language wins",
			[]html.Attribute{
				{Key: "class", Val: "language-go"},
				{Key: "data-lang", Val: "python"},
				{Key: "data-language", Val: "rust"},
				{Key: "data-code-language", Val: "ruby"},
				{Key: "data-code-block-language", Val: "Mermaid"},
			},
			"mermaid",
		},
		{
			"code language over language",
			[]html.Attribute{{Key: "data-language", Val: "rust"}, {Key: "data-code-language", Val: "ruby"}},
			"ruby",
		},
		{
			"language over lang",
			[]html.Attribute{{Key: "data-lang", Val: "python"}, {Key: "data-language", Val: "rust"}},
			"rust",
		},
		{
			"lang over class",
			[]html.Attribute{{Key: "class", Val: "language-go"}, {Key: "data-lang", Val: "python"}},
			"python",
		},
		{
			"class fallback",
			[]html.Attribute{{Key: "class", Val: "hljs language-Mermaid"}},
			"mermaid",
		},
		{
			"no hint",
			[]html.Attribute{{Key: "class", Val: "hljs"}},
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := dom.NewElement("code", tt.attrs...)
			if got := LanguageHint(n); got != tt.want {
				t.Errorf("LanguageHint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func scanPage(t *testing.T, page string) ([]Candidate, *dom.Document) {
	t.Helper()
	d, err := dom.ParseString(page)
	if err != nil {
		t.Fatalf("ParseString() error: %v", err)
	}
	var cands []Candidate
	d.View(func(root *html.Node) {
		body := dom.QueryFirst(root, dom.MustCompile("body"))
		cands = Scan(dom.CollectShadowRoots(body), DefaultSelectors())
	})
	return cands, d
}

func TestScanFindsDiagramsAndSkipsCode(t *testing.T) {
	cands, _ := scanPage(t, `<html><body>
<p>sequenceDiagram is a keyword but this is prose</p>
<pre><code class="language-go">package main</code></pre>
<pre><code class="language-mermaid">A --> B</code></pre>
<div data-code-block-language="python"><code>print(1)</code></div>
<pre><code>  sequenceDiagram
    Alice->>Bob: Hello
</code></pre>
</body></html>`)

	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if cands[0].Language != "mermaid" || cands[0].Definition != "A --> B" {
		t.Errorf("unexpected first candidate: %+v", cands[0])
	}
	if cands[1].Definition != "sequenceDiagram\n    Alice->>Bob: Hello" {
		t.Errorf("expected trimmed definition, got %q", cands[1].Definition)
	}
	for _, c := range cands {
		if c.Container.Data != "pre" {
			t.Errorf("expected pre container, got <%s>", c.Container.Data)
		}
	}
}

func TestScanDeduplicatesOverlappingSelectors(t *testing.T) {
	// Matches "pre code", "code[data-language]" and the class selector.
	cands, _ := scanPage(t, `<html><body><pre><code data-language="mermaid" class="language-mermaid">graph TD
A-->B</code></pre></body></html>`)
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
}

func TestScanInsideShadowRoots(t *testing.T) {
	cands, _ := scanPage(t, `<html><body><openai-chatkit><template shadowrootmode="open">
<div class="msg"><div><template shadowrootmode="open"><pre><code>gantt
title Plan</code></pre></template></div></div>
</template></openai-chatkit></body></html>`)
	if len(cands) != 1 {
		t.Fatalf("expected the nested block to be found, got %d", len(cands))
	}
}

func TestResolveContainer(t *testing.T) {
	d, _ := dom.ParseString(`<html><body>
<figure id="fig"><figcaption>Flow</figcaption><code id="c1" data-language="mermaid">x</code></figure>
<pre id="p"><div data-code-block="1"><code id="c2">y</code></div></pre>
<code id="c3" class="language-mermaid">z</code>
<div id="ed" data-lexical-editor="true"><p>Intro prose</p><code id="c4" data-language="mermaid">w</code><p>After prose</p></div>
<div id="wrap" data-code-block-language="mermaid"><span id="c5">v</span></div>
</body></html>`)

	tests := []struct {
		block string
		want  string
	}{
		{block: "c1", want: "c1"},
		{block: "c2", want: "p"},
		{block: "c3", want: "c3"},
		{block: "c4", want: "c4"},
		{block: "c5", want: "wrap"},
	}

	d.View(func(root *html.Node) {
		get := func(id string) *html.Node { return dom.QueryFirst(root, dom.MustCompile("#"+id)) }
		for _, tt := range tests {
			t.Run(tt.block, func(t *testing.T) {
				got := ResolveContainer(get(tt.block))
				if got != get(tt.want) {
					id, _ := dom.Attr(got, "id")
					t.Errorf("ResolveContainer(#%s) = <%s id=%q>, want #%s", tt.block, got.Data, id, tt.want)
				}
			})
		}
	})
}

func TestScanReportsDocumentOrder(t *testing.T) {
	// The pie matches only ".mermaid", which comes after "pre code" in
	// the selector list.
	cands, _ := scanPage(t, `<html><body>
<div class="mermaid">pie title Pets
"Dogs" : 3</div>
<pre><code>sequenceDiagram
A->>B: hi</code></pre>
</body></html>`)
	if len(cands) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(cands))
	}
	if !strings.HasPrefix(cands[0].Definition, "pie") {
		t.Errorf("expected the pie first, got %q", cands[0].Definition)
	}
	if !strings.HasPrefix(cands[1].Definition, "sequenceDiagram") {
		t.Errorf("expected the sequence second, got %q", cands[1].Definition)
	}
}
