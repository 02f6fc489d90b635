package dom

import (
	"testing"

	"golang.org/x/net/html"
)

const nestedShadowPage = `<!DOCTYPE html><html><head></head><body>
<div id="host">
  <template shadowrootmode="open">
    <div id="level1"><pre><code>one</code></pre>
      <template shadowrootmode="open">
        <div id="level2"><pre><code>two</code></pre>
          <template shadowrootmode="open">
            <pre><code>three</code></pre>
          </template>
        </div>
      </template>
    </div>
  </template>
</div>
<pre><code>light</code></pre>
</body></html>`

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	d, err := ParseString(s)
	if err != nil {
		t.Fatalf("ParseString() error: %v", err)
	}
	return d
}

func TestCollectShadowRootsThreeLevels(t *testing.T) {
	d := mustParse(t, nestedShadowPage)
	body := d.Body()

	var roots []*html.Node
	d.View(func(*html.Node) { roots = CollectShadowRoots(body) })

	if len(roots) != 4 {
		t.Fatalf("expected 4 roots (start + 3 shadow roots), got %d", len(roots))
	}
	if roots[0] != body {
		t.Error("expected the start node to be the first root")
	}
	seen := map[*html.Node]bool{}
	for _, r := range roots {
		if seen[r] {
			t.Error("root returned twice")
		}
		seen[r] = true
	}
	for _, r := range roots[1:] {
		if !IsShadowRoot(r) {
			t.Errorf("expected shadow root, got <%s>", r.Data)
		}
	}
}

func TestCollectShadowRootsWithoutShadow(t *testing.T) {
	d := mustParse(t, `<html><body><div><p>x</p></div></body></html>`)
	body := d.Body()
	var roots []*html.Node
	d.View(func(*html.Node) { roots = CollectShadowRoots(body) })
	if len(roots) != 1 || roots[0] != body {
		t.Fatalf("expected only the start node, got %d roots", len(roots))
	}
	if CollectShadowRoots(nil) != nil {
		t.Error("expected nil for nil start")
	}
}

func TestQueryAllStaysInsideRoot(t *testing.T) {
	d := mustParse(t, nestedShadowPage)
	sel := MustCompile("pre code")

	d.View(func(root *html.Node) {
		body := QueryFirst(root, MustCompile("body"))
		light := QueryAll(body, sel)
		if len(light) != 1 || TextContent(light[0]) != "light" {
			t.Fatalf("expected only the light-DOM block, got %d", len(light))
		}

		roots := CollectShadowRoots(body)
		var texts []string
		for _, r := range roots {
			for _, n := range QueryAll(r, sel) {
				texts = append(texts, TextContent(n))
			}
		}
		want := []string{"light", "one", "two", "three"}
		if len(texts) != len(want) {
			t.Fatalf("expected %v, got %v", want, texts)
		}
		for i := range want {
			if texts[i] != want[i] {
				t.Errorf("block %d: expected %q, got %q", i, want[i], texts[i])
			}
		}
	})
}

func TestClosestStopsAtShadowBoundary(t *testing.T) {
	d := mustParse(t, nestedShadowPage)
	d.View(func(root *html.Node) {
		host := QueryFirst(root, MustCompile("#host"))
		shadow := ShadowRoot(host)
		if shadow == nil {
			t.Fatal("expected #host to have a shadow root")
		}
		code := QueryFirst(shadow, MustCompile("code"))
		if got := Closest(code, MustCompile("pre")); got == nil || got.Data != "pre" {
			t.Error("expected to find the enclosing pre")
		}
		if got := Closest(code, MustCompile("body")); got != nil {
			t.Error("expected Closest not to cross the shadow boundary")
		}
	})
}

func TestTextContentSkipsNestedShadow(t *testing.T) {
	d := mustParse(t, `<html><body><div id="x">a<span>b</span><div><template shadowrootmode="open">hidden</template></div>c</div></body></html>`)
	d.View(func(root *html.Node) {
		x := QueryFirst(root, MustCompile("#x"))
		if got := TextContent(x); got != "abc" {
			t.Errorf("expected %q, got %q", "abc", got)
		}
	})
}

func TestHasClassAndAttr(t *testing.T) {
	n := NewElement("code", html.Attribute{Key: "class", Val: "hljs language-mermaid"})
	if !HasClass(n, "language-mermaid") {
		t.Error("expected class to match")
	}
	if HasClass(n, "language") {
		t.Error("expected partial class not to match")
	}
	SetAttr(n, "data-lang", "mermaid")
	if v, ok := Attr(n, "data-lang"); !ok || v != "mermaid" {
		t.Errorf("expected data-lang=mermaid, got %q", v)
	}
	SetAttr(n, "data-lang", "go")
	if v, _ := Attr(n, "data-lang"); v != "go" {
		t.Errorf("expected overwrite, got %q", v)
	}
}
