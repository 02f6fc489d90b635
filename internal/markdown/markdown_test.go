package markdown

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/ziadkadry99/chatdiagram/internal/render"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubEngine struct{}

func (stubEngine) Initialize(render.EngineConfig) {}

func (stubEngine) Render(_ context.Context, id, _ string) (*render.Result, error) {
	return &render.Result{SVG: `<svg id="` + id + `"><g class="stub"></g></svg>`}, nil
}

func workingAdapter() *render.Adapter {
	return render.NewAdapter(render.Options{
		Loader: render.LoaderFunc(func(context.Context) (render.Engine, error) { return stubEngine{}, nil }),
	})
}

const doc = "# Release notes\n\n" +
	"Some prose about `pie` charts.\n\n" +
	"```mermaid\nsequenceDiagram\n  Alice->>Bob: Hi\n```\n\n" +
	"```go\nfunc main() {}\n```\n\n" +
	"```\ngraph TD\n  A-->B\n```\n"

func TestExtractRendersDiagrams(t *testing.T) {
	e := New(workingAdapter(), Options{})
	res, err := e.Extract(context.Background(), "Notes & more", []byte(doc))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(res.Diagrams) != 2 {
		t.Fatalf("expected 2 diagrams, got %d: %+v", len(res.Diagrams), res.Diagrams)
	}
	if res.Diagrams[0].Definition != "sequenceDiagram\n  Alice->>Bob: Hi" {
		t.Errorf("unexpected first definition %q", res.Diagrams[0].Definition)
	}
	if got := res.Counts()[render.StateRendered]; got != 2 {
		t.Errorf("expected 2 rendered, got %v", res.Counts())
	}

	if strings.Count(res.HTML, `class="stub"`) != 2 {
		t.Errorf("expected both diagrams painted into the page")
	}
	if !strings.Contains(res.HTML, "main") {
		t.Error("expected the go block to stay in place")
	}
	if !strings.Contains(res.HTML, "<title>Notes &amp; more</title>") {
		t.Error("expected escaped title")
	}
	if !strings.Contains(res.HTML, `id="release-notes"`) {
		t.Error("expected heading ids")
	}
	if strings.Contains(res.HTML, "Alice-&gt;&gt;Bob") {
		t.Error("expected the sequence source to be replaced")
	}
}

func TestExtractFallsBackToRaw(t *testing.T) {
	a := render.NewAdapter(render.Options{
		Loader: render.LoaderFunc(func(context.Context) (render.Engine, error) {
			return nil, errors.New("offline")
		}),
	})
	res, err := New(a, Options{}).Extract(context.Background(), "raw", []byte("```\npie\n  \"a\": 1\n```\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Diagrams) != 1 || res.Diagrams[0].State != render.StateRaw {
		t.Fatalf("expected one raw diagram, got %+v", res.Diagrams)
	}
	if !strings.Contains(res.HTML, `class="diagram-source"`) {
		t.Error("expected the raw definition to be shown")
	}
}

func TestExtractWithoutDiagrams(t *testing.T) {
	res, err := New(workingAdapter(), Options{}).Extract(context.Background(), "plain", []byte("just some prose\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Diagrams) != 0 {
		t.Errorf("expected no diagrams, got %+v", res.Diagrams)
	}
	if !strings.Contains(res.HTML, "<p>just some prose</p>") {
		t.Errorf("expected prose untouched, got %s", res.HTML)
	}
}

func TestExtractCancelled(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	a := render.NewAdapter(render.Options{
		Loader: render.LoaderFunc(func(ctx context.Context) (render.Engine, error) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return nil, errors.New("gone")
		}),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(a, Options{}).Extract(ctx, "x", []byte("```\ngraph LR\n  A-->B\n```\n")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
