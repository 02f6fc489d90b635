package progress

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestLineReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewLineReporter(&buf)

	r.Start(3)
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Update(i, fmt.Sprintf("doc%d.md", i))
		}()
	}
	wg.Wait()
	r.Finish()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d:\n%s", len(lines), buf.String())
	}
	if lines[0] != "Rendering diagrams in 3 files" {
		t.Errorf("first line = %q", lines[0])
	}
	for _, want := range []string{"[1/3] doc1.md", "[2/3] doc2.md", "[3/3] doc3.md"} {
		if !strings.Contains(buf.String(), want+"\n") {
			t.Errorf("missing %q", want)
		}
	}
	if lines[4] != "Rendering complete" {
		t.Errorf("last line = %q", lines[4])
	}
}

func TestTerminalReporterWithoutStart(t *testing.T) {
	r := &TerminalReporter{w: &bytes.Buffer{}}
	r.Update(1, "ignored")
	r.Finish()
}
