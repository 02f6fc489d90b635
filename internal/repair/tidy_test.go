package repair

import "testing"

func TestTidy(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "fences stripped",
			in:   "```mermaid\ngraph TD\nA-->B\n```",
			want: "graph TD\nA --> B",
		},
		{
			name: "duplicate header dropped",
			in:   "graph TD\ngraph TD\n\nA --> B",
			want: "graph TD\nA --> B",
		},
		{
			name: "unbalanced subgraph closed",
			in:   "graph LR\nsubgraph one\nA --> B",
			want: "graph LR\nsubgraph one\nA --> B\nend",
		},
		{
			name: "stray end dropped",
			in:   "graph LR\nA --> B\nend",
			want: "graph LR\nA --> B",
		},
		{
			name: "ids and labels escaped",
			in:   "flowchart TD\nAPI&DB --> Cache[Redis (primary)]",
			want: "flowchart TD\nAPI_DB --> Cache[\"Redis #lpar;primary#rpar;\"]",
		},
		{
			name: "quoted label",
			in:   "graph TD\n  Start[\"say \"hi\"\"]",
			want: "graph TD\n  Start[\"say #quot;hi#quot;\"]",
		},
		{
			name: "class suffix kept",
			in:   "graph TD\nA[Box]:::hot --> B",
			want: "graph TD\nA[\"Box\"]:::hot --> B",
		},
		{
			name: "edge label",
			in:   "graph TD\nA -->|yes (ok)| B",
			want: "graph TD\nA -->|yes (ok)| B",
		},
		{
			name: "directives pass through",
			in:   "graph TD\nclassDef hot fill:#f00\nA --> B",
			want: "graph TD\nclassDef hot fill:#f00\nA --> B",
		},
		{
			name: "chained edges unchanged",
			in:   "graph TD\nA --> B --> C",
			want: "graph TD\nA --> B --> C",
		},
		{
			name: "text edge unchanged",
			in:   "graph TD\nA -- yes --> B",
			want: "graph TD\nA -- yes --> B",
		},
		{
			name: "unclosed label unchanged",
			in:   "graph TD\nA[open --> B",
			want: "graph TD\nA[open --> B",
		},
		{
			name: "not a flowchart",
			in:   "sequenceDiagram\n  A->>B: hi (there)",
			want: "sequenceDiagram\n  A->>B: hi (there)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Tidy(tt.in); got != tt.want {
				t.Errorf("Tidy() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}
