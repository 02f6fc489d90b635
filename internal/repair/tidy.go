package repair

import (
	"fmt"
	"regexp"
	"strings"
)

// Tidy fixes the flowchart mistakes models make most often without a
// model round trip: stray code fences, duplicate headers, unbalanced
// subgraphs, node ids with punctuation and labels with unquoted brackets.
// Definitions that are not flowcharts come back trimmed but otherwise
// unchanged, as do lines Tidy does not understand.
func Tidy(code string) string {
	code = StripFences(code)
	if !isFlowchart(code) {
		return code
	}

	var out []string
	hasHeader := false
	depth := 0
	for _, raw := range strings.Split(code, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "" || strings.HasPrefix(line, "```"):
			continue
		case strings.HasPrefix(line, "graph ") || strings.HasPrefix(line, "flowchart "):
			if !hasHeader {
				out = append(out, line)
				hasHeader = true
			}
		case strings.HasPrefix(line, "subgraph "):
			out = append(out, raw)
			depth++
		case line == "end":
			if depth > 0 {
				out = append(out, raw)
				depth--
			}
		case isDirective(line):
			out = append(out, raw)
		default:
			out = append(out, tidyLine(raw))
		}
	}
	for ; depth > 0; depth-- {
		out = append(out, "end")
	}
	return strings.Join(out, "\n")
}

func isFlowchart(code string) bool {
	for _, line := range strings.Split(code, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "%%") {
			continue
		}
		return strings.HasPrefix(line, "graph") || strings.HasPrefix(line, "flowchart")
	}
	return false
}

func isDirective(line string) bool {
	for _, p := range []string{"%%", "classDef ", "class ", "style ", "linkStyle ", "click ", "direction "} {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

var (
	// nodeDef matches ID["label"] or ID[label].
	nodeDef = regexp.MustCompile(`^(\s*)([^\s\[]+?)(\[.*)$`)
	// arrowLine matches ID --> ID and ID -->|label| ID.
	arrowLine = regexp.MustCompile(`^(\s*)([^\s\[]+?(?:\[[^\]]*\])?(?::::\S+)?)(\s*-->.*)$`)
	// arrowTarget splits the arrow from the target node.
	arrowTarget = regexp.MustCompile(`(-->(?:\|[^|]*\|)?\s*)(\S+)(.*)$`)
)

var idReplacer = strings.NewReplacer(
	"&", "_", "#", "_", "@", "_", "!", "_", "?", "_",
	"(", "_", ")", "_", "[", "_", "]", "_", "{", "_", "}", "_",
	"<", "_", ">", "_", ";", "_", ",", "_", "'", "_", "\"", "_",
)

func tidyID(id string) string { return idReplacer.Replace(id) }

// tidyLine rewrites one node or edge line. Anything else is returned as is.
func tidyLine(line string) string {
	if m := arrowLine.FindStringSubmatch(line); m != nil {
		indent, rawSource, rest := m[1], m[2], m[3]
		tm := arrowTarget.FindStringSubmatch(rest)
		if tm == nil || strings.Contains(tm[2]+tm[3], "--") {
			return line
		}
		sourceID, sourceLabel, sourceClass, ok := splitNode(rawSource)
		if !ok {
			return line
		}
		arrow := strings.TrimSpace(tm[1])
		targetID, targetLabel, targetClass, ok := splitNode(strings.TrimSpace(tm[2] + tm[3]))
		if !ok {
			return line
		}

		var buf strings.Builder
		buf.WriteString(indent)
		writeNode(&buf, sourceID, sourceLabel, sourceClass)
		fmt.Fprintf(&buf, " %s ", arrow)
		writeNode(&buf, targetID, targetLabel, targetClass)
		return buf.String()
	}

	if m := nodeDef.FindStringSubmatch(line); m != nil {
		id, label, class, ok := splitNode(m[2] + m[3])
		if !ok || label == "" {
			return line
		}
		var buf strings.Builder
		buf.WriteString(m[1])
		writeNode(&buf, id, label, class)
		return buf.String()
	}

	return line
}

func writeNode(buf *strings.Builder, id, label, class string) {
	buf.WriteString(tidyID(id))
	if label != "" {
		fmt.Fprintf(buf, `["%s"]`, escapeLabel(label))
	}
	buf.WriteString(class)
}

// splitNode splits ID["label"]:::class into its parts. ok is false when
// s holds anything else, such as an unclosed label or a chained edge.
func splitNode(s string) (id, label, class string, ok bool) {
	s = strings.TrimSpace(s)
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
		}
		if depth == 0 && strings.HasPrefix(s[i:], ":::") {
			class = s[i:]
			s = s[:i]
			if strings.ContainsAny(class, " \t") {
				return "", "", "", false
			}
			break
		}
	}

	open := strings.IndexByte(s, '[')
	if open < 0 {
		if s == "" || strings.ContainsAny(s, " \t") {
			return "", "", "", false
		}
		return s, "", class, true
	}
	id = s[:open]
	depth = 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth > 0 {
				continue
			}
			if strings.TrimSpace(s[i+1:]) != "" {
				return "", "", "", false
			}
			label = strings.TrimSpace(s[open+1 : i])
			if len(label) >= 2 && label[0] == '"' && label[len(label)-1] == '"' {
				label = label[1 : len(label)-1]
			}
			return id, label, class, true
		}
	}
	return "", "", "", false
}

var labelReplacer = strings.NewReplacer(
	"\"", "#quot;",
	"(", "#lpar;",
	")", "#rpar;",
	"[", "#lsqb;",
	"]", "#rsqb;",
	"{", "#lbrace;",
	"}", "#rbrace;",
	"<", "#lt;",
	">", "#gt;",
)

func escapeLabel(s string) string { return labelReplacer.Replace(s) }
