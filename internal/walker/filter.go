package walker

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExcludes are directory names never descended into.
var DefaultExcludes = []string{
	".git",
	"node_modules",
	"vendor",
	"__pycache__",
	".chatdiagram",
	".venv",
	".idea",
	".vscode",
}

// ignoreRule is one .gitignore line.
type ignoreRule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
}

// Filter decides which paths below a root are documents. Patterns are
// validated once when the filter is built.
type Filter struct {
	include []string
	exclude []string
	ignore  []ignoreRule
}

func newFilter(include, exclude []string, gitignore string) (*Filter, error) {
	if len(include) == 0 {
		include = DefaultInclude
	}
	f := &Filter{}
	var err error
	if f.include, err = compilePatterns(include); err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	if f.exclude, err = compilePatterns(exclude); err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}
	f.ignore = loadGitignore(gitignore)
	return f, nil
}

func compilePatterns(patterns []string) ([]string, error) {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = filepath.ToSlash(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
		out = append(out, p)
	}
	return out, nil
}

// skipDir reports whether a directory's subtree is left out entirely.
func (f *Filter) skipDir(relPath, name string) bool {
	for _, excl := range DefaultExcludes {
		if strings.EqualFold(name, excl) {
			return true
		}
	}
	return f.ignored(relPath, true)
}

// keep reports whether a file is a document to render.
func (f *Filter) keep(relPath string) bool {
	return !f.ignored(relPath, false) &&
		matchesAny(relPath, f.include) &&
		!matchesAny(relPath, f.exclude)
}

// ignored applies the .gitignore rules in order; the last match wins, so
// a later "!pattern" re-includes a path.
func (f *Filter) ignored(relPath string, isDir bool) bool {
	rel := filepath.ToSlash(relPath)
	base := path.Base(rel)
	ignored := false
	for _, r := range f.ignore {
		if r.dirOnly && !isDir {
			continue
		}
		target := base
		if r.anchored {
			target = rel
		}
		if ok, _ := doublestar.Match(r.pattern, target); ok {
			ignored = !r.negate
		}
	}
	return ignored
}

func loadGitignore(file string) []ignoreRule {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil
	}

	var rules []ignoreRule
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var r ignoreRule
		if strings.HasPrefix(line, "!") {
			r.negate = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			r.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		// A slash anywhere but the end anchors the pattern to the root.
		if strings.Contains(line, "/") {
			r.anchored = true
			line = strings.TrimPrefix(line, "/")
		}
		if line == "" || !doublestar.ValidatePattern(line) {
			continue
		}
		r.pattern = line
		rules = append(rules, r)
	}
	return rules
}

// MatchesInclude returns true if relPath matches any include pattern. An
// empty pattern list includes everything.
func MatchesInclude(relPath string, patterns []string) bool {
	return len(patterns) == 0 || matchesAny(relPath, patterns)
}

// MatchesExclude returns true if relPath matches any exclude pattern. An
// empty pattern list excludes nothing.
func MatchesExclude(relPath string, patterns []string) bool {
	return len(patterns) > 0 && matchesAny(relPath, patterns)
}

// matchesAny matches the whole path, then the base name, so "*.md" works
// at any depth.
func matchesAny(relPath string, patterns []string) bool {
	rel := filepath.ToSlash(relPath)
	base := path.Base(rel)
	for _, p := range patterns {
		p = filepath.ToSlash(p)
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, base); ok {
			return true
		}
	}
	return false
}
