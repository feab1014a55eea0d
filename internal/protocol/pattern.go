package protocol

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

// Matcher applies a configuration's path, filename and extension filters to
// listed files. Paths are slash separated and rooted at "/".
type Matcher struct {
	pathPattern     string
	pathHasGlob     bool
	filenamePattern string
	extension       string
	root            string
	recursive       bool
}

// NewMatcher validates the patterns in q.
func NewMatcher(q Query) (*Matcher, error) {
	p := normalizePath(q.PathPattern)
	if !doublestar.ValidatePattern(p) {
		return nil, fmt.Errorf("invalid path pattern %q", q.PathPattern)
	}
	if q.FilenamePattern != "" && !doublestar.ValidatePattern(q.FilenamePattern) {
		return nil, fmt.Errorf("invalid filename pattern %q", q.FilenamePattern)
	}

	segments := strings.Split(strings.TrimPrefix(p, "/"), "/")
	var fixed []string
	globAt := -1
	for i, seg := range segments {
		if hasMeta(seg) {
			globAt = i
			break
		}
		fixed = append(fixed, seg)
	}

	m := &Matcher{
		pathPattern:     p,
		pathHasGlob:     globAt >= 0,
		filenamePattern: q.FilenamePattern,
		extension:       strings.TrimPrefix(q.Extension, "."),
		root:            "/" + strings.Join(fixed, "/"),
	}
	if globAt >= 0 {
		m.recursive = globAt < len(segments)-1 || strings.Contains(p, "**")
	}
	return m, nil
}

// Root is the deepest directory that contains every possible match.
func (m *Matcher) Root() string {
	return m.root
}

// Recursive reports whether matches can live below Root's direct children.
func (m *Matcher) Recursive() bool {
	return m.recursive
}

// Match reports whether the file at full path p passes every filter.
func (m *Matcher) Match(p string) bool {
	p = normalizePath(p)
	dir, name := path.Dir(p), path.Base(p)

	if m.pathHasGlob {
		full, _ := doublestar.Match(m.pathPattern, p)
		parent, _ := doublestar.Match(m.pathPattern, dir)
		if !full && !parent {
			return false
		}
	} else if dir != m.root && p != m.root {
		return false
	}

	if m.filenamePattern != "" {
		if ok, _ := doublestar.Match(m.filenamePattern, name); !ok {
			return false
		}
	}
	if m.extension != "" && !strings.EqualFold(strings.TrimPrefix(path.Ext(name), "."), m.extension) {
		return false
	}
	return true
}

// Filter returns the files accepted by Match, preserving order.
func (m *Matcher) Filter(files []domain.RemoteFile) []domain.RemoteFile {
	out := files[:0:0]
	for _, f := range files {
		if m.Match(f.Path) {
			out = append(out, f)
		}
	}
	return out
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func hasMeta(seg string) bool {
	return strings.ContainsAny(seg, "*?[{")
}

// objectPrefix turns a root directory into a flat-namespace key prefix.
func objectPrefix(root string) string {
	prefix := strings.TrimPrefix(root, "/")
	if prefix != "" {
		prefix += "/"
	}
	return prefix
}
