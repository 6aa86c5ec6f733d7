package policy

import (
	"fmt"
	"strings"
)

// pathMatcher is a compiled tool-path glob. Patterns are dotted, with
// "*" standing for one or more segments. A terminal ".*" therefore
// matches any non-empty suffix.
type pathMatcher struct {
	pattern  string
	segments []string
}

func compilePattern(pattern string) (*pathMatcher, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("empty tool path pattern")
	}
	segments := strings.Split(pattern, ".")
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("invalid tool path pattern %q", pattern)
		}
		if seg != "*" && strings.Contains(seg, "*") {
			return nil, fmt.Errorf("invalid tool path pattern %q: wildcard must be a whole segment", pattern)
		}
	}
	return &pathMatcher{pattern: pattern, segments: segments}, nil
}

// Match reports whether the dotted path satisfies the pattern.
func (m *pathMatcher) Match(path string) bool {
	if path == "" {
		return false
	}
	return matchSegments(m.segments, strings.Split(path, "."))
}

func matchSegments(pattern, path []string) bool {
	if len(pattern) == 0 {
		return len(path) == 0
	}
	if len(path) == 0 {
		return false
	}
	if pattern[0] == "*" {
		// Consume one segment and either stay on the wildcard or move past it.
		return matchSegments(pattern, path[1:]) || matchSegments(pattern[1:], path[1:])
	}
	if pattern[0] != path[0] {
		return false
	}
	return matchSegments(pattern[1:], path[1:])
}
