package authclient

import "strings"

// RouteSet is a static allow-list of public (unauthenticated) API paths.
// Patterns are exact paths or templates where a single "*" segment matches
// exactly one path segment, e.g. "/movies/*". Maintained by the consuming
// application as configuration.
type RouteSet struct {
	patterns [][]string
}

// NewRouteSet builds a RouteSet from path patterns.
func NewRouteSet(patterns ...string) *RouteSet {
	rs := &RouteSet{}
	for _, p := range patterns {
		rs.patterns = append(rs.patterns, splitPath(p))
	}
	return rs
}

// Match reports whether path matches any registered pattern.
func (rs *RouteSet) Match(path string) bool {
	segs := splitPath(path)
	for _, pat := range rs.patterns {
		if matchSegments(pat, segs) {
			return true
		}
	}
	return false
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) != len(segs) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != segs[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
