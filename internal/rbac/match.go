package rbac

import (
	"path"
	"strings"
)

// NormalizePath converts backslash separators to forward slashes and strips
// a leading "./". Matching is invariant to separator style in the input.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.TrimPrefix(p, "./")
	return p
}

// MatchPath matches a file path against a glob pattern. "**" matches any
// sequence of segments (including none), "*" matches exactly one segment,
// and within a segment the usual glob characters apply (*.md). A bare "*"
// pattern allows all paths.
func MatchPath(pattern, filePath string) bool {
	pattern = NormalizePath(pattern)
	if pattern == "*" || pattern == "" {
		return true
	}

	pSegs := strings.Split(pattern, "/")
	vSegs := strings.Split(NormalizePath(filePath), "/")
	return matchSegments(pSegs, vSegs)
}

func matchSegments(pattern, value []string) bool {
	if len(pattern) == 0 {
		return len(value) == 0
	}

	if pattern[0] == "**" {
		// Zero segments...
		if matchSegments(pattern[1:], value) {
			return true
		}
		// ...or one more segment consumed.
		if len(value) > 0 {
			return matchSegments(pattern, value[1:])
		}
		return false
	}

	if len(value) == 0 {
		return false
	}
	ok, err := path.Match(pattern[0], value[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pattern[1:], value[1:])
}
