package rbac

import "testing"

func TestMatchPathBareStarAllowsAll(t *testing.T) {
	for _, p := range []string{"a", "a/b/c", "deep/nested/path/file.go", ""} {
		if !MatchPath("*", p) {
			t.Errorf("bare * should allow %q", p)
		}
	}
}

func TestMatchPathDoubleStar(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"frontend/**", "frontend/components/Button.jsx", true},
		{"frontend/**", "frontend/app.js", true},
		{"frontend/**", "frontend", true}, // ** matches zero segments
		{"frontend/**", "backend/api/users.js", false},
		{"src/**/*.go", "src/a/b/main.go", true},
		{"src/**/*.go", "src/main.go", true},
		{"src/**/*.go", "src/a/b/main.py", false},
		{"**/testdata/**", "a/b/testdata/c/d.txt", true},
	}
	for _, tt := range tests {
		if got := MatchPath(tt.pattern, tt.path); got != tt.want {
			t.Errorf("MatchPath(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
		}
	}
}

func TestMatchPathSingleStarIsOneSegment(t *testing.T) {
	if !MatchPath("docs/*", "docs/readme.md") {
		t.Error("docs/* should match docs/readme.md")
	}
	if MatchPath("docs/*", "docs/sub/readme.md") {
		t.Error("docs/* must not match two segments")
	}
	if !MatchPath("*.md", "README.md") {
		t.Error("*.md should match README.md")
	}
	if MatchPath("*.md", "docs/README.md") {
		t.Error("*.md must not cross a segment boundary")
	}
}

func TestMatchPathSeparatorInvariant(t *testing.T) {
	if !MatchPath("frontend/**", `frontend\components\Button.jsx`) {
		t.Error("backslash input should match the same as forward slash")
	}
	if !MatchPath(`frontend\**`, "frontend/components/Button.jsx") {
		t.Error("backslash pattern should match the same as forward slash")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct{ in, want string }{
		{`a\b\c.go`, "a/b/c.go"},
		{"./a/b", "a/b"},
		{"a/b", "a/b"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
