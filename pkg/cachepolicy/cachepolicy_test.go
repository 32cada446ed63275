package cachepolicy

import (
	"testing"
)

// TestResolveLongestPrefixWins makes sure the most specific rule is applied.
func TestResolveLongestPrefixWins(t *testing.T) {
	p, err := New([]Rule{
		{Prefix: "", NoCache: true},
		{Prefix: "assets/", MaxAgeSeconds: 60},
		{Prefix: "assets/immutable/", MaxAgeSeconds: 31536000, Immutable: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	cases := []struct {
		path string
		want string
	}{
		{"index.html", "no-cache"},
		{"assets/app.js", "public, max-age=60"},
		{"assets/immutable/app.abc123.js", "public, max-age=31536000, immutable"},
	}
	for _, tc := range cases {
		if got := p.Resolve(tc.path).CacheControl; got != tc.want {
			t.Errorf("Resolve(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

// TestResolveUnmatchedDefault verifies the conservative fallback for unclassified paths.
func TestResolveUnmatchedDefault(t *testing.T) {
	p, err := New([]Rule{{Prefix: "assets/", MaxAgeSeconds: 60}})
	if err != nil {
		t.Fatal(err)
	}
	d := p.Resolve("index.html")
	if d.CacheControl != DefaultCacheControl {
		t.Errorf("expected %q, got %q", DefaultCacheControl, d.CacheControl)
	}
	if d.Compress {
		t.Error("unmatched paths must not request compression")
	}
}

// TestResolveZeroPolicy covers the zero value.
func TestResolveZeroPolicy(t *testing.T) {
	var p Policy
	if got := p.Resolve("index.html").CacheControl; got != DefaultCacheControl {
		t.Errorf("expected %q, got %q", DefaultCacheControl, got)
	}
}

func TestNewRejectsInvalidRules(t *testing.T) {
	cases := [][]Rule{
		{{Prefix: "a/", MaxAgeSeconds: -1}},
		{{Prefix: "a/", NoStore: true, MaxAgeSeconds: 60}},
		{{Prefix: "a/", NoCache: true, Immutable: true}},
	}
	for i, rules := range cases {
		if _, err := New(rules); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := Default()
	if got := p.Resolve("index.html").CacheControl; got != "no-cache" {
		t.Errorf("expected no-cache for documents, got %q", got)
	}
	d := p.Resolve("assets/app.abc123.js")
	if d.CacheControl != "public, max-age=31536000, immutable" {
		t.Errorf("unexpected asset cache control: %q", d.CacheControl)
	}
	if !d.Compress {
		t.Error("expected compression for assets")
	}
}
