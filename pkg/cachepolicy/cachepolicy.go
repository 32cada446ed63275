// Package cachepolicy maps published paths to the Cache-Control directives they are served with.
package cachepolicy

import (
	"fmt"
	"sort"
	"strings"
)

// Rule assigns caching behavior to all paths under a prefix.
type Rule struct {
	// Prefix is matched against the slash-separated published path.
	// An empty prefix matches every path.
	Prefix string `yaml:"prefix"`
	// MaxAgeSeconds sets the max-age directive.
	MaxAgeSeconds int `yaml:"max-age"`
	// Immutable marks content that never changes under the same path.
	Immutable bool `yaml:"immutable"`
	// NoCache forces revalidation on every request.
	NoCache bool `yaml:"no-cache"`
	// NoStore disables caching entirely.
	NoStore bool `yaml:"no-store"`
	// Compress requests Content-Encoding gzip on upload where the store supports it.
	Compress bool `yaml:"compress"`
}

// Directives is the resolved caching behavior for one path.
type Directives struct {
	CacheControl string
	Compress     bool
}

// Policy resolves paths to cache directives. The zero value matches nothing
// and falls back to the conservative default for every path.
type Policy struct {
	rules []Rule
}

// DefaultCacheControl is applied to paths no rule matches.
// Revalidating on every request is the safe choice for unclassified content.
const DefaultCacheControl = "no-cache"

// New validates the rules and returns a policy over them.
func New(rules []Rule) (Policy, error) {
	for i, r := range rules {
		if r.MaxAgeSeconds < 0 {
			return Policy{}, fmt.Errorf("rule %d: negative max-age %d", i, r.MaxAgeSeconds)
		}
		if r.NoStore && (r.NoCache || r.MaxAgeSeconds > 0 || r.Immutable) {
			return Policy{}, fmt.Errorf("rule %d: no-store excludes all other directives", i)
		}
		if r.NoCache && (r.MaxAgeSeconds > 0 || r.Immutable) {
			return Policy{}, fmt.Errorf("rule %d: no-cache excludes max-age and immutable", i)
		}
	}
	// Longest prefix first so Resolve can take the first match.
	ordered := make([]Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Prefix) > len(ordered[j].Prefix)
	})
	return Policy{rules: ordered}, nil
}

// Default returns a policy encoding common static-site practice:
// documents are revalidated on every request, hashed assets are cached
// long-lived and immutable.
func Default() Policy {
	p, err := New([]Rule{
		{Prefix: "", NoCache: true, Compress: true},
		{Prefix: "assets/", MaxAgeSeconds: 31536000, Immutable: true, Compress: true},
		{Prefix: "static/", MaxAgeSeconds: 31536000, Immutable: true, Compress: true},
	})
	if err != nil {
		panic(err)
	}
	return p
}

// Resolve returns the directives for the given path.
// The rule with the longest matching prefix wins; paths no rule matches
// get DefaultCacheControl and no compression.
func (p Policy) Resolve(path string) Directives {
	for _, r := range p.rules {
		if strings.HasPrefix(path, r.Prefix) {
			return Directives{
				CacheControl: r.cacheControl(),
				Compress:     r.Compress,
			}
		}
	}
	return Directives{CacheControl: DefaultCacheControl}
}

func (r Rule) cacheControl() string {
	if r.NoStore {
		return "no-store"
	}
	if r.NoCache {
		return "no-cache"
	}
	cc := fmt.Sprintf("public, max-age=%d", r.MaxAgeSeconds)
	if r.Immutable {
		cc += ", immutable"
	}
	return cc
}
