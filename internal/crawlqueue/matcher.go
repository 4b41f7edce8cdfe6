package crawlqueue

import (
	"fmt"
	"regexp"
)

// ExclusionMatcher classifies URLs against an ordered set of exclusion
// regexes. It is advisory only: exclusion never removes a URL from the
// frontier or from total/matched accounting.
type ExclusionMatcher struct {
	rules []*regexp.Regexp
}

// CompileExclusions builds a matcher from the given patterns. Compilation is
// all-or-nothing: the first invalid pattern fails the whole set with
// ErrInvalidPattern naming the offending entry. An empty set returns nil,
// which matches nothing.
func CompileExclusions(patterns []string) (*ExclusionMatcher, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	rules := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("exclusion %d (%q): %w", i, p, ErrInvalidPattern)
		}
		rules = append(rules, re)
	}
	return &ExclusionMatcher{rules: rules}, nil
}

// IsExcluded reports whether any rule matches url. Evaluation short-circuits
// on the first match; the result is order-independent.
func (m *ExclusionMatcher) IsExcluded(url string) bool {
	if m == nil {
		return false
	}
	for _, re := range m.rules {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// CompilePattern validates and compiles a single query-time match pattern.
// An empty pattern means "no match set requested" and returns nil.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, ErrInvalidPattern)
	}
	return re, nil
}
