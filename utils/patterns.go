package utils

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// RegexPrefix marks a pattern as a regular expression over the slash-separated
// relative path. Any other pattern is a case-insensitive glob on the base name.
const RegexPrefix = "re:"

type PatternMatcher struct {
	includeGlobs []string
	includeRegex []*regexp.Regexp
	excludeGlobs []string
	excludeRegex []*regexp.Regexp
}

func NewPatternMatcher(includePatterns, excludePatterns []string) (*PatternMatcher, error) {
	m := &PatternMatcher{}
	var err error
	if m.includeGlobs, m.includeRegex, err = compilePatterns(includePatterns); err != nil {
		return nil, err
	}
	if m.excludeGlobs, m.excludeRegex, err = compilePatterns(excludePatterns); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PatternMatcher) ShouldInclude(name string) bool {
	if m == nil {
		return true
	}
	if (len(m.includeGlobs) > 0 || len(m.includeRegex) > 0) && !m.matches(name, m.includeGlobs, m.includeRegex) {
		return false
	}
	if (len(m.excludeGlobs) > 0 || len(m.excludeRegex) > 0) && m.matches(name, m.excludeGlobs, m.excludeRegex) {
		return false
	}
	return true
}

func (m *PatternMatcher) matches(name string, globs []string, regexes []*regexp.Regexp) bool {
	base := strings.ToLower(path.Base(name))
	for _, pattern := range globs {
		if matched, _ := path.Match(pattern, base); matched {
			return true
		}
	}
	for _, re := range regexes {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func compilePatterns(patterns []string) ([]string, []*regexp.Regexp, error) {
	var globs []string
	var regexes []*regexp.Regexp
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if expr, ok := strings.CutPrefix(pattern, RegexPrefix); ok {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid pattern %q: %v", pattern, err)
			}
			regexes = append(regexes, re)
			continue
		}
		glob := strings.ToLower(pattern)
		if _, err := path.Match(glob, ""); err != nil {
			return nil, nil, fmt.Errorf("invalid pattern %q: %v", pattern, err)
		}
		globs = append(globs, glob)
	}
	return globs, regexes, nil
}
