package utils

import "testing"

func TestShouldInclude(t *testing.T) {
	matcher, err := NewPatternMatcher(nil, nil)
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}
	if !matcher.ShouldInclude("A/passwords.txt") {
		t.Fatal("expected include by default")
	}
	matcher, _ = NewPatternMatcher([]string{"*.TXT"}, nil)
	if matcher.ShouldInclude("A/passwords.csv") {
		t.Fatal("should not include unmatched include pattern")
	}
	if !matcher.ShouldInclude("A/Passwords.txt") {
		t.Fatal("should include matching include pattern regardless of case")
	}
	matcher, _ = NewPatternMatcher(nil, []string{"*backup*"})
	if matcher.ShouldInclude("A/passwords_backup.txt") {
		t.Fatal("should exclude matching exclude pattern")
	}
	if !matcher.ShouldInclude("A/passwords.txt") {
		t.Fatal("should include when exclude does not match")
	}
	matcher, _ = NewPatternMatcher([]string{`re:^[^/]+/Browsers/`}, nil)
	if !matcher.ShouldInclude("host1/Browsers/Passwords.txt") {
		t.Fatal("should match regex include pattern")
	}
	if matcher.ShouldInclude("host1/Passwords.txt") {
		t.Fatal("regex include should not match other paths")
	}
}

func TestNilMatcherIncludesEverything(t *testing.T) {
	var matcher *PatternMatcher
	if !matcher.ShouldInclude("anything") {
		t.Fatal("nil matcher should include everything")
	}
}

func TestInvalidPatterns(t *testing.T) {
	if _, err := NewPatternMatcher([]string{"re:(unclosed"}, nil); err == nil {
		t.Fatal("expected invalid regex error")
	}
	if _, err := NewPatternMatcher(nil, []string{"[bad"}); err == nil {
		t.Fatal("expected invalid glob error")
	}
}
