package parser

import (
	"strings"
	"unicode"
)

// isSeparator reports whether line is a block delimiter such as "=====" or
// "-----". Blank lines are handled by the caller.
func isSeparator(line string) bool {
	if len(line) < 3 {
		return false
	}
	for _, r := range line {
		switch r {
		case '=', '-', '*', '_', '#', '~':
		default:
			return false
		}
	}
	return true
}

// splitLabel splits "Label: value" (or "Label=value") at the first separator.
// The returned label is lowercased with leading bullets and brackets removed.
// A tab inside the label means the line is a "key<TAB>value" pair, not a label.
func splitLabel(line string) (label, value string, ok bool) {
	idx := strings.IndexAny(line, ":=")
	if idx <= 0 {
		return "", "", false
	}
	label = strings.TrimLeftFunc(line[:idx], func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" || strings.ContainsRune(label, '\t') {
		return "", "", false
	}
	return label, strings.TrimSpace(line[idx+1:]), true
}

func hasAnyPrefix(label string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(label, prefix) {
			return true
		}
	}
	return false
}
