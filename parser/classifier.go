package parser

import (
	"path"
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// Class is the parser variant chosen for a file.
type Class int

const (
	Unrecognized Class = iota
	Credential
	Autofill
)

func (c Class) String() string {
	switch c {
	case Credential:
		return "credential"
	case Autofill:
		return "autofill"
	default:
		return "unrecognized"
	}
}

var (
	DefaultCredentialMarkers = []string{"password"}
	DefaultAutofillMarkers   = []string{"autofill"}
)

// Classifier matches lowercased base names against the credential and
// autofill markers. A name carrying both kinds of marker is a credential file.
type Classifier struct {
	credentialCount int
	matcher         *ahocorasick.Matcher
}

func NewClassifier(credentialMarkers, autofillMarkers []string) *Classifier {
	markers := normalizeMarkers(credentialMarkers, nil)
	credentialCount := len(markers)
	markers = normalizeMarkers(autofillMarkers, markers)

	c := &Classifier{credentialCount: credentialCount}
	if len(markers) > 0 {
		c.matcher = ahocorasick.NewStringMatcher(markers)
	}
	return c
}

func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultCredentialMarkers, DefaultAutofillMarkers)
}

// Classify accepts a bare name or a slash-separated path; only the base name
// is inspected.
func (c *Classifier) Classify(name string) Class {
	if c == nil || c.matcher == nil {
		return Unrecognized
	}
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
	class := Unrecognized
	for _, idx := range c.matcher.MatchThreadSafe([]byte(base)) {
		if idx < c.credentialCount {
			return Credential
		}
		class = Autofill
	}
	return class
}

func normalizeMarkers(items []string, existing []string) []string {
	seen := make(map[string]struct{}, len(items)+len(existing))
	for _, item := range existing {
		seen[item] = struct{}{}
	}
	out := existing
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
