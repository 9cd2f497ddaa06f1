package parser

import (
	"iter"
	"strings"

	"stealerindex/record"
)

var (
	usernameLabels = []string{"login", "user", "email", "e-mail"}
	passwordLabels = []string{"pass", "pwd"}

	// Browser fingerprint lines that share the "user" prefix.
	ignoredCredentialLabels = []string{"user agent", "user-agent", "user_agent", "useragent"}
)

type credentialField int

const (
	fieldNone credentialField = iota
	fieldUsername
	fieldPassword
)

// classifyCredentialLabel checks username labels first, so "login/pass"
// is a username line.
func classifyCredentialLabel(label string) credentialField {
	switch {
	case hasAnyPrefix(label, ignoredCredentialLabels):
		return fieldNone
	case hasAnyPrefix(label, usernameLabels):
		return fieldUsername
	case hasAnyPrefix(label, passwordLabels):
		return fieldPassword
	default:
		return fieldNone
	}
}

// CredentialParser extracts username/password pairs. Entries end at a blank
// line, a separator line, or when a field that is already set appears again.
type CredentialParser struct {
	Clock Clock
}

func (CredentialParser) Kind() record.Kind { return record.KindCredential }

func (p CredentialParser) Parse(source string, content []byte) (iter.Seq[record.Record], error) {
	text, err := Decode(content)
	if err != nil {
		return nil, err
	}
	clock := clockOrDefault(p.Clock)

	return func(yield func(record.Record) bool) {
		var (
			email, password       string
			hasEmail, hasPassword bool
		)
		flush := func() bool {
			defer func() {
				email, password = "", ""
				hasEmail, hasPassword = false, false
			}()
			if email == "" && password == "" {
				return true
			}
			return yield(record.Credential{
				Email:      email,
				Password:   password,
				SourceFile: source,
				Timestamp:  clock(),
			})
		}

		for line := range strings.Lines(text) {
			line = strings.TrimSpace(line)
			if line == "" || isSeparator(line) {
				if !flush() {
					return
				}
				continue
			}
			label, value, ok := splitLabel(line)
			if !ok {
				continue
			}
			switch classifyCredentialLabel(label) {
			case fieldUsername:
				if hasEmail && !flush() {
					return
				}
				email, hasEmail = value, true
			case fieldPassword:
				if hasPassword && !flush() {
					return
				}
				password, hasPassword = value, true
			}
		}
		flush()
	}, nil
}
