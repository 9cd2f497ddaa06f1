package parser

import (
	"iter"
	"strings"

	"stealerindex/record"
)

var (
	autofillKeyLabels   = []string{"name", "form", "field", "key"}
	autofillValueLabels = []string{"value"}
)

// AutofillParser extracts form field/value pairs. Besides labelled blocks
// ("Name: email" / "Value: x") it accepts one "key<TAB>value" pair per line.
type AutofillParser struct {
	Clock Clock
}

func (AutofillParser) Kind() record.Kind { return record.KindAutofill }

func (p AutofillParser) Parse(source string, content []byte) (iter.Seq[record.Record], error) {
	text, err := Decode(content)
	if err != nil {
		return nil, err
	}
	clock := clockOrDefault(p.Clock)

	return func(yield func(record.Record) bool) {
		var (
			key, value       string
			hasKey, hasValue bool
		)
		emit := func(k, v string) bool {
			if k == "" && v == "" {
				return true
			}
			return yield(record.Autofill{
				Key:        k,
				Value:      v,
				SourceFile: source,
				Timestamp:  clock(),
			})
		}
		flush := func() bool {
			k, v := key, value
			key, value = "", ""
			hasKey, hasValue = false, false
			return emit(k, v)
		}

		for line := range strings.Lines(text) {
			line = strings.TrimSpace(line)
			if line == "" || isSeparator(line) {
				if !flush() {
					return
				}
				continue
			}
			if label, v, ok := splitLabel(line); ok {
				switch {
				case hasAnyPrefix(label, autofillKeyLabels):
					if hasKey && !flush() {
						return
					}
					key, hasKey = v, true
					continue
				case hasAnyPrefix(label, autofillValueLabels):
					if hasValue && !flush() {
						return
					}
					value, hasValue = v, true
					continue
				}
			}
			if k, v, ok := strings.Cut(line, "\t"); ok {
				if !flush() {
					return
				}
				if !emit(strings.TrimSpace(k), strings.TrimSpace(v)) {
					return
				}
			}
		}
		flush()
	}, nil
}
