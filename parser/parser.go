// Package parser classifies stealer-log files and turns their content into
// normalized records.
//
// Parsers are stateless: every Parse call decodes the content once and
// returns a single-pass sequence. Entries without any usable field are
// dropped; malformed lines never fail the file. Parse returns an error only
// when the content cannot be decoded at all.
package parser

import (
	"iter"
	"time"

	"stealerindex/record"
)

type Parser interface {
	Kind() record.Kind
	Parse(source string, content []byte) (iter.Seq[record.Record], error)
}

// Clock stamps records at the moment they are produced.
type Clock func() time.Time

func utcNow() time.Time {
	return time.Now().UTC()
}

// For returns the parser for class, or nil for Unrecognized.
func For(class Class, clock Clock) Parser {
	switch class {
	case Credential:
		return CredentialParser{Clock: clock}
	case Autofill:
		return AutofillParser{Clock: clock}
	default:
		return nil
	}
}

func clockOrDefault(clock Clock) Clock {
	if clock == nil {
		return utcNow
	}
	return clock
}
