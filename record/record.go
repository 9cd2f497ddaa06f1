// Package record defines the normalized documents produced from stealer-log
// dumps. A Record is either a Credential or an Autofill; no other
// implementations exist outside this package.
package record

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	KindCredential Kind = "password"
	KindAutofill   Kind = "autofill"
)

// TimestampLayout always renders an explicit offset ("+00:00"), never "Z".
const TimestampLayout = "2006-01-02T15:04:05.000000-07:00"

type Record interface {
	Kind() Kind
	Source() string
	ProcessedAt() time.Time
	sealed()
}

// Credential is an email/username and password pair.
type Credential struct {
	Email      string
	Password   string
	SourceFile string
	Timestamp  time.Time
}

func (Credential) Kind() Kind               { return KindCredential }
func (c Credential) Source() string         { return c.SourceFile }
func (c Credential) ProcessedAt() time.Time { return c.Timestamp }
func (Credential) sealed()                  {}

// Autofill is a captured browser form field.
type Autofill struct {
	Key        string
	Value      string
	SourceFile string
	Timestamp  time.Time
}

func (Autofill) Kind() Kind               { return KindAutofill }
func (a Autofill) Source() string         { return a.SourceFile }
func (a Autofill) ProcessedAt() time.Time { return a.Timestamp }
func (Autofill) sealed()                  {}

type credentialDocument struct {
	Type       Kind   `json:"type"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	SourceFile string `json:"source_file"`
	Timestamp  string `json:"timestamp"`
}

type autofillDocument struct {
	Type       Kind   `json:"type"`
	Key        string `json:"key"`
	Value      string `json:"value"`
	SourceFile string `json:"source_file"`
	Timestamp  string `json:"timestamp"`
}

// FormatTimestamp renders t in UTC with an explicit offset.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Marshal encodes r as the flat document stored in the index.
func Marshal(r Record) ([]byte, error) {
	switch v := r.(type) {
	case Credential:
		return json.Marshal(credentialDocument{
			Type:       KindCredential,
			Email:      v.Email,
			Password:   v.Password,
			SourceFile: v.SourceFile,
			Timestamp:  FormatTimestamp(v.Timestamp),
		})
	case Autofill:
		return json.Marshal(autofillDocument{
			Type:       KindAutofill,
			Key:        v.Key,
			Value:      v.Value,
			SourceFile: v.SourceFile,
			Timestamp:  FormatTimestamp(v.Timestamp),
		})
	default:
		return nil, fmt.Errorf("unsupported record type %T", r)
	}
}

// Mapping is the index body created when the target index does not exist.
const Mapping = `{
  "mappings": {
    "properties": {
      "type":        {"type": "keyword"},
      "email":       {"type": "keyword"},
      "password":    {"type": "text"},
      "key":         {"type": "keyword"},
      "value":       {"type": "text"},
      "source_file": {"type": "keyword"},
      "timestamp":   {"type": "date"}
    }
  }
}`
