package record

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestMarshalCredentialKeepsEmptyFields(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))
	data, err := Marshal(Credential{Email: "alice@example.com", SourceFile: "A/password_1.txt", Timestamp: ts})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["type"] != "password" || doc["email"] != "alice@example.com" || doc["source_file"] != "A/password_1.txt" {
		t.Fatalf("unexpected document: %v", doc)
	}
	if _, ok := doc["password"]; !ok {
		t.Fatal("expected empty password field to be present")
	}
	if _, ok := doc["key"]; ok {
		t.Fatal("credential document must not carry autofill fields")
	}
	if doc["timestamp"] != "2024-03-01T11:30:00.000000+00:00" {
		t.Fatalf("unexpected timestamp: %s", doc["timestamp"])
	}
}

func TestMarshalAutofill(t *testing.T) {
	data, err := Marshal(Autofill{Key: "email", Value: "carol@example.com", SourceFile: "B/autofill.txt", Timestamp: time.Now()})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc["type"] != "autofill" || doc["key"] != "email" || doc["value"] != "carol@example.com" {
		t.Fatalf("unexpected document: %v", doc)
	}
	if len(doc) != 5 {
		t.Fatalf("expected 5 fields, got %d: %v", len(doc), doc)
	}
}

func TestTimestampHasExplicitOffset(t *testing.T) {
	ts := FormatTimestamp(time.Now())
	if !strings.HasSuffix(ts, "+00:00") {
		t.Fatalf("expected explicit +00:00 offset, got %s", ts)
	}
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Fatalf("timestamp not RFC3339: %v", err)
	}
}

func TestMarshalNil(t *testing.T) {
	if _, err := Marshal(nil); err == nil {
		t.Fatal("expected error for nil record")
	}
}
