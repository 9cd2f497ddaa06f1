package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLoggerFunctions(t *testing.T) {
	Init("invalid") // should default to info
	if log == nil {
		t.Fatal("log not initialized")
	}
	if log.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level, got %s", log.GetLevel())
	}
	// Avoid os.Exit on Fatal
	log.ExitFunc = func(int) {}
	var buf bytes.Buffer
	SetOutput(&buf)

	Debug("debug")
	Info("info")
	Warn("warn")
	Error("error")
	Debugf("%s", "debugf")
	Infof("%s", "infof")
	Warnf("%s", "warnf")
	Errorf("%s", "errorf")
	Fatal("fatal")
	Fatalf("%s", "fatalf")

	out := buf.String()
	if strings.Contains(out, "debugf") {
		t.Fatal("debug output should be filtered at info level")
	}
	if !strings.Contains(out, "warnf") {
		t.Fatalf("expected warn output, got %q", out)
	}
}

func TestWithFields(t *testing.T) {
	Init("debug")
	var buf bytes.Buffer
	SetOutput(&buf)
	WithFields(logrus.Fields{"file": "A/password.txt"}).Warn("read failed")
	if !strings.Contains(buf.String(), "file=A/password.txt") {
		t.Fatalf("expected field in output, got %q", buf.String())
	}
}
