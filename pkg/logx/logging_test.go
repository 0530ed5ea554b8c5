package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "debug").With(String("comp", "test"))
	log.Info("hello", Int("attempt", 2), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if m["message"] != "hello" {
		t.Fatalf("message = %v", m["message"])
	}
	if m["comp"] != "test" {
		t.Fatalf("comp = %v", m["comp"])
	}
	if m["attempt"] != float64(2) {
		t.Fatalf("attempt = %v", m["attempt"])
	}
	if m["err"] != "boom" {
		t.Fatalf("err = %v", m["err"])
	}
	if _, ok := m["time"]; !ok {
		t.Fatal("expected timestamp")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewJSON(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}
	if log.Enabled(LevelDebug) {
		t.Fatal("debug should not be enabled")
	}
	log.Warn("kept")
	if buf.Len() == 0 {
		t.Fatal("warn should be written")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop logger is not the zero value")
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "info", "DEBUG", " warn ", "warning", "trace", "error"} {
		if !ValidLevel(s) {
			t.Fatalf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("loud") {
		t.Fatal("ValidLevel(loud) = true")
	}
}
