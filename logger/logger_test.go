package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("cftc_reader")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "cftc_reader" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureReportMode(t *testing.T) {
	t.Setenv("LOG_LEVEL", "report")

	log := Logger()
	if err := log.Configure("debug", "text", "stderr", 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if !log.ReportMode() {
		t.Fatalf("expected report mode from LOG_LEVEL")
	}
	if log.GetLevel().String() != "info" {
		t.Fatalf("report mode should log at info, got %s", log.GetLevel())
	}
}

func TestConfigureFileOutput(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	path := filepath.Join(t.TempDir(), "logs", "marketpulse.log")
	log := Logger()
	if err := log.Configure("info", "json", path, 0); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	log.WithComponent("test").Info("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"hello"`) {
		t.Fatalf("unexpected log contents: %s", data)
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestCallerPointsOutsideLogger(t *testing.T) {
	var buf bytes.Buffer
	log := Logger()
	log.SetOutput(&buf)
	log.WithComponent("test").Info("where")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	file, _ := line["file"].(string)
	if !strings.HasPrefix(file, "logger_test.go:") {
		t.Fatalf("expected caller in logger_test.go, got %q", file)
	}
}

func TestRootComponent(t *testing.T) {
	tests := map[string]string{
		"cftc_reader":      "cftc_reader",
		"cftc_reader.year": "cftc_reader",
		".odd":             ".odd",
	}
	for in, want := range tests {
		if got := rootComponent(in); got != want {
			t.Errorf("rootComponent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWarnIsCounted(t *testing.T) {
	log := Logger()
	log.SetOutput(&bytes.Buffer{})
	before := snapshot(&warnCount)["counted_component"]
	log.WithComponent("counted_component").Warn("careful")
	after := snapshot(&warnCount)["counted_component"]
	if after != before+1 {
		t.Fatalf("warn count = %d, want %d", after, before+1)
	}
}
