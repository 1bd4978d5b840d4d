package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpen_WritesJSONAtLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tui.log")
	logger, closeFn, err := Open(path, "warn")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "show_id", "abc")
	closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file, got %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 record, got %d: %s", len(lines), data)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("expected JSON record, got %v", err)
	}
	if record["msg"] != "shown" || record["show_id"] != "abc" {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestOpen_EmptyPathDiscards(t *testing.T) {
	logger, closeFn, err := Open("", "debug")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	defer closeFn()
	logger.Info("nothing happens")
}

func TestParseLevel(t *testing.T) {
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if lvl, _ := ParseLevel("WARNING"); lvl.String() != "WARN" {
		t.Fatalf("expected WARN, got %s", lvl)
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	Text(&buf, "info").Info("ready", "addr", ":8080")
	if !strings.Contains(buf.String(), "msg=ready") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}
