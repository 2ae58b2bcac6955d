package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"poscal/internal/config"
)

func TestNewWritesServiceFieldAsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := New(config.LogConfig{
		Service:     "poscal",
		OutputPaths: []string{path, " "},
		Level:       "debug",
		Encoding:    "json",
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	Job(log, "monitor").Debug("tick")
	_ = log.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(raw))), &entry); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	if entry["service"] != "poscal" || entry["logger"] != "monitor" || entry["msg"] != "tick" {
		t.Fatalf("entry=%v", entry)
	}
}

func TestNewFallsBackOnBadLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	log, err := New(config.LogConfig{Level: "loud", OutputPaths: []string{path}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log.Debug("hidden")
	log.Info("shown")
	_ = log.Sync()
	raw, _ := os.ReadFile(path)
	if strings.Contains(string(raw), "hidden") || !strings.Contains(string(raw), "shown") {
		t.Fatalf("log=%q", raw)
	}
}

func TestJobNilLogger(t *testing.T) {
	if Job(nil, "x") != nil {
		t.Fatalf("nil base must stay nil")
	}
}
