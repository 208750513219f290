package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mossy-p/call-signaling/config"
)

func TestNew_InvalidLevel(t *testing.T) {
	cfg := &config.Config{Log: config.LogConfig{Level: "loud"}}
	if _, err := New(cfg, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestNew_ProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{Environment: "production", Log: config.LogConfig{Level: "info"}}
	logger, err := New(cfg, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	Component(logger, "relay").WithField("identity", "alice").Info("User online")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["prefix"] != "relay" || entry["identity"] != "alice" || entry["msg"] != "User online" {
		t.Fatalf("entry = %v", entry)
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{Environment: "production", Log: config.LogConfig{Level: "warn"}}
	logger, err := New(cfg, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	if logger.Level != logrus.WarnLevel {
		t.Fatalf("level = %v", logger.Level)
	}
}

func TestNew_LogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signaling.log")
	cfg := &config.Config{Log: config.LogConfig{Level: "info", File: path}}
	logger, err := New(cfg, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.WithField("prefix", "hub").Info("Hub started")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "Hub started") {
		t.Fatalf("log file = %q", data)
	}
}

func TestNew_LogFileUnwritable(t *testing.T) {
	cfg := &config.Config{Log: config.LogConfig{Level: "info", File: filepath.Join(t.TempDir(), "missing", "x.log")}}
	if _, err := New(cfg, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error for unwritable log file")
	}
}
