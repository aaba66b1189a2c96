package logging_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/chaoschain/gateway/internal/logging"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := logging.New(&buf, logging.Config{Level: "info"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug("hidden")
	l.Info("workflow started", slog.String("workflow_id", "wf_x"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "workflow started" || rec["workflow_id"] != "wf_x" {
		t.Errorf("record = %v", rec)
	}
}

func TestNew_TextDebug(t *testing.T) {
	var buf bytes.Buffer
	l, err := logging.New(&buf, logging.Config{Level: "DEBUG", Format: "text"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug("step started")
	if !strings.Contains(buf.String(), "msg=\"step started\"") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestNew_Invalid(t *testing.T) {
	if _, err := logging.New(&bytes.Buffer{}, logging.Config{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := logging.New(&bytes.Buffer{}, logging.Config{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}
