package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"chicken/broker/internal/replay"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestListAndShowCommands(t *testing.T) {
	dir := t.TempDir()
	writer, _, err := replay.NewWriter(dir, "cli", 100*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	writer.SetSummary(9, nil, 1, 3, "CODEABCDEF")
	if err := writer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, err := run(t, "list", dir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "cli") || !strings.Contains(out, "sealed") || !strings.Contains(out, "CODEABCDEF") {
		t.Fatalf("unexpected list output %q", out)
	}

	out, err = run(t, "show", writer.Directory())
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var summary struct {
		SessionID   string `json:"session_id"`
		TotalPoints int    `json:"total_points"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode show output: %v", err)
	}
	if summary.SessionID != "cli" || summary.TotalPoints != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestCommandsRejectBadArguments(t *testing.T) {
	if _, err := run(t, "show"); err == nil {
		t.Fatal("expected show without a directory to fail")
	}
	if _, err := run(t, "submission", "missing.gz", "--compressor", "lz4"); err == nil {
		t.Fatal("expected unknown compressor to fail")
	}
}
