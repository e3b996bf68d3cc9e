package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/buddy-ai/buddy/internal/agent"
)

func TestRunUsage(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Usage: buddy") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run(context.Background(), &out, &errOut, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("err = %v", err)
	}
}

func TestRunVersionJSON(t *testing.T) {
	var out, errOut bytes.Buffer
	if err := run(context.Background(), &out, &errOut, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("not valid JSON: %v\n%s", err, out.String())
	}
	if info["version"] == "" {
		t.Error("missing version key")
	}
}

func TestParseDecision(t *testing.T) {
	tests := []struct {
		line    string
		want    agent.DecisionKind
		wantErr bool
	}{
		{"approve", agent.DecisionApprove, false},
		{"y", agent.DecisionApprove, false},
		{`edit {"city": "Paris"}`, agent.DecisionEdit, false},
		{"edit not-json", "", true},
		{"reject too risky", agent.DecisionReject, false},
		{"whatever", "", true},
	}
	for _, tt := range tests {
		got, err := parseDecision(tt.line)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseDecision(%q): expected error", tt.line)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseDecision(%q): %v", tt.line, err)
			continue
		}
		if got.Kind != tt.want {
			t.Errorf("parseDecision(%q).Kind = %v, want %v", tt.line, got.Kind, tt.want)
		}
	}
}

func TestParseDecisionRejectFeedback(t *testing.T) {
	got, err := parseDecision("reject don't do that")
	if err != nil {
		t.Fatal(err)
	}
	if got.Feedback != "don't do that" {
		t.Errorf("Feedback = %q", got.Feedback)
	}
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	if err := runInit(&out, dir); err != nil {
		t.Fatalf("runInit: %v", err)
	}

	cfgPath := filepath.Join(dir, "config.yaml")
	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(string(raw), "loop_ceiling: 3") {
		t.Errorf("config missing defaults:\n%s", raw)
	}

	// A second init must not clobber edits.
	if err := os.WriteFile(cfgPath, []byte("edited: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := runInit(&out, dir); err != nil {
		t.Fatal(err)
	}
	raw, _ = os.ReadFile(cfgPath)
	if string(raw) != "edited: true\n" {
		t.Errorf("init overwrote user config: %q", raw)
	}
}
