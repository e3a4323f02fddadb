package main

import (
	"bytes"
	"runtime"
	"strings"
	"testing"
)

func TestBuildInfoFallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func() string
	}{
		{"version is never empty", getVersion},
		{"commit is never empty", getCommit},
		{"date is never empty", getDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.fn() == "" {
				t.Error("expected a non-empty value")
			}
		})
	}

	t.Run("short commit is at most seven characters", func(t *testing.T) {
		t.Parallel()
		if c := getCommit(); c != "unknown" && commit == "" && len(c) > 7 {
			t.Errorf("expected a short revision, got %q", c)
		}
	})
}

func TestNewVersionCmd(t *testing.T) {
	t.Parallel()

	t.Run("prints version, commit, date and runtime", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		cmd := NewVersionCmd()
		cmd.SetOut(&buf)
		cmd.SetArgs([]string{})

		if err := cmd.Execute(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := buf.String()
		for _, want := range []string{"statecrawl version", "commit:", "built:", runtime.Version()} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q, got %q", want, output)
			}
		}
	})

	t.Run("rejects arguments", func(t *testing.T) {
		t.Parallel()

		cmd := NewVersionCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"extra"})
		if err := cmd.Execute(); err == nil {
			t.Error("expected an error for extra arguments")
		}
	})
}
