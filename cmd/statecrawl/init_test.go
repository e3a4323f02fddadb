package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/statecrawl/internal/config"
)

func TestNewInitCmd(t *testing.T) {
	t.Parallel()

	cmd := NewInitCmd()

	tests := []struct {
		name      string
		shorthand string
		defValue  string
	}{
		{"output", "o", config.DefaultConfigFile},
		{"force", "f", "false"},
		{"global", "g", "false"},
	}
	for _, tt := range tests {
		t.Run("has "+tt.name+" flag", func(t *testing.T) {
			t.Parallel()
			flag := cmd.Flags().Lookup(tt.name)
			if flag == nil {
				t.Fatalf("expected %s flag", tt.name)
			}
			if flag.Shorthand != tt.shorthand {
				t.Errorf("expected shorthand %q, got %q", tt.shorthand, flag.Shorthand)
			}
			if flag.DefValue != tt.defValue {
				t.Errorf("expected default %q, got %q", tt.defValue, flag.DefValue)
			}
		})
	}
}

func TestRunInitCmd(t *testing.T) {
	t.Parallel()

	t.Run("creates a rules file that loads", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "nested", config.DefaultConfigFile)
		out, err := execute(t, NewInitCmd(), "-o", path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out, "Created crawl rules file: "+path) {
			t.Errorf("unexpected output:\n%s", out)
		}

		file, err := config.LoadConfigFile(path)
		if err != nil {
			t.Fatalf("generated file does not load: %v", err)
		}
		rules := file.RulesFor(testURL)
		if rules.WaitAfterEvent != 500*time.Millisecond {
			t.Errorf("expected waitAfterEvent 500ms, got %v", rules.WaitAfterEvent)
		}
		if rules.MaxRuntime != time.Hour {
			t.Errorf("expected maxRuntime 1h, got %v", rules.MaxRuntime)
		}
		if rules.Browsers != 1 {
			t.Errorf("expected 1 browser, got %d", rules.Browsers)
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("expected mode 0600, got %o", perm)
		}
	})

	t.Run("refuses to overwrite without force", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), config.DefaultConfigFile)
		if err := os.WriteFile(path, []byte("defaults: {}\n"), 0o600); err != nil {
			t.Fatal(err)
		}

		_, err := execute(t, NewInitCmd(), "-o", path)
		if err == nil || !strings.Contains(err.Error(), "already exists") {
			t.Errorf("expected an already exists error, got %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "defaults: {}\n" {
			t.Error("existing file was modified")
		}
	})

	t.Run("overwrites with force", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), config.DefaultConfigFile)
		if err := os.WriteFile(path, []byte("defaults: {}\n"), 0o600); err != nil {
			t.Fatal(err)
		}

		if _, err := execute(t, NewInitCmd(), "-f", "-o", path); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "filterAttributes") {
			t.Errorf("expected the template to be written:\n%s", data)
		}
	})

	t.Run("global conflicts with output", func(t *testing.T) {
		t.Parallel()

		_, err := execute(t, NewInitCmd(), "--global", "-o", filepath.Join(t.TempDir(), "x.yaml"))
		if err == nil || !strings.Contains(err.Error(), "cannot be used together") {
			t.Errorf("expected a conflict error, got %v", err)
		}
	})

	t.Run("rejects arguments", func(t *testing.T) {
		t.Parallel()

		if _, err := execute(t, NewInitCmd(), "extra"); err == nil {
			t.Error("expected an error for a positional argument")
		}
	})
}
