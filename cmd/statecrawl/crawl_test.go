package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/statecrawl/internal/browser"
	"github.com/nao1215/statecrawl/internal/config"
	"github.com/nao1215/statecrawl/internal/database"
	"github.com/nao1215/statecrawl/internal/model"
	"github.com/nao1215/statecrawl/internal/report"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// emptyRules writes an empty rules file so that tests never pick up a
// .statecrawl from the machine running them.
func emptyRules(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("defaults: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewCrawlCmd(t *testing.T) {
	t.Parallel()

	cmd := NewCrawlCmd()

	if cmd.Use != "crawl <url>" {
		t.Errorf("expected use 'crawl <url>', got %q", cmd.Use)
	}
	if cmd.Short == "" || cmd.Long == "" {
		t.Error("expected descriptions")
	}

	flags := []struct {
		name      string
		shorthand string
		def       string
	}{
		{"browsers", "b", "1"},
		{"max-states", "n", "0"},
		{"max-runtime", "r", "1h0m0s"},
		{"wait-event", "", "500ms"},
		{"wait-reload", "", "500ms"},
		{"filter-attr", "", "[]"},
		{"browser", "", "chrome-headless"},
		{"remote-url", "", ""},
		{"proxy", "x", ""},
		{"tor", "", "false"},
		{"tor-timeout", "T", "3m0s"},
		{"config", "c", ""},
		{"json", "j", "false"},
		{"markdown", "m", "false"},
		{"output", "o", ""},
		{"no-db", "", "false"},
		{"screenshots", "", ""},
	}
	for _, f := range flags {
		t.Run("has "+f.name+" flag", func(t *testing.T) {
			t.Parallel()

			flag := cmd.Flags().Lookup(f.name)
			if flag == nil {
				t.Fatalf("expected %s flag", f.name)
			}
			if flag.Shorthand != f.shorthand {
				t.Errorf("expected shorthand %q, got %q", f.shorthand, flag.Shorthand)
			}
			if flag.DefValue != f.def {
				t.Errorf("expected default %q, got %q", f.def, flag.DefValue)
			}
		})
	}

	t.Run("requires exactly one URL", func(t *testing.T) {
		t.Parallel()
		if err := cmd.Args(cmd, nil); err == nil {
			t.Error("expected an error without a URL")
		}
		if err := cmd.Args(cmd, []string{"a", "b"}); err == nil {
			t.Error("expected an error with two URLs")
		}
	})
}

func parseCrawlFlags(t *testing.T, args ...string) *config.Config {
	t.Helper()

	cmd := NewCrawlCmd()
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
	cfg, err := buildConfig(cmd, []string{testURL})
	if err != nil {
		t.Fatalf("buildConfig failed: %v", err)
	}
	return cfg
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	t.Run("uses defaults without flags", func(t *testing.T) {
		t.Parallel()

		cfg := parseCrawlFlags(t, "-c", emptyRules(t))
		if cfg.StartURL != testURL {
			t.Errorf("expected start URL %q, got %q", testURL, cfg.StartURL)
		}
		if cfg.Browsers != 1 || cfg.MaxStates != 0 || cfg.MaxRuntime != time.Hour {
			t.Errorf("unexpected limits: %+v", cfg)
		}
		if !cfg.SaveToDB || cfg.DBDir != config.XDGDataDir() {
			t.Errorf("expected the default database, got save=%v dir=%q", cfg.SaveToDB, cfg.DBDir)
		}
		if !cfg.CrawlFrames {
			t.Error("expected frames to be crawled")
		}
		if cfg.ScreenshotDir != "" {
			t.Errorf("expected no screenshots, got %q", cfg.ScreenshotDir)
		}
	})

	t.Run("reads every flag", func(t *testing.T) {
		t.Parallel()

		dbDir := t.TempDir()
		cfg := parseCrawlFlags(t,
			"-c", emptyRules(t),
			"-b", "4", "-n", "50", "-r", "10m",
			"--wait-event", "100ms", "--wait-reload", "200ms",
			"--filter-attr", "data-ts,data-nonce",
			"--follow-external", "--no-frames",
			"--browser", "remote", "--remote-url", "ws://127.0.0.1:9222/devtools/browser/x",
			"--no-sandbox", "--start-retries", "5",
			"-x", "127.0.0.1:1080", "-T", "1m",
			"--markdown", "-o", "out/report.md",
			"--no-db", "--db-dir", dbDir,
		)

		if cfg.Browsers != 4 || cfg.MaxStates != 50 || cfg.MaxRuntime != 10*time.Minute {
			t.Errorf("unexpected limits: browsers=%d states=%d runtime=%v", cfg.Browsers, cfg.MaxStates, cfg.MaxRuntime)
		}
		if cfg.WaitAfterEvent != 100*time.Millisecond || cfg.WaitAfterReload != 200*time.Millisecond {
			t.Errorf("unexpected waits: %v %v", cfg.WaitAfterEvent, cfg.WaitAfterReload)
		}
		if strings.Join(cfg.FilterAttributes, ",") != "data-ts,data-nonce" {
			t.Errorf("unexpected filter attributes %v", cfg.FilterAttributes)
		}
		if !cfg.FollowExternal || cfg.CrawlFrames {
			t.Error("expected follow-external on and frames off")
		}
		if cfg.BrowserType != "remote" || cfg.RemoteURL == "" || !cfg.NoSandbox || cfg.BrowserStartRetries != 5 {
			t.Errorf("unexpected browser settings: %+v", cfg)
		}
		if cfg.ProxyAddress != "127.0.0.1:1080" || cfg.TorStartupTimeout != time.Minute {
			t.Errorf("unexpected proxy settings: %q %v", cfg.ProxyAddress, cfg.TorStartupTimeout)
		}
		if !cfg.MarkdownReport || cfg.JSONReport || cfg.ReportFile != "out/report.md" {
			t.Errorf("unexpected report settings: %+v", cfg)
		}
		if cfg.SaveToDB || cfg.DBDir != dbDir {
			t.Errorf("unexpected database settings: save=%v dir=%q", cfg.SaveToDB, cfg.DBDir)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected a valid configuration, got %v", err)
		}
	})

	t.Run("screenshots without a value use the cache directory", func(t *testing.T) {
		t.Parallel()

		cfg := parseCrawlFlags(t, "-c", emptyRules(t), "--screenshots")
		want := filepath.Join(config.XDGCacheDir(), "screenshots")
		if cfg.ScreenshotDir != want {
			t.Errorf("expected %q, got %q", want, cfg.ScreenshotDir)
		}
	})

	t.Run("applies the rules file and lets flags win", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "rules.yaml")
		content := `defaults:
  filterAttributes: [data-reactid]
  maxStates: 10
  waitAfterEvent: 50ms
sites:
  localhost:3000:
    browsers: 3
    crawlFrames: false
    dontClick:
      - tag: a
        attributes:
          id: logout
`
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}

		cfg := parseCrawlFlags(t, "-c", path, "-n", "25")

		if cfg.MaxStates != 25 {
			t.Errorf("expected the flag to override maxStates, got %d", cfg.MaxStates)
		}
		if cfg.Browsers != 3 {
			t.Errorf("expected site browsers 3, got %d", cfg.Browsers)
		}
		if cfg.WaitAfterEvent != 50*time.Millisecond {
			t.Errorf("expected default waitAfterEvent 50ms, got %v", cfg.WaitAfterEvent)
		}
		if cfg.CrawlFrames {
			t.Error("expected the site to disable frames")
		}
		if len(cfg.FilterAttributes) != 1 || cfg.FilterAttributes[0] != "data-reactid" {
			t.Errorf("unexpected filter attributes %v", cfg.FilterAttributes)
		}
		if len(cfg.DontClickRules) != 1 || cfg.DontClickRules[0].Attributes["id"] != "logout" {
			t.Errorf("unexpected dontClick rules %+v", cfg.DontClickRules)
		}
	})

	t.Run("fails for a missing explicit rules file", func(t *testing.T) {
		t.Parallel()

		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"-c", filepath.Join(t.TempDir(), "missing.yaml")}); err != nil {
			t.Fatal(err)
		}
		_, err := buildConfig(cmd, []string{testURL})
		if !errors.Is(err, config.ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("fails for a broken rules file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("defaults: [unterminated"), 0o600); err != nil {
			t.Fatal(err)
		}
		cmd := NewCrawlCmd()
		if err := cmd.ParseFlags([]string{"-c", path}); err != nil {
			t.Fatal(err)
		}
		if _, err := buildConfig(cmd, []string{testURL}); err == nil {
			t.Error("expected a parse error")
		}
	})
}

func TestRunCrawlCmd_RejectsInvalidConfiguration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"json and markdown", []string{"--json", "--markdown"}, config.ErrConflictingReportFormats},
		{"proxy and tor", []string{"--proxy", "127.0.0.1:1080", "--tor"}, config.ErrConflictingProxy},
		{"zero browsers", []string{"-b", "0"}, config.ErrInvalidBrowsers},
		{"remote without URL", []string{"--browser", "remote"}, config.ErrRemoteURLRequired},
		{"unknown browser", []string{"--browser", "firefox"}, config.ErrInvalidBrowserType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			args := append([]string{"-c", emptyRules(t), "--no-db"}, tt.args...)
			args = append(args, testURL)
			_, err := execute(t, NewCrawlCmd(), args...)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCrawlerConfig(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.StartURL = testURL
	cfg.Browsers = 3
	cfg.MaxStates = 7
	cfg.FilterAttributes = []string{"data-ts"}
	cfg.CrawlFrames = false
	cfg.IgnoreFrames = []string{"ads*"}
	cfg.ScreenshotDir = "/tmp/shots"

	cc := crawlerConfig(cfg)

	if cc.StartURL != testURL || cc.Browsers != 3 || cc.MaxStates != 7 {
		t.Errorf("unexpected crawler config %+v", cc)
	}
	if cc.MaxRuntime != cfg.MaxRuntime || cc.WaitAfterEvent != cfg.WaitAfterEvent || cc.WaitAfterReload != cfg.WaitAfterReload {
		t.Error("timing settings were not copied")
	}
	if !cc.DisableFrames || len(cc.IgnoreFrames) != 1 || cc.ScreenshotDir != "/tmp/shots" {
		t.Errorf("frame or screenshot settings were not copied: %+v", cc)
	}
	if cc.Rules.BaseURL != testURL || len(cc.Rules.Click) == 0 {
		t.Errorf("expected default click rules bound to the start URL, got %+v", cc.Rules)
	}
}

func TestBrowserOptions(t *testing.T) {
	t.Parallel()

	cfg := config.NewConfig()
	cfg.BrowserType = "remote"
	cfg.RemoteURL = "ws://127.0.0.1:9222"
	cfg.BrowserBin = "/usr/bin/chromium"
	cfg.NoSandbox = true
	cfg.BrowserStartRetries = 4

	opts := browserOptions(cfg, discardLogger())

	if opts.Type != browser.TypeRemote || opts.RemoteURL != cfg.RemoteURL || opts.BinPath != cfg.BrowserBin {
		t.Errorf("unexpected browser options %+v", opts)
	}
	if opts.ProxyAddress != "" || !opts.NoSandbox || opts.StartRetries != 4 || opts.Logger == nil {
		t.Errorf("unexpected browser options %+v", opts)
	}
}

func TestSetupProxy(t *testing.T) {
	t.Parallel()

	t.Run("returns no proxy when none is configured", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		opts, stop, err := setupProxy(context.Background(), cfg, browser.Options{}, io.Discard, discardLogger())
		if err != nil || opts.ProxyAddress != "" || stop == nil {
			t.Errorf("got %q, %v", opts.ProxyAddress, err)
		}
		stop()
	})

	t.Run("verifies a SOCKS5 proxy", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.StartURL = testURL
		cfg.ProxyAddress = fakeSOCKS5(t)

		base := browser.Options{Type: browser.TypeChromeHeadless, StartRetries: 2}
		opts, stop, err := setupProxy(context.Background(), cfg, base, io.Discard, discardLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer stop()
		if opts.ProxyAddress != cfg.ProxyAddress {
			t.Errorf("expected %q, got %q", cfg.ProxyAddress, opts.ProxyAddress)
		}
		if opts.Type != base.Type || opts.StartRetries != base.StartRetries {
			t.Errorf("routing changed unrelated options: %+v", opts)
		}
	})

	t.Run("only warns when a remote start URL is unreachable", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.StartURL = "https://app.example.com/"
		cfg.ProxyAddress = fakeSOCKS5(t)

		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, nil))
		if _, _, err := setupProxy(context.Background(), cfg, browser.Options{}, io.Discard, logger); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(logs.String(), "not reachable through the proxy") {
			t.Errorf("expected a warning, got %q", logs.String())
		}
	})

	t.Run("fails when nothing listens on the proxy address", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.StartURL = testURL
		cfg.ProxyAddress = "127.0.0.1:1"

		_, _, err := setupProxy(context.Background(), cfg, browser.Options{}, io.Discard, discardLogger())
		if err == nil || !strings.Contains(err.Error(), "make sure a SOCKS5 proxy is running") {
			t.Errorf("expected a proxy error, got %v", err)
		}
	})
}

func TestIsLoopbackURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want bool
	}{
		{"http://localhost:3000/", true},
		{"http://127.0.0.1/", true},
		{"http://[::1]:8080/", true},
		{"file:///tmp/index.html", true},
		{"https://app.example.com/", false},
		{"http://10.0.0.5/", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			if got := isLoopbackURL(tt.raw); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func crawlTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.NewConfig()
	cfg.StartURL = testURL
	cfg.WaitAfterEvent = 0
	cfg.WaitAfterReload = 0
	cfg.MaxRuntime = 0
	cfg.DBDir = t.TempDir()
	return cfg
}

func TestRunCrawl(t *testing.T) {
	t.Parallel()

	t.Run("writes the report and stores the result", func(t *testing.T) {
		t.Parallel()

		cfg := crawlTestConfig(t)
		var out bytes.Buffer
		if err := runCrawl(context.Background(), cfg, staticFactory{}, &out, discardLogger()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := out.String()
		for _, want := range []string{"Crawl finished (EXHAUSTED)", "CRAWL REPORT", "Saved as crawl #1"} {
			if !strings.Contains(output, want) {
				t.Errorf("expected output to contain %q, got:\n%s", want, output)
			}
		}

		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		crawls, err := db.ListCrawls(context.Background(), testURL)
		if err != nil {
			t.Fatal(err)
		}
		if len(crawls) != 1 || crawls[0].States != 1 || crawls[0].ExitStatus != model.ExitExhausted {
			t.Errorf("unexpected stored crawls %+v", crawls)
		}
	})

	t.Run("interrupted crawl is stored as STOPPED", func(t *testing.T) {
		t.Parallel()

		cfg := crawlTestConfig(t)
		factory := blockingFactory{firing: make(chan struct{})}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-factory.firing
			cancel()
		}()

		var out bytes.Buffer
		if err := runCrawl(ctx, cfg, factory, &out, discardLogger()); err != nil {
			t.Fatalf("an interrupted crawl must not fail: %v", err)
		}
		if !strings.Contains(out.String(), "Crawl finished (STOPPED)") {
			t.Errorf("expected a STOPPED crawl, got:\n%s", out.String())
		}

		db, err := database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()
		crawls, err := db.ListCrawls(context.Background(), testURL)
		if err != nil {
			t.Fatal(err)
		}
		if len(crawls) != 1 || crawls[0].ExitStatus != model.ExitStopped {
			t.Errorf("unexpected stored crawls %+v", crawls)
		}
	})

	t.Run("skips the database with SaveToDB off", func(t *testing.T) {
		t.Parallel()

		cfg := crawlTestConfig(t)
		cfg.SaveToDB = false
		cfg.JSONReport = true
		cfg.ReportFile = filepath.Join(t.TempDir(), "reports", "crawl.json")

		var out bytes.Buffer
		if err := runCrawl(context.Background(), cfg, staticFactory{}, &out, discardLogger()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if strings.Contains(out.String(), "Saved as crawl") {
			t.Error("result must not be saved")
		}
		if _, err := os.Stat(filepath.Join(cfg.DBDir, database.DBFileName)); !os.IsNotExist(err) {
			t.Error("database file must not be created")
		}

		data, err := os.ReadFile(cfg.ReportFile)
		if err != nil {
			t.Fatalf("report file was not written: %v", err)
		}
		var rep report.JSONReport
		if err := json.Unmarshal(data, &rep); err != nil {
			t.Fatalf("report is not JSON: %v", err)
		}
		if rep.Result == nil || rep.Result.StartURL != testURL || rep.Result.ExitStatus != model.ExitExhausted {
			t.Errorf("unexpected report %+v", rep.Result)
		}
	})

	t.Run("returns the start error when no browser starts", func(t *testing.T) {
		t.Parallel()

		cfg := crawlTestConfig(t)
		err := runCrawl(context.Background(), cfg, failingFactory{}, io.Discard, discardLogger())
		if err == nil || !strings.Contains(err.Error(), "no chromium installed") {
			t.Errorf("expected the factory error, got %v", err)
		}
	})
}

func TestOutputReport(t *testing.T) {
	t.Parallel()

	result := twoStateResult(t, "<html><body><p>menu</p></body></html>", time.Now())

	tests := []struct {
		name     string
		json     bool
		markdown bool
		want     string
	}{
		{"text by default", false, false, "CRAWL REPORT"},
		{"markdown", false, true, "# Crawl Report"},
		{"json", true, false, `"start_url"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.NewConfig()
			cfg.JSONReport = tt.json
			cfg.MarkdownReport = tt.markdown

			var out bytes.Buffer
			if err := outputReport(cfg, result, &out); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("expected %q in output, got:\n%s", tt.want, out.String())
			}
		})
	}

	t.Run("file reports keep a summary on the terminal", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.MarkdownReport = true
		cfg.ReportFile = filepath.Join(t.TempDir(), "report.md")

		var out bytes.Buffer
		if err := outputReport(cfg, result, &out); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out.String(), "CRAWL REPORT") {
			t.Errorf("expected the text summary on out, got:\n%s", out.String())
		}
		data, err := os.ReadFile(cfg.ReportFile)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), "# Crawl Report") {
			t.Errorf("expected a Markdown file, got:\n%s", data)
		}
	})

	t.Run("report files are private", func(t *testing.T) {
		t.Parallel()

		cfg := config.NewConfig()
		cfg.ReportFile = filepath.Join(t.TempDir(), "nested", "dir", "report.txt")
		if err := outputReport(cfg, result, io.Discard); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		info, err := os.Stat(cfg.ReportFile)
		if err != nil {
			t.Fatalf("report file missing: %v", err)
		}
		if perm := info.Mode().Perm(); perm&0o077 != 0 {
			t.Errorf("expected owner-only permissions, got %v", perm)
		}
	})
}
