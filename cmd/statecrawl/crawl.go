package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/statecrawl/internal/browser"
	"github.com/nao1215/statecrawl/internal/config"
	"github.com/nao1215/statecrawl/internal/crawler"
	"github.com/nao1215/statecrawl/internal/database"
	statelog "github.com/nao1215/statecrawl/internal/log"
	"github.com/nao1215/statecrawl/internal/model"
	"github.com/nao1215/statecrawl/internal/proxy"
	"github.com/nao1215/statecrawl/internal/report"
)

// proxyCheckTimeout bounds the reachability check of the start URL through
// a proxy.
const proxyCheckTimeout = 30 * time.Second

// errCrawlFailed is returned after the report has been written when the
// crawl ended because every worker died.
var errCrawlFailed = errors.New("crawl ended with an error")

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a web application and build its state-flow graph",
		Long: `Crawl opens the start URL in one or more browsers, fires events on every
candidate element and records each distinct DOM state it reaches.

The crawl ends when no candidate action is left (EXHAUSTED), when the state
limit or runtime limit is reached (MAX_STATES, MAX_TIME), on Ctrl-C (STOPPED)
or when every browser has been lost (ERROR). The report is printed in every
case and the result is stored in the local database unless --no-db is given.

Examples:
  # Crawl with a single headless browser
  statecrawl crawl http://localhost:3000/

  # Four browsers, at most 200 states, stop after ten minutes
  statecrawl crawl -b 4 -n 200 -r 10m http://localhost:3000/

  # Ignore attributes that change on every render
  statecrawl crawl --filter-attr data-timestamp,data-nonce http://localhost:3000/

  # Connect to a running Chromium and write a Markdown report
  statecrawl crawl --browser remote --remote-url ws://127.0.0.1:9222/devtools/browser/ID \
    --markdown -o report.md http://localhost:3000/

  # Route every browser through a SOCKS5 proxy
  statecrawl crawl --proxy 127.0.0.1:1080 https://app.example.com/

Crawl rules (.statecrawl) example:
  defaults:
    filterAttributes: [data-reactid]
    waitAfterEvent: 300ms
  sites:
    app.example.com:
      click:
        - tag: a
        - tag: div
          attributes:
            role: button
      dontClick:
        - tag: a
          attributes:
            id: logout`,
		Args: cobra.ExactArgs(1),
		RunE: runCrawlCmd,
	}

	// Crawl limits
	cmd.Flags().IntP("browsers", "b", config.DefaultBrowsers,
		"Number of concurrent browsers")
	cmd.Flags().IntP("max-states", "n", 0,
		"Stop after this many states (0 means unlimited)")
	cmd.Flags().DurationP("max-runtime", "r", config.DefaultMaxRuntime,
		"Stop after this long (0 means unlimited)")
	cmd.Flags().Duration("wait-event", config.DefaultWaitAfterEvent,
		"Delay after firing an event before the DOM is read")
	cmd.Flags().Duration("wait-reload", config.DefaultWaitAfterReload,
		"Delay after loading a page before the DOM is read")

	// State comparison and candidate selection
	cmd.Flags().StringSlice("filter-attr", nil,
		"Attributes removed from the DOM before states are compared")
	cmd.Flags().Bool("follow-external", false,
		"Also click links that leave the start URL's host")
	cmd.Flags().Bool("no-frames", false,
		"Do not import the content of frames and iframes")

	// Browser
	cmd.Flags().String("browser", config.DefaultBrowserType,
		"Browser type: chrome-headless, chrome or remote")
	cmd.Flags().String("remote-url", "",
		"DevTools endpoint of a running browser (with --browser remote)")
	cmd.Flags().String("browser-bin", "",
		"Chromium binary (default: look it up or download one)")
	cmd.Flags().Bool("no-sandbox", false,
		"Disable the Chromium sandbox (needed as root in containers)")
	cmd.Flags().Int("start-retries", config.DefaultBrowserStartRetries,
		"Retries when a browser fails to start")
	cmd.Flags().String("screenshots", "",
		"Save a PNG of every new state into this directory")
	cmd.Flags().Lookup("screenshots").NoOptDefVal = filepath.Join(config.XDGCacheDir(), "screenshots")

	// Proxy
	cmd.Flags().StringP("proxy", "x", "",
		"SOCKS5 proxy for all browser traffic (host:port)")
	cmd.Flags().Bool("tor", false,
		"Start an embedded Tor daemon and crawl through it")
	cmd.Flags().DurationP("tor-timeout", "T", config.DefaultTorStartupTimeout,
		"Timeout for embedded Tor startup")

	// Configuration file
	cmd.Flags().StringP("config", "c", "",
		"Crawl rules file (default: .statecrawl in current or home directory)")

	// Report and storage
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().Bool("no-db", false,
		"Do not store the result in the database")
	cmd.Flags().String("db-dir", "",
		"Database directory (default: XDG data directory)")

	return cmd
}

func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := statelog.NewSecureLogger(cmd.ErrOrStderr(), cfg.Verbose)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("received shutdown signal, stopping crawl...")
			cancel()
		case <-ctx.Done():
		}
	}()

	opts, stopProxy, err := setupProxy(ctx, cfg, browserOptions(cfg, logger), cmd.OutOrStdout(), logger)
	if err != nil {
		return err
	}
	defer stopProxy()

	factory := browser.NewFactory(opts)
	return runCrawl(ctx, cfg, factory, cmd.OutOrStdout(), logger)
}

// buildConfig creates a Config from the rules file and the command flags.
// Flags given explicitly override the rules file.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()
	cfg.StartURL = args[0]
	cfg.Verbose = getVerboseFlag(cmd)

	var err error
	if cfg.ConfigFilePath, err = flags.GetString("config"); err != nil {
		return nil, err
	}
	configPath := config.FindConfigFile(cfg.ConfigFilePath)
	switch {
	case configPath != "":
		file, err := config.LoadConfigFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
		cfg.ApplyRules(file.RulesFor(cfg.StartURL))
	case cfg.ConfigFilePath != "":
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}

	if flags.Changed("browsers") {
		if cfg.Browsers, err = flags.GetInt("browsers"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("max-states") {
		if cfg.MaxStates, err = flags.GetInt("max-states"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("max-runtime") {
		if cfg.MaxRuntime, err = flags.GetDuration("max-runtime"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("wait-event") {
		if cfg.WaitAfterEvent, err = flags.GetDuration("wait-event"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("wait-reload") {
		if cfg.WaitAfterReload, err = flags.GetDuration("wait-reload"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("filter-attr") {
		if cfg.FilterAttributes, err = flags.GetStringSlice("filter-attr"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("follow-external") {
		if cfg.FollowExternal, err = flags.GetBool("follow-external"); err != nil {
			return nil, err
		}
	}
	if flags.Changed("no-frames") {
		noFrames, err := flags.GetBool("no-frames")
		if err != nil {
			return nil, err
		}
		cfg.CrawlFrames = !noFrames
	}

	if cfg.BrowserType, err = flags.GetString("browser"); err != nil {
		return nil, err
	}
	if cfg.RemoteURL, err = flags.GetString("remote-url"); err != nil {
		return nil, err
	}
	if cfg.BrowserBin, err = flags.GetString("browser-bin"); err != nil {
		return nil, err
	}
	if cfg.NoSandbox, err = flags.GetBool("no-sandbox"); err != nil {
		return nil, err
	}
	if cfg.BrowserStartRetries, err = flags.GetInt("start-retries"); err != nil {
		return nil, err
	}
	if cfg.ScreenshotDir, err = flags.GetString("screenshots"); err != nil {
		return nil, err
	}

	if cfg.ProxyAddress, err = flags.GetString("proxy"); err != nil {
		return nil, err
	}
	if cfg.UseTor, err = flags.GetBool("tor"); err != nil {
		return nil, err
	}
	if cfg.TorStartupTimeout, err = flags.GetDuration("tor-timeout"); err != nil {
		return nil, err
	}

	if cfg.JSONReport, err = flags.GetBool("json"); err != nil {
		return nil, err
	}
	if cfg.MarkdownReport, err = flags.GetBool("markdown"); err != nil {
		return nil, err
	}
	if cfg.ReportFile, err = flags.GetString("output"); err != nil {
		return nil, err
	}

	noDB, err := flags.GetBool("no-db")
	if err != nil {
		return nil, err
	}
	cfg.SaveToDB = !noDB
	dbDir, err := flags.GetString("db-dir")
	if err != nil {
		return nil, err
	}
	if dbDir != "" {
		cfg.DBDir = dbDir
	}

	return cfg, nil
}

// crawlerConfig translates the CLI configuration into the crawler's.
func crawlerConfig(cfg *config.Config) crawler.Config {
	return crawler.Config{
		StartURL:         cfg.StartURL,
		Browsers:         cfg.Browsers,
		MaxStates:        cfg.MaxStates,
		MaxRuntime:       cfg.MaxRuntime,
		WaitAfterEvent:   cfg.WaitAfterEvent,
		WaitAfterReload:  cfg.WaitAfterReload,
		FilterAttributes: cfg.FilterAttributes,
		Rules:            cfg.CandidateRules(),
		DisableFrames:    !cfg.CrawlFrames,
		IgnoreFrames:     cfg.IgnoreFrames,
		ScreenshotDir:    cfg.ScreenshotDir,
	}
}

// browserOptions translates the CLI configuration into factory options.
// Validate has already checked the browser type.
func browserOptions(cfg *config.Config, logger *slog.Logger) browser.Options {
	typ, _ := browser.ParseType(cfg.BrowserType) //nolint:errcheck // validated
	return browser.Options{
		Type:         typ,
		RemoteURL:    cfg.RemoteURL,
		BinPath:      cfg.BrowserBin,
		NoSandbox:    cfg.NoSandbox,
		StartRetries: cfg.BrowserStartRetries,
		Logger:       logger,
	}
}

// setupProxy checks the configured proxy, or starts the embedded Tor daemon,
// and returns opts routed through it. The returned stop function is always
// non-nil.
func setupProxy(ctx context.Context, cfg *config.Config, opts browser.Options, out io.Writer, logger *slog.Logger) (browser.Options, func(), error) {
	noop := func() {}

	switch {
	case cfg.ProxyAddress != "":
		client, err := proxy.NewClient(cfg.ProxyAddress, proxyCheckTimeout)
		if err != nil {
			return opts, noop, fmt.Errorf("failed to create proxy client: %w", err)
		}
		if err := verifyProxy(ctx, client, cfg.StartURL, logger); err != nil {
			return opts, noop, fmt.Errorf("%w (make sure a SOCKS5 proxy is running at %s)", err, cfg.ProxyAddress)
		}
		logger.Info("proxy connection verified", "address", client.Address())
		return client.Route(opts), noop, nil

	case cfg.UseTor:
		fmt.Fprintln(out, "Starting embedded Tor daemon...")
		fmt.Fprintf(out, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

		embedded := proxy.NewEmbeddedTor(
			proxy.WithStartupTimeout(cfg.TorStartupTimeout),
			proxy.WithLogger(logger),
		)
		if err := embedded.Start(ctx); err != nil {
			return opts, noop, fmt.Errorf("failed to start embedded Tor: %w", err)
		}
		stop := func() {
			logger.Info("stopping embedded Tor daemon...")
			if err := embedded.Stop(); err != nil {
				logger.Error("failed to stop embedded Tor", "error", err)
			}
		}

		client, err := embedded.NewClient(proxyCheckTimeout)
		if err != nil {
			stop()
			return opts, noop, fmt.Errorf("failed to create Tor client: %w", err)
		}
		if err := verifyProxy(ctx, client, cfg.StartURL, logger); err != nil {
			stop()
			return opts, noop, fmt.Errorf("embedded Tor proxy check failed: %w", err)
		}
		routed, err := embedded.Route(opts)
		if err != nil {
			stop()
			return opts, noop, err
		}

		fmt.Fprintf(out, "SOCKS proxy: %s\n\n", routed.ProxyAddress)
		return routed, stop, nil

	default:
		return opts, noop, nil
	}
}

// verifyProxy fails when the proxy is not a working SOCKS5 proxy. An
// unreachable start URL only produces a warning: Chromium bypasses the
// proxy for loopback hosts, so a local application may still load.
func verifyProxy(ctx context.Context, client *proxy.Client, startURL string, logger *slog.Logger) error {
	if status := client.CheckConnection(ctx); status != proxy.ProxyStatusOK {
		return fmt.Errorf("proxy check failed: %s: %w", status, status.Error())
	}
	if isLoopbackURL(startURL) {
		return nil
	}
	if err := client.CheckTarget(ctx, startURL); err != nil {
		logger.Warn("start URL is not reachable through the proxy", "url", startURL, "error", err)
	}
	return nil
}

func isLoopbackURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" || host == "" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// runCrawl performs the crawl, writes the report and stores the result.
func runCrawl(ctx context.Context, cfg *config.Config, factory crawler.BrowserFactory, out io.Writer, logger *slog.Logger) error {
	var db *database.CrawlDB
	if cfg.SaveToDB {
		var err error
		db, err = database.Open(cfg.DBDir, database.DefaultOptions())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()
		logger.Debug("database opened", "path", db.Path())
	}

	runner := crawler.NewRunner(factory, crawlerConfig(cfg), crawler.WithLogger(logger))

	fmt.Fprintf(out, "Crawling %s with %d browser(s)...\n", cfg.StartURL, cfg.Browsers)
	result, err := runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("crawl failed: %w", err)
	}
	fmt.Fprintf(out, "Crawl finished (%s) in %s\n\n",
		result.ExitStatus.Code(), result.Statistics.Duration.Round(time.Millisecond))

	if err := outputReport(cfg, result, out); err != nil {
		logger.Error("report failed", "error", err)
	}

	// The signal context may already be cancelled; the result is stored
	// regardless.
	saveCtx := context.WithoutCancel(ctx)
	if id, err := saveResult(saveCtx, db, result, logger); err != nil {
		logger.Error("failed to save crawl result", "error", err)
	} else if id > 0 {
		fmt.Fprintf(out, "Saved as crawl #%d (statecrawl show %d)\n", id, id)
	}

	if result.ExitStatus == model.ExitError {
		return errCrawlFailed
	}
	return nil
}

// outputReport writes the crawl report in the requested format to the
// report file, or to out when no file is configured. A JSON or Markdown
// file report is accompanied by the text summary on out.
func outputReport(cfg *config.Config, result *model.CrawlResult, out io.Writer) error {
	if cfg.ReportFile == "" {
		_, err := reportWriter(cfg.JSONReport, cfg.MarkdownReport, cfg.Verbose, out).Write(result)
		return err
	}

	f, err := createReportFile(cfg.ReportFile)
	if err != nil {
		return err
	}
	defer f.Close()

	w := reportWriter(cfg.JSONReport, cfg.MarkdownReport, cfg.Verbose, f)
	if cfg.JSONReport || cfg.MarkdownReport {
		w = report.NewMultiWriter(w, report.NewSimpleWriter(out))
	}
	_, err = w.Write(result)
	return err
}

// createReportFile creates the report file and its parent directories.
// Reports are written with 0600 since DOM contents may be private.
func createReportFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // user-chosen path
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

func reportWriter(jsonOutput, markdownOutput, verbose bool, out io.Writer) report.Writer {
	switch {
	case jsonOutput:
		return report.NewFullJSONWriter(out, getVersion(), report.WithPrettyPrint())
	case markdownOutput:
		return report.NewMarkdownWriter(out)
	default:
		return report.NewSimpleWriter(out, report.WithVerbose(verbose))
	}
}

// saveResult stores the result when a database is open. It returns the
// crawl id, or 0 when db is nil.
func saveResult(ctx context.Context, db *database.CrawlDB, result *model.CrawlResult, logger *slog.Logger) (int64, error) {
	if db == nil {
		return 0, nil
	}
	id, err := db.SaveResult(ctx, result)
	if err != nil {
		return 0, err
	}
	logger.Info("crawl result saved to database", "id", id, "url", result.StartURL)
	return id, nil
}
