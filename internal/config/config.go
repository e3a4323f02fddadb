package config

import (
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/adrg/xdg"

	"github.com/nao1215/statecrawl/internal/browser"
	"github.com/nao1215/statecrawl/internal/dom"
)

// Default configuration values.
const (
	// AppName is the application name used for XDG directory paths.
	AppName = "statecrawl"

	// DefaultBrowsers is the number of concurrent browsers.
	DefaultBrowsers = 1

	// DefaultBrowserType launches a local headless Chromium.
	DefaultBrowserType = string(browser.TypeChromeHeadless)

	// DefaultMaxRuntime bounds a crawl to one hour.
	DefaultMaxRuntime = time.Hour

	// DefaultWaitAfterEvent is the settle delay after firing an event.
	DefaultWaitAfterEvent = 500 * time.Millisecond

	// DefaultWaitAfterReload is the settle delay after loading a page.
	DefaultWaitAfterReload = 500 * time.Millisecond

	// DefaultBrowserStartRetries is how often a failed browser start is retried.
	DefaultBrowserStartRetries = browser.DefaultStartRetries

	// DefaultTorStartupTimeout is the maximum time to wait for the embedded
	// Tor daemon to bootstrap.
	DefaultTorStartupTimeout = 3 * time.Minute
)

// Config holds every option of a crawl. It is filled from CLI flags and the
// crawl rules file and handed down explicitly; nothing reads global state.
type Config struct {
	// StartURL is the page the crawl begins at.
	StartURL string

	// Browsers is the number of concurrent browsers, one worker each.
	Browsers int

	// BrowserType is one of chrome-headless, chrome or remote.
	BrowserType string

	// RemoteURL is the DevTools endpoint used with the remote browser type.
	RemoteURL string

	// BrowserBin is the Chromium binary. Empty means look it up.
	BrowserBin string

	// NoSandbox disables the Chromium sandbox.
	NoSandbox bool

	// BrowserStartRetries is how often a failed browser start is retried.
	BrowserStartRetries int

	// MaxStates stops the crawl once this many states exist. 0 is unbounded.
	MaxStates int

	// MaxRuntime stops the crawl after this long. 0 is unbounded.
	MaxRuntime time.Duration

	// WaitAfterEvent is the settle delay after firing an event.
	WaitAfterEvent time.Duration

	// WaitAfterReload is the settle delay after loading a page.
	WaitAfterReload time.Duration

	// FilterAttributes are removed from the DOM before states are compared,
	// so that attributes carrying timestamps or counters do not create
	// spurious states.
	FilterAttributes []string

	// ClickRules select the elements that become candidate actions.
	// Empty means the built-in defaults.
	ClickRules []dom.ElementRule

	// DontClickRules exclude elements even when a click rule matches.
	DontClickRules []dom.ElementRule

	// FollowExternal keeps links that leave the start URL's host.
	FollowExternal bool

	// CrawlFrames imports the content of frames and iframes.
	CrawlFrames bool

	// IgnoreFrames lists frame path patterns that are never imported.
	IgnoreFrames []string

	// ProxyAddress is a SOCKS5 proxy "host:port" for all browser traffic.
	ProxyAddress string

	// UseTor starts an embedded Tor daemon and routes browsers through it.
	UseTor bool

	// TorStartupTimeout bounds the embedded Tor bootstrap.
	TorStartupTimeout time.Duration

	// ScreenshotDir receives one PNG per new state when set.
	ScreenshotDir string

	// JSONReport selects JSON report output. Mutually exclusive with
	// MarkdownReport.
	JSONReport bool

	// MarkdownReport selects Markdown report output.
	MarkdownReport bool

	// ReportFile is the report destination. Empty means stdout.
	ReportFile string

	// DBDir is the directory of the SQLite database.
	DBDir string

	// SaveToDB stores the crawl result in the database.
	SaveToDB bool

	// Verbose enables debug logging.
	Verbose bool

	// ConfigFilePath is the crawl rules file. Empty means search for
	// .statecrawl in the current and home directories.
	ConfigFilePath string
}

// NewConfig creates a Config with default values.
func NewConfig() *Config {
	return &Config{
		Browsers:            DefaultBrowsers,
		BrowserType:         DefaultBrowserType,
		BrowserStartRetries: DefaultBrowserStartRetries,
		MaxRuntime:          DefaultMaxRuntime,
		WaitAfterEvent:      DefaultWaitAfterEvent,
		WaitAfterReload:     DefaultWaitAfterReload,
		CrawlFrames:         true,
		TorStartupTimeout:   DefaultTorStartupTimeout,
		SaveToDB:            true,
		DBDir:               XDGDataDir(),
	}
}

// XDGDataDir returns the XDG data directory for statecrawl.
// On Linux: ~/.local/share/statecrawl
func XDGDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// XDGConfigDir returns the XDG config directory for statecrawl.
// On Linux: ~/.config/statecrawl
func XDGConfigDir() string {
	return filepath.Join(xdg.ConfigHome, AppName)
}

// XDGCacheDir returns the XDG cache directory for statecrawl.
// Screenshots default to a directory below it.
// On Linux: ~/.cache/statecrawl
func XDGCacheDir() string {
	return filepath.Join(xdg.CacheHome, AppName)
}

// CandidateRules returns the candidate selection rules for the crawl.
func (c *Config) CandidateRules() dom.CandidateRules {
	rules := dom.CandidateRules{
		Click:          c.ClickRules,
		DontClick:      c.DontClickRules,
		BaseURL:        c.StartURL,
		FollowExternal: c.FollowExternal,
	}
	if len(rules.Click) == 0 {
		rules.Click = dom.DefaultCandidateRules().Click
	}
	return rules
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.StartURL == "" {
		return ErrNoTarget
	}
	u, err := url.Parse(c.StartURL)
	if err != nil || (u.Host == "" && u.Scheme != "file") {
		return ErrInvalidURL
	}
	switch u.Scheme {
	case "http", "https", "file":
	default:
		return ErrInvalidURL
	}

	if c.Browsers < 1 {
		return ErrInvalidBrowsers
	}
	if c.MaxStates < 0 {
		return ErrInvalidMaxStates
	}
	if c.MaxRuntime < 0 {
		return ErrInvalidMaxRuntime
	}
	if c.WaitAfterEvent < 0 || c.WaitAfterReload < 0 {
		return ErrInvalidWait
	}
	if c.BrowserStartRetries < 0 {
		return ErrInvalidRetries
	}

	typ, err := browser.ParseType(c.BrowserType)
	if err != nil {
		return ErrInvalidBrowserType
	}
	if typ == browser.TypeRemote && c.RemoteURL == "" {
		return ErrRemoteURLRequired
	}

	if c.UseTor && c.ProxyAddress != "" {
		return ErrConflictingProxy
	}
	if c.ProxyAddress != "" && !isValidHostPort(c.ProxyAddress) {
		return ErrInvalidProxy
	}

	for _, rule := range append(append([]dom.ElementRule{}, c.ClickRules...), c.DontClickRules...) {
		if err := validateRule(rule); err != nil {
			return err
		}
	}

	if c.JSONReport && c.MarkdownReport {
		return ErrConflictingReportFormats
	}
	return nil
}

func isValidHostPort(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n > 0 && n <= 65535
}
