package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Type selects how a browser is obtained.
type Type string

const (
	// TypeChromeHeadless launches a local headless Chromium.
	TypeChromeHeadless Type = "chrome-headless"

	// TypeChrome launches a local Chromium with a visible window.
	TypeChrome Type = "chrome"

	// TypeRemote connects to an already running browser's DevTools endpoint.
	TypeRemote Type = "remote"
)

// Default start retry settings.
const (
	// DefaultStartRetries is how many times a failed start is retried.
	DefaultStartRetries = 2

	// DefaultStartRetryDelay is the pause between start attempts.
	DefaultStartRetryDelay = time.Second
)

// ParseType validates a browser type name.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case TypeChromeHeadless, TypeChrome, TypeRemote:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedType, s)
	}
}

// Options configures a Factory.
type Options struct {
	// Type selects local headless, local headful or remote.
	Type Type

	// RemoteURL is the DevTools URL (ws://... or http://host:port) used
	// with TypeRemote.
	RemoteURL string

	// BinPath is the Chromium binary. Empty means look it up, downloading
	// a browser if none is installed.
	BinPath string

	// ProxyAddress is a SOCKS5 "host:port" all browser traffic goes through.
	ProxyAddress string

	// NoSandbox disables the Chromium sandbox, needed when running as root
	// in containers.
	NoSandbox bool

	// StartRetries is how many times a failed start is retried.
	StartRetries int

	// RetryDelay is the pause between start attempts.
	RetryDelay time.Duration

	// Logger receives start failures. Nil means slog.Default().
	Logger *slog.Logger
}

// Factory creates browsers. Each call to New yields an independent browser
// owned by the caller.
type Factory struct {
	opts   Options
	logger *slog.Logger
}

// NewFactory creates a Factory. Zero-valued options fall back to defaults.
func NewFactory(opts Options) *Factory {
	if opts.Type == "" {
		opts.Type = TypeChromeHeadless
	}
	if opts.StartRetries < 0 {
		opts.StartRetries = 0
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultStartRetryDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{opts: opts, logger: logger}
}

// New starts a browser, retrying up to StartRetries times.
func (f *Factory) New(ctx context.Context) (Browser, error) {
	var lastErr error
	for attempt := 0; attempt <= f.opts.StartRetries; attempt++ {
		if attempt > 0 {
			f.logger.Warn("retrying browser start",
				"attempt", attempt+1,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.opts.RetryDelay):
			}
		}

		b, err := f.start(ctx)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("failed to start browser after %d attempts: %w", f.opts.StartRetries+1, lastErr)
}

func (f *Factory) start(ctx context.Context) (Browser, error) {
	switch f.opts.Type {
	case TypeRemote:
		return f.connectRemote(ctx)
	case TypeChromeHeadless:
		return f.launchLocal(ctx, true)
	case TypeChrome:
		return f.launchLocal(ctx, false)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, f.opts.Type)
	}
}

func (f *Factory) connectRemote(ctx context.Context) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	u, err := launcher.ResolveURL(f.opts.RemoteURL)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve remote browser %s: %w", f.opts.RemoteURL, err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to remote browser: %w", err)
	}

	// Every worker connecting to the same remote browser works in its own
	// browser context, so closing one never closes the others' tabs or
	// the browser itself.
	incognito, err := b.Incognito()
	if err != nil {
		return nil, WrapConnectionError(fmt.Errorf("failed to create browser context: %w", err))
	}

	rb, err := newRodBrowser(incognito, incognito, nil)
	if err != nil {
		_ = incognito.Close() //nolint:errcheck // best effort cleanup
		return nil, err
	}

	f.logger.Debug("connected to remote browser", "url", u, "context", incognito.BrowserContextID)
	return rb, nil
}

func (f *Factory) launchLocal(ctx context.Context, headless bool) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := launcher.New().
		Headless(headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage")

	switch {
	case f.opts.BinPath != "":
		l = l.Bin(f.opts.BinPath)
	default:
		if path, found := launcher.LookPath(); found {
			l = l.Bin(path)
		}
	}
	if f.opts.NoSandbox {
		l = l.NoSandbox(true)
	}
	if f.opts.ProxyAddress != "" {
		l = l.Proxy("socks5://" + f.opts.ProxyAddress)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	rb, err := newRodBrowser(b, b, l)
	if err != nil {
		_ = b.Close() //nolint:errcheck // best effort cleanup
		l.Kill()
		return nil, err
	}

	f.logger.Debug("launched browser", "headless", headless, "control_url", u)
	return rb, nil
}
