package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/tornago"

	"github.com/nao1215/statecrawl/internal/browser"
)

// DefaultStartupTimeout is how long the embedded Tor daemon may take to
// bootstrap.
const DefaultStartupTimeout = 3 * time.Minute

// EmbeddedTor is a private Tor daemon, managed by tornago, whose SOCKS port
// carries the traffic of every browser of a crawl started with --tor.
type EmbeddedTor struct {
	startupTimeout time.Duration
	logger         *slog.Logger

	mu        sync.Mutex
	process   *tornago.TorProcess
	socksAddr string
}

// EmbeddedTorOption configures an EmbeddedTor.
type EmbeddedTorOption func(*EmbeddedTor)

// WithStartupTimeout sets the maximum time to wait for Tor to bootstrap.
func WithStartupTimeout(timeout time.Duration) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		e.startupTimeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) EmbeddedTorOption {
	return func(e *EmbeddedTor) {
		e.logger = logger
	}
}

// NewEmbeddedTor creates a daemon manager. Nothing runs until Start.
func NewEmbeddedTor(opts ...EmbeddedTorOption) *EmbeddedTor {
	e := &EmbeddedTor{
		startupTimeout: DefaultStartupTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type launchResult struct {
	process *tornago.TorProcess
	err     error
}

// Start launches the daemon on OS-assigned ports and waits until it has
// bootstrapped, the startup timeout passes or ctx is cancelled. A daemon
// that finishes bootstrapping after ctx was cancelled is stopped.
func (e *EmbeddedTor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.IsRunning() {
		return nil
	}

	launchCfg, err := tornago.NewTorLaunchConfig(
		tornago.WithTorSocksAddr(":0"),
		tornago.WithTorControlAddr(":0"),
		tornago.WithTorStartupTimeout(e.startupTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create Tor launch config: %w", err)
	}

	done := make(chan launchResult, 1)
	go func() {
		p, err := tornago.StartTorDaemon(launchCfg)
		done <- launchResult{process: p, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("failed to start embedded Tor daemon: %w", res.err)
		}
		e.mu.Lock()
		e.process = res.process
		e.socksAddr = res.process.SocksAddr()
		e.mu.Unlock()
		e.logger.Info("embedded Tor daemon bootstrapped",
			"socksAddr", res.process.SocksAddr(),
			"controlAddr", res.process.ControlAddr(),
		)
		return nil
	case <-ctx.Done():
		go func() {
			if res := <-done; res.err == nil {
				_ = res.process.Stop() //nolint:errcheck // nobody is waiting for it
			}
		}()
		return ctx.Err()
	}
}

// Stop shuts the daemon down. It is a no-op when the daemon is not running.
func (e *EmbeddedTor) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.process == nil {
		return nil
	}
	err := e.process.Stop()
	e.process = nil
	e.socksAddr = ""
	return err
}

// SocksAddr returns the daemon's SOCKS5 address, or "" when not running.
func (e *EmbeddedTor) SocksAddr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.socksAddr
}

// IsRunning reports whether the daemon has bootstrapped and not been stopped.
func (e *EmbeddedTor) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.process != nil
}

// Route returns opts with all browser traffic sent through the daemon.
func (e *EmbeddedTor) Route(opts browser.Options) (browser.Options, error) {
	addr := e.SocksAddr()
	if addr == "" {
		return opts, ErrTorNotRunning
	}
	opts.ProxyAddress = addr
	return opts, nil
}

// NewClient returns a Client for the daemon's SOCKS port.
func (e *EmbeddedTor) NewClient(timeout time.Duration) (*Client, error) {
	addr := e.SocksAddr()
	if addr == "" {
		return nil, ErrTorNotRunning
	}
	return NewClient(addr, timeout)
}
