package browser

import (
	"log/slog"
	"time"
)

// Default close grace periods.
const (
	// DefaultCloseTimeout is how long Close waits before warning.
	DefaultCloseTimeout = 3 * time.Second

	// DefaultSecondCloseTimeout is the extra time granted after the warning,
	// after which the close is abandoned.
	DefaultSecondCloseTimeout = 2 * time.Second
)

// Closer releases browsers with a bounded wait. Browser.Close can hang when
// the browser process is wedged; Closer runs it in its own goroutine and
// gives up after two grace periods so shutdown always finishes.
//
// A Closer is created by whoever owns the browsers and lives as long as
// they do. It holds no goroutines between calls.
type Closer struct {
	first  time.Duration
	second time.Duration
	logger *slog.Logger
}

// CloserOption configures a Closer.
type CloserOption func(*Closer)

// WithCloseTimeouts sets both grace periods. Non-positive values keep the defaults.
func WithCloseTimeouts(first, second time.Duration) CloserOption {
	return func(c *Closer) {
		if first > 0 {
			c.first = first
		}
		if second > 0 {
			c.second = second
		}
	}
}

// WithCloserLogger sets the logger used for close warnings.
func WithCloserLogger(logger *slog.Logger) CloserOption {
	return func(c *Closer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCloser creates a Closer with the default grace periods.
func NewCloser(opts ...CloserOption) *Closer {
	c := &Closer{
		first:  DefaultCloseTimeout,
		second: DefaultSecondCloseTimeout,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes b and waits at most both grace periods for it to finish.
// It returns the browser's close error, or ErrCloseTimeout if the close was
// abandoned. A nil browser is a no-op.
func (c *Closer) Close(b Browser) error {
	if b == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- b.Close()
	}()

	first := time.NewTimer(c.first)
	defer first.Stop()

	select {
	case err := <-done:
		return err
	case <-first.C:
	}

	c.logger.Warn("browser did not close in time, waiting a little longer",
		"waited", c.first,
		"extra", c.second,
	)

	second := time.NewTimer(c.second)
	defer second.Stop()

	select {
	case err := <-done:
		return err
	case <-second.C:
		c.logger.Error("giving up on closing browser", "waited", c.first+c.second)
		return ErrCloseTimeout
	}
}
