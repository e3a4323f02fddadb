package browser

import (
	"context"
	"errors"
)

// AlertHandler decides what happens after an unexpected JavaScript dialog
// interrupted an operation. Returning true retries the operation once.
type AlertHandler interface {
	HandleAlert(ctx context.Context, b Browser, text string) bool
}

// AlertHandlerFunc adapts a function to AlertHandler.
type AlertHandlerFunc func(ctx context.Context, b Browser, text string) bool

// HandleAlert calls f.
func (f AlertHandlerFunc) HandleAlert(ctx context.Context, b Browser, text string) bool {
	return f(ctx, b, text)
}

// RetryAlways retries every operation interrupted by an alert.
// It is the default policy.
var RetryAlways AlertHandler = AlertHandlerFunc(func(context.Context, Browser, string) bool { return true })

// NeverRetry returns the alert error to the caller immediately.
var NeverRetry AlertHandler = AlertHandlerFunc(func(context.Context, Browser, string) bool { return false })

// WithAlertRetry runs op. If op fails with an UnexpectedAlertError and the
// handler agrees, op runs exactly one more time and its result is returned.
// A nil handler behaves like RetryAlways.
func WithAlertRetry(ctx context.Context, b Browser, handler AlertHandler, op func() error) error {
	err := op()

	var alert *UnexpectedAlertError
	if !errors.As(err, &alert) {
		return err
	}

	if handler == nil {
		handler = RetryAlways
	}
	if !handler.HandleAlert(ctx, b, alert.Text) {
		return err
	}
	return op()
}
