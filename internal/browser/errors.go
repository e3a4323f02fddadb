package browser

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Browser errors.
// Interaction errors are recoverable: the crawler records the action as
// attempted and moves on. ErrConnectionLost is fatal for the browser.
var (
	// ErrElementNotFound is returned when an element cannot be located.
	ErrElementNotFound = errors.New("element not found")

	// ErrElementNotInteractable is returned when an element exists but is
	// hidden, covered, or otherwise cannot receive the event.
	ErrElementNotInteractable = errors.New("element not interactable")

	// ErrFrameNotFound is returned when a frame path cannot be resolved.
	ErrFrameNotFound = errors.New("frame not found")

	// ErrUnsupportedEvent is returned for event types the backend cannot fire.
	ErrUnsupportedEvent = errors.New("unsupported event type")

	// ErrConnectionLost is returned when the connection to the browser is
	// gone. The browser must not be used afterwards.
	ErrConnectionLost = errors.New("browser connection lost")

	// ErrCloseTimeout is returned by Closer when the browser did not close
	// within both grace periods.
	ErrCloseTimeout = errors.New("browser did not close in time")

	// ErrUnsupportedType is returned by Factory for an unknown browser type.
	ErrUnsupportedType = errors.New("unsupported browser type")
)

// UnexpectedAlertError is returned when a JavaScript dialog opened while an
// event was being fired. The dialog has already been dismissed.
type UnexpectedAlertError struct {
	// Text is the dialog message.
	Text string
}

// Error implements the error interface.
func (e *UnexpectedAlertError) Error() string {
	return fmt.Sprintf("unexpected alert: %q", e.Text)
}

// IsInteractionError reports whether err is a recoverable failure to reach
// or fire on an element.
func IsInteractionError(err error) bool {
	if err == nil {
		return false
	}
	var alert *UnexpectedAlertError
	return errors.Is(err, ErrElementNotFound) ||
		errors.Is(err, ErrElementNotInteractable) ||
		errors.Is(err, ErrFrameNotFound) ||
		errors.Is(err, ErrUnsupportedEvent) ||
		errors.As(err, &alert)
}

// IsConnectionError reports whether err means the browser is gone.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionLost)
}

// connectionMarkers are fragments of messages produced when the DevTools
// websocket goes away underneath a call.
var connectionMarkers = []string{
	"use of closed network connection",
	"connection reset by peer",
	"broken pipe",
	"connection refused",
	"connection closed",
	"websocket: close",
}

// WrapConnectionError returns err wrapped with ErrConnectionLost when it
// indicates a broken transport, and err unchanged otherwise.
func WrapConnectionError(err error) error {
	if err == nil || errors.Is(err, ErrConnectionLost) {
		return err
	}
	if isTransportFailure(err) {
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return err
}

func isTransportFailure(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range connectionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
