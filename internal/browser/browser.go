package browser

import (
	"context"

	"github.com/nao1215/statecrawl/internal/model"
)

// Element is a handle to an element found by FindElement.
// Handles are only valid until the next navigation or frame switch.
type Element interface {
	// Identification returns how the element was located.
	Identification() model.Identification
}

// Browser is the capability the crawler needs from a browser.
// A Browser is owned by a single worker and is not safe for concurrent use.
type Browser interface {
	// Navigate loads url in the top-level document and waits for the load
	// event. The browser is left on the top-level content.
	Navigate(ctx context.Context, url string) error

	// CurrentURL returns the URL of the top-level document.
	CurrentURL(ctx context.Context) (string, error)

	// PageSource returns the markup of the document currently in scope
	// (the top-level document or the frame entered with SwitchToFrame).
	PageSource(ctx context.Context) (string, error)

	// FindElement locates an element in the document currently in scope.
	// It does not wait; a missing element yields ErrElementNotFound.
	FindElement(ctx context.Context, id model.Identification) (Element, error)

	// FireEvent fires event on el. An element that is not visible or cannot
	// receive the event yields ErrElementNotInteractable.
	FireEvent(ctx context.Context, el Element, event model.EventType) error

	// ExecuteScript runs code as the body of a JavaScript function in the
	// document currently in scope and returns its result as a string.
	ExecuteScript(ctx context.Context, code string) (string, error)

	// SwitchToFrame enters the frame at the dotted path, resolved from the
	// top-level document. A path segment is a frame id, a frame name, or
	// the frame's position among the frames of its document.
	SwitchToFrame(ctx context.Context, path string) error

	// SwitchToDefaultContent returns to the top-level document.
	SwitchToDefaultContent(ctx context.Context) error

	// Screenshot captures the visible viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)

	// Close releases the browser. It may block; use a Closer to bound it.
	Close() error
}
