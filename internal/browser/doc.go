// Package browser defines the capability the crawler needs from a real
// browser and provides a go-rod (Chrome DevTools Protocol) implementation.
//
// The crawler only ever talks to the Browser interface. Every method may
// fail with an error wrapping ErrConnectionLost, which callers treat as
// fatal for the browser. Failures to find or interact with an element are
// reported with ErrElementNotFound or ErrElementNotInteractable and are
// recoverable.
//
// # Components
//
//   - Browser: the capability interface
//   - RodBrowser: the go-rod backend (local headless, local headful, remote)
//   - Factory: creates browsers from Options, with start retries
//   - Closer: releases a browser with a bounded two-stage wait
//   - AlertHandler: the retry policy applied after an unexpected alert
//
// # Usage
//
//	factory := browser.NewFactory(browser.Options{Type: browser.TypeChromeHeadless})
//	b, err := factory.New(ctx)
//	if err != nil {
//	    return err
//	}
//	defer browser.NewCloser().Close(b)
package browser
