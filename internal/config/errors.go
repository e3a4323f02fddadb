package config

import "errors"

// Configuration validation errors returned by Config.Validate.
var (
	// ErrNoTarget is returned when no start URL is given.
	ErrNoTarget = errors.New("no target specified: provide the URL to start crawling from")

	// ErrInvalidURL is returned when the start URL is not an absolute
	// http, https or file URL.
	ErrInvalidURL = errors.New("invalid start URL: must be an absolute http, https or file URL")

	// ErrInvalidBrowsers is returned when fewer than one browser is requested.
	ErrInvalidBrowsers = errors.New("invalid number of browsers: must be at least 1")

	// ErrInvalidMaxStates is returned for a negative state limit.
	ErrInvalidMaxStates = errors.New("invalid max states: must be non-negative (0 means unlimited)")

	// ErrInvalidMaxRuntime is returned for a negative runtime limit.
	ErrInvalidMaxRuntime = errors.New("invalid max runtime: must be non-negative (0 means unlimited)")

	// ErrInvalidWait is returned for a negative settle delay.
	ErrInvalidWait = errors.New("invalid wait time: must be non-negative")

	// ErrInvalidRetries is returned for a negative browser start retry count.
	ErrInvalidRetries = errors.New("invalid browser start retries: must be non-negative")

	// ErrInvalidBrowserType is returned for an unknown browser type.
	ErrInvalidBrowserType = errors.New("invalid browser type: must be chrome-headless, chrome or remote")

	// ErrRemoteURLRequired is returned when the remote browser type is
	// selected without a DevTools URL.
	ErrRemoteURLRequired = errors.New("remote browser requires --remote-url")

	// ErrInvalidProxy is returned when the proxy address is not host:port.
	ErrInvalidProxy = errors.New("invalid proxy address: must be host:port")

	// ErrConflictingProxy is returned when both --proxy and --tor are given.
	ErrConflictingProxy = errors.New("conflicting proxy settings: --proxy and --tor cannot be used together")

	// ErrInvalidRule is returned for a click rule without a tag or with an
	// unknown event type.
	ErrInvalidRule = errors.New("invalid click rule")

	// ErrConflictingReportFormats is returned when both --json and --markdown
	// are specified.
	ErrConflictingReportFormats = errors.New("conflicting report formats: --json and --markdown cannot be used together")
)
