package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nao1215/statecrawl/internal/browser"
	"github.com/nao1215/statecrawl/internal/dom"
	"github.com/nao1215/statecrawl/internal/graph"
	"github.com/nao1215/statecrawl/internal/model"
)

// ErrStateUnreachable is recorded for an action whose state could not be
// restored in the browser before firing.
var ErrStateUnreachable = errors.New("state could not be restored")

// popupScript replaces the blocking dialog functions so pages cannot stop
// the crawl with alert, confirm or prompt.
const popupScript = `window.alert = function(msg) { return true; };
window.confirm = function(msg) { return true; };
window.prompt = function(msg) { return true; };`

// Config holds the crawl parameters shared by the Runner and its crawlers.
type Config struct {
	// StartURL is the page the crawl begins at.
	StartURL string

	// Browsers is the number of concurrent workers, each with its own browser.
	Browsers int

	// MaxStates stops the crawl once this many states exist. 0 is unbounded.
	MaxStates int

	// MaxRuntime stops the crawl after this long. 0 is unbounded.
	MaxRuntime time.Duration

	// WaitAfterEvent is the settle delay after firing an event.
	WaitAfterEvent time.Duration

	// WaitAfterReload is the settle delay after a navigation.
	WaitAfterReload time.Duration

	// FilterAttributes are stripped from the DOM before comparing states.
	FilterAttributes []string

	// Rules selects the candidate elements. Empty Click rules fall back
	// to dom.DefaultCandidateRules.
	Rules dom.CandidateRules

	// DisableFrames turns off importing frame content.
	DisableFrames bool

	// IgnoreFrames lists frame path patterns that are never imported.
	IgnoreFrames []string

	// AlertHandler decides whether an action interrupted by a dialog is
	// fired again. Nil retries once.
	AlertHandler browser.AlertHandler

	// ScreenshotDir receives one PNG per new state when set.
	ScreenshotDir string
}

func (c Config) candidateRules() dom.CandidateRules {
	rules := c.Rules
	if len(rules.Click) == 0 {
		rules.Click = dom.DefaultCandidateRules().Click
	}
	if rules.BaseURL == "" {
		rules.BaseURL = c.StartURL
	}
	return rules
}

// Crawler fires candidate actions through one browser and records the
// resulting states and transitions. A Crawler belongs to a single worker
// and is not safe for concurrent use; the graph, queue and exit notifier
// it shares with other crawlers are.
type Crawler struct {
	browser browser.Browser
	graph   *graph.Graph
	queue   *CandidateQueue
	exit    *ExitNotifier
	cfg     Config
	rules   dom.CandidateRules
	logger  *slog.Logger

	// current is the state the browser is known to show, or nil when unknown.
	current *model.State
}

// NewCrawler creates a Crawler driving b.
func NewCrawler(b browser.Browser, g *graph.Graph, q *CandidateQueue, exit *ExitNotifier, cfg Config, logger *slog.Logger) *Crawler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		browser: b,
		graph:   g,
		queue:   q,
		exit:    exit,
		cfg:     cfg,
		rules:   cfg.candidateRules(),
		logger:  logger,
	}
}

// Browser returns the browser the crawler drives.
func (c *Crawler) Browser() browser.Browser {
	return c.browser
}

// CrawlIndex loads the start URL and registers the index state.
func (c *Crawler) CrawlIndex(ctx context.Context) (*model.State, error) {
	if err := c.goTo(ctx, c.cfg.StartURL); err != nil {
		return nil, err
	}

	fingerprint, url, candidates, err := c.capture(ctx)
	if err != nil {
		return nil, err
	}

	state, isNew := c.graph.RegisterState(fingerprint, url, candidates)
	c.current = state
	if isNew {
		if err := c.discovered(ctx, state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// Execute fires the pending actions of state one at a time until none are
// left, the crawl is over or ctx is cancelled. Actions that cannot be fired
// are recorded as failed events. Errors that stop the whole state, such as
// browser connection loss or an unreadable page, are returned; the state's
// remaining actions stay in the queue.
func (c *Crawler) Execute(ctx context.Context, state *model.State) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.exit.IsExitCalled() {
			return nil
		}

		action, ok := c.queue.PollAction(state)
		if !ok {
			return nil
		}
		if err := c.execute(ctx, state, action); err != nil {
			return err
		}
	}
}

func (c *Crawler) execute(ctx context.Context, state *model.State, action model.CandidateAction) error {
	if err := c.backtrack(ctx, state); err != nil {
		if errors.Is(err, ErrStateUnreachable) {
			c.recordFailure(action, err)
			return nil
		}
		return err
	}

	err := browser.WithAlertRetry(ctx, c.browser, c.cfg.AlertHandler, func() error {
		return c.fire(ctx, action)
	})
	if err != nil {
		if browser.IsInteractionError(err) {
			c.recordFailure(action, err)
			c.current = nil
			return nil
		}
		return err
	}
	state.MarkAttempted(action)

	if err := sleepCtx(ctx, c.cfg.WaitAfterEvent); err != nil {
		return err
	}

	fingerprint, url, candidates, err := c.capture(ctx)
	if err != nil {
		c.current = nil
		return err
	}

	target, isNew := c.graph.RegisterState(fingerprint, url, candidates)
	c.graph.AddEdge(state, target, action)
	c.current = target

	c.logger.Debug("fired event",
		"action", action.String(),
		"from", state.Name,
		"to", target.Name,
	)

	if isNew {
		return c.discovered(ctx, target)
	}
	return nil
}

// fire locates the action's element and fires its event. The browser is
// returned to the top-level document afterwards.
func (c *Crawler) fire(ctx context.Context, action model.CandidateAction) (err error) {
	if action.FramePath != "" {
		if err := c.browser.SwitchToFrame(ctx, action.FramePath); err != nil {
			return err
		}
		defer func() {
			if switchErr := c.browser.SwitchToDefaultContent(ctx); switchErr != nil && err == nil {
				err = switchErr
			}
		}()
	}

	el, err := c.browser.FindElement(ctx, action.Element)
	if err != nil {
		return err
	}
	return c.browser.FireEvent(ctx, el, action.Event)
}

// backtrack brings the browser back to state. It first checks whether the
// page already shows it, then reloads the state's URL, and finally replays
// the shortest known path of actions from the index.
func (c *Crawler) backtrack(ctx context.Context, state *model.State) error {
	if c.current == state {
		return nil
	}
	if c.current == nil {
		if ok, err := c.isAt(ctx, state); err != nil || ok {
			return err
		}
	}

	if err := c.goTo(ctx, state.URL); err != nil {
		return err
	}
	if ok, err := c.isAt(ctx, state); err != nil || ok {
		return err
	}

	path, ok := c.graph.PathTo(state.ID)
	if !ok || len(path) == 0 {
		return fmt.Errorf("%w: %s", ErrStateUnreachable, state.Name)
	}

	c.logger.Debug("replaying path", "state", state.Name, "steps", len(path))
	if err := c.goTo(ctx, c.cfg.StartURL); err != nil {
		return err
	}
	for _, edge := range path {
		err := browser.WithAlertRetry(ctx, c.browser, c.cfg.AlertHandler, func() error {
			return c.fire(ctx, edge.Action)
		})
		if err != nil {
			if browser.IsInteractionError(err) {
				return fmt.Errorf("%w: %s: replay failed at %s: %w", ErrStateUnreachable, state.Name, edge.Action, err)
			}
			return err
		}
		if err := sleepCtx(ctx, c.cfg.WaitAfterEvent); err != nil {
			return err
		}
	}

	if ok, err := c.isAt(ctx, state); err != nil || ok {
		return err
	}
	return fmt.Errorf("%w: %s", ErrStateUnreachable, state.Name)
}

// isAt reports whether the browser currently shows state.
func (c *Crawler) isAt(ctx context.Context, state *model.State) (bool, error) {
	fingerprint, _, _, err := c.capture(ctx)
	if err != nil {
		return false, err
	}
	if fingerprint != state.Fingerprint {
		return false, nil
	}
	c.current = state
	return true, nil
}

// goTo navigates, waits for the page to settle and disables dialogs.
func (c *Crawler) goTo(ctx context.Context, url string) error {
	c.current = nil
	if err := c.browser.Navigate(ctx, url); err != nil {
		return err
	}
	if err := sleepCtx(ctx, c.cfg.WaitAfterReload); err != nil {
		return err
	}
	if _, err := c.browser.ExecuteScript(ctx, popupScript); err != nil {
		if browser.IsConnectionError(err) {
			return err
		}
		c.logger.Debug("failed to disable dialogs", "url", url, "error", err)
	}
	return nil
}

// capture reads the current DOM with its frames and returns the state
// fingerprint, the browser URL and the candidate actions found.
func (c *Crawler) capture(ctx context.Context) (string, string, []model.CandidateAction, error) {
	snap, err := dom.MergeFrames(ctx, c.browser, dom.FrameOptions{
		Disabled: c.cfg.DisableFrames,
		Ignore:   c.cfg.IgnoreFrames,
		Fatal:    browser.IsConnectionError,
	})
	if err != nil {
		return "", "", nil, err
	}
	for _, f := range snap.Frames {
		if f.Skipped {
			c.logger.Debug("frame skipped", "frame", f.Path, "reason", f.Reason)
		}
	}

	url, err := c.browser.CurrentURL(ctx)
	if err != nil {
		return "", "", nil, err
	}

	fingerprint := dom.Normalize(snap.HTML, c.cfg.FilterAttributes)
	return fingerprint, url, dom.ExtractCandidates(snap, c.rules), nil
}

// discovered publishes a newly registered state.
func (c *Crawler) discovered(ctx context.Context, state *model.State) error {
	c.queue.Enqueue(state)
	total := c.exit.IncrementStateCount()

	c.logger.Info("new state",
		"state", state.Name,
		"url", state.URL,
		"candidates", len(state.Candidates()),
		"states", total,
		"pending", c.queue.PendingCount(),
	)

	if c.cfg.ScreenshotDir == "" {
		return nil
	}
	img, err := c.browser.Screenshot(ctx)
	if err != nil {
		if browser.IsConnectionError(err) {
			return err
		}
		c.logger.Warn("failed to take screenshot", "state", state.Name, "error", err)
		return nil
	}
	file := filepath.Join(c.cfg.ScreenshotDir, state.Name+".png")
	if err := os.WriteFile(file, img, 0o600); err != nil {
		c.logger.Warn("failed to save screenshot", "file", file, "error", err)
	}
	return nil
}

func (c *Crawler) recordFailure(action model.CandidateAction, reason error) {
	if err := c.graph.RecordFailedEvent(action, reason); err != nil {
		c.logger.Warn("failed to record failed event", "action", action.String(), "error", err)
		return
	}
	c.logger.Debug("event failed", "action", action.String(), "reason", reason)
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
