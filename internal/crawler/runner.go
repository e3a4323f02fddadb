package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/statecrawl/internal/browser"
	"github.com/nao1215/statecrawl/internal/graph"
	"github.com/nao1215/statecrawl/internal/model"
)

// ErrAlreadyStarted is returned when Run is called twice on a Runner.
var ErrAlreadyStarted = errors.New("runner already started")

// BrowserFactory creates the browsers used by workers.
type BrowserFactory interface {
	New(ctx context.Context) (browser.Browser, error)
}

// Runner drives a crawl: it registers the index state, runs one worker per
// browser, enforces the runtime limit and collects the result once the
// exit notifier fires.
type Runner struct {
	cfg     Config
	factory BrowserFactory
	closer  *browser.Closer
	logger  *slog.Logger

	graph   *graph.Graph
	queue   *CandidateQueue
	exit    *ExitNotifier
	started atomic.Bool
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithCloser sets the closer used to release browsers.
func WithCloser(closer *browser.Closer) RunnerOption {
	return func(r *Runner) {
		r.closer = closer
	}
}

// NewRunner creates a Runner for a single crawl.
func NewRunner(factory BrowserFactory, cfg Config, opts ...RunnerOption) *Runner {
	if cfg.Browsers < 1 {
		cfg.Browsers = 1
	}

	r := &Runner{
		cfg:     cfg,
		factory: factory,
		graph:   graph.New(),
		queue:   NewCandidateQueue(),
		exit:    NewExitNotifier(cfg.MaxStates),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.closer == nil {
		r.closer = browser.NewCloser(browser.WithCloserLogger(r.logger))
	}
	return r
}

// Stop ends the crawl with ExitStopped unless another reason was already
// committed. It is safe to call from any goroutine.
func (r *Runner) Stop() {
	r.exit.Stop()
}

// Graph returns the graph the crawl builds.
func (r *Runner) Graph() *graph.Graph {
	return r.graph
}

// Run performs the crawl and blocks until it ends. Cancelling ctx stops the
// crawl like Stop does. An error is returned only when the crawl could not
// start; once the index state exists the result is always returned.
func (r *Runner) Run(ctx context.Context) (*model.CrawlResult, error) {
	if !r.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyStarted
	}
	startedAt := time.Now()

	if r.cfg.ScreenshotDir != "" {
		if err := os.MkdirAll(r.cfg.ScreenshotDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
		}
	}

	r.logger.Info("starting crawl",
		"url", r.cfg.StartURL,
		"browsers", r.cfg.Browsers,
		"max_states", r.cfg.MaxStates,
		"max_runtime", r.cfg.MaxRuntime,
	)

	first, err := r.factory.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	indexCrawler := r.newCrawler(0, first)
	if _, err := indexCrawler.CrawlIndex(ctx); err != nil {
		if closeErr := r.closer.Close(first); closeErr != nil {
			r.logger.Warn("failed to close browser", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to crawl index page: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.cfg.MaxRuntime > 0 {
		timer := time.AfterFunc(r.cfg.MaxRuntime-time.Since(startedAt), r.exit.SignalTimeIsUp)
		defer timer.Stop()
	}
	go func() {
		select {
		case <-ctx.Done():
			r.exit.Stop()
		case <-r.exit.Done():
		}
	}()

	var workers errgroup.Group
	for i := range r.cfg.Browsers {
		workers.Go(func() error {
			c := indexCrawler
			if i > 0 {
				b, err := r.factory.New(runCtx)
				if err != nil {
					if runCtx.Err() == nil {
						r.logger.Error("failed to start browser", "worker", i, "error", err)
					}
					return fmt.Errorf("worker %d: %w", i, err)
				}
				c = r.newCrawler(i, b)
			}
			return NewWorker(i, c, r.closer, r.logger).Run(runCtx)
		})
	}

	workersDone := make(chan error, 1)
	go func() {
		err := workers.Wait()
		// Every worker is gone. Workers also return when the caller
		// cancels ctx, which is a manual stop and not a failure.
		if ctx.Err() != nil {
			r.exit.Stop()
		} else {
			r.exit.SignalError()
		}
		workersDone <- err
	}()

	<-r.exit.Done()
	status := r.exit.Reason()
	r.logger.Info("crawl finishing", "reason", status.String())

	cancel()
	if err := <-workersDone; err != nil {
		r.logger.Warn("worker stopped with an error", "error", err)
	}

	finishedAt := time.Now()
	result := model.NewCrawlResult(r.cfg.StartURL, r.graph.AllStates(), r.graph.Edges(), status, startedAt, finishedAt, r.cfg.Browsers)

	r.logger.Info("crawl finished",
		"reason", status.String(),
		"states", result.Statistics.States,
		"edges", result.Statistics.Edges,
		"failed_events", result.Statistics.FailedEvents,
		"duration", result.Statistics.Duration,
	)
	return result, nil
}

func (r *Runner) newCrawler(id int, b browser.Browser) *Crawler {
	return NewCrawler(b, r.graph, r.queue, r.exit, r.cfg, r.logger.With("worker", id))
}
