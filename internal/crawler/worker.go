package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/nao1215/statecrawl/internal/browser"
	"github.com/nao1215/statecrawl/internal/model"
)

// ErrWorkerPanic is returned by Worker.Run when processing a state panicked.
var ErrWorkerPanic = errors.New("worker panicked")

// Worker drains the candidate queue with one crawler and its browser.
type Worker struct {
	id      int
	crawler *Crawler
	closer  *browser.Closer
	logger  *slog.Logger
}

// NewWorker creates a worker. The worker owns the crawler's browser and
// closes it through closer when Run returns.
func NewWorker(id int, c *Crawler, closer *browser.Closer, logger *slog.Logger) *Worker {
	if closer == nil {
		closer = browser.NewCloser()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:      id,
		crawler: c,
		closer:  closer,
		logger:  logger.With("worker", id),
	}
}

// Run processes states until the crawl ends, the queue is exhausted, ctx is
// cancelled or the browser is lost. Failures inside a state are logged and
// the loop goes on; a lost connection or a panic ends this worker only and
// is returned.
func (w *Worker) Run(ctx context.Context) (err error) {
	defer w.release()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("unrecoverable worker error",
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrWorkerPanic, r)
		}
	}()

	queue, exit := w.crawler.queue, w.crawler.exit
	w.logger.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-exit.Done():
			return nil
		default:
		}

		if queue.IsEmpty() {
			w.logger.Debug("no work left")
			exit.SignalCrawlExhausted()
			return nil
		}

		state, err := queue.AwaitNewTask(ctx)
		if errors.Is(err, ErrQueueExhausted) {
			w.logger.Debug("no work left")
			exit.SignalCrawlExhausted()
			return nil
		}
		if err != nil {
			return nil
		}

		if err := w.process(ctx, state); err != nil {
			if browser.IsConnectionError(err) {
				w.logger.Error("browser connection lost, worker stopping",
					"state", state.Name,
					"error", err,
				)
				return err
			}
			if ctx.Err() == nil {
				w.logger.Warn("failed to crawl state",
					"state", state.Name,
					"error", err,
				)
			}
		}
	}
}

// process executes state and always hands it back to the queue.
func (w *Worker) process(ctx context.Context, state *model.State) error {
	defer w.crawler.queue.TaskDone(state)
	return w.crawler.Execute(ctx, state)
}

func (w *Worker) release() {
	if err := w.closer.Close(w.crawler.Browser()); err != nil {
		w.logger.Warn("failed to close browser", "error", err)
		return
	}
	w.logger.Debug("browser closed")
}
