package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/statecrawl/internal/browser"
	"github.com/nao1215/statecrawl/internal/database"
	"github.com/nao1215/statecrawl/internal/model"
)

const testURL = "http://localhost:3000/"

// twoStateResult builds a crawl of testURL whose index leads to one page
// with the given markup.
func twoStateResult(t *testing.T, pageDOM string, started time.Time) *model.CrawlResult {
	t.Helper()

	index := model.NewState(0, testURL, "<html><body><a id=\"menu\">menu</a></body></html>")
	page := model.NewState(1, testURL+"#/menu", pageDOM)

	click := model.CandidateAction{Element: model.Identification{How: model.HowID, Value: "menu"}, Event: model.EventClick, Text: "menu"}
	index.AddCandidates([]model.CandidateAction{click})
	index.MarkAttempted(click)
	click.StateID = 0

	edges := []model.Edge{{From: 0, To: 1, Action: click}}
	return model.NewCrawlResult(testURL, []*model.State{index, page}, edges, model.ExitExhausted, started, started.Add(42*time.Second), 1)
}

// seedDB stores results in a new database under dir and returns their ids.
func seedDB(t *testing.T, dir string, results ...*model.CrawlResult) []int64 {
	t.Helper()

	db, err := database.Open(dir, database.DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	ids := make([]int64, 0, len(results))
	for _, r := range results {
		id, err := db.SaveResult(context.Background(), r)
		if err != nil {
			t.Fatalf("failed to save result: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

// execute runs cmd with args and returns its standard output.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// staticBrowser serves one page without candidate elements.
type staticBrowser struct {
	closed bool
}

func (b *staticBrowser) Navigate(context.Context, string) error { return nil }

func (b *staticBrowser) CurrentURL(context.Context) (string, error) { return testURL, nil }

func (b *staticBrowser) PageSource(context.Context) (string, error) {
	return "<html><body><p>nothing to click</p></body></html>", nil
}

func (b *staticBrowser) FindElement(context.Context, model.Identification) (browser.Element, error) {
	return nil, browser.ErrElementNotFound
}

func (b *staticBrowser) FireEvent(context.Context, browser.Element, model.EventType) error {
	return browser.ErrElementNotInteractable
}

func (b *staticBrowser) ExecuteScript(context.Context, string) (string, error) { return "", nil }

func (b *staticBrowser) SwitchToFrame(context.Context, string) error { return browser.ErrFrameNotFound }

func (b *staticBrowser) SwitchToDefaultContent(context.Context) error { return nil }

func (b *staticBrowser) Screenshot(context.Context) ([]byte, error) { return []byte("\x89PNG"), nil }

func (b *staticBrowser) Close() error {
	b.closed = true
	return nil
}

// blockingBrowser offers one button whose click hangs until the crawl's
// context ends. firing is closed when the click starts.
type blockingBrowser struct {
	staticBrowser
	firing chan struct{}
	once   sync.Once
}

type buttonElement struct{ id model.Identification }

func (e buttonElement) Identification() model.Identification { return e.id }

func (b *blockingBrowser) PageSource(context.Context) (string, error) {
	return `<html><body><button id="go">go</button></body></html>`, nil
}

func (b *blockingBrowser) FindElement(_ context.Context, id model.Identification) (browser.Element, error) {
	return buttonElement{id: id}, nil
}

func (b *blockingBrowser) FireEvent(ctx context.Context, _ browser.Element, _ model.EventType) error {
	b.once.Do(func() { close(b.firing) })
	<-ctx.Done()
	return ctx.Err()
}

type blockingFactory struct {
	firing chan struct{}
}

func (f blockingFactory) New(context.Context) (browser.Browser, error) {
	return &blockingBrowser{firing: f.firing}, nil
}

type staticFactory struct{}

func (staticFactory) New(context.Context) (browser.Browser, error) { return &staticBrowser{}, nil }

type failingFactory struct{}

func (failingFactory) New(context.Context) (browser.Browser, error) {
	return nil, errors.New("no chromium installed")
}

// fakeSOCKS5 accepts the no-auth handshake and answers every CONNECT
// request with "host unreachable".
func fakeSOCKS5(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0") //nolint:noctx // test code
	if err != nil {
		t.Fatalf("failed to start fake proxy: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				greeting := make([]byte, 3)
				if _, err := io.ReadFull(conn, greeting); err != nil {
					return
				}
				_, _ = conn.Write([]byte{0x05, 0x00})
				req := make([]byte, 512)
				if _, err := conn.Read(req); err != nil {
					return
				}
				_, _ = conn.Write([]byte{0x05, 0x04, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
			}()
		}
	}()
	return listener.Addr().String()
}
