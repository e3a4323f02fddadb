package crawler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nao1215/statecrawl/internal/browser"
	"github.com/nao1215/statecrawl/internal/model"
)

// fakePage is one screen of a fake single-page application.
type fakePage struct {
	// url is where the page can be reloaded from.
	url string

	// buttons maps a button id to the page it leads to.
	buttons map[string]string

	// broken lists button ids that cannot be clicked.
	broken map[string]bool

	// alerts lists button ids that open a dialog the first time they are clicked.
	alerts map[string]bool
}

// fakeSite is shared by all fake browsers of a test.
type fakeSite struct {
	start string
	pages map[string]fakePage

	// onFire runs before every click, outside any lock.
	onFire func(page, button string)

	mu        sync.Mutex
	fires     map[string]int
	alertSeen map[string]bool
}

func newFakeSite(start string, pages map[string]fakePage) *fakeSite {
	return &fakeSite{
		start:     start,
		pages:     pages,
		fires:     make(map[string]int),
		alertSeen: make(map[string]bool),
	}
}

func (s *fakeSite) urlOf(page string) string {
	if u := s.pages[page].url; u != "" {
		return u
	}
	return "http://app.test/#" + page
}

// fireCounts returns a copy of the per "page|button" click counters.
func (s *fakeSite) fireCounts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.fires))
	for k, v := range s.fires {
		out[k] = v
	}
	return out
}

func (s *fakeSite) html(page string) string {
	p := s.pages[page]
	ids := make([]string, 0, len(p.buttons)+len(p.broken))
	for id := range p.buttons {
		ids = append(ids, id)
	}
	for id := range p.broken {
		if _, ok := p.buttons[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var sb strings.Builder
	sb.WriteString("<html><head><script>var now = Date.now();</script></head><body>")
	fmt.Fprintf(&sb, "<h1 style=\"\">%s</h1>", page)
	for _, id := range ids {
		fmt.Fprintf(&sb, "<button id=%q>%s</button>", id, id)
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

type fakeElement struct {
	id model.Identification
}

func (e fakeElement) Identification() model.Identification { return e.id }

// fakeBrowser implements browser.Browser on top of a fakeSite.
type fakeBrowser struct {
	site *fakeSite

	// loseAt makes the loseAt-th click, and every call after it, fail with
	// a lost connection. Zero disables it.
	loseAt int

	// closeDelay delays Close.
	closeDelay time.Duration

	page    string
	clicks  int
	lost    bool
	closed  atomic.Bool
	scripts atomic.Int32
}

func (b *fakeBrowser) check() error {
	if b.lost {
		return fmt.Errorf("%w: websocket: close 1006", browser.ErrConnectionLost)
	}
	return nil
}

func (b *fakeBrowser) Navigate(_ context.Context, url string) error {
	if err := b.check(); err != nil {
		return err
	}
	// Unknown URLs and URLs shared by several pages load the start page.
	b.page = b.site.start
	if b.site.urlOf(b.site.start) == url {
		return nil
	}
	for name := range b.site.pages {
		if b.site.urlOf(name) == url {
			b.page = name
			break
		}
	}
	return nil
}

func (b *fakeBrowser) CurrentURL(context.Context) (string, error) {
	if err := b.check(); err != nil {
		return "", err
	}
	return b.site.urlOf(b.page), nil
}

func (b *fakeBrowser) PageSource(context.Context) (string, error) {
	if err := b.check(); err != nil {
		return "", err
	}
	return b.site.html(b.page), nil
}

func (b *fakeBrowser) FindElement(_ context.Context, id model.Identification) (browser.Element, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	p := b.site.pages[b.page]
	if _, ok := p.buttons[id.Value]; ok {
		return fakeElement{id: id}, nil
	}
	if p.broken[id.Value] {
		return fakeElement{id: id}, nil
	}
	return nil, fmt.Errorf("%w: %s", browser.ErrElementNotFound, id)
}

func (b *fakeBrowser) FireEvent(_ context.Context, el browser.Element, _ model.EventType) error {
	if err := b.check(); err != nil {
		return err
	}
	b.clicks++
	if b.loseAt > 0 && b.clicks >= b.loseAt {
		b.lost = true
		return b.check()
	}

	button := el.Identification().Value
	if b.site.onFire != nil {
		b.site.onFire(b.page, button)
	}

	p := b.site.pages[b.page]
	if p.broken[button] {
		return fmt.Errorf("%w: %s is covered", browser.ErrElementNotInteractable, button)
	}

	key := b.page + "|" + button
	b.site.mu.Lock()
	if p.alerts[button] && !b.site.alertSeen[key] {
		b.site.alertSeen[key] = true
		b.site.mu.Unlock()
		return &browser.UnexpectedAlertError{Text: "sure?"}
	}
	b.site.fires[key]++
	b.site.mu.Unlock()

	b.page = p.buttons[button]
	return nil
}

func (b *fakeBrowser) ExecuteScript(context.Context, string) (string, error) {
	if err := b.check(); err != nil {
		return "", err
	}
	b.scripts.Add(1)
	return "", nil
}

func (b *fakeBrowser) SwitchToFrame(_ context.Context, path string) error {
	return fmt.Errorf("%w: %s", browser.ErrFrameNotFound, path)
}

func (b *fakeBrowser) SwitchToDefaultContent(context.Context) error { return b.check() }

func (b *fakeBrowser) Screenshot(context.Context) ([]byte, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	return []byte("\x89PNG " + b.page), nil
}

func (b *fakeBrowser) Close() error {
	time.Sleep(b.closeDelay)
	b.closed.Store(true)
	return nil
}

// fakeFactory hands out fake browsers and remembers them.
type fakeFactory struct {
	site *fakeSite

	// configure adjusts the n-th browser (0-based) before it is returned.
	configure func(n int, b *fakeBrowser)

	// fail makes New fail for the n-th browser.
	fail func(n int) bool

	mu       sync.Mutex
	browsers []*fakeBrowser
	calls    int
}

func (f *fakeFactory) New(ctx context.Context) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.calls
	f.calls++
	if f.fail != nil && f.fail(n) {
		return nil, fmt.Errorf("browser %d would not start", n)
	}

	b := &fakeBrowser{site: f.site}
	if f.configure != nil {
		f.configure(n, b)
	}
	f.browsers = append(f.browsers, b)
	return b, nil
}

func (f *fakeFactory) all() []*fakeBrowser {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]*fakeBrowser, len(f.browsers))
	copy(out, f.browsers)
	return out
}

// chainSite returns pages p0 -> p1 -> ... -> p(n-1), each with a "next"
// button and a "home" button back to p0.
func chainSite(n int) *fakeSite {
	pages := make(map[string]fakePage, n)
	for i := range n {
		name := fmt.Sprintf("p%d", i)
		buttons := map[string]string{"home": "p0"}
		if i+1 < n {
			buttons["next"] = fmt.Sprintf("p%d", i+1)
		}
		pages[name] = fakePage{buttons: buttons}
	}
	return newFakeSite("p0", pages)
}

// fanSite returns an index with n buttons, each leading to its own page
// that has a single button back to the index.
func fanSite(n int) *fakeSite {
	index := make(map[string]string, n)
	pages := map[string]fakePage{
		"index": {buttons: index},
	}
	for i := range n {
		name := fmt.Sprintf("leaf%d", i)
		index["to-"+name] = name
		pages[name] = fakePage{buttons: map[string]string{"back": "index"}}
	}
	return newFakeSite("index", pages)
}

func testConfig(browsers int) Config {
	return Config{
		StartURL: "http://app.test/#index",
		Browsers: browsers,
	}
}
