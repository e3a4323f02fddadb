package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/nao1215/statecrawl/internal/model"
)

// frameSelector matches every frame element of a document, in document order.
const frameSelector = "iframe, frame"

// session is the part of a browser a RodBrowser owns and disposes of on
// Close: the whole browser when it was launched locally, only its own
// browser context when several workers share a remote browser.
type session interface {
	Close() error
}

// process is a locally launched browser process.
type process interface {
	Kill()
	Cleanup()
}

// RodBrowser is a Browser driven by go-rod over the Chrome DevTools Protocol.
type RodBrowser struct {
	// owned is closed by Close.
	owned session

	// page is the top-level tab the crawl runs in.
	page *rod.Page

	// current is page or the frame entered with SwitchToFrame.
	current *rod.Page

	// proc is set when the browser process was started locally.
	proc process

	// alertMu guards alertText, which the dialog listener fills in.
	alertMu   sync.Mutex
	alertText string
	alertSeen bool
}

// rodElement wraps a rod element together with how it was found.
type rodElement struct {
	el *rod.Element
	id model.Identification
}

// Identification implements Element.
func (e *rodElement) Identification() model.Identification {
	return e.id
}

// newRodBrowser opens a tab on an already connected browser and starts the
// dialog listener. owned and proc are released by Close; proc may be nil.
func newRodBrowser(b *rod.Browser, owned session, proc process) (*RodBrowser, error) {
	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, WrapConnectionError(fmt.Errorf("failed to open tab: %w", err))
	}

	rb := &RodBrowser{
		owned:   owned,
		page:    page,
		current: page,
		proc:    proc,
	}

	// Dialogs block every DevTools call on the page until handled, so they
	// are dismissed as soon as they open and reported by FireEvent.
	go page.EachEvent(func(e *proto.PageJavascriptDialogOpening) {
		rb.alertMu.Lock()
		rb.alertText = e.Message
		rb.alertSeen = true
		rb.alertMu.Unlock()
		_ = proto.PageHandleJavaScriptDialog{Accept: false}.Call(page) //nolint:errcheck // the page may already be gone
	})()

	return rb, nil
}

// Navigate implements Browser.
func (b *RodBrowser) Navigate(ctx context.Context, url string) error {
	p := b.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return WrapConnectionError(fmt.Errorf("failed to navigate to %s: %w", url, err))
	}
	if err := p.WaitLoad(); err != nil {
		return WrapConnectionError(fmt.Errorf("failed waiting for %s to load: %w", url, err))
	}
	b.current = b.page
	return nil
}

// CurrentURL implements Browser.
func (b *RodBrowser) CurrentURL(ctx context.Context) (string, error) {
	info, err := b.page.Context(ctx).Info()
	if err != nil {
		return "", WrapConnectionError(err)
	}
	return info.URL, nil
}

// PageSource implements Browser.
func (b *RodBrowser) PageSource(ctx context.Context) (string, error) {
	src, err := b.current.Context(ctx).HTML()
	if err != nil {
		return "", WrapConnectionError(err)
	}
	return src, nil
}

// FindElement implements Browser.
func (b *RodBrowser) FindElement(ctx context.Context, id model.Identification) (Element, error) {
	p := b.current.Context(ctx)

	var (
		els rod.Elements
		err error
	)
	switch id.How {
	case model.HowID:
		els, err = p.Elements(attrSelector("id", id.Value))
	case model.HowName:
		els, err = p.Elements(attrSelector("name", id.Value))
	case model.HowCSS:
		els, err = p.Elements(id.Value)
	case model.HowXPath:
		els, err = p.ElementsX(id.Value)
	case model.HowText:
		els, err = p.ElementsX("//a[normalize-space(.)=" + xpathLiteral(id.Value) + "]")
	default:
		return nil, fmt.Errorf("%w: unknown lookup %q", ErrElementNotFound, id.How)
	}
	if err != nil {
		if wrapped := WrapConnectionError(err); IsConnectionError(wrapped) {
			return nil, wrapped
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrElementNotFound, id, err)
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrElementNotFound, id)
	}
	return &rodElement{el: els.First(), id: id}, nil
}

// FireEvent implements Browser.
func (b *RodBrowser) FireEvent(ctx context.Context, el Element, event model.EventType) error {
	re, ok := el.(*rodElement)
	if !ok {
		return fmt.Errorf("%w: foreign element %T", ErrElementNotFound, el)
	}
	target := re.el.Context(ctx)

	visible, err := target.Visible()
	if err != nil {
		return b.interactionError(re.id, err)
	}
	if !visible {
		return fmt.Errorf("%w: %s is not visible", ErrElementNotInteractable, re.id)
	}

	b.resetAlert()

	switch event {
	case model.EventClick:
		err = target.Click(proto.InputMouseButtonLeft, 1)
	case model.EventHover:
		err = target.Hover()
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedEvent, event)
	}
	if err != nil {
		return b.interactionError(re.id, err)
	}

	if text, seen := b.takeAlert(); seen {
		return &UnexpectedAlertError{Text: text}
	}
	return nil
}

func (b *RodBrowser) interactionError(id model.Identification, err error) error {
	if wrapped := WrapConnectionError(err); IsConnectionError(wrapped) {
		return wrapped
	}
	return fmt.Errorf("%w: %s: %w", ErrElementNotInteractable, id, err)
}

func (b *RodBrowser) resetAlert() {
	b.alertMu.Lock()
	defer b.alertMu.Unlock()
	b.alertText = ""
	b.alertSeen = false
}

func (b *RodBrowser) takeAlert() (string, bool) {
	b.alertMu.Lock()
	defer b.alertMu.Unlock()
	text, seen := b.alertText, b.alertSeen
	b.alertText = ""
	b.alertSeen = false
	return text, seen
}

// ExecuteScript implements Browser.
func (b *RodBrowser) ExecuteScript(ctx context.Context, code string) (string, error) {
	res, err := b.current.Context(ctx).Eval("function() {\n" + code + "\n}")
	if err != nil {
		return "", WrapConnectionError(fmt.Errorf("script failed: %w", err))
	}
	if res == nil || res.Value.Nil() {
		return "", nil
	}
	return res.Value.String(), nil
}

// SwitchToFrame implements Browser.
func (b *RodBrowser) SwitchToFrame(ctx context.Context, path string) error {
	cur := b.page
	for _, segment := range strings.Split(path, ".") {
		frameEl, err := findFrame(cur.Context(ctx), segment)
		if err != nil {
			return err
		}
		next, err := frameEl.Frame()
		if err != nil {
			if wrapped := WrapConnectionError(err); IsConnectionError(wrapped) {
				return wrapped
			}
			return fmt.Errorf("%w: %s: %w", ErrFrameNotFound, path, err)
		}
		cur = next
	}
	b.current = cur
	return nil
}

func findFrame(p *rod.Page, segment string) (*rod.Element, error) {
	if idx, err := strconv.Atoi(segment); err == nil {
		els, err := p.Elements(frameSelector)
		if err != nil {
			return nil, WrapConnectionError(err)
		}
		if idx < 0 || idx >= len(els) {
			return nil, fmt.Errorf("%w: no frame at position %d", ErrFrameNotFound, idx)
		}
		return els[idx], nil
	}

	sel := strings.Join([]string{
		"iframe" + attrSelector("id", segment),
		"frame" + attrSelector("id", segment),
		"iframe" + attrSelector("name", segment),
		"frame" + attrSelector("name", segment),
	}, ", ")
	els, err := p.Elements(sel)
	if err != nil {
		return nil, WrapConnectionError(err)
	}
	if len(els) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrFrameNotFound, segment)
	}
	return els.First(), nil
}

// SwitchToDefaultContent implements Browser.
func (b *RodBrowser) SwitchToDefaultContent(context.Context) error {
	b.current = b.page
	return nil
}

// Screenshot implements Browser.
func (b *RodBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	img, err := b.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, WrapConnectionError(err)
	}
	return img, nil
}

// Close implements Browser. A locally launched process is killed and its
// temporary profile removed. On a shared remote browser only this worker's
// browser context is disposed of.
func (b *RodBrowser) Close() error {
	err := b.owned.Close()
	if b.proc != nil {
		b.proc.Kill()
		b.proc.Cleanup()
	}
	return err
}

// attrSelector builds a CSS attribute selector with a quoted value.
func attrSelector(name, value string) string {
	return "[" + name + "=" + strconv.Quote(value) + "]"
}

// xpathLiteral quotes s for use in an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	return `concat("` + strings.Join(parts, `", '"', "`) + `")`
}
