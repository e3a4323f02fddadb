package dom

import (
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/nao1215/statecrawl/internal/model"
)

// AnyTag matches every element in an ElementRule.
const AnyTag = "*"

// ElementRule selects elements by tag and attributes.
type ElementRule struct {
	// Tag is the lower-case tag name, or AnyTag.
	Tag string

	// Attributes must all be present on the element. An empty value only
	// requires presence; otherwise the value must match case-insensitively.
	Attributes map[string]string

	// Event is the event fired on matching elements. Empty means click.
	Event model.EventType
}

func (r ElementRule) matches(n *html.Node) bool {
	if r.Tag != AnyTag && !strings.EqualFold(r.Tag, n.Data) {
		return false
	}
	for key, want := range r.Attributes {
		got, ok := lookupAttr(n, key)
		if !ok {
			return false
		}
		if want != "" && !strings.EqualFold(strings.TrimSpace(got), want) {
			return false
		}
	}
	return true
}

func (r ElementRule) event() model.EventType {
	if r.Event == "" {
		return model.EventClick
	}
	return r.Event
}

// CandidateRules decides which elements of a snapshot become candidate actions.
type CandidateRules struct {
	// Click lists the rules that make an element a candidate. The first
	// matching rule decides the event type.
	Click []ElementRule

	// DontClick excludes elements even when a Click rule matches.
	DontClick []ElementRule

	// BaseURL is the URL of the page under crawl. Anchors pointing to
	// another host are skipped unless FollowExternal is set.
	BaseURL string

	// FollowExternal keeps anchors that leave the crawled host.
	FollowExternal bool
}

// DefaultCandidateRules returns the rules used when none are configured:
// anchors, buttons, submit and button inputs, and any element with an
// onclick handler.
func DefaultCandidateRules() CandidateRules {
	return CandidateRules{
		Click: []ElementRule{
			{Tag: "a"},
			{Tag: "button"},
			{Tag: "input", Attributes: map[string]string{"type": "submit"}},
			{Tag: "input", Attributes: map[string]string{"type": "button"}},
			{Tag: AnyTag, Attributes: map[string]string{"onclick": ""}},
		},
	}
}

// ExtractCandidates walks the snapshot and returns one action per matching
// element, in document order. Elements inside imported frames carry the
// frame path, and their XPath is relative to the frame's own document.
func ExtractCandidates(snap *Snapshot, rules CandidateRules) []model.CandidateAction {
	if snap == nil || snap.Root == nil {
		return nil
	}

	var host string
	if u, err := url.Parse(rules.BaseURL); err == nil {
		host = u.Host
	}

	var (
		actions []model.CandidateAction
		walk    func(n *html.Node, framePath string)
	)
	ids := countIDs(snap.Root)

	walk = func(n *html.Node, framePath string) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch {
			case c.Data == FrameContentTag:
				walk(c, attr(c, FramePathAttr))
				continue
			case c.DataAtom == atom.Head, c.DataAtom == atom.Script, c.DataAtom == atom.Style:
				continue
			}

			if event, ok := rules.match(c); ok && !skipAnchor(c, host, rules.FollowExternal) {
				actions = append(actions, model.CandidateAction{
					Element:   identify(c, ids),
					Event:     event,
					FramePath: framePath,
					Text:      truncate(strings.TrimSpace(textContent(c)), 60),
				})
			}
			walk(c, framePath)
		}
	}
	walk(snap.Root, "")
	return actions
}

func (r CandidateRules) match(n *html.Node) (model.EventType, bool) {
	if n.DataAtom == atom.Input && strings.EqualFold(attr(n, "type"), "hidden") {
		return "", false
	}
	for _, rule := range r.DontClick {
		if rule.matches(n) {
			return "", false
		}
	}
	for _, rule := range r.Click {
		if rule.matches(n) {
			return rule.event(), true
		}
	}
	return "", false
}

// skipAnchor reports whether an anchor leads somewhere the crawl must not go.
func skipAnchor(n *html.Node, host string, followExternal bool) bool {
	if n.DataAtom != atom.A {
		return false
	}
	href := strings.TrimSpace(attr(n, "href"))
	lower := strings.ToLower(href)
	if strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
		return true
	}
	if followExternal || host == "" || href == "" {
		return false
	}
	u, err := url.Parse(href)
	if err != nil {
		return false
	}
	return u.Host != "" && !strings.EqualFold(u.Host, host)
}

// identify prefers a document-unique id and falls back to an XPath.
func identify(n *html.Node, ids map[string]int) model.Identification {
	if id := attr(n, "id"); id != "" && ids[id] == 1 {
		return model.Identification{How: model.HowID, Value: id}
	}
	return model.Identification{How: model.HowXPath, Value: XPath(n)}
}

// XPath returns the absolute XPath of an element, e.g. /HTML[1]/BODY[1]/DIV[2]/A[1].
// The path stops at the enclosing imported frame, so it can be evaluated
// inside that frame's document.
func XPath(n *html.Node) string {
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode && cur.Data != FrameContentTag; cur = cur.Parent {
		pos := 1
		for s := cur.PrevSibling; s != nil; s = s.PrevSibling {
			if s.Type == html.ElementNode && s.Data == cur.Data {
				pos++
			}
		}
		parts = append(parts, strings.ToUpper(cur.Data)+"["+strconv.Itoa(pos)+"]")
	}

	var sb strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		sb.WriteString("/")
		sb.WriteString(parts[i])
	}
	return sb.String()
}

// countIDs counts id attributes per frame document and keeps the highest
// count seen for each id, so an id is unique only if no single document
// repeats it.
func countIDs(root *html.Node) map[string]int {
	counts := make(map[string]int)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.Data == FrameContentTag {
				continue
			}
			if id := attr(c, "id"); id != "" {
				counts[id]++
			}
			walk(c)
		}
	}
	walk(root)

	for _, frame := range frameContents(root) {
		for id, n := range countIDs(frame) {
			if n > counts[id] {
				counts[id] = n
			}
		}
	}
	return counts
}

func frameContents(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.Data == FrameContentTag {
				out = append(out, c)
				continue
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
