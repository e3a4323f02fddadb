package dom

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// FrameContentTag is the element that wraps imported frame content.
	// It is inserted right after the frame element it belongs to.
	FrameContentTag = "frame-content"

	// FramePathAttr holds the dotted frame path on a FrameContentTag element.
	FramePathAttr = "data-frame-path"
)

// FrameSource is the part of a browser that MergeFrames needs.
// SwitchToFrame takes a dotted path that is always resolved from the
// top-level document.
type FrameSource interface {
	PageSource(ctx context.Context) (string, error)
	SwitchToFrame(ctx context.Context, path string) error
	SwitchToDefaultContent(ctx context.Context) error
}

// FrameResult reports what happened to one frame during a merge.
type FrameResult struct {
	// Path is the dotted path of the frame.
	Path string

	// Skipped is true when the frame content was not imported.
	Skipped bool

	// Reason explains why the frame was skipped.
	Reason string
}

// Snapshot is a page's markup with its frames imported.
type Snapshot struct {
	// HTML is the merged markup. When the page has no frames it is the
	// page source exactly as the browser returned it.
	HTML string

	// Root is the parsed merged document.
	Root *html.Node

	// Frames holds one entry per frame encountered, imported or not.
	Frames []FrameResult
}

// FrameOptions configures MergeFrames.
type FrameOptions struct {
	// Disabled turns frame import off; the snapshot is the top-level source.
	Disabled bool

	// Ignore lists glob patterns (path.Match syntax) of frame paths that
	// must not be imported.
	Ignore []string

	// Fatal classifies errors that must abort the merge instead of skipping
	// the frame, such as a lost browser connection. Nil means none are fatal.
	Fatal func(error) bool
}

func (o FrameOptions) ignored(framePath string) bool {
	for _, pattern := range o.Ignore {
		if ok, err := path.Match(pattern, framePath); err == nil && ok {
			return true
		}
		if pattern == framePath {
			return true
		}
	}
	return false
}

func (o FrameOptions) fatal(err error) bool {
	return o.Fatal != nil && o.Fatal(err)
}

// MergeFrames reads the current page from src and imports the content of
// every frame, recursively. The browser is expected to be on the top-level
// document and is returned there. A frame that cannot be entered or read is
// recorded as skipped and its siblings are still processed; only errors
// classified as fatal by opts abort the merge.
func MergeFrames(ctx context.Context, src FrameSource, opts FrameOptions) (*Snapshot, error) {
	raw, err := src.PageSource(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page source: %w", err)
	}

	root, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page source: %w", err)
	}

	snap := &Snapshot{HTML: raw, Root: root}
	if opts.Disabled {
		return snap, nil
	}

	results, err := importFrames(ctx, src, opts, root, "")
	if err != nil {
		return nil, err
	}
	snap.Frames = results

	if len(results) == 0 {
		return snap, nil
	}

	if err := src.SwitchToDefaultContent(ctx); err != nil && opts.fatal(err) {
		return nil, err
	}

	var sb strings.Builder
	if err := html.Render(&sb, root); err != nil {
		return nil, fmt.Errorf("failed to render merged document: %w", err)
	}
	snap.HTML = sb.String()
	return snap, nil
}

// importFrames imports the frames found below node, whose own frame path is
// prefix ("" for the top-level document).
func importFrames(ctx context.Context, src FrameSource, opts FrameOptions, node *html.Node, prefix string) ([]FrameResult, error) {
	frames := findFrames(node)
	results := make([]FrameResult, 0, len(frames))

	for i, frame := range frames {
		framePath := joinFramePath(prefix, FrameIdentifier(frame, i))

		if opts.ignored(framePath) {
			results = append(results, FrameResult{Path: framePath, Skipped: true, Reason: "ignored by frame rules"})
			continue
		}

		content, err := readFrame(ctx, src, framePath)
		if err != nil {
			if opts.fatal(err) {
				return nil, err
			}
			results = append(results, FrameResult{Path: framePath, Skipped: true, Reason: err.Error()})
			continue
		}

		doc, err := html.Parse(strings.NewReader(content))
		if err != nil {
			results = append(results, FrameResult{Path: framePath, Skipped: true, Reason: err.Error()})
			continue
		}

		wrapper := &html.Node{
			Type: html.ElementNode,
			Data: FrameContentTag,
			Attr: []html.Attribute{{Key: FramePathAttr, Val: framePath}},
		}
		for c := doc.FirstChild; c != nil; {
			next := c.NextSibling
			doc.RemoveChild(c)
			if c.Type != html.DoctypeNode {
				wrapper.AppendChild(c)
			}
			c = next
		}
		if frame.Parent != nil {
			frame.Parent.InsertBefore(wrapper, frame.NextSibling)
		}

		results = append(results, FrameResult{Path: framePath})

		nested, err := importFrames(ctx, src, opts, wrapper, framePath)
		if err != nil {
			return nil, err
		}
		results = append(results, nested...)
	}
	return results, nil
}

func readFrame(ctx context.Context, src FrameSource, framePath string) (string, error) {
	if err := src.SwitchToDefaultContent(ctx); err != nil {
		return "", err
	}
	if err := src.SwitchToFrame(ctx, framePath); err != nil {
		return "", err
	}
	return src.PageSource(ctx)
}

// findFrames returns the iframe and frame elements below node in document
// order, without descending into imported frame content.
func findFrames(node *html.Node) []*html.Node {
	var frames []*html.Node
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.Data == FrameContentTag {
				continue
			}
			if c.DataAtom == atom.Iframe || c.DataAtom == atom.Frame {
				frames = append(frames, c)
				continue
			}
			walk(c)
		}
	}
	walk(node)
	return frames
}

// FrameIdentifier returns the identifier used for a frame element in a
// frame path: its id, else its name, else its position among the frames
// of its document.
func FrameIdentifier(frame *html.Node, index int) string {
	if id := attr(frame, "id"); id != "" {
		return id
	}
	if name := attr(frame, "name"); name != "" {
		return name
	}
	return strconv.Itoa(index)
}

func joinFramePath(prefix, id string) string {
	if prefix == "" {
		return id
	}
	return prefix + "." + id
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
