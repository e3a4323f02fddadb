package model

import (
	"fmt"
	"strings"
)

// How describes the strategy used to locate an element in the DOM.
type How string

const (
	// HowID locates an element by its id attribute.
	HowID How = "id"

	// HowXPath locates an element by an absolute XPath expression.
	HowXPath How = "xpath"

	// HowName locates an element by its name attribute.
	HowName How = "name"

	// HowCSS locates an element by a CSS selector.
	HowCSS How = "css"

	// HowText locates a link by its visible text.
	HowText How = "text"
)

// Identification describes how to find an element again after navigation.
type Identification struct {
	// How is the lookup strategy.
	How How `json:"how"`

	// Value is the strategy-specific expression (an id, an XPath, ...).
	Value string `json:"value"`
}

// String returns the identification in "how:value" form.
func (i Identification) String() string {
	return string(i.How) + ":" + i.Value
}

// EventType is the kind of event fired on a candidate element.
type EventType string

const (
	// EventClick is a left mouse click.
	EventClick EventType = "click"

	// EventHover moves the pointer over the element.
	EventHover EventType = "hover"
)

// CandidateAction is a concrete event that can be fired on an element of a
// state. Two actions of the same state are equal when their Key is equal.
type CandidateAction struct {
	// StateID is the id of the state that owns this action.
	StateID int `json:"state_id"`

	// Element identifies the element the event is fired on.
	Element Identification `json:"element"`

	// Event is the event type.
	Event EventType `json:"event"`

	// FramePath is the dot-separated list of frame identifiers that must be
	// entered before the element can be found. Empty means top-level content.
	FramePath string `json:"frame_path,omitempty"`

	// Text is the visible text of the element, kept for reports only.
	Text string `json:"text,omitempty"`
}

// Key returns the identity of the action within its state.
func (a CandidateAction) Key() string {
	return a.FramePath + "|" + string(a.Event) + "|" + a.Element.String()
}

// Frames splits FramePath into its individual frame identifiers.
func (a CandidateAction) Frames() []string {
	if a.FramePath == "" {
		return nil
	}
	return strings.Split(a.FramePath, ".")
}

// String returns a short description used in logs and reports.
func (a CandidateAction) String() string {
	if a.FramePath != "" {
		return fmt.Sprintf("%s %s (frame %s)", a.Event, a.Element, a.FramePath)
	}
	return fmt.Sprintf("%s %s", a.Event, a.Element)
}

// Edge is a transition from one state to another caused by an action.
type Edge struct {
	// From is the source state id.
	From int `json:"from"`

	// To is the target state id. It may equal From when the action did not
	// change the DOM.
	To int `json:"to"`

	// Action is the fired action.
	Action CandidateAction `json:"action"`
}
