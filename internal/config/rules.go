package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nao1215/statecrawl/internal/dom"
	"github.com/nao1215/statecrawl/internal/model"
)

// ElementRule is the YAML form of a candidate selection rule.
type ElementRule struct {
	// Tag is the element name, or "*" for any element.
	Tag string `yaml:"tag"`

	// Attributes must all be present. An empty value only requires the
	// attribute to exist.
	Attributes map[string]string `yaml:"attributes,omitempty"`

	// Event is "click" (default) or "hover".
	Event string `yaml:"event,omitempty"`
}

// DOMRule converts the rule for candidate extraction.
func (r ElementRule) DOMRule() dom.ElementRule {
	return dom.ElementRule{
		Tag:        strings.ToLower(strings.TrimSpace(r.Tag)),
		Attributes: r.Attributes,
		Event:      model.EventType(strings.ToLower(r.Event)),
	}
}

// Rules are the crawl settings a rules file can set. Zero values mean
// "not set" and leave the current configuration alone.
type Rules struct {
	FilterAttributes []string      `yaml:"filterAttributes,omitempty"`
	Click            []ElementRule `yaml:"click,omitempty"`
	DontClick        []ElementRule `yaml:"dontClick,omitempty"`
	FollowExternal   *bool         `yaml:"followExternal,omitempty"`
	CrawlFrames      *bool         `yaml:"crawlFrames,omitempty"`
	IgnoreFrames     []string      `yaml:"ignoreFrames,omitempty"`
	WaitAfterEvent   time.Duration `yaml:"waitAfterEvent,omitempty"`
	WaitAfterReload  time.Duration `yaml:"waitAfterReload,omitempty"`
	MaxStates        int           `yaml:"maxStates,omitempty"`
	MaxRuntime       time.Duration `yaml:"maxRuntime,omitempty"`
	Browsers         int           `yaml:"browsers,omitempty"`
}

// File represents the structure of the .statecrawl rules file.
type File struct {
	// Defaults apply to every crawl.
	Defaults Rules `yaml:"defaults,omitempty"`

	// Sites maps a host (optionally with port) to rules that override the
	// defaults when crawling that host.
	Sites map[string]Rules `yaml:"sites,omitempty"`
}

// RulesFor returns the rules for a start URL: the defaults merged with the
// site entry matching the URL's host.
func (f *File) RulesFor(startURL string) Rules {
	result := f.Defaults

	u, err := url.Parse(startURL)
	if err != nil {
		return result
	}
	site, ok := f.Sites[u.Host]
	if !ok {
		site, ok = f.Sites[u.Hostname()]
	}
	if !ok {
		return result
	}
	return result.merge(site)
}

// merge returns r overridden by every field set in o.
func (r Rules) merge(o Rules) Rules {
	if len(o.FilterAttributes) > 0 {
		r.FilterAttributes = o.FilterAttributes
	}
	if len(o.Click) > 0 {
		r.Click = o.Click
	}
	if len(o.DontClick) > 0 {
		r.DontClick = o.DontClick
	}
	if o.FollowExternal != nil {
		r.FollowExternal = o.FollowExternal
	}
	if o.CrawlFrames != nil {
		r.CrawlFrames = o.CrawlFrames
	}
	if len(o.IgnoreFrames) > 0 {
		r.IgnoreFrames = o.IgnoreFrames
	}
	if o.WaitAfterEvent != 0 {
		r.WaitAfterEvent = o.WaitAfterEvent
	}
	if o.WaitAfterReload != 0 {
		r.WaitAfterReload = o.WaitAfterReload
	}
	if o.MaxStates != 0 {
		r.MaxStates = o.MaxStates
	}
	if o.MaxRuntime != 0 {
		r.MaxRuntime = o.MaxRuntime
	}
	if o.Browsers != 0 {
		r.Browsers = o.Browsers
	}
	return r
}

// ApplyRules copies every field set in r into the configuration.
func (c *Config) ApplyRules(r Rules) {
	if len(r.FilterAttributes) > 0 {
		c.FilterAttributes = r.FilterAttributes
	}
	if len(r.Click) > 0 {
		c.ClickRules = toDOMRules(r.Click)
	}
	if len(r.DontClick) > 0 {
		c.DontClickRules = toDOMRules(r.DontClick)
	}
	if r.FollowExternal != nil {
		c.FollowExternal = *r.FollowExternal
	}
	if r.CrawlFrames != nil {
		c.CrawlFrames = *r.CrawlFrames
	}
	if len(r.IgnoreFrames) > 0 {
		c.IgnoreFrames = r.IgnoreFrames
	}
	if r.WaitAfterEvent != 0 {
		c.WaitAfterEvent = r.WaitAfterEvent
	}
	if r.WaitAfterReload != 0 {
		c.WaitAfterReload = r.WaitAfterReload
	}
	if r.MaxStates != 0 {
		c.MaxStates = r.MaxStates
	}
	if r.MaxRuntime != 0 {
		c.MaxRuntime = r.MaxRuntime
	}
	if r.Browsers != 0 {
		c.Browsers = r.Browsers
	}
}

func toDOMRules(rules []ElementRule) []dom.ElementRule {
	out := make([]dom.ElementRule, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.DOMRule())
	}
	return out
}

func validateRule(r dom.ElementRule) error {
	if r.Tag == "" {
		return fmt.Errorf("%w: missing tag", ErrInvalidRule)
	}
	switch r.Event {
	case "", model.EventClick, model.EventHover:
		return nil
	default:
		return fmt.Errorf("%w: unknown event %q on %s", ErrInvalidRule, r.Event, r.Tag)
	}
}
