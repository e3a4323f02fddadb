package model

import (
	"sort"
	"time"
)

// StateSummary is the serializable view of a State inside a CrawlResult.
type StateSummary struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Hash         string    `json:"hash"`
	DiscoveredAt time.Time `json:"discovered_at"`

	// Candidates is the number of candidate actions found in the state.
	Candidates int `json:"candidates"`

	// Attempted is the number of candidate actions that were fired.
	Attempted int `json:"attempted"`

	// FanIn is the number of edges ending in this state.
	FanIn int `json:"fan_in"`

	// FanOut is the number of edges leaving this state.
	FanOut int `json:"fan_out"`

	// FailedEvents lists the actions that could not be fired and why.
	FailedEvents []string `json:"failed_events,omitempty"`
}

// Statistics aggregates counters over a crawl.
type Statistics struct {
	States       int           `json:"states"`
	Edges        int           `json:"edges"`
	Candidates   int           `json:"candidates"`
	Attempted    int           `json:"attempted"`
	FailedEvents int           `json:"failed_events"`
	Browsers     int           `json:"browsers"`
	Duration     time.Duration `json:"duration"`
}

// CrawlResult is the outcome of a crawl: the final graph and the single
// reason the crawl stopped.
type CrawlResult struct {
	StartURL   string         `json:"start_url"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	ExitStatus ExitStatus     `json:"exit_status"`
	States     []StateSummary `json:"states"`
	Edges      []Edge         `json:"edges"`
	Statistics Statistics     `json:"statistics"`
}

// NewCrawlResult builds a CrawlResult from a snapshot of the graph.
// States are ordered by id.
func NewCrawlResult(startURL string, states []*State, edges []Edge, status ExitStatus, started, finished time.Time, browsers int) *CrawlResult {
	fanIn := make(map[int]int)
	fanOut := make(map[int]int)
	for _, e := range edges {
		fanOut[e.From]++
		fanIn[e.To]++
	}

	summaries := make([]StateSummary, 0, len(states))
	stats := Statistics{
		States:   len(states),
		Edges:    len(edges),
		Browsers: browsers,
		Duration: finished.Sub(started),
	}

	for _, s := range states {
		failed := s.FailedEvents()
		summary := StateSummary{
			ID:           s.ID,
			Name:         s.Name,
			URL:          s.URL,
			Hash:         s.Hash,
			DiscoveredAt: s.DiscoveredAt,
			Candidates:   len(s.Candidates()),
			Attempted:    s.AttemptedCount(),
			FanIn:        fanIn[s.ID],
			FanOut:       fanOut[s.ID],
			FailedEvents: failed,
		}
		stats.Candidates += summary.Candidates
		stats.Attempted += summary.Attempted
		stats.FailedEvents += len(failed)
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })

	edgesCopy := make([]Edge, len(edges))
	copy(edgesCopy, edges)

	return &CrawlResult{
		StartURL:   startURL,
		StartedAt:  started,
		FinishedAt: finished,
		ExitStatus: status,
		States:     summaries,
		Edges:      edgesCopy,
		Statistics: stats,
	}
}

// State returns the summary with the given id.
func (r *CrawlResult) State(id int) (StateSummary, bool) {
	for _, s := range r.States {
		if s.ID == id {
			return s, true
		}
	}
	return StateSummary{}, false
}

// EdgesByEvent counts edges per event type.
func (r *CrawlResult) EdgesByEvent() map[EventType]int {
	counts := make(map[EventType]int)
	for _, e := range r.Edges {
		counts[e.Action.Event]++
	}
	return counts
}

// StateHashes returns the set of state fingerprint hashes in the result.
func (r *CrawlResult) StateHashes() map[string]StateSummary {
	out := make(map[string]StateSummary, len(r.States))
	for _, s := range r.States {
		out[s.Hash] = s
	}
	return out
}
