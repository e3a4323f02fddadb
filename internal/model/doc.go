// Package model defines the core data structures used throughout statecrawl.
//
// This package contains the following main types:
//   - State: a distinct UI state identified by its normalized DOM fingerprint
//   - CandidateAction: an event that can be fired on an element of a state
//   - Edge: a transition between two states caused by a fired action
//   - ExitStatus: the single reason a crawl terminated
//   - CrawlResult: the serializable outcome of a crawl (graph + statistics)
//
// The models are shared by the graph, crawler, report and database packages,
// so they live in their own package to avoid import cycles. All exported
// result types serialize to JSON for report output and database storage.
package model
