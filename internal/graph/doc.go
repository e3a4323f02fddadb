// Package graph holds the state-flow graph of a crawl.
//
// The graph is the only place where state identity is decided: two DOM
// fingerprints belong to the same state exactly when they are equal.
// All methods are safe for concurrent use by crawl workers.
package graph
