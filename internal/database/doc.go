// Package database provides SQLite-based storage for crawl results.
//
// Every finished crawl is stored in statecrawl.db as:
//   - a crawls row with the start URL, exit status and statistics
//   - one states row per discovered state, keyed by the SHA3-256 digest of
//     its fingerprint rather than the DOM itself
//   - the edges between states and the actions that could not be fired
//
// Storing the digest lets later crawls of the same application be compared
// state by state (see FindStatesByHash and the compare command).
//
// modernc.org/sqlite is a CGO-free driver, so the binary cross-compiles
// without a C toolchain.
package database
