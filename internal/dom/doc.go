// Package dom turns noisy browser markup into the inputs of the state graph.
//
// It provides three pieces:
//   - Normalize: the fingerprint function. Two DOMs are the same state if and
//     only if their normalized strings are byte-equal.
//   - MergeFrames: imports the content of every (i)frame into the page
//     markup, one frame at a time, so a missing frame never aborts the
//     snapshot.
//   - ExtractCandidates: scans a snapshot for elements that can be clicked
//     under a set of CandidateRules.
//
// Parsing uses golang.org/x/net/html, which copes with the malformed markup
// real applications produce.
package dom
