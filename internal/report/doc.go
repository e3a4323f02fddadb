// Package report renders crawl results.
//
// Writers for the supported formats:
//   - SimpleWriter: human-readable text for the terminal
//   - JSONWriter / FullJSONWriter: the CrawlResult as JSON, optionally
//     wrapped with the tool version
//   - MarkdownWriter: tables of states and transitions plus a mermaid pie
//     chart of transitions per event type
//
// All writers implement Writer and can be combined with MultiWriter.
package report
