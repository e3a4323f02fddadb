// Package main provides the entry point for the statecrawl CLI.
//
// statecrawl explores a JavaScript web application by firing events on its
// clickable elements in one or more browsers and records every distinct DOM
// state it reaches as a state-flow graph.
//
// Usage:
//
//	statecrawl crawl <url>
//	statecrawl history [url]
//	statecrawl show <crawl-id>
//
// See --help for all available options.
package main

func main() {
	Execute()
}
