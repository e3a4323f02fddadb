package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nao1215/statecrawl/internal/model"
)

// SimpleWriter outputs a human-readable text summary for the terminal.
// Plain ASCII keeps it readable when piped to a file.
type SimpleWriter struct {
	baseWriter

	// verbose adds the edge list and failed events.
	verbose bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables the edge list and failed events.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write outputs the crawl result in human-readable format.
func (w *SimpleWriter) Write(result *model.CrawlResult) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, result)
	w.writeStates(&sb, result)
	if w.verbose {
		w.writeEdges(&sb, result)
		w.writeFailedEvents(&sb, result)
	}
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

func rule(sb *strings.Builder, ch string) {
	sb.WriteString(strings.Repeat(ch, 70))
	sb.WriteString("\n")
}

func section(sb *strings.Builder, title string) {
	rule(sb, "-")
	sb.WriteString(title)
	sb.WriteString("\n")
	rule(sb, "-")
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, result *model.CrawlResult) {
	stats := result.Statistics

	sb.WriteString("\n")
	rule(sb, "=")
	sb.WriteString("                           CRAWL REPORT\n")
	rule(sb, "=")
	sb.WriteString("\n")

	fmt.Fprintf(sb, "Start URL:      %s\n", result.StartURL)
	fmt.Fprintf(sb, "Started:        %s\n", result.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Duration:       %s\n", stats.Duration.Round(time.Millisecond))
	fmt.Fprintf(sb, "Browsers:       %d\n", stats.Browsers)
	fmt.Fprintf(sb, "Exit Status:    %s (%s)\n", result.ExitStatus, result.ExitStatus.Code())
	sb.WriteString("\n")

	fmt.Fprintf(sb, "  STATES:       %d\n", stats.States)
	fmt.Fprintf(sb, "  EDGES:        %d\n", stats.Edges)
	fmt.Fprintf(sb, "  CANDIDATES:   %d\n", stats.Candidates)
	fmt.Fprintf(sb, "  FIRED:        %d\n", stats.Attempted)
	fmt.Fprintf(sb, "  FAILED:       %d\n", stats.FailedEvents)
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeStates(sb *strings.Builder, result *model.CrawlResult) {
	if len(result.States) == 0 {
		return
	}
	section(sb, "STATES")

	fmt.Fprintf(sb, "  %-10s %5s %5s %5s  %s\n", "NAME", "CAND", "IN", "OUT", "URL")
	for _, s := range result.States {
		fmt.Fprintf(sb, "  %-10s %5d %5d %5d  %s\n", s.Name, s.Candidates, s.FanIn, s.FanOut, truncateString(s.URL, 40))
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeEdges(sb *strings.Builder, result *model.CrawlResult) {
	if len(result.Edges) == 0 {
		return
	}
	section(sb, "TRANSITIONS")

	for _, e := range result.Edges {
		fmt.Fprintf(sb, "  %s -> %s  %s\n", stateName(result, e.From), stateName(result, e.To), e.Action)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFailedEvents(sb *strings.Builder, result *model.CrawlResult) {
	if result.Statistics.FailedEvents == 0 {
		return
	}
	section(sb, "FAILED EVENTS")

	for _, s := range result.States {
		for _, f := range s.FailedEvents {
			fmt.Fprintf(sb, "  [%s] %s\n", s.Name, f)
		}
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	rule(sb, "=")
	sb.WriteString("Report generated by statecrawl\n")
	rule(sb, "=")
}
