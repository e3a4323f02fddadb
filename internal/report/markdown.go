package report

import (
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nao1215/statecrawl/internal/model"
)

// MarkdownWriter outputs crawl results as Markdown for sharing and
// documentation. Event distributions are rendered as mermaid pie charts.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the crawl result in Markdown format.
func (w *MarkdownWriter) Write(result *model.CrawlResult) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, result)
	w.writeStatistics(md, result)
	w.writeStates(md, result)
	w.writeEdges(md, result)
	w.writeFailedEvents(md, result)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, result *model.CrawlResult) {
	md.H1("Crawl Report")
	md.PlainText("")

	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Start URL", "`" + result.StartURL + "`"},
			{"Started", result.StartedAt.Format("2006-01-02 15:04:05 MST")},
			{"Duration", result.Statistics.Duration.Round(time.Millisecond).String()},
			{"Browsers", strconv.Itoa(result.Statistics.Browsers)},
			{"Exit Status", statusText(result.ExitStatus)},
		},
	})
	md.PlainText("")

	w.writeAlert(md, result)
}

// statusText returns the exit status with an indicator.
func statusText(s model.ExitStatus) string {
	switch s {
	case model.ExitExhausted:
		return "✅ " + s.String()
	case model.ExitMaxStates, model.ExitMaxTime:
		return "⏱️ " + s.String() + " (partial graph)"
	case model.ExitStopped:
		return "⏹️ " + s.String() + " (partial graph)"
	case model.ExitError:
		return "❌ " + s.String()
	default:
		return s.String()
	}
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, result *model.CrawlResult) {
	switch result.ExitStatus {
	case model.ExitExhausted:
		md.Tip("Every candidate action of every discovered state was fired.")
	case model.ExitMaxStates:
		md.Notef("The crawl stopped after discovering %d states. Raise --max-states to explore further.", result.Statistics.States)
	case model.ExitMaxTime:
		md.Note("The crawl ran out of time. Raise --max-runtime to explore further.")
	case model.ExitStopped:
		md.Important("The crawl was stopped manually.")
	case model.ExitError:
		md.Caution("The crawl ended because no browser could continue.")
	default:
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeStatistics(md *markdown.Markdown, result *model.CrawlResult) {
	stats := result.Statistics

	md.H2("Statistics")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows: [][]string{
			{"States", strconv.Itoa(stats.States)},
			{"Edges", strconv.Itoa(stats.Edges)},
			{"Candidate actions", strconv.Itoa(stats.Candidates)},
			{"Fired", strconv.Itoa(stats.Attempted)},
			{"Failed events", strconv.Itoa(stats.FailedEvents)},
		},
	})
	md.PlainText("")

	if len(result.Edges) > 0 {
		w.writePieChart(md, result)
	}
}

// writePieChart writes a mermaid pie chart of edges per event type.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, result *model.CrawlResult) {
	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Transitions by Event"),
		piechart.WithShowData(true),
	)

	byEvent := result.EdgesByEvent()
	events := make([]string, 0, len(byEvent))
	for e := range byEvent {
		events = append(events, string(e))
	}
	sort.Strings(events)

	title := cases.Title(language.English)
	for _, e := range events {
		chart.LabelAndIntValue(title.String(e), uint64(byEvent[model.EventType(e)])) //nolint:gosec // counts are never negative
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeStates(md *markdown.Markdown, result *model.CrawlResult) {
	md.H2("States")
	md.PlainText("")

	if len(result.States) == 0 {
		md.PlainText("No states discovered.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(result.States))
	for i, s := range result.States {
		rows[i] = []string{
			s.Name,
			truncateString(s.URL, 60),
			strconv.Itoa(s.Candidates),
			strconv.Itoa(s.Attempted),
			strconv.Itoa(s.FanIn),
			strconv.Itoa(s.FanOut),
			"`" + shortHash(s.Hash) + "`",
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"State", "URL", "Candidates", "Fired", "In", "Out", "Fingerprint"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeEdges(md *markdown.Markdown, result *model.CrawlResult) {
	md.H2("Transitions")
	md.PlainText("")

	if len(result.Edges) == 0 {
		md.PlainText("No transitions recorded.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(result.Edges))
	for i, e := range result.Edges {
		frame := e.Action.FramePath
		if frame == "" {
			frame = "-"
		}
		rows[i] = []string{
			stateName(result, e.From),
			stateName(result, e.To),
			string(e.Action.Event),
			"`" + truncateString(e.Action.Element.String(), 60) + "`",
			frame,
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"From", "To", "Event", "Element", "Frame"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeFailedEvents(md *markdown.Markdown, result *model.CrawlResult) {
	if result.Statistics.FailedEvents == 0 {
		return
	}

	md.H2("Failed Events")
	md.PlainText("")
	for _, s := range result.States {
		if len(s.FailedEvents) == 0 {
			continue
		}
		md.H3(s.Name)
		md.PlainText("")
		md.BulletList(s.FailedEvents...)
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [statecrawl](https://github.com/nao1215/statecrawl)*")
}
