package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/markdown"
	"github.com/spf13/cobra"

	"github.com/nao1215/statecrawl/internal/database"
	"github.com/nao1215/statecrawl/internal/model"
)

// NewCompareCmd creates the compare command.
func NewCompareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <url>",
		Short: "Compare the state graphs of two crawls",
		Long: `Compare shows how the state-flow graph of an application changed between
two stored crawls.

States are matched by their fingerprint digest, so a screen whose DOM did not
change is recognized even when it was discovered under a different name.
Transitions are matched by their source state, event, element and target
state.

By default the latest crawl of the URL is compared with the one before it.

Examples:
  # Compare the latest two crawls
  statecrawl compare http://localhost:3000/

  # Compare the latest crawl with crawl 7
  statecrawl compare --with-crawl-id 7 http://localhost:3000/

  # Markdown output for a pull request comment
  statecrawl compare --markdown http://localhost:3000/`,
		Args: cobra.ExactArgs(1),
		RunE: runCompareCmd,
	}

	cmd.Flags().Int64P("with-crawl-id", "i", 0,
		"Compare with a specific crawl by ID (use 'statecrawl history' to see IDs)")
	cmd.Flags().BoolP("json", "j", false,
		"Output comparison result in JSON format")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output comparison result in Markdown format")
	addDBDirFlag(cmd)

	return cmd
}

func runCompareCmd(cmd *cobra.Command, args []string) error {
	startURL := args[0]

	withID, err := cmd.Flags().GetInt64("with-crawl-id")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	markdownOutput, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	if jsonOutput && markdownOutput {
		return errors.New("--json and --markdown cannot be used together")
	}

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	comparison, err := loadComparison(cmd.Context(), db, startURL, withID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case jsonOutput:
		return outputComparisonJSON(out, comparison)
	case markdownOutput:
		return outputComparisonMarkdown(out, comparison)
	default:
		return outputComparisonText(out, comparison)
	}
}

// loadComparison picks the two crawls to compare and loads them.
func loadComparison(ctx context.Context, db *database.CrawlDB, startURL string, withID int64) (*ComparisonResult, error) {
	crawls, err := db.ListCrawls(ctx, startURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl history: %w", err)
	}
	if len(crawls) == 0 {
		return nil, fmt.Errorf("no crawl history found for %s", startURL)
	}

	current := crawls[0]
	var previous database.CrawlSummary
	switch {
	case withID > 0:
		found := false
		for _, c := range crawls {
			if c.ID == withID {
				previous, found = c, true
				break
			}
		}
		if !found {
			summary, err := db.GetCrawl(ctx, withID)
			if err != nil {
				return nil, fmt.Errorf("failed to get crawl %d: %w", withID, err)
			}
			if summary == nil {
				return nil, fmt.Errorf("crawl %d not found", withID)
			}
			return nil, fmt.Errorf("crawl %d belongs to %s, not %s", withID, summary.StartURL, startURL)
		}
		if previous.ID == current.ID {
			return nil, fmt.Errorf("crawl %d is the latest crawl; choose an older one", withID)
		}
	case len(crawls) < 2:
		return nil, fmt.Errorf("at least 2 crawls are required for comparison (found %d)", len(crawls))
	default:
		previous = crawls[1]
	}

	prevResult, err := db.GetResult(ctx, previous.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load crawl %d: %w", previous.ID, err)
	}
	currResult, err := db.GetResult(ctx, current.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load crawl %d: %w", current.ID, err)
	}
	if prevResult == nil || currResult == nil {
		return nil, errors.New("crawl disappeared while loading")
	}

	comparison := compareResults(prevResult, currResult)
	comparison.Previous.ID = previous.ID
	comparison.Current.ID = current.ID
	return comparison, nil
}

// ComparisonResult holds the differences between two crawls.
type ComparisonResult struct {
	// StartURL is the crawled application.
	StartURL string `json:"start_url"`

	// Previous describes the older crawl.
	Previous CrawlMetadata `json:"previous_crawl"`

	// Current describes the newer crawl.
	Current CrawlMetadata `json:"current_crawl"`

	// NewStates exist only in the current crawl.
	NewStates []StateChange `json:"new_states,omitempty"`

	// RemovedStates exist only in the previous crawl.
	RemovedStates []StateChange `json:"removed_states,omitempty"`

	// UnchangedStates is the number of fingerprints found in both crawls.
	UnchangedStates int `json:"unchanged_states"`

	// NewTransitions exist only in the current crawl.
	NewTransitions []TransitionChange `json:"new_transitions,omitempty"`

	// RemovedTransitions exist only in the previous crawl.
	RemovedTransitions []TransitionChange `json:"removed_transitions,omitempty"`

	// UnchangedTransitions is the number of transitions found in both crawls.
	UnchangedTransitions int `json:"unchanged_transitions"`
}

// CrawlMetadata summarizes one side of a comparison.
type CrawlMetadata struct {
	ID           int64            `json:"id"`
	StartedAt    time.Time        `json:"started_at"`
	ExitStatus   model.ExitStatus `json:"exit_status"`
	States       int              `json:"states"`
	Edges        int              `json:"edges"`
	FailedEvents int              `json:"failed_events"`
	Duration     time.Duration    `json:"duration"`
}

// StateChange identifies a state that was added or removed.
type StateChange struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

// TransitionChange identifies a transition that was added or removed.
type TransitionChange struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Action string `json:"action"`
}

func (t TransitionChange) String() string {
	return t.From + " --[" + t.Action + "]--> " + t.To
}

func metadataOf(r *model.CrawlResult) CrawlMetadata {
	return CrawlMetadata{
		StartedAt:    r.StartedAt,
		ExitStatus:   r.ExitStatus,
		States:       r.Statistics.States,
		Edges:        r.Statistics.Edges,
		FailedEvents: r.Statistics.FailedEvents,
		Duration:     r.Statistics.Duration,
	}
}

// compareResults compares two crawl results by state fingerprint.
func compareResults(previous, current *model.CrawlResult) *ComparisonResult {
	result := &ComparisonResult{
		StartURL: current.StartURL,
		Previous: metadataOf(previous),
		Current:  metadataOf(current),
	}

	prevStates := previous.StateHashes()
	currStates := current.StateHashes()

	for hash, s := range currStates {
		if _, ok := prevStates[hash]; ok {
			result.UnchangedStates++
			continue
		}
		result.NewStates = append(result.NewStates, StateChange{Name: s.Name, URL: s.URL, Hash: hash})
	}
	for hash, s := range prevStates {
		if _, ok := currStates[hash]; !ok {
			result.RemovedStates = append(result.RemovedStates, StateChange{Name: s.Name, URL: s.URL, Hash: hash})
		}
	}

	prevEdges := transitionsOf(previous)
	currEdges := transitionsOf(current)
	for key, t := range currEdges {
		if _, ok := prevEdges[key]; ok {
			result.UnchangedTransitions++
			continue
		}
		result.NewTransitions = append(result.NewTransitions, t)
	}
	for key, t := range prevEdges {
		if _, ok := currEdges[key]; !ok {
			result.RemovedTransitions = append(result.RemovedTransitions, t)
		}
	}

	sortStates(result.NewStates)
	sortStates(result.RemovedStates)
	sortTransitions(result.NewTransitions)
	sortTransitions(result.RemovedTransitions)
	return result
}

// transitionsOf keys every edge by source fingerprint, action and target
// fingerprint. State ids differ between crawls and are not part of the key.
func transitionsOf(r *model.CrawlResult) map[string]TransitionChange {
	out := make(map[string]TransitionChange, len(r.Edges))
	for _, e := range r.Edges {
		from, okFrom := r.State(e.From)
		to, okTo := r.State(e.To)
		if !okFrom || !okTo {
			continue
		}
		action := e.Action
		action.StateID = 0
		desc := action.String()
		out[from.Hash+"|"+desc+"|"+to.Hash] = TransitionChange{
			From:   from.Name,
			To:     to.Name,
			Action: desc,
		}
	}
	return out
}

func sortStates(states []StateChange) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].Name != states[j].Name {
			return states[i].Name < states[j].Name
		}
		return states[i].Hash < states[j].Hash
	})
}

func sortTransitions(ts []TransitionChange) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].String() < ts[j].String() })
}

// formatDelta formats a count change with an explicit sign.
func formatDelta(delta int) string {
	switch {
	case delta > 0:
		return "+" + strconv.Itoa(delta)
	case delta < 0:
		return strconv.Itoa(delta)
	default:
		return "0"
	}
}

func outputComparisonJSON(out io.Writer, result *ComparisonResult) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func outputComparisonText(out io.Writer, result *ComparisonResult) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Crawl Comparison: %s\n", result.StartURL)
	sb.WriteString(strings.Repeat("=", 60) + "\n")

	fmt.Fprintf(&sb, "\nPrevious crawl: #%d  %s  %s\n", result.Previous.ID,
		result.Previous.StartedAt.Local().Format(historyTimeFormat), result.Previous.ExitStatus.Code())
	fmt.Fprintf(&sb, "Current crawl:  #%d  %s  %s\n", result.Current.ID,
		result.Current.StartedAt.Local().Format(historyTimeFormat), result.Current.ExitStatus.Code())

	sb.WriteString("\nSummary:\n")
	fmt.Fprintf(&sb, "  %-14s  %-10s  %-10s  %-10s\n", "Metric", "Previous", "Current", "Change")
	sb.WriteString("  " + strings.Repeat("-", 50) + "\n")
	for _, row := range summaryRows(result) {
		fmt.Fprintf(&sb, "  %-14s  %-10s  %-10s  %-10s\n", row[0], row[1], row[2], row[3])
	}

	if len(result.NewStates) > 0 {
		fmt.Fprintf(&sb, "\nNew States (%d):\n", len(result.NewStates))
		for _, s := range result.NewStates {
			fmt.Fprintf(&sb, "  [+] %s  %s  %s\n", s.Name, s.URL, shortDigest(s.Hash))
		}
	}
	if len(result.RemovedStates) > 0 {
		fmt.Fprintf(&sb, "\nRemoved States (%d):\n", len(result.RemovedStates))
		for _, s := range result.RemovedStates {
			fmt.Fprintf(&sb, "  [-] %s  %s  %s\n", s.Name, s.URL, shortDigest(s.Hash))
		}
	}
	if len(result.NewTransitions) > 0 {
		fmt.Fprintf(&sb, "\nNew Transitions (%d):\n", len(result.NewTransitions))
		for _, t := range result.NewTransitions {
			fmt.Fprintf(&sb, "  [+] %s\n", t)
		}
	}
	if len(result.RemovedTransitions) > 0 {
		fmt.Fprintf(&sb, "\nRemoved Transitions (%d):\n", len(result.RemovedTransitions))
		for _, t := range result.RemovedTransitions {
			fmt.Fprintf(&sb, "  [-] %s\n", t)
		}
	}

	fmt.Fprintf(&sb, "\nUnchanged: %d states, %d transitions\n", result.UnchangedStates, result.UnchangedTransitions)

	_, err := io.WriteString(out, sb.String())
	return err
}

func outputComparisonMarkdown(out io.Writer, result *ComparisonResult) error {
	md := markdown.NewMarkdown(out)

	md.H1("Crawl Comparison: " + result.StartURL)
	md.PlainText("")
	md.PlainTextf("Crawl #%d compared with crawl #%d.", result.Current.ID, result.Previous.ID)
	md.PlainText("")

	md.H2("Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Previous", "Current", "Change"},
		Rows:   summaryRows(result),
	})
	md.PlainText("")

	if len(result.NewStates) == 0 && len(result.RemovedStates) == 0 &&
		len(result.NewTransitions) == 0 && len(result.RemovedTransitions) == 0 {
		md.Tip("The state graph did not change.")
		md.PlainText("")
	}

	writeStateTable := func(title string, states []StateChange) {
		if len(states) == 0 {
			return
		}
		md.H2(fmt.Sprintf("%s (%d)", title, len(states)))
		md.PlainText("")
		rows := make([][]string, 0, len(states))
		for _, s := range states {
			rows = append(rows, []string{s.Name, "`" + s.URL + "`", "`" + shortDigest(s.Hash) + "`"})
		}
		md.Table(markdown.TableSet{Header: []string{"State", "URL", "Fingerprint"}, Rows: rows})
		md.PlainText("")
	}
	writeTransitionList := func(title string, ts []TransitionChange) {
		if len(ts) == 0 {
			return
		}
		md.H2(fmt.Sprintf("%s (%d)", title, len(ts)))
		md.PlainText("")
		items := make([]string, 0, len(ts))
		for _, t := range ts {
			items = append(items, "`"+t.String()+"`")
		}
		md.BulletList(items...)
		md.PlainText("")
	}

	writeStateTable("New States", result.NewStates)
	writeStateTable("Removed States", result.RemovedStates)
	writeTransitionList("New Transitions", result.NewTransitions)
	writeTransitionList("Removed Transitions", result.RemovedTransitions)

	md.HorizontalRule()
	md.PlainTextf("*%d states and %d transitions unchanged*", result.UnchangedStates, result.UnchangedTransitions)

	return md.Build()
}

func summaryRows(result *ComparisonResult) [][]string {
	p, c := result.Previous, result.Current
	return [][]string{
		{"States", strconv.Itoa(p.States), strconv.Itoa(c.States), formatDelta(c.States - p.States)},
		{"Transitions", strconv.Itoa(p.Edges), strconv.Itoa(c.Edges), formatDelta(c.Edges - p.Edges)},
		{"Failed events", strconv.Itoa(p.FailedEvents), strconv.Itoa(c.FailedEvents), formatDelta(c.FailedEvents - p.FailedEvents)},
		{"Duration", p.Duration.Round(time.Second).String(), c.Duration.Round(time.Second).String(), "-"},
	}
}

func shortDigest(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
