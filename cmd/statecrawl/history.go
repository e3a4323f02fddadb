package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/statecrawl/internal/config"
	"github.com/nao1215/statecrawl/internal/database"
)

const historyTimeFormat = "2006-01-02 15:04:05"

// addDBDirFlag adds the --db-dir flag shared by every command that reads
// the database.
func addDBDirFlag(cmd *cobra.Command) {
	cmd.Flags().String("db-dir", "",
		"Database directory (default: XDG data directory)")
}

// openDB opens the database named by --db-dir, or the default one.
func openDB(cmd *cobra.Command) (*database.CrawlDB, error) {
	dir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = config.XDGDataDir()
	}
	db, err := database.Open(dir, database.DefaultOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

func parseCrawlID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid crawl id %q: must be a positive number", arg)
	}
	return id, nil
}

// NewHistoryCmd creates the history command.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [url]",
		Short: "List stored crawls",
		Long: `History lists the crawls stored in the database, newest first.

With a URL only crawls of that start URL are listed. With --hash every
stored state with the given fingerprint digest is listed instead, which
shows in which crawls a screen of the application appeared.

Examples:
  # List every crawl
  statecrawl history

  # List crawls of one application
  statecrawl history http://localhost:3000/

  # Find a state by its fingerprint
  statecrawl history --hash 3f2a9c...`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistoryCmd,
	}

	cmd.Flags().String("hash", "",
		"List the states with this fingerprint digest")
	addDBDirFlag(cmd)

	return cmd
}

func runHistoryCmd(cmd *cobra.Command, args []string) error {
	hash, err := cmd.Flags().GetString("hash")
	if err != nil {
		return err
	}

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if hash != "" {
		return listStatesByHash(ctx, db, out, hash)
	}

	var startURL string
	if len(args) == 1 {
		startURL = args[0]
	}
	return listCrawls(ctx, db, out, startURL)
}

func listCrawls(ctx context.Context, db *database.CrawlDB, out io.Writer, startURL string) error {
	crawls, err := db.ListCrawls(ctx, startURL)
	if err != nil {
		return fmt.Errorf("failed to list crawls: %w", err)
	}

	if len(crawls) == 0 {
		if startURL != "" {
			fmt.Fprintf(out, "No crawls found for %s\n", startURL)
		} else {
			fmt.Fprintln(out, "No crawls found in the database.")
		}
		fmt.Fprintln(out, "\nUse 'statecrawl crawl <url>' to crawl an application.")
		return nil
	}

	if startURL != "" {
		fmt.Fprintf(out, "Crawl history for %s (%d crawls):\n\n", startURL, len(crawls))
	} else {
		fmt.Fprintf(out, "Crawl history (%d crawls):\n\n", len(crawls))
	}
	fmt.Fprintf(out, "  %-6s  %-19s  %-10s  %6s  %6s  %6s  %8s  %s\n",
		"ID", "Date", "Status", "States", "Edges", "Failed", "Duration", "URL")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 90))
	for _, c := range crawls {
		fmt.Fprintf(out, "  %-6d  %-19s  %-10s  %6d  %6d  %6d  %8s  %s\n",
			c.ID,
			c.StartedAt.Local().Format(historyTimeFormat),
			c.ExitStatus.Code(),
			c.States,
			c.Edges,
			c.FailedEvents,
			c.Duration.Round(time.Second),
			c.StartURL,
		)
	}

	fmt.Fprintln(out, "\nUse 'statecrawl show <id>' to print the report of a crawl.")
	fmt.Fprintln(out, "Use 'statecrawl compare <url>' to compare the latest two crawls of an application.")
	return nil
}

func listStatesByHash(ctx context.Context, db *database.CrawlDB, out io.Writer, hash string) error {
	occurrences, err := db.FindStatesByHash(ctx, hash)
	if err != nil {
		return fmt.Errorf("failed to find states: %w", err)
	}
	if len(occurrences) == 0 {
		fmt.Fprintf(out, "No state with fingerprint %s found\n", hash)
		return nil
	}

	fmt.Fprintf(out, "State %s appears %d time(s):\n\n", hash, len(occurrences))
	fmt.Fprintf(out, "  %-6s  %-12s  %-40s  %s\n", "Crawl", "State", "URL", "Start URL")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 90))
	for _, o := range occurrences {
		fmt.Fprintf(out, "  %-6d  %-12s  %-40s  %s\n", o.CrawlID, o.Name, o.URL, o.StartURL)
	}
	return nil
}

// NewShowCmd creates the show command.
func NewShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <crawl-id>",
		Short: "Print the report of a stored crawl",
		Long: `Show rebuilds the report of a stored crawl from the database.

Examples:
  # Print crawl 12 as text
  statecrawl show 12

  # Write crawl 12 as Markdown
  statecrawl show --markdown -o crawl-12.md 12`,
		Args: cobra.ExactArgs(1),
		RunE: runShowCmd,
	}

	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	addDBDirFlag(cmd)

	return cmd
}

func runShowCmd(cmd *cobra.Command, args []string) error {
	id, err := parseCrawlID(args[0])
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
		return config.ErrConflictingReportFormats
	}
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := db.GetResult(cmd.Context(), id)
	if err != nil {
		return fmt.Errorf("failed to load crawl %d: %w", id, err)
	}
	if result == nil {
		return fmt.Errorf("crawl %d not found", id)
	}

	cfg := config.NewConfig()
	cfg.JSONReport = jsonOutput
	cfg.MarkdownReport = markdownOutput
	cfg.ReportFile = outputPath
	cfg.Verbose = getVerboseFlag(cmd)
	return outputReport(cfg, result, cmd.OutOrStdout())
}

// NewDeleteCmd creates the delete command.
func NewDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <crawl-id>...",
		Short: "Delete stored crawls",
		Long: `Delete removes crawls and their states, transitions and failed events from
the database.

Examples:
  statecrawl delete 3 4 5`,
		Args: cobra.MinimumNArgs(1),
		RunE: runDeleteCmd,
	}
	addDBDirFlag(cmd)
	return cmd
}

func runDeleteCmd(cmd *cobra.Command, args []string) error {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseCrawlID(arg)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	db, err := openDB(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	var missing []string
	for _, id := range ids {
		deleted, err := db.DeleteCrawl(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to delete crawl %d: %w", id, err)
		}
		if !deleted {
			missing = append(missing, strconv.FormatInt(id, 10))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted crawl #%d\n", id)
	}
	if len(missing) > 0 {
		return errors.New("crawl(s) not found: " + strings.Join(missing, ", "))
	}
	return nil
}
