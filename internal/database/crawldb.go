package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/statecrawl/internal/model"
)

// DBFileName is the name of the SQLite file inside the database directory.
const DBFileName = "statecrawl.db"

// CrawlDB provides SQLite-based storage for crawl results. One file holds
// every crawl, so that crawls of the same application can be compared.
type CrawlDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures CrawlDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a CrawlDB in dbDir.
// If CreateIfNotExists is false and the database doesn't exist, an error is returned.
func Open(dbDir string, opts Options) (*CrawlDB, error) {
	dbPath := filepath.Join(dbDir, DBFileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// mode=rw refuses to create a missing file, mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	// Other processes (a second statecrawl, a history listing) may hold
	// the file briefly.
	if _, err := db.ExecContext(context.Background(), "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	cdb := &CrawlDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := cdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return cdb, nil
}

// Path returns the database file path.
func (cdb *CrawlDB) Path() string {
	return cdb.dbPath
}

// Close closes the database connection.
func (cdb *CrawlDB) Close() error {
	return cdb.db.Close()
}

func (cdb *CrawlDB) createTables() error {
	schema := `
	-- One row per finished crawl
	CREATE TABLE IF NOT EXISTS crawls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		start_url TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		exit_status TEXT NOT NULL,
		browsers INTEGER NOT NULL DEFAULT 1,
		duration_ns INTEGER NOT NULL DEFAULT 0,
		state_count INTEGER NOT NULL DEFAULT 0,
		edge_count INTEGER NOT NULL DEFAULT 0,
		candidate_count INTEGER NOT NULL DEFAULT 0,
		attempted_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_crawls_start_url ON crawls(start_url);
	CREATE INDEX IF NOT EXISTS idx_crawls_started_at ON crawls(started_at);

	-- States keep the fingerprint digest only; the DOM itself is not stored
	CREATE TABLE IF NOT EXISTS states (
		crawl_id INTEGER NOT NULL,
		state_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		hash TEXT NOT NULL,
		discovered_at TEXT NOT NULL,
		candidates INTEGER NOT NULL DEFAULT 0,
		attempted INTEGER NOT NULL DEFAULT 0,
		fan_in INTEGER NOT NULL DEFAULT 0,
		fan_out INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (crawl_id, state_id)
	);

	CREATE INDEX IF NOT EXISTS idx_states_hash ON states(hash);

	CREATE TABLE IF NOT EXISTS edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crawl_id INTEGER NOT NULL,
		from_state INTEGER NOT NULL,
		to_state INTEGER NOT NULL,
		event TEXT NOT NULL,
		element_how TEXT NOT NULL,
		element_value TEXT NOT NULL,
		frame_path TEXT NOT NULL DEFAULT '',
		element_text TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_edges_crawl ON edges(crawl_id);

	CREATE TABLE IF NOT EXISTS failed_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crawl_id INTEGER NOT NULL,
		state_id INTEGER NOT NULL,
		description TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_failed_crawl ON failed_events(crawl_id);
	`

	_, err := cdb.db.ExecContext(context.Background(), schema)
	return err
}

// SaveResult stores a crawl result and returns its crawl id.
// The crawl, its states, edges and failed events are written in one transaction.
func (cdb *CrawlDB) SaveResult(ctx context.Context, result *model.CrawlResult) (id int64, err error) {
	if result == nil {
		return 0, errors.New("nil crawl result")
	}

	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stats := result.Statistics
	res, err := tx.ExecContext(ctx, `
	INSERT INTO crawls (start_url, started_at, finished_at, exit_status, browsers, duration_ns,
		state_count, edge_count, candidate_count, attempted_count, failed_count)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.StartURL,
		formatTimestamp(result.StartedAt),
		formatTimestamp(result.FinishedAt),
		result.ExitStatus.Code(),
		stats.Browsers,
		int64(stats.Duration),
		stats.States,
		stats.Edges,
		stats.Candidates,
		stats.Attempted,
		stats.FailedEvents,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert crawl: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get crawl id: %w", err)
	}

	for _, s := range result.States {
		_, err = tx.ExecContext(ctx, `
		INSERT INTO states (crawl_id, state_id, name, url, hash, discovered_at, candidates, attempted, fan_in, fan_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, s.ID, s.Name, s.URL, s.Hash, formatTimestamp(s.DiscoveredAt), s.Candidates, s.Attempted, s.FanIn, s.FanOut)
		if err != nil {
			return 0, fmt.Errorf("failed to insert state %s: %w", s.Name, err)
		}
		for _, f := range s.FailedEvents {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO failed_events (crawl_id, state_id, description) VALUES (?, ?, ?)`,
				id, s.ID, f)
			if err != nil {
				return 0, fmt.Errorf("failed to insert failed event: %w", err)
			}
		}
	}

	for _, e := range result.Edges {
		a := e.Action
		_, err = tx.ExecContext(ctx, `
		INSERT INTO edges (crawl_id, from_state, to_state, event, element_how, element_value, frame_path, element_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, e.From, e.To, string(a.Event), string(a.Element.How), a.Element.Value, a.FramePath, a.Text)
		if err != nil {
			return 0, fmt.Errorf("failed to insert edge: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit crawl: %w", err)
	}
	return id, nil
}

// CrawlSummary is one row of the crawl history.
type CrawlSummary struct {
	ID           int64
	StartURL     string
	StartedAt    time.Time
	FinishedAt   time.Time
	ExitStatus   model.ExitStatus
	States       int
	Edges        int
	FailedEvents int
	Browsers     int
	Duration     time.Duration
}

// ListCrawls returns stored crawls, newest first. An empty startURL lists
// every crawl.
func (cdb *CrawlDB) ListCrawls(ctx context.Context, startURL string) ([]CrawlSummary, error) {
	query := `
	SELECT id, start_url, started_at, finished_at, exit_status, state_count, edge_count,
		failed_count, browsers, duration_ns
	FROM crawls
	`
	args := make([]any, 0, 1)
	if startURL != "" {
		query += " WHERE start_url = ?"
		args = append(args, startURL)
	}
	query += " ORDER BY id DESC"

	rows, err := cdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawls: %w", err)
	}
	defer rows.Close()

	var results []CrawlSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// GetCrawl returns the summary of one crawl, or nil if it does not exist.
func (cdb *CrawlDB) GetCrawl(ctx context.Context, id int64) (*CrawlSummary, error) {
	row := cdb.db.QueryRowContext(ctx, `
	SELECT id, start_url, started_at, finished_at, exit_status, state_count, edge_count,
		failed_count, browsers, duration_ns
	FROM crawls
	WHERE id = ?
	`, id)

	s, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(r rowScanner) (CrawlSummary, error) {
	var (
		s                 CrawlSummary
		started, finished string
		status            string
		duration          int64
	)
	err := r.Scan(&s.ID, &s.StartURL, &started, &finished, &status, &s.States, &s.Edges,
		&s.FailedEvents, &s.Browsers, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return s, err
	}
	if err != nil {
		return s, fmt.Errorf("failed to scan crawl: %w", err)
	}
	s.StartedAt = parseTimestamp(started)
	s.FinishedAt = parseTimestamp(finished)
	s.Duration = time.Duration(duration)
	// Rows written by a newer version may carry codes this one does not know.
	s.ExitStatus, _ = model.ParseExitStatus(status) //nolint:errcheck // unknown codes map to ExitUnknown
	return s, nil
}

// GetResult rebuilds a stored crawl result, or returns nil if the crawl
// does not exist.
func (cdb *CrawlDB) GetResult(ctx context.Context, id int64) (*model.CrawlResult, error) {
	summary, err := cdb.GetCrawl(ctx, id)
	if err != nil || summary == nil {
		return nil, err
	}

	states, err := cdb.ListStates(ctx, id)
	if err != nil {
		return nil, err
	}
	failed, err := cdb.failedEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range states {
		states[i].FailedEvents = failed[states[i].ID]
	}
	edges, err := cdb.ListEdges(ctx, id)
	if err != nil {
		return nil, err
	}

	result := &model.CrawlResult{
		StartURL:   summary.StartURL,
		StartedAt:  summary.StartedAt,
		FinishedAt: summary.FinishedAt,
		ExitStatus: summary.ExitStatus,
		States:     states,
		Edges:      edges,
		Statistics: model.Statistics{
			States:       summary.States,
			Edges:        summary.Edges,
			FailedEvents: summary.FailedEvents,
			Browsers:     summary.Browsers,
			Duration:     summary.Duration,
		},
	}
	for _, s := range states {
		result.Statistics.Candidates += s.Candidates
		result.Statistics.Attempted += s.Attempted
	}
	return result, nil
}

// GetLatestResult returns the most recent crawl of startURL, or nil if
// there is none.
func (cdb *CrawlDB) GetLatestResult(ctx context.Context, startURL string) (*model.CrawlResult, error) {
	var id int64
	err := cdb.db.QueryRowContext(ctx,
		`SELECT id FROM crawls WHERE start_url = ? ORDER BY id DESC LIMIT 1`, startURL).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest crawl: %w", err)
	}
	return cdb.GetResult(ctx, id)
}

// ListStates returns the states of a crawl ordered by id. Failed events
// are not filled in.
func (cdb *CrawlDB) ListStates(ctx context.Context, crawlID int64) ([]model.StateSummary, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT state_id, name, url, hash, discovered_at, candidates, attempted, fan_in, fan_out
	FROM states
	WHERE crawl_id = ?
	ORDER BY state_id
	`, crawlID)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	states := make([]model.StateSummary, 0)
	for rows.Next() {
		var (
			s          model.StateSummary
			discovered string
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.URL, &s.Hash, &discovered,
			&s.Candidates, &s.Attempted, &s.FanIn, &s.FanOut); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		s.DiscoveredAt = parseTimestamp(discovered)
		states = append(states, s)
	}
	return states, rows.Err()
}

// ListEdges returns the edges of a crawl in the order they were recorded.
func (cdb *CrawlDB) ListEdges(ctx context.Context, crawlID int64) ([]model.Edge, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT from_state, to_state, event, element_how, element_value, frame_path, element_text
	FROM edges
	WHERE crawl_id = ?
	ORDER BY id
	`, crawlID)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	defer rows.Close()

	edges := make([]model.Edge, 0)
	for rows.Next() {
		var (
			e          model.Edge
			event, how string
		)
		if err := rows.Scan(&e.From, &e.To, &event, &how, &e.Action.Element.Value,
			&e.Action.FramePath, &e.Action.Text); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.Action.StateID = e.From
		e.Action.Event = model.EventType(event)
		e.Action.Element.How = model.How(how)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (cdb *CrawlDB) failedEvents(ctx context.Context, crawlID int64) (map[int][]string, error) {
	rows, err := cdb.db.QueryContext(ctx,
		`SELECT state_id, description FROM failed_events WHERE crawl_id = ? ORDER BY id`, crawlID)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed events: %w", err)
	}
	defer rows.Close()

	out := make(map[int][]string)
	for rows.Next() {
		var (
			stateID int
			desc    string
		)
		if err := rows.Scan(&stateID, &desc); err != nil {
			return nil, fmt.Errorf("failed to scan failed event: %w", err)
		}
		out[stateID] = append(out[stateID], desc)
	}
	return out, rows.Err()
}

// StateOccurrence records that a state fingerprint was seen in a crawl.
type StateOccurrence struct {
	CrawlID  int64
	StartURL string
	StateID  int
	Name     string
	URL      string
}

// FindStatesByHash returns every stored state with the given fingerprint
// digest, newest crawl first.
func (cdb *CrawlDB) FindStatesByHash(ctx context.Context, hash string) ([]StateOccurrence, error) {
	rows, err := cdb.db.QueryContext(ctx, `
	SELECT s.crawl_id, c.start_url, s.state_id, s.name, s.url
	FROM states s
	JOIN crawls c ON c.id = s.crawl_id
	WHERE s.hash = ?
	ORDER BY s.crawl_id DESC, s.state_id
	`, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to find states: %w", err)
	}
	defer rows.Close()

	var results []StateOccurrence
	for rows.Next() {
		var o StateOccurrence
		if err := rows.Scan(&o.CrawlID, &o.StartURL, &o.StateID, &o.Name, &o.URL); err != nil {
			return nil, fmt.Errorf("failed to scan state: %w", err)
		}
		results = append(results, o)
	}
	return results, rows.Err()
}

// DeleteCrawl removes a crawl and everything stored for it. It reports
// whether the crawl existed.
func (cdb *CrawlDB) DeleteCrawl(ctx context.Context, id int64) (deleted bool, err error) {
	tx, err := cdb.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"failed_events", "edges", "states"} {
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE crawl_id = ?", id); err != nil {
			return false, fmt.Errorf("failed to delete %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM crawls WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete crawl: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete crawl: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w", err)
	}
	return n > 0, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// More specific formats come first.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999",
}

// parseTimestamp parses a stored timestamp, returning the zero time if no
// format matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
