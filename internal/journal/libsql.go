package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/aloecraft/aloegraph/pkg/schema"
)

// LibSQLJournal implements the Journal interface using libSQL (embedded SQLite fork).
type LibSQLJournal struct {
	db *sql.DB
}

// NewLibSQLJournal opens a libSQL database at the given path and returns a Journal.
// The path should be a file URI, e.g. "file:/path/to/journal.db".
func NewLibSQLJournal(dbPath string) (*LibSQLJournal, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLJournal{db: db}, nil
}

// Migrate runs all pending database migrations.
func (j *LibSQLJournal) Migrate(ctx context.Context) error {
	return runMigrations(ctx, j.db)
}

// Close closes the database.
func (j *LibSQLJournal) Close() error { return j.db.Close() }

// RecordRun inserts or updates the run row.
func (j *LibSQLJournal) RecordRun(ctx context.Context, rec *RunRecord) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, graph, status, steps, error, started_at, updated_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   status=excluded.status, steps=excluded.steps, error=excluded.error,
		   updated_at=excluded.updated_at, completed_at=excluded.completed_at`,
		rec.RunID, rec.Graph, string(rec.Status), rec.Steps, nullStr(rec.Error),
		timeOrNow(rec.StartedAt), timeOrNow(rec.UpdatedAt), nullTime(rec.CompletedAt),
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeJournal, "record run").WithCause(err)
	}
	return nil
}

// AppendTrace appends a trace event with the next per-run sequence number.
func (j *LibSQLJournal) AppendTrace(ctx context.Context, event schema.TraceEvent) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return schema.NewError(schema.ErrCodeJournal, "begin tx").WithCause(err)
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM trace_events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return schema.NewError(schema.ErrCodeJournal, "next sequence").WithCause(err)
	}

	detail, err := nullableJSON(event.Detail)
	if err != nil {
		return schema.NewError(schema.ErrCodeJournal, "marshal detail").WithCause(err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO trace_events (run_id, graph, node, edge, route, event_type, step, detail, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.Graph), nullStr(event.Node), nullStr(event.Edge),
		nullStr(event.Route), event.Type, event.Step, detail, timeOrNow(event.Timestamp), seq,
	)
	if err != nil {
		return schema.NewError(schema.ErrCodeJournal, "insert trace event").WithCause(err)
	}

	if err := tx.Commit(); err != nil {
		return schema.NewError(schema.ErrCodeJournal, "commit trace event").WithCause(err)
	}
	return nil
}

// GetRun returns the run record for runID.
func (j *LibSQLJournal) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	rec := &RunRecord{}
	var status string
	var errMsg sql.NullString
	var completedAt sql.NullTime
	err := j.db.QueryRowContext(ctx,
		`SELECT run_id, graph, status, steps, error, started_at, updated_at, completed_at
		 FROM runs WHERE run_id = ?`, runID,
	).Scan(&rec.RunID, &rec.Graph, &status, &rec.Steps, &errMsg,
		&rec.StartedAt, &rec.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeJournal, "run %q not found", runID)
	}
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeJournal, "get run").WithCause(err)
	}
	rec.Status = schema.RunStatus(status)
	rec.Error = errMsg.String
	if completedAt.Valid {
		rec.CompletedAt = &completedAt.Time
	}
	return rec, nil
}

// ListRuns returns run records ordered newest first.
func (j *LibSQLJournal) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := `SELECT run_id, graph, status, steps, error, started_at, updated_at, completed_at
	 FROM runs ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := j.db.QueryContext(ctx, query)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeJournal, "list runs").WithCause(err)
	}
	defer rows.Close()

	var recs []*RunRecord
	for rows.Next() {
		rec := &RunRecord{}
		var status string
		var errMsg sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&rec.RunID, &rec.Graph, &status, &rec.Steps, &errMsg,
			&rec.StartedAt, &rec.UpdatedAt, &completedAt); err != nil {
			return nil, schema.NewError(schema.ErrCodeJournal, "scan run").WithCause(err)
		}
		rec.Status = schema.RunStatus(status)
		rec.Error = errMsg.String
		if completedAt.Valid {
			rec.CompletedAt = &completedAt.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ListTrace returns trace events for a run in sequence order.
func (j *LibSQLJournal) ListTrace(ctx context.Context, runID string, filter TraceFilter) ([]schema.TraceEvent, error) {
	where := []string{"run_id = ?"}
	args := []any{runID}

	if filter.Since > 0 {
		where = append(where, "sequence > ?")
		args = append(args, filter.Since)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.EventTypes)), ",")
		where = append(where, fmt.Sprintf("event_type IN (%s)", placeholders))
		for _, t := range filter.EventTypes {
			args = append(args, t)
		}
	}

	query := `SELECT run_id, graph, node, edge, route, event_type, step, detail, timestamp
	 FROM trace_events WHERE ` + strings.Join(where, " AND ") + ` ORDER BY sequence ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeJournal, "list trace").WithCause(err)
	}
	defer rows.Close()

	var events []schema.TraceEvent
	for rows.Next() {
		var e schema.TraceEvent
		var graph, node, edge, route, detail sql.NullString
		if err := rows.Scan(&e.RunID, &graph, &node, &edge, &route, &e.Type, &e.Step,
			&detail, &e.Timestamp); err != nil {
			return nil, schema.NewError(schema.ErrCodeJournal, "scan trace event").WithCause(err)
		}
		e.Graph = graph.String
		e.Node = node.String
		e.Edge = edge.String
		e.Route = route.String
		if detail.Valid && detail.String != "" {
			_ = json.Unmarshal([]byte(detail.String), &e.Detail)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Helpers ---

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableJSON(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

var _ Journal = (*LibSQLJournal)(nil)
