// Package store persists execution reports so past flow runs can be listed
// and inspected after the process exits.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/ergon/internal/models"
)

// ErrReportNotFound is returned by GetReport for unknown flow IDs.
var ErrReportNotFound = errors.New("report not found")

// Store is a SQLite-backed report history.
type Store struct {
	db     *sql.DB
	dbPath string
}

// ReportRecord is one row of the report history, without step details.
type ReportRecord struct {
	FlowID       string
	PlanID       string
	Goal         string
	Status       models.PlanStatus
	StepCount    int
	FailedSteps  int
	RetriedSteps int
	Duration     time.Duration
	StartedAt    time.Time
	CompletedAt  time.Time
}

// ListOptions filters ListReports.
type ListOptions struct {
	Limit  int    // 0 means 20
	PlanID string // optional
	Status models.PlanStatus
}

// AgentStats aggregates step outcomes per agent across all stored reports.
type AgentStats struct {
	AgentID     string
	Steps       int
	Completed   int
	Failed      int
	TimedOut    int
	AvgDuration time.Duration
}

// Open creates or opens the database at dbPath and applies pending migrations.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		// Pragmas below only reach the first pooled connection; the DSN
		// applies the lock settings to every connection.
		dsn = "file:" + dbPath + "?_busy_timeout=5000&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	// busy_timeout goes first so the rest wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, dbPath: dbPath}
	if err := s.applyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// execWithRetry retries statements that fail with "database is locked",
// doubling the delay each time.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// SaveReport stores a report and its steps. Saving the same flow ID again
// replaces the earlier copy.
func (s *Store) SaveReport(ctx context.Context, report *models.ExecutionReport) error {
	if report == nil {
		return errors.New("report is nil")
	}
	if report.FlowID == "" {
		return errors.New("report has no flow id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// foreign_keys is per connection, so cascading is not relied upon.
	if _, err := tx.ExecContext(ctx, `DELETE FROM report_steps WHERE report_id IN (SELECT id FROM reports WHERE flow_id = ?)`, report.FlowID); err != nil {
		return fmt.Errorf("replace report steps: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM reports WHERE flow_id = ?`, report.FlowID); err != nil {
		return fmt.Errorf("replace report: %w", err)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO reports
		(flow_id, plan_id, goal, status, duration_ms, retried_steps, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.FlowID,
		report.PlanID,
		report.Goal,
		string(report.Status),
		report.Duration.Milliseconds(),
		report.RetriedSteps,
		formatTime(report.StartedAt),
		formatTime(report.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	reportID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO report_steps
		(report_id, step_index, description, capability, agent_id, status, attempts, retries, duration_ms, result, error, error_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare step insert: %w", err)
	}
	defer stmt.Close()

	for _, step := range report.Steps {
		if _, err := stmt.ExecContext(ctx,
			reportID,
			step.Index,
			step.Description,
			step.Capability,
			step.AgentID,
			string(step.Status),
			step.Attempts,
			step.Retries,
			step.Duration.Milliseconds(),
			step.Result,
			step.Error,
			string(step.ErrorKind),
		); err != nil {
			return fmt.Errorf("insert step %d: %w", step.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report: %w", err)
	}
	return nil
}

// ListReports returns the most recent reports first.
func (s *Store) ListReports(ctx context.Context, opts ListOptions) ([]*ReportRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT r.flow_id, r.plan_id, r.goal, r.status, r.duration_ms, r.retried_steps,
			r.started_at, r.completed_at,
			COUNT(st.step_index),
			COALESCE(SUM(CASE WHEN st.status = 'FAILED' THEN 1 ELSE 0 END), 0)
		FROM reports r
		LEFT JOIN report_steps st ON st.report_id = r.id`

	var where []string
	var args []interface{}
	if opts.PlanID != "" {
		where = append(where, "r.plan_id = ?")
		args = append(args, opts.PlanID)
	}
	if opts.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, string(opts.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " GROUP BY r.id ORDER BY r.started_at DESC, r.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reports: %w", err)
	}
	defer rows.Close()

	var records []*ReportRecord
	for rows.Next() {
		var (
			rec                  ReportRecord
			status               string
			durationMs           int64
			startedAt, completed string
		)
		if err := rows.Scan(&rec.FlowID, &rec.PlanID, &rec.Goal, &status, &durationMs, &rec.RetriedSteps,
			&startedAt, &completed, &rec.StepCount, &rec.FailedSteps); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		rec.Status = models.PlanStatus(status)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.StartedAt = parseTime(startedAt)
		rec.CompletedAt = parseTime(completed)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reports: %w", err)
	}
	return records, nil
}

// GetReport loads a full report, steps included.
func (s *Store) GetReport(ctx context.Context, flowID string) (*models.ExecutionReport, error) {
	var (
		id                   int64
		status               string
		durationMs           int64
		startedAt, completed string
		report               models.ExecutionReport
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, flow_id, plan_id, goal, status, duration_ms, retried_steps, started_at, completed_at
		FROM reports WHERE flow_id = ?`, flowID).
		Scan(&id, &report.FlowID, &report.PlanID, &report.Goal, &status, &durationMs, &report.RetriedSteps, &startedAt, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrReportNotFound, flowID)
	}
	if err != nil {
		return nil, fmt.Errorf("query report: %w", err)
	}
	report.Status = models.PlanStatus(status)
	report.Duration = time.Duration(durationMs) * time.Millisecond
	report.StartedAt = parseTime(startedAt)
	report.CompletedAt = parseTime(completed)

	rows, err := s.db.QueryContext(ctx, `SELECT step_index, description, COALESCE(capability, ''), COALESCE(agent_id, ''),
			status, attempts, retries, duration_ms, COALESCE(result, ''), COALESCE(error, ''), COALESCE(error_kind, '')
		FROM report_steps WHERE report_id = ? ORDER BY step_index`, id)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	report.Steps = []models.StepSummary{}
	for rows.Next() {
		var (
			step       models.StepSummary
			stepStatus string
			errorKind  string
			stepMs     int64
		)
		if err := rows.Scan(&step.Index, &step.Description, &step.Capability, &step.AgentID, &stepStatus,
			&step.Attempts, &step.Retries, &stepMs, &step.Result, &step.Error, &errorKind); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Status = models.StepStatus(stepStatus)
		step.ErrorKind = models.ErrorKind(errorKind)
		step.Duration = time.Duration(stepMs) * time.Millisecond
		report.Steps = append(report.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return &report, nil
}

// AgentStats returns per-agent step counts, busiest agent first.
func (s *Store) AgentStats(ctx context.Context) ([]*AgentStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id,
			COUNT(*),
			SUM(CASE WHEN status = 'COMPLETED' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'TIMED_OUT' THEN 1 ELSE 0 END),
			AVG(duration_ms)
		FROM report_steps
		WHERE agent_id IS NOT NULL AND agent_id != ''
		GROUP BY agent_id
		ORDER BY COUNT(*) DESC, agent_id`)
	if err != nil {
		return nil, fmt.Errorf("query agent stats: %w", err)
	}
	defer rows.Close()

	var stats []*AgentStats
	for rows.Next() {
		var (
			st    AgentStats
			avgMs float64
		)
		if err := rows.Scan(&st.AgentID, &st.Steps, &st.Completed, &st.Failed, &st.TimedOut, &avgMs); err != nil {
			return nil, fmt.Errorf("scan agent stats: %w", err)
		}
		st.AvgDuration = time.Duration(avgMs) * time.Millisecond
		stats = append(stats, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent stats: %w", err)
	}
	return stats, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
