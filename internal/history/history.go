// Package history implements the optional History Store (G5): a
// durable MySQL-backed audit log of past WorkflowExecutions. It
// supplements the canonical §6 JSON state document rather than
// replacing it — nothing in the core orchestration path reads from
// this store, and a write failure here never fails a project start.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// StepSummary is one step's final outcome, flattened for storage as
// "stepId:status" (optionally ":detail") rather than a nested column.
type StepSummary struct {
	StepID string
	Status string
	Detail string
}

func (s StepSummary) String() string {
	if s.Detail == "" {
		return fmt.Sprintf("%s:%s", s.StepID, s.Status)
	}
	return fmt.Sprintf("%s:%s:%s", s.StepID, s.Status, s.Detail)
}

// ExecutionHistoryEntry is a flattened, storable projection of a
// completed WorkflowExecution (spec.md §3.1 expansion).
type ExecutionHistoryEntry struct {
	ExecutionID   string
	ProjectID     string
	TeamID        string
	Status        string
	StartedAt     time.Time
	FinishedAt    *time.Time
	StepSummaries []StepSummary
}

// Store is a MySQL-backed audit log. The zero value is not usable; get
// one from Open.
type Store struct {
	db *sql.DB
}

// Open connects to dsn (a go-sql-driver/mysql data source name),
// verifies connectivity, and ensures the execution_history table
// exists. Callers own the returned Store and must Close it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: opening mysql: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: pinging mysql: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS execution_history (
		execution_id   VARCHAR(64) NOT NULL PRIMARY KEY,
		project_id     VARCHAR(128) NOT NULL,
		team_id        VARCHAR(128) NOT NULL,
		status         VARCHAR(32) NOT NULL,
		started_at     DATETIME(3) NOT NULL,
		finished_at    DATETIME(3) NULL,
		step_summaries TEXT NOT NULL,
		recorded_at    DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3)
	)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("history: creating execution_history table: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record writes entry as a new row, or overwrites the existing row for
// the same ExecutionID (a workflow may legitimately be recorded more
// than once if an operator retries the audit write after a transient
// MySQL outage).
func (s *Store) Record(ctx context.Context, entry ExecutionHistoryEntry) error {
	summaries := make([]string, len(entry.StepSummaries))
	for i, s := range entry.StepSummaries {
		summaries[i] = s.String()
	}

	const upsert = `INSERT INTO execution_history
		(execution_id, project_id, team_id, status, started_at, finished_at, step_summaries)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			finished_at = VALUES(finished_at),
			step_summaries = VALUES(step_summaries)`

	_, err := s.db.ExecContext(ctx, upsert,
		entry.ExecutionID, entry.ProjectID, entry.TeamID, entry.Status,
		entry.StartedAt, entry.FinishedAt, strings.Join(summaries, ";"))
	if err != nil {
		return fmt.Errorf("history: recording execution %s: %w", entry.ExecutionID, err)
	}
	return nil
}
