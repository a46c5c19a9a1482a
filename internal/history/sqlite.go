// Copyright 2025 The Pipewright Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pipewright/pipewright/pkg/errors"
)

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path. ":memory:" works for tests.
	Path string
}

// Store is the SQLite-backed history store. SQLite serializes writes, so
// the connection pool is capped at one connection.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the history database at cfg.Path.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			pipeline TEXT NOT NULL,
			source TEXT,
			status TEXT NOT NULL,
			error TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS job_results (
			run_id TEXT NOT NULL,
			job TEXT NOT NULL,
			status TEXT NOT NULL,
			runs_on TEXT,
			started_at TEXT,
			finished_at TEXT,
			PRIMARY KEY (run_id, job),
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS step_results (
			run_id TEXT NOT NULL,
			job TEXT NOT NULL,
			idx INTEGER NOT NULL,
			name TEXT NOT NULL,
			command TEXT,
			status TEXT NOT NULL,
			exit_code INTEGER NOT NULL DEFAULT 0,
			started_at TEXT,
			finished_at TEXT,
			PRIMARY KEY (run_id, job, idx),
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS log_lines (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			job TEXT NOT NULL,
			step TEXT,
			stream TEXT NOT NULL,
			line TEXT NOT NULL,
			created_at TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_lines_run_job ON log_lines(run_id, job)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// CreateRun records a run in status running.
func (s *Store) CreateRun(ctx context.Context, run RunRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, source, status, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Pipeline, nullString(run.Source), run.Status,
		nullString(run.Error), formatTime(run.StartedAt), formatTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinishRun stamps a run's terminal status.
func (s *Store) FinishRun(ctx context.Context, id, status, errMsg string, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, nullString(errMsg), formatTime(finishedAt), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &errors.NotFoundError{Resource: "run", ID: id}
	}
	return nil
}

// SaveJobResult persists a job's terminal record with its steps and log
// lines in one transaction.
func (s *Store) SaveJobResult(ctx context.Context, job JobRecord, steps []StepRecord, logs []LogRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO job_results (run_id, job, status, runs_on, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.RunID, job.Job, job.Status, nullString(job.RunsOn),
		formatTime(job.StartedAt), formatTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save job result: %w", err)
	}

	for _, step := range steps {
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO step_results (run_id, job, idx, name, command, status, exit_code, started_at, finished_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			step.RunID, step.Job, step.Index, step.Name, nullString(step.Command),
			step.Status, step.ExitCode, formatTime(step.StartedAt), formatTime(step.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save step result: %w", err)
		}
	}

	for _, line := range logs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO log_lines (run_id, job, step, stream, line, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			line.RunID, line.Job, nullString(line.Step), line.Stream, line.Line,
			formatTime(line.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to save log line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job result: %w", err)
	}
	return nil
}

// GetRun returns a run with its job and step records.
func (s *Store) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	var (
		detail              RunDetail
		source, errMsg      sql.NullString
		startedAt, finished sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, pipeline, source, status, error, started_at, finished_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&detail.ID, &detail.Pipeline, &source, &detail.Status, &errMsg, &startedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, &errors.NotFoundError{Resource: "run", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	detail.Source = source.String
	detail.Error = errMsg.String
	detail.StartedAt = parseTime(startedAt)
	detail.FinishedAt = parseTime(finished)

	jobs, err := s.runJobs(ctx, id)
	if err != nil {
		return nil, err
	}
	detail.Jobs = jobs
	return &detail, nil
}

func (s *Store) runJobs(ctx context.Context, runID string) ([]JobDetail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job, status, runs_on, started_at, finished_at
		 FROM job_results WHERE run_id = ? ORDER BY job`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list job results: %w", err)
	}
	defer rows.Close()

	var jobs []JobDetail
	for rows.Next() {
		var (
			job                 JobDetail
			runsOn              sql.NullString
			startedAt, finished sql.NullString
		)
		if err := rows.Scan(&job.RunID, &job.Job, &job.Status, &runsOn, &startedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan job result: %w", err)
		}
		job.RunsOn = runsOn.String
		job.StartedAt = parseTime(startedAt)
		job.FinishedAt = parseTime(finished)
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job results: %w", err)
	}

	for i := range jobs {
		steps, err := s.jobSteps(ctx, runID, jobs[i].Job)
		if err != nil {
			return nil, err
		}
		jobs[i].Steps = steps
	}
	return jobs, nil
}

func (s *Store) jobSteps(ctx context.Context, runID, job string) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job, idx, name, command, status, exit_code, started_at, finished_at
		 FROM step_results WHERE run_id = ? AND job = ? ORDER BY idx`, runID, job,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list step results: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var (
			step                StepRecord
			command             sql.NullString
			startedAt, finished sql.NullString
		)
		if err := rows.Scan(&step.RunID, &step.Job, &step.Index, &step.Name, &command,
			&step.Status, &step.ExitCode, &startedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}
		step.Command = command.String
		step.StartedAt = parseTime(startedAt)
		step.FinishedAt = parseTime(finished)
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate step results: %w", err)
	}
	return steps, nil
}

// ListRuns returns up to limit runs, most recent first. limit <= 0 means a
// default of 20.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pipeline, source, status, error, started_at, finished_at
		 FROM runs ORDER BY rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var (
			run                 RunRecord
			source, errMsg      sql.NullString
			startedAt, finished sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Pipeline, &source, &run.Status, &errMsg, &startedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Source = source.String
		run.Error = errMsg.String
		run.StartedAt = parseTime(startedAt)
		run.FinishedAt = parseTime(finished)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// JobLogs returns up to limit log lines for one job of one run, most
// recent first. limit <= 0 means a default of 100.
func (s *Store) JobLogs(ctx context.Context, runID, job string, limit int) ([]LogRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, job, step, stream, line, created_at
		 FROM log_lines WHERE run_id = ? AND job = ? ORDER BY id DESC LIMIT ?`,
		runID, job, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list log lines: %w", err)
	}
	defer rows.Close()

	var logs []LogRecord
	for rows.Next() {
		var (
			line    LogRecord
			step    sql.NullString
			created sql.NullString
		)
		if err := rows.Scan(&line.RunID, &line.Job, &step, &line.Stream, &line.Line, &created); err != nil {
			return nil, fmt.Errorf("failed to scan log line: %w", err)
		}
		line.Step = step.String
		line.CreatedAt = parseTime(created)
		logs = append(logs, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate log lines: %w", err)
	}
	return logs, nil
}

// Prune deletes all but the newest keep runs, cascading to job, step, and
// log rows. Returns the number of runs deleted.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY rowid DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// formatTime stores times as RFC3339 with nanoseconds, UTC. Zero times
// store as NULL.
func formatTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
