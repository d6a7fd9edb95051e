package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one row in the runs table.
//
//nolint:govet // Record struct, logical grouping preferred over field alignment
type RunRecord struct {
	ID          string
	Prompt      string
	Backend     string
	Model       string
	Success     bool
	ReasonCode  string
	Summary     string
	Iterations  int
	Interrupted bool
	Branch      string
	PRURL       string
	StartedAt   time.Time
	FinishedAt  *time.Time
}

// RecordStart inserts a new run row at launch time. The terminal fields stay
// zero until RecordFinish fills them in.
func (s *Store) RecordStart(id, prompt, backend, model string) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, prompt, backend, model, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, prompt, backend, model, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record run start: %w", err)
	}
	s.logger.Debug("recorded start of run %s (backend=%s)", id, backend)
	return nil
}

// FinishUpdate carries the terminal state of a run.
//
//nolint:govet // Update struct, logical grouping preferred over field alignment
type FinishUpdate struct {
	Success     bool
	ReasonCode  string
	Summary     string
	Iterations  int
	Interrupted bool
	Branch      string
	PRURL       string
}

// RecordFinish updates the run row with its terminal state.
func (s *Store) RecordFinish(id string, update FinishUpdate) error {
	result, err := s.db.Exec(
		`UPDATE runs
		 SET success = ?, reason_code = ?, summary = ?, iterations = ?,
		     interrupted = ?, branch = ?, pr_url = ?, finished_at = ?
		 WHERE id = ?`,
		boolToInt(update.Success), update.ReasonCode, update.Summary, update.Iterations,
		boolToInt(update.Interrupted), update.Branch, update.PRURL,
		time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record run finish: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check run finish update: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	s.logger.Debug("recorded finish of run %s (reason=%s)", id, update.ReasonCode)
	return nil
}

// Get returns a single run by ID.
func (s *Store) Get(id string) (*RunRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, prompt, backend, model, success, reason_code, summary,
		        iterations, interrupted, branch, pr_url, started_at, finished_at
		 FROM runs WHERE id = ?`,
		id,
	)
	record, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return record, err
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, prompt, backend, model, success, reason_code, summary,
		        iterations, interrupted, branch, pr_url, started_at, finished_at
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recent runs: %w", err)
	}
	return records, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var (
		record                record0
		startedAt, finishedAt string
	)
	err := row.Scan(
		&record.ID, &record.Prompt, &record.Backend, &record.Model,
		&record.Success, &record.ReasonCode, &record.Summary,
		&record.Iterations, &record.Interrupted, &record.Branch, &record.PRURL,
		&startedAt, &finishedAt,
	)
	if err != nil {
		return nil, err
	}

	out := &RunRecord{
		ID:          record.ID,
		Prompt:      record.Prompt,
		Backend:     record.Backend,
		Model:       record.Model,
		Success:     record.Success != 0,
		ReasonCode:  record.ReasonCode,
		Summary:     record.Summary,
		Iterations:  record.Iterations,
		Interrupted: record.Interrupted != 0,
		Branch:      record.Branch,
		PRURL:       record.PRURL,
	}
	out.StartedAt, err = parseTimestamp(startedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if finishedAt != "" {
		finished, err := parseTimestamp(finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finished_at: %w", err)
		}
		out.FinishedAt = &finished
	}
	return out, nil
}

// record0 holds the raw integer-flag form of a row.
//
//nolint:govet // Scan target struct, column order preferred
type record0 struct {
	ID          string
	Prompt      string
	Backend     string
	Model       string
	Success     int
	ReasonCode  string
	Summary     string
	Iterations  int
	Interrupted int
	Branch      string
	PRURL       string
}

func parseTimestamp(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", value, err)
	}
	return ts, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
