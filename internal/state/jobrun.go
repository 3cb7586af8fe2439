package state

import (
	"database/sql"
	"fmt"
	"time"
)

// JobRunRecord is the on-disk row shape for an evolution job run. It
// mirrors pkg/models.JobRun; the Evolution package is responsible for
// the report_json <-> JobReport marshaling, keeping this package free of
// a dependency on pkg/models.
type JobRunRecord struct {
	ID          string
	JobName     string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
	ReportJSON  string
}

// CreateJobRun inserts a new job-run row, typically in status "running".
func (db *DB) CreateJobRun(r *JobRunRecord) error {
	_, err := db.Exec(`
		INSERT INTO evolution_job_runs (id, job_name, started_at, completed_at, status, report_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.JobName, formatTime(r.StartedAt), nullableTimeString(r.CompletedAt), r.Status, r.ReportJSON)
	if err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

// CompleteJobRun updates a job run's terminal status, completion time,
// and report payload.
func (db *DB) CompleteJobRun(id string, completedAt, status string, reportJSON string) error {
	_, err := db.Exec(`
		UPDATE evolution_job_runs
		SET completed_at = ?, status = ?, report_json = ?
		WHERE id = ?
	`, completedAt, status, reportJSON, id)
	if err != nil {
		return fmt.Errorf("complete job run %s: %w", id, err)
	}
	return nil
}

// GetJobHistory returns the most recent job runs, optionally filtered by
// job name, newest first, bounded by limit (0 means unbounded).
func (db *DB) GetJobHistory(jobName string, limit int) ([]JobRunRecord, error) {
	query := `SELECT id, job_name, started_at, completed_at, status, report_json FROM evolution_job_runs`
	args := []any{}
	if jobName != "" {
		query += ` WHERE job_name = ?`
		args = append(args, jobName)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query job history: %w", err)
	}
	defer rows.Close()

	var records []JobRunRecord
	for rows.Next() {
		var (
			r           JobRunRecord
			startedAt   string
			completedAt sql.NullString
			reportJSON  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.JobName, &startedAt, &completedAt, &r.Status, &reportJSON); err != nil {
			return nil, fmt.Errorf("scan job run: %w", err)
		}
		if t, err := parseTime(startedAt); err == nil {
			r.StartedAt = t
		}
		r.CompletedAt = parseNullableTime(completedAt)
		r.ReportJSON = reportJSON.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job history: %w", err)
	}
	return records, nil
}

func nullableTimeString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
