package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/lasercut/internal/driver"
)

// ErrJobNotFound is returned by Job for an unknown id.
var ErrJobNotFound = errors.New("job not found")

// JobRecord is one row of the jobs table.
type JobRecord struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Helper   bool      `json:"helper"`
	Status   string    `json:"status"`
	Error    string    `json:"error,omitempty"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitzero"`
	Faults   int       `json:"faults"`
}

// Fault is an alarm or error the board reported.
type Fault struct {
	ID       int64     `json:"id"`
	JobID    string    `json:"job_id,omitempty"`
	Kind     string    `json:"kind"`
	Code     int       `json:"code"`
	Message  string    `json:"message"`
	Line     string    `json:"line,omitempty"`
	Recorded time.Time `json:"recorded"`
}

func nanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// InsertJob records a job as it starts.
func (db *DB) InsertJob(job *driver.Job) error {
	_, err := db.Exec(`
		INSERT INTO jobs (job_id, name, helper, status, error, started_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.Helper, string(job.Status), errText(job.Err), job.Started.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert job %s: %w", job.ID, err)
	}
	return nil
}

// FinishJob stores the final status of a job.
func (db *DB) FinishJob(job *driver.Job) error {
	res, err := db.Exec(`
		UPDATE jobs SET status = ?, error = ?, finished_unix_nanos = ?
		WHERE job_id = ?`,
		string(job.Status), errText(job.Err), nanos(job.Finished), job.ID)
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish job %s: %w", job.ID, ErrJobNotFound)
	}
	return nil
}

// InsertFault records f. An empty JobID stores a fault outside any job.
func (db *DB) InsertFault(f Fault) (int64, error) {
	var jobID sql.NullString
	if f.JobID != "" {
		jobID = sql.NullString{String: f.JobID, Valid: true}
	}
	res, err := db.Exec(`
		INSERT INTO faults (job_id, kind, code, message, line, recorded_unix_nanos)
		VALUES (?, ?, ?, ?, ?, ?)`,
		jobID, f.Kind, f.Code, f.Message, f.Line, f.Recorded.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to insert fault: %w", err)
	}
	return res.LastInsertId()
}

const jobColumns = `
	j.job_id, j.name, j.helper, j.status, j.error, j.started_unix_nanos, j.finished_unix_nanos,
	(SELECT COUNT(*) FROM faults f WHERE f.job_id = j.job_id)`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (JobRecord, error) {
	var (
		r        JobRecord
		started  int64
		finished sql.NullInt64
	)
	if err := s.Scan(&r.ID, &r.Name, &r.Helper, &r.Status, &r.Error, &started, &finished, &r.Faults); err != nil {
		return r, err
	}
	r.Started = time.Unix(0, started).UTC()
	r.Finished = fromNanos(finished)
	return r, nil
}

// Job returns one job by id.
func (db *DB) Job(id string) (JobRecord, error) {
	row := db.QueryRow(`SELECT `+jobColumns+` FROM jobs j WHERE j.job_id = ?`, id)
	r, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrJobNotFound
	}
	return r, err
}

// RecentJobs returns up to limit jobs, newest first.
func (db *DB) RecentJobs(limit int) ([]JobRecord, error) {
	rows, err := db.Query(`SELECT `+jobColumns+` FROM jobs j ORDER BY j.started_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, r)
	}
	return jobs, rows.Err()
}

// Faults returns the faults of jobID in the order they were recorded. An
// empty jobID selects faults outside any job.
func (db *DB) Faults(jobID string) ([]Fault, error) {
	query := `SELECT fault_id, COALESCE(job_id, ''), kind, code, message, line, recorded_unix_nanos
		FROM faults WHERE job_id = ? ORDER BY fault_id`
	args := []any{jobID}
	if jobID == "" {
		query = `SELECT fault_id, '', kind, code, message, line, recorded_unix_nanos
			FROM faults WHERE job_id IS NULL ORDER BY fault_id`
		args = nil
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var faults []Fault
	for rows.Next() {
		var (
			f        Fault
			recorded int64
		)
		if err := rows.Scan(&f.ID, &f.JobID, &f.Kind, &f.Code, &f.Message, &f.Line, &recorded); err != nil {
			return nil, err
		}
		f.Recorded = time.Unix(0, recorded).UTC()
		faults = append(faults, f)
	}
	return faults, rows.Err()
}
