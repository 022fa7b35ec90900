// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package scheduler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// job statuses
const (
	StatusScheduled = "scheduled"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Job is a deferred flow run.
type Job struct {
	Id int64 `json:"id"`
	// idempotency key; at most one job exists per key
	Key string `json:"key"`
	// name of the flow run by the job and a descriptive name for the run
	Flow    string `json:"flow"`
	RunName string `json:"run_name"`
	// parameters passed to the flow
	Params Params `json:"params"`
	// time at which the job becomes due
	RunAt time.Time `json:"run_at"`
	// "scheduled", "running", "succeeded", or "failed"
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT NOT NULL UNIQUE,
    flow TEXT NOT NULL,
    run_name TEXT NOT NULL,
    params TEXT NOT NULL,
    run_at INTEGER NOT NULL,
    status TEXT NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_due ON jobs (status, run_at);
`

const jobColumns = `id, key, flow, run_name, params, run_at, status, attempts, last_error, created_at`

// Store persists deferred jobs in a SQLite database. A single connection is
// shared under a mutex, so a Store is safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	conn *sqlite.Conn
}

// OpenStore opens (creating if necessary) the job database at the given
// path.
func OpenStore(path string) (*Store, error) {
	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite, sqlite.OpenCreate, sqlite.OpenWAL)
	if err != nil {
		return nil, &StoreError{Path: path, Message: err.Error()}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		return nil, &StoreError{Path: path, Message: err.Error()}
	}
	slog.Debug(fmt.Sprintf("Opened job store at %s", path))
	return &Store{conn: conn}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// reads a job from a row selected with jobColumns
func scanJob(stmt *sqlite.Stmt) (Job, error) {
	job := Job{
		Id:        stmt.ColumnInt64(0),
		Key:       stmt.ColumnText(1),
		Flow:      stmt.ColumnText(2),
		RunName:   stmt.ColumnText(3),
		RunAt:     time.UnixMilli(stmt.ColumnInt64(5)).UTC(),
		Status:    stmt.ColumnText(6),
		Attempts:  stmt.ColumnInt(7),
		LastError: stmt.ColumnText(8),
		CreatedAt: time.UnixMilli(stmt.ColumnInt64(9)).UTC(),
	}
	if err := json.Unmarshal([]byte(stmt.ColumnText(4)), &job.Params); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Add inserts the job unless a job with the same key exists. It returns the
// stored job and true if it was inserted, or the existing job and false.
func (s *Store) Add(job Job) (Job, bool, error) {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return Job{}, false, err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	err = sqlitex.Execute(s.conn,
		`INSERT OR IGNORE INTO jobs (key, flow, run_name, params, run_at, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{job.Key, job.Flow, job.RunName, string(params),
				job.RunAt.UnixMilli(), StatusScheduled, job.CreatedAt.UnixMilli()},
		})
	if err != nil {
		return Job{}, false, err
	}
	inserted := s.conn.Changes() > 0
	stored, found, err := s.get(job.Key)
	if err != nil {
		return Job{}, false, err
	}
	if !found {
		return Job{}, false, &JobNotFoundError{Key: job.Key}
	}
	return stored, inserted, nil
}

// Get fetches the job with the given key.
func (s *Store) Get(key string) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(key)
}

func (s *Store) get(key string) (Job, bool, error) {
	var job Job
	var found bool
	err := sqlitex.Execute(s.conn, `SELECT `+jobColumns+` FROM jobs WHERE key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				job, err = scanJob(stmt)
				found = err == nil
				return err
			},
		})
	return job, found, err
}

// Claim marks every scheduled job due at the given time as running and
// returns them in order of due time.
func (s *Store) Claim(now time.Time) (jobs []Job, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer sqlitex.Save(s.conn)(&err)

	jobs = make([]Job, 0)
	err = sqlitex.Execute(s.conn,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND run_at <= ? ORDER BY run_at, id`,
		&sqlitex.ExecOptions{
			Args: []any{StatusScheduled, now.UnixMilli()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				job, err := scanJob(stmt)
				if err != nil {
					return err
				}
				jobs = append(jobs, job)
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	for i := range jobs {
		err = sqlitex.Execute(s.conn,
			`UPDATE jobs SET status = ?, attempts = attempts + 1 WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{StatusRunning, jobs[i].Id}})
		if err != nil {
			return nil, err
		}
		jobs[i].Status = StatusRunning
		jobs[i].Attempts++
	}
	return jobs, nil
}

// Complete records the outcome of a claimed job.
func (s *Store) Complete(id int64, jobErr error) error {
	status, message := StatusSucceeded, ""
	if jobErr != nil {
		status, message = StatusFailed, jobErr.Error()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return sqlitex.Execute(s.conn, `UPDATE jobs SET status = ?, last_error = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{status, message, id}})
}

// Requeue returns running jobs to the scheduled state. Jobs are left running
// when the process stops while they execute.
func (s *Store) Requeue(ids ...int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		err := sqlitex.Execute(s.conn, `UPDATE jobs SET status = ? WHERE status = ?`,
			&sqlitex.ExecOptions{Args: []any{StatusScheduled, StatusRunning}})
		return s.conn.Changes(), err
	}
	n := 0
	for _, id := range ids {
		err := sqlitex.Execute(s.conn, `UPDATE jobs SET status = ? WHERE id = ? AND status = ?`,
			&sqlitex.ExecOptions{Args: []any{StatusScheduled, id, StatusRunning}})
		if err != nil {
			return n, err
		}
		n += s.conn.Changes()
	}
	return n, nil
}

// List returns the jobs with the given status (all jobs if status is
// empty), in order of due time.
func (s *Store) List(status string) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY run_at, id`

	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]Job, 0)
	err := sqlitex.Execute(s.conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			job, err := scanJob(stmt)
			if err != nil {
				return err
			}
			jobs = append(jobs, job)
			return nil
		},
	})
	return jobs, err
}
