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

// Package journal records every transfer task and flow run that has been
// submitted, keyed by a deterministic idempotency token, so that a restarted
// flow can find and poll work it already submitted instead of submitting it
// again.
package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// record kinds
const (
	KindTransfer = "transfer"
	KindFlow     = "flow"
	KindFunction = "function"
)

// record statuses
const (
	StatusSubmitted = "submitted"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
)

// bucket names
var (
	recordsBucket = []byte("records")
	byTimeBucket  = []byte("records_by_time")
)

// fixed-width UTC time layout that sorts lexicographically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// namespace for idempotency tokens
var tokenNamespace = uuid.MustParse("7b0f3c5e-2f4e-4c41-9d55-0c1fb8f5a6d2")

// Token derives a deterministic idempotency token from the given parts
// (e.g. a run key, a hop name, and source/destination paths).
func Token(parts ...string) uuid.UUID {
	return uuid.NewSHA1(tokenNamespace, []byte(strings.Join(parts, "\x1f")))
}

// a record of a submitted transfer task or flow run
type Record struct {
	// idempotency token under which the record is stored
	Token uuid.UUID `json:"token"`
	// "transfer", "flow", or "function"
	Kind string `json:"kind"`
	// UUID of the task or run assigned by the remote service
	TaskId uuid.UUID `json:"task_id"`
	// key identifying the flow run and the hop within it
	RunKey string `json:"run_key"`
	Hop    string `json:"hop"`
	// source and destination ("endpoint:path")
	Source      string `json:"source"`
	Destination string `json:"destination"`
	// "submitted", "succeeded", "failed", or "timed_out"
	Status string `json:"status"`
	// times at which the work was submitted and the record last updated
	SubmitTime time.Time `json:"submit_time"`
	UpdateTime time.Time `json:"update_time"`
}

// Reusable returns true if the recorded work can be polled instead of being
// submitted again.
func (r Record) Reusable() bool {
	return r.Status != StatusFailed && r.TaskId != uuid.Nil
}

// Journal is a bbolt-backed store of records. It is safe for concurrent use.
type Journal struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the journal at the given path.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, &CantOpenError{Message: err.Error()}
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucketName := range [][]byte{recordsBucket, byTimeBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucketName); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &CantOpenError{Message: err.Error()}
	}
	slog.Debug(fmt.Sprintf("Opened journal at %s", path))
	return &Journal{db: db}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	if j.db == nil {
		return &NotOpenError{}
	}
	err := j.db.Close()
	j.db = nil
	if err != nil {
		return &CantCloseError{Message: err.Error()}
	}
	return nil
}

// Record stores the given record, replacing any record with the same token.
func (j *Journal) Record(record Record) error {
	if j.db == nil {
		return &NotOpenError{}
	}
	if record.Token == uuid.Nil {
		return &NewRecordError{Message: "record has no token"}
	}
	now := time.Now().UTC()
	if record.SubmitTime.IsZero() {
		record.SubmitTime = now
	}
	record.UpdateTime = now

	return j.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(recordsBucket)
		byTime := tx.Bucket(byTimeBucket)

		// drop the time index entry of a record being replaced
		if old := records.Get(record.Token[:]); old != nil {
			var oldRecord Record
			if err := json.Unmarshal(old, &oldRecord); err == nil {
				byTime.Delete(timeKey(oldRecord))
			}
		}

		jsonBytes, err := json.Marshal(&record)
		if err != nil {
			return &NewRecordError{Token: record.Token, Message: err.Error()}
		}
		if err := records.Put(record.Token[:], jsonBytes); err != nil {
			return err
		}
		// index the record by submission time
		return byTime.Put(timeKey(record), record.Token[:])
	})
}

// UpdateStatus sets the status of the record with the given token.
func (j *Journal) UpdateStatus(token uuid.UUID, status string) error {
	record, found, err := j.Lookup(token)
	if err != nil {
		return err
	}
	if !found {
		return &RecordNotFoundError{Token: token}
	}
	record.Status = status
	return j.Record(record)
}

// Lookup fetches the record with the given token, returning false if there
// is none.
func (j *Journal) Lookup(token uuid.UUID) (Record, bool, error) {
	if j.db == nil {
		return Record{}, false, &NotOpenError{}
	}
	var record Record
	var found bool
	err := j.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(recordsBucket).Get(token[:])
		if v == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(v, &record); err != nil {
			return &InvalidRecordError{Token: token, Message: err.Error()}
		}
		return nil
	})
	return record, found, err
}

// Records retrieves the records submitted within the time range with the
// given (inclusive) bounds.
func (j *Journal) Records(start, stop time.Time) ([]Record, error) {
	if j.db == nil {
		return nil, &NotOpenError{}
	}
	records := make([]Record, 0)
	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(byTimeBucket).Cursor()
		recordBucket := tx.Bucket(recordsBucket)

		startKey := []byte(start.UTC().Format(timeLayout))
		stopKey := []byte(stop.UTC().Format(timeLayout) + "\xff")

		for k, token := c.Seek(startKey); k != nil && bytes.Compare(k, stopKey) <= 0; k, token = c.Next() {
			v := recordBucket.Get(token)
			if v == nil {
				continue
			}
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

// key for the time index: submission time followed by the token, so that
// records submitted at the same instant don't collide
func timeKey(record Record) []byte {
	return []byte(record.SubmitTime.UTC().Format(timeLayout) + "|" + record.Token.String())
}
