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

// Package scheduler defers flow runs: jobs are persisted with a due time in
// a SQLite store and dispatched to registered handlers by a Runner when they
// come due. Cron-style periodic jobs are supported for recurring work.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/metrics"
)

// Params holds the parameters of a job. Values survive a JSON round trip,
// so numbers are read back as float64; use the accessors below.
type Params map[string]any

// String returns the string parameter with the given name.
func (p Params) String(name string) (string, error) {
	v, found := p[name]
	if !found {
		return "", &MissingParameterError{Name: name}
	}
	s, ok := v.(string)
	if !ok {
		return "", &InvalidParameterError{Name: name, Value: v}
	}
	return s, nil
}

// Int returns the integer parameter with the given name.
func (p Params) Int(name string) (int, error) {
	v, found := p[name]
	if !found {
		return 0, &MissingParameterError{Name: name}
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, &InvalidParameterError{Name: name, Value: v}
}

// Bool returns the boolean parameter with the given name, or the given
// default if it is absent.
func (p Params) Bool(name string, def bool) (bool, error) {
	v, found := p[name]
	if !found {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, &InvalidParameterError{Name: name, Value: v}
	}
	return b, nil
}

// Request asks for a flow to be run after a delay.
type Request struct {
	Flow    string
	RunName string
	// idempotency key (a random key is used if empty)
	Key    string
	Params Params
	Delay  time.Duration
}

// Scheduler adds deferred jobs to a store.
type Scheduler struct {
	store *Store
	now   func() time.Time
}

// New creates a Scheduler backed by the given store.
func New(store *Store) *Scheduler {
	return &Scheduler{store: store, now: time.Now}
}

// ScheduleFlow schedules the requested flow run. It returns the job and
// true if it was added, or the existing job with the same key and false.
func (s *Scheduler) ScheduleFlow(ctx context.Context, request Request) (Job, bool, error) {
	if err := ctx.Err(); err != nil {
		return Job{}, false, err
	}
	if request.Flow == "" {
		return Job{}, false, &UnknownFlowError{Flow: request.Flow}
	}
	key := request.Key
	if key == "" {
		key = uuid.New().String()
	}
	now := s.now()
	job, added, err := s.store.Add(Job{
		Key:       key,
		Flow:      request.Flow,
		RunName:   request.RunName,
		Params:    request.Params,
		RunAt:     now.Add(request.Delay),
		CreatedAt: now,
	})
	if err != nil {
		return Job{}, false, err
	}
	if added {
		metrics.ScheduledJobs.WithLabelValues(request.Flow).Inc()
		slog.Info(fmt.Sprintf("Scheduled %s (%s) for %s", request.RunName, request.Flow,
			job.RunAt.Format(time.RFC3339)))
	} else {
		slog.Info(fmt.Sprintf("%s (%s) is already scheduled for %s", request.RunName,
			request.Flow, job.RunAt.Format(time.RFC3339)))
	}
	return job, added, nil
}

// Jobs lists the jobs with the given status (all jobs if empty).
func (s *Scheduler) Jobs(status string) ([]Job, error) {
	return s.store.List(status)
}
