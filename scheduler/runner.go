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
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deliveryhero/pipeline/v2"
	"github.com/gorhill/cronexpr"

	"github.com/als-computing/tierflow/config"
	"github.com/als-computing/tierflow/metrics"
)

// Handler runs a flow with the given job parameters.
type Handler func(ctx context.Context, params Params) error

// a job run on a cron schedule
type periodicJob struct {
	config.PeriodicJobConfig
	expr *cronexpr.Expression
	next time.Time
}

// Runner dispatches due jobs to the handlers registered for their flows.
type Runner struct {
	store        *Store
	scheduler    *Scheduler
	pollInterval time.Duration
	concurrency  int

	mu       sync.RWMutex
	handlers map[string]Handler
	periodic []*periodicJob
}

// NewRunner creates a Runner for the jobs in the given store. Periodic jobs
// first come due at the next time matching their cron expressions after
// now.
func NewRunner(conf config.SchedulerConfig, store *Store, now time.Time) (*Runner, error) {
	r := &Runner{
		store:        store,
		scheduler:    New(store),
		pollInterval: conf.PollInterval,
		concurrency:  conf.Concurrency,
		handlers:     make(map[string]Handler),
	}
	if r.concurrency <= 0 {
		r.concurrency = 1
	}
	if r.pollInterval <= 0 {
		r.pollInterval = 30 * time.Second
	}
	for _, p := range conf.Periodic {
		expr, err := cronexpr.Parse(p.Cron)
		if err != nil {
			return nil, err
		}
		r.periodic = append(r.periodic, &periodicJob{
			PeriodicJobConfig: p,
			expr:              expr,
			next:              expr.Next(now),
		})
	}
	return r, nil
}

// Register associates a handler with the named flow.
func (r *Runner) Register(flow string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[flow] = handler
}

func (r *Runner) handler(flow string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, found := r.handlers[flow]
	return h, found
}

// Run requeues jobs interrupted by a previous shutdown and then dispatches
// due jobs every poll interval until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if n, err := r.store.Requeue(); err != nil {
		return err
	} else if n > 0 {
		slog.Info(fmt.Sprintf("Requeued %d interrupted job(s)", n))
	}
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx, time.Now()); err != nil {
			slog.Error(fmt.Sprintf("Couldn't run due jobs: %s", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce schedules periodic jobs that have come due, then runs every job
// due at the given time and waits for them to finish. It returns the number
// of jobs run.
func (r *Runner) RunOnce(ctx context.Context, now time.Time) (int, error) {
	for _, p := range r.periodic {
		for !p.next.IsZero() && !p.next.After(now) {
			_, _, err := r.scheduler.ScheduleFlow(ctx, Request{
				Flow:    p.Flow,
				RunName: p.Name,
				Key:     fmt.Sprintf("periodic:%s:%d", p.Name, p.next.Unix()),
				Params:  Params(p.Params),
			})
			if err != nil {
				return 0, err
			}
			p.next = p.expr.Next(now)
		}
	}

	jobs, err := r.store.Claim(now)
	if err != nil || len(jobs) == 0 {
		return 0, err
	}

	in := make(chan Job, len(jobs))
	for _, job := range jobs {
		in <- job
	}
	close(in)

	process := func(ctx context.Context, job Job) (Job, error) {
		jobErr := r.execute(ctx, job)
		if ctx.Err() != nil {
			// a job interrupted by shutdown is run again later
			slog.Info(fmt.Sprintf("Interrupted %s: %s", job.RunName, ctx.Err().Error()))
			if _, err := r.store.Requeue(job.Id); err != nil {
				slog.Error(fmt.Sprintf("Couldn't requeue job %d: %s", job.Id, err.Error()))
			}
			return job, nil
		}
		if err := r.store.Complete(job.Id, jobErr); err != nil {
			slog.Error(fmt.Sprintf("Couldn't record outcome of job %d: %s", job.Id, err.Error()))
		}
		return job, nil
	}
	cancel := func(job Job, err error) {
		// jobs not started before cancellation are run later
		slog.Info(fmt.Sprintf("Deferring %s: %s", job.RunName, err.Error()))
		if _, err := r.store.Requeue(job.Id); err != nil {
			slog.Error(fmt.Sprintf("Couldn't requeue job %d: %s", job.Id, err.Error()))
		}
	}
	n := 0
	out := pipeline.ProcessConcurrently(ctx, r.concurrency, pipeline.NewProcessor(process, cancel), in)
	for range out {
		n++
	}
	return n, nil
}

// runs a job's handler, recovering from panics
func (r *Runner) execute(ctx context.Context, job Job) (err error) {
	handler, found := r.handler(job.Flow)
	if !found {
		err = &UnknownFlowError{Flow: job.Flow}
		slog.Error(fmt.Sprintf("%s: %s", job.RunName, err.Error()))
		metrics.JobRuns.WithLabelValues(job.Flow, StatusFailed).Inc()
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s panicked: %v", job.RunName, p)
		}
		if err != nil {
			slog.Error(fmt.Sprintf("%s failed: %s", job.RunName, err.Error()))
			metrics.JobRuns.WithLabelValues(job.Flow, StatusFailed).Inc()
		} else {
			slog.Info(fmt.Sprintf("%s succeeded", job.RunName))
			metrics.JobRuns.WithLabelValues(job.Flow, StatusSucceeded).Inc()
		}
	}()
	slog.Info(fmt.Sprintf("Running %s (%s, attempt %d)", job.RunName, job.Flow, job.Attempts))
	return handler(ctx, job.Params)
}
