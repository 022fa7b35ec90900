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
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/als-computing/tierflow/config"
)

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}

// this function gets called at the beginning of a test session
func setup() {
	log.Print("Creating testing directory...\n")
	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "tierflow-scheduler-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
}

// this function gets called after all tests have been run
func breakdown() {
	if TESTING_DIR != "" {
		log.Printf("Deleting testing directory %s...\n", TESTING_DIR)
		os.RemoveAll(TESTING_DIR)
	}
}

// opens a fresh job store for a single test
func openStore(t *testing.T) *Store {
	store, err := OpenStore(filepath.Join(TESTING_DIR, t.Name()+".db"))
	if err != nil {
		t.Fatalf("Couldn't open job store: %s", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestScheduleFlowIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	s := New(openStore(t))

	request := Request{
		Flow:    "prune_acquisition",
		RunName: "delete spot832: scan.h5",
		Key:     "prune:run002/scan.h5",
		Params:  Params{"relative_path": "run002/scan.h5", "older_than_days": 0},
		Delay:   24 * time.Hour,
	}
	job, added, err := s.ScheduleFlow(context.Background(), request)
	assert.Nil(err)
	assert.True(added)
	assert.Equal(StatusScheduled, job.Status)
	assert.Equal("delete spot832: scan.h5", job.RunName)

	again, added, err := s.ScheduleFlow(context.Background(), request)
	assert.Nil(err)
	assert.False(added)
	assert.Equal(job.Id, again.Id)

	jobs, err := s.Jobs("")
	assert.Nil(err)
	assert.Len(jobs, 1)

	// jobs without keys are always added
	request.Key = ""
	_, added, _ = s.ScheduleFlow(context.Background(), request)
	assert.True(added)
	_, added, _ = s.ScheduleFlow(context.Background(), request)
	assert.True(added)
	jobs, _ = s.Jobs(StatusScheduled)
	assert.Len(jobs, 3)
}

func TestScheduleFlowNeedsFlow(t *testing.T) {
	s := New(openStore(t))
	_, _, err := s.ScheduleFlow(context.Background(), Request{RunName: "nothing"})
	assert.IsType(t, &UnknownFlowError{}, err)
}

func TestDelayedJobsComeDue(t *testing.T) {
	assert := assert.New(t)
	store := openStore(t)
	s := New(store)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	job, _, err := s.ScheduleFlow(context.Background(), Request{
		Flow:  "prune_staging",
		Key:   "a",
		Delay: 24 * time.Hour,
	})
	assert.Nil(err)
	assert.True(job.RunAt.Equal(now.Add(24 * time.Hour)))

	jobs, err := store.Claim(now.Add(23 * time.Hour))
	assert.Nil(err)
	assert.Empty(jobs)

	jobs, err = store.Claim(now.Add(25 * time.Hour))
	assert.Nil(err)
	assert.Len(jobs, 1)
	assert.Equal(StatusRunning, jobs[0].Status)
	assert.Equal(1, jobs[0].Attempts)

	// claimed jobs aren't claimed twice
	jobs, _ = store.Claim(now.Add(26 * time.Hour))
	assert.Empty(jobs)

	// ...until requeued
	n, err := store.Requeue()
	assert.Nil(err)
	assert.Equal(1, n)
	jobs, _ = store.Claim(now.Add(26 * time.Hour))
	assert.Len(jobs, 1)
	assert.Equal(2, jobs[0].Attempts)

	assert.Nil(store.Complete(jobs[0].Id, errors.New("endpoint unreachable")))
	stored, found, err := store.Get("a")
	assert.Nil(err)
	assert.True(found)
	assert.Equal(StatusFailed, stored.Status)
	assert.Equal("endpoint unreachable", stored.LastError)

	_, found, err = store.Get("b")
	assert.Nil(err)
	assert.False(found)
}

func TestParamsSurviveStore(t *testing.T) {
	assert := assert.New(t)
	store := openStore(t)
	s := New(store)

	_, _, err := s.ScheduleFlow(context.Background(), Request{
		Flow: "prune_acquisition",
		Key:  "params",
		Params: Params{
			"relative_path":   "raw/run002/scan.h5",
			"older_than_days": 40,
			"dry_run":         true,
		},
	})
	assert.Nil(err)
	job, _, _ := store.Get("params")

	path, err := job.Params.String("relative_path")
	assert.Nil(err)
	assert.Equal("raw/run002/scan.h5", path)
	days, err := job.Params.Int("older_than_days")
	assert.Nil(err)
	assert.Equal(40, days)
	dryRun, err := job.Params.Bool("dry_run", false)
	assert.Nil(err)
	assert.True(dryRun)
	recursive, err := job.Params.Bool("recursive", true)
	assert.Nil(err)
	assert.True(recursive)

	_, err = job.Params.String("missing")
	assert.IsType(&MissingParameterError{}, err)
	_, err = job.Params.Int("relative_path")
	assert.IsType(&InvalidParameterError{}, err)
	_, err = Params{"older_than_days": 1.5}.Int("older_than_days")
	assert.IsType(&InvalidParameterError{}, err)
}

func TestRunnerRunsDueJobs(t *testing.T) {
	assert := assert.New(t)
	store := openStore(t)
	runner, err := NewRunner(config.SchedulerConfig{Concurrency: 2}, store, time.Now())
	assert.Nil(err)

	var mu sync.Mutex
	pruned := make([]string, 0)
	runner.Register("prune_acquisition", func(ctx context.Context, params Params) error {
		path, err := params.String("relative_path")
		if err != nil {
			return err
		}
		if path == "raw/run003/broken.h5" {
			return errors.New("object not found")
		}
		mu.Lock()
		defer mu.Unlock()
		pruned = append(pruned, path)
		return nil
	})
	runner.Register("explode", func(ctx context.Context, params Params) error {
		panic("boom")
	})

	s := New(store)
	for key, path := range map[string]string{
		"ok":     "raw/run002/scan.h5",
		"broken": "raw/run003/broken.h5",
	} {
		_, _, err := s.ScheduleFlow(context.Background(), Request{
			Flow:   "prune_acquisition",
			Key:    key,
			Params: Params{"relative_path": path},
		})
		assert.Nil(err)
	}
	s.ScheduleFlow(context.Background(), Request{Flow: "explode", Key: "explode"})
	s.ScheduleFlow(context.Background(), Request{Flow: "unregistered", Key: "unknown"})
	s.ScheduleFlow(context.Background(), Request{
		Flow:  "prune_acquisition",
		Key:   "later",
		Delay: time.Hour,
	})

	n, err := runner.RunOnce(context.Background(), time.Now().Add(time.Second))
	assert.Nil(err)
	assert.Equal(4, n)
	assert.Equal([]string{"raw/run002/scan.h5"}, pruned)

	job, _, _ := store.Get("ok")
	assert.Equal(StatusSucceeded, job.Status)
	job, _, _ = store.Get("broken")
	assert.Equal(StatusFailed, job.Status)
	assert.Equal("object not found", job.LastError)
	job, _, _ = store.Get("explode")
	assert.Equal(StatusFailed, job.Status)
	assert.Contains(job.LastError, "panicked")
	job, _, _ = store.Get("unknown")
	assert.Equal(StatusFailed, job.Status)
	assert.Contains(job.LastError, "unregistered")
	job, _, _ = store.Get("later")
	assert.Equal(StatusScheduled, job.Status)

	// nothing else is due
	n, err = runner.RunOnce(context.Background(), time.Now().Add(time.Second))
	assert.Nil(err)
	assert.Equal(0, n)
}

func TestRunnerSchedulesPeriodicJobs(t *testing.T) {
	assert := assert.New(t)
	store := openStore(t)
	now := time.Now()
	runner, err := NewRunner(config.SchedulerConfig{
		Periodic: []config.PeriodicJobConfig{
			{
				Name:   "sweep raw",
				Cron:   "* * * * *",
				Flow:   "prune_directory",
				Params: map[string]any{"relative_path": "raw"},
			},
		},
	}, store, now)
	assert.Nil(err)

	swept := 0
	runner.Register("prune_directory", func(ctx context.Context, params Params) error {
		path, err := params.String("relative_path")
		assert.Nil(err)
		assert.Equal("raw", path)
		swept++
		return nil
	})

	n, err := runner.RunOnce(context.Background(), now)
	assert.Nil(err)
	assert.Equal(0, n)

	later := now.Add(2 * time.Minute)
	n, err = runner.RunOnce(context.Background(), later)
	assert.Nil(err)
	assert.Equal(1, n)
	assert.Equal(1, swept)

	// the schedule has advanced past the run
	n, _ = runner.RunOnce(context.Background(), later)
	assert.Equal(0, n)
	jobs, _ := store.List(StatusSucceeded)
	assert.Len(jobs, 1)
	assert.Equal("sweep raw", jobs[0].RunName)
}

func TestRunnerRejectsBadCron(t *testing.T) {
	_, err := NewRunner(config.SchedulerConfig{
		Periodic: []config.PeriodicJobConfig{
			{Name: "bad", Cron: "every tuesday", Flow: "prune_directory"},
		},
	}, openStore(t), time.Now())
	assert.NotNil(t, err)
}

func TestRunRequeuesInterruptedJobs(t *testing.T) {
	assert := assert.New(t)
	store := openStore(t)
	s := New(store)
	s.ScheduleFlow(context.Background(), Request{Flow: "prune_staging", Key: "interrupted"})
	jobs, _ := store.Claim(time.Now().Add(time.Second))
	assert.Len(jobs, 1)

	runner, err := NewRunner(config.SchedulerConfig{PollInterval: 10 * time.Millisecond}, store, time.Now())
	assert.Nil(err)
	done := make(chan struct{})
	runner.Register("prune_staging", func(ctx context.Context, params Params) error {
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error)
	go func() { finished <- runner.Run(ctx) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("interrupted job was not rerun")
	}
	cancel()
	assert.Nil(<-finished)

	job, _, _ := store.Get("interrupted")
	assert.Equal(StatusSucceeded, job.Status)
	assert.Equal(2, job.Attempts)
}

func TestRunOnceRequeuesJobsInterruptedByCancellation(t *testing.T) {
	assert := assert.New(t)
	store := openStore(t)
	s := New(store)
	_, _, err := s.ScheduleFlow(context.Background(), Request{Flow: "prune_staging", Key: "slow"})
	assert.Nil(err)

	runner, err := NewRunner(config.SchedulerConfig{}, store, time.Now())
	assert.Nil(err)
	started := make(chan struct{})
	runner.Register("prune_staging", func(ctx context.Context, params Params) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		runner.RunOnce(ctx, time.Now().Add(time.Second))
		close(finished)
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job was not started")
	}
	cancel()
	<-finished

	job, found, err := store.Get("slow")
	assert.Nil(err)
	assert.True(found)
	assert.Equal(StatusScheduled, job.Status)

	// the next pass runs the job to completion
	runs := 0
	runner.Register("prune_staging", func(ctx context.Context, params Params) error {
		runs++
		return nil
	})
	n, err := runner.RunOnce(context.Background(), time.Now().Add(time.Second))
	assert.Nil(err)
	assert.Equal(1, n)
	assert.Equal(1, runs)
	job, _, _ = store.Get("slow")
	assert.Equal(StatusSucceeded, job.Status)
}

// temporary testing directory
var TESTING_DIR string
