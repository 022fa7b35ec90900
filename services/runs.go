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

package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/flows"
)

// move run statuses
const (
	runRunning   = "running"
	runSucceeded = "succeeded"
	runFailed    = "failed"
)

// a move requested through the API
type moveRun struct {
	Id       uuid.UUID
	FilePath string
	Status   string
	Message  string
	Started  time.Time
	Finished time.Time
	Report   flows.MoveReport
}

// runTable keeps track of moves started by the API. Moves run in their own
// goroutines under a context that is canceled when the table is stopped.
type runTable struct {
	mover  Mover
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	runs map[uuid.UUID]*moveRun
}

func newRunTable(mover Mover) *runTable {
	ctx, cancel := context.WithCancel(context.Background())
	return &runTable{
		mover:  mover,
		ctx:    ctx,
		cancel: cancel,
		runs:   make(map[uuid.UUID]*moveRun),
	}
}

// starts a move in the background and returns its ID
func (t *runTable) Start(filePath string, opts flows.MoveOptions) uuid.UUID {
	run := &moveRun{
		Id:       uuid.New(),
		FilePath: filePath,
		Status:   runRunning,
		Started:  time.Now(),
	}
	t.mu.Lock()
	t.runs[run.Id] = run
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		report, err := t.mover.MoveFile(t.ctx, filePath, opts)

		t.mu.Lock()
		defer t.mu.Unlock()
		run.Report = report
		run.Finished = time.Now()
		if err != nil {
			run.Status = runFailed
			run.Message = err.Error()
			slog.Error(fmt.Sprintf("Move %s of %s failed: %s", run.Id, filePath, err))
		} else {
			run.Status = runSucceeded
			slog.Info(fmt.Sprintf("Move %s of %s succeeded", run.Id, filePath))
		}
	}()
	return run.Id
}

// returns a copy of the run with the given ID
func (t *runTable) Get(id uuid.UUID) (moveRun, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	run, found := t.runs[id]
	if !found {
		return moveRun{}, false
	}
	return *run, true
}

// cancels running moves and waits for them to return
func (t *runTable) Stop() {
	t.cancel()
	t.wg.Wait()
}
