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

// Package transfers moves single files or directories between two endpoints
// and waits, with a ceiling, for the outcome. The Adapter wraps a transfer
// service with submit-poll-classify logic and an idempotency journal; the
// Hopper builds on it to move a tier-relative path between endpoint roots.
package transfers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/config"
	"github.com/als-computing/tierflow/endpoints"
	"github.com/als-computing/tierflow/journal"
	"github.com/als-computing/tierflow/results"
)

// Result is the outcome of a transfer.
type Result struct {
	results.Result
	// UUID of the transfer task (if submitted)
	TaskId uuid.UUID
	// last status reported by the transfer service
	Status endpoints.TransferStatus
}

// Adapter submits transfers to a transfer service and polls them until they
// reach a terminal state or the configured ceiling is reached.
type Adapter struct {
	service      endpoints.TransferService
	journal      *journal.Journal
	maxWait      time.Duration
	pollInterval time.Duration
}

// NewAdapter creates an Adapter for the given service. The journal may be
// nil, in which case no transfer is ever resumed.
func NewAdapter(conf config.TransferConfig, service endpoints.TransferService,
	j *journal.Journal) *Adapter {
	return &Adapter{
		service:      service,
		journal:      j,
		maxWait:      conf.MaxWait,
		pollInterval: conf.PollInterval,
	}
}

// MaxWait returns the ceiling on the time spent waiting for one transfer.
func (a *Adapter) MaxWait() time.Duration {
	return a.maxWait
}

// Service returns the underlying transfer service.
func (a *Adapter) Service() endpoints.TransferService {
	return a.service
}

// Transfer performs the requested transfer. If token is not uuid.Nil and the
// journal holds a reusable record for it, the recorded task is polled instead
// of submitting a new one. Errors are reported in the result, never returned.
func (a *Adapter) Transfer(ctx context.Context, token uuid.UUID, record journal.Record,
	request endpoints.TransferRequest) Result {
	if prior, found := a.lookup(token); found {
		if prior.Status == journal.StatusSucceeded {
			slog.Info(fmt.Sprintf("Transfer %s already succeeded", prior.TaskId.String()))
			return Result{
				Result: results.Ok(),
				TaskId: prior.TaskId,
				Status: endpoints.TransferStatus{Code: endpoints.TransferStatusSucceeded},
			}
		}
		slog.Info(fmt.Sprintf("Resuming transfer %s", prior.TaskId.String()))
		return a.finish(ctx, token, prior.TaskId)
	}

	taskId, err := a.service.Submit(ctx, request)
	if err != nil {
		err = &SubmissionError{
			Source:      request.Source.Name,
			Destination: request.Destination.Name,
			Err:         err,
		}
		slog.Error(err.Error())
		return Result{Result: results.Fail(results.Submission, "%s", err.Error())}
	}
	slog.Debug(fmt.Sprintf("Submitted transfer %s", taskId.String()))

	if token != uuid.Nil && a.journal != nil {
		record.Token = token
		record.Kind = journal.KindTransfer
		record.TaskId = taskId
		record.Status = journal.StatusSubmitted
		if err := a.journal.Record(record); err != nil {
			slog.Error(fmt.Sprintf("Couldn't journal transfer %s: %s", taskId.String(), err.Error()))
		}
	}
	return a.finish(ctx, token, taskId)
}

func (a *Adapter) lookup(token uuid.UUID) (journal.Record, bool) {
	if token == uuid.Nil || a.journal == nil {
		return journal.Record{}, false
	}
	record, found, err := a.journal.Lookup(token)
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't read journal: %s", err.Error()))
		return journal.Record{}, false
	}
	return record, found && record.Reusable()
}

// polls the task and journals its outcome
func (a *Adapter) finish(ctx context.Context, token, taskId uuid.UUID) Result {
	result := a.poll(ctx, taskId)
	switch {
	case result.Success:
		a.updateStatus(token, journal.StatusSucceeded)
	case result.Kind == results.Timeout:
		// the task is abandoned, so a later attempt must resubmit
		if err := a.service.Cancel(context.WithoutCancel(ctx), taskId); err != nil {
			slog.Error(fmt.Sprintf("Couldn't cancel transfer %s: %s", taskId.String(), err.Error()))
		}
		a.updateStatus(token, journal.StatusFailed)
	case result.Kind == results.Canceled:
		// left as submitted so that a restart resumes polling
	default:
		a.updateStatus(token, journal.StatusFailed)
	}
	return result
}

func (a *Adapter) updateStatus(token uuid.UUID, status string) {
	if token == uuid.Nil || a.journal == nil {
		return
	}
	if err := a.journal.UpdateStatus(token, status); err != nil {
		slog.Error(fmt.Sprintf("Couldn't update journal: %s", err.Error()))
	}
}

// polls the task until it reaches a terminal state or the ceiling is reached
func (a *Adapter) poll(ctx context.Context, taskId uuid.UUID) Result {
	pollCtx, cancel := context.WithTimeout(ctx, a.maxWait)
	defer cancel()

	result := Result{TaskId: taskId}
	for {
		status, err := a.service.Status(pollCtx, taskId)
		if err != nil {
			if pollCtx.Err() != nil {
				return a.expired(ctx, result)
			}
			result.Result = results.Fail(results.Submission, "status query for %s failed: %s",
				taskId.String(), err.Error())
			return result
		}
		result.Status = status
		switch status.Code {
		case endpoints.TransferStatusSucceeded:
			result.Result = results.Ok()
			return result
		case endpoints.TransferStatusFailed:
			result.Result = results.Fail(results.Failed, "transfer %s failed: %s",
				taskId.String(), status.Message)
			return result
		}

		select {
		case <-pollCtx.Done():
			return a.expired(ctx, result)
		case <-time.After(a.pollInterval):
		}
	}
}

// classifies the end of polling as a timeout or a cancellation
func (a *Adapter) expired(ctx context.Context, result Result) Result {
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.Result = results.Fail(results.Canceled, "%s", ctx.Err().Error())
	} else {
		result.Result = results.Fail(results.Timeout, "transfer %s did not finish within %s (last status %s)",
			result.TaskId.String(), a.maxWait, result.Status.Code)
	}
	return result
}

// Reconciliation summarizes a comparison of the journal's submitted
// transfers with the tasks the transfer service reports as active.
type Reconciliation struct {
	// submitted records whose tasks are still active
	Resumable int
	// submitted records whose tasks finished successfully
	Succeeded int
	// submitted records whose tasks failed
	Failed int
	// active tasks with no journal record
	Untracked []uuid.UUID
}

// Reconcile brings the journal's submitted transfer records up to date with
// the service. Records whose tasks are in the given active set are left to
// be resumed, and records whose tasks reached a terminal state are marked
// with it. Records for tasks the service can't report on are left alone.
func (a *Adapter) Reconcile(ctx context.Context, active []uuid.UUID) (Reconciliation, error) {
	var recon Reconciliation
	if a.journal == nil {
		return recon, nil
	}
	records, err := a.journal.Records(time.Time{}, time.Now())
	if err != nil {
		return recon, err
	}

	activeSet := make(map[uuid.UUID]bool)
	for _, id := range active {
		activeSet[id] = true
	}
	tracked := make(map[uuid.UUID]bool)
	for _, record := range records {
		if record.Kind != journal.KindTransfer {
			continue
		}
		tracked[record.TaskId] = true
		if record.Status != journal.StatusSubmitted {
			continue
		}
		if activeSet[record.TaskId] {
			recon.Resumable++
			continue
		}
		status, err := a.service.Status(ctx, record.TaskId)
		if err != nil {
			slog.Debug(fmt.Sprintf("Couldn't query transfer %s: %s", record.TaskId.String(), err.Error()))
			continue
		}
		switch status.Code {
		case endpoints.TransferStatusSucceeded:
			a.updateStatus(record.Token, journal.StatusSucceeded)
			recon.Succeeded++
		case endpoints.TransferStatusFailed:
			a.updateStatus(record.Token, journal.StatusFailed)
			recon.Failed++
		default:
			recon.Resumable++
		}
	}
	for _, id := range active {
		if !tracked[id] {
			recon.Untracked = append(recon.Untracked, id)
		}
	}
	return recon, nil
}
