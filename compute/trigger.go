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

package compute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/config"
	"github.com/als-computing/tierflow/journal"
	"github.com/als-computing/tierflow/metrics"
	"github.com/als-computing/tierflow/results"
)

// Trigger starts reconstructions and polls them to completion.
type Trigger struct {
	flows        FlowService
	compute      ComputeService
	journal      *journal.Journal
	mode         string
	flowId       uuid.UUID
	label        string
	tags         []string
	pollInterval time.Duration
	maxWait      time.Duration
}

// NewTrigger creates a Trigger. In "flow" mode only the flow service is
// used; in "function" mode only the compute service is. The journal may be
// nil, in which case restarts submit new runs.
func NewTrigger(conf config.ComputeConfig, flows FlowService, compute ComputeService,
	j *journal.Journal) *Trigger {
	return &Trigger{
		flows:        flows,
		compute:      compute,
		journal:      j,
		mode:         conf.Mode,
		flowId:       conf.FlowId,
		label:        conf.Label,
		tags:         conf.Tags,
		pollInterval: conf.PollInterval,
		maxWait:      conf.MaxWait,
	}
}

// RunReconstruction runs the reconstruction described by the invocation.
// The run ID is journaled under a token derived from runKey, so calling this
// again with the same key after an interruption resumes polling the same
// run.
func (t *Trigger) RunReconstruction(ctx context.Context, runKey string, inv Invocation) Result {
	token := journal.Token(runKey, "reconstruct", t.mode, inv.Source.Path)

	runId, resumed := t.resume(token)
	if !resumed {
		var err error
		runId, err = t.submit(ctx, inv)
		if err != nil {
			slog.Error(fmt.Sprintf("Couldn't start reconstruction for %s: %s", runKey, err.Error()))
			metrics.Reconstructions.WithLabelValues(results.Submission.String()).Inc()
			return Result{Result: results.Fail(results.Submission, "%s", err.Error())}
		}
		slog.Info(fmt.Sprintf("Started reconstruction %s for %s", runId.String(), runKey))
		t.record(journal.Record{
			Token:  token,
			Kind:   t.recordKind(),
			TaskId: runId,
			RunKey: runKey,
			Hop:    "reconstruct",
			Source: inv.Source.Path,
			Status: journal.StatusSubmitted,
		})
	} else {
		slog.Info(fmt.Sprintf("Resuming reconstruction %s for %s", runId.String(), runKey))
	}

	result := t.poll(ctx, runId)
	metrics.Reconstructions.WithLabelValues(result.Kind.String()).Inc()
	switch {
	case result.Success:
		slog.Info(fmt.Sprintf("Reconstruction %s succeeded", runId.String()))
		t.updateStatus(token, journal.StatusSucceeded)
	case result.Kind == results.Timeout:
		slog.Error(fmt.Sprintf("Reconstruction %s timed out: %s", runId.String(), result.Message))
		t.updateStatus(token, journal.StatusTimedOut)
	case result.Kind == results.Canceled:
		slog.Info(fmt.Sprintf("Stopped waiting for reconstruction %s: %s", runId.String(), result.Message))
	default:
		details, _ := json.Marshal(result.Details)
		slog.Error(fmt.Sprintf("Reconstruction %s failed (%s): %s", runId.String(), result.Status, string(details)))
		t.updateStatus(token, journal.StatusFailed)
	}
	return result
}

func (t *Trigger) recordKind() string {
	if t.mode == "function" {
		return journal.KindFunction
	}
	return journal.KindFlow
}

// returns the journaled run for the token, if it can be polled
func (t *Trigger) resume(token uuid.UUID) (uuid.UUID, bool) {
	if t.journal == nil {
		return uuid.Nil, false
	}
	record, found, err := t.journal.Lookup(token)
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't read journal: %s", err.Error()))
		return uuid.Nil, false
	}
	if !found || !record.Reusable() {
		return uuid.Nil, false
	}
	return record.TaskId, true
}

func (t *Trigger) record(record journal.Record) {
	if t.journal == nil {
		return
	}
	if err := t.journal.Record(record); err != nil {
		slog.Error(fmt.Sprintf("Couldn't journal run %s: %s", record.TaskId.String(), err.Error()))
	}
}

func (t *Trigger) updateStatus(token uuid.UUID, status string) {
	if t.journal == nil {
		return
	}
	if err := t.journal.UpdateStatus(token, status); err != nil {
		slog.Error(fmt.Sprintf("Couldn't update journal: %s", err.Error()))
	}
}

func (t *Trigger) submit(ctx context.Context, inv Invocation) (uuid.UUID, error) {
	if t.mode == "function" {
		if t.compute == nil {
			return uuid.Nil, &NoServiceError{Mode: t.mode}
		}
		return t.compute.SubmitFunction(ctx, inv.ComputeEndpointId, inv.FunctionId, inv.FunctionKwargs)
	}
	if t.flows == nil {
		return uuid.Nil, &NoServiceError{Mode: t.mode}
	}
	return t.flows.RunFlow(ctx, t.flowId, inv.FlowInput(), t.label, t.tags)
}

func (t *Trigger) status(ctx context.Context, runId uuid.UUID) (FlowRun, error) {
	if t.mode == "function" {
		return t.compute.TaskStatus(ctx, runId)
	}
	return t.flows.GetRun(ctx, runId)
}

// polls the run until it leaves the ACTIVE/INACTIVE states or the ceiling
// is reached
func (t *Trigger) poll(ctx context.Context, runId uuid.UUID) Result {
	pollCtx, cancel := context.WithTimeout(ctx, t.maxWait)
	defer cancel()

	result := Result{RunId: runId}
	for {
		run, err := t.status(pollCtx, runId)
		if err != nil {
			if pollCtx.Err() != nil {
				return t.expired(ctx, result)
			}
			result.Result = results.Fail(results.Submission, "status query failed: %s", err.Error())
			return result
		}
		result.Status = run.Status
		result.Details = run.Details
		if !run.Pending() {
			if run.Status == StatusSucceeded {
				result.Result = results.Ok()
			} else {
				result.Result = results.Fail(results.Failed, "run ended with status %s", run.Status)
			}
			return result
		}
		slog.Debug(fmt.Sprintf("Reconstruction %s is %s", runId.String(), run.Status))

		select {
		case <-pollCtx.Done():
			return t.expired(ctx, result)
		case <-time.After(t.pollInterval):
		}
	}
}

// classifies the end of polling as a timeout or a cancellation
func (t *Trigger) expired(ctx context.Context, result Result) Result {
	if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.Result = results.Fail(results.Canceled, "%s", ctx.Err().Error())
	} else {
		result.Result = results.Fail(results.Timeout, "no terminal state after %s (last status %s)",
			t.maxWait, result.Status)
	}
	return result
}
