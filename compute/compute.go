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

// Package compute triggers reconstructions at a remote compute facility,
// either by running a managed transfer-compute-transfer flow or by
// submitting a function to a compute endpoint, and waits (with a ceiling)
// for the outcome.
package compute

import (
	"context"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/results"
)

// run statuses reported by the flow and compute services
const (
	StatusActive    = "ACTIVE"
	StatusInactive  = "INACTIVE"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// FlowRun is the state of a flow run or a compute task.
type FlowRun struct {
	RunId   uuid.UUID
	Status  string
	Details map[string]any
}

// Pending returns true if the run has not reached a terminal state.
func (r FlowRun) Pending() bool {
	return r.Status == StatusActive || r.Status == StatusInactive
}

// FlowService runs managed flows.
type FlowService interface {
	// starts a run of the flow with the given ID, returning the run ID
	RunFlow(ctx context.Context, flowId uuid.UUID, input map[string]any,
		label string, tags []string) (uuid.UUID, error)
	// retrieves the state of the given run
	GetRun(ctx context.Context, runId uuid.UUID) (FlowRun, error)
}

// ComputeService runs registered functions on compute endpoints.
type ComputeService interface {
	// submits a function invocation, returning a task ID
	SubmitFunction(ctx context.Context, endpointId, functionId uuid.UUID,
		kwargs map[string]any) (uuid.UUID, error)
	// retrieves the state of the given task
	TaskStatus(ctx context.Context, taskId uuid.UUID) (FlowRun, error)
}

// Collection is a transfer collection and a path within it.
type Collection struct {
	Id   uuid.UUID
	Path string
}

// Invocation describes one reconstruction.
type Invocation struct {
	ComputeEndpointId uuid.UUID
	FunctionId        uuid.UUID
	FunctionKwargs    map[string]any
	// where the flow fetches input and puts output
	Source      Collection
	Destination Collection
	// transfer directories recursively
	Recursive bool
}

// FlowInput returns the input document for the reconstruction flow.
func (inv Invocation) FlowInput() map[string]any {
	kwargs := inv.FunctionKwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}
	return map[string]any{
		"input": map[string]any{
			"source": map[string]any{
				"id":   inv.Source.Id.String(),
				"path": inv.Source.Path,
			},
			"destination": map[string]any{
				"id":   inv.Destination.Id.String(),
				"path": inv.Destination.Path,
			},
			"recursive_tx":            inv.Recursive,
			"compute_endpoint_id":     inv.ComputeEndpointId.String(),
			"compute_function_id":     inv.FunctionId.String(),
			"compute_function_kwargs": kwargs,
		},
	}
}

// Result is the outcome of a reconstruction.
type Result struct {
	results.Result
	// flow run or compute task ID (if submitted)
	RunId uuid.UUID
	// last status reported
	Status string
	// diagnostic payload from the service
	Details map[string]any
}
