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

package globus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/compute"
	"github.com/als-computing/tierflow/config"
)

// ComputeClient submits functions to Globus Compute endpoints and implements
// compute.ComputeService.
type ComputeClient struct {
	rest restClient
}

// NewComputeClient creates a Globus Compute client.
func NewComputeClient(conf config.GlobusConfig, auth *Authenticator) *ComputeClient {
	return &ComputeClient{
		rest: restClient{
			baseURL: strings.TrimRight(conf.ComputeURL, "/"),
			scope:   ComputeScope,
			auth:    auth,
			client:  auth.client,
		},
	}
}

// arguments are sent with the JSON serialization strategy, whose payloads
// carry this header
const jsonStrategyHeader = "11\n"

// submits a single task with no positional arguments and the given keyword
// arguments
func (c *ComputeClient) SubmitFunction(ctx context.Context, endpointId, functionId uuid.UUID,
	kwargs map[string]any) (uuid.UUID, error) {
	args, err := json.Marshal(map[string]any{
		"args":   []any{},
		"kwargs": kwargs,
	})
	if err != nil {
		return uuid.Nil, err
	}
	type SubmitRequest struct {
		TaskGroupId string     `json:"task_group_id"`
		Tasks       [][]string `json:"tasks"` // function ID, endpoint ID, payload
	}
	body, err := c.rest.post(ctx, "v2/submit", SubmitRequest{
		TaskGroupId: uuid.New().String(),
		Tasks: [][]string{
			{functionId.String(), endpointId.String(), jsonStrategyHeader + string(args)},
		},
	})
	if err != nil {
		return uuid.Nil, err
	}
	type SubmitResponse struct {
		Results []struct {
			TaskId uuid.UUID `json:"task_uuid"`
			Status string    `json:"status"`
			Reason string    `json:"reason"`
		} `json:"results"`
	}
	var response SubmitResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return uuid.Nil, err
	}
	if len(response.Results) == 0 || response.Results[0].TaskId == uuid.Nil {
		return uuid.Nil, &MissingIdError{Resource: "v2/submit", Message: string(body)}
	}
	return response.Results[0].TaskId, nil
}

// mapping of Globus Compute task states to run statuses
var computeStatuses = map[string]string{
	"received":           compute.StatusActive,
	"waiting-for-ep":     compute.StatusActive,
	"waiting-for-nodes":  compute.StatusActive,
	"waiting-for-launch": compute.StatusActive,
	"running":            compute.StatusActive,
	"success":            compute.StatusSucceeded,
	"failed":             compute.StatusFailed,
}

// GET /v2/tasks/<task_id>
func (c *ComputeClient) TaskStatus(ctx context.Context, taskId uuid.UUID) (compute.FlowRun, error) {
	body, err := c.rest.get(ctx, fmt.Sprintf("v2/tasks/%s", taskId.String()), url.Values{})
	if err != nil {
		return compute.FlowRun{}, err
	}
	type TaskResponse struct {
		Status      string `json:"status"`
		Pending     bool   `json:"pending"`
		Result      any    `json:"result"`
		Exception   string `json:"exception"`
		CompletionT string `json:"completion_t"`
	}
	var response TaskResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return compute.FlowRun{}, err
	}
	status, found := computeStatuses[response.Status]
	if !found {
		if response.Pending {
			status = compute.StatusActive
		} else {
			// unrecognized terminal states are failures
			status = compute.StatusFailed
		}
	}
	details := map[string]any{"status": response.Status}
	if response.Exception != "" {
		details["exception"] = response.Exception
	}
	if response.Result != nil {
		details["result"] = response.Result
	}
	return compute.FlowRun{
		RunId:   taskId,
		Status:  status,
		Details: details,
	}, nil
}
