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

// FlowsClient runs Globus Flows (https://docs.globus.org/api/flows/) and
// implements compute.FlowService.
type FlowsClient struct {
	baseURL string
	auth    *Authenticator
}

// NewFlowsClient creates a Globus Flows client.
func NewFlowsClient(conf config.GlobusConfig, auth *Authenticator) *FlowsClient {
	return &FlowsClient{
		baseURL: strings.TrimRight(conf.FlowsURL, "/"),
		auth:    auth,
	}
}

// each flow has its own run scope, so a rest client is assembled per call
func (c *FlowsClient) rest(scope string) restClient {
	return restClient{
		baseURL: c.baseURL,
		scope:   scope,
		auth:    c.auth,
		client:  c.auth.client,
	}
}

// https://docs.globus.org/api/flows/reference/#run_flow
func (c *FlowsClient) RunFlow(ctx context.Context, flowId uuid.UUID, input map[string]any,
	label string, tags []string) (uuid.UUID, error) {
	type RunRequest struct {
		Body  map[string]any `json:"body"`
		Label string         `json:"label,omitempty"`
		Tags  []string       `json:"tags,omitempty"`
	}
	resource := fmt.Sprintf("flows/%s/run", flowId.String())
	body, err := c.rest(FlowScope(flowId)).post(ctx, resource, RunRequest{
		Body:  input,
		Label: label,
		Tags:  tags,
	})
	if err != nil {
		return uuid.Nil, err
	}
	type RunResponse struct {
		RunId  uuid.UUID `json:"run_id"`
		Status string    `json:"status"`
	}
	var response RunResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return uuid.Nil, err
	}
	if response.RunId == uuid.Nil {
		return uuid.Nil, &MissingIdError{Resource: resource, Message: string(body)}
	}
	return response.RunId, nil
}

// https://docs.globus.org/api/flows/reference/#get_run
func (c *FlowsClient) GetRun(ctx context.Context, runId uuid.UUID) (compute.FlowRun, error) {
	body, err := c.rest(RunStatusScope).get(ctx, fmt.Sprintf("runs/%s", runId.String()), url.Values{})
	if err != nil {
		return compute.FlowRun{}, err
	}
	type RunResponse struct {
		RunId   uuid.UUID      `json:"run_id"`
		Status  string         `json:"status"`
		Details map[string]any `json:"details"`
	}
	var response RunResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return compute.FlowRun{}, err
	}
	status := response.Status
	if status == "ENDED" { // ended without succeeding (e.g. canceled)
		status = compute.StatusFailed
	}
	return compute.FlowRun{
		RunId:   runId,
		Status:  status,
		Details: response.Details,
	}, nil
}
