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

package config

import (
	"time"

	"github.com/google/uuid"
)

const (
	globusAuthURL     = "https://auth.globus.org"
	globusTransferURL = "https://transfer.api.globusonline.org"
	globusFlowsURL    = "https://flows.globus.org"
	globusComputeURL  = "https://compute.api.globus.org"
)

// Globus confidential client credentials and service URLs
type GlobusConfig struct {
	ClientId     uuid.UUID `yaml:"client_id"`
	ClientSecret string    `yaml:"client_secret"`
	// base URLs (overridden in tests)
	AuthURL     string `yaml:"auth_url"`
	TransferURL string `yaml:"transfer_url"`
	FlowsURL    string `yaml:"flows_url"`
	ComputeURL  string `yaml:"compute_url"`
}

// parameters for the remote reconstruction detour
type ComputeConfig struct {
	// "flow" runs a managed transfer-compute-transfer flow; "function" submits
	// the reconstruction function directly to the compute endpoint
	Mode string `yaml:"mode"`
	// UUID of the registered reconstruction flow
	FlowId uuid.UUID `yaml:"flow_id"`
	// compute endpoint and function UUIDs
	EndpointId uuid.UUID `yaml:"endpoint_id"`
	FunctionId uuid.UUID `yaml:"function_id"`
	// keyword arguments passed to the reconstruction function
	FunctionKwargs map[string]any `yaml:"function_kwargs"`
	// endpoint from which raw data is sent to the compute tier (default: staging tier)
	SourceEndpoint string `yaml:"source_endpoint"`
	// endpoint that receives reconstructed output (default: archive tier)
	ReturnEndpoint string `yaml:"return_endpoint"`
	// suffix appended to a relative path to name the raw input file
	InputSuffix string `yaml:"input_suffix"`
	// directory (relative to endpoint roots) holding reconstructed output
	OutputDirectory string `yaml:"output_directory"`
	// prefix prepended to a dataset's name to name its reconstruction
	OutputPrefix string `yaml:"output_prefix"`
	// label and tags attached to flow runs
	Label string   `yaml:"label"`
	Tags  []string `yaml:"tags"`
	// status polling interval and ceiling
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxWait      time.Duration `yaml:"max_wait"`
}

// parameters for the deferred job scheduler
type SchedulerConfig struct {
	// sqlite database holding scheduled jobs (default: <data_directory>/scheduler.db)
	Database string `yaml:"database"`
	// interval at which due jobs are collected
	PollInterval time.Duration `yaml:"poll_interval"`
	// number of jobs run concurrently
	Concurrency int `yaml:"concurrency"`
	// jobs run on a cron schedule (e.g. periodic bulk prunes)
	Periodic []PeriodicJobConfig `yaml:"periodic"`
}

type PeriodicJobConfig struct {
	Name   string         `yaml:"name"`
	Cron   string         `yaml:"cron"`
	Flow   string         `yaml:"flow"`
	Params map[string]any `yaml:"params"`
}
