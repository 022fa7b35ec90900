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
	"time"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/flows"
	"github.com/als-computing/tierflow/scheduler"
)

// Service defines the interface for the tierflow HTTP API.
type Service interface {
	// Starts the service on the selected port, returning an error that indicates
	// success or failure.
	Start(port int) error
	// Gracefully shuts down the service without interrupting active connections.
	Shutdown(ctx context.Context) error
	// Closes down the service, freeing all resources.
	Close()
}

// this type encodes a JSON object for responding to root queries
type ServiceInfoResponse struct {
	Name          string   `json:"name" example:"tierflow" doc:"The name of the service API"`
	Version       string   `json:"version" example:"1.0.0" doc:"The version string (major.minor.patch)"`
	Uptime        int      `json:"uptime" example:"345600" doc:"The time the service has been up (seconds)"`
	Documentation string   `json:"documentation" example:"/docs" doc:"The OpenAPI documentation endpoint"`
	Endpoints     []string `json:"endpoints" doc:"The names of the configured endpoints"`
}

// a request to move a file through the pipeline (POST)
type MoveRequest struct {
	FilePath         string `json:"file_path" example:"/global/raw/run001/scan.h5" doc:"path of the new file on the acquisition tier"`
	ExportControlled bool   `json:"export_controlled,omitempty" doc:"keep the file on the staging tier"`
	SendToArchive    *bool  `json:"send_to_archive,omitempty" doc:"copy the file to the archive tier (default: true)"`
	SendToCompute    bool   `json:"send_to_compute,omitempty" doc:"run a reconstruction at the compute facility"`
	RunKey           string `json:"run_key,omitempty" doc:"idempotency key for the move (default: the relative path)"`
}

// converts a move request to the options for the mover
func (r MoveRequest) options() flows.MoveOptions {
	opts := flows.DefaultMoveOptions()
	opts.ExportControlled = r.ExportControlled
	opts.SendToCompute = r.SendToCompute
	opts.RunKey = r.RunKey
	if r.SendToArchive != nil {
		opts.SendToArchive = *r.SendToArchive
	}
	return opts
}

// a response for a move request (POST)
type MoveResponse struct {
	Id uuid.UUID `json:"id" doc:"a UUID for the requested move"`
}

// a response for a move status request (GET)
type MoveStatusResponse struct {
	Id       uuid.UUID         `json:"id"`
	FilePath string            `json:"file_path"`
	Status   string            `json:"status" enum:"running,succeeded,failed"`
	Message  string            `json:"message,omitempty"`
	Started  time.Time         `json:"started"`
	Finished *time.Time        `json:"finished,omitempty"`
	Report   *flows.MoveReport `json:"report,omitempty"`
}

// a request to prune a single file (POST)
type PruneFileRequest struct {
	RelativePath  string `json:"relative_path" example:"run001/scan.h5" doc:"path relative to the tier roots"`
	Upstream      string `json:"upstream" example:"acquisition" doc:"tier holding the copy to delete"`
	Downstream    string `json:"downstream" example:"staging" doc:"tier that must hold a copy"`
	OlderThanDays int    `json:"older_than_days" minimum:"0" doc:"minimum age of the upstream copy"`
}

// a request to prune a project directory (POST)
type PruneDirectoryRequest struct {
	Project       string `json:"project" example:"mihme" doc:"name of a directory under the upstream root"`
	Upstream      string `json:"upstream" example:"staging" doc:"tier holding the copies to delete"`
	Downstream    string `json:"downstream" example:"archive" doc:"tier that must hold copies"`
	OlderThanDays int    `json:"older_than_days" minimum:"0" doc:"minimum age of the files on both tiers"`
	DryRun        bool   `json:"dry_run,omitempty" doc:"report candidates without deleting them"`
	WriteReport   bool   `json:"write_report,omitempty" doc:"write a data package describing the candidates"`
}

// a response for a directory prune (POST)
type PruneDirectoryResponse struct {
	flows.PruneReport
	ReportFile string `json:"report_file,omitempty" doc:"location of the written report"`
}

// a response listing deferred jobs (GET)
type JobsResponse struct {
	Jobs []scheduler.Job `json:"jobs"`
}
