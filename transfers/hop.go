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

package transfers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/endpoints"
	"github.com/als-computing/tierflow/journal"
	"github.com/als-computing/tierflow/metrics"
	"github.com/als-computing/tierflow/results"
)

// Step identifies a hop within a run. Hops with a run key are journaled so
// that repeating the run resumes or skips them; a zero Step is never
// journaled.
type Step struct {
	RunKey string
	Name   string
}

// Hopper moves tier-relative paths between endpoints.
type Hopper struct {
	adapter *Adapter
}

// NewHopper creates a Hopper that transfers through the given adapter.
func NewHopper(adapter *Adapter) *Hopper {
	return &Hopper{adapter: adapter}
}

// Hop transfers filePath (relative to the endpoint roots) from source to
// destination and waits for the outcome. A path ending in "/" is transferred
// as a directory. Failures of any kind are returned in the result.
func (h *Hopper) Hop(ctx context.Context, step Step, filePath string,
	source, destination endpoints.Endpoint) Result {
	hopName := step.Name
	if hopName == "" {
		hopName = fmt.Sprintf("%s->%s", source.Name, destination.Name)
	}
	rel := endpoints.NormalizePath(filePath)
	if rel == "" {
		err := &EmptyPathError{}
		slog.Error(fmt.Sprintf("%s: %s", hopName, err.Error()))
		metrics.Hops.WithLabelValues(hopName, results.Submission.String()).Inc()
		return Result{Result: results.Fail(results.Submission, "%s", err.Error())}
	}

	sourcePath := source.FullPath(rel)
	destPath := destination.FullPath(rel)
	slog.Info(fmt.Sprintf("Transferring %s:%s to %s:%s", source.Name, sourcePath,
		destination.Name, destPath))

	var token uuid.UUID
	if step.RunKey != "" {
		token = journal.Token(step.RunKey, hopName, source.Name+":"+sourcePath,
			destination.Name+":"+destPath)
	}
	start := time.Now()
	result := h.adapter.Transfer(ctx, token, journal.Record{
		RunKey:      step.RunKey,
		Hop:         hopName,
		Source:      source.Name + ":" + sourcePath,
		Destination: destination.Name + ":" + destPath,
	}, endpoints.TransferRequest{
		Source:          source,
		SourcePath:      sourcePath,
		Destination:     destination,
		DestinationPath: destPath,
		Recursive:       strings.HasSuffix(rel, "/"),
	})
	metrics.HopDuration.WithLabelValues(hopName).Observe(time.Since(start).Seconds())
	metrics.Hops.WithLabelValues(hopName, result.Kind.String()).Inc()

	if result.Success {
		slog.Info(fmt.Sprintf("%s: transferred %s (task %s)", hopName, rel, result.TaskId.String()))
	} else {
		slog.Error(fmt.Sprintf("%s: transfer of %s failed (%s): %s", hopName, rel,
			result.Kind, result.Message))
	}
	return result
}

// Transfer is Hop reduced to its success flag.
func (h *Hopper) Transfer(ctx context.Context, step Step, filePath string,
	source, destination endpoints.Endpoint) bool {
	return h.Hop(ctx, step, filePath, source, destination).Success
}

// Adapter returns the adapter used for transfers.
func (h *Hopper) Adapter() *Adapter {
	return h.adapter
}
