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

package flows

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/als-computing/tierflow/endpoints"
	"github.com/als-computing/tierflow/scheduler"
)

// names of the flows run by deferred jobs
const (
	// deletes a file from the acquisition tier once it is on the staging tier
	FlowPruneAcquisition = "prune_acquisition"
	// deletes a file from the staging tier once it is on the archive tier
	FlowPruneStaging = "prune_staging"
	// deletes the files of a project directory that have downstream copies
	FlowPruneDirectory = "prune_directory"
)

// default threshold for bulk prunes
const defaultDirectoryPruneDays = 30

// Registrar associates flow names with job handlers.
type Registrar interface {
	Register(flow string, handler scheduler.Handler)
}

// RegisterHandlers registers handlers for the prune flows.
func RegisterHandlers(r Registrar, pruner *Pruner) {
	r.Register(FlowPruneAcquisition, pruneFileHandler(pruner, endpoints.Acquisition, endpoints.Staging))
	r.Register(FlowPruneStaging, pruneFileHandler(pruner, endpoints.Staging, endpoints.Archive))
	r.Register(FlowPruneDirectory, pruneDirectoryHandler(pruner))
}

// prunes the file named by the relative_path parameter if it is at least
// older_than_days old (default: 0)
func pruneFileHandler(pruner *Pruner, upstream, downstream endpoints.Tier) scheduler.Handler {
	return func(ctx context.Context, params scheduler.Params) error {
		rel, err := params.String("relative_path")
		if err != nil {
			return err
		}
		days := 0
		if _, found := params["older_than_days"]; found {
			if days, err = params.Int("older_than_days"); err != nil {
				return err
			}
		}
		_, err = pruner.PruneFile(ctx, rel, upstream, downstream, days)
		return err
	}
}

// prunes the project directory named by the project parameter; optional
// parameters are upstream and downstream (tier names, default staging and
// archive), older_than_days (default 30), dry_run, and report_directory
func pruneDirectoryHandler(pruner *Pruner) scheduler.Handler {
	return func(ctx context.Context, params scheduler.Params) error {
		project, err := params.String("project")
		if err != nil {
			return err
		}
		upstream, downstream := endpoints.Staging, endpoints.Archive
		if _, found := params["upstream"]; found {
			if upstream, err = tierParam(params, "upstream"); err != nil {
				return err
			}
		}
		if _, found := params["downstream"]; found {
			if downstream, err = tierParam(params, "downstream"); err != nil {
				return err
			}
		}
		days := defaultDirectoryPruneDays
		if _, found := params["older_than_days"]; found {
			if days, err = params.Int("older_than_days"); err != nil {
				return err
			}
		}
		dryRun, err := params.Bool("dry_run", false)
		if err != nil {
			return err
		}

		report, err := pruner.PruneDirectory(ctx, project, upstream, downstream, days, dryRun)
		if err != nil {
			return err
		}
		if dir, found := params["report_directory"]; found && dir != "" {
			dir, err := params.String("report_directory")
			if err != nil {
				return err
			}
			reportFile, err := WritePruneReport(report, dir)
			if err != nil {
				return err
			}
			slog.Info(fmt.Sprintf("Wrote prune report %s", reportFile))
		}
		return nil
	}
}

func tierParam(params scheduler.Params, name string) (endpoints.Tier, error) {
	s, err := params.String(name)
	if err != nil {
		return "", err
	}
	return endpoints.ParseTier(s)
}
