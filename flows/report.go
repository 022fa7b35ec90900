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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/frictionlessdata/datapackage-go/datapackage"
	"github.com/frictionlessdata/datapackage-go/validator"

	"github.com/als-computing/tierflow/endpoints"
)

// WritePruneReport writes a Frictionless data package describing the
// candidates of a bulk prune to the given directory and returns the path
// of the descriptor. Each candidate is a resource whose path is relative to
// the upstream project's parent (the upstream root).
func WritePruneReport(report PruneReport, dir string) (string, error) {
	upstreamRoot := filepath.Dir(report.UpstreamPath)
	resources := make([]any, 0, len(report.Candidates))
	for i, candidate := range report.Candidates {
		rel, ok := endpoints.Suffix(candidate, upstreamRoot)
		if !ok {
			rel = endpoints.NormalizePath(candidate)
		}
		resources = append(resources, map[string]any{
			"name":          fmt.Sprintf("candidate-%d", i+1),
			"path":          rel,
			"upstream_path": candidate,
		})
	}

	status := "deleted"
	if report.DryRun {
		status = "dry run"
	} else if len(report.Candidates) == 0 {
		status = "nothing to delete"
	}
	descriptor := map[string]any{
		"name":     "prune-report",
		"profile":  "data-package",
		"created":  report.Created.Format(time.RFC3339),
		"keywords": []any{"tierflow", "prune"},
		"description": fmt.Sprintf("Files in %s on %s with copies on %s older than %d days (%s)",
			report.Project, report.Upstream, report.Downstream, report.OlderThanDays, status),
		"resources": resources,
	}
	if len(resources) == 0 {
		// a data package needs at least one resource
		descriptor["resources"] = []any{
			map[string]any{
				"name": "empty",
				"data": []any{},
			},
		}
	}

	pkg, err := datapackage.New(descriptor, dir, validator.InMemoryLoader())
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("prune-%s-%s.json", report.Project, report.Created.Format("20060102T150405"))
	reportFile := filepath.Join(dir, name)
	if err := pkg.SaveDescriptor(reportFile); err != nil {
		return "", fmt.Errorf("creating prune report: %s", err.Error())
	}
	return reportFile, nil
}
