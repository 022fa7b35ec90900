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
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/als-computing/tierflow/endpoints"
	"github.com/als-computing/tierflow/metrics"
)

// PruneFileOutcome describes the result of a single-file prune.
type PruneFileOutcome struct {
	RelativePath string `json:"relative_path"`
	Upstream     string `json:"upstream"`
	Downstream   string `json:"downstream"`
	// age of the upstream copy
	Age time.Duration `json:"age"`
	// true if the upstream copy was deleted
	Pruned bool `json:"pruned"`
	// UUID of the deletion task (if pruned)
	DeleteTaskId uuid.UUID `json:"delete_task_id"`
}

// PruneReport describes the result of a bulk directory prune.
type PruneReport struct {
	Project    string `json:"project"`
	Upstream   string `json:"upstream"`
	Downstream string `json:"downstream"`
	// upstream and downstream project directories
	UpstreamPath   string `json:"upstream_path"`
	DownstreamPath string `json:"downstream_path"`
	OlderThanDays  int    `json:"older_than_days"`
	// numbers of files listed on each tier
	UpstreamFiles   int `json:"upstream_files"`
	DownstreamFiles int `json:"downstream_files"`
	// absolute upstream paths with confirmed downstream copies
	Candidates []string `json:"candidates"`
	DryRun     bool     `json:"dry_run"`
	// UUID of the deletion task (if any files were deleted)
	DeleteTaskId uuid.UUID `json:"delete_task_id"`
	Created      time.Time `json:"created"`
}

// Pruner deletes upstream copies of data that is confirmed to exist on a
// downstream tier.
type Pruner struct {
	registry *endpoints.Registry
	service  endpoints.TransferService
	now      func() time.Time
}

// NewPruner creates a Pruner that inspects and deletes files through the
// given transfer service.
func NewPruner(registry *endpoints.Registry, service endpoints.TransferService) *Pruner {
	return &Pruner{
		registry: registry,
		service:  service,
		now:      time.Now,
	}
}

// resolves the endpoints for a pair of tiers
func (p *Pruner) tiers(upstream, downstream endpoints.Tier) (endpoints.Endpoint, endpoints.Endpoint, error) {
	up, err := p.registry.Tier(upstream)
	if err != nil {
		return endpoints.Endpoint{}, endpoints.Endpoint{}, err
	}
	down, err := p.registry.Tier(downstream)
	if err != nil {
		return endpoints.Endpoint{}, endpoints.Endpoint{}, err
	}
	return up, down, nil
}

// PruneFile deletes the upstream copy of the file with the given relative
// path if it is at least olderThanDays old and a downstream copy exists.
// A younger file is left alone without consulting the downstream tier. A
// missing upstream or downstream copy produces an IntegrityError, and
// nothing is deleted.
func (p *Pruner) PruneFile(ctx context.Context, relPath string,
	upstream, downstream endpoints.Tier, olderThanDays int) (PruneFileOutcome, error) {
	if olderThanDays < 0 {
		return PruneFileOutcome{}, &InvalidThresholdError{Days: olderThanDays}
	}
	up, down, err := p.tiers(upstream, downstream)
	if err != nil {
		return PruneFileOutcome{}, err
	}
	rel := endpoints.NormalizePath(relPath)
	outcome := PruneFileOutcome{
		RelativePath: rel,
		Upstream:     up.Name,
		Downstream:   down.Name,
	}

	upPath := up.FullPath(rel)
	object, found, err := p.service.FileObject(ctx, up, upPath)
	if err != nil {
		return outcome, err
	}
	if !found {
		err := &IntegrityError{Endpoint: up.Name, Path: upPath}
		slog.Error(err.Error())
		return outcome, err
	}
	slog.Info(fmt.Sprintf("File object found on %s", up.Name))

	outcome.Age = object.Age(p.now())
	threshold := time.Duration(olderThanDays) * 24 * time.Hour
	if outcome.Age < threshold {
		slog.Info(fmt.Sprintf("Will not prune, file date %s is newer than %d days",
			object.LastModified.Format(time.RFC3339), olderThanDays))
		return outcome, nil
	}

	downPath := down.FullPath(rel)
	_, found, err = p.service.FileObject(ctx, down, downPath)
	if err != nil {
		return outcome, err
	}
	if !found {
		err := &IntegrityError{Endpoint: down.Name, Path: downPath}
		slog.Error(err.Error())
		return outcome, err
	}
	slog.Info(fmt.Sprintf("File object found on %s", down.Name))

	outcome.DeleteTaskId, err = p.service.Delete(ctx, up, []string{upPath})
	if err != nil {
		return outcome, err
	}
	outcome.Pruned = true
	metrics.PrunedFiles.WithLabelValues(string(upstream)).Inc()
	slog.Info(fmt.Sprintf("Deleted %s from %s (task %s)", upPath, up.Name, outcome.DeleteTaskId.String()))
	return outcome, nil
}

// PruneDirectory deletes the files within the named project directory on
// the upstream tier that are at least olderThanDays old and have copies of
// the same age on the downstream tier. The project directory must be an
// entry of the upstream root with exactly the given name. If dryRun is set,
// candidates are reported but nothing is deleted.
func (p *Pruner) PruneDirectory(ctx context.Context, projectDir string,
	upstream, downstream endpoints.Tier, olderThanDays int, dryRun bool) (PruneReport, error) {
	if olderThanDays < 0 {
		return PruneReport{}, &InvalidThresholdError{Days: olderThanDays}
	}
	up, down, err := p.tiers(upstream, downstream)
	if err != nil {
		return PruneReport{}, err
	}
	report := PruneReport{
		Project:       projectDir,
		Upstream:      up.Name,
		Downstream:    down.Name,
		OlderThanDays: olderThanDays,
		DryRun:        dryRun,
		Created:       p.now(),
	}

	entries, err := p.service.ListDirectory(ctx, up, up.Root)
	if err != nil {
		return report, err
	}
	found := false
	for _, entry := range entries {
		if entry.Name == projectDir {
			found = true
			break
		}
	}
	if !found || projectDir == "" {
		return report, &ProjectNotFoundError{Project: projectDir, Endpoint: up.Name}
	}
	slog.Info(fmt.Sprintf("Found project dir %s", projectDir))
	report.UpstreamPath = up.FullPath(projectDir)
	report.DownstreamPath = down.FullPath(projectDir)

	// list both tiers at once; the candidate set needs both listings
	var upFiles, downFiles []string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info(fmt.Sprintf("Getting files from %s", up.Name))
		var err error
		upFiles, err = p.service.ListFiles(gctx, up, report.UpstreamPath, olderThanDays)
		return err
	})
	g.Go(func() error {
		slog.Info(fmt.Sprintf("Getting files from %s", down.Name))
		var err error
		downFiles, err = p.service.ListFiles(gctx, down, report.DownstreamPath, olderThanDays)
		return err
	})
	if err := g.Wait(); err != nil {
		return report, err
	}
	report.UpstreamFiles, report.DownstreamFiles = len(upFiles), len(downFiles)
	slog.Info(fmt.Sprintf("Found files. %s: %d  %s: %d", up.Name, len(upFiles), down.Name, len(downFiles)))

	report.Candidates = PruneCandidates(upFiles, up.Root, downFiles, down.Root)
	slog.Info(fmt.Sprintf("Pruning %d files", len(report.Candidates)))
	if dryRun || len(report.Candidates) == 0 {
		return report, nil
	}
	report.DeleteTaskId, err = p.service.Delete(ctx, up, report.Candidates)
	if err != nil {
		return report, err
	}
	metrics.PrunedFiles.WithLabelValues(string(upstream)).Add(float64(len(report.Candidates)))
	slog.Info(fmt.Sprintf("Deleted %d files from %s (task %s)", len(report.Candidates), up.Name,
		report.DeleteTaskId.String()))
	return report, nil
}

// PruneCandidates returns the upstream files whose counterparts (the same
// path relative to the downstream root) appear in the downstream listing,
// in upstream order. Upstream files outside the upstream root are never
// candidates.
func PruneCandidates(upstreamFiles []string, upstreamRoot string,
	downstreamFiles []string, downstreamRoot string) []string {
	downstream := make(map[string]bool, len(downstreamFiles))
	for _, f := range downstreamFiles {
		downstream[f] = true
	}
	downstreamRoot = strings.TrimRight(downstreamRoot, "/")

	candidates := make([]string, 0)
	seen := make(map[string]bool)
	for _, f := range upstreamFiles {
		suffix, ok := endpoints.Suffix(f, upstreamRoot)
		if !ok || suffix == "" || seen[f] {
			continue
		}
		if downstream[downstreamRoot+"/"+suffix] {
			candidates = append(candidates, f)
			seen[f] = true
		}
	}
	return candidates
}
