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
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/catalog"
	"github.com/als-computing/tierflow/compute"
	"github.com/als-computing/tierflow/config"
	"github.com/als-computing/tierflow/endpoints"
	"github.com/als-computing/tierflow/journal"
	"github.com/als-computing/tierflow/metrics"
	"github.com/als-computing/tierflow/scheduler"
	"github.com/als-computing/tierflow/transfers"
)

// hop names, used in journal tokens and metrics
const (
	HopAcquisitionToStaging = "acquisition->staging"
	HopToCompute            = "source->compute"
	HopFromCompute          = "compute->return"
	HopStagingToArchive     = "staging->archive"
)

// Scheduler defers flow runs.
type Scheduler interface {
	ScheduleFlow(ctx context.Context, request scheduler.Request) (scheduler.Job, bool, error)
}

// MoveOptions controls the hops taken by a move. The zero value moves a
// file to staging only; use DefaultMoveOptions for the usual pipeline.
type MoveOptions struct {
	// export-controlled data never leaves the staging tier
	ExportControlled bool `json:"export_controlled"`
	// copy the file to the archive tier and catalog it
	SendToArchive bool `json:"send_to_archive"`
	// run a reconstruction at the compute facility
	SendToCompute bool `json:"send_to_compute"`
	// idempotency key for the run (default: the relative path)
	RunKey string `json:"run_key,omitempty"`
}

// DefaultMoveOptions returns the options for an ordinary move: archive the
// file, skip reconstruction.
func DefaultMoveOptions() MoveOptions {
	return MoveOptions{SendToArchive: true}
}

// HopReport records the outcome of one hop.
type HopReport struct {
	Name        string    `json:"name"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Path        string    `json:"path"`
	Success     bool      `json:"success"`
	Kind        string    `json:"kind"`
	Message     string    `json:"message,omitempty"`
	TaskId      uuid.UUID `json:"task_id"`
}

// ReconstructionReport records the outcome of a reconstruction.
type ReconstructionReport struct {
	Success bool           `json:"success"`
	Kind    string         `json:"kind"`
	Message string         `json:"message,omitempty"`
	RunId   uuid.UUID      `json:"run_id"`
	Status  string         `json:"status"`
	Details map[string]any `json:"details,omitempty"`
}

// MoveReport describes everything a move did.
type MoveReport struct {
	FilePath     string                `json:"file_path"`
	RelativePath string                `json:"relative_path"`
	RunKey       string                `json:"run_key"`
	Hops         []HopReport           `json:"hops"`
	Reconstruct  *ReconstructionReport `json:"reconstruction,omitempty"`
	Ingested     bool                  `json:"ingested"`
	IngestError  string                `json:"ingest_error,omitempty"`
	Jobs         []scheduler.Job       `json:"jobs"`
	// steps that were skipped, and why
	Skipped []string `json:"skipped,omitempty"`
}

func (r *MoveReport) addHop(name string, source, destination endpoints.Endpoint, p string,
	result transfers.Result) {
	r.Hops = append(r.Hops, HopReport{
		Name:        name,
		Source:      source.Name,
		Destination: destination.Name,
		Path:        p,
		Success:     result.Success,
		Kind:        result.Kind.String(),
		Message:     result.Message,
		TaskId:      result.TaskId,
	})
}

func (r *MoveReport) skip(format string, args ...any) {
	note := fmt.Sprintf(format, args...)
	slog.Info(note)
	r.Skipped = append(r.Skipped, note)
}

// Mover carries files from the acquisition tier through the rest of the
// pipeline.
type Mover struct {
	registry    *endpoints.Registry
	hopper      *transfers.Hopper
	trigger     *compute.Trigger
	catalog     catalog.Service
	scheduler   Scheduler
	settings    SettingsSource
	stripPrefix string
	compute     config.ComputeConfig
	ingestor    string

	acquisition, staging, archive endpoints.Endpoint
}

// MoverServices holds the collaborators of a Mover. The Trigger may be nil
// if reconstructions are not configured.
type MoverServices struct {
	Registry  *endpoints.Registry
	Hopper    *transfers.Hopper
	Trigger   *compute.Trigger
	Catalog   catalog.Service
	Scheduler Scheduler
	Settings  SettingsSource
}

// NewMover creates a Mover. The acquisition, staging, and archive tiers must
// be assigned.
func NewMover(conf config.Config, services MoverServices) (*Mover, error) {
	m := &Mover{
		registry:    services.Registry,
		hopper:      services.Hopper,
		trigger:     services.Trigger,
		catalog:     services.Catalog,
		scheduler:   services.Scheduler,
		settings:    services.Settings,
		stripPrefix: conf.Paths.StripPrefix,
		compute:     conf.Compute,
		ingestor:    conf.Catalog.Ingestor,
	}
	if m.catalog == nil {
		m.catalog = catalog.Disabled{}
	}
	var err error
	if m.acquisition, err = m.registry.Tier(endpoints.Acquisition); err != nil {
		return nil, err
	}
	if m.staging, err = m.registry.Tier(endpoints.Staging); err != nil {
		return nil, err
	}
	if m.archive, err = m.registry.Tier(endpoints.Archive); err != nil {
		return nil, err
	}
	return m, nil
}

// RelativePath returns the tier-relative path for a file path reported by
// the acquisition system.
func (m *Mover) RelativePath(filePath string) string {
	return endpoints.StripPrefix(filePath, m.stripPrefix)
}

// MoveFile copies a newly acquired file to the staging tier and, depending
// on the options, on to the compute facility and the archive tier, then
// schedules the pruning of the upstream copies. If the staging hop fails,
// nothing else happens and a HopFailedError is returned. Later failures are
// recorded in the report.
func (m *Mover) MoveFile(ctx context.Context, filePath string, opts MoveOptions) (MoveReport, error) {
	rel := m.RelativePath(filePath)
	report := MoveReport{
		FilePath:     filePath,
		RelativePath: rel,
		RunKey:       opts.RunKey,
		Hops:         make([]HopReport, 0),
		Jobs:         make([]scheduler.Job, 0),
	}
	if report.RunKey == "" {
		report.RunKey = rel
	}
	slog.Info(fmt.Sprintf("Starting move of %s", filePath))

	// hop 1 is mandatory
	slog.Info(fmt.Sprintf("Transferring %s from %s to %s", rel, m.acquisition.Name, m.staging.Name))
	result := m.hopper.Hop(ctx, transfers.Step{RunKey: report.RunKey, Name: HopAcquisitionToStaging},
		rel, m.acquisition, m.staging)
	report.addHop(HopAcquisitionToStaging, m.acquisition, m.staging, rel, result)
	if !result.Success {
		return report, &HopFailedError{Hop: HopAcquisitionToStaging, Result: result.Result}
	}

	switch {
	case !opts.SendToCompute:
	case opts.ExportControlled:
		report.skip("Not reconstructing export-controlled %s", rel)
	default:
		m.reconstruct(ctx, rel, &report)
	}

	// the staging copy is only pruned once an archive copy exists
	var archived bool
	switch {
	case !opts.SendToArchive:
		report.skip("Not archiving %s", rel)
		archived = m.isArchived(ctx, rel)
	case opts.ExportControlled:
		report.skip("Not archiving export-controlled %s", rel)
		archived = m.isArchived(ctx, rel)
	default:
		archived = m.archiveFile(ctx, rel, &report)
	}

	if err := m.scheduleCleanup(ctx, rel, archived, &report); err != nil {
		return report, err
	}
	slog.Info(fmt.Sprintf("Finished move of %s", filePath))
	return report, nil
}

// the compute detour: send the raw input to the compute tier, reconstruct,
// and return the output; a failed step skips the rest of the detour
func (m *Mover) reconstruct(ctx context.Context, rel string, report *MoveReport) {
	if m.trigger == nil {
		report.skip("Not reconstructing %s: no compute service is configured", rel)
		return
	}
	computeEp, err := m.registry.Tier(endpoints.Compute)
	if err != nil {
		report.skip("Not reconstructing %s: %s", rel, err.Error())
		return
	}
	source, err := m.registry.Endpoint(m.compute.SourceEndpoint)
	if err != nil {
		report.skip("Not reconstructing %s: %s", rel, err.Error())
		return
	}
	destination, err := m.registry.Endpoint(m.compute.ReturnEndpoint)
	if err != nil {
		report.skip("Not reconstructing %s: %s", rel, err.Error())
		return
	}

	input := rel
	if !strings.HasSuffix(rel, m.compute.InputSuffix) {
		input += m.compute.InputSuffix
	}
	slog.Info(fmt.Sprintf("Transferring %s from %s to %s", input, source.Name, computeEp.Name))
	result := m.hopper.Hop(ctx, transfers.Step{RunKey: report.RunKey, Name: HopToCompute},
		input, source, computeEp)
	report.addHop(HopToCompute, source, computeEp, input, result)
	if !result.Success {
		report.skip("Not reconstructing %s: transfer to %s failed", rel, computeEp.Name)
		return
	}

	name := strings.TrimSuffix(path.Base(rel), m.compute.InputSuffix)
	output := path.Join(m.compute.OutputDirectory, path.Dir(rel), m.compute.OutputPrefix+name) + "/"
	kwargs := make(map[string]any, len(m.compute.FunctionKwargs)+1)
	for k, v := range m.compute.FunctionKwargs {
		kwargs[k] = v
	}
	kwargs["rundir"] = computeEp.FullPath(path.Dir(input))

	slog.Info(fmt.Sprintf("Running reconstruction of %s on %s", input, computeEp.Name))
	recon := m.trigger.RunReconstruction(ctx, report.RunKey, compute.Invocation{
		ComputeEndpointId: m.compute.EndpointId,
		FunctionId:        m.compute.FunctionId,
		FunctionKwargs:    kwargs,
		Source:            compute.Collection{Id: computeEp.Id, Path: computeEp.FullPath(input)},
		Destination:       compute.Collection{Id: computeEp.Id, Path: computeEp.FullPath(output)},
		Recursive:         true,
	})
	report.Reconstruct = &ReconstructionReport{
		Success: recon.Success,
		Kind:    recon.Kind.String(),
		Message: recon.Message,
		RunId:   recon.RunId,
		Status:  recon.Status,
		Details: recon.Details,
	}
	if !recon.Success {
		report.skip("Not returning reconstruction of %s: reconstruction failed", rel)
		return
	}

	slog.Info(fmt.Sprintf("Transferring %s from %s to %s", output, computeEp.Name, destination.Name))
	result = m.hopper.Hop(ctx, transfers.Step{RunKey: report.RunKey, Name: HopFromCompute},
		output, computeEp, destination)
	report.addHop(HopFromCompute, computeEp, destination, output, result)
}

// copies the file to the archive tier and catalogs it, returning true if
// the archive copy exists
func (m *Mover) archiveFile(ctx context.Context, rel string, report *MoveReport) bool {
	slog.Info(fmt.Sprintf("Transferring %s from %s to %s", rel, m.staging.Name, m.archive.Name))
	result := m.hopper.Hop(ctx, transfers.Step{RunKey: report.RunKey, Name: HopStagingToArchive},
		rel, m.staging, m.archive)
	report.addHop(HopStagingToArchive, m.staging, m.archive, rel, result)
	if !result.Success {
		return false
	}

	// cataloging is best-effort
	slog.Info(fmt.Sprintf("Ingesting %s with %s", rel, m.ingestor))
	if err := m.catalog.Ingest(ctx, rel, m.ingestor); err != nil {
		slog.Error(fmt.Sprintf("Catalog ingest failed with %s", err.Error()))
		metrics.IngestFailures.Inc()
		report.IngestError = err.Error()
	} else {
		report.Ingested = true
	}
	return true
}

// returns true if a copy of the file already exists on the archive tier
func (m *Mover) isArchived(ctx context.Context, rel string) bool {
	_, found, err := m.hopper.Adapter().Service().FileObject(ctx, m.archive, m.archive.FullPath(rel))
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't check %s for %s: %s", m.archive.Name, rel, err.Error()))
		return false
	}
	return found
}

// schedules the deferred pruning of the upstream copies
func (m *Mover) scheduleCleanup(ctx context.Context, rel string, archived bool, report *MoveReport) error {
	retention, err := m.settings.Retention(ctx)
	if err != nil {
		slog.Error(fmt.Sprintf("Not scheduling cleanup of %s: %s", rel, err.Error()))
		return err
	}

	job, err := m.schedulePrune(ctx, FlowPruneAcquisition, m.acquisition, rel,
		retention.AcquisitionDays, report.RunKey)
	if err != nil {
		return err
	}
	report.Jobs = append(report.Jobs, job)

	if !archived {
		report.skip("Not scheduling deletion of %s from %s: no copy on %s", rel,
			m.staging.Name, m.archive.Name)
		return nil
	}
	job, err = m.schedulePrune(ctx, FlowPruneStaging, m.staging, rel,
		retention.StagingDays, report.RunKey)
	if err != nil {
		return err
	}
	report.Jobs = append(report.Jobs, job)
	return nil
}

func (m *Mover) schedulePrune(ctx context.Context, flow string, ep endpoints.Endpoint,
	rel string, days int, runKey string) (scheduler.Job, error) {
	delay := time.Duration(days) * 24 * time.Hour
	job, _, err := m.scheduler.ScheduleFlow(ctx, scheduler.Request{
		Flow:    flow,
		RunName: fmt.Sprintf("delete %s: %s", ep.Name, path.Base(rel)),
		Key:     journal.Token(runKey, flow, rel).String(),
		Params: scheduler.Params{
			"relative_path":   rel,
			"older_than_days": days,
		},
		Delay: delay,
	})
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't schedule deletion of %s from %s: %s", rel, ep.Name, err.Error()))
		return scheduler.Job{}, err
	}
	slog.Info(fmt.Sprintf("Scheduled delete from %s at %s", ep.Name, delay))
	return job, nil
}
