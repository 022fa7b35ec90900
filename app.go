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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/catalog"
	"github.com/als-computing/tierflow/compute"
	"github.com/als-computing/tierflow/config"
	"github.com/als-computing/tierflow/endpoints"
	"github.com/als-computing/tierflow/endpoints/globus"
	"github.com/als-computing/tierflow/endpoints/local"
	"github.com/als-computing/tierflow/flows"
	"github.com/als-computing/tierflow/journal"
	"github.com/als-computing/tierflow/scheduler"
	"github.com/als-computing/tierflow/transfers"
)

// app holds the components assembled from a configuration.
type app struct {
	conf      config.Config
	registry  *endpoints.Registry
	journal   *journal.Journal
	adapter   *transfers.Adapter
	store     *scheduler.Store
	scheduler *scheduler.Scheduler
	runner    *scheduler.Runner
	mover     *flows.Mover
	pruner    *flows.Pruner
}

// sets up the structured log at the configured level
func setUpLogging(conf config.Config) {
	logLevel := new(slog.LevelVar)
	if conf.Service.Debug {
		logLevel.Set(slog.LevelDebug)
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

// creates the transfer, flow, and compute services for the configured
// provider; the flow and compute services are nil unless the reconstruction
// detour is configured
func newServices(conf config.Config) (endpoints.TransferService, compute.FlowService, compute.ComputeService) {
	var transfer endpoints.TransferService
	client := globus.SecureHttpClient(conf.Transfer.MaxWait)
	auth := globus.NewAuthenticator(conf.Globus, client)
	if conf.Transfer.Provider == "local" {
		transfer = local.NewService()
	} else {
		transfer = globus.NewTransferClient(conf, auth)
	}
	if conf.Tiers.Compute == "" {
		return transfer, nil, nil
	}
	return transfer, globus.NewFlowsClient(conf.Globus, auth), globus.NewComputeClient(conf.Globus, auth)
}

// assembles the components described by the given configuration
func newApp(conf config.Config) (*app, error) {
	a := &app{conf: conf}
	var err error
	a.registry, err = endpoints.NewRegistry(conf)
	if err != nil {
		return nil, err
	}

	if err = os.MkdirAll(conf.Service.DataDirectory, 0755); err != nil {
		return nil, err
	}
	a.journal, err = journal.Open(conf.JournalPath())
	if err != nil {
		return nil, err
	}
	a.store, err = scheduler.OpenStore(conf.Scheduler.Database)
	if err != nil {
		a.journal.Close()
		return nil, err
	}
	a.scheduler = scheduler.New(a.store)

	transfer, flowService, computeService := newServices(conf)
	a.adapter = transfers.NewAdapter(conf.Transfer, transfer, a.journal)
	var trigger *compute.Trigger
	if conf.Tiers.Compute != "" && (conf.Compute.FlowId != uuid.Nil || conf.Compute.FunctionId != uuid.Nil) {
		trigger = compute.NewTrigger(conf.Compute, flowService, computeService, a.journal)
	}

	a.mover, err = flows.NewMover(conf, flows.MoverServices{
		Registry:  a.registry,
		Hopper:    transfers.NewHopper(a.adapter),
		Trigger:   trigger,
		Catalog:   catalog.New(conf.Catalog),
		Scheduler: a.scheduler,
		Settings:  flows.NewSettingsSource(conf.Retention),
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pruner = flows.NewPruner(a.registry, transfer)

	a.runner, err = scheduler.NewRunner(conf.Scheduler, a.store, time.Now())
	if err != nil {
		a.Close()
		return nil, err
	}
	flows.RegisterHandlers(a.runner, a.pruner)

	slog.Debug(fmt.Sprintf("Assembled %s with %s transfers and endpoints %v", conf.Service.Name,
		conf.Transfer.Provider, a.registry.Names()))
	return a, nil
}

// a transfer service that can find tasks by label
type taskLister interface {
	ActiveTasks(ctx context.Context, label string) ([]uuid.UUID, error)
}

// reconciles the journal's submitted transfers with the tasks still running
// under this service's label
func (a *app) reconcileJournal(ctx context.Context) {
	var active []uuid.UUID
	if lister, ok := a.adapter.Service().(taskLister); ok {
		tasks, err := lister.ActiveTasks(ctx, a.conf.Transfer.Label)
		if err != nil {
			slog.Error(fmt.Sprintf("Couldn't list active transfer tasks: %s", err))
			return
		}
		active = tasks
	}
	recon, err := a.adapter.Reconcile(ctx, active)
	if err != nil {
		slog.Error(fmt.Sprintf("Couldn't reconcile transfer journal: %s", err))
		return
	}
	slog.Info(fmt.Sprintf("Transfer journal: %d resumable, %d succeeded, %d failed",
		recon.Resumable, recon.Succeeded, recon.Failed))
	for _, id := range recon.Untracked {
		slog.Info(fmt.Sprintf("Active transfer task %s labeled %s has no journal record",
			id.String(), a.conf.Transfer.Label))
	}
}

// releases the app's databases
func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.journal != nil {
		a.journal.Close()
	}
}
