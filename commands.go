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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/als-computing/tierflow/auth"
	"github.com/als-computing/tierflow/config"
	"github.com/als-computing/tierflow/endpoints"
	"github.com/als-computing/tierflow/flows"
	"github.com/als-computing/tierflow/services"
)

const defaultConfigPath = "tierflow.yaml"

// time allowed for connections and moves to finish on shutdown
const shutdownTimeout = 30 * time.Second

func newRootCommand() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "tierflow",
		Short:         "Moves beamline data between storage tiers and prunes old copies",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "configuration file")

	// reads the configuration and assembles the app for a subcommand
	load := func() (*app, error) {
		conf, err := config.Read(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading configuration %s: %w", configPath, err)
		}
		setUpLogging(conf)
		return newApp(conf)
	}

	root.AddCommand(
		newServeCommand(load),
		newMoveCommand(load),
		newPruneFileCommand(load),
		newPruneDirectoryCommand(load),
		newJobsCommand(load),
		newRunDueCommand(load),
	)
	return root
}

type loader func() (*app, error)

// writes a value to the command's output as indented JSON
func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func newServeCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the HTTP API and the job runner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			authenticator, err := auth.NewAuthenticator(a.conf.Service)
			if err != nil {
				return fmt.Errorf("reading access file: %w", err)
			}
			service, err := services.NewService(a.conf, services.Dependencies{
				Registry:      a.registry,
				Mover:         a.mover,
				Pruner:        a.pruner,
				Jobs:          a.scheduler,
				Authenticator: authenticator,
			})
			if err != nil {
				return err
			}

			ctx, stop := context.WithCancel(context.Background())
			defer stop()
			a.reconcileJournal(ctx)
			runnerDone := make(chan error, 1)
			go func() {
				runnerDone <- a.runner.Run(ctx)
			}()

			// Start the service in a goroutine so it doesn't block.
			serviceDone := make(chan error, 1)
			go func() {
				serviceDone <- service.Start(a.conf.Service.Port)
			}()

			// Intercept the SIGINT, SIGHUP, SIGTERM, and SIGQUIT signals, shutting
			// down the service as gracefully as possible if they are encountered.
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan,
				syscall.SIGINT,
				syscall.SIGHUP,
				syscall.SIGTERM,
				syscall.SIGQUIT)
			defer signal.Stop(sigChan)

			var serveErr error
			select {
			case <-sigChan:
			case serveErr = <-serviceDone:
			case serveErr = <-runnerDone:
			}

			// Wait for connections to close until the deadline elapses.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := service.Shutdown(shutdownCtx); err != nil {
				slog.Error(fmt.Sprintf("Shutting down: %s", err))
			}
			stop()
			slog.Info("Shutting down")
			return serveErr
		},
	}
}

func newMoveCommand(load loader) *cobra.Command {
	opts := flows.DefaultMoveOptions()
	var noArchive bool
	command := &cobra.Command{
		Use:   "move <file>",
		Short: "Moves a new file from the acquisition tier through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			if noArchive {
				opts.SendToArchive = false
			}
			report, err := a.mover.MoveFile(cmd.Context(), args[0], opts)
			if writeErr := writeJSON(cmd.OutOrStdout(), report); writeErr != nil {
				return writeErr
			}
			return err
		},
	}
	command.Flags().BoolVar(&opts.ExportControlled, "export-control", false,
		"keep the file on the staging tier")
	command.Flags().BoolVar(&noArchive, "no-archive", false, "skip the archive tier")
	command.Flags().BoolVar(&opts.SendToCompute, "compute", false,
		"run a reconstruction at the compute facility")
	command.Flags().StringVar(&opts.RunKey, "run-key", "",
		"idempotency key for the move (default: the relative path)")
	return command
}

// registers --upstream, --downstream, and --older-than flags
func tierFlags(command *cobra.Command, upstream, downstream *string, days *int,
	defaultUpstream, defaultDownstream endpoints.Tier, defaultDays int) {
	command.Flags().StringVar(upstream, "upstream", string(defaultUpstream),
		"tier holding the copies to delete")
	command.Flags().StringVar(downstream, "downstream", string(defaultDownstream),
		"tier that must hold copies")
	command.Flags().IntVar(days, "older-than", defaultDays, "minimum age in days")
}

func parseTiers(upstream, downstream string) (endpoints.Tier, endpoints.Tier, error) {
	up, err := endpoints.ParseTier(upstream)
	if err != nil {
		return "", "", err
	}
	down, err := endpoints.ParseTier(downstream)
	if err != nil {
		return "", "", err
	}
	return up, down, nil
}

func newPruneFileCommand(load loader) *cobra.Command {
	var upstream, downstream string
	var days int
	command := &cobra.Command{
		Use:   "prune-file <relative-path>",
		Short: "Deletes an upstream copy of a file that exists downstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			up, down, err := parseTiers(upstream, downstream)
			if err != nil {
				return err
			}
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			outcome, err := a.pruner.PruneFile(cmd.Context(), args[0], up, down, days)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), outcome)
		},
	}
	tierFlags(command, &upstream, &downstream, &days, endpoints.Acquisition, endpoints.Staging, 7)
	return command
}

func newPruneDirectoryCommand(load loader) *cobra.Command {
	var upstream, downstream, reportDir string
	var days int
	var dryRun bool
	command := &cobra.Command{
		Use:   "prune-dir <project>",
		Short: "Deletes upstream files of a project directory that exist downstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			up, down, err := parseTiers(upstream, downstream)
			if err != nil {
				return err
			}
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.pruner.PruneDirectory(cmd.Context(), args[0], up, down, days, dryRun)
			if err != nil {
				return err
			}
			if reportDir != "" {
				reportFile, err := flows.WritePruneReport(report, reportDir)
				if err != nil {
					return err
				}
				slog.Info(fmt.Sprintf("Wrote prune report %s", reportFile))
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	tierFlags(command, &upstream, &downstream, &days, endpoints.Staging, endpoints.Archive, 30)
	command.Flags().BoolVar(&dryRun, "dry-run", false, "list candidates without deleting them")
	command.Flags().StringVar(&reportDir, "report", "", "directory in which to write a prune report")
	return command
}

func newJobsCommand(load loader) *cobra.Command {
	var status string
	command := &cobra.Command{
		Use:   "jobs",
		Short: "Lists deferred jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			jobs, err := a.scheduler.Jobs(status)
			if err != nil {
				return err
			}
			for _, job := range jobs {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\t%s\t%s\n", job.Id, job.Flow,
					job.Status, job.RunAt.Format(time.RFC3339), job.RunName)
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	command.Flags().StringVar(&status, "status", "", "only list jobs with this status")
	return command
}

func newRunDueCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "run-due",
		Short: "Runs the jobs that are due and exits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load()
			if err != nil {
				return err
			}
			defer a.Close()
			n, err := a.runner.RunOnce(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ran %d jobs\n", n)
			return err
		},
	}
}
