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

// Package metrics defines the prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tierflow"

var (
	// hops by hop name and outcome kind
	Hops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "hops_total",
		Help:      "Single-hop transfers by hop and outcome",
	}, []string{"hop", "outcome"})

	// time spent in each hop, including polling
	HopDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "hop_duration_seconds",
		Help:      "Duration of single-hop transfers",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"hop"})

	// reconstructions by outcome kind
	Reconstructions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconstructions_total",
		Help:      "Remote reconstructions by outcome",
	}, []string{"outcome"})

	// catalog ingestion failures (ingestion is best-effort)
	IngestFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_failures_total",
		Help:      "Failed catalog ingestions",
	})

	// files deleted by the prune engine, by tier
	PrunedFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pruned_files_total",
		Help:      "Files deleted from an upstream tier",
	}, []string{"tier"})

	// deferred jobs scheduled, by flow
	ScheduledJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduled_jobs_total",
		Help:      "Deferred jobs scheduled",
	}, []string{"flow"})

	// deferred job runs, by flow and outcome ("succeeded" or "failed")
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Deferred job runs by flow and outcome",
	}, []string{"flow", "outcome"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
