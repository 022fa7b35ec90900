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
	"fmt"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/hashicorp/go-multierror"
)

// checks the configuration, collecting every problem found so that an
// operator can fix them all at once
func (c Config) validate() error {
	var result *multierror.Error

	if c.Service.Port < 0 || c.Service.Port > 65535 {
		result = multierror.Append(result, &InvalidValueError{
			Field:   "service.port",
			Message: fmt.Sprintf("%d (must be 0-65535)", c.Service.Port),
		})
	}
	if c.Service.MaxConnections <= 0 {
		result = multierror.Append(result, &InvalidValueError{
			Field:   "service.max_connections",
			Message: fmt.Sprintf("%d (must be positive)", c.Service.MaxConnections),
		})
	}

	switch c.Transfer.Provider {
	case "globus", "local":
	default:
		result = multierror.Append(result, &InvalidValueError{
			Field:   "transfer.provider",
			Message: fmt.Sprintf("'%s' (must be 'globus' or 'local')", c.Transfer.Provider),
		})
	}
	if c.Transfer.MaxWait <= 0 {
		result = multierror.Append(result, &InvalidValueError{
			Field:   "transfer.max_wait",
			Message: "a positive ceiling on transfer time is required",
		})
	}
	if c.Transfer.PollInterval <= 0 {
		result = multierror.Append(result, &InvalidValueError{
			Field:   "transfer.poll_interval",
			Message: "must be positive",
		})
	}
	if c.Transfer.SyncLevel < 0 || c.Transfer.SyncLevel > 3 {
		result = multierror.Append(result, &InvalidValueError{
			Field:   "transfer.sync_level",
			Message: fmt.Sprintf("%d (must be 0-3)", c.Transfer.SyncLevel),
		})
	}

	if len(c.Endpoints) == 0 {
		result = multierror.Append(result, &InvalidValueError{
			Field:   "endpoints",
			Message: "no endpoints were provided",
		})
	}
	for name, ep := range c.Endpoints {
		if ep.Id == uuid.Nil {
			result = multierror.Append(result, &InvalidValueError{
				Field:   fmt.Sprintf("endpoints.%s.id", name),
				Message: "an endpoint UUID is required",
			})
		}
		if ep.Root == "" {
			result = multierror.Append(result, &InvalidValueError{
				Field:   fmt.Sprintf("endpoints.%s.root", name),
				Message: "a root directory is required",
			})
		}
	}

	// the three storage tiers are required; the compute tier is needed only
	// when the reconstruction detour is used
	tiers := []struct{ tier, name string }{
		{"acquisition", c.Tiers.Acquisition},
		{"staging", c.Tiers.Staging},
		{"archive", c.Tiers.Archive},
	}
	if c.Tiers.Compute != "" {
		tiers = append(tiers, struct{ tier, name string }{"compute", c.Tiers.Compute})
	}
	for _, t := range tiers {
		if t.name == "" {
			result = multierror.Append(result, &MissingTierError{Tier: t.tier})
		} else if _, found := c.Endpoints[t.name]; !found {
			result = multierror.Append(result, &UndefinedEndpointError{
				Referrer: "tiers." + t.tier,
				Endpoint: t.name,
			})
		}
	}

	if c.Retention.AcquisitionDays < 0 || c.Retention.StagingDays < 0 {
		result = multierror.Append(result, &InvalidValueError{
			Field:   "retention",
			Message: "retention windows must be non-negative",
		})
	}

	if c.Tiers.Compute != "" {
		switch c.Compute.Mode {
		case "flow", "function":
		default:
			result = multierror.Append(result, &InvalidValueError{
				Field:   "compute.mode",
				Message: fmt.Sprintf("'%s' (must be 'flow' or 'function')", c.Compute.Mode),
			})
		}
		for _, ref := range []struct{ field, name string }{
			{"compute.source_endpoint", c.Compute.SourceEndpoint},
			{"compute.return_endpoint", c.Compute.ReturnEndpoint},
		} {
			if _, found := c.Endpoints[ref.name]; !found {
				result = multierror.Append(result, &UndefinedEndpointError{
					Referrer: ref.field,
					Endpoint: ref.name,
				})
			}
		}
		if c.Compute.MaxWait <= 0 || c.Compute.PollInterval <= 0 {
			result = multierror.Append(result, &InvalidValueError{
				Field:   "compute",
				Message: "poll_interval and max_wait must be positive",
			})
		}
	}

	if c.Scheduler.Concurrency <= 0 {
		result = multierror.Append(result, &InvalidValueError{
			Field:   "scheduler.concurrency",
			Message: fmt.Sprintf("%d (must be positive)", c.Scheduler.Concurrency),
		})
	}
	for i, job := range c.Scheduler.Periodic {
		if job.Flow == "" {
			result = multierror.Append(result, &InvalidValueError{
				Field:   fmt.Sprintf("scheduler.periodic[%d].flow", i),
				Message: "a flow name is required",
			})
		}
		if _, err := cronexpr.Parse(job.Cron); err != nil {
			result = multierror.Append(result, &InvalidValueError{
				Field:   fmt.Sprintf("scheduler.periodic[%d].cron", i),
				Message: err.Error(),
			})
		}
	}

	return result.ErrorOrNil()
}
