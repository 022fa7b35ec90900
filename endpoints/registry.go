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

package endpoints

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/als-computing/tierflow/config"
)

// Tier identifies a logical storage location in the data pipeline.
type Tier string

const (
	Acquisition Tier = "acquisition" // where data is written by the instrument
	Staging     Tier = "staging"     // intermediate storage near the instrument
	Archive     Tier = "archive"     // long-term storage at a computing center
	Compute     Tier = "compute"     // remote facility that runs reconstructions
)

// ParseTier converts a tier name to a Tier.
func ParseTier(name string) (Tier, error) {
	switch t := Tier(name); t {
	case Acquisition, Staging, Archive, Compute:
		return t, nil
	}
	return "", &UnknownTierError{Tier: name}
}

// Registry resolves endpoint names and tiers to Endpoints. It is built once
// from the configuration and never modified.
type Registry struct {
	byName map[string]Endpoint
	tiers  map[Tier]string
}

// NewRegistry creates a Registry from a validated configuration.
func NewRegistry(conf config.Config) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]Endpoint),
		tiers:  make(map[Tier]string),
	}
	for name, epConfig := range conf.Endpoints {
		epName := epConfig.Name
		if epName == "" {
			epName = name
		}
		r.byName[name] = Endpoint{
			Name: epName,
			Id:   epConfig.Id,
			Root: epConfig.Root,
		}
	}
	for tier, name := range map[Tier]string{
		Acquisition: conf.Tiers.Acquisition,
		Staging:     conf.Tiers.Staging,
		Archive:     conf.Tiers.Archive,
		Compute:     conf.Tiers.Compute,
	} {
		if name == "" {
			continue
		}
		if _, found := r.byName[name]; !found {
			return nil, &NotFoundError{Name: name}
		}
		r.tiers[tier] = name
		slog.Debug(fmt.Sprintf("%s tier: endpoint %s", tier, name))
	}
	return r, nil
}

// Endpoint returns the endpoint with the given configured name.
func (r *Registry) Endpoint(name string) (Endpoint, error) {
	if ep, found := r.byName[name]; found {
		return ep, nil
	}
	return Endpoint{}, &NotFoundError{Name: name}
}

// Tier returns the endpoint assigned to the given tier.
func (r *Registry) Tier(tier Tier) (Endpoint, error) {
	name, found := r.tiers[tier]
	if !found {
		return Endpoint{}, &UnassignedTierError{Tier: tier}
	}
	return r.byName[name], nil
}

// Names returns the configured endpoint names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
