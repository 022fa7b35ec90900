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

// Package config reads the tierflow configuration file. A Config is built
// once at process start and handed to every component that needs it.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every configurable parameter of the service.
type Config struct {
	Service   ServiceConfig             `yaml:"service"`
	Globus    GlobusConfig              `yaml:"globus"`
	Transfer  TransferConfig            `yaml:"transfer"`
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`
	Tiers     TierConfig                `yaml:"tiers"`
	Paths     PathConfig                `yaml:"paths"`
	Retention RetentionConfig           `yaml:"retention"`
	Compute   ComputeConfig             `yaml:"compute"`
	Catalog   CatalogConfig             `yaml:"catalog"`
	Scheduler SchedulerConfig           `yaml:"scheduler"`
}

// service-level parameters
type ServiceConfig struct {
	// name reported by the HTTP API
	Name string `yaml:"name"`
	// port on which the HTTP API listens
	Port int `yaml:"port"`
	// maximum number of simultaneous HTTP connections
	MaxConnections int `yaml:"max_connections"`
	// directory in which the journal, the scheduler database, and the access
	// token file live
	DataDirectory string `yaml:"data_directory"`
	// fernet key used to decrypt the access token file
	Secret string `yaml:"secret"`
	// path to the encrypted access token file (default: <data_directory>/access.dat)
	AccessFile string `yaml:"access_file"`
	// enables debug-level logging
	Debug bool `yaml:"debug"`
}

// parameters for paths shared by all tiers
type PathConfig struct {
	// a leading path component that is removed from incoming file paths so
	// that every tier sees the same relative root (e.g. "global")
	StripPrefix string `yaml:"strip_prefix"`
}

// retention windows for deferred deletions
type RetentionConfig struct {
	// days a file stays on the acquisition tier after it has been moved
	AcquisitionDays int `yaml:"acquisition_days"`
	// days a file stays on the staging tier after it has been archived
	StagingDays int `yaml:"staging_days"`
	// optional JSON settings document that overrides the above on every run
	SettingsFile string `yaml:"settings_file"`
}

// parameters for the catalog ingestion service
type CatalogConfig struct {
	// ingestion endpoint URL (cataloging is disabled if empty)
	URL string `yaml:"url"`
	// bearer token for the ingestion service
	Token string `yaml:"token"`
	// reference to the ingestor that understands the data format
	Ingestor string `yaml:"ingestor"`
	// HTTP timeout for ingestion requests
	Timeout time.Duration `yaml:"timeout"`
}

// returns a Config filled with default values, which are overridden by
// anything present in a configuration file
func defaults() Config {
	return Config{
		Service: ServiceConfig{
			Name:           "tierflow",
			Port:           8080,
			MaxConnections: 100,
			DataDirectory:  ".",
		},
		Globus: GlobusConfig{
			AuthURL:     globusAuthURL,
			TransferURL: globusTransferURL,
			FlowsURL:    globusFlowsURL,
			ComputeURL:  globusComputeURL,
		},
		Transfer: TransferConfig{
			Provider:       "globus",
			MaxWait:        600 * time.Second,
			PollInterval:   5 * time.Second,
			Label:          "tierflow",
			SyncLevel:      3,
			VerifyChecksum: true,
		},
		Retention: RetentionConfig{
			AcquisitionDays: 7,
			StagingDays:     14,
		},
		Compute: ComputeConfig{
			Mode:            "flow",
			InputSuffix:     ".h5",
			OutputDirectory: "bl832",
			OutputPrefix:    "rec",
			Label:           "ALS run",
			Tags:            []string{"als", "tomopy"},
			PollInterval:    10 * time.Second,
			MaxWait:         2 * time.Hour,
		},
		Catalog: CatalogConfig{
			Ingestor: "orchestration.flows.bl832.ingest_tomo832",
			Timeout:  time.Minute,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
			Concurrency:  4,
		},
	}
}

// Load parses YAML configuration data, expanding any environment variables
// of the form ${ENV_VAR}, and validates the result.
func Load(data []byte) (Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	conf := defaults()
	if err := yaml.Unmarshal(data, &conf); err != nil {
		slog.Error(fmt.Sprintf("Couldn't parse configuration data: %s", err))
		return Config{}, err
	}
	conf.fillDerived()

	if err := conf.validate(); err != nil {
		return Config{}, err
	}
	return conf, nil
}

// Read loads configuration from the file with the given path.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Load(data)
}

// fills in values that default to other configured values
func (c *Config) fillDerived() {
	if c.Service.AccessFile == "" {
		c.Service.AccessFile = filepath.Join(c.Service.DataDirectory, "access.dat")
	}
	if c.Scheduler.Database == "" {
		c.Scheduler.Database = filepath.Join(c.Service.DataDirectory, "scheduler.db")
	}
	if c.Compute.SourceEndpoint == "" {
		c.Compute.SourceEndpoint = c.Tiers.Staging
	}
	if c.Compute.ReturnEndpoint == "" {
		c.Compute.ReturnEndpoint = c.Tiers.Archive
	}
}

// JournalPath returns the location of the idempotency journal.
func (c Config) JournalPath() string {
	return filepath.Join(c.Service.DataDirectory, "journal.db")
}
