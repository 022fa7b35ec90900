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

// These tests verify that we can properly configure the service with YAML
// input.
import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
)

// a valid service config entry
const VALID_SERVICE string = `
service:
  port: 8080
  max_connections: 100
  data_directory: /tmp/tierflow
`

// a valid endpoints config entry
const VALID_ENDPOINTS string = `
globus:
  client_id: ${TIERFLOW_GLOBUS_CLIENT_ID}
  client_secret: ${TIERFLOW_GLOBUS_CLIENT_SECRET}
endpoints:
  spot832:
    id: 44c26b1e-5a63-4c3e-9d16-1e0e4d2cbe4b
    root: /raw
  data832:
    id: 75b478b2-37af-46df-bfbd-71ed692c6506
    root: /data/raw
  nersc832:
    id: d40248e6-d874-4f7b-badd-2c06c16f1a58
    root: /global/cfs/cdirs/als/data_mover/8.3.2/raw
  alcf832:
    id: 55c3adf6-31f1-4647-9a38-52591642f7e7
    root: /data/bl832
tiers:
  acquisition: spot832
  staging: data832
  archive: nersc832
  compute: alcf832
`

// tests whether Load reports an error for blank input
func TestLoadRejectsBlankInput(t *testing.T) {
	_, err := Load([]byte(""))
	assert.NotNil(t, err, "Blank config didn't trigger an error.")
}

func TestLoadValidConfig(t *testing.T) {
	assert := assert.New(t)
	os.Setenv("TIERFLOW_GLOBUS_CLIENT_ID", "0e8ef0a8-8f5c-4b43-a4b1-3c3b5e3b1d2f")
	os.Setenv("TIERFLOW_GLOBUS_CLIENT_SECRET", "shhh")
	defer os.Unsetenv("TIERFLOW_GLOBUS_CLIENT_ID")
	defer os.Unsetenv("TIERFLOW_GLOBUS_CLIENT_SECRET")

	conf, err := Load([]byte(VALID_SERVICE + VALID_ENDPOINTS))
	assert.Nil(err)
	assert.Equal(8080, conf.Service.Port)
	assert.Equal(uuid.MustParse("0e8ef0a8-8f5c-4b43-a4b1-3c3b5e3b1d2f"), conf.Globus.ClientId)
	assert.Equal("shhh", conf.Globus.ClientSecret)
	assert.Equal("/raw", conf.Endpoints["spot832"].Root)
	assert.Equal("nersc832", conf.Tiers.Archive)

	// defaults and derived values
	assert.Equal("globus", conf.Transfer.Provider)
	assert.Equal(600*time.Second, conf.Transfer.MaxWait)
	assert.Equal(10*time.Second, conf.Compute.PollInterval)
	assert.Equal("data832", conf.Compute.SourceEndpoint)
	assert.Equal("nersc832", conf.Compute.ReturnEndpoint)
	assert.Equal(filepath.Join("/tmp/tierflow", "scheduler.db"), conf.Scheduler.Database)
	assert.Equal(filepath.Join("/tmp/tierflow", "journal.db"), conf.JournalPath())
	assert.Equal(filepath.Join("/tmp/tierflow", "access.dat"), conf.Service.AccessFile)
}

func TestLoadParsesDurationsAndPeriodicJobs(t *testing.T) {
	assert := assert.New(t)
	yaml := VALID_SERVICE + VALID_ENDPOINTS + `
transfer:
  provider: local
  max_wait: 90s
  poll_interval: 250ms
retention:
  acquisition_days: 3
  staging_days: 30
scheduler:
  poll_interval: 1m
  periodic:
    - name: nightly prune
      cron: "0 3 * * *"
      flow: prune_directory
      params:
        project_dir: BLS-00564_dyparkinson
        older_than_days: 30
`
	conf, err := Load([]byte(yaml))
	assert.Nil(err)
	assert.Equal("local", conf.Transfer.Provider)
	assert.Equal(90*time.Second, conf.Transfer.MaxWait)
	assert.Equal(250*time.Millisecond, conf.Transfer.PollInterval)
	assert.Equal(3, conf.Retention.AcquisitionDays)
	assert.Equal(30, conf.Retention.StagingDays)
	assert.Equal(time.Minute, conf.Scheduler.PollInterval)
	assert.Len(conf.Scheduler.Periodic, 1)
	assert.Equal("prune_directory", conf.Scheduler.Periodic[0].Flow)
	assert.Equal("BLS-00564_dyparkinson", conf.Scheduler.Periodic[0].Params["project_dir"])
}

// tests whether Load reports an error for an invalid port
func TestLoadRejectsBadPort(t *testing.T) {
	_, err := Load([]byte("service:\n  port: -1\n" + VALID_ENDPOINTS))
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
	_, err = Load([]byte("service:\n  port: 1000000\n" + VALID_ENDPOINTS))
	assert.NotNil(t, err, "Config with bad port didn't trigger an error.")
}

func TestLoadRejectsNoEndpointsDefined(t *testing.T) {
	_, err := Load([]byte(VALID_SERVICE))
	assert.NotNil(t, err, "Config with no endpoints didn't trigger an error.")
}

// all problems in a configuration are reported together
func TestLoadCollectsAllErrors(t *testing.T) {
	assert := assert.New(t)
	yaml := `
service:
  max_connections: 0
transfer:
  provider: carrier-pigeon
endpoints:
  spot832:
    id: 44c26b1e-5a63-4c3e-9d16-1e0e4d2cbe4b
    root: /raw
tiers:
  acquisition: spot832
  staging: data832
scheduler:
  periodic:
    - name: bad
      cron: "not a cron line"
      flow: prune_directory
`
	_, err := Load([]byte(yaml))
	assert.NotNil(err)
	var merr *multierror.Error
	assert.True(errors.As(err, &merr))
	// max_connections, provider, undefined data832, missing archive, cron
	assert.Len(merr.Errors, 5)

	var missing *MissingTierError
	assert.True(errors.As(err, &missing))
	assert.Equal("archive", missing.Tier)
	var undefined *UndefinedEndpointError
	assert.True(errors.As(err, &undefined))
	assert.Equal("data832", undefined.Endpoint)
}

func TestLoadRejectsUnboundedTransfers(t *testing.T) {
	yaml := VALID_SERVICE + VALID_ENDPOINTS + "transfer:\n  max_wait: 0s\n"
	_, err := Load([]byte(yaml))
	assert.NotNil(t, err, "Config without a transfer ceiling didn't trigger an error.")
}
