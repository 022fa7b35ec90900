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
	"bytes"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/als-computing/tierflow/flows"
)

// temporary testing directory
var TESTING_DIR string

// a configuration that moves files between local directories
const tierflowConfig string = `
service:
  data_directory: TESTING_DIR/state
transfer:
  provider: local
  poll_interval: 10ms
  max_wait: 10s
endpoints:
  spot832:
    id: 5a9ee2f4-6bd6-4e51-9ad3-4f7ee06f1e3b
    root: TESTING_DIR/raw
  data832:
    id: 75b478b2-37af-46df-bfbd-71ed692c6506
    root: TESTING_DIR/data
  nersc832:
    id: d40248e6-d874-4f7b-badd-2c06c16f1a58
    root: TESTING_DIR/archive
tiers:
  acquisition: spot832
  staging: data832
  archive: nersc832
retention:
  acquisition_days: 7
  staging_days: 14
`

// runs setup, runs all tests, and does breakdown
func TestMain(m *testing.M) {
	setup()
	status := m.Run()
	breakdown()
	os.Exit(status)
}

func setup() {
	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "tierflow-cmd-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err.Error())
	}
	for _, dir := range []string{"raw", "data", "archive"} {
		if err := os.MkdirAll(filepath.Join(TESTING_DIR, dir), 0755); err != nil {
			log.Panicf("Couldn't create %s directory: %s", dir, err.Error())
		}
	}
	configFile := filepath.Join(TESTING_DIR, "tierflow.yaml")
	conf := strings.ReplaceAll(tierflowConfig, "TESTING_DIR", TESTING_DIR)
	if err := os.WriteFile(configFile, []byte(conf), 0644); err != nil {
		log.Panicf("Couldn't write configuration file: %s", err.Error())
	}
}

func breakdown() {
	if TESTING_DIR != "" {
		log.Printf("Deleting testing directory %s...\n", TESTING_DIR)
		os.RemoveAll(TESTING_DIR)
	}
}

// runs tierflow with the test configuration and the given arguments,
// returning its output
func run(t *testing.T, args ...string) (string, error) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", filepath.Join(TESTING_DIR, "tierflow.yaml")}, args...))
	err := root.Execute()
	return out.String(), err
}

// writes a file under the testing directory with the given age
func writeFile(t *testing.T, p string, age time.Duration) string {
	full := filepath.Join(TESTING_DIR, p)
	require.Nil(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.Nil(t, os.WriteFile(full, []byte("projections"), 0644))
	modified := time.Now().Add(-age)
	require.Nil(t, os.Chtimes(full, modified, modified))
	return full
}

func TestMoveCommand(t *testing.T) {
	assert := assert.New(t)
	writeFile(t, "raw/run002/scan.h5", 0)

	out, err := run(t, "move", "run002/scan.h5")
	require.Nil(t, err, out)
	var report flows.MoveReport
	require.Nil(t, json.Unmarshal([]byte(out), &report))
	assert.Equal("run002/scan.h5", report.RelativePath)
	require.Len(t, report.Hops, 2)
	for _, hop := range report.Hops {
		assert.True(hop.Success, hop.Message)
	}
	assert.Len(report.Jobs, 2)
	assert.FileExists(filepath.Join(TESTING_DIR, "data/run002/scan.h5"))
	assert.FileExists(filepath.Join(TESTING_DIR, "archive/run002/scan.h5"))

	// the deferred prunes are listed, and aren't due yet
	out, err = run(t, "jobs", "--status", "scheduled")
	assert.Nil(err)
	assert.Contains(out, flows.FlowPruneAcquisition)
	assert.Contains(out, flows.FlowPruneStaging)

	out, err = run(t, "run-due")
	assert.Nil(err)
	assert.Equal("ran 0 jobs\n", out)
}

func TestPruneFileCommand(t *testing.T) {
	assert := assert.New(t)
	upstream := writeFile(t, "raw/run003/scan.h5", 10*24*time.Hour)
	writeFile(t, "data/run003/scan.h5", 10*24*time.Hour)

	out, err := run(t, "prune-file", "run003/scan.h5", "--older-than", "7")
	require.Nil(t, err, out)
	var outcome flows.PruneFileOutcome
	assert.Nil(json.Unmarshal([]byte(out), &outcome))
	assert.True(outcome.Pruned)
	assert.NoFileExists(upstream)

	_, err = run(t, "prune-file", "run003/scan.h5", "--upstream", "tape")
	assert.NotNil(err)
}

func TestPruneDirectoryCommand(t *testing.T) {
	assert := assert.New(t)
	old := 40 * 24 * time.Hour
	staged := writeFile(t, "data/mihme/a.h5", old)
	writeFile(t, "archive/mihme/a.h5", old)
	unarchived := writeFile(t, "data/mihme/b.h5", old)

	reports := filepath.Join(TESTING_DIR, "reports")
	out, err := run(t, "prune-dir", "mihme", "--dry-run", "--report", reports)
	require.Nil(t, err, out)
	var report flows.PruneReport
	assert.Nil(json.Unmarshal([]byte(out), &report))
	assert.Equal([]string{staged}, report.Candidates)
	assert.FileExists(staged)
	entries, err := os.ReadDir(reports)
	assert.Nil(err)
	assert.Len(entries, 1)

	_, err = run(t, "prune-dir", "mihme")
	assert.Nil(err)
	assert.NoFileExists(staged)
	assert.FileExists(unarchived)
}

func TestMissingConfiguration(t *testing.T) {
	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(TESTING_DIR, "nope.yaml"), "jobs"})
	assert.NotNil(t, root.Execute())
}
