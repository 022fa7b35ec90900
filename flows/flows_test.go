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
	"log"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/als-computing/tierflow/config"
	"github.com/als-computing/tierflow/endpoints"
)

// temporary testing directory
var TESTING_DIR string

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}

// this function gets called at the beginning of a test session
func setup() {
	log.Print("Creating testing directory...\n")
	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "tierflow-flows-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
}

// this function gets called after all tests have been run
func breakdown() {
	if TESTING_DIR != "" {
		log.Printf("Deleting testing directory %s...\n", TESTING_DIR)
		os.RemoveAll(TESTING_DIR)
	}
}

// endpoints shared by the tests
var testEndpoints = map[string]config.EndpointConfig{
	"spot832": {
		Id:   uuid.MustParse("44c26b1e-5a63-4c3e-9d16-1e0e4d2cbe4b"),
		Root: "/raw",
	},
	"data832": {
		Id:   uuid.MustParse("75b478b2-37af-46df-bfbd-71ed692c6506"),
		Root: "/data",
	},
	"nersc832": {
		Id:   uuid.MustParse("df82346e-9a15-11ea-b3c4-0ae144191ee3"),
		Root: "/global/cfs/cdirs/als/data_mover/8.3.2",
	},
	"alcf832": {
		Id:   uuid.MustParse("55c3adf6-31f1-4647-9a38-52591642f7e7"),
		Root: "/eagle/IRIBeta/als",
	},
}

var testTiers = config.TierConfig{
	Acquisition: "spot832",
	Staging:     "data832",
	Archive:     "nersc832",
	Compute:     "alcf832",
}

// returns a configuration describing the test endpoints
func testConfig() config.Config {
	return config.Config{
		Endpoints: testEndpoints,
		Tiers:     testTiers,
		Paths:     config.PathConfig{StripPrefix: "raw"},
	}
}

func newRegistry(t *testing.T, conf config.Config) *endpoints.Registry {
	registry, err := endpoints.NewRegistry(conf)
	require.Nil(t, err)
	return registry
}

// returns the endpoint assigned to the given tier in the test configuration
func tierEndpoint(t *testing.T, tier endpoints.Tier) endpoints.Endpoint {
	ep, err := newRegistry(t, testConfig()).Tier(tier)
	require.Nil(t, err)
	return ep
}
