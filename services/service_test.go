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

package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/als-computing/tierflow/auth"
	"github.com/als-computing/tierflow/config"
	"github.com/als-computing/tierflow/endpoints"
	"github.com/als-computing/tierflow/flows"
	"github.com/als-computing/tierflow/flowstest"
	"github.com/als-computing/tierflow/scheduler"
)

// temporary testing directory
var TESTING_DIR string

const testToken = "a6a8e6f1c4b84f8d9a2e0c5d1b7f3e29"

// runs setup, runs all tests, and does breakdown
func TestMain(m *testing.M) {
	setup()
	status := m.Run()
	breakdown()
	os.Exit(status)
}

func setup() {
	flowstest.EnableDebugLogging()
	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "tierflow-services-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err.Error())
	}
}

func breakdown() {
	if TESTING_DIR != "" {
		log.Printf("Deleting testing directory %s...\n", TESTING_DIR)
		os.RemoveAll(TESTING_DIR)
	}
}

// a mover that reports success unless the file path is "bad", and blocks
// until canceled if the file path is "slow"
type fakeMover struct{}

func (fakeMover) MoveFile(ctx context.Context, filePath string,
	opts flows.MoveOptions) (flows.MoveReport, error) {
	report := flows.MoveReport{FilePath: filePath, RunKey: opts.RunKey}
	switch filePath {
	case "bad":
		return report, fmt.Errorf("staging hop failed")
	case "slow":
		<-ctx.Done()
		return report, ctx.Err()
	}
	report.Hops = []flows.HopReport{{Name: flows.HopAcquisitionToStaging, Success: true}}
	return report, nil
}

// a pruner that records its calls
type fakePruner struct {
	mu    sync.Mutex
	calls []string
}

func (p *fakePruner) PruneFile(ctx context.Context, relPath string, upstream,
	downstream endpoints.Tier, olderThanDays int) (flows.PruneFileOutcome, error) {
	p.mu.Lock()
	p.calls = append(p.calls, "file:"+relPath)
	p.mu.Unlock()
	if relPath == "missing" {
		return flows.PruneFileOutcome{}, &flows.IntegrityError{Endpoint: string(downstream), Path: relPath}
	}
	return flows.PruneFileOutcome{RelativePath: relPath, Pruned: true}, nil
}

func (p *fakePruner) PruneDirectory(ctx context.Context, projectDir string, upstream,
	downstream endpoints.Tier, olderThanDays int, dryRun bool) (flows.PruneReport, error) {
	p.mu.Lock()
	p.calls = append(p.calls, "dir:"+projectDir)
	p.mu.Unlock()
	if projectDir == "nope" {
		return flows.PruneReport{}, &flows.ProjectNotFoundError{Project: projectDir, Endpoint: "data832"}
	}
	return flows.PruneReport{
		Project:        projectDir,
		Upstream:       "data832",
		Downstream:     "nersc832",
		UpstreamPath:   "/data/" + projectDir,
		DownstreamPath: "/archive/" + projectDir,
		OlderThanDays:  olderThanDays,
		Candidates:     []string{"/data/" + projectDir + "/scan.h5"},
		DryRun:         dryRun,
		Created:        time.Now(),
	}, nil
}

type fakeJobs []scheduler.Job

func (j fakeJobs) Jobs(status string) ([]scheduler.Job, error) {
	var jobs []scheduler.Job
	for _, job := range j {
		if status == "" || job.Status == status {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// creates a service and an HTTP test server for its router
func newTestServer(t *testing.T) (*server, *fakePruner, *httptest.Server) {
	conf := config.Config{
		Service: config.ServiceConfig{
			Name:           "tierflow",
			MaxConnections: 10,
			DataDirectory:  TESTING_DIR,
		},
		Endpoints: map[string]config.EndpointConfig{
			"spot832": {Id: uuid.New(), Root: "/raw"},
		},
	}
	registry, err := endpoints.NewRegistry(conf)
	require.Nil(t, err)
	pruner := &fakePruner{}
	service, err := newServer(conf, Dependencies{
		Registry: registry,
		Mover:    fakeMover{},
		Pruner:   pruner,
		Jobs: fakeJobs{
			{Id: 1, Key: "a", Flow: "prune_acquisition", Status: scheduler.StatusScheduled},
			{Id: 2, Key: "b", Flow: "prune_staging", Status: scheduler.StatusSucceeded},
		},
		Authenticator: &auth.Authenticator{
			UserForToken: map[string]auth.User{
				testToken: {Name: "Beamline 8.3.2", Organization: "Advanced Light Source"},
			},
		},
	})
	require.Nil(t, err)
	ts := httptest.NewServer(service.Router)
	t.Cleanup(func() {
		ts.Close()
		service.Close()
	})
	return service, pruner, ts
}

// sends a request with the test token, decoding the response body into
// out (if given) and returning the status code
func request(t *testing.T, method, url string, body any, out any) int {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.Nil(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	require.Nil(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.Nil(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.Nil(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestNewServiceNeedsDependencies(t *testing.T) {
	assert := assert.New(t)
	service, err := NewService(config.Config{}, Dependencies{})
	assert.Nil(service)
	assert.NotNil(err)
}

func TestGetRoot(t *testing.T) {
	assert := assert.New(t)
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.Nil(t, err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
	var info ServiceInfoResponse
	assert.Nil(json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal("tierflow", info.Name)
	assert.Equal(version, info.Version)
	assert.Equal([]string{"spot832"}, info.Endpoints)
}

func TestUnauthorized(t *testing.T) {
	assert := assert.New(t)
	_, _, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/jobs")
	require.Nil(t, err)
	resp.Body.Close()
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/jobs", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err = http.DefaultClient.Do(req)
	require.Nil(t, err)
	resp.Body.Close()
	assert.Equal(http.StatusUnauthorized, resp.StatusCode)
}

// polls a move until it finishes
func waitForMove(t *testing.T, url string, id uuid.UUID) MoveStatusResponse {
	var status MoveStatusResponse
	require.Eventually(t, func() bool {
		code := request(t, http.MethodGet, url+"/api/v1/moves/"+id.String(), nil, &status)
		return code == http.StatusOK && status.Status != runRunning
	}, 5*time.Second, 10*time.Millisecond)
	return status
}

func TestMove(t *testing.T) {
	assert := assert.New(t)
	_, _, ts := newTestServer(t)

	var created MoveResponse
	code := request(t, http.MethodPost, ts.URL+"/api/v1/moves",
		MoveRequest{FilePath: "/global/raw/run001/scan.h5", RunKey: "run001"}, &created)
	assert.Equal(http.StatusAccepted, code)
	assert.NotEqual(uuid.Nil, created.Id)

	status := waitForMove(t, ts.URL, created.Id)
	assert.Equal(runSucceeded, status.Status)
	assert.Equal("/global/raw/run001/scan.h5", status.FilePath)
	require.NotNil(t, status.Report)
	assert.Equal("run001", status.Report.RunKey)
	assert.Len(status.Report.Hops, 1)
	assert.NotNil(status.Finished)
}

func TestFailedMove(t *testing.T) {
	assert := assert.New(t)
	_, _, ts := newTestServer(t)

	var created MoveResponse
	code := request(t, http.MethodPost, ts.URL+"/api/v1/moves", MoveRequest{FilePath: "bad"}, &created)
	assert.Equal(http.StatusAccepted, code)
	status := waitForMove(t, ts.URL, created.Id)
	assert.Equal(runFailed, status.Status)
	assert.Contains(status.Message, "staging hop failed")

	code = request(t, http.MethodPost, ts.URL+"/api/v1/moves", MoveRequest{FilePath: " "}, nil)
	assert.Equal(http.StatusBadRequest, code)
}

func TestMoveNotFound(t *testing.T) {
	_, _, ts := newTestServer(t)
	code := request(t, http.MethodGet, ts.URL+"/api/v1/moves/"+uuid.NewString(), nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestMoveOptions(t *testing.T) {
	assert := assert.New(t)
	opts := MoveRequest{FilePath: "f"}.options()
	assert.True(opts.SendToArchive)
	assert.False(opts.SendToCompute)

	no := false
	opts = MoveRequest{FilePath: "f", SendToArchive: &no, SendToCompute: true}.options()
	assert.False(opts.SendToArchive)
	assert.True(opts.SendToCompute)
}

func TestCloseCancelsMoves(t *testing.T) {
	assert := assert.New(t)
	service, _, _ := newTestServer(t)

	id := service.runs.Start("slow", flows.DefaultMoveOptions())
	run, found := service.runs.Get(id)
	assert.True(found)
	assert.Equal(runRunning, run.Status)

	service.Close()
	run, _ = service.runs.Get(id)
	assert.Equal(runFailed, run.Status)
	assert.Contains(run.Message, "context canceled")
}

func TestPruneFile(t *testing.T) {
	assert := assert.New(t)
	_, pruner, ts := newTestServer(t)

	var outcome flows.PruneFileOutcome
	code := request(t, http.MethodPost, ts.URL+"/api/v1/prunes/file", PruneFileRequest{
		RelativePath:  "run001/scan.h5",
		Upstream:      "acquisition",
		Downstream:    "staging",
		OlderThanDays: 7,
	}, &outcome)
	assert.Equal(http.StatusOK, code)
	assert.True(outcome.Pruned)

	code = request(t, http.MethodPost, ts.URL+"/api/v1/prunes/file", PruneFileRequest{
		RelativePath: "missing", Upstream: "acquisition", Downstream: "staging",
	}, nil)
	assert.Equal(http.StatusConflict, code)

	code = request(t, http.MethodPost, ts.URL+"/api/v1/prunes/file", PruneFileRequest{
		RelativePath: "run001/scan.h5", Upstream: "tape", Downstream: "staging",
	}, nil)
	assert.Equal(http.StatusBadRequest, code)
	assert.Equal([]string{"file:run001/scan.h5", "file:missing"}, pruner.calls)
}

func TestPruneDirectory(t *testing.T) {
	assert := assert.New(t)
	_, _, ts := newTestServer(t)

	var report PruneDirectoryResponse
	code := request(t, http.MethodPost, ts.URL+"/api/v1/prunes/directory", PruneDirectoryRequest{
		Project:       "mihme",
		Upstream:      "staging",
		Downstream:    "archive",
		OlderThanDays: 30,
		DryRun:        true,
		WriteReport:   true,
	}, &report)
	assert.Equal(http.StatusOK, code)
	assert.True(report.DryRun)
	assert.Equal([]string{"/data/mihme/scan.h5"}, report.Candidates)
	assert.Equal(filepath.Join(TESTING_DIR, "reports"), filepath.Dir(report.ReportFile))
	assert.FileExists(report.ReportFile)

	code = request(t, http.MethodPost, ts.URL+"/api/v1/prunes/directory", PruneDirectoryRequest{
		Project: "nope", Upstream: "staging", Downstream: "archive",
	}, nil)
	assert.Equal(http.StatusNotFound, code)
}

func TestGetJobs(t *testing.T) {
	assert := assert.New(t)
	_, _, ts := newTestServer(t)

	var jobs JobsResponse
	code := request(t, http.MethodGet, ts.URL+"/api/v1/jobs", nil, &jobs)
	assert.Equal(http.StatusOK, code)
	assert.Len(jobs.Jobs, 2)

	code = request(t, http.MethodGet, ts.URL+"/api/v1/jobs?status=scheduled", nil, &jobs)
	assert.Equal(http.StatusOK, code)
	require.Len(t, jobs.Jobs, 1)
	assert.Equal("prune_acquisition", jobs.Jobs[0].Flow)

	jobs = JobsResponse{}
	code = request(t, http.MethodGet, ts.URL+"/api/v1/jobs?status=failed", nil, &jobs)
	assert.Equal(http.StatusOK, code)
	assert.NotNil(jobs.Jobs)
	assert.Empty(jobs.Jobs)
}

func TestMetrics(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.Nil(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
