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

// Package flowstest contains testing utilities for tierflow: in-memory
// stand-ins for the transfer, flow, compute, and catalog services.
package flowstest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/als-computing/tierflow/compute"
	"github.com/als-computing/tierflow/endpoints"
)

// Enables DEBUG log messages for tierflow's structured log (slog).
func EnableDebugLogging() {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

//--------------------------
// Transfer service fixture
//--------------------------

type fakeTask struct {
	Request endpoints.TransferRequest
	Polls   int
	Status  endpoints.TransferStatus
}

// TransferService is an in-memory endpoints.TransferService. Files are
// absolute paths with modification times, stored per endpoint. Transfers
// copy files at submission time and report ACTIVE for ActivePolls status
// queries before reporting their terminal status.
type TransferService struct {
	// number of ACTIVE status reports before a transfer completes
	ActivePolls int
	// if true, transfers never leave the ACTIVE state
	Stall bool
	// if non-nil, returned by every submission
	SubmitError error
	// source paths whose transfers fail
	FailPaths map[string]bool

	mu      sync.Mutex
	files   map[uuid.UUID]map[string]time.Time
	tasks   map[uuid.UUID]*fakeTask
	order   []uuid.UUID
	deletes [][]string
}

// NewTransferService creates an empty transfer service fixture.
func NewTransferService() *TransferService {
	return &TransferService{
		FailPaths: make(map[string]bool),
		files:     make(map[uuid.UUID]map[string]time.Time),
		tasks:     make(map[uuid.UUID]*fakeTask),
	}
}

// AddFile places a file with the given absolute path and modification time
// on the endpoint.
func (s *TransferService) AddFile(ep endpoints.Endpoint, p string, modified time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addFile(ep.Id, p, modified)
}

func (s *TransferService) addFile(epId uuid.UUID, p string, modified time.Time) {
	if _, found := s.files[epId]; !found {
		s.files[epId] = make(map[string]time.Time)
	}
	s.files[epId][p] = modified
}

// HasFile returns true if a file with the given absolute path exists on the
// endpoint.
func (s *TransferService) HasFile(ep endpoints.Endpoint, p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, found := s.files[ep.Id][p]
	return found
}

// Requests returns the transfer requests submitted so far, in order.
func (s *TransferService) Requests() []endpoints.TransferRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	requests := make([]endpoints.TransferRequest, len(s.order))
	for i, id := range s.order {
		requests[i] = s.tasks[id].Request
	}
	return requests
}

// Deletes returns the path batches passed to Delete, in order.
func (s *TransferService) Deletes() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string{}, s.deletes...)
}

// returns the files under the given directory (or the file itself)
func (s *TransferService) under(epId uuid.UUID, p string) []string {
	dir := strings.TrimRight(p, "/")
	matches := make([]string, 0)
	for f := range s.files[epId] {
		if f == dir || strings.HasPrefix(f, dir+"/") {
			matches = append(matches, f)
		}
	}
	sort.Strings(matches)
	return matches
}

func (s *TransferService) Submit(ctx context.Context, request endpoints.TransferRequest) (uuid.UUID, error) {
	if s.SubmitError != nil {
		return uuid.Nil, s.SubmitError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	task := &fakeTask{
		Request: request,
		Status:  endpoints.TransferStatus{Code: endpoints.TransferStatusSucceeded},
	}
	sources := s.under(request.Source.Id, request.SourcePath)
	if !request.Recursive {
		sources = nil
		if _, found := s.files[request.Source.Id][request.SourcePath]; found {
			sources = []string{request.SourcePath}
		}
	}
	switch {
	case s.FailPaths[request.SourcePath]:
		task.Status = endpoints.TransferStatus{
			Code:    endpoints.TransferStatusFailed,
			Message: "PERMISSION_DENIED",
		}
	case len(sources) == 0:
		task.Status = endpoints.TransferStatus{
			Code:    endpoints.TransferStatusFailed,
			Message: fmt.Sprintf("%s not found", request.SourcePath),
		}
	default:
		srcDir := strings.TrimRight(request.SourcePath, "/")
		destDir := strings.TrimRight(request.DestinationPath, "/")
		for _, f := range sources {
			dest := destDir + strings.TrimPrefix(f, srcDir)
			s.addFile(request.Destination.Id, dest, s.files[request.Source.Id][f])
		}
		task.Status.NumFiles = len(sources)
		task.Status.NumFilesTransferred = len(sources)
	}

	id := uuid.New()
	s.tasks[id] = task
	s.order = append(s.order, id)
	return id, nil
}

func (s *TransferService) Status(ctx context.Context, id uuid.UUID) (endpoints.TransferStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, found := s.tasks[id]
	if !found {
		return endpoints.TransferStatus{}, fmt.Errorf("task %s not found", id.String())
	}
	task.Polls++
	if s.Stall || task.Polls <= s.ActivePolls {
		return endpoints.TransferStatus{Code: endpoints.TransferStatusActive}, nil
	}
	return task.Status, nil
}

func (s *TransferService) Cancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, found := s.tasks[id]; found {
		task.Status = endpoints.TransferStatus{Code: endpoints.TransferStatusFailed, Message: "canceled"}
		return nil
	}
	return fmt.Errorf("task %s not found", id.String())
}

func (s *TransferService) ListFiles(ctx context.Context, ep endpoints.Endpoint,
	dir string, olderThanDays int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	files := make([]string, 0)
	for _, f := range s.under(ep.Id, dir) {
		if f == strings.TrimRight(dir, "/") {
			continue
		}
		if olderThanDays <= 0 || !s.files[ep.Id][f].After(cutoff) {
			files = append(files, f)
		}
	}
	return files, nil
}

func (s *TransferService) ListDirectory(ctx context.Context, ep endpoints.Endpoint,
	dir string) ([]endpoints.FileObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dir = strings.TrimRight(dir, "/")
	seen := make(map[string]bool)
	objects := make([]endpoints.FileObject, 0)
	for _, f := range s.under(ep.Id, dir) {
		if f == dir {
			continue
		}
		rest := strings.TrimPrefix(f, dir+"/")
		name, _, isDir := strings.Cut(rest, "/")
		if seen[name] {
			continue
		}
		seen[name] = true
		objects = append(objects, endpoints.FileObject{
			Name:         name,
			Path:         path.Join(dir, name),
			IsDir:        isDir,
			LastModified: s.files[ep.Id][f],
		})
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("directory %s not found", dir)
	}
	return objects, nil
}

func (s *TransferService) FileObject(ctx context.Context, ep endpoints.Endpoint,
	p string) (endpoints.FileObject, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p = strings.TrimRight(p, "/")
	if modified, found := s.files[ep.Id][p]; found {
		return endpoints.FileObject{
			Name:         path.Base(p),
			Path:         p,
			LastModified: modified,
		}, true, nil
	}
	if under := s.under(ep.Id, p); len(under) > 0 {
		return endpoints.FileObject{
			Name:         path.Base(p),
			Path:         p,
			IsDir:        true,
			LastModified: s.files[ep.Id][under[0]],
		}, true, nil
	}
	return endpoints.FileObject{}, false, nil
}

func (s *TransferService) Delete(ctx context.Context, ep endpoints.Endpoint,
	paths []string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range paths {
		for _, f := range s.under(ep.Id, p) {
			delete(s.files[ep.Id], f)
		}
	}
	s.deletes = append(s.deletes, append([]string{}, paths...))
	id := uuid.New()
	s.tasks[id] = &fakeTask{
		Status: endpoints.TransferStatus{
			Code:     endpoints.TransferStatusSucceeded,
			NumFiles: len(paths),
		},
	}
	return id, nil
}

//----------------------------------
// Flow and compute service fixtures
//----------------------------------

// counts polls per run to step through a scripted sequence of statuses
type runScript struct {
	mu    sync.Mutex
	polls map[uuid.UUID]int
}

func (r *runScript) next(id uuid.UUID, statuses []string, final string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.polls == nil {
		r.polls = make(map[uuid.UUID]int)
	}
	i := r.polls[id]
	r.polls[id]++
	if i < len(statuses) {
		return statuses[i]
	}
	return final
}

// a recorded submission to the flow or compute service
type Submission struct {
	Id    uuid.UUID
	Input map[string]any
	Label string
	Tags  []string
}

// FlowService is a compute.FlowService whose runs report the statuses in
// Statuses (one per poll) followed by Final (default SUCCEEDED).
type FlowService struct {
	Statuses []string
	Final    string
	RunError error

	script      runScript
	mu          sync.Mutex
	submissions []Submission
}

func (f *FlowService) RunFlow(ctx context.Context, flowId uuid.UUID, input map[string]any,
	label string, tags []string) (uuid.UUID, error) {
	if f.RunError != nil {
		return uuid.Nil, f.RunError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.submissions = append(f.submissions, Submission{Id: id, Input: input, Label: label, Tags: tags})
	return id, nil
}

func (f *FlowService) GetRun(ctx context.Context, runId uuid.UUID) (compute.FlowRun, error) {
	final := f.Final
	if final == "" {
		final = compute.StatusSucceeded
	}
	status := f.script.next(runId, f.Statuses, final)
	return compute.FlowRun{
		RunId:   runId,
		Status:  status,
		Details: map[string]any{"code": status},
	}, nil
}

// Submissions returns the flow runs started so far.
func (f *FlowService) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Submission{}, f.submissions...)
}

// ComputeService is a compute.ComputeService whose tasks report the statuses
// in Statuses (one per poll) followed by Final (default SUCCEEDED).
type ComputeService struct {
	Statuses    []string
	Final       string
	SubmitError error

	script      runScript
	mu          sync.Mutex
	submissions []Submission
}

func (c *ComputeService) SubmitFunction(ctx context.Context, endpointId, functionId uuid.UUID,
	kwargs map[string]any) (uuid.UUID, error) {
	if c.SubmitError != nil {
		return uuid.Nil, c.SubmitError
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id := uuid.New()
	c.submissions = append(c.submissions, Submission{Id: id, Input: kwargs})
	return id, nil
}

func (c *ComputeService) TaskStatus(ctx context.Context, taskId uuid.UUID) (compute.FlowRun, error) {
	final := c.Final
	if final == "" {
		final = compute.StatusSucceeded
	}
	return compute.FlowRun{RunId: taskId, Status: c.script.next(taskId, c.Statuses, final)}, nil
}

// Submissions returns the function submissions so far.
func (c *ComputeService) Submissions() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Submission{}, c.submissions...)
}

//-------------------
// Catalog fixture
//-------------------

// an ingestion request received by the catalog fixture
type Ingestion struct {
	FilePath, Ingestor string
}

// Catalog is a catalog.Service that records ingestions and returns Error
// (if set) for each of them.
type Catalog struct {
	Error error

	mu         sync.Mutex
	ingestions []Ingestion
}

func (c *Catalog) Ingest(ctx context.Context, filePath, ingestor string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ingestions = append(c.ingestions, Ingestion{FilePath: filePath, Ingestor: ingestor})
	return c.Error
}

// Ingestions returns the ingestions requested so far.
func (c *Catalog) Ingestions() []Ingestion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Ingestion{}, c.ingestions...)
}
