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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/als-computing/tierflow/auth"
	"github.com/als-computing/tierflow/config"
	"github.com/als-computing/tierflow/endpoints"
	"github.com/als-computing/tierflow/flows"
	"github.com/als-computing/tierflow/metrics"
	"github.com/als-computing/tierflow/scheduler"
)

// Version numbers
var majorVersion = 0
var minorVersion = 2
var patchVersion = 0

// Version string
var version = fmt.Sprintf("%d.%d.%d", majorVersion, minorVersion, patchVersion)

// Mover moves files through the pipeline.
type Mover interface {
	MoveFile(ctx context.Context, filePath string, opts flows.MoveOptions) (flows.MoveReport, error)
}

// Pruner deletes upstream copies of data.
type Pruner interface {
	PruneFile(ctx context.Context, relPath string, upstream, downstream endpoints.Tier,
		olderThanDays int) (flows.PruneFileOutcome, error)
	PruneDirectory(ctx context.Context, projectDir string, upstream, downstream endpoints.Tier,
		olderThanDays int, dryRun bool) (flows.PruneReport, error)
}

// JobLister lists deferred jobs.
type JobLister interface {
	Jobs(status string) ([]scheduler.Job, error)
}

// Dependencies holds the components the API drives.
type Dependencies struct {
	Registry      *endpoints.Registry
	Mover         Mover
	Pruner        Pruner
	Jobs          JobLister
	Authenticator *auth.Authenticator
}

// This type implements the Service interface, triggering moves and prunes
// on behalf of acquisition systems and operators.
type server struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// time which the service was started
	StartTime time.Time
	// port on which the service currently runs
	Port int
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server

	maxConnections  int
	reportDirectory string
	deps            Dependencies
	runs            *runTable
}

// authorize clients, returning the client's user record and an error
// describing any issue encountered
func (service *server) authorize(authorizationHeader string) (auth.User, error) {
	accessToken, found := strings.CutPrefix(authorizationHeader, "Bearer ")
	if !found {
		return auth.User{}, huma.Error401Unauthorized("Invalid authorization header")
	}
	user, err := service.deps.Authenticator.GetUser(strings.TrimSpace(accessToken))
	if err != nil {
		return auth.User{}, huma.Error401Unauthorized(err.Error())
	}
	return user, nil
}

// converts an error from the flows to an HTTP error
func apiError(err error) error {
	var unknownTier *endpoints.UnknownTierError
	var unassignedTier *endpoints.UnassignedTierError
	var threshold *flows.InvalidThresholdError
	var notFound *flows.ProjectNotFoundError
	var integrity *flows.IntegrityError
	switch {
	case errors.As(err, &unknownTier), errors.As(err, &unassignedTier), errors.As(err, &threshold):
		return huma.Error400BadRequest(err.Error())
	case errors.As(err, &notFound):
		return huma.Error404NotFound(err.Error())
	case errors.As(err, &integrity):
		return huma.Error409Conflict(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}

// parses an upstream/downstream pair of tier names
func parseTiers(upstream, downstream string) (endpoints.Tier, endpoints.Tier, error) {
	up, err := endpoints.ParseTier(upstream)
	if err != nil {
		return "", "", apiError(err)
	}
	down, err := endpoints.ParseTier(downstream)
	if err != nil {
		return "", "", apiError(err)
	}
	return up, down, nil
}

type ServiceInfoOutput struct {
	Body ServiceInfoResponse `doc:"information about the service itself"`
}

// handler method for root (no authorization needed for this one)
func (service *server) getRoot(ctx context.Context,
	input *struct{}) (*ServiceInfoOutput, error) {

	slog.Info("Querying root endpoint...")
	return &ServiceInfoOutput{
		Body: ServiceInfoResponse{
			Name:          service.Name,
			Version:       service.Version,
			Uptime:        int(service.uptime()),
			Documentation: "/docs",
			Endpoints:     service.deps.Registry.Names(),
		},
	}, nil
}

type MoveOutput struct {
	Body   MoveResponse
	Status int
}

// handler method for starting a move
func (service *server) createMove(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with access token"`
		Body          MoveRequest
	}) (*MoveOutput, error) {

	user, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Body.FilePath) == "" {
		return nil, huma.Error400BadRequest("no file path was given")
	}

	id := service.runs.Start(input.Body.FilePath, input.Body.options())
	slog.Info(fmt.Sprintf("%s (%s) requested move %s of %s", user.Name, user.Organization,
		id.String(), input.Body.FilePath))
	return &MoveOutput{
		Body: MoveResponse{
			Id: id,
		},
		Status: http.StatusAccepted,
	}, nil
}

type MoveStatusOutput struct {
	Body MoveStatusResponse `doc:"A status message for the move with the given ID"`
}

// handler method for getting the status of a move
func (service *server) getMoveStatus(ctx context.Context,
	input *struct {
		Authorization string    `header:"authorization" doc:"Authorization header with access token"`
		Id            uuid.UUID `path:"id" example:"de9a2d6a-f5c9-4322-b8a7-8121d83fdfc2" doc:"the UUID for the requested move"`
	}) (*MoveStatusOutput, error) {

	_, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}

	run, found := service.runs.Get(input.Id)
	if !found {
		return nil, huma.Error404NotFound(fmt.Sprintf("move %s not found", input.Id.String()))
	}
	output := &MoveStatusOutput{
		Body: MoveStatusResponse{
			Id:       run.Id,
			FilePath: run.FilePath,
			Status:   run.Status,
			Message:  run.Message,
			Started:  run.Started,
		},
	}
	if run.Status != runRunning {
		output.Body.Finished = &run.Finished
		output.Body.Report = &run.Report
	}
	return output, nil
}

type PruneFileOutput struct {
	Body flows.PruneFileOutcome
}

// handler method for pruning a single file
func (service *server) pruneFile(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with access token"`
		Body          PruneFileRequest
	}) (*PruneFileOutput, error) {

	user, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}
	upstream, downstream, err := parseTiers(input.Body.Upstream, input.Body.Downstream)
	if err != nil {
		return nil, err
	}

	slog.Info(fmt.Sprintf("%s requested pruning of %s from %s", user.Name,
		input.Body.RelativePath, upstream))
	outcome, err := service.deps.Pruner.PruneFile(ctx, input.Body.RelativePath,
		upstream, downstream, input.Body.OlderThanDays)
	if err != nil {
		return nil, apiError(err)
	}
	return &PruneFileOutput{Body: outcome}, nil
}

type PruneDirectoryOutput struct {
	Body PruneDirectoryResponse
}

// handler method for pruning a project directory
func (service *server) pruneDirectory(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with access token"`
		Body          PruneDirectoryRequest
	}) (*PruneDirectoryOutput, error) {

	user, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}
	upstream, downstream, err := parseTiers(input.Body.Upstream, input.Body.Downstream)
	if err != nil {
		return nil, err
	}

	slog.Info(fmt.Sprintf("%s requested pruning of project %s from %s", user.Name,
		input.Body.Project, upstream))
	report, err := service.deps.Pruner.PruneDirectory(ctx, input.Body.Project,
		upstream, downstream, input.Body.OlderThanDays, input.Body.DryRun)
	if err != nil {
		return nil, apiError(err)
	}
	output := &PruneDirectoryOutput{
		Body: PruneDirectoryResponse{PruneReport: report},
	}
	if input.Body.WriteReport {
		output.Body.ReportFile, err = flows.WritePruneReport(report, service.reportDirectory)
		if err != nil {
			return nil, huma.Error500InternalServerError(err.Error())
		}
	}
	return output, nil
}

type JobsOutput struct {
	Body JobsResponse `doc:"Deferred jobs, ordered by due time"`
}

// handler method for listing deferred jobs
func (service *server) getJobs(ctx context.Context,
	input *struct {
		Authorization string `header:"authorization" doc:"Authorization header with access token"`
		Status        string `query:"status" example:"scheduled" doc:"only list jobs with this status"`
	}) (*JobsOutput, error) {

	_, err := service.authorize(input.Authorization)
	if err != nil {
		return nil, err
	}
	jobs, err := service.deps.Jobs.Jobs(input.Status)
	if err != nil {
		return nil, huma.Error500InternalServerError(err.Error())
	}
	if jobs == nil {
		jobs = []scheduler.Job{}
	}
	return &JobsOutput{Body: JobsResponse{Jobs: jobs}}, nil
}

// returns the uptime for the service in seconds
func (service *server) uptime() float64 {
	return time.Since(service.StartTime).Seconds()
}

// constructs the API service
func newServer(conf config.Config, deps Dependencies) (*server, error) {
	if deps.Registry == nil || deps.Mover == nil || deps.Pruner == nil ||
		deps.Jobs == nil || deps.Authenticator == nil {
		return nil, fmt.Errorf("the API service is missing a dependency")
	}

	service := &server{
		Name:            conf.Service.Name,
		Version:         version,
		StartTime:       time.Now(),
		Port:            -1,
		maxConnections:  conf.Service.MaxConnections,
		reportDirectory: filepath.Join(conf.Service.DataDirectory, "reports"),
		deps:            deps,
		runs:            newRunTable(deps.Mover),
	}

	// set up routing
	service.Router = mux.NewRouter()
	service.Router.Handle("/metrics", metrics.Handler()).Methods("GET")
	service.API = humamux.New(service.Router, huma.DefaultConfig(service.Name, service.Version))
	huma.Get(service.API, "/", service.getRoot)

	// API v1
	huma.Post(service.API, "/api/v1/moves", service.createMove)
	huma.Get(service.API, "/api/v1/moves/{id}", service.getMoveStatus)
	huma.Post(service.API, "/api/v1/prunes/file", service.pruneFile)
	huma.Post(service.API, "/api/v1/prunes/directory", service.pruneDirectory)
	huma.Get(service.API, "/api/v1/jobs", service.getJobs)

	return service, nil
}

// NewService constructs the API service from the configuration and the
// components it drives.
func NewService(conf config.Config, deps Dependencies) (Service, error) {
	return newServer(conf, deps)
}

// starts the service
func (service *server) Start(port int) error {
	slog.Info(fmt.Sprintf("Starting %s service on port %d...", service.Name, port))
	slog.Info(fmt.Sprintf("(Accepting up to %d connections)", service.maxConnections))

	service.StartTime = time.Now()

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, service.maxConnections)

	// start the server
	service.Server = &http.Server{
		Handler: service.Router}
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefully shuts down the service without interrupting active connections
func (service *server) Shutdown(ctx context.Context) error {
	var err error
	if service.Server != nil {
		err = service.Server.Shutdown(ctx)
	}
	service.runs.Stop()
	return err
}

// closes down the service abruptly, freeing all resources
func (service *server) Close() {
	if service.Server != nil {
		service.Server.Close()
	}
	service.runs.Stop()
}
