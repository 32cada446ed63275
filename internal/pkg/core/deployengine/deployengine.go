// Package deployengine executes deployment requests against resolved
// environments, including graceful shutdowns. Errors and responses are
// handled by apidelegate.APIDelegate implementations.
package deployengine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/unbasical/webship/internal/pkg/core/metrics"
	apidelegate "github.com/unbasical/webship/internal/pkg/delegates/api"
	"github.com/unbasical/webship/internal/pkg/environments"
	error2 "github.com/unbasical/webship/internal/pkg/error"
	"github.com/unbasical/webship/internal/pkg/lease"
	"github.com/unbasical/webship/pkg/artifact"
	"github.com/unbasical/webship/pkg/deployer"

	"github.com/unbasical/webship/internal/pkg/api/apicommon"
)

// maxRetainedRuns bounds the in-memory run registry.
const maxRetainedRuns = 256

// SnapshotFetcher loads a published snapshot tree into a directory.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, ref, dir string) error
}

// Engine handles deployment requests.
type Engine interface {
	HandleCreateDeployment(apiDelegate apidelegate.APIDelegate)
	HandleGetDeployment(apiDelegate apidelegate.APIDelegate)
	HandleListEnvironments(apiDelegate apidelegate.APIDelegate)
	Stop(ctx context.Context)
}

type runRecord struct {
	id          string
	environment string
	snapshotRef string
	state       deployer.RunState
	createdAt   time.Time
	report      *deployer.Report
	err         string
}

func (r *runRecord) response() apicommon.DeploymentResponse {
	return apicommon.DeploymentResponse{
		ID:          r.id,
		Environment: r.environment,
		SnapshotRef: r.snapshotRef,
		State:       r.state,
		CreatedAt:   r.createdAt,
		Report:      r.report,
		Error:       r.err,
	}
}

type engine struct {
	targets  map[string]*environments.Target
	fetcher  SnapshotFetcher
	apiToken string
	leaseDir string

	mu       sync.Mutex
	runs     map[string]*runRecord
	runOrder []string
	// envLocks serializes in-process deploys per environment; the file
	// lease additionally guards against other processes.
	envLocks map[string]*sync.Mutex

	wg *sync.WaitGroup
}

// NewEngine constructs a deployengine.Engine over the resolved targets.
func NewEngine(targets map[string]*environments.Target, fetcher SnapshotFetcher, apiToken, leaseDir string) Engine {
	envLocks := make(map[string]*sync.Mutex, len(targets))
	for name := range targets {
		envLocks[name] = &sync.Mutex{}
	}
	return &engine{
		targets:  targets,
		fetcher:  fetcher,
		apiToken: apiToken,
		leaseDir: leaseDir,
		runs:     make(map[string]*runRecord),
		envLocks: envLocks,
		wg:       &sync.WaitGroup{},
	}
}

// Stop waits for in-flight deployments until the context ends.
func (e *engine) Stop(ctx context.Context) {
	doneChan := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(doneChan)
	}()
	select {
	case <-ctx.Done():
		log.Debug(ctx.Err())
	case <-doneChan:
		log.Debug("all deployment runs have finished")
	}
}

// authorize checks the client token when the server requires one.
func (e *engine) authorize(apiDelegate apidelegate.APIDelegate) bool {
	if e.apiToken == "" {
		return true
	}
	token, err := apiDelegate.ExtractClientToken()
	if err != nil || token != e.apiToken {
		apiDelegate.HandleError(error2.ErrUnauthorized, "")
		return false
	}
	return true
}

func (e *engine) HandleCreateDeployment(apiDelegate apidelegate.APIDelegate) {
	if !e.authorize(apiDelegate) {
		return
	}
	environment, snapshotRef, err := apiDelegate.ExtractCreateParams()
	if err != nil {
		log.WithError(err).Error("Error extracting parameters")
		apiDelegate.HandleError(err, "")
		return
	}
	target, ok := e.targets[environment]
	if !ok {
		apiDelegate.HandleError(error2.ErrUnknownEnvironment, environment)
		return
	}

	record := &runRecord{
		id:          uuid.NewString(),
		environment: environment,
		snapshotRef: snapshotRef,
		state:       deployer.StatePlanning,
		createdAt:   time.Now().UTC(),
	}
	e.storeRun(record)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.run(record, target)
	}()
	apiDelegate.HandleAccepted(apicommon.CreateDeploymentResponse{ID: record.id})
}

func (e *engine) HandleGetDeployment(apiDelegate apidelegate.APIDelegate) {
	if !e.authorize(apiDelegate) {
		return
	}
	id, err := apiDelegate.ExtractRunID()
	if err != nil {
		apiDelegate.HandleError(err, "")
		return
	}
	e.mu.Lock()
	record, ok := e.runs[id]
	var resp apicommon.DeploymentResponse
	if ok {
		resp = record.response()
	}
	e.mu.Unlock()
	if !ok {
		apiDelegate.HandleError(error2.ErrDeploymentNotFound, id)
		return
	}
	apiDelegate.HandleSuccess(resp)
}

func (e *engine) HandleListEnvironments(apiDelegate apidelegate.APIDelegate) {
	if !e.authorize(apiDelegate) {
		return
	}
	names := make([]string, 0, len(e.targets))
	for name := range e.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	apiDelegate.HandleSuccess(apicommon.ListEnvironmentsResponse{Environments: names})
}

// run executes one deployment: fetch the snapshot, scan it and deploy it
// under the environment lease.
func (e *engine) run(record *runRecord, target *environments.Target) {
	ctx := context.Background()
	start := time.Now()

	e.envLocks[target.Name].Lock()
	defer e.envLocks[target.Name].Unlock()

	envLease, err := lease.Acquire(ctx, e.leaseDir, target.Name)
	if err != nil {
		e.failRun(record, fmt.Errorf("%w: %s", error2.ErrEnvironmentBusy, err))
		return
	}
	defer func() {
		_ = envLease.Release()
	}()

	dir, err := os.MkdirTemp("", "webship_deploy_*")
	if err != nil {
		e.failRun(record, err)
		return
	}
	defer func() {
		_ = os.RemoveAll(dir)
	}()
	if err := e.fetcher.Fetch(ctx, record.snapshotRef, dir); err != nil {
		e.failRun(record, fmt.Errorf("%w: %s", error2.ErrSnapshotUnavailable, err))
		return
	}
	set, err := artifact.ScanDir(dir)
	if err != nil {
		e.failRun(record, fmt.Errorf("%w: %s", error2.ErrMalformedArtifacts, err))
		return
	}

	d := deployer.New(target.Store, target.Invalidator,
		deployer.WithEnvironment(target.Name),
		deployer.WithPolicy(target.Policy),
	)
	report, err := d.Deploy(ctx, set)
	if err != nil {
		e.failRun(record, err)
		return
	}

	e.mu.Lock()
	record.state = report.State
	record.report = report
	e.mu.Unlock()

	metrics.DeploymentsTotal.With(prometheus.Labels{
		"environment": target.Name,
		"state":       string(report.State),
	}).Inc()
	metrics.DeploymentDuration.With(prometheus.Labels{
		"environment": target.Name,
	}).Observe(time.Since(start).Seconds())
	metrics.ObjectsUploadedTotal.Add(float64(report.Uploaded))
	metrics.BytesUploadedTotal.Add(float64(report.BytesUploaded))
}

func (e *engine) failRun(record *runRecord, err error) {
	log.WithError(err).Errorf("deployment run %q failed", record.id)
	e.mu.Lock()
	record.state = deployer.StateFailed
	record.err = err.Error()
	e.mu.Unlock()
	metrics.DeploymentsTotal.With(prometheus.Labels{
		"environment": record.environment,
		"state":       string(deployer.StateFailed),
	}).Inc()
}

// storeRun registers the run and evicts the oldest records above the
// retention bound.
func (e *engine) storeRun(record *runRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[record.id] = record
	e.runOrder = append(e.runOrder, record.id)
	for len(e.runOrder) > maxRetainedRuns {
		evicted := e.runOrder[0]
		e.runOrder = e.runOrder[1:]
		delete(e.runs, evicted)
	}
}
