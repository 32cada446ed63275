// Package deployer turns a completed build into a live, cache-correct
// deployment with minimal network transfer and correct CDN invalidation.
package deployer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	backoff2 "github.com/unbasical/webship/pkg/backoff"

	"github.com/unbasical/webship/pkg/artifact"
	"github.com/unbasical/webship/pkg/cachepolicy"
	"github.com/unbasical/webship/pkg/cdn"
	"github.com/unbasical/webship/pkg/store"
)

// Deployer publishes artifact sets to an object store and invalidates the
// CDN in front of it. It is stateless between runs; everything it knows
// about the remote tree is read from the store at plan time.
type Deployer struct {
	store          store.ObjectStore
	invalidator    cdn.Invalidator
	policy         cachepolicy.Policy
	environment    string
	concurrency    int
	attempts       int
	backoffFactory backoff2.Factory
	verifyTimeout  time.Duration
	pollInterval   time.Duration
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithEnvironment sets the environment name used in logs and reports.
func WithEnvironment(name string) Option {
	return func(d *Deployer) {
		d.environment = name
	}
}

// WithPolicy sets the cache policy applied to uploads.
func WithPolicy(p cachepolicy.Policy) Option {
	return func(d *Deployer) {
		d.policy = p
	}
}

// WithConcurrency bounds the number of parallel object operations.
func WithConcurrency(n int) Option {
	return func(d *Deployer) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithRetryAttempts sets how often a failing object operation is attempted.
func WithRetryAttempts(n int) Option {
	return func(d *Deployer) {
		if n > 0 {
			d.attempts = n
		}
	}
}

// WithBackoff sets the backoff strategy factory used between retries.
func WithBackoff(f backoff2.Factory) Option {
	return func(d *Deployer) {
		d.backoffFactory = f
	}
}

// WithVerifyTimeout bounds how long the deployer waits for the CDN to
// confirm an invalidation.
func WithVerifyTimeout(timeout time.Duration) Option {
	return func(d *Deployer) {
		d.verifyTimeout = timeout
	}
}

// WithPollInterval sets the delay between invalidation status polls.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Deployer) {
		d.pollInterval = interval
	}
}

// New returns a Deployer that publishes to s and invalidates via inv.
func New(s store.ObjectStore, inv cdn.Invalidator, opts ...Option) *Deployer {
	d := &Deployer{
		store:          s,
		invalidator:    inv,
		policy:         cachepolicy.Default(),
		environment:    "default",
		concurrency:    8,
		attempts:       3,
		backoffFactory: backoff2.DefaultFactory(),
		verifyTimeout:  5 * time.Minute,
		pollInterval:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Plan lists the remote state and computes the plan for the given set
// without any side effect on the store.
func (d *Deployer) Plan(ctx context.Context, set *artifact.Set) (*Plan, error) {
	remote, err := d.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote state of %q: %w", d.store.Name(), err)
	}
	return ComputePlan(set, remote)
}

// Deploy runs plan, apply, invalidate and verify for the given artifact set.
//
// An error is only returned for failures before any side effect (listing the
// remote state, malformed input). Everything after that is recorded in the
// report: a run ends failed if any upload failed, partially failed if the
// content is live at the origin but CDN propagation is unconfirmed or the
// run was cancelled mid-apply, and succeeded otherwise. Failing deletes are
// noted but not fatal, a stale extra object is less harmful than a missing
// required one.
//
// The remote state is read once at plan time and not re-validated before
// each write, so a concurrent external mutation of the store between plan
// and apply goes undetected. Concurrent deploys to the same environment
// must be serialized by the caller, e.g. with a per-environment lease.
func (d *Deployer) Deploy(ctx context.Context, set *artifact.Set) (*Report, error) {
	report := &Report{
		Environment: d.environment,
		State:       StatePlanning,
		StartedAt:   time.Now().UTC(),
	}
	remote, err := d.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list remote state of %q: %w", d.store.Name(), err)
	}
	plan, err := ComputePlan(set, remote)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"environment": d.environment,
		"uploads":     len(plan.Uploads()),
		"skips":       len(plan.Skips()),
		"deletes":     len(plan.Deletes()),
	}).Info("computed deploy plan")

	report.State = StateApplying
	d.apply(ctx, set, plan, report)
	cancelled := ctx.Err() != nil

	if changed := report.changedPaths(); len(changed) > 0 && !cancelled {
		report.State = StateInvalidating
		d.invalidate(ctx, changed, report)
	}

	d.finish(report, cancelled)
	return report, nil
}

// apply executes the plan against the store: uploads first, then deletes,
// so a still-referenced path is never briefly absent. Operations of the
// same class run concurrently; one object's failure never aborts its
// siblings.
func (d *Deployer) apply(ctx context.Context, set *artifact.Set, plan *Plan, report *Report) {
	var mu sync.Mutex
	results := make([]PathResult, 0, len(plan.Actions))
	record := func(res PathResult) {
		mu.Lock()
		defer mu.Unlock()
		results = append(results, res)
	}
	for _, pa := range plan.Skips() {
		record(PathResult{Path: pa.Path, Action: ActionSkip, Outcome: OutcomeSkipped})
	}

	g := &errgroup.Group{}
	g.SetLimit(d.concurrency)
	for _, pa := range plan.Uploads() {
		pa := pa
		g.Go(func() error {
			record(d.uploadOne(ctx, set, pa, report))
			return nil
		})
	}
	// The wait is the upload/delete barrier.
	_ = g.Wait()

	g = &errgroup.Group{}
	g.SetLimit(d.concurrency)
	for _, pa := range plan.Deletes() {
		pa := pa
		g.Go(func() error {
			record(d.deleteOne(ctx, pa))
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})
	report.Results = results
	report.countOutcomes()
}

// uploadOne writes a single object with bounded retries.
func (d *Deployer) uploadOne(ctx context.Context, set *artifact.Set, pa PlannedAction, report *Report) PathResult {
	res := PathResult{Path: pa.Path, Action: ActionUpload}
	a, ok := set.Get(pa.Path)
	if !ok {
		res.Outcome = OutcomeFailed
		res.Error = "artifact missing from set"
		return res
	}
	directives := d.policy.Resolve(pa.Path)
	err := d.withRetries(ctx, &res, func() error {
		rc, err := a.Open()
		if err != nil {
			return err
		}
		err = d.store.Put(ctx, store.PutRequest{
			Path:         pa.Path,
			Content:      rc,
			Size:         a.Size,
			Digest:       a.Digest,
			ContentType:  a.ContentType,
			CacheControl: directives.CacheControl,
			ContentEncoding: func() string {
				if directives.Compress {
					return "gzip"
				}
				return ""
			}(),
		})
		closeErr := rc.Close()
		if err != nil {
			return err
		}
		return closeErr
	})
	if err != nil {
		log.WithError(err).Errorf("failed to upload %q after %d attempts", pa.Path, res.Attempts)
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		return res
	}
	atomic.AddInt64(&report.BytesUploaded, a.Size)
	res.Outcome = OutcomeUploaded
	return res
}

// deleteOne removes a single object with bounded retries.
func (d *Deployer) deleteOne(ctx context.Context, pa PlannedAction) PathResult {
	res := PathResult{Path: pa.Path, Action: ActionDelete}
	err := d.withRetries(ctx, &res, func() error {
		return d.store.Delete(ctx, pa.Path)
	})
	if err != nil {
		log.WithError(err).Warnf("failed to delete %q after %d attempts", pa.Path, res.Attempts)
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		return res
	}
	res.Outcome = OutcomeDeleted
	return res
}

// withRetries runs op with bounded backoff and records the attempt count.
func (d *Deployer) withRetries(ctx context.Context, res *PathResult, op func() error) error {
	strategy := d.backoffFactory()
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return err
		}
		res.Attempts = attempt
		if err = op(); err == nil {
			return nil
		}
		if attempt == d.attempts {
			break
		}
		if waitErr := strategy.Wait(); waitErr != nil {
			break
		}
	}
	return err
}

// invalidate submits one batch for the changed paths and polls the CDN
// until the invalidation is confirmed or the verify timeout is reached.
func (d *Deployer) invalidate(ctx context.Context, changed []string, report *Report) {
	rep := InvalidationReport{Paths: changed}
	defer func() {
		report.Invalidation = rep
	}()

	strategy := d.backoffFactory()
	var id string
	var err error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		id, err = d.invalidator.Submit(ctx, changed)
		if err == nil {
			break
		}
		log.WithError(err).Warnf("invalidation submit attempt %d/%d failed", attempt, d.attempts)
		if ctx.Err() != nil || attempt == d.attempts {
			break
		}
		if waitErr := strategy.Wait(); waitErr != nil {
			break
		}
	}
	if err != nil {
		rep.Error = fmt.Sprintf("failed to submit invalidation: %s", err)
		return
	}
	rep.Submitted = true
	rep.ID = id
	rep.Status = cdn.StatusPending
	log.Infof("submitted invalidation %q for %d paths", id, len(changed))

	report.State = StateVerifying
	deadline := time.Now().Add(d.verifyTimeout)
	for {
		status, statusErr := d.invalidator.Status(ctx, id)
		if statusErr != nil {
			rep.Error = statusErr.Error()
		} else {
			rep.Status = status
			rep.Error = ""
		}
		switch status {
		case cdn.StatusDone:
			rep.Confirmed = true
			return
		case cdn.StatusFailed:
			rep.Error = "CDN reported the invalidation as failed"
			return
		}
		if time.Now().After(deadline) {
			rep.Error = "timed out waiting for invalidation, propagation may still complete asynchronously"
			return
		}
		select {
		case <-ctx.Done():
			rep.Error = ctx.Err().Error()
			return
		case <-time.After(d.pollInterval):
		}
	}
}

// finish resolves the terminal state of the run.
func (d *Deployer) finish(report *Report, cancelled bool) {
	report.FinishedAt = time.Now().UTC()
	switch {
	case cancelled:
		report.State = StatePartiallyFailed
		report.note("deployment cancelled mid-apply, the remote store may hold a partial tree")
	case report.failedUploads():
		report.State = StateFailed
	case len(report.Invalidation.Paths) > 0 && !report.Invalidation.Confirmed:
		report.State = StatePartiallyFailed
		report.note("content is live at the origin but CDN propagation is unconfirmed")
	default:
		report.State = StateSucceeded
	}
	if report.failedDeletes() {
		report.note("some stale objects could not be deleted and remain in the store")
	}
	log.WithFields(log.Fields{
		"environment": report.Environment,
		"state":       report.State,
		"uploaded":    report.Uploaded,
		"deleted":     report.Deleted,
		"skipped":     report.Skipped,
		"failed":      report.Failed,
	}).Info("deployment finished")
}
