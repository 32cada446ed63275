package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/unbasical/webship/configs"
	"github.com/unbasical/webship/internal/pkg/environments"
	"github.com/unbasical/webship/internal/pkg/lease"
	"github.com/unbasical/webship/pkg/artifact"
	"github.com/unbasical/webship/pkg/deployer"
)

// loadTarget resolves one environment from the config file.
func (args *cliArgs) loadTarget(ctx context.Context, environment string) (*environments.Target, *configs.ServerConfigFile, error) {
	cfg, err := configs.LoadConfigFile(args.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	envCfg, ok := cfg.Environments[environment]
	if !ok {
		return nil, nil, fmt.Errorf("environment %q is not configured in %q", environment, args.ConfigPath)
	}
	target, err := environments.Resolve(ctx, environment, envCfg)
	if err != nil {
		return nil, nil, err
	}
	return target, cfg, nil
}

// plan shows the changes a deployment of the directory would make.
func (args *cliArgs) plan(ctx context.Context) error {
	target, _, err := args.loadTarget(ctx, args.Plan.Environment)
	if err != nil {
		return err
	}
	set, err := artifact.ScanDir(args.Plan.Dir)
	if err != nil {
		return err
	}
	d := deployer.New(target.Store, target.Invalidator,
		deployer.WithEnvironment(target.Name),
		deployer.WithPolicy(target.Policy),
	)
	plan, err := d.Plan(ctx, set)
	if err != nil {
		return err
	}
	if plan.IsNoop() {
		log.Infof("environment %q is up to date, nothing to do", target.Name)
		return nil
	}
	for _, a := range plan.Actions {
		fmt.Printf("%-8s %s\n", a.Action, a.Path)
	}
	fmt.Printf("%d to upload, %d to delete, %d unchanged\n",
		len(plan.Uploads()), len(plan.Deletes()), len(plan.Skips()))
	return nil
}

// deployDir deploys a scanned directory under the environment lease and
// exits with a code derived from the terminal run state.
func (args *cliArgs) deployDir(ctx context.Context, target *environments.Target, cfg *configs.ServerConfigFile, dir string) error {
	leaseDir := cfg.LeaseDirectory
	if leaseDir == "" {
		leaseDir = "webship-leases"
	}
	envLease, err := lease.Acquire(ctx, leaseDir, target.Name)
	if err != nil {
		return fmt.Errorf("environment %q is locked by another deployment: %w", target.Name, err)
	}
	defer func() {
		_ = envLease.Release()
	}()

	set, err := artifact.ScanDir(dir)
	if err != nil {
		return err
	}
	d := deployer.New(target.Store, target.Invalidator,
		deployer.WithEnvironment(target.Name),
		deployer.WithPolicy(target.Policy),
	)
	report, err := d.Deploy(ctx, set)
	if err != nil {
		return err
	}
	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", reportJSON)
	if code := exitCodeForState(report.State); code != 0 {
		os.Exit(code)
	}
	return nil
}

// deploy pushes a directory to an environment and optionally publishes it as
// a snapshot afterwards.
func (args *cliArgs) deploy(ctx context.Context) error {
	target, cfg, err := args.loadTarget(ctx, args.Deploy.Environment)
	if err != nil {
		return err
	}
	if args.Deploy.Snapshot != "" {
		// Publish before deploying so a rollback target exists even if the
		// deployment fails halfway.
		publisher, err := args.newPublisher(cfg)
		if err != nil {
			return err
		}
		desc, err := publisher.Push(ctx, args.Deploy.Dir, args.Deploy.Snapshot)
		if err != nil {
			return fmt.Errorf("failed to publish snapshot %q: %w", args.Deploy.Snapshot, err)
		}
		log.Infof("published snapshot %q (digest: %s)", args.Deploy.Snapshot, desc.Digest.String())
	}
	return args.deployDir(ctx, target, cfg, args.Deploy.Dir)
}

// rollback deploys a previously published snapshot.
func (args *cliArgs) rollback(ctx context.Context) error {
	target, cfg, err := args.loadTarget(ctx, args.Rollback.Environment)
	if err != nil {
		return err
	}
	publisher, err := args.newPublisher(cfg)
	if err != nil {
		return err
	}
	dir, err := os.MkdirTemp("", "webship_rollback_*")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.RemoveAll(dir)
	}()
	if err := publisher.Fetch(ctx, args.Rollback.Snapshot, dir); err != nil {
		return fmt.Errorf("failed to fetch snapshot %q: %w", args.Rollback.Snapshot, err)
	}
	log.Infof("rolling %q back to snapshot %q", target.Name, args.Rollback.Snapshot)
	return args.deployDir(ctx, target, cfg, dir)
}
