package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/unbasical/webship/internal/pkg/api/apicommon"
	"github.com/unbasical/webship/pkg/client/deployapi"
)

func printDeployment(resp *apicommon.DeploymentResponse) error {
	respJSON, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", respJSON)
	return nil
}

// trigger asks a webship server to deploy a snapshot. With --wait it blocks
// until the run finishes and exits with a code derived from its state.
func (args *cliArgs) trigger(ctx context.Context) error {
	c := deployapi.NewClient(args.Trigger.Server, args.Trigger.Token)
	id, err := c.CreateDeployment(ctx, args.Trigger.Environment, args.Trigger.Snapshot)
	if err != nil {
		return err
	}
	if !args.Trigger.Wait {
		fmt.Println(id)
		return nil
	}
	log.Infof("deployment run %q accepted, waiting for completion", id)
	resp, err := c.WaitForCompletion(ctx, id)
	if err != nil {
		return err
	}
	if err := printDeployment(resp); err != nil {
		return err
	}
	if code := exitCodeForState(resp.State); code != 0 {
		os.Exit(code)
	}
	return nil
}

// status shows one deployment run on a webship server.
func (args *cliArgs) status(ctx context.Context) error {
	c := deployapi.NewClient(args.Status.Server, args.Status.Token)
	resp, err := c.GetDeployment(ctx, args.Status.ID)
	if err != nil {
		return err
	}
	return printDeployment(resp)
}
