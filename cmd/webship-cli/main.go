package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	log "github.com/sirupsen/logrus"

	"github.com/unbasical/webship/common"
	"github.com/unbasical/webship/internal/pkg/utils/logutils"
	"github.com/unbasical/webship/pkg/deployer"
)

// cliArgs holds the parsed command line arguments.
type cliArgs struct {
	ConfigPath        string
	InsecureAllowHTTP bool
	RegistryToken     string
	RegistryUser      string
	RegistryPassword  string

	Plan struct {
		Environment string
		Dir         string
	}
	Deploy struct {
		Environment string
		Dir         string
		Snapshot    string
	}
	Rollback struct {
		Environment string
		Snapshot    string
	}
	Trigger struct {
		Server      string
		Token       string
		Environment string
		Snapshot    string
		Wait        bool
	}
	Status struct {
		Server string
		Token  string
		ID     string
	}
}

// exitCodeForState maps a terminal run state to the process exit code.
// Partial failures are distinguishable from hard failures so callers can
// decide whether a retry of the invalidation is enough.
func exitCodeForState(state deployer.RunState) int {
	switch state {
	case deployer.StateSucceeded:
		return 0
	case deployer.StatePartiallyFailed:
		return 2
	default:
		return 1
	}
}

func main() {
	args := &cliArgs{}
	var (
		app = kingpin.New("webship-cli", "A command-line tool to deploy static sites to object stores and CDNs")

		plan      = app.Command("plan", "Show what a deployment would change without touching the target")
		deploy    = app.Command("deploy", "Deploy a directory to an environment")
		rollback  = app.Command("rollback", "Deploy a previously published snapshot to an environment")
		snapshots = app.Command("snapshots", "List published snapshot tags")
		trigger   = app.Command("trigger", "Ask a webship server to deploy a snapshot")
		status    = app.Command("status", "Show the state of a deployment run on a webship server")

		logLevel  = app.Flag("log-level", "Log-Level, must be one of [DEBUG, INFO, WARN, ERROR]").Default("INFO").Envar("LOG_LEVEL").Enum("DEBUG", "INFO", "WARN", "ERROR", "debug", "info", "warn", "error")
		logFormat = app.Flag("log-format", "Log-Format, must be one of [TEXT, JSON]").Default("TEXT").Envar("LOG_FORMAT").Enum("TEXT", "JSON")
	)
	app.HelpFlag.Short('h')
	app.Version(common.Version())

	app.Flag("config", "Path to the environments config file").Default("config.yaml").Envar("WEBSHIP_CONFIG").StringVar(&args.ConfigPath)
	app.Flag("insecure-allow-http", "Allow plain HTTP connections to the snapshot registry, only use this for local development").BoolVar(&args.InsecureAllowHTTP)
	app.Flag("registry-token", "Access token for the snapshot registry").Envar("WEBSHIP_REGISTRY_TOKEN").StringVar(&args.RegistryToken)
	app.Flag("registry-user", "Username for the snapshot registry").Envar("WEBSHIP_REGISTRY_USER").StringVar(&args.RegistryUser)
	app.Flag("registry-password", "Password for the snapshot registry").Envar("WEBSHIP_REGISTRY_PASSWORD").StringVar(&args.RegistryPassword)

	plan.Arg("environment", "Environment to plan against").Required().StringVar(&args.Plan.Environment)
	plan.Flag("dir", "Directory with the built site").Default(".").ExistingDirVar(&args.Plan.Dir)

	deploy.Arg("environment", "Environment to deploy to").Required().StringVar(&args.Deploy.Environment)
	deploy.Flag("dir", "Directory with the built site").Default(".").ExistingDirVar(&args.Deploy.Dir)
	deploy.Flag("snapshot", "Publish the deployed directory as a snapshot under this tag").StringVar(&args.Deploy.Snapshot)

	rollback.Arg("environment", "Environment to roll back").Required().StringVar(&args.Rollback.Environment)
	rollback.Flag("snapshot", "Tag of the snapshot to deploy").Required().StringVar(&args.Rollback.Snapshot)

	trigger.Flag("server", "URL of the webship server").Required().Envar("WEBSHIP_SERVER").StringVar(&args.Trigger.Server)
	trigger.Flag("token", "API token for the webship server").Envar("WEBSHIP_TOKEN").StringVar(&args.Trigger.Token)
	trigger.Flag("environment", "Environment to deploy to").Required().StringVar(&args.Trigger.Environment)
	trigger.Flag("snapshot", "Tag of the snapshot to deploy").Required().StringVar(&args.Trigger.Snapshot)
	trigger.Flag("wait", "Wait for the run to finish and exit with its result").BoolVar(&args.Trigger.Wait)

	status.Flag("server", "URL of the webship server").Required().Envar("WEBSHIP_SERVER").StringVar(&args.Status.Server)
	status.Flag("token", "API token for the webship server").Envar("WEBSHIP_TOKEN").StringVar(&args.Status.Token)
	status.Arg("id", "ID of the deployment run").Required().StringVar(&args.Status.ID)

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	logutils.SetLogLevel(*logLevel)
	logutils.SetLogFormat(*logFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case plan.FullCommand():
		err = args.plan(ctx)
	case deploy.FullCommand():
		err = args.deploy(ctx)
	case rollback.FullCommand():
		err = args.rollback(ctx)
	case snapshots.FullCommand():
		err = args.snapshots(ctx)
	case trigger.FullCommand():
		err = args.trigger(ctx)
	case status.FullCommand():
		err = args.status(ctx)
	}
	if err != nil {
		log.Fatal(err)
	}
}
