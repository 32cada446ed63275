package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"oras.land/oras-go/v2/registry/remote/auth"

	"github.com/unbasical/webship/configs"
	"github.com/unbasical/webship/internal/pkg/snapshot"
)

// getCredentialFunc builds registry credentials from the CLI flags.
// Returns nil when no credentials were provided, which makes the registry
// client fall back to anonymous access.
func (args *cliArgs) getCredentialFunc(repoName string) (auth.CredentialFunc, error) {
	host, _, _ := strings.Cut(repoName, "/")
	if args.RegistryToken != "" {
		return auth.StaticCredential(host, auth.Credential{
			AccessToken: args.RegistryToken,
		}), nil
	}
	if args.RegistryUser != "" || args.RegistryPassword != "" {
		if args.RegistryUser == "" || args.RegistryPassword == "" {
			return nil, errors.New("registry user and password must be provided together")
		}
		return auth.StaticCredential(host, auth.Credential{
			Username: args.RegistryUser,
			Password: args.RegistryPassword,
		}), nil
	}
	return nil, nil
}

// newPublisher builds a snapshot publisher from the config file and the
// registry related CLI flags.
func (args *cliArgs) newPublisher(cfg *configs.ServerConfigFile) (*snapshot.Publisher, error) {
	repoName := cfg.Snapshots.Repository
	if repoName == "" {
		return nil, errors.New("no snapshot repository is configured")
	}
	credentials, err := args.getCredentialFunc(repoName)
	if err != nil {
		return nil, err
	}
	plainHTTP := cfg.Snapshots.EnableHTTP || args.InsecureAllowHTTP
	if plainHTTP {
		log.Warn("INSECURE REGISTRY CONNECTIONS ARE ENABLED, ONLY USE THIS FOR LOCAL DEVELOPMENT")
	}
	return snapshot.NewPublisher(repoName, credentials, plainHTTP)
}

// snapshots lists the published snapshot tags.
func (args *cliArgs) snapshots(ctx context.Context) error {
	cfg, err := configs.LoadConfigFile(args.ConfigPath)
	if err != nil {
		return err
	}
	publisher, err := args.newPublisher(cfg)
	if err != nil {
		return err
	}
	tags, err := publisher.Tags(ctx)
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		log.Info("no snapshots have been published yet")
		return nil
	}
	for _, tag := range tags {
		fmt.Println(tag)
	}
	return nil
}
