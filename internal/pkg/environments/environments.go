// Package environments resolves named deployment targets from the config
// file into concrete store, CDN and cache policy instances.
package environments

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/unbasical/webship/configs"
	"github.com/unbasical/webship/internal/pkg/cdn/cloudfront"
	"github.com/unbasical/webship/internal/pkg/store/fsstore"
	"github.com/unbasical/webship/internal/pkg/store/s3store"
	"github.com/unbasical/webship/pkg/cachepolicy"
	cdn2 "github.com/unbasical/webship/pkg/cdn"
	store2 "github.com/unbasical/webship/pkg/store"
)

// Target is a fully resolved deployment environment.
type Target struct {
	Name        string
	Store       store2.ObjectStore
	Invalidator cdn2.Invalidator
	Policy      cachepolicy.Policy
}

// Resolve builds the target for one environment config. The AWS config is
// built once here and injected into the clients, so the trust boundary is
// explicit instead of ambient.
func Resolve(ctx context.Context, name string, cfg configs.EnvironmentConfig) (*Target, error) {
	target := &Target{Name: name}

	var awsCfg aws.Config
	needsAWS := cfg.Store.Kind == "s3" || cfg.CDN.Kind == "cloudfront"
	if needsAWS {
		var err error
		awsCfg, err = loadAWSConfig(ctx, cfg.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config for environment %q: %w", name, err)
		}
	}

	switch cfg.Store.Kind {
	case "s3":
		target.Store = s3store.New(awsCfg, s3store.Config{
			Bucket:    cfg.Store.Bucket,
			Prefix:    cfg.Store.Prefix,
			Endpoint:  cfg.Store.Endpoint,
			PathStyle: cfg.Store.PathStyle,
		})
	case "filesystem":
		s, err := fsstore.New(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		target.Store = s
	default:
		return nil, fmt.Errorf("environment %q: unsupported store kind %q", name, cfg.Store.Kind)
	}

	switch cfg.CDN.Kind {
	case "cloudfront":
		if cfg.CDN.DistributionID == "" {
			return nil, fmt.Errorf("environment %q: cloudfront requires a distribution-id", name)
		}
		target.Invalidator = cloudfront.New(awsCfg, cfg.CDN.DistributionID)
	case "none", "":
		target.Invalidator = cdn2.Noop()
	default:
		return nil, fmt.Errorf("environment %q: unsupported cdn kind %q", name, cfg.CDN.Kind)
	}

	if len(cfg.Cache) == 0 {
		target.Policy = cachepolicy.Default()
	} else {
		policy, err := cachepolicy.New(cfg.Cache)
		if err != nil {
			return nil, fmt.Errorf("environment %q: invalid cache policy: %w", name, err)
		}
		target.Policy = policy
	}
	return target, nil
}

// ResolveAll resolves every environment from the config file.
func ResolveAll(ctx context.Context, cfgs map[string]configs.EnvironmentConfig) (map[string]*Target, error) {
	targets := make(map[string]*Target, len(cfgs))
	for name, cfg := range cfgs {
		target, err := Resolve(ctx, name, cfg)
		if err != nil {
			return nil, err
		}
		targets[name] = target
	}
	return targets, nil
}

// loadAWSConfig builds the scoped AWS config for one store configuration.
// Static credentials from the config file win over the default chain.
func loadAWSConfig(ctx context.Context, cfg configs.StoreConfiguration) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	return awsconfig.LoadDefaultConfig(ctx, opts...)
}
