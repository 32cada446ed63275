package configs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/unbasical/webship/pkg/cachepolicy"
)

// ServerConfig bundles the parsed config file with the CLI options of one
// server invocation.
type ServerConfig struct {
	ConfigFile ServerConfigFile
	CliOpts    CLIOptions
}

// CLIOptions are the flags the server binary was started with.
type CLIOptions struct {
	Host     string
	HTTPPort uint16
	LogLevel string
}

// ServerConfigFile is the YAML config file of the webship server.
type ServerConfigFile struct {
	// Environments maps target names to their deployment descriptors.
	Environments map[string]EnvironmentConfig `yaml:"environments"`
	// Snapshots configures the registry snapshots are published to.
	Snapshots SnapshotConfiguration `yaml:"snapshots"`
	// TrustedProxies is handed to the HTTP engine.
	TrustedProxies []string `yaml:"trusted-proxies"`
	// APIToken, when set, is required as a bearer token on deploy requests.
	APIToken string `yaml:"api-token"`
	// LeaseDirectory holds the per-environment deploy lock files.
	LeaseDirectory string `yaml:"lease-directory"`
}

// EnvironmentConfig resolves a named target to a store, a CDN and a cache policy.
type EnvironmentConfig struct {
	Store StoreConfiguration `yaml:"store"`
	CDN   CDNConfiguration   `yaml:"cdn"`
	Cache []cachepolicy.Rule `yaml:"cache"`
}

// StoreConfiguration describes the object store of one environment.
type StoreConfiguration struct {
	// Kind is one of "s3" and "filesystem".
	Kind   string `yaml:"kind"`
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
	Prefix string `yaml:"prefix"`
	// Endpoint overrides the S3 endpoint for S3-compatible stores.
	Endpoint string `yaml:"endpoint"`
	// PathStyle forces path-style addressing.
	PathStyle bool `yaml:"path-style"`
	// AccessKey and SecretKey select static credentials. When empty the
	// default AWS credential chain (e.g. an OIDC-derived role) is used.
	AccessKey string `yaml:"access-key"`
	SecretKey string `yaml:"secret-key"`
	// Path is the root directory of a filesystem store.
	Path string `yaml:"path"`
}

// CDNConfiguration describes the CDN in front of one environment.
type CDNConfiguration struct {
	// Kind is one of "cloudfront" and "none".
	Kind           string `yaml:"kind"`
	DistributionID string `yaml:"distribution-id"`
}

// SnapshotConfiguration describes where site snapshots are published.
type SnapshotConfiguration struct {
	// Repository is the OCI repository reference, e.g. "registry.example.com/site/snapshots".
	Repository string `yaml:"repository"`
	// EnableHTTP allows plain HTTP registry connections.
	EnableHTTP bool `yaml:"enable-http"`
}

// LoadConfigFile reads and strictly decodes the config file at the path.
func LoadConfigFile(path string) (*ServerConfigFile, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %q: %w", path, err)
	}
	defer func() {
		_ = fp.Close()
	}()
	var cfg ServerConfigFile
	decoder := yaml.NewDecoder(fp)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return &cfg, nil
}
