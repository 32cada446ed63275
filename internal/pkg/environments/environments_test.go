package environments

import (
	"context"
	"testing"

	"github.com/unbasical/webship/configs"
)

// TestResolveFilesystemTarget covers the CDN-less local target.
func TestResolveFilesystemTarget(t *testing.T) {
	target, err := Resolve(context.Background(), "preview", configs.EnvironmentConfig{
		Store: configs.StoreConfiguration{Kind: "filesystem", Path: t.TempDir()},
		CDN:   configs.CDNConfiguration{Kind: "none"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if target.Store == nil || target.Invalidator == nil {
		t.Fatal("incomplete target")
	}
	if target.Invalidator.Name() != "none" {
		t.Errorf("expected noop invalidator, got %q", target.Invalidator.Name())
	}
	// Default policy applies when no cache rules are configured.
	if got := target.Policy.Resolve("index.html").CacheControl; got != "no-cache" {
		t.Errorf("unexpected default policy resolution: %q", got)
	}
}

// TestResolveRejectsUnknownKinds verifies config validation.
func TestResolveRejectsUnknownKinds(t *testing.T) {
	_, err := Resolve(context.Background(), "x", configs.EnvironmentConfig{
		Store: configs.StoreConfiguration{Kind: "ftp"},
	})
	if err == nil {
		t.Fatal("expected error for unknown store kind")
	}
	_, err = Resolve(context.Background(), "x", configs.EnvironmentConfig{
		Store: configs.StoreConfiguration{Kind: "filesystem", Path: t.TempDir()},
		CDN:   configs.CDNConfiguration{Kind: "akamai"},
	})
	if err == nil {
		t.Fatal("expected error for unknown cdn kind")
	}
}

// TestResolveRequiresDistributionID makes sure cloudfront targets are validated.
func TestResolveRequiresDistributionID(t *testing.T) {
	_, err := Resolve(context.Background(), "prod", configs.EnvironmentConfig{
		Store: configs.StoreConfiguration{Kind: "filesystem", Path: t.TempDir()},
		CDN:   configs.CDNConfiguration{Kind: "cloudfront"},
	})
	if err == nil {
		t.Fatal("expected error for missing distribution id")
	}
}
