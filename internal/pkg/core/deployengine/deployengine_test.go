package deployengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/unbasical/webship/internal/pkg/api/apicommon"
	"github.com/unbasical/webship/internal/pkg/environments"
	error2 "github.com/unbasical/webship/internal/pkg/error"
	"github.com/unbasical/webship/internal/pkg/utils/testutils"
	"github.com/unbasical/webship/pkg/cachepolicy"
	"github.com/unbasical/webship/pkg/deployer"
)

// fakeDelegate drives the engine without HTTP.
type fakeDelegate struct {
	environment string
	snapshotRef string
	runID       string
	token       string

	err      error
	success  any
	accepted any
}

func (f *fakeDelegate) ExtractCreateParams() (string, string, error) {
	return f.environment, f.snapshotRef, nil
}

func (f *fakeDelegate) ExtractRunID() (string, error) {
	return f.runID, nil
}

func (f *fakeDelegate) ExtractClientToken() (string, error) {
	if f.token == "" {
		return "", errors.New("no token")
	}
	return f.token, nil
}

func (f *fakeDelegate) HandleError(err error, _ string) {
	f.err = err
}

func (f *fakeDelegate) HandleSuccess(response any) {
	f.success = response
}

func (f *fakeDelegate) HandleAccepted(response any) {
	f.accepted = response
}

// fakeFetcher materializes a fixed tree for any snapshot ref.
type fakeFetcher struct {
	files map[string][]byte
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, dir string) error {
	if f.err != nil {
		return f.err
	}
	for p, content := range f.files {
		fp := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(fp), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(fp, content, 0644); err != nil {
			return err
		}
	}
	return nil
}

func newTestEngine(t *testing.T, fetcher SnapshotFetcher, token string) (Engine, *testutils.MemoryStore) {
	t.Helper()
	s := testutils.NewMemoryStore()
	targets := map[string]*environments.Target{
		"production": {
			Name:        "production",
			Store:       s,
			Invalidator: &testutils.FakeInvalidator{},
			Policy:      cachepolicy.Default(),
		},
	}
	return NewEngine(targets, fetcher, token, t.TempDir()), s
}

func waitForTerminal(t *testing.T, e Engine, id string) apicommon.DeploymentResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		d := &fakeDelegate{runID: id}
		e.HandleGetDeployment(d)
		if d.err != nil {
			t.Fatalf("unexpected error: %v", d.err)
		}
		resp, ok := d.success.(apicommon.DeploymentResponse)
		if !ok {
			t.Fatalf("unexpected response type %T", d.success)
		}
		if resp.State.IsTerminal() {
			return resp
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %q did not finish, state %s", id, resp.State)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestCreateAndGetDeployment runs a full in-memory deployment through the engine.
func TestCreateAndGetDeployment(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string][]byte{
		"index.html": []byte("<html></html>"),
		"app.js":     []byte("console.log(1)"),
	}}
	e, s := newTestEngine(t, fetcher, "")

	d := &fakeDelegate{environment: "production", snapshotRef: "v1"}
	e.HandleCreateDeployment(d)
	if d.err != nil {
		t.Fatalf("unexpected error: %v", d.err)
	}
	created, ok := d.accepted.(apicommon.CreateDeploymentResponse)
	if !ok || created.ID == "" {
		t.Fatalf("expected accepted response with run id, got %v", d.accepted)
	}

	resp := waitForTerminal(t, e, created.ID)
	if resp.State != deployer.StateSucceeded {
		t.Fatalf("expected succeeded, got %s (%+v)", resp.State, resp)
	}
	if resp.Report == nil || resp.Report.Uploaded != 2 {
		t.Fatalf("unexpected report: %+v", resp.Report)
	}
	if _, ok := s.Object("index.html"); !ok {
		t.Error("index.html not published")
	}
	e.Stop(context.Background())
}

// TestGetUnknownDeployment covers the 404 path.
func TestGetUnknownDeployment(t *testing.T) {
	e, _ := newTestEngine(t, &fakeFetcher{}, "")
	d := &fakeDelegate{runID: "no-such-run"}
	e.HandleGetDeployment(d)
	if !errors.Is(d.err, error2.ErrDeploymentNotFound) {
		t.Fatalf("expected ErrDeploymentNotFound, got %v", d.err)
	}
}

// TestCreateUnknownEnvironment covers the unknown target path.
func TestCreateUnknownEnvironment(t *testing.T) {
	e, _ := newTestEngine(t, &fakeFetcher{}, "")
	d := &fakeDelegate{environment: "moon", snapshotRef: "v1"}
	e.HandleCreateDeployment(d)
	if !errors.Is(d.err, error2.ErrUnknownEnvironment) {
		t.Fatalf("expected ErrUnknownEnvironment, got %v", d.err)
	}
}

// TestSnapshotFetchFailure surfaces a failed fetch as a failed run.
func TestSnapshotFetchFailure(t *testing.T) {
	e, _ := newTestEngine(t, &fakeFetcher{err: fmt.Errorf("registry unreachable")}, "")
	d := &fakeDelegate{environment: "production", snapshotRef: "v1"}
	e.HandleCreateDeployment(d)
	created := d.accepted.(apicommon.CreateDeploymentResponse)

	resp := waitForTerminal(t, e, created.ID)
	if resp.State != deployer.StateFailed {
		t.Fatalf("expected failed, got %s", resp.State)
	}
	if resp.Error == "" {
		t.Error("expected error detail in response")
	}
}

// TestAPITokenRequired verifies bearer token enforcement.
func TestAPITokenRequired(t *testing.T) {
	e, _ := newTestEngine(t, &fakeFetcher{}, "secret")

	d := &fakeDelegate{environment: "production", snapshotRef: "v1"}
	e.HandleCreateDeployment(d)
	if !errors.Is(d.err, error2.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", d.err)
	}

	d = &fakeDelegate{environment: "production", snapshotRef: "v1", token: "wrong"}
	e.HandleCreateDeployment(d)
	if !errors.Is(d.err, error2.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for wrong token, got %v", d.err)
	}

	d = &fakeDelegate{environment: "moon", snapshotRef: "v1", token: "secret"}
	e.HandleCreateDeployment(d)
	if !errors.Is(d.err, error2.ErrUnknownEnvironment) {
		t.Fatalf("expected pass-through with valid token, got %v", d.err)
	}
}

// TestListEnvironments returns the configured target names.
func TestListEnvironments(t *testing.T) {
	e, _ := newTestEngine(t, &fakeFetcher{}, "")
	d := &fakeDelegate{}
	e.HandleListEnvironments(d)
	resp, ok := d.success.(apicommon.ListEnvironmentsResponse)
	if !ok {
		t.Fatalf("unexpected response %v", d.success)
	}
	if len(resp.Environments) != 1 || resp.Environments[0] != "production" {
		t.Fatalf("unexpected environments: %v", resp.Environments)
	}
}
