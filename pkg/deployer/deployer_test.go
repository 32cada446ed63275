package deployer

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/unbasical/webship/internal/pkg/utils/logutils"
	"github.com/unbasical/webship/internal/pkg/utils/testutils"
	"github.com/unbasical/webship/pkg/backoff"
	"github.com/unbasical/webship/pkg/cdn"
	"github.com/unbasical/webship/pkg/store"
)

func init() {
	logutils.SetupTestLogging()
}

func newTestDeployer(s store.ObjectStore, inv cdn.Invalidator, opts ...Option) *Deployer {
	base := []Option{
		WithEnvironment("test"),
		WithBackoff(func() backoff.Strategy {
			return backoff.NewConstantBackoff(time.Millisecond, 16)
		}),
		WithVerifyTimeout(time.Second),
		WithPollInterval(time.Millisecond),
	}
	return New(s, inv, append(base, opts...)...)
}

func resultFor(t *testing.T, report *Report, path string) PathResult {
	t.Helper()
	for _, res := range report.Results {
		if res.Path == path {
			return res
		}
	}
	t.Fatalf("no result for %q in %v", path, report.Results)
	return PathResult{}
}

// TestDeployFreshTarget deploys into an empty store and expects every path
// to be uploaded and invalidated.
func TestDeployFreshTarget(t *testing.T) {
	s := testutils.NewMemoryStore()
	inv := &testutils.FakeInvalidator{}
	d := newTestDeployer(s, inv)
	set := mustSet(t, map[string][]byte{
		"index.html": []byte("<html></html>"),
		"app.js":     []byte("console.log(1)"),
	})

	report, err := d.Deploy(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StateSucceeded {
		t.Fatalf("expected succeeded, got %s (%v)", report.State, report.Notes)
	}
	if report.Uploaded != 2 || report.Failed != 0 {
		t.Fatalf("unexpected counts: %+v", report)
	}
	if len(inv.Submissions) != 1 {
		t.Fatalf("expected 1 invalidation, got %d", len(inv.Submissions))
	}
	got := append([]string{}, inv.Submissions[0]...)
	sort.Strings(got)
	want := []string{"app.js", "index.html"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected invalidation batch: %v", got)
		}
	}
	if !report.Invalidation.Confirmed {
		t.Error("expected confirmed invalidation")
	}
}

// TestDeployFixedPoint verifies that redeploying an unchanged set is a no-op
// and submits no invalidation.
func TestDeployFixedPoint(t *testing.T) {
	s := testutils.NewMemoryStore()
	inv := &testutils.FakeInvalidator{}
	d := newTestDeployer(s, inv)
	set := mustSet(t, map[string][]byte{"index.html": []byte("<html></html>")})

	if _, err := d.Deploy(context.Background(), set); err != nil {
		t.Fatal(err)
	}
	plan, err := d.Plan(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.IsNoop() {
		t.Fatalf("expected no-op plan after deploy, got %v", plan.Actions)
	}

	report, err := d.Deploy(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StateSucceeded || report.Skipped != 1 || report.Uploaded != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(inv.Submissions) != 1 {
		t.Fatalf("no invalidation expected for a no-op deploy, got %d", len(inv.Submissions))
	}
}

// TestDeployStaleObject covers skip plus delete of a remote-only path.
func TestDeployStaleObject(t *testing.T) {
	s := testutils.NewMemoryStore()
	inv := &testutils.FakeInvalidator{}
	d := newTestDeployer(s, inv)
	// Seed the store with the current page and a stale script.
	seed := mustSet(t, map[string][]byte{
		"index.html": []byte("<html></html>"),
		"old.js":     []byte("legacy"),
	})
	if _, err := d.Deploy(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	set := mustSet(t, map[string][]byte{"index.html": []byte("<html></html>")})
	report, err := d.Deploy(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StateSucceeded {
		t.Fatalf("expected succeeded, got %s", report.State)
	}
	if res := resultFor(t, report, "index.html"); res.Outcome != OutcomeSkipped {
		t.Errorf("expected index.html skipped, got %s", res.Outcome)
	}
	if res := resultFor(t, report, "old.js"); res.Outcome != OutcomeDeleted {
		t.Errorf("expected old.js deleted, got %s", res.Outcome)
	}
	batch := inv.Submissions[len(inv.Submissions)-1]
	if len(batch) != 1 || batch[0] != "old.js" {
		t.Fatalf("expected invalidation of old.js only, got %v", batch)
	}
	if _, ok := s.Object("old.js"); ok {
		t.Error("old.js still present in store")
	}
}

// TestDeployUploadsBeforeDeletes checks the global ordering constraint via
// the store's operation log.
func TestDeployUploadsBeforeDeletes(t *testing.T) {
	s := testutils.NewMemoryStore()
	inv := &testutils.FakeInvalidator{}
	d := newTestDeployer(s, inv)
	seed := mustSet(t, map[string][]byte{"old.js": []byte("legacy")})
	if _, err := d.Deploy(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	set := mustSet(t, map[string][]byte{
		"index.html": []byte("a"),
		"app.js":     []byte("b"),
	})
	if _, err := d.Deploy(context.Background(), set); err != nil {
		t.Fatal(err)
	}
	lastPut, firstDelete := -1, -1
	for i, op := range s.Ops() {
		if strings.HasPrefix(op, "put:") {
			lastPut = i
		}
		if firstDelete == -1 && strings.HasPrefix(op, "delete:") {
			firstDelete = i
		}
	}
	if firstDelete != -1 && firstDelete < lastPut {
		t.Fatalf("delete issued before uploads finished: %v", s.Ops())
	}
}

// TestDeployUploadFailure covers a path failing after all retries: the run
// ends failed, siblings are still attempted and invalidated best-effort.
func TestDeployUploadFailure(t *testing.T) {
	s := testutils.NewMemoryStore()
	s.FailPuts("app.js", 3)
	inv := &testutils.FakeInvalidator{}
	d := newTestDeployer(s, inv)
	set := mustSet(t, map[string][]byte{
		"index.html": []byte("<html></html>"),
		"app.js":     []byte("console.log(1)"),
	})

	report, err := d.Deploy(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StateFailed {
		t.Fatalf("expected failed, got %s", report.State)
	}
	if res := resultFor(t, report, "index.html"); res.Outcome != OutcomeUploaded {
		t.Errorf("expected index.html uploaded, got %s", res.Outcome)
	}
	res := resultFor(t, report, "app.js")
	if res.Outcome != OutcomeFailed {
		t.Errorf("expected app.js failed, got %s", res.Outcome)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if len(inv.Submissions) != 1 {
		t.Fatalf("expected best-effort invalidation, got %d submissions", len(inv.Submissions))
	}
	if batch := inv.Submissions[0]; len(batch) != 1 || batch[0] != "index.html" {
		t.Fatalf("expected invalidation of index.html only, got %v", batch)
	}
}

// TestDeployUploadRetrySucceeds covers a transient failure recovered within
// the attempt limit.
func TestDeployUploadRetrySucceeds(t *testing.T) {
	s := testutils.NewMemoryStore()
	s.FailPuts("app.js", 2)
	inv := &testutils.FakeInvalidator{}
	d := newTestDeployer(s, inv)
	set := mustSet(t, map[string][]byte{"app.js": []byte("console.log(1)")})

	report, err := d.Deploy(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StateSucceeded {
		t.Fatalf("expected succeeded, got %s", report.State)
	}
	if res := resultFor(t, report, "app.js"); res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
}

// TestDeployDeleteFailureNonFatal verifies the availability policy: failing
// deletes are noted but do not fail the run.
func TestDeployDeleteFailureNonFatal(t *testing.T) {
	s := testutils.NewMemoryStore()
	inv := &testutils.FakeInvalidator{}
	d := newTestDeployer(s, inv)
	seed := mustSet(t, map[string][]byte{"old.js": []byte("legacy")})
	if _, err := d.Deploy(context.Background(), seed); err != nil {
		t.Fatal(err)
	}
	s.FailDeletes("old.js", 3)

	set := mustSet(t, map[string][]byte{"index.html": []byte("a")})
	report, err := d.Deploy(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StateSucceeded {
		t.Fatalf("expected succeeded despite delete failure, got %s", report.State)
	}
	if res := resultFor(t, report, "old.js"); res.Outcome != OutcomeFailed {
		t.Errorf("expected old.js failed, got %s", res.Outcome)
	}
	if len(report.Notes) == 0 {
		t.Error("expected a note about the undeleted stale object")
	}
}

// TestDeployInvalidationSubmitExhausted covers invalidation submit failing
// after all retries: content is live at the origin, so the run ends
// partially failed.
func TestDeployInvalidationSubmitExhausted(t *testing.T) {
	s := testutils.NewMemoryStore()
	inv := &testutils.FakeInvalidator{SubmitFailures: 100}
	d := newTestDeployer(s, inv)
	set := mustSet(t, map[string][]byte{"index.html": []byte("a")})

	report, err := d.Deploy(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StatePartiallyFailed {
		t.Fatalf("expected partially failed, got %s", report.State)
	}
	if report.Invalidation.Submitted {
		t.Error("invalidation must not be marked submitted")
	}
	if report.Uploaded != 1 {
		t.Errorf("content should be live at the origin, got %d uploads", report.Uploaded)
	}
}

// TestDeployInvalidationTimeout covers an invalidation that never completes
// within the verify timeout.
func TestDeployInvalidationTimeout(t *testing.T) {
	s := testutils.NewMemoryStore()
	inv := &testutils.FakeInvalidator{StatusSequence: []cdn.Status{cdn.StatusPending}}
	d := newTestDeployer(s, inv, WithVerifyTimeout(20*time.Millisecond))
	set := mustSet(t, map[string][]byte{"index.html": []byte("a")})

	report, err := d.Deploy(context.Background(), set)
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StatePartiallyFailed {
		t.Fatalf("expected partially failed, got %s", report.State)
	}
	if !report.Invalidation.Submitted || report.Invalidation.Confirmed {
		t.Fatalf("expected submitted but unconfirmed invalidation: %+v", report.Invalidation)
	}
	found := false
	for _, n := range report.Notes {
		if strings.Contains(n, "propagation") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected propagation note, got %v", report.Notes)
	}
}

// TestDeployCancelledMidApply verifies that cancellation yields a defined
// partially failed terminal state.
func TestDeployCancelledMidApply(t *testing.T) {
	s := testutils.NewMemoryStore()
	inv := &testutils.FakeInvalidator{}
	d := newTestDeployer(s, inv, WithConcurrency(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	set := mustSet(t, map[string][]byte{
		"index.html": []byte("a"),
		"app.js":     []byte("b"),
	})
	report, err := d.Deploy(ctx, set)
	if err != nil {
		t.Fatal(err)
	}
	if report.State != StatePartiallyFailed {
		t.Fatalf("expected partially failed after cancellation, got %s", report.State)
	}
	if len(inv.Submissions) != 0 {
		t.Errorf("no invalidation expected after cancellation, got %d", len(inv.Submissions))
	}
}

// TestRepeatedInvalidationHarmless makes sure resubmitting the same batch
// produces independent requests without corrupting anything.
func TestRepeatedInvalidationHarmless(t *testing.T) {
	inv := &testutils.FakeInvalidator{}
	paths := []string{"index.html", "app.js"}
	first, err := inv.Submit(context.Background(), paths)
	if err != nil {
		t.Fatal(err)
	}
	second, err := inv.Submit(context.Background(), paths)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("expected independent invalidation requests")
	}
	if len(inv.Submissions) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(inv.Submissions))
	}
}

// TestDeployCacheControl makes sure uploads carry the resolved cache policy.
func TestDeployCacheControl(t *testing.T) {
	s := testutils.NewMemoryStore()
	inv := &testutils.FakeInvalidator{}
	d := newTestDeployer(s, inv)
	set := mustSet(t, map[string][]byte{
		"index.html":       []byte("<html></html>"),
		"assets/app.x1.js": []byte("console.log(1)"),
	})
	if _, err := d.Deploy(context.Background(), set); err != nil {
		t.Fatal(err)
	}
	idx, _ := s.Object("index.html")
	if idx.CacheControl != "no-cache" {
		t.Errorf("unexpected cache control for index.html: %q", idx.CacheControl)
	}
	asset, _ := s.Object("assets/app.x1.js")
	if asset.CacheControl != "public, max-age=31536000, immutable" {
		t.Errorf("unexpected cache control for asset: %q", asset.CacheControl)
	}
	if asset.ContentEncoding != "gzip" {
		t.Errorf("expected gzip content encoding for asset, got %q", asset.ContentEncoding)
	}
}

// TestDeployRemoteDigestRoundTrip checks that the digests published to the
// store are the raw content digests the next plan can converge on.
func TestDeployRemoteDigestRoundTrip(t *testing.T) {
	s := testutils.NewMemoryStore()
	d := newTestDeployer(s, &testutils.FakeInvalidator{})
	content := []byte("<html></html>")
	set := mustSet(t, map[string][]byte{"index.html": content})
	if _, err := d.Deploy(context.Background(), set); err != nil {
		t.Fatal(err)
	}
	state, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if state["index.html"] != digest.FromBytes(content) {
		t.Fatalf("remote digest mismatch: %s", state["index.html"])
	}
}
