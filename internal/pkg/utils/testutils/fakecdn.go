package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/unbasical/webship/pkg/cdn"
)

// FakeInvalidator is a scriptable cdn.Invalidator for deployer tests.
type FakeInvalidator struct {
	mu sync.Mutex
	// SubmitFailures is the number of initial Submit calls that fail.
	SubmitFailures int
	// StatusSequence is consumed per Status call, the last element repeats.
	// An empty sequence reports done immediately.
	StatusSequence []cdn.Status
	// Submissions records the path batches of accepted Submit calls.
	Submissions [][]string

	statusCalls int
}

func (f *FakeInvalidator) Name() string {
	return "fake"
}

func (f *FakeInvalidator) Submit(_ context.Context, paths []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitFailures > 0 {
		f.SubmitFailures--
		return "", fmt.Errorf("injected submit failure")
	}
	batch := make([]string, len(paths))
	copy(batch, paths)
	f.Submissions = append(f.Submissions, batch)
	return fmt.Sprintf("inv-%d", len(f.Submissions)), nil
}

func (f *FakeInvalidator) Status(_ context.Context, _ string) (cdn.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.StatusSequence) == 0 {
		return cdn.StatusDone, nil
	}
	i := f.statusCalls
	if i >= len(f.StatusSequence) {
		i = len(f.StatusSequence) - 1
	}
	f.statusCalls++
	return f.StatusSequence[i], nil
}
