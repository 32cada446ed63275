// Package lease serializes deployments per target environment.
// Two plans computed against mutually stale remote state must never
// interleave their applies, so the environment is treated as a
// mutually-exclusive resource guarded by a file lock.
package lease

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

// Lease is an exclusive hold on one target environment.
type Lease struct {
	lock *flock.Flock
}

// Acquire blocks until the lease for the environment is held or the context
// ends. Lock files live under dir, one per environment name.
func Acquire(ctx context.Context, dir, environment string) (*Lease, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lease directory %q: %w", dir, err)
	}
	lockPath := filepath.Join(dir, environment+".lock")
	lock := flock.New(lockPath)
	log.Debugf("acquiring deploy lease %q", lockPath)
	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire deploy lease for %q: %w", environment, err)
	}
	if !locked {
		return nil, fmt.Errorf("deploy lease for %q is held elsewhere", environment)
	}
	return &Lease{lock: lock}, nil
}

// Release gives up the lease.
func (l *Lease) Release() error {
	return l.lock.Unlock()
}
