package backoff

import (
	"errors"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Strategy is used to avoid flooding a remote service with requests while
// waiting for an operation to succeed or complete.
type Strategy interface {
	Wait() error
}

// Factory produces a fresh Strategy per retried operation so attempt
// counters are not shared between operations.
type Factory func() Strategy

// exponentialBackoffWithJitter implements the Strategy interface
type exponentialBackoffWithJitter struct {
	baseDelay      time.Duration // Base delay between retries (e.g., 100ms)
	maxDelay       time.Duration // Maximum delay before giving up
	currentAttempt uint          // Track the current attempt number
	maxAttempt     uint
	randSource     *rand.Rand // Random source for jittering
}

// NewExponentialBackoffWithJitter creates a new instance of exponentialBackoffWithJitter
func NewExponentialBackoffWithJitter(baseDelay, maxDelay time.Duration, maxAttempts uint) Strategy {
	// Seed the random number generator for jitter
	source := rand.NewSource(time.Now().UnixNano())
	return &exponentialBackoffWithJitter{
		baseDelay:      baseDelay,
		maxDelay:       maxDelay,
		currentAttempt: 0,
		maxAttempt:     maxAttempts,
		randSource:     rand.New(source),
	}
}

// Wait calculates the next backoff time with exponential backoff and jitter
func (e *exponentialBackoffWithJitter) Wait() error {
	if e.currentAttempt >= e.maxAttempt {
		return errors.New("maximum retries exceeded")
	}
	// Calculate the exponential backoff delay
	delay := e.baseDelay * time.Duration(1<<e.currentAttempt) // 2^attempt * baseDelay

	// Apply jitter by adding a random factor to the delay (between 0 and 1x the delay)
	jitter := time.Duration(e.randSource.Int63n(int64(delay)))
	delay = delay + jitter - (delay / 2) // Apply jitter in both directions

	// Ensure that delay does not exceed the maximum delay
	if delay > e.maxDelay {
		delay = e.maxDelay
	}

	logrus.Debugf("Waiting for %v (attempt %d/%d)", delay, e.currentAttempt, e.maxAttempt)
	time.Sleep(delay)

	// Increment the attempt number for the next retry
	e.currentAttempt++
	return nil
}

type constantBackoff struct {
	delay          time.Duration
	currentAttempt uint
	maxAttempt     uint
}

// NewConstantBackoff returns a Strategy that waits a fixed delay between attempts.
// Mostly useful in tests and for short-lived local locks.
func NewConstantBackoff(delay time.Duration, maxAttempts uint) Strategy {
	return &constantBackoff{delay: delay, maxAttempt: maxAttempts}
}

func (c *constantBackoff) Wait() error {
	if c.currentAttempt >= c.maxAttempt {
		return errors.New("maximum retries exceeded")
	}
	time.Sleep(c.delay)
	c.currentAttempt++
	return nil
}

// DefaultBackoff returns a sensible default Strategy (exponential with an upper bound).
func DefaultBackoff() Strategy {
	const defaultBaseDelay = 50 * time.Millisecond
	const defaultMaxDelay = 1 * time.Minute
	return NewExponentialBackoffWithJitter(defaultBaseDelay, defaultMaxDelay, 10)
}

// DefaultFactory returns a Factory over DefaultBackoff.
func DefaultFactory() Factory {
	return DefaultBackoff
}
