// Package scheduler runs mirror passes at a fixed interval until the caller
// cancels, or until too many passes fail in a row.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/sidkik/dirmirror/pkg/sync"
)

// Pass runs a single mirror pass.
type Pass func(ctx context.Context) (sync.Result, error)

// State is the state of the run loop between two passes.
type State struct {
	// Running is false once the retry budget has been used up.
	Running bool

	// RetriesLeft is the number of consecutive failures that are still
	// tolerated.
	RetriesLeft int

	// LastErr is the error of the previous pass, if it failed.
	LastErr error
}

// RetriesExhaustedError is returned by Run when `Attempts` passes failed in a
// row.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (err RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%d consecutive passes failed, giving up: %s", err.Attempts, err.Err)
}

func (err RetriesExhaustedError) Unwrap() error {
	return err.Err
}

// Scheduler runs Pass every Interval.
type Scheduler struct {
	Interval time.Duration

	// Retries is the number of consecutive failed passes after which the
	// scheduler stops. A successful pass resets the count.
	Retries int

	Pass Pass

	// Trigger requests a pass before the next tick. It's optional.
	Trigger <-chan struct{}

	Clock clockwork.Clock
	Log   logrus.FieldLogger

	// Console receives a line when each pass starts and completes.
	Console io.Writer
}

// InitialState returns the state of a scheduler that hasn't run any passes.
func (s Scheduler) InitialState() State {
	return State{Running: true, RetriesLeft: s.Retries}
}

// Run runs passes until `ctx` is cancelled or the retry budget is used up.
// The first pass starts immediately. Trigger is ignored while the last pass
// failed. A cancellation doesn't interrupt a pass
// that's already running: Run returns once it completes.
func (s Scheduler) Run(ctx context.Context) error {
	ticker := s.Clock.NewTicker(s.Interval)
	defer ticker.Stop()

	st := s.InitialState()
	for {
		if ctx.Err() != nil {
			return nil
		}

		st = s.Step(ctx, st)
		if !st.Running {
			return RetriesExhaustedError{Attempts: s.Retries, Err: st.LastErr}
		}

		// A failed pass is only retried on the next tick. Changes that are
		// reported in the meantime are picked up by the retry.
		trigger := s.Trigger
		if st.LastErr != nil {
			trigger = nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		case <-trigger:
		}
	}
}

// Step runs one pass and returns the resulting state. Stopped schedulers
// don't run any more passes.
func (s Scheduler) Step(ctx context.Context, st State) State {
	if !st.Running {
		return st
	}

	passID := uuid.New().String()
	log := s.Log.WithField("pass", passID)
	start := s.Clock.Now()
	fmt.Fprintf(s.Console, "%s Starting pass %s\n", start.Format(time.RFC3339), passID)

	// Passes are never interrupted, so that the replica isn't left halfway
	// through a step.
	res, err := s.Pass(context.WithoutCancel(ctx))
	elapsed := s.Clock.Since(start)
	if err != nil {
		st.LastErr = err
		st.RetriesLeft--
		if st.RetriesLeft <= 0 {
			st.Running = false
			log.WithError(err).Error("Pass failed too many times in a row. Giving up")
			return st
		}

		log.WithError(err).WithField("retriesLeft", st.RetriesLeft).Warn("Pass failed")
		return st
	}

	st.LastErr = nil
	st.RetriesLeft = s.Retries

	summary := res.Summary()
	log.WithFields(summary.Fields()).WithField("elapsed", elapsed).Info("Completed pass")
	fmt.Fprintf(s.Console, "%s Completed pass %s in %s\n%s\n%s\n",
		s.Clock.Now().Format(time.RFC3339), passID, elapsed, summary, sync.Legend)
	return st
}
