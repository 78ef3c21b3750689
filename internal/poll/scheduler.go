package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/growthkit-labs/growthkit-go/internal/resultstore"
)

// State is the lifecycle of one submission's wait for its result.
type State string

const (
	StateIdle       State = "idle"
	StateDispatched State = "dispatched"
	StateWaiting    State = "waiting"
	StatePolling    State = "polling"
	StateResolved   State = "resolved"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
	StateCancelled  State = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	switch s {
	case StateResolved, StateFailed, StateTimedOut, StateCancelled:
		return true
	default:
		return false
	}
}

// EngineFailure is an explicit failure the external engine attached to the
// work, surfaced with its diagnostic rather than swallowed.
type EngineFailure struct {
	Code    string
	Message string
}

func (e *EngineFailure) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("engine reported failure (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("engine reported failure: %s", e.Message)
}

// ReadFunc performs one result read. It returns resultstore.ErrNotFound when
// nothing is there yet, an *EngineFailure when the engine wrote an explicit
// failure, or any other error for a failing read.
type ReadFunc func(ctx context.Context) (resultstore.Record, error)

// AcceptFunc is the correlation predicate applied to each successful read.
type AcceptFunc func(record resultstore.Record) bool

type Config struct {
	// PreDelay is the fixed wait before the first read, modeling the
	// engine's known minimum processing time. Zero starts reading at once.
	PreDelay time.Duration
	// Interval between reads once polling has begun.
	Interval time.Duration
	// MaxWait bounds the whole run, measured from Run. Expiry is not a
	// hard failure: the engine may still finish later.
	MaxWait time.Duration
	// MaxReadErrors is the consecutive read-error budget. NotFound does
	// not count; any successful read resets the count.
	MaxReadErrors int
}

const (
	DefaultInterval      = 5 * time.Second
	DefaultMaxWait       = 5 * time.Minute
	DefaultMaxReadErrors = 5
)

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.MaxReadErrors <= 0 {
		c.MaxReadErrors = DefaultMaxReadErrors
	}
	return c
}

// Outcome is the terminal result of a run.
type Outcome struct {
	State  State
	Record resultstore.Record
	Err    error
}

// Scheduler drives the Dispatched → Waiting → Polling walk for one
// submission. Reads are serialized: the next read is not scheduled until the
// previous one returned. OnTransition, when set, observes every state
// change.
type Scheduler struct {
	Logger       *slog.Logger
	Config       Config
	OnTransition func(State)
}

// Run blocks until a terminal state. Cancelling ctx stops all timers and
// guarantees no further reads are issued.
func (s *Scheduler) Run(ctx context.Context, read ReadFunc, accept AcceptFunc) Outcome {
	cfg := s.Config.withDefaults()

	s.transition(StateDispatched)

	deadline := time.NewTimer(cfg.MaxWait)
	defer deadline.Stop()

	if cfg.PreDelay > 0 {
		s.transition(StateWaiting)
		preDelay := time.NewTimer(cfg.PreDelay)
		select {
		case <-ctx.Done():
			preDelay.Stop()
			s.transition(StateCancelled)
			return Outcome{State: StateCancelled, Err: ctx.Err()}
		case <-deadline.C:
			preDelay.Stop()
			s.transition(StateTimedOut)
			return Outcome{State: StateTimedOut}
		case <-preDelay.C:
		}
	}

	s.transition(StatePolling)

	readErrors := 0
	for {
		record, err := read(ctx)
		switch {
		case err == nil:
			readErrors = 0
			if accept(record) {
				s.transition(StateResolved)
				return Outcome{State: StateResolved, Record: record}
			}
		case errors.Is(err, resultstore.ErrNotFound):
			readErrors = 0
		case isEngineFailure(err):
			s.transition(StateFailed)
			return Outcome{State: StateFailed, Err: err}
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			s.transition(StateCancelled)
			return Outcome{State: StateCancelled, Err: ctx.Err()}
		default:
			readErrors++
			s.log("result read failed", "error", err, "consecutive", readErrors)
			if readErrors >= cfg.MaxReadErrors {
				s.transition(StateFailed)
				return Outcome{State: StateFailed, Err: fmt.Errorf("%d consecutive read errors, last: %w", readErrors, err)}
			}
		}

		tick := time.NewTimer(cfg.Interval)
		select {
		case <-ctx.Done():
			tick.Stop()
			s.transition(StateCancelled)
			return Outcome{State: StateCancelled, Err: ctx.Err()}
		case <-deadline.C:
			tick.Stop()
			s.transition(StateTimedOut)
			return Outcome{State: StateTimedOut}
		case <-tick.C:
		}
	}
}

func (s *Scheduler) transition(state State) {
	if s.OnTransition != nil {
		s.OnTransition(state)
	}
}

func (s *Scheduler) log(msg string, args ...any) {
	if s.Logger != nil {
		s.Logger.Warn(msg, args...)
	}
}

func isEngineFailure(err error) bool {
	var failure *EngineFailure
	return errors.As(err, &failure)
}
