// Package sequencer runs units of work one at a time, in arrival order.
//
// Grouping reads the ticket store and then writes to it; two messages grouped at the
// same time could both miss each other and open duplicate tickets. Routing every
// grouping run through one Sequencer serializes them within a process.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"nixo.app/triage/common/logger"
)

var (
	ErrStopped = errors.New("sequencer stopped")
	ErrPanic   = errors.New("unit panicked")
)

const defaultBuffer = 64

type Unit func(ctx context.Context) error

// Job states. A queued job is claimed exactly once, either by the loop (running) or by
// a caller that gave up waiting (abandoned).
const (
	jobQueued int32 = iota
	jobRunning
	jobAbandoned
)

type job struct {
	ctx   context.Context
	name  string
	fn    Unit
	done  chan error
	state atomic.Int32
}

type Sequencer struct {
	jobs     chan *job
	quit     chan struct{}
	exited   chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// New returns a Sequencer whose queue holds up to buffer pending units before Do blocks.
func New(buffer int) *Sequencer {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Sequencer{
		jobs:   make(chan *job, buffer),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Do enqueues fn and waits for its result. A caller that gives up before the unit
// starts gets ctx.Err() and the unit is skipped. Once started, a unit always runs to
// completion without ctx's cancellation and Do waits for it.
func (s *Sequencer) Do(ctx context.Context, name string, fn Unit) error {
	select {
	case <-s.quit:
		return ErrStopped
	default:
	}

	j := &job{ctx: ctx, name: name, fn: fn, done: make(chan error, 1)}

	select {
	case s.jobs <- j:
	case <-s.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if j.state.CompareAndSwap(jobQueued, jobAbandoned) {
			return ctx.Err()
		}
		return s.await(j)
	case <-s.exited:
		return s.result(j)
	}
}

func (s *Sequencer) await(j *job) error {
	select {
	case err := <-j.done:
		return err
	case <-s.exited:
		return s.result(j)
	}
}

// result is the outcome of j after Run exited; a unit still queued then never ran.
func (s *Sequencer) result(j *job) error {
	select {
	case err := <-j.done:
		return err
	default:
		return ErrStopped
	}
}

// Pending returns the number of queued units that have not started.
func (s *Sequencer) Pending() int {
	return len(s.jobs)
}

// Run consumes units until ctx is cancelled or Stop is called, then runs whatever is
// still queued and returns.
func (s *Sequencer) Run(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		slog.WarnContext(ctx, "sequencer already running")
		return
	}
	defer close(s.exited)

	slog.InfoContext(ctx, "sequencer started", "buffer", cap(s.jobs))

	for {
		select {
		case j := <-s.jobs:
			j.done <- s.execute(j)
		case <-s.quit:
			s.drain(ctx)
			return
		case <-ctx.Done():
			s.stopOnce.Do(func() { close(s.quit) })
			s.drain(ctx)
			return
		}
	}
}

// Stop refuses new units, waits for queued ones to finish and returns once Run has
// exited. It is safe to call more than once and before Run.
func (s *Sequencer) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	if s.started.Load() {
		<-s.exited
	}
}

func (s *Sequencer) drain(ctx context.Context) {
	n := 0
	for {
		select {
		case j := <-s.jobs:
			j.done <- s.execute(j)
			n++
		default:
			slog.InfoContext(ctx, "sequencer stopped", "drained", n)
			return
		}
	}
}

func (s *Sequencer) execute(j *job) (err error) {
	if !j.state.CompareAndSwap(jobQueued, jobRunning) {
		return j.ctx.Err()
	}

	sp := logger.StartSpan(context.WithoutCancel(j.ctx), "sequencer."+j.name)
	defer sp.End()
	sp.SetAttributes(attribute.String("sequencer.unit", j.name))
	ctx := sp.Context()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
			slog.ErrorContext(ctx, "sequencer unit panicked",
				"unit", j.name,
				"panic", r,
				"stack", string(debug.Stack()))
		}
		sp.Fail(err)
	}()

	err = j.fn(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "sequencer unit failed", "unit", j.name, "error", err, "duration_ms", time.Since(start).Milliseconds())
		return err
	}
	slog.DebugContext(ctx, "sequencer unit finished", "unit", j.name, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
