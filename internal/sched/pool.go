// Package sched bounds concurrent access to the scarce inference resources
// shared by every active call: the GPU-resident models and the CPU-bound
// pre/post-processing stages. Each resource class gets one Pool; a turn
// acquires a slot only for the duration of a single resource-bound operation
// and releases it unconditionally, including on error and cancellation.
//
// Admission is FIFO-ish via the underlying weighted semaphore. No fairness
// beyond that is guaranteed; under sustained overload callers simply wait.
package sched

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/zentrylabs/zentry/internal/observe"
)

// Pool is a bounded admission gate for one resource class.
type Pool struct {
	name string
	size int64
	sem  *semaphore.Weighted
	met  *observe.Metrics
}

// NewPool creates a pool admitting at most size concurrent operations.
// A non-positive size defaults to 1.
func NewPool(name string, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		name: name,
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
		met:  observe.DefaultMetrics(),
	}
}

// Instrument replaces the metrics sink the pool reports to. Call before the
// pool is shared; mainly useful for tests with a private meter provider.
func (p *Pool) Instrument(m *observe.Metrics) { p.met = m }

// Name returns the pool's label, used in logs and metrics.
func (p *Pool) Name() string { return p.name }

// Size returns the configured concurrency bound.
func (p *Pool) Size() int { return int(p.size) }

// Run blocks until a slot is free (or ctx is done), executes fn, and releases
// the slot on every exit path. The slot is held for the full duration of fn,
// so fn must contain exactly one resource-bound operation and nothing slow
// around it.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	t0 := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("sched: acquire %s slot: %w", p.name, err)
	}
	p.met.RecordPoolWait(ctx, p.name, time.Since(t0).Seconds())
	p.met.AddPoolInFlight(ctx, p.name, 1)
	defer func() {
		p.met.AddPoolInFlight(ctx, p.name, -1)
		p.sem.Release(1)
	}()
	return fn(ctx)
}

// Call is the value-returning variant of [Pool.Run] for inference stages that
// produce a result.
func Call[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := p.Run(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, err
}

// Pools groups the process-wide resource gates. Constructed once at startup
// and shared by reference across all calls; immutable after construction.
type Pools struct {
	// GPU guards GPU-resident model invocation (synthesis, heavyweight
	// transcription). Keep this tight: the models are stateful and VRAM is
	// the binding constraint.
	GPU *Pool

	// CPU guards CPU-bound inference work (transcription pre/post-processing,
	// translation, classification).
	CPU *Pool
}

// NewPools builds the two standard pools. Non-positive sizes take the
// defaults (GPU 3, CPU 6).
func NewPools(gpuSize, cpuSize int) *Pools {
	if gpuSize <= 0 {
		gpuSize = 3
	}
	if cpuSize <= 0 {
		cpuSize = 6
	}
	return &Pools{
		GPU: NewPool("gpu", gpuSize),
		CPU: NewPool("cpu", cpuSize),
	}
}

// Instrument points both pools at the given metrics sink.
func (ps *Pools) Instrument(m *observe.Metrics) {
	ps.GPU.Instrument(m)
	ps.CPU.Instrument(m)
}
