package pipeline

import (
	"context"
	"runtime"
	"sync/atomic"
)

// WorkerPool bounds the number of requests doing CPU-bound work at once.
// Codec decode, preprocessing and decoder attempts run under a slot; the
// remote fallback call does not.
type WorkerPool struct {
	sem    chan struct{}
	blocks atomic.Int64
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	Size   int   `json:"size"`
	InUse  int   `json:"in_use"`
	Blocks int64 `json:"blocks"`
}

// NewWorkerPool creates a pool with size slots; size <= 0 means one slot per CPU.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &WorkerPool{sem: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free or ctx ends.
func (p *WorkerPool) Acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		workersBusy.Inc()
		return nil
	default:
	}

	p.blocks.Add(1)
	select {
	case p.sem <- struct{}{}:
		workersBusy.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (p *WorkerPool) Release() {
	select {
	case <-p.sem:
		workersBusy.Dec()
	default:
	}
}

// Size returns the number of slots.
func (p *WorkerPool) Size() int { return cap(p.sem) }

// Stats returns current usage.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{Size: cap(p.sem), InUse: len(p.sem), Blocks: p.blocks.Load()}
}
