package search

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool runs relaxation passes off the RPC goroutines with bounded
// parallelism.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

// NewPool sizes the pool to the number of CPUs minus reserve, at least one.
func NewPool(reserve int) *Pool {
	return NewPoolSize(runtime.NumCPU() - reserve)
}

// NewPoolSize creates a pool running at most size passes at once.
func NewPoolSize(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Size returns the maximum number of concurrent passes
func (p *Pool) Size() int { return int(p.size) }

type relaxResult struct {
	proc *Processor
	out  Outcome
}

// Relax moves proc into a pool goroutine, runs one pass and hands it back.
// ctx only bounds the wait for a free slot; once the pass has started it
// runs to completion.
func (p *Pool) Relax(ctx context.Context, proc *Processor) (*Processor, Outcome, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return proc, Outcome{}, err
	}
	done := make(chan relaxResult, 1)
	go func(proc *Processor) {
		defer p.sem.Release(1)
		start := time.Now()
		before := proc.Expanded()
		out := proc.Relax()
		relaxDuration.Observe(time.Since(start).Seconds())
		nodesExpanded.Add(float64(proc.Expanded() - before))
		done <- relaxResult{proc: proc, out: out}
	}(proc)
	r := <-done
	return r.proc, r.out, nil
}
