// Package workerpool provides a small fixed-size worker pool used to fan the
// match search out across seed candidates. Tasks are plain closures; results
// are collected per group in submission order.
package workerpool

import (
	"runtime"
	"sync"
)

type task struct {
	run func() any
	idx int
	g   *Group
}

// Pool runs tasks on a fixed number of workers.
type Pool struct {
	tasks chan task
	wg    sync.WaitGroup
}

// New creates a pool. workers < 1 selects a default based on the CPU count.
func New(workers int) *Pool {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	p := &Pool{tasks: make(chan task, workers*4)}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		t.g.results[t.idx] = t.run()
		t.g.wg.Done()
	}
}

// Close stops the workers after all submitted tasks drain.
func (p *Pool) Close() {
	close(p.tasks)
	p.wg.Wait()
}

// Group collects the results of a batch of tasks.
type Group struct {
	pool    *Pool
	results []any
	next    int
	wg      sync.WaitGroup
}

// NewGroup prepares a result buffer for size tasks.
func (p *Pool) NewGroup(size int) *Group {
	return &Group{pool: p, results: make([]any, size)}
}

// Go submits the next task of the group. Submitting more than size tasks
// panics.
func (g *Group) Go(job func() any) {
	idx := g.next
	g.next++
	g.wg.Add(1)
	g.pool.tasks <- task{run: job, idx: idx, g: g}
}

// Wait blocks until every submitted task finished and returns the results in
// submission order.
func (g *Group) Wait() []any {
	g.wg.Wait()
	return g.results[:g.next]
}
