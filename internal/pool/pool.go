// Package pool executes named tasks on a fixed number of goroutines, in
// order of their deadlines. A task's function returns the next deadline it
// wants to run at; returning the zero time removes it from the pool, which
// is how single-shot build tasks retire themselves.
package pool

import (
	"context"
	"slices"
	"sync"
	"time"
)

type Pool struct {
	mu    sync.Mutex
	queue []*task
	wait  chan struct{}
}

type task struct {
	name     string
	fn       func(context.Context) time.Time
	deadline time.Time
}

func New(workers int) *Pool {
	pool := Pool{}

	for range workers {
		go pool.work()
	}

	return &pool
}

// Add schedules a task to run immediately.
func (p *Pool) Add(name string, fn func(context.Context) time.Time) {
	p.enqueue(&task{name: name, fn: fn, deadline: time.Now()})
}

// work is the main loop for each worker goroutine.
func (p *Pool) work() {
	for {
		t := p.dequeue()
		t.deadline = t.fn(context.Background())
		if !t.deadline.IsZero() {
			p.enqueue(t)
		}
	}
}

func (p *Pool) enqueue(t *task) {
	p.mu.Lock()
	p.queue = append(p.queue, t)

	// Maintain the tasks in deadline order.
	slices.SortFunc(p.queue, func(a, b *task) int {
		return a.deadline.Compare(b.deadline)
	})

	// Wake up any waiting goroutine.
	if p.wait != nil {
		close(p.wait)
		p.wait = nil
	}
	p.mu.Unlock()
}

func (p *Pool) dequeue() *task {
	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		var next time.Time
		if len(p.queue) == 0 {
			next = time.Now().Add(time.Hour * 24 * 365) // nothing queued, sleep until woken
		} else {
			next = p.queue[0].deadline
		}

		if next.After(time.Now()) {
			// The earliest task is not ready yet; wait for its deadline or
			// for an earlier task to arrive.
			if p.wait == nil {
				p.wait = make(chan struct{})
			}
			wait := p.wait

			p.mu.Unlock()

			select {
			case <-time.After(time.Until(next)):
			case <-wait:
			}

			p.mu.Lock()
			continue
		}

		break
	}

	var t *task
	t, p.queue = p.queue[0], p.queue[1:]
	return t
}
