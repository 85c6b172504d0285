package worker

import (
	"context"
	"sync"
)

// Pool bounds concurrent pushes using a semaphore. A slot can be
// acquired before the work is known so that nothing is claimed while
// every worker is busy.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Size is the maximum number of concurrent tasks.
func (p *Pool) Size() int {
	return cap(p.sem)
}

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot that was acquired but not used.
func (p *Pool) Release() {
	<-p.sem
}

// Go runs fn on a previously acquired slot and frees it when fn returns.
func (p *Pool) Go(fn func()) {
	p.wg.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
		}()
		fn()
	}()
}

func (p *Pool) Submit(ctx context.Context, fn func()) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	p.Go(fn)
	return nil
}

func (p *Pool) Wait() {
	p.wg.Wait()
}
