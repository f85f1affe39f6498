package pool

import (
	"context"
	"sync"
)

// Pool bounds how many pipelines run at once. A slot is held from spawn until
// the pipeline's last stage has been reaped.
type Pool struct {
	sem chan struct{}
}

func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem: make(chan struct{}, size),
	}
}

// Acquire blocks until a slot is free or ctx ends. The returned release must
// be called exactly once; extra calls are ignored.
func (p *Pool) Acquire(ctx context.Context) (release func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-p.sem }) }, nil
}

// Go runs fn once a slot is free. If ctx ends first, fn is skipped and the
// channel yields ctx.Err().
func (p *Pool) Go(ctx context.Context, fn func(context.Context) error) <-chan error {
	errCh := make(chan error, 1)
	release, err := p.Acquire(ctx)
	if err != nil {
		errCh <- err
		close(errCh)
		return errCh
	}
	go func() {
		defer release()
		errCh <- fn(ctx)
		close(errCh)
	}()
	return errCh
}

