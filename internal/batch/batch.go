// Package batch fans work out in fixed-size concurrent batches with a pause
// between batches, for APIs that enforce an aggregate quota.
package batch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultSize  = 5
	DefaultDelay = 1500 * time.Millisecond
)

type Processor struct {
	Size  int
	Delay time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func New(size int, delay time.Duration) *Processor {
	if size < 1 {
		size = 1
	}
	return &Processor{Size: size, Delay: delay, sleep: sleepCtx}
}

// Result maps input keys to outputs or failures. Every input lands in exactly
// one of the two maps.
type Result[K comparable, Out any] struct {
	Outputs  map[K]Out
	Failures map[K]error
	Batches  int
}

// Run applies fn to every input. A failing item is recorded and never stops
// the run; a cancelled ctx stops it before the next batch and records the
// remaining inputs as failed.
func Run[In any, K comparable, Out any](
	ctx context.Context,
	p *Processor,
	inputs []In,
	key func(In) K,
	fn func(context.Context, In) (Out, error),
) *Result[K, Out] {
	res := &Result[K, Out]{
		Outputs:  make(map[K]Out, len(inputs)),
		Failures: make(map[K]error),
	}

	size := p.Size
	if size < 1 {
		size = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var mu sync.Mutex
	for start := 0; start < len(inputs); start += size {
		if start > 0 && p.Delay > 0 {
			if err := sleep(ctx, p.Delay); err != nil {
				failRest(res, inputs[start:], key, err)
				return res
			}
		}
		if err := ctx.Err(); err != nil {
			failRest(res, inputs[start:], key, err)
			return res
		}

		end := min(start+size, len(inputs))
		res.Batches++

		var g errgroup.Group
		for _, in := range inputs[start:end] {
			g.Go(func() error {
				out, err := fn(ctx, in)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Failures[key(in)] = err
				} else {
					res.Outputs[key(in)] = out
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	return res
}

func failRest[In any, K comparable, Out any](res *Result[K, Out], rest []In, key func(In) K, err error) {
	for _, in := range rest {
		res.Failures[key(in)] = err
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
