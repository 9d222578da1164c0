package dispatch

import (
	"context"
	"sync"

	"github.com/umi3d/umisync/internal/core/observability/log"
)

// Payload is one received transaction, in binary or object form.
type Payload struct {
	Data   []byte
	Object bool
}

// Runner applies the payloads of one peer in arrival order on a single
// goroutine. A load suspends only this runner; other peers keep running.
type Runner struct {
	d       *Dispatcher
	queue   chan Payload
	onError func(error)

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewRunner creates a runner with a queue of the given capacity. onError, if
// not nil, receives the error of every payload that failed.
func (d *Dispatcher) NewRunner(capacity int, onError func(error)) *Runner {
	if capacity < 1 {
		capacity = 1
	}
	return &Runner{
		d:       d,
		queue:   make(chan Payload, capacity),
		onError: onError,
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Enqueue hands a payload to the runner, blocking while the queue is full.
func (r *Runner) Enqueue(ctx context.Context, p Payload) error {
	select {
	case <-r.closed:
		return ErrRunnerClosed
	default:
	}
	select {
	case r.queue <- p:
		return nil
	case <-r.closed:
		return ErrRunnerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run consumes the queue until ctx ends or Close is called. Payloads still
// queued at Close are applied before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-r.queue:
			r.perform(ctx, p)
		case <-r.closed:
			for {
				select {
				case p := <-r.queue:
					r.perform(ctx, p)
				default:
					return nil
				}
			}
		}
	}
}

func (r *Runner) perform(ctx context.Context, p Payload) {
	var err error
	if p.Object {
		err = r.d.PerformObject(ctx, p.Data)
	} else {
		err = r.d.PerformBytes(ctx, p.Data)
	}
	if err == nil {
		return
	}
	r.d.logger.Warn("transaction aborted", log.Bool("object", p.Object), log.Error(err))
	if r.onError != nil {
		r.onError(err)
	}
}

// Close stops accepting payloads. It does not wait; use Done for that.
func (r *Runner) Close() {
	r.closeOnce.Do(func() { close(r.closed) })
}

// Done is closed when Run has returned.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}
