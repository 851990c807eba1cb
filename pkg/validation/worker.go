package validation

import (
	"context"
	"errors"
	"sync"

	"github.com/aretw0/formtree/pkg/domain"
)

// ErrWorkerClosed is returned by a worker that has been closed.
var ErrWorkerClosed = errors.New("validation worker closed")

type request struct {
	state *domain.FormState
	reply chan Result
}

// Worker validates forms on a dedicated goroutine. Requests carry deep
// copies of the state, so the worker never shares memory with the store.
type Worker struct {
	engine   *Engine
	requests chan request
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// NewWorker starts a worker running engine.
func NewWorker(engine *Engine) *Worker {
	w := &Worker{
		engine:   engine,
		requests: make(chan request),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case req := <-w.requests:
			req.reply <- w.engine.Validate(req.state)
		}
	}
}

// Validate sends a copy of state to the worker and waits for the result.
func (w *Worker) Validate(ctx context.Context, state *domain.FormState) (Result, error) {
	req := request{state: state.Clone(), reply: make(chan Result, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return Result{}, ErrWorkerClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Close stops the worker goroutine and waits for it to exit.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.quit) })
	<-w.done
}
