package vm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"
)

// DefaultQueueSize is used when NewExecutor is given a non-positive size.
const DefaultQueueSize = 100

// job is one unit of VM work.
type job struct {
	fn     func(L *lua.LState) error
	result chan error
	async  bool
}

// Executor serializes all VM work through a single goroutine.
//
// Usage:
//
//	exec := NewExecutor(L, 64)
//	go exec.Run(ctx)
//	defer exec.Close()
//
//	// From any goroutine:
//	err := exec.Execute(ctx, func(L *lua.LState) error {
//	    _, err := Invoke(L, handler, lua.LString("payload"))
//	    return err
//	})
type Executor struct {
	L     *lua.LState
	queue chan *job
	done  chan struct{}

	log *logrus.Logger

	closed    atomic.Bool
	running   atomic.Bool
	closeOnce sync.Once
}

// NewExecutor creates a new Executor for the given Lua state.
// The queue size determines how many operations can be buffered.
func NewExecutor(L *lua.LState, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Executor{
		L:     L,
		queue: make(chan *job, queueSize),
		done:  make(chan struct{}),
		log:   logrus.StandardLogger(),
	}
}

// SetLogger sets the logger used for failed async jobs.
func (e *Executor) SetLogger(log *logrus.Logger) {
	if log != nil {
		e.log = log
	}
}

// Run processes jobs until the context is cancelled or Close is called.
// The goroutine calling Run owns the Lua state from then on.
func (e *Executor) Run(ctx context.Context) {
	e.running.Store(true)
	defer e.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			e.drainQueue(ctx.Err())
			return
		case <-e.done:
			e.drainQueue(ErrExecutorClosed)
			return
		case j := <-e.queue:
			err := e.runJob(j)
			if err != nil && j.async {
				e.log.WithError(err).Warn("async lua job failed")
			}
			j.result <- err
			close(j.result)
		}
	}
}

// runJob runs a single job with panic recovery.
func (e *Executor) runJob(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			case string:
				err = errors.New(v)
			default:
				err = fmt.Errorf("lua panic: %v", v)
			}
		}
	}()
	return j.fn(e.L)
}

// drainQueue fails every queued job with err.
func (e *Executor) drainQueue(err error) {
	for {
		select {
		case j := <-e.queue:
			j.result <- err
			close(j.result)
		default:
			return
		}
	}
}

// Execute runs fn on the executor goroutine and waits for it.
//
// When the context is cancelled while waiting, Execute returns ctx.Err(); the
// job has already been queued and still runs.
func (e *Executor) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	j := &job{fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- j:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-j.result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	}
}

// ExecuteAsync queues fn without waiting for completion.
// Failures are logged. Returns ErrQueueFull when the queue has no room.
func (e *Executor) ExecuteAsync(fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	j := &job{fn: fn, result: make(chan error, 1), async: true}

	select {
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs.
func (e *Executor) Pending() int {
	return len(e.queue)
}

// IsRunning returns true while Run is processing jobs.
func (e *Executor) IsRunning() bool {
	return e.running.Load()
}

// Close stops the executor and prevents new jobs.
// Queued jobs complete with ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// IsClosed returns true if the executor has been closed.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
