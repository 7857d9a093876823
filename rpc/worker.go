package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/kairos/vm"
)

// ErrWorkerStopped is returned for calls submitted after Stop.
var ErrWorkerStopped = errors.New("rpc: worker stopped")

// workerRequest is one encoded call waiting for the host goroutine.
type workerRequest struct {
	ctx     context.Context
	payload []byte
	done    chan workerResult
}

// workerResult holds the encoded reply.
type workerResult struct {
	payload []byte
	err     error
}

// Worker executes host procedures on a single dedicated goroutine. It stands
// in for the host side of a device link: callers hand it an encoded request
// and block until the encoded reply comes back, so procedures never run
// concurrently with each other.
type Worker struct {
	reg      *Registry
	requests chan workerRequest
	quit     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a Worker serving reg and starts its goroutine.
func NewWorker(reg *Registry) *Worker {
	w := &Worker{
		reg:      reg,
		requests: make(chan workerRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req)
		case <-w.quit:
			return
		}
	}
}

// execute dispatches one request, recovering from panics outside the
// procedure itself.
func (w *Worker) execute(req workerRequest) (result workerResult) {
	defer func() {
		if r := recover(); r != nil {
			result.err = fmt.Errorf("rpc: worker: %v", r)
		}
	}()
	result.payload, result.err = w.reg.DispatchBytes(req.ctx, req.payload)
	return result
}

// Do submits an encoded request and blocks until its reply is ready.
// A context that is already done is reported without submitting anything.
func (w *Worker) Do(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := workerRequest{
		ctx:     ctx,
		payload: payload,
		done:    make(chan workerResult, 1),
	}
	select {
	case w.requests <- req:
	case <-w.quit:
		return nil, ErrWorkerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case result := <-req.done:
		return result.payload, result.err
	case <-w.quit:
		return nil, ErrWorkerStopped
	}
}

// Stop shuts down the worker goroutine. It is safe to call more than once.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
}

// WorkerBridge is the bridge used by the device backend: every call crosses
// to the worker goroutine as CBOR bytes and the kernel blocks until the reply
// arrives.
type WorkerBridge struct {
	w *Worker
}

// NewWorkerBridge creates a bridge that sends calls to w.
func NewWorkerBridge(w *Worker) *WorkerBridge {
	return &WorkerBridge{w: w}
}

// Invoke implements vm.Bridge.
func (b *WorkerBridge) Invoke(ctx context.Context, target string, args []vm.Value) (vm.Value, error) {
	req, err := NewCallRequest(target, args)
	if err != nil {
		return nil, err
	}
	payload, err := vm.Marshal(req)
	if err != nil {
		return nil, err
	}
	reply, err := b.w.Do(ctx, payload)
	if err != nil {
		return nil, unreachable(ctx, req.Target, err)
	}
	return decodeResponse(reply)
}
