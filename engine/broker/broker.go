// Package broker implements the request broker: it exposes the engine's
// operations to a foreground caller while the work itself executes under a
// concurrency cap, enforcing timeouts and error marshalling (spec.md §4.5).
// The storage engine's own handle is the sole serialization point (spec.md
// §5 "the sole database handle implies no intra-database concurrency");
// the broker's concurrency cap bounds how many requests may be in flight
// at once, not how many threads exist.
package broker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/strataeng/strata/internal/fault"
)

// DefaultConcurrency is the number of requests processed in-flight at once.
const DefaultConcurrency = 10

// DefaultQueueCap is the secondary queue cap; requests beyond both caps get
// an immediate Overloaded error rather than blocking the submitter
// (spec.md §4.5 "Concurrency").
const DefaultQueueCap = 100

// DefaultTimeout bounds a request with no explicit timeout.
const DefaultTimeout = 30 * time.Second

// job is an admitted request paired with its response channel and a
// cancellation flag checked cooperatively before and during execution
// (spec.md §4.5 "Cancellation").
type job struct {
	req      Request
	respCh   chan Response
	cancel   atomic.Bool
	deadline time.Time
}

// transaction tracks an open begin/commit bracket: it owns a FIFO queue of
// jobs presenting its token, and no unrelated job is admitted while it is
// open (spec.md §4.5 "transactions are owned by their initiator"). ctx is
// the context MethodBegin's handler returned, carrying the storage
// transaction handle (engine/storage.Store.BeginTx); every job admitted
// into this bracket derives its own deadline-bounded context from ctx,
// never from the broker's plain base context, so a per-job timeout can
// never cancel — and thereby roll back — the transaction itself.
type transaction struct {
	token     uint64
	initiator uint64
	queue     []job
	ctx       context.Context
}

// Broker dispatches requests to registered handlers under a worker pool
// sized by Concurrency, with a secondary bounded queue for overflow
// (spec.md §4.5).
type Broker struct {
	handlers map[Method]Handler
	logger   *slog.Logger

	concurrency int
	queueCap    int

	mu       sync.Mutex
	queued   []job
	activeTx *transaction
	nextID   atomic.Uint64

	ready chan struct{}
	stop  chan struct{}
	wg    sync.WaitGroup
}

// Config configures a Broker.
type Config struct {
	Concurrency int
	QueueCap    int
	Logger      *slog.Logger
}

// New creates a Broker with the given handler table. Call Start to begin
// processing.
func New(handlers map[Method]Handler, cfg Config) *Broker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = DefaultQueueCap
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Broker{
		handlers:    handlers,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
		queueCap:    cfg.QueueCap,
		ready:       make(chan struct{}, cfg.Concurrency+cfg.QueueCap),
		stop:        make(chan struct{}),
	}
}

// Start launches the worker pool. ctx bounds the lifetime of every handler
// invocation's base context.
func (b *Broker) Start(ctx context.Context) {
	for i := 0; i < b.concurrency; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
}

// Stop signals every worker to exit after draining in-flight work.
func (b *Broker) Stop() {
	close(b.stop)
	b.wg.Wait()
}

// Submit enqueues a request and blocks until it completes or its timeout
// elapses. Submission itself never blocks the caller beyond an immediate
// Overloaded rejection when the secondary queue is full (spec.md §4.5).
func (b *Broker) Submit(ctx context.Context, req Request) Response {
	req.ID = b.nextID.Add(1)
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	j := job{req: req, respCh: make(chan Response, 1), deadline: time.Now().Add(timeout)}

	b.mu.Lock()
	switch {
	case req.TxToken != 0 && b.activeTx != nil && b.activeTx.token == req.TxToken:
		// A request presenting the active transaction's token is always
		// admitted — it continues the initiator's own bracket, not new
		// unrelated load (spec.md §4.5).
		b.activeTx.queue = append(b.activeTx.queue, j)
	case req.Method == MethodBegin && b.activeTx != nil:
		b.mu.Unlock()
		return Response{ID: j.req.ID, Err: &ResponseError{
			Kind: fault.KindInvalidRequest.String(), Message: "a transaction is already open",
		}}
	default:
		if len(b.queued) >= b.queueCap {
			b.mu.Unlock()
			return overloaded(req.ID)
		}
		b.queued = append(b.queued, j)
	}
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}

	return b.await(ctx, &j, timeout)
}

// Cancel marks a pending or in-flight request cancelled by id. Cancellation
// is cooperative: it is observed the next time the handler yields
// (spec.md §4.5 "Cancellation").
func (b *Broker) Cancel(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.queued {
		if b.queued[i].req.ID == id {
			b.queued[i].cancel.Store(true)
		}
	}
	if b.activeTx != nil {
		for i := range b.activeTx.queue {
			if b.activeTx.queue[i].req.ID == id {
				b.activeTx.queue[i].cancel.Store(true)
			}
		}
	}
}

func (b *Broker) await(ctx context.Context, j *job, timeout time.Duration) Response {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-j.respCh:
		return resp
	case <-timer.C:
		j.cancel.Store(true)
		return Response{ID: j.req.ID, Err: &ResponseError{
			Kind:    fault.KindTimeout.String(),
			Message: "request exceeded its timeout",
		}}
	case <-ctx.Done():
		j.cancel.Store(true)
		return Response{ID: j.req.ID, Err: &ResponseError{
			Kind:    fault.KindCancelled.String(),
			Message: "caller context cancelled",
		}}
	}
}

// worker pulls admissible jobs and executes them until Stop is called.
// Transaction jobs are drained strictly in submission order before any
// unrelated job is admitted (spec.md §4.5 ordering guarantee), so every
// worker checks the transaction queue first.
func (b *Broker) worker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-b.stop:
			return
		case <-b.ready:
		}
		for {
			j, ok := b.dequeue()
			if !ok {
				break
			}
			b.execute(ctx, j)
		}
	}
}

func (b *Broker) dequeue() (job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.activeTx != nil {
		if len(b.activeTx.queue) == 0 {
			return job{}, false
		}
		j := b.activeTx.queue[0]
		b.activeTx.queue = b.activeTx.queue[1:]
		return j, true
	}
	if len(b.queued) == 0 {
		return job{}, false
	}
	j := b.queued[0]
	b.queued = b.queued[1:]
	return j, true
}

func (b *Broker) execute(ctx context.Context, j job) {
	if j.cancel.Load() {
		j.respCh <- Response{ID: j.req.ID, Err: &ResponseError{
			Kind: fault.KindCancelled.String(), Message: "request cancelled before execution",
		}}
		return
	}

	switch j.req.Method {
	case MethodBegin:
		b.beginTransaction(ctx, j)
		return
	case MethodCommit, MethodRollback:
		b.endTransaction(ctx, j)
		return
	}

	handler, ok := b.handlers[j.req.Method]
	if !ok {
		j.respCh <- Response{ID: j.req.ID, Err: &ResponseError{
			Kind: fault.KindInvalidRequest.String(), Message: "unknown method: " + string(j.req.Method),
		}}
		return
	}

	// A job presenting the active transaction's token runs against the
	// transaction's own long-lived context, not the broker's base ctx: a
	// per-job deadline derived from the transaction context cancels only
	// that child when it fires, never the parent the *sql.Tx was opened
	// with (database/sql ties a transaction's lifetime to the context
	// BeginTx was called with, so cancelling it would roll back the
	// transaction out from under every other job in the bracket).
	base := ctx
	b.mu.Lock()
	if b.activeTx != nil && j.req.TxToken != 0 && b.activeTx.token == j.req.TxToken && b.activeTx.ctx != nil {
		base = b.activeTx.ctx
	}
	b.mu.Unlock()

	reqCtx, cancel := context.WithDeadline(base, j.deadline)
	defer cancel()

	result, err := handler(reqCtx, j.req.Params)
	j.respCh <- toResponse(j.req.ID, result, err)
}

func (b *Broker) beginTransaction(ctx context.Context, j job) {
	b.mu.Lock()
	if b.activeTx != nil {
		b.mu.Unlock()
		j.respCh <- Response{ID: j.req.ID, Err: &ResponseError{
			Kind: fault.KindInvalidRequest.String(), Message: "a transaction is already open",
		}}
		return
	}
	token := b.nextID.Add(1)
	b.activeTx = &transaction{token: token, initiator: j.req.ID}
	b.mu.Unlock()

	// Opening the storage transaction itself goes through the registered
	// handler, same as commit/rollback, so the broker stays ignorant of
	// what "begin" means to the engine beneath it. The handler is invoked
	// with the broker's persistent base ctx, not a deadline-bounded child
	// that gets cancelled on return — cancelling it here would immediately
	// roll back the transaction the handler just opened. The handler's
	// result is the tx-carrying context every later job in this bracket
	// must reuse (see execute, endTransaction).
	if handler, ok := b.handlers[MethodBegin]; ok {
		result, err := handler(ctx, j.req.Params)
		if err != nil {
			b.mu.Lock()
			b.activeTx = nil
			b.mu.Unlock()
			j.respCh <- toResponse(j.req.ID, nil, err)
			return
		}
		if txCtx, ok := result.(context.Context); ok {
			b.mu.Lock()
			if b.activeTx != nil && b.activeTx.token == token {
				b.activeTx.ctx = txCtx
			}
			b.mu.Unlock()
		}
	}
	j.respCh <- Response{ID: j.req.ID, Result: token}
}

func (b *Broker) endTransaction(ctx context.Context, j job) {
	b.mu.Lock()
	if b.activeTx == nil {
		b.mu.Unlock()
		j.respCh <- Response{ID: j.req.ID, Err: &ResponseError{
			Kind: fault.KindInvalidRequest.String(), Message: "no transaction is open",
		}}
		return
	}
	leftover := b.activeTx.queue
	txCtx := b.activeTx.ctx
	b.activeTx = nil
	b.queued = append(leftover, b.queued...)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}

	handler, ok := b.handlers[j.req.Method]
	if !ok {
		j.respCh <- Response{ID: j.req.ID, Result: "ok"}
		return
	}
	base := ctx
	if txCtx != nil {
		base = txCtx
	}
	reqCtx, cancel := context.WithDeadline(base, j.deadline)
	defer cancel()
	result, err := handler(reqCtx, j.req.Params)
	j.respCh <- toResponse(j.req.ID, result, err)
}

func toResponse(id uint64, result any, err error) Response {
	if err == nil {
		return Response{ID: id, Result: result}
	}
	if se, ok := err.(*fault.Error); ok {
		return Response{ID: id, Err: &ResponseError{
			Kind: se.Kind().String(), Message: se.Error(), Details: se.Details(),
		}}
	}
	return Response{ID: id, Err: &ResponseError{
		Kind: fault.KindSqlError.String(), Message: err.Error(),
	}}
}

func overloaded(id uint64) Response {
	return Response{ID: id, Err: &ResponseError{
		Kind: fault.KindOverloaded.String(), Message: "broker queue is full",
	}}
}
