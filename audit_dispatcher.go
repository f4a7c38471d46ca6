package eventify

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher moves audit events off the request path: Emit enqueues,
// a single worker goroutine feeds the sink. Under backpressure it either
// counts the event as dropped or blocks the caller, per AuditConfig. A nil
// dispatcher (audit disabled) accepts every call and does nothing.
type auditDispatcher struct {
	sink  AuditSink
	queue chan AuditEvent
	quit  chan struct{}

	// block inverts DropIfFull: when set, Emit waits for queue space
	// instead of counting a drop.
	block bool

	dropped atomic.Uint64
	closing atomic.Bool
	once    sync.Once
	worker  sync.WaitGroup
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}

	d := &auditDispatcher{
		sink:  sink,
		queue: make(chan AuditEvent, size),
		quit:  make(chan struct{}),
		block: !cfg.DropIfFull,
	}
	d.worker.Add(1)
	go d.run()
	return d
}

func (d *auditDispatcher) run() {
	defer d.worker.Done()
	for {
		select {
		case ev := <-d.queue:
			d.sink.Emit(context.Background(), ev)
		case <-d.quit:
			d.drain()
			return
		}
	}
}

// drain empties whatever Emit managed to enqueue before Close.
func (d *auditDispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.sink.Emit(context.Background(), ev)
		default:
			return
		}
	}
}

func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.closing.Load() {
		return
	}

	if !d.block {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
	case <-d.quit:
	}
}

// Close stops the worker after it has drained the queue. Safe to call more
// than once; Emit calls racing Close may be silently discarded.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closing.Store(true)
		close(d.quit)
		d.worker.Wait()
	})
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
