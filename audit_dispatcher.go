package authcore

import (
	"context"
	"sync"
	"sync/atomic"
)

// auditDispatcher decouples engine operations from sink latency. Events
// queue on a buffered channel and a single goroutine delivers them in
// order. With DropIfFull set, a full buffer discards the event and
// bumps the drop counter instead of stalling the caller.
type auditDispatcher struct {
	sink    AuditSink
	queue   chan AuditEvent
	quit    chan struct{}
	wg      sync.WaitGroup
	block   bool
	stopped atomic.Bool
	dropped atomic.Uint64
	once    sync.Once
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
	d.wg.Add(1)
	go d.deliver()
	return d
}

// deliver drains the queue until Close, then flushes whatever is still
// buffered before returning.
func (d *auditDispatcher) deliver() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		case <-d.quit:
			d.flush()
			return
		}
	}
}

func (d *auditDispatcher) flush() {
	for {
		select {
		case event := <-d.queue:
			d.sink.Emit(context.Background(), event)
		default:
			return
		}
	}
}

// Emit enqueues one event. After Close it is a no-op.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil || d.stopped.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.block {
		select {
		case d.queue <- event:
		case <-ctx.Done():
		case <-d.quit:
		}
		return
	}

	select {
	case d.queue <- event:
	case <-d.quit:
	default:
		d.dropped.Add(1)
	}
}

// Close stops intake, waits for the delivery goroutine to flush the
// remaining buffer, and returns. Safe to call more than once.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.stopped.Store(true)
		close(d.quit)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded since construction.
func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
