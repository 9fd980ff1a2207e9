// Package collect drives the buffer allocator's collection phases.
//
// A Collector owns one background goroutine per zone. Marking runs on the
// caller's goroutine through a trace callback; sweeping of medium chunks and
// of dead large buffers is queued to the background goroutine while the
// caller keeps allocating. Wait merges finished sweeps back into the
// allocator and closes out a major collection.
//
// All methods are called from the allocating goroutine.
package collect

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"github.com/joshuapare/bufheap/gc/buffer"
	"github.com/joshuapare/bufheap/internal/logger"
)

// Collector sequences minor and major collections for one allocator.
type Collector struct {
	cfg   Config
	log   *slog.Logger
	alloc *buffer.Allocator

	jobs     chan func()
	stopped  chan struct{}
	closed   bool
	minorGCs atomic.Int64
	majorGCs atomic.Int64
	aborts   atomic.Int64
}

// New starts a collector for alloc. A nil cfg uses DefaultConfig.
func New(alloc *buffer.Allocator, cfg *Config) *Collector {
	c := DefaultConfig
	if cfg != nil {
		c = *cfg
	}
	col := &Collector{
		cfg:     c,
		log:     logger.Or(c.Logger).With("component", "collect", "zone", alloc.Zone().Name),
		alloc:   alloc,
		jobs:    make(chan func(), max(c.QueueDepth, 1)),
		stopped: make(chan struct{}),
	}
	go col.sweeper()
	return col
}

// sweeper runs queued jobs in order until the queue is closed.
func (c *Collector) sweeper() {
	defer close(c.stopped)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("sweeper crashed", "panic", r, "stack", string(debug.Stack()))
			panic(r)
		}
	}()
	for job := range c.jobs {
		job()
	}
}

func (c *Collector) enqueue(ctx context.Context, job func()) error {
	if c.closed {
		return ErrClosed
	}
	select {
	case c.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// barrier waits until every job queued so far has run.
func (c *Collector) barrier(ctx context.Context) error {
	done := make(chan struct{})
	if err := c.enqueue(ctx, func() { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finishMinor waits for an in-flight minor sweep and merges it.
func (c *Collector) finishMinor(ctx context.Context) error {
	if c.alloc.MinorState() == buffer.NotCollecting {
		return nil
	}
	if err := c.barrier(ctx); err != nil {
		return err
	}
	c.alloc.MergeSweptData()
	return nil
}

// MinorGC collects the nursery. trace must report every edge from a live
// owner to a nursery buffer; buffers it does not reach are reclaimed. The
// call returns once chunk sweeping has been handed to the background
// goroutine.
func (c *Collector) MinorGC(ctx context.Context, trace func(*Tracer)) error {
	if c.closed {
		return ErrClosed
	}
	if err := c.finishMinor(ctx); err != nil {
		return fmt.Errorf("collect: previous minor: %w", err)
	}
	if err := c.alloc.StartMinorCollection(); err != nil {
		return err
	}
	t := &Tracer{alloc: c.alloc, kind: Minor}
	trace(t)

	dead, err := c.alloc.StartMinorSweeping()
	if err != nil {
		return err
	}
	c.minorGCs.Add(1)
	c.log.Debug("minor gc", "marked", t.marked, "promoted", t.promoted, "deadLarge", dead.Len())
	return c.enqueue(ctx, func() {
		dead.Release()
		c.alloc.SweepForMinorCollection()
	})
}

// MajorGC collects the tenured generation. trace must report every edge
// from a live owner to a tenured buffer. A trace error aborts the collection
// before anything is swept and is returned wrapped in ErrAborted.
//
// A previous major collection is finished first. A minor sweep still in
// flight is merged before major sweeping starts so that its chunks join
// this collection.
func (c *Collector) MajorGC(ctx context.Context, trace func(*Tracer) error) error {
	if c.closed {
		return ErrClosed
	}
	if c.alloc.MajorState() != buffer.NotCollecting {
		if err := c.Wait(ctx); err != nil {
			return fmt.Errorf("collect: previous major: %w", err)
		}
	}
	if err := c.alloc.StartMajorCollection(); err != nil {
		return err
	}
	t := &Tracer{alloc: c.alloc, kind: Major}
	if err := trace(t); err != nil {
		if ferr := c.alloc.FinishMajorCollection(); ferr != nil {
			return fmt.Errorf("collect: abort: %w", ferr)
		}
		c.aborts.Add(1)
		c.log.Debug("major gc aborted", "err", err)
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}

	if err := c.finishMinor(ctx); err != nil {
		return fmt.Errorf("collect: minor before major sweep: %w", err)
	}
	if err := c.alloc.StartMajorSweeping(); err != nil {
		return err
	}
	c.majorGCs.Add(1)
	c.log.Debug("major gc", "marked", t.marked, "decommit", c.cfg.Decommit)
	decommit := c.cfg.Decommit
	return c.enqueue(ctx, func() {
		c.alloc.SweepForMajorCollection(decommit)
	})
}

// MaybeMajorGC runs MajorGC when the zone's heap has crossed its trigger
// threshold. A major collection still sweeping is finished first, and the
// threshold it re-arms decides. It reports whether a collection ran.
func (c *Collector) MaybeMajorGC(ctx context.Context, trace func(*Tracer) error) (bool, error) {
	if !c.alloc.Zone().Triggered() {
		return false, nil
	}
	if c.alloc.MajorState() != buffer.NotCollecting {
		if err := c.Wait(ctx); err != nil {
			return false, err
		}
		if !c.alloc.Zone().Triggered() {
			return false, nil
		}
	}
	return true, c.MajorGC(ctx, trace)
}

// Wait blocks until every queued sweep has finished, merges the results and
// finishes any major collection. The zone trigger is re-armed from the
// surviving heap size afterwards.
func (c *Collector) Wait(ctx context.Context) error {
	if err := c.barrier(ctx); err != nil {
		return err
	}
	c.alloc.MergeSweptData()
	if c.alloc.MajorState() == buffer.Sweeping {
		if err := c.alloc.FinishMajorCollection(); err != nil {
			return err
		}
		c.alloc.Zone().Rearm(0)
	}
	return nil
}

// Cycles returns the number of minor and major collections started and the
// number of major collections aborted.
func (c *Collector) Cycles() (minor, major, aborted int64) {
	return c.minorGCs.Load(), c.majorGCs.Load(), c.aborts.Load()
}

// Close waits for outstanding sweeps, merges them and stops the background
// goroutine.
func (c *Collector) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	werr := c.Wait(ctx)
	c.closed = true
	close(c.jobs)

	select {
	case <-c.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return werr
}
