// Package decommit batches page ranges inside a chunk that should have their
// physical memory released.
//
// The tracker maintains a list of byte ranges, shrinks them to whole pages,
// coalesces them, and hands them to osmem.Decommit. Unlike a dirty-page
// tracker the ranges are rounded inward: a page is only released when the
// free space covers it completely.
package decommit

import (
	"context"
	"slices"

	"github.com/joshuapare/bufheap/internal/format"
	"github.com/joshuapare/bufheap/internal/osmem"
)

// defaultRangeCapacity is the pre-allocated capacity for tracked ranges.
const defaultRangeCapacity = 32

// Range is a byte range relative to the start of a chunk.
type Range struct {
	Off int
	Len int
}

// End returns the offset one past the range.
func (r Range) End() int { return r.Off + r.Len }

// Tracker accumulates ranges and releases them in one pass.
//
// NOT thread-safe. Only one goroutine should use it at a time.
type Tracker struct {
	ranges   []Range
	pageSize int
}

// NewTracker creates a tracker using the larger of the chunk page size and
// the OS page size as its release granularity.
func NewTracker() *Tracker {
	ps := osmem.PageSize()
	if ps < format.PageSize {
		ps = format.PageSize
	}
	return &Tracker{
		ranges:   make([]Range, 0, defaultRangeCapacity),
		pageSize: ps,
	}
}

// PageSize returns the release granularity.
func (t *Tracker) PageSize() int { return t.pageSize }

// Add records a range of free bytes. Ranges smaller than a page are kept
// so that adjacent fragments can still combine into whole pages.
func (t *Tracker) Add(off, length int) {
	if length <= 0 {
		return
	}
	t.ranges = append(t.ranges, Range{Off: off, Len: length})
}

// Len returns the number of raw ranges recorded.
func (t *Tracker) Len() int { return len(t.ranges) }

// Reset clears all tracked ranges.
func (t *Tracker) Reset() {
	t.ranges = t.ranges[:0]
}

// Pages returns the page-aligned, sorted, merged ranges that Flush would
// release.
func (t *Tracker) Pages() []Range {
	return t.coalesce()
}

// Flush releases every tracked page in data and clears the tracker. It
// returns the ranges actually released so callers can record them.
//
// If ctx is cancelled part-way, the ranges released so far are returned with
// the context error.
func (t *Tracker) Flush(ctx context.Context, data []byte) ([]Range, error) {
	if len(t.ranges) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pages := t.coalesce()
	done := pages[:0:0]
	for _, r := range pages {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if r.End() > len(data) {
			break
		}
		if err := osmem.Decommit(data[r.Off:r.End()]); err != nil {
			return done, err
		}
		done = append(done, r)
	}

	t.ranges = t.ranges[:0]
	return done, nil
}

// coalesce merges touching ranges first, then shrinks each merged run to
// the pages it covers entirely.
func (t *Tracker) coalesce() []Range {
	if len(t.ranges) == 0 {
		return nil
	}

	sorted := slices.Clone(t.ranges)
	slices.SortFunc(sorted, func(a, b Range) int { return a.Off - b.Off })

	merged := make([]Range, 0, len(sorted))
	current := sorted[0]
	for _, next := range sorted[1:] {
		if next.Off <= current.End() {
			current.Len = max(current.End(), next.End()) - current.Off
			continue
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)

	out := merged[:0]
	for _, r := range merged {
		start := format.AlignUp(r.Off, t.pageSize)
		end := format.AlignDown(r.End(), t.pageSize)
		if end > start {
			out = append(out, Range{Off: start, Len: end - start})
		}
	}
	return out
}
