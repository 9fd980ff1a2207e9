package collect

import (
	"github.com/joshuapare/bufheap/gc/buffer"
)

// Owner is a traced object that owns buffers.
type Owner interface {
	// IsTenured reports whether the owner lives in the tenured generation.
	IsTenured() bool
}

// Kind says which generation a Tracer is collecting.
type Kind uint8

const (
	Minor Kind = iota
	Major
)

func (k Kind) String() string {
	if k == Minor {
		return "minor"
	}
	return "major"
}

// Tracer receives owner-to-buffer edges while a collection is marking.
type Tracer struct {
	alloc *buffer.Allocator
	kind  Kind

	marked   int
	promoted int
}

// Kind returns the generation being collected.
func (t *Tracer) Kind() Kind { return t.kind }

// TraceEdge reports that owner references the buffer at ptr.
//
// During a minor collection a nursery buffer is marked, or promoted when its
// owner has tenured. During a major collection only tenured buffers are
// marked; the nursery is left to minor collections.
func (t *Tracer) TraceEdge(owner Owner, ptr buffer.Ptr) {
	if ptr == buffer.Null || !t.alloc.IsBufferAlloc(ptr) {
		return
	}
	nursery := t.alloc.IsNurseryOwned(ptr)
	switch t.kind {
	case Minor:
		if !nursery {
			return
		}
		if owner != nil && owner.IsTenured() {
			t.alloc.Promote(ptr)
			t.promoted++
			return
		}
		if t.alloc.MarkBlack(ptr) {
			t.marked++
		}
	case Major:
		if nursery {
			return
		}
		if t.alloc.MarkBlack(ptr) {
			t.marked++
		}
	}
}

// Marked returns the number of buffers newly marked by this tracer.
func (t *Tracer) Marked() int { return t.marked }

// Promoted returns the number of buffers promoted by this tracer.
func (t *Tracer) Promoted() int { return t.promoted }
