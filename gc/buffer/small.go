package buffer

import (
	"github.com/joshuapare/bufheap/gc/cell"
	"github.com/joshuapare/bufheap/internal/format"
	"github.com/joshuapare/bufheap/vm"
)

// allocSmall takes a cell big enough for size usable bytes plus the header
// word. The returned pointer is just past the header.
func (a *Allocator) allocSmall(size int, nurseryOwned bool, policy vm.StallPolicy) Ptr {
	kind := smallCellKind(size)

	var addr vm.Addr
	if policy == vm.FailFast {
		addr = a.cells.AllocateTenuredThing(kind)
	} else {
		var err error
		if addr, err = a.cells.Allocate(kind, policy); err != nil {
			a.log.Debug("small cell unavailable", "kind", kind, "err", err)
		}
	}
	if addr == vm.Null {
		a.stats.oom.Add(1)
		return vm.Null
	}

	arena := a.store.Lookup(addr).(*cell.Arena)
	var flags uint32
	if nurseryOwned {
		flags |= format.SmallNurseryOwned
	}
	format.PutSmallHeader(arena.Cell(addr), format.SmallHeader{Flags: flags, Size: uint32(kind.Size())})

	// Cells are swept in place with no to-sweep snapshot, so a cell
	// allocated mid-collection is allocated black.
	if (nurseryOwned && a.MinorState() == Marking) || (!nurseryOwned && a.MajorState() != NotCollecting) {
		arena.Mark(addr)
	}

	a.stats.smallAllocs.Add(1)
	return addr + format.SmallBufferHeaderSize
}

func (a *Allocator) freeSmall(cellAddr vm.Addr) {
	if a.cells.Free(cellAddr) {
		a.stats.frees.Add(1)
	}
}

// smallHeader returns the header word of the cell at cellAddr.
func smallHeader(arena *cell.Arena, cellAddr vm.Addr) format.SmallHeader {
	return format.ReadSmallHeader(arena.Cell(cellAddr))
}

// sweepSmall sweeps every small buffer of the zone for gen. Nursery or
// tenured cells of the other generation are left alone, marks included.
func (a *Allocator) sweepSmall(gen generation) cell.SweepResult {
	res := a.cells.Sweep(func(c []byte, marked bool) cell.Verdict {
		if format.ReadSmallHeader(c).NurseryOwned() != (gen == minorGen) {
			return cell.Keep
		}
		if marked {
			return cell.KeepUnmark
		}
		return cell.Release
	})
	a.stats.sweptDead.Add(int64(res.Released))
	return res
}

// clearSmallTenuredMarks clears the mark of every tenured small buffer.
func (a *Allocator) clearSmallTenuredMarks() {
	a.cells.Sweep(func(c []byte, marked bool) cell.Verdict {
		if marked && !format.ReadSmallHeader(c).NurseryOwned() {
			return cell.KeepUnmark
		}
		return cell.Keep
	})
}
