package format

// FreeRegionFooter is the metadata stored at the end of every free region
// inside a medium chunk. Keeping it inside the free space costs no memory.
type FreeRegionFooter struct {
	Start  uint32 // chunk offset of the first byte of the region
	Handle uint32 // index of the region in the chunk's region table
	Flags  uint32
}

// Decommitted reports whether the region may contain decommitted pages.
func (f FreeRegionFooter) Decommitted() bool {
	return f.Flags&FreeRegionDecommitted != 0
}

// FooterOffset returns the chunk offset of the footer of a region ending at end.
func FooterOffset(end int) int {
	return end - FreeRegionFooterSize
}

// PutFreeRegionFooter writes the footer of the region ending at chunk offset end.
func PutFreeRegionFooter(b []byte, end int, f FreeRegionFooter) {
	off := FooterOffset(end)
	PutU32(b, off+footerStartOffset, f.Start)
	PutU32(b, off+footerHandleOffset, f.Handle)
	PutU32(b, off+footerFlagsOffset, f.Flags)
}

// ReadFreeRegionFooter decodes the footer of the region ending at chunk offset end.
func ReadFreeRegionFooter(b []byte, end int) FreeRegionFooter {
	off := FooterOffset(end)
	return FreeRegionFooter{
		Start:  ReadU32(b, off+footerStartOffset),
		Handle: ReadU32(b, off+footerHandleOffset),
		Flags:  ReadU32(b, off+footerFlagsOffset),
	}
}
