package format

// SmallHeader is the header word prefixing each small buffer.
type SmallHeader struct {
	Flags uint32
	Size  uint32 // cell size, header included
}

// NurseryOwned reports whether the small buffer's owner is in the nursery.
func (h SmallHeader) NurseryOwned() bool {
	return h.Flags&SmallNurseryOwned != 0
}

// PutSmallHeader writes h at the start of cell memory b.
func PutSmallHeader(b []byte, h SmallHeader) {
	PutU32(b, smallFlagsOffset, h.Flags)
	PutU32(b, smallSizeOffset, h.Size)
}

// ReadSmallHeader decodes the header word at the start of cell memory b.
func ReadSmallHeader(b []byte) SmallHeader {
	return SmallHeader{
		Flags: ReadU32(b, smallFlagsOffset),
		Size:  ReadU32(b, smallSizeOffset),
	}
}
