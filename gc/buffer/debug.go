//go:build bufheapdebug

package buffer

import "fmt"

const debugChecks = true

func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("buffer: "+format, args...))
	}
}

func poison(b []byte) {
	for i := range b {
		b[i] = poisonByte
	}
}

// poisoned returns the offset of the first byte of b that is not poison, or -1.
func poisoned(b []byte) int {
	for i, v := range b {
		if v != poisonByte {
			return i
		}
	}
	return -1
}
