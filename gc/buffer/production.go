//go:build !bufheapdebug

package buffer

const debugChecks = false

func assertf(bool, string, ...any) {}

func poison([]byte) {}

func poisoned([]byte) int { return -1 }
