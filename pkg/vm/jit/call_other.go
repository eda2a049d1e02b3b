//go:build !linux || !amd64

package jit

// Supported reports whether generated code can run on this platform.
const Supported = false

func invoke(entry uintptr, cells []byte, cursor int, in, out uintptr) (uintptr, int) {
	panic("jit: generated code cannot run on this platform")
}
