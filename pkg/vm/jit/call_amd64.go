//go:build linux && amd64

package jit

import (
	"runtime"
	"unsafe"

	"bfrvm/pkg/vm/jit/asm"
)

// Supported reports whether generated code can run on this platform.
const Supported = true

// invoke runs the code at entry against cells with the cursor at index
// cursor, returning the exit code and the final cursor index.
func invoke(entry uintptr, cells []byte, cursor int, in, out uintptr) (uintptr, int) {
	base := uintptr(unsafe.Pointer(&cells[0]))
	last := base + uintptr(len(cells)-1)
	exit, next := asm.CallJITCode(entry, base+uintptr(cursor), base, last, in, out)
	runtime.KeepAlive(cells)
	return exit, int(next - base)
}
