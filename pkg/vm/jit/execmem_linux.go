//go:build linux

package jit

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// allocRWX maps size bytes with read, write and execute permission. It is the
// only place the package asks the OS for executable memory.
func allocRWX(size int) (*region, error) {
	mem, err := unix.Mmap(
		-1, 0,
		size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap executable memory: %w", err)
	}
	return &region{mem: mem, base: uintptr(unsafe.Pointer(&mem[0]))}, nil
}

func (r *region) release() error {
	return unix.Munmap(r.mem)
}
