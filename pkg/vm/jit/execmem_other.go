//go:build !linux

package jit

import "fmt"

func allocRWX(size int) (*region, error) {
	return nil, fmt.Errorf("executable memory is only supported on linux")
}

func (r *region) release() error {
	return nil
}
