//go:build linux && amd64

package asm

// CallJITCode loads the tape register convention and calls the generated
// code at entry.
//
//	R13 <- cursor (absolute cell address)
//	R8  <- base
//	R9  <- last
//	R12 <- in
//	R10 <- out
//
// It returns the exit code left in RAX and the final cursor left in R13.
// The caller must keep the tape reachable for the duration of the call.
func CallJITCode(entry, cursor, base, last, in, out uintptr) (exit, next uintptr)
