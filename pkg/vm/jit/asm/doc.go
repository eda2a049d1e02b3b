// Package asm holds the Go assembly routine that transfers control into
// generated code. It is kept apart so the jit package stays free of .s files.
package asm
