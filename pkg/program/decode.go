package program

import (
	"bufio"
	"io"

	"bfrvm/pkg/errors"
)

// Decode scans source text from r and returns its fused IR. It fails only
// when r itself cannot be read; characters outside the eight symbols are
// comments and are skipped.
func Decode(r io.Reader) ([]Op, error) {
	br := bufio.NewReader(r)
	f := fuser{}
	for {
		c, err := br.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(errors.StageDecode, err, "reading source")
		}
		f.feed(c)
	}
	return f.finish(), nil
}

// Fuse returns the fused IR of an in-memory source. It cannot fail.
func Fuse(src []byte) []Op {
	f := fuser{ops: make([]Op, 0, len(src)/2)}
	for _, c := range src {
		f.feed(c)
	}
	return f.finish()
}

// Tokens strips comments, returning only significant symbols in order.
func Tokens(src []byte) []byte {
	tokens := make([]byte, 0, len(src))
	for _, c := range src {
		if IsSymbol(c) {
			tokens = append(tokens, c)
		}
	}
	return tokens
}

// fuser accumulates runs of identical fusable symbols.
type fuser struct {
	ops     []Op
	run     Kind
	runLen  int
	running bool
}

func (f *fuser) feed(c byte) {
	k, ok := KindOf(c)
	if !ok {
		return
	}
	if f.running && k == f.run {
		f.runLen++
		return
	}
	f.flush()
	if k.Fusable() {
		f.run, f.runLen, f.running = k, 1, true
		return
	}
	f.ops = append(f.ops, Op{Kind: k, N: 1})
}

func (f *fuser) flush() {
	if !f.running {
		return
	}
	f.running = false
	n := f.runLen
	if f.run == Increment || f.run == Decrement {
		n %= 256
		if n == 0 {
			// A multiple of 256 leaves the cell unchanged.
			return
		}
	}
	f.ops = append(f.ops, Op{Kind: f.run, N: n})
}

func (f *fuser) finish() []Op {
	f.flush()
	if len(f.ops) == 0 {
		return nil
	}
	return f.ops
}
