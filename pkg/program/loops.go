package program

import "bfrvm/pkg/errors"

// JumpTable maps every loop-start position to its matching loop-end position
// and back. Positions that are not brackets hold -1.
type JumpTable []int

// Match returns the partner of the bracket at p.
func (jt JumpTable) Match(p int) (int, bool) {
	if p < 0 || p >= len(jt) || jt[p] < 0 {
		return 0, false
	}
	return jt[p], true
}

// Resolve builds the jump table for a fused IR sequence in one left-to-right
// pass. Unbalanced brackets are reported before anything executes.
func Resolve(ops []Op) (JumpTable, error) {
	return resolve(len(ops), func(i int) Kind {
		return ops[i].Kind
	})
}

// ResolveTokens builds the jump table over raw significant tokens, as used by
// the precomputed-jump interpreter tier.
func ResolveTokens(tokens []byte) (JumpTable, error) {
	return resolve(len(tokens), func(i int) Kind {
		k, ok := KindOf(tokens[i])
		if !ok {
			return Write // any non-bracket kind
		}
		return k
	})
}

func resolve(n int, kindAt func(int) Kind) (JumpTable, error) {
	table := make(JumpTable, n)
	open := make([]int, 0, 16)
	for i := 0; i < n; i++ {
		table[i] = -1
		switch kindAt(i) {
		case LoopStart:
			open = append(open, i)
		case LoopEnd:
			if len(open) == 0 {
				return nil, errors.Errorf(errors.StageResolve, "unmatched ']' at position %d", i)
			}
			start := open[len(open)-1]
			open = open[:len(open)-1]
			table[start] = i
			table[i] = start
		}
	}
	if len(open) > 0 {
		return nil, errors.Errorf(errors.StageResolve, "unmatched '[' at position %d", open[len(open)-1])
	}
	return table, nil
}
