package program

import "sync"

// Program is a decoded, loop-resolved guest program. All interpreter tiers
// and the code generator read from the same Program; it is immutable once
// built.
type Program struct {
	Source      []byte
	Tokens      []byte    // significant symbols only
	TokenLoops  JumpTable // over Tokens
	Ops         []Op      // fused IR
	Loops       JumpTable // over Ops
	Fingerprint Fingerprint
}

// MaxCachedPrograms bounds the process-wide cache used by Load. Sources seen
// after the cache is full are compiled on every call.
const MaxCachedPrograms = 1024

var (
	programCache   = make(map[string]*Program) // by source text
	programCacheMu sync.RWMutex
)

// Compile decodes src and resolves its loops. Any bracket imbalance is
// returned as a resolve-stage error.
func Compile(src []byte) (*Program, error) {
	tokens := Tokens(src)
	tokenLoops, err := ResolveTokens(tokens)
	if err != nil {
		return nil, err
	}
	ops := Fuse(tokens)
	loops, err := Resolve(ops)
	if err != nil {
		return nil, err
	}
	return &Program{
		Source:      src,
		Tokens:      tokens,
		TokenLoops:  tokenLoops,
		Ops:         ops,
		Loops:       loops,
		Fingerprint: FingerprintTokens(tokens),
	}, nil
}

// Load is Compile with a process-wide cache keyed by source text, so a hit
// costs one map lookup. The cache holds at most MaxCachedPrograms entries and
// is never evicted; long-lived embedders compiling many distinct programs
// should call Compile directly.
func Load(src []byte) (*Program, error) {
	programCacheMu.RLock()
	cached, ok := programCache[string(src)]
	programCacheMu.RUnlock()
	if ok {
		return cached, nil
	}

	p, err := Compile(src)
	if err != nil {
		return nil, err
	}

	programCacheMu.Lock()
	if existing, ok := programCache[string(src)]; ok {
		p = existing
	} else if len(programCache) < MaxCachedPrograms {
		programCache[string(src)] = p
	}
	programCacheMu.Unlock()
	return p, nil
}
