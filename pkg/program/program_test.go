package program

import (
	"strings"
	"testing"
)

func TestFingerprintIgnoresComments(t *testing.T) {
	a := FingerprintOf([]byte("+[-] clear the cell"))
	b := FingerprintOf([]byte("+\n[\n-\n]"))
	if a != b {
		t.Errorf("fingerprints differ: %s vs %s", a, b)
	}
	if a == FingerprintOf([]byte("+[+]")) {
		t.Error("different programs share a fingerprint")
	}
	if len(a.String()) != 64 || len(a.Short()) != 8 {
		t.Errorf("unexpected hex lengths %d/%d", len(a.String()), len(a.Short()))
	}
}

func TestCompile(t *testing.T) {
	p, err := Compile([]byte("++ [>+<-] ."))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if string(p.Tokens) != "++[>+<-]." {
		t.Errorf("Tokens = %q", p.Tokens)
	}
	if len(p.Loops) != len(p.Ops) || len(p.TokenLoops) != len(p.Tokens) {
		t.Error("jump tables do not cover their sequences")
	}
	if q, _ := p.Loops.Match(1); p.Ops[q].Kind != LoopEnd {
		t.Errorf("fused loop start matched %v", p.Ops[q])
	}

	if _, err := Compile([]byte("[")); err == nil {
		t.Error("Compile accepted an unmatched bracket")
	}
}

func TestLoadCaches(t *testing.T) {
	first, err := Load([]byte("+>+<"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	again, err := Load([]byte("+>+<"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if first != again {
		t.Error("Load did not reuse the cached program for the same source")
	}
	commented, err := Load([]byte("+ > + < with a comment"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if commented.Fingerprint != first.Fingerprint {
		t.Error("equivalent sources got different fingerprints")
	}
	if string(commented.Source) != "+ > + < with a comment" {
		t.Errorf("Source = %q, want the caller's text", commented.Source)
	}
}

func TestLoadCacheIsBounded(t *testing.T) {
	for i := 0; i < MaxCachedPrograms+16; i++ {
		src := []byte(strings.Repeat("+", i+1) + ".")
		p, err := Load(src)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if string(p.Source) != string(src) {
			t.Fatalf("Load(%d) returned a program for %q", i, p.Source)
		}
	}
	programCacheMu.RLock()
	n := len(programCache)
	programCacheMu.RUnlock()
	if n > MaxCachedPrograms {
		t.Errorf("cache holds %d programs, limit is %d", n, MaxCachedPrograms)
	}
}
