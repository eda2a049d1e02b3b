package program

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint identifies a program by its significant tokens, so two sources
// differing only in comments share one fingerprint.
type Fingerprint [32]byte

// FingerprintOf hashes the significant tokens of src.
func FingerprintOf(src []byte) Fingerprint {
	return FingerprintTokens(Tokens(src))
}

// FingerprintTokens hashes an already stripped token stream.
func FingerprintTokens(tokens []byte) Fingerprint {
	return Fingerprint(blake2b.Sum256(tokens))
}

func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}

// Short returns the first 8 hex digits, for log lines.
func (f Fingerprint) Short() string {
	return hex.EncodeToString(f[:4])
}
