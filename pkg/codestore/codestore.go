// Package codestore persists assembled code blocks so that a later process
// can skip code generation for programs it has already translated.
package codestore

import (
	"bytes"
	stderrors "errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"
	"github.com/tliron/commonlog"
	"golang.org/x/crypto/blake2b"

	"bfrvm/pkg/errors"
	"bfrvm/pkg/program"
	"bfrvm/pkg/vm/jit"
)

var log = commonlog.GetLogger("bfrvm.codestore")

var keyPrefix = []byte("code/")

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codestore: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// record is the stored form of one translation.
type record struct {
	Backend string   `cbor:"1,keyasint"`
	Version int      `cbor:"2,keyasint"`
	Code    []byte   `cbor:"3,keyasint"`
	Entry   int      `cbor:"4,keyasint"`
	Digest  [32]byte `cbor:"5,keyasint"` // blake2b-256 of Code
}

// PebbleStore implements jit.Store on a pebble database.
type PebbleStore struct {
	db *pebble.DB
}

var _ jit.Store = (*PebbleStore)(nil)

// Open opens or creates the store at path.
func Open(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(errors.StageStore, err, fmt.Sprintf("opening %s", path))
	}
	return &PebbleStore{db: db}, nil
}

// Key returns the database key for a translation: backend, codegen version
// and program fingerprint.
func Key(backend string, version int, fp program.Fingerprint) []byte {
	k := make([]byte, 0, len(keyPrefix)+len(backend)+8+len(fp))
	k = append(k, keyPrefix...)
	k = append(k, backend...)
	k = fmt.Appendf(k, "/v%d/", version)
	return append(k, fp[:]...)
}

// Load returns the stored translation, or nil if there is none.
func (s *PebbleStore) Load(backend string, version int, fp program.Fingerprint) (*jit.Translation, error) {
	value, closer, err := s.db.Get(Key(backend, version, fp))
	if stderrors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.StageStore, err, "reading translation")
	}
	defer closer.Close()

	var r record
	if err := cbor.Unmarshal(value, &r); err != nil {
		return nil, errors.Wrap(errors.StageStore, err, fmt.Sprintf("decoding translation %s", fp.Short()))
	}
	if r.Backend != backend || r.Version != version {
		return nil, errors.Errorf(errors.StageStore, "translation %s was written by %s v%d", fp.Short(), r.Backend, r.Version)
	}
	if sum := blake2b.Sum256(r.Code); !bytes.Equal(sum[:], r.Digest[:]) {
		return nil, errors.Errorf(errors.StageStore, "translation %s is corrupt", fp.Short())
	}
	if len(r.Code) == 0 || r.Entry < 0 || r.Entry >= len(r.Code) {
		return nil, errors.Errorf(errors.StageStore, "translation %s has entry %d in %d bytes", fp.Short(), r.Entry, len(r.Code))
	}
	return &jit.Translation{Code: r.Code, Entry: r.Entry}, nil
}

// Save stores t durably.
func (s *PebbleStore) Save(backend string, version int, fp program.Fingerprint, t *jit.Translation) error {
	data, err := cborEncMode.Marshal(record{
		Backend: backend,
		Version: version,
		Code:    t.Code,
		Entry:   t.Entry,
		Digest:  blake2b.Sum256(t.Code),
	})
	if err != nil {
		return errors.Wrap(errors.StageStore, err, "encoding translation")
	}
	if err := s.db.Set(Key(backend, version, fp), data, pebble.Sync); err != nil {
		return errors.Wrap(errors.StageStore, err, "writing translation")
	}
	log.Debugf("saved %s (%s v%d, %d bytes)", fp.Short(), backend, version, len(t.Code))
	return nil
}

// Count returns the number of stored translations.
func (s *PebbleStore) Count() (int, error) {
	upper := append([]byte(nil), keyPrefix...)
	upper[len(upper)-1]++
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: keyPrefix, UpperBound: upper})
	if err != nil {
		return 0, errors.Wrap(errors.StageStore, err, "iterating translations")
	}
	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, errors.Wrap(errors.StageStore, err, "iterating translations")
	}
	return n, nil
}

// Close closes the database
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
