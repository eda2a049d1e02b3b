package jit

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/singleflight"

	"bfrvm/pkg/errors"
	"bfrvm/pkg/program"
	"bfrvm/pkg/tape"
)

var log = commonlog.GetLogger("bfrvm.jit")

// Translation is an assembled code block ready to be copied into the arena.
type Translation struct {
	Code  []byte
	Entry int
}

// Store persists translations across processes. Load returns nil, nil on a
// miss. A Load error is treated as a miss.
type Store interface {
	Load(backend string, version int, fp program.Fingerprint) (*Translation, error)
	Save(backend string, version int, fp program.Fingerprint, t *Translation) error
}

// Stats is a snapshot of runtime counters.
type Stats struct {
	Blocks        int
	ArenaUsed     int
	ArenaCapacity int
	Compiles      uint64 // programs run through Generate and a Backend
	StoreHits     uint64 // translations taken from the Store
	CacheHits     uint64 // lookups that found a published block
}

// Runtime ties a Cache to a Backend, an optional Store and the guest address
// loader. It is safe for concurrent use by any number of sessions.
type Runtime struct {
	cache   *Cache
	backend Backend
	store   Store

	addrs    sync.Map // program.Fingerprint -> uint64
	nextAddr atomic.Uint64
	inflight singleflight.Group

	compiles  atomic.Uint64
	storeHits atomic.Uint64
	cacheHits atomic.Uint64
}

type Option func(*Runtime)

// WithBackend selects the assembler backend. The default is NativeBackend.
func WithBackend(b Backend) Option {
	return func(r *Runtime) { r.backend = b }
}

// WithStore enables persistent translations.
func WithStore(s Store) Option {
	return func(r *Runtime) { r.store = s }
}

// NewRuntime creates a runtime publishing into cache.
func NewRuntime(cache *Cache, opts ...Option) *Runtime {
	r := &Runtime{
		cache:   cache,
		backend: NativeBackend{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cache returns the underlying cache.
func (r *Runtime) Cache() *Cache {
	return r.cache
}

// Backend returns the assembler backend in use.
func (r *Runtime) Backend() Backend {
	return r.backend
}

// AddressOf returns the guest address assigned to p, assigning the next free
// slot the first time a fingerprint is seen. Every distinct program gets its
// own slot so that programs sharing a cache never alias.
func (r *Runtime) AddressOf(p *program.Program) (uint64, error) {
	if v, ok := r.addrs.Load(p.Fingerprint); ok {
		return v.(uint64), nil
	}
	addr := r.nextAddr.Add(SlotWidth) - SlotWidth
	if addr >= r.cache.MaxGuestAddress() {
		return 0, errors.Errorf(errors.StageAllocate, "guest address space exhausted at %#x", r.cache.MaxGuestAddress())
	}
	// Losing the race wastes one slot; the winner's address is used by all.
	v, _ := r.addrs.LoadOrStore(p.Fingerprint, addr)
	return v.(uint64), nil
}

// Ensure returns the native entry for addr, translating p and publishing the
// result on a miss. compiled is true when this call did the translation.
func (r *Runtime) Ensure(addr uint64, p *program.Program) (native uintptr, compiled bool, err error) {
	if native, ok := r.cache.Lookup(addr); ok {
		r.cacheHits.Add(1)
		return native, false, nil
	}

	v, err, _ := r.inflight.Do(fmt.Sprint(addr), func() (interface{}, error) {
		if native, ok := r.cache.Lookup(addr); ok {
			return native, nil
		}
		t, err := r.translate(p)
		if err != nil {
			return nil, err
		}
		native, err := r.cache.InsertEntry(addr, t.Code, t.Entry)
		if err != nil {
			return nil, err
		}
		compiled = true
		log.Debugf("published %s at guest %#x: %d bytes at %#x", p.Fingerprint.Short(), addr, len(t.Code), native)
		return native, nil
	})
	if err != nil {
		return 0, false, err
	}
	return v.(uintptr), compiled, nil
}

// Translate generates and assembles p without publishing it.
func (r *Runtime) Translate(p *program.Program) (*Translation, error) {
	return r.translate(p)
}

func (r *Runtime) translate(p *program.Program) (*Translation, error) {
	name := r.backend.Name()
	if r.store != nil {
		t, err := r.store.Load(name, CodegenVersion, p.Fingerprint)
		if err != nil {
			// The fresh translation below overwrites the bad record.
			log.Warningf("ignoring stored translation %s: %s", p.Fingerprint.Short(), err)
		} else if t != nil {
			r.storeHits.Add(1)
			log.Debugf("store hit for %s (%s)", p.Fingerprint.Short(), name)
			return t, nil
		}
	}

	start := time.Now()
	listing, err := Generate(p.Ops, p.Loops)
	if err != nil {
		return nil, err
	}
	code, entry, err := r.backend.Assemble(listing)
	if err != nil {
		return nil, errors.Wrap(errors.StageAssemble, err, fmt.Sprintf("%s backend failed", name))
	}
	r.compiles.Add(1)
	t := &Translation{Code: code, Entry: entry}
	log.Debugf("compiled %s with %s: %d ops, %d bytes in %s", p.Fingerprint.Short(), name, len(p.Ops), len(code), time.Since(start))

	if r.store != nil {
		if err := r.store.Save(name, CodegenVersion, p.Fingerprint, t); err != nil {
			log.Warningf("could not persist translation %s: %s", p.Fingerprint.Short(), err)
		}
	}
	return t, nil
}

// Call runs the code at native against t using file descriptors in and out
// for byte I/O. It returns true on normal completion and false on a bounds
// exit; t.Cursor is updated either way. An I/O failure inside generated code
// is returned as an io-stage error.
func (r *Runtime) Call(native uintptr, t *tape.Tape, in, out uintptr) (bool, error) {
	if !Supported {
		return false, errors.Errorf(errors.StageExecute, "generated code cannot run on this platform")
	}
	exit, cursor := invoke(native, t.Cells, t.Cursor, in, out)
	t.Cursor = cursor
	switch exit {
	case ExitCodeCompleted:
		return true, nil
	case ExitCodeBounds:
		return false, nil
	case ExitCodeIO:
		return false, errors.Errorf(errors.StageIO, "byte transfer failed at cell %d", cursor)
	default:
		return false, errors.Errorf(errors.StageExecute, "generated code returned unknown exit code %d", exit)
	}
}

// Stats returns a snapshot of the runtime counters.
func (r *Runtime) Stats() Stats {
	return Stats{
		Blocks:        r.cache.Blocks(),
		ArenaUsed:     r.cache.Used(),
		ArenaCapacity: r.cache.Capacity(),
		Compiles:      r.compiles.Load(),
		StoreHits:     r.storeHits.Load(),
		CacheHits:     r.cacheHits.Load(),
	}
}
